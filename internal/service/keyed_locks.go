package service

import "sync"

// keyedLocks hands out one mutex per key.  Entries are reference counted
// and dropped when no goroutine holds or waits on them.
type keyedLocks[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocks[K comparable]() *keyedLocks[K] {
	return &keyedLocks[K]{locks: make(map[K]*keyedLock)}
}

// lock acquires the mutex of key and returns its release function.
func (l *keyedLocks[K]) lock(key K) func() {
	l.mu.Lock()
	el, ok := l.locks[key]
	if !ok {
		el = &keyedLock{}
		l.locks[key] = el
	}
	el.refs++
	l.mu.Unlock()

	el.Lock()
	return func() {
		el.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
