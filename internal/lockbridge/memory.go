package lockbridge

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value    string
	deadline time.Time // zero means no expiry
}

// MemoryStore is an in-process Store.  A single mutex makes every
// operation atomic; expired keys are dropped lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]memEntry
	now  func() time.Time
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memEntry), now: time.Now}
}

// WithClock replaces the store's clock; used by tests that travel in time.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// lookup returns the live entry for key; callers hold mu.
func (s *MemoryStore) lookup(key string) (memEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.deadline.IsZero() && !s.now().Before(e.deadline) {
		delete(s.data, key)
		return memEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.data[key] = memEntry{value: value, deadline: s.deadline(ttl)}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memEntry{value: value, deadline: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	return e.value, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	delete(s.data, key)
	return ok, nil
}

func (s *MemoryStore) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok || e.value != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

// add applies delta to the integer at key keeping its ttl; callers hold mu.
func (s *MemoryStore) add(key string, delta int64) (int64, error) {
	e, _ := s.lookup(key)
	var n int64
	if e.value != "" {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = v
	}
	n += delta
	e.value = strconv.FormatInt(n, 10)
	s.data[key] = e
	return n, nil
}

func (s *MemoryStore) Increment(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(key, 1)
}

func (s *MemoryStore) Decrement(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(key, -1)
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	e.deadline = s.deadline(ttl)
	s.data[key] = e
	return true, nil
}

func (s *MemoryStore) IncrementBelow(_ context.Context, key string, max int64, ttl time.Duration) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.add(key, 0)
	if err != nil {
		return 0, false, err
	}
	if current+1 > max {
		return current, false, nil
	}
	n, err := s.add(key, 1)
	if err != nil {
		return 0, false, err
	}
	e := s.data[key]
	e.deadline = s.deadline(ttl)
	s.data[key] = e
	return n, true, nil
}

func (s *MemoryStore) DecrementFloor(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.add(key, 0)
	if err != nil {
		return 0, err
	}
	n := current - 1
	if n < 0 {
		n = 0
	}
	s.data[key] = memEntry{value: strconv.FormatInt(n, 10), deadline: s.deadline(ttl)}
	return n, nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	return ok, nil
}
