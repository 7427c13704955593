// Package lockbridge is the shared, TTL-capable key-value contract used for
// short lived mutual exclusion across process instances: per-seat lock
// keys, per-event active session counters, per-user heartbeats and
// per-user admission guards.  Every operation is a single atomic step at
// the store; callers never read and then write.
package lockbridge

import (
	"context"
	"strconv"
	"time"
)

// Store is implemented by RedisStore in production and MemoryStore in
// tests and single-process deployments.
type Store interface {
	// SetIfAbsent stores value under key with ttl only when key is absent.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Set stores value under key unconditionally.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete removes key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// DeleteIfValue removes key only while it still holds value.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
	// Increment adds one to the integer at key.
	Increment(ctx context.Context, key string) (int64, error)
	// Decrement subtracts one from the integer at key.
	Decrement(ctx context.Context, key string) (int64, error)
	// Expire sets a ttl on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// IncrementBelow adds one to the counter at key when the result stays
	// at or below max, refreshing ttl.  Returns the resulting value and
	// whether the increment happened.
	IncrementBelow(ctx context.Context, key string, max int64, ttl time.Duration) (int64, bool, error)
	// DecrementFloor subtracts one from the counter at key without going
	// below zero, refreshing ttl.
	DecrementFloor(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// SeatLockKey is the lock key of one seat.
func SeatLockKey(seatID uint64) string {
	return "seat_lock:" + strconv.FormatUint(seatID, 10)
}

// ActiveCounterKey is the active session counter key of one event.
func ActiveCounterKey(eventID uint64) string {
	return "active_tokens:" + strconv.FormatUint(eventID, 10)
}

// HeartbeatKey is the keep-alive key of one user in one event queue.
func HeartbeatKey(userID string, eventID uint64) string {
	return "heartbeat:" + userID + ":" + strconv.FormatUint(eventID, 10)
}

// AdmissionKey serializes admission requests of one user for one event
// across process instances.
func AdmissionKey(userID string, eventID uint64) string {
	return "admission:" + userID + ":" + strconv.FormatUint(eventID, 10)
}
