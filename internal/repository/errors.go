// Package repository defines the MySQL ledger used by the seat lock
// manager and the admission controller, together with error values that
// are reused across repositories. These sentinel values allow higher
// layers to distinguish between different failure scenarios: a missing
// row, a lost optimistic-concurrency race, or a counter that refused to
// move past its bounds.
package repository

import "errors"

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a seat update presents a version
// that no longer matches the stored row.
var ErrVersionConflict = errors.New("version conflict")

// ErrStaleStatus is returned when a conditional status transition finds
// the row in a different status than expected.
var ErrStaleStatus = errors.New("status changed concurrently")

// ErrSoldOut is returned when a conditional decrement of a schedule's
// available counter would take it below zero.
var ErrSoldOut = errors.New("sold out")

// ErrCounterOverflow is returned when an increment of a schedule's
// available counter would take it above the schedule's total seats.
var ErrCounterOverflow = errors.New("available counter would exceed total seats")

// ErrConflict is returned when an insert or update cannot be performed
// because of conflicting state, such as a duplicate token.
var ErrConflict = errors.New("conflict")
