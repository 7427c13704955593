package service

import "errors"

// Errors returned by the seat lock manager and the admission controller.
// Handlers translate them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrPartiallyMissing = errors.New("some requested seats do not exist")
	ErrMixedSchedules   = errors.New("seats belong to different schedules")
	ErrConflict         = errors.New("concurrent modification")
	ErrLockContention   = errors.New("seat lock held by a concurrent request")
	ErrAlreadyBooked    = errors.New("seat already booked")
	ErrHeldByOther      = errors.New("seat held by another user")
	ErrSoldOut          = errors.New("no seats left")
	ErrQueueFull        = errors.New("no admission slot available")
	ErrNotYourTurn      = errors.New("earlier queue entries are still waiting")
	ErrExpired          = errors.New("hold or token expired")
	ErrUnauthorized     = errors.New("not owned by caller")
	ErrInvalidState     = errors.New("token not in a valid state for this operation")
)
