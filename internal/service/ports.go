// Package service holds the seat lock manager and the queue admission
// controller.  Both depend only on the narrow store interfaces below, which
// the MySQL repositories and the in-memory ledger implement, plus a
// lockbridge.Store for cross-process coordination.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/ticketing-reservation/internal/model"
)

// SeatStore is the seat side of the ledger.
type SeatStore interface {
	GetByIDs(ctx context.Context, ids []uint64) ([]model.Seat, error)
	ResolveSelectors(ctx context.Context, scheduleID uint64, selectors []model.SeatSelector) ([]uint64, error)
	UpdateStatus(ctx context.Context, seatID, version uint64, status model.SeatStatus) (uint64, error)
	ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.Seat, error)
	CountByStatus(ctx context.Context, scheduleID uint64) (model.SeatCounts, error)
}

// HoldStore persists seat holds.
type HoldStore interface {
	ActiveForSeat(ctx context.Context, seatID uint64) (model.Hold, error)
	Create(ctx context.Context, h *model.Hold) error
	Extend(ctx context.Context, holdID uint64, expiresAt time.Time) error
	Transition(ctx context.Context, holdID uint64, from, to model.HoldStatus) error
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Hold, error)
	ListActiveByUser(ctx context.Context, userID string) ([]model.Hold, error)
	ExpiredForSeats(ctx context.Context, seatIDs []uint64, now time.Time) ([]model.Hold, error)
}

// ScheduleStore owns the per-schedule available counter.
type ScheduleStore interface {
	Get(ctx context.Context, id uint64) (model.Schedule, error)
	DecrementAvailable(ctx context.Context, id uint64, n int) error
	IncrementAvailable(ctx context.Context, id uint64, n int) error
}

// TokenStore persists admission tokens.
type TokenStore interface {
	Create(ctx context.Context, t *model.AdmissionToken) error
	FindByToken(ctx context.Context, token string) (model.AdmissionToken, error)
	FindLive(ctx context.Context, userID string, eventID uint64) (model.AdmissionToken, error)
	ListLiveByUser(ctx context.Context, userID string) ([]model.AdmissionToken, error)
	CountWaitingBefore(ctx context.Context, eventID uint64, issuedAt time.Time, id uint64) (int, error)
	CountByStatus(ctx context.Context, eventID uint64, status model.TokenStatus) (int, error)
	ListWaiting(ctx context.Context, eventID uint64, limit int) ([]model.AdmissionToken, error)
	Transition(ctx context.Context, id uint64, from, to model.TokenStatus, bookingExpiresAt *time.Time) error
	UpdatePosition(ctx context.Context, id uint64, position, waitSeconds int) error
	ListActive(ctx context.Context, afterID uint64, limit int) ([]model.AdmissionToken, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.AdmissionToken, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
