package repository

import (
	"context"      // context for controlling query lifetime
	"database/sql" // sql provides DB abstraction
	"errors"

	"github.com/iliyamo/ticketing-reservation/internal/model"
)

// ScheduleRepo manages the schedules table and its denormalized
// available_seats counter.  Counter updates are single conditional
// statements so concurrent writers can never drive the counter outside
// [0, total_seats].
type ScheduleRepo struct {
	db *sql.DB
}

// NewScheduleRepo returns a ScheduleRepo bound to db.
func NewScheduleRepo(db *sql.DB) *ScheduleRepo { return &ScheduleRepo{db: db} }

// Get loads a schedule by id.  Returns ErrNotFound if absent.
func (r *ScheduleRepo) Get(ctx context.Context, id uint64) (model.Schedule, error) {
	const q = `SELECT id, event_id, total_seats, available_seats, status, created_at, updated_at
	           FROM schedules WHERE id = ?`
	var s model.Schedule
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.ID, &s.EventID, &s.TotalSeats, &s.AvailableSeats, &s.Status, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	return s, err
}

// DecrementAvailable subtracts n from the available counter only when at
// least n seats remain.  Zero affected rows means the schedule is sold
// out (or missing) and ErrSoldOut is returned.
func (r *ScheduleRepo) DecrementAvailable(ctx context.Context, id uint64, n int) error {
	if n <= 0 {
		return nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET available_seats = available_seats - ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND available_seats >= ?`,
		n, id, n)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSoldOut
	}
	return nil
}

// IncrementAvailable adds n to the available counter, refusing to exceed
// total_seats.  ErrCounterOverflow means the counter was already at (or
// near) capacity, which points at a double release.
func (r *ScheduleRepo) IncrementAvailable(ctx context.Context, id uint64, n int) error {
	if n <= 0 {
		return nil
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE schedules SET available_seats = available_seats + ?, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND available_seats + ? <= total_seats`,
		n, id, n)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrCounterOverflow
	}
	return nil
}
