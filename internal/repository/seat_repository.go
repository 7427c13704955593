package repository // repository defines data access for schedule seats

import (
	"context"      // context allows query cancellation and timeouts
	"database/sql" // sql provides DB primitives
	"errors"
	"strings"

	"github.com/iliyamo/ticketing-reservation/internal/model"
)

const seatColumns = `id, schedule_id, grade, zone, row_label, col_num, status, price, version, created_at, updated_at`

// SeatRepo provides access to the schedule_seats table.  Status writes go
// through UpdateStatus, which enforces the optimistic version check.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

func scanSeat(sc interface{ Scan(...any) error }) (model.Seat, error) {
	var s model.Seat
	var status string
	err := sc.Scan(&s.ID, &s.ScheduleID, &s.Grade, &s.Zone, &s.RowLabel, &s.ColNum, &status, &s.Price, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	s.Status = model.SeatStatus(status)
	return s, err
}

// GetByIDs loads the seats with the given ids.  Missing ids are simply
// absent from the result; callers compare lengths to detect them.
func (r *SeatRepo) GetByIDs(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	if len(ids) == 0 {
		return []model.Seat{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seatColumns+` FROM schedule_seats WHERE id IN (`+placeholders+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := make([]model.Seat, 0, len(ids))
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// ResolveSelectors maps zone/row/column selectors of one schedule to seat
// ids, preserving the selector order.  A selector with a grade only
// matches a seat of that grade.  Returns ErrNotFound when any selector
// matches no seat.
func (r *SeatRepo) ResolveSelectors(ctx context.Context, scheduleID uint64, selectors []model.SeatSelector) ([]uint64, error) {
	const q = `SELECT id FROM schedule_seats
	           WHERE schedule_id = ? AND zone = ? AND row_label = ? AND col_num = ? AND (? = '' OR grade = ?)`
	ids := make([]uint64, 0, len(selectors))
	for _, sel := range selectors {
		var id uint64
		err := r.db.QueryRowContext(ctx, q, scheduleID, sel.Zone, sel.RowLabel, sel.ColNum, sel.Grade, sel.Grade).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// UpdateStatus writes a new status for a seat if, and only if, the stored
// version still equals version.  On success it returns the new version.
// ErrVersionConflict signals that another writer got there first.
func (r *SeatRepo) UpdateStatus(ctx context.Context, seatID, version uint64, status model.SeatStatus) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE schedule_seats SET status = ?, version = version + 1, updated_at = UTC_TIMESTAMP()
		 WHERE id = ? AND version = ?`,
		string(status), seatID, version)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return version + 1, nil
}

// ListBySchedule returns every seat of a schedule ordered by zone, row and
// column.
func (r *SeatRepo) ListBySchedule(ctx context.Context, scheduleID uint64) ([]model.Seat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seatColumns+` FROM schedule_seats WHERE schedule_id = ? ORDER BY zone, row_label, col_num`,
		scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []model.Seat
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// CountByStatus scans the seats of a schedule and counts them per status.
func (r *SeatRepo) CountByStatus(ctx context.Context, scheduleID uint64) (model.SeatCounts, error) {
	var counts model.SeatCounts
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM schedule_seats WHERE schedule_id = ? GROUP BY status`,
		scheduleID)
	if err != nil {
		return counts, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}
		switch model.SeatStatus(status) {
		case model.SeatAvailable:
			counts.Available = n
		case model.SeatLocked:
			counts.Locked = n
		case model.SeatBooked:
			counts.Booked = n
		}
	}
	return counts, rows.Err()
}
