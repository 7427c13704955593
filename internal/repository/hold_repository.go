package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/ticketing-reservation/internal/model"
)

const holdColumns = `id, seat_id, schedule_id, user_id, session_id, status, expires_at, created_at, updated_at`

// HoldRepo provides data access to the seat_holds table.  Holds are never
// deleted; they move ACTIVE -> RELEASED | EXPIRED through Transition, which
// is conditional on the current status so that two releasers cannot both
// succeed.  All timestamps are UTC.
type HoldRepo struct {
	db *sql.DB
}

// NewHoldRepo returns a new HoldRepo bound to the provided database.
func NewHoldRepo(db *sql.DB) *HoldRepo { return &HoldRepo{db: db} }

func scanHold(sc interface{ Scan(...any) error }) (model.Hold, error) {
	var h model.Hold
	var status string
	err := sc.Scan(&h.ID, &h.SeatID, &h.ScheduleID, &h.UserID, &h.SessionID, &status, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt)
	h.Status = model.HoldStatus(status)
	return h, err
}

func collectHolds(rows *sql.Rows) ([]model.Hold, error) {
	defer rows.Close()
	var holds []model.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

// ActiveForSeat returns the newest ACTIVE hold of a seat, expired or not.
// Returns ErrNotFound when the seat has no ACTIVE hold.
func (r *HoldRepo) ActiveForSeat(ctx context.Context, seatID uint64) (model.Hold, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM seat_holds WHERE seat_id = ? AND status = 'ACTIVE' ORDER BY id DESC LIMIT 1`,
		seatID)
	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Hold{}, ErrNotFound
	}
	return h, err
}

// Create inserts an ACTIVE hold and populates its ID.
func (r *HoldRepo) Create(ctx context.Context, h *model.Hold) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO seat_holds (seat_id, schedule_id, user_id, session_id, status, expires_at)
		 VALUES (?, ?, ?, ?, 'ACTIVE', ?)`,
		h.SeatID, h.ScheduleID, h.UserID, h.SessionID, h.ExpiresAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = uint64(id)
	h.Status = model.HoldActive
	return nil
}

// Extend moves the expiry of a still ACTIVE hold.
func (r *HoldRepo) Extend(ctx context.Context, holdID uint64, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seat_holds SET expires_at = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = 'ACTIVE'`,
		expiresAt.UTC(), holdID)
	return expectOneRow(res, err)
}

// Transition changes a hold's status from `from` to `to`.  ErrStaleStatus
// means the hold was no longer in `from`.
func (r *HoldRepo) Transition(ctx context.Context, holdID uint64, from, to model.HoldStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE seat_holds SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?`,
		string(to), holdID, string(from))
	return expectOneRow(res, err)
}

// ListExpired returns up to limit ACTIVE holds whose expiry is before now,
// oldest first.
func (r *HoldRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Hold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM seat_holds WHERE status = 'ACTIVE' AND expires_at < ? ORDER BY expires_at, id LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectHolds(rows)
}

// ListActiveByUser returns every ACTIVE hold of userID, expired or not,
// oldest first.
func (r *HoldRepo) ListActiveByUser(ctx context.Context, userID string) ([]model.Hold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM seat_holds WHERE user_id = ? AND status = 'ACTIVE' ORDER BY id`,
		userID)
	if err != nil {
		return nil, err
	}
	return collectHolds(rows)
}

// ExpiredForSeats returns the ACTIVE holds on the given seats whose expiry
// is before now.
func (r *HoldRepo) ExpiredForSeats(ctx context.Context, seatIDs []uint64, now time.Time) ([]model.Hold, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seatIDs)), ",")
	args := make([]interface{}, 0, len(seatIDs)+1)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	args = append(args, now.UTC())
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM seat_holds WHERE seat_id IN (`+placeholders+`) AND status = 'ACTIVE' AND expires_at < ?`,
		args...)
	if err != nil {
		return nil, err
	}
	return collectHolds(rows)
}

// expectOneRow turns "no row matched the conditional update" into
// ErrStaleStatus.
func expectOneRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleStatus
	}
	return nil
}
