package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/ticketing-reservation/internal/model"
)

const tokenColumns = `id, token, user_id, event_id, status, issued_at, expires_at, booking_expires_at,
	position_in_queue, estimated_wait_seconds, created_at, updated_at`

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// TokenRepo persists admission (queue) tokens.  FIFO order within an event
// is (issued_at, id); issued_at carries microseconds.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

func scanToken(sc interface{ Scan(...any) error }) (model.AdmissionToken, error) {
	var (
		t       model.AdmissionToken
		status  string
		booking sql.NullTime
	)
	err := sc.Scan(&t.ID, &t.Token, &t.UserID, &t.EventID, &status, &t.IssuedAt, &t.ExpiresAt, &booking,
		&t.Position, &t.EstimatedWait, &t.CreatedAt, &t.UpdatedAt)
	t.Status = model.TokenStatus(status)
	if booking.Valid {
		b := booking.Time
		t.BookingExpiresAt = &b
	}
	return t, err
}

func (r *TokenRepo) queryTokens(ctx context.Context, q string, args ...any) ([]model.AdmissionToken, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AdmissionToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TokenRepo) queryToken(ctx context.Context, q string, args ...any) (model.AdmissionToken, error) {
	t, err := scanToken(r.DB.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.AdmissionToken{}, ErrNotFound
	}
	return t, err
}

// Create inserts a token and populates its ID.  A duplicate token string
// yields ErrConflict.
func (r *TokenRepo) Create(ctx context.Context, t *model.AdmissionToken) error {
	var booking any
	if t.BookingExpiresAt != nil {
		booking = t.BookingExpiresAt.UTC()
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO queue_tokens (token, user_id, event_id, status, issued_at, expires_at, booking_expires_at,
		 position_in_queue, estimated_wait_seconds) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Token, t.UserID, t.EventID, string(t.Status), t.IssuedAt.UTC(), t.ExpiresAt.UTC(), booking,
		t.Position, t.EstimatedWait)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// FindByToken looks a token up by its opaque string.
func (r *TokenRepo) FindByToken(ctx context.Context, token string) (model.AdmissionToken, error) {
	return r.queryToken(ctx, `SELECT `+tokenColumns+` FROM queue_tokens WHERE token = ? LIMIT 1`, token)
}

// FindLive returns the newest WAITING or ACTIVE token of a user for an event.
func (r *TokenRepo) FindLive(ctx context.Context, userID string, eventID uint64) (model.AdmissionToken, error) {
	return r.queryToken(ctx,
		`SELECT `+tokenColumns+` FROM queue_tokens
		 WHERE user_id = ? AND event_id = ? AND status IN ('WAITING', 'ACTIVE')
		 ORDER BY issued_at DESC, id DESC LIMIT 1`,
		userID, eventID)
}

// ListLiveByUser returns the user's WAITING and ACTIVE tokens across events.
func (r *TokenRepo) ListLiveByUser(ctx context.Context, userID string) ([]model.AdmissionToken, error) {
	return r.queryTokens(ctx,
		`SELECT `+tokenColumns+` FROM queue_tokens
		 WHERE user_id = ? AND status IN ('WAITING', 'ACTIVE') ORDER BY issued_at, id`,
		userID)
}

// CountWaitingBefore counts WAITING tokens of an event that are ahead of
// the token identified by (issuedAt, id).
func (r *TokenRepo) CountWaitingBefore(ctx context.Context, eventID uint64, issuedAt time.Time, id uint64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_tokens
		 WHERE event_id = ? AND status = 'WAITING' AND (issued_at < ? OR (issued_at = ? AND id < ?))`,
		eventID, issuedAt.UTC(), issuedAt.UTC(), id).Scan(&n)
	return n, err
}

// CountByStatus counts an event's tokens in the given status.
func (r *TokenRepo) CountByStatus(ctx context.Context, eventID uint64, status model.TokenStatus) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_tokens WHERE event_id = ? AND status = ?`,
		eventID, string(status)).Scan(&n)
	return n, err
}

// ListWaiting returns up to limit WAITING tokens of an event in FIFO order.
func (r *TokenRepo) ListWaiting(ctx context.Context, eventID uint64, limit int) ([]model.AdmissionToken, error) {
	return r.queryTokens(ctx,
		`SELECT `+tokenColumns+` FROM queue_tokens
		 WHERE event_id = ? AND status = 'WAITING' ORDER BY issued_at, id LIMIT ?`,
		eventID, limit)
}

// Transition moves a token from one status to another.  Moving to ACTIVE
// stores bookingExpiresAt and clears the wait-list position.  ErrStaleStatus
// means the token was not in `from` any more.
func (r *TokenRepo) Transition(ctx context.Context, id uint64, from, to model.TokenStatus, bookingExpiresAt *time.Time) error {
	var (
		res sql.Result
		err error
	)
	if to == model.TokenActive {
		var booking any
		if bookingExpiresAt != nil {
			booking = bookingExpiresAt.UTC()
		}
		res, err = r.DB.ExecContext(ctx,
			`UPDATE queue_tokens SET status = ?, booking_expires_at = ?, position_in_queue = 0,
			 estimated_wait_seconds = 0, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?`,
			string(to), booking, id, string(from))
	} else {
		res, err = r.DB.ExecContext(ctx,
			`UPDATE queue_tokens SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?`,
			string(to), id, string(from))
	}
	return expectOneRow(res, err)
}

// UpdatePosition stores a WAITING token's recomputed position and wait.
func (r *TokenRepo) UpdatePosition(ctx context.Context, id uint64, position, waitSeconds int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE queue_tokens SET position_in_queue = ?, estimated_wait_seconds = ?
		 WHERE id = ? AND status = 'WAITING'`,
		position, waitSeconds, id)
	return err
}

// ListActive pages through ACTIVE tokens of all events by id.
func (r *TokenRepo) ListActive(ctx context.Context, afterID uint64, limit int) ([]model.AdmissionToken, error) {
	return r.queryTokens(ctx,
		`SELECT `+tokenColumns+` FROM queue_tokens WHERE status = 'ACTIVE' AND id > ? ORDER BY id LIMIT ?`,
		afterID, limit)
}

// ListExpired returns up to limit live tokens whose expiry or booking
// window has passed at now.
func (r *TokenRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.AdmissionToken, error) {
	return r.queryTokens(ctx,
		`SELECT `+tokenColumns+` FROM queue_tokens
		 WHERE status IN ('WAITING', 'ACTIVE')
		   AND (expires_at <= ? OR (status = 'ACTIVE' AND booking_expires_at <= ?))
		 ORDER BY id LIMIT ?`,
		now.UTC(), now.UTC(), limit)
}

// DeleteFinishedBefore removes USED, EXPIRED and CANCELLED tokens last
// touched before cutoff and reports how many rows were deleted.
func (r *TokenRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM queue_tokens WHERE status IN ('USED', 'EXPIRED', 'CANCELLED') AND updated_at < ?`,
		cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
