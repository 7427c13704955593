package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticketing-reservation/internal/model"
)

var tokenCols = []string{"id", "token", "user_id", "event_id", "status", "issued_at", "expires_at", "booking_expires_at",
	"position_in_queue", "estimated_wait_seconds", "created_at", "updated_at"}

func TestTokenRepo_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTokenRepo(db)

	issued := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	tok := model.AdmissionToken{
		Token:     "abc",
		UserID:    "u1",
		EventID:   7,
		Status:    model.TokenWaiting,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(2 * time.Hour),
	}
	q := regexp.QuoteMeta(`INSERT INTO queue_tokens`)
	mock.ExpectExec(q).
		WithArgs("abc", "u1", uint64(7), "WAITING", issued, issued.Add(2*time.Hour), nil, 0, 0).
		WillReturnResult(sqlmock.NewResult(31, 1))
	require.NoError(t, repo.Create(context.Background(), &tok))
	assert.Equal(t, uint64(31), tok.ID)

	mock.ExpectExec(q).WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	dup := tok
	assert.ErrorIs(t, repo.Create(context.Background(), &dup), ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_FindByToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTokenRepo(db)

	now := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	booking := now.Add(10 * time.Minute)
	q := regexp.QuoteMeta(`FROM queue_tokens WHERE token = ? LIMIT 1`)
	mock.ExpectQuery(q).WithArgs("abc").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow(1, "abc", "u1", 7, "ACTIVE", now, now.Add(30*time.Minute), booking, 0, 0, now, now))
	mock.ExpectQuery(q).WithArgs("missing").WillReturnRows(sqlmock.NewRows(tokenCols))

	got, err := repo.FindByToken(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, model.TokenActive, got.Status)
	require.NotNil(t, got.BookingExpiresAt)
	assert.Equal(t, booking, *got.BookingExpiresAt)
	assert.Equal(t, booking, got.Deadline())

	_, err = repo.FindByToken(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_CountWaitingBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	issued := time.Date(2026, 3, 1, 19, 0, 0, 123000, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`(issued_at < ? OR (issued_at = ? AND id < ?))`)).
		WithArgs(uint64(7), issued, issued, uint64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := NewTokenRepo(db).CountWaitingBefore(context.Background(), 7, issued, 12)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_Transition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTokenRepo(db)
	ctx := context.Background()

	booking := time.Date(2026, 3, 1, 19, 10, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`SET status = ?, booking_expires_at = ?, position_in_queue = 0`)).
		WithArgs("ACTIVE", booking, uint64(3), "WAITING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE queue_tokens SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id = ? AND status = ?`)).
		WithArgs("USED", uint64(3), "ACTIVE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Transition(ctx, 3, model.TokenWaiting, model.TokenActive, &booking))
	assert.ErrorIs(t, repo.Transition(ctx, 3, model.TokenActive, model.TokenUsed, nil), ErrStaleStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepo_DeleteFinishedBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM queue_tokens WHERE status IN ('USED', 'EXPIRED', 'CANCELLED')`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 5))

	n, err := NewTokenRepo(db).DeleteFinishedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
