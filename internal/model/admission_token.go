package model

import "time"

// TokenStatus is the lifecycle state of an admission token.
type TokenStatus string

const (
	TokenWaiting   TokenStatus = "WAITING"
	TokenActive    TokenStatus = "ACTIVE"
	TokenUsed      TokenStatus = "USED"
	TokenExpired   TokenStatus = "EXPIRED"
	TokenCancelled TokenStatus = "CANCELLED"
)

// IsLive reports whether a token in this status still participates in the
// queue (waiting for or holding a slot).
func (s TokenStatus) IsLive() bool { return s == TokenWaiting || s == TokenActive }

// AdmissionToken is a queue ticket for one user and one event.
//
// Fields:
//  ID               – primary key identifier.
//  Token            – opaque random string handed to the client.
//  UserID           – owning user.
//  EventID          – event the user queues for.
//  Status           – WAITING, ACTIVE, USED, EXPIRED or CANCELLED.
//  IssuedAt         – FIFO ordering key.
//  ExpiresAt        – hard expiry of the token.
//  BookingExpiresAt – end of the booking window; set once ACTIVE.
//  Position         – 1-based wait-list position while WAITING.
//  EstimatedWait    – estimated seconds until admission.
type AdmissionToken struct {
	ID               uint64      // queue_tokens.id
	Token            string      // queue_tokens.token
	UserID           string      // queue_tokens.user_id
	EventID          uint64      // queue_tokens.event_id
	Status           TokenStatus // queue_tokens.status
	IssuedAt         time.Time   // queue_tokens.issued_at
	ExpiresAt        time.Time   // queue_tokens.expires_at
	BookingExpiresAt *time.Time  // queue_tokens.booking_expires_at (nullable)
	Position         int         // queue_tokens.position_in_queue
	EstimatedWait    int         // queue_tokens.estimated_wait_seconds
	CreatedAt        time.Time   // queue_tokens.created_at
	UpdatedAt        time.Time   // queue_tokens.updated_at
}

// Deadline is the instant after which the token must be treated as
// expired: ExpiresAt, or the booking window end when that comes first.
func (t AdmissionToken) Deadline() time.Time {
	if t.Status == TokenActive && t.BookingExpiresAt != nil && t.BookingExpiresAt.Before(t.ExpiresAt) {
		return *t.BookingExpiresAt
	}
	return t.ExpiresAt
}

// IsExpired reports whether a live token has passed its deadline.
func (t AdmissionToken) IsExpired(now time.Time) bool {
	return t.Status.IsLive() && !now.Before(t.Deadline())
}

// IsActiveForBooking reports whether the token currently grants the right
// to book.
func (t AdmissionToken) IsActiveForBooking(now time.Time) bool {
	return t.Status == TokenActive && t.BookingExpiresAt != nil && now.Before(*t.BookingExpiresAt) && now.Before(t.ExpiresAt)
}
