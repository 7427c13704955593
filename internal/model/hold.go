package model

import "time"

// HoldStatus is the lifecycle state of a seat hold.
type HoldStatus string

const (
	HoldActive   HoldStatus = "ACTIVE"
	HoldExpired  HoldStatus = "EXPIRED"
	HoldReleased HoldStatus = "RELEASED"
)

// Hold is a time bounded claim on a seat.  A seat has at most one ACTIVE
// hold; expired rows stay ACTIVE until the reaper (or the next acquire on
// the same seat) transitions them.
//
// Fields:
//  ID         – primary key identifier.
//  SeatID     – held seat.
//  ScheduleID – schedule of the held seat.
//  UserID     – holder user.
//  SessionID  – holder browser/client session.
//  Status     – ACTIVE, EXPIRED or RELEASED.
//  ExpiresAt  – when the hold stops being valid.
type Hold struct {
	ID         uint64     // seat_holds.id
	SeatID     uint64     // seat_holds.seat_id
	ScheduleID uint64     // seat_holds.schedule_id
	UserID     string     // seat_holds.user_id
	SessionID  string     // seat_holds.session_id
	Status     HoldStatus // seat_holds.status
	ExpiresAt  time.Time  // seat_holds.expires_at
	CreatedAt  time.Time  // seat_holds.created_at
	UpdatedAt  time.Time  // seat_holds.updated_at
}

// OwnedBy reports whether the hold belongs to the given user or session.
// Either identity is enough, so a user switching tabs keeps their hold.
func (h Hold) OwnedBy(userID, sessionID string) bool {
	if userID != "" && h.UserID == userID {
		return true
	}
	return sessionID != "" && h.SessionID == sessionID
}

// IsLive reports whether the hold is ACTIVE and not yet past its expiry.
func (h Hold) IsLive(now time.Time) bool {
	return h.Status == HoldActive && now.Before(h.ExpiresAt)
}

// LockValue is the value stored under the seat's distributed lock key.
func (h Hold) LockValue() string { return LockValue(h.UserID, h.SessionID) }

// LockValue builds the distributed lock value for a holder.
func LockValue(userID, sessionID string) string { return userID + ":" + sessionID }
