// Package events defines the audit messages emitted by the seat lock
// manager and the admission controller, and their RabbitMQ publisher and
// consumer.  Publishing is fire-and-forget: a slow or unavailable broker
// never blocks or fails a seat or queue operation.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	KindSeat  = "seat"
	KindQueue = "queue"
)

// AuditEvent is one state change worth recording.  Only the fields that
// apply to Kind are set.
type AuditEvent struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Action     string   `json:"action"`
	UserID     string   `json:"user_id,omitempty"`
	ScheduleID uint64   `json:"schedule_id,omitempty"`
	EventID    uint64   `json:"event_id,omitempty"`
	SeatIDs    []uint64 `json:"seat_ids,omitempty"`
	Token      string   `json:"token,omitempty"`
	Status     string   `json:"status,omitempty"`
	OccurredAt string   `json:"occurred_at"`
}

// NewSeatEvent builds a seat ledger audit event.
func NewSeatEvent(action, userID string, scheduleID uint64, seatIDs []uint64) AuditEvent {
	return AuditEvent{
		ID:         uuid.NewString(),
		Kind:       KindSeat,
		Action:     action,
		UserID:     userID,
		ScheduleID: scheduleID,
		SeatIDs:    seatIDs,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NewQueueEvent builds an admission queue audit event.
func NewQueueEvent(action, userID string, eventID uint64, token, status string) AuditEvent {
	return AuditEvent{
		ID:         uuid.NewString(),
		Kind:       KindQueue,
		Action:     action,
		UserID:     userID,
		EventID:    eventID,
		Token:      token,
		Status:     status,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Sink accepts audit events without blocking.
type Sink interface {
	Publish(ctx context.Context, ev AuditEvent)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, AuditEvent) {}
