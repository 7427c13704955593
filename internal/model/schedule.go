package model

import "time"

// Schedule is one occurrence of an event (a performance date/time).  The
// seat ledger is scoped by schedule while the admission queue is scoped by
// event.  AvailableSeats is a denormalized counter that must always equal
// the number of AVAILABLE seats of the schedule.
type Schedule struct {
	ID             uint64    // schedules.id
	EventID        uint64    // schedules.event_id
	TotalSeats     int       // schedules.total_seats
	AvailableSeats int       // schedules.available_seats
	Status         string    // schedules.status
	CreatedAt      time.Time // schedules.created_at
	UpdatedAt      time.Time // schedules.updated_at
}

// SeatCounts is the per-status breakdown of a schedule's seats.
type SeatCounts struct {
	Available int `json:"available"`
	Locked    int `json:"locked"`
	Booked    int `json:"booked"`
}

// Total returns the number of seats counted.
func (c SeatCounts) Total() int { return c.Available + c.Locked + c.Booked }
