// Package memrepo is an in-process implementation of the seat ledger and
// the admission token store.  It mirrors the conditional-update semantics
// of the MySQL repositories (version compare-and-swap, status guarded
// transitions, bounded counters) and backs LEDGER_DRIVER=memory as well as
// the service tests.
package memrepo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/ticketing-reservation/internal/model"
)

// Ledger bundles the four in-memory repositories.
type Ledger struct {
	Seats     *SeatRepo
	Holds     *HoldRepo
	Schedules *ScheduleRepo
	Tokens    *TokenRepo
}

// New returns an empty ledger whose timestamps come from now.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		Seats:     newSeatRepo(now),
		Holds:     newHoldRepo(now),
		Schedules: newScheduleRepo(now),
		Tokens:    newTokenRepo(now),
	}
}

// SeatLayout describes one block of seats to seed.
type SeatLayout struct {
	Grade string
	Zone  string
	Rows  []string
	Cols  int
	Price decimal.Decimal
}

// SeedSchedule creates a schedule for eventID with every seat of the given
// layouts AVAILABLE and returns it with its seat ids.
func (l *Ledger) SeedSchedule(eventID uint64, layouts ...SeatLayout) (model.Schedule, []uint64) {
	var seats []model.Seat
	for _, lay := range layouts {
		for _, row := range lay.Rows {
			for col := 1; col <= lay.Cols; col++ {
				seats = append(seats, model.Seat{
					Grade:    lay.Grade,
					Zone:     lay.Zone,
					RowLabel: row,
					ColNum:   col,
					Status:   model.SeatAvailable,
					Price:    lay.Price,
				})
			}
		}
	}
	sched := l.Schedules.insert(eventID, len(seats))
	ids := l.Seats.insert(sched.ID, seats)
	return sched, ids
}

// SeedDemo seeds a small two-zone schedule for local runs.
func (l *Ledger) SeedDemo(eventID uint64) model.Schedule {
	sched, _ := l.SeedSchedule(eventID,
		SeatLayout{Grade: "VIP", Zone: "A", Rows: []string{"1", "2"}, Cols: 10, Price: decimal.RequireFromString("150000")},
		SeatLayout{Grade: "R", Zone: "B", Rows: []string{"1", "2", "3"}, Cols: 10, Price: decimal.RequireFromString("90000")},
	)
	return sched
}

func (l *Ledger) String() string {
	return fmt.Sprintf("memrepo(seats=%d holds=%d tokens=%d)", l.Seats.len(), l.Holds.len(), l.Tokens.len())
}
