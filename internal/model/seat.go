package model

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// SeatStatus is the ledger state of a single seat.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatLocked    SeatStatus = "LOCKED"
	SeatBooked    SeatStatus = "BOOKED"
)

// Seat is one sellable seat of one schedule.  Seats are uniquely
// identified inside a schedule by zone, row label and column.  Every
// successful write increments Version; writers must present the version
// they read.
//
// Fields:
//  ID         – primary key identifier.
//  ScheduleID – schedule (event occurrence) the seat belongs to.
//  Grade      – price grade (VIP, R, S, A ...).
//  Zone       – venue zone.
//  RowLabel   – row designation.
//  ColNum     – seat number within the row.
//  Status     – AVAILABLE, LOCKED or BOOKED.
//  Price      – seat price.
//  Version    – optimistic concurrency counter.
type Seat struct {
	ID         uint64          // schedule_seats.id
	ScheduleID uint64          // schedule_seats.schedule_id
	Grade      string          // schedule_seats.grade
	Zone       string          // schedule_seats.zone
	RowLabel   string          // schedule_seats.row_label
	ColNum     int             // schedule_seats.col_num
	Status     SeatStatus      // schedule_seats.status
	Price      decimal.Decimal // schedule_seats.price
	Version    uint64          // schedule_seats.version
	CreatedAt  time.Time       // schedule_seats.created_at
	UpdatedAt  time.Time       // schedule_seats.updated_at
}

// Label renders the seat coordinates for logs and audit events.
func (s Seat) Label() string {
	return s.Zone + "-" + s.RowLabel + "-" + strconv.Itoa(s.ColNum)
}

// SeatSelector addresses a seat by its human readable coordinates.
type SeatSelector struct {
	Grade    string `json:"grade"`
	Zone     string `json:"zone"`
	RowLabel string `json:"row_label"`
	ColNum   int    `json:"col_num"`
}
