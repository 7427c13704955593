package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/service"
	"github.com/iliyamo/ticketing-reservation/internal/worker"
)

// ReapRunner runs one reaper pass on demand.
type ReapRunner interface {
	RunOnce(ctx context.Context) worker.ReapResult
}

// SeatHandler exposes the seat lock manager.  Locking can require a valid
// admission token for the schedule's event.
type SeatHandler struct {
	Seats        *service.SeatLockManager
	Queue        *service.AdmissionController
	Reaper       ReapRunner
	RequireToken bool
	Log          logrus.FieldLogger
}

// NewSeatHandler constructs a SeatHandler and panics if a dependency is nil.
func NewSeatHandler(seats *service.SeatLockManager, queue *service.AdmissionController, reaper ReapRunner, requireToken bool, log logrus.FieldLogger) *SeatHandler {
	if seats == nil || queue == nil || reaper == nil {
		panic("nil dependency passed to NewSeatHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SeatHandler{
		Seats:        seats,
		Queue:        queue,
		Reaper:       reaper,
		RequireToken: requireToken,
		Log:          log.WithField("handler", "seats"),
	}
}

type lockRequest struct {
	ScheduleID uint64               `json:"schedule_id"`
	SeatIDs    []uint64             `json:"seat_ids"`
	Seats      []model.SeatSelector `json:"seats"`
	SessionID  string               `json:"session_id"`
	QueueToken string               `json:"queue_token"`
}

type seatIDsRequest struct {
	SeatIDs    []uint64 `json:"seat_ids"`
	SessionID  string   `json:"session_id"`
	QueueToken string   `json:"queue_token"`
}

type seatView struct {
	ID       uint64           `json:"id"`
	Grade    string           `json:"grade"`
	Zone     string           `json:"zone"`
	RowLabel string           `json:"row_label"`
	ColNum   int              `json:"col_num"`
	Status   model.SeatStatus `json:"status"`
	Price    decimal.Decimal  `json:"price"`
}

// Availability handles GET /v1/schedules/:id/seats.
func (h *SeatHandler) Availability(c echo.Context) error {
	scheduleID, ok := parseID(c, "id")
	if !ok {
		return badRequest(c, "invalid schedule id")
	}
	av, err := h.Seats.Availability(c.Request().Context(), scheduleID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	seats := make([]seatView, 0, len(av.Seats))
	for _, s := range av.Seats {
		seats = append(seats, seatView{
			ID:       s.ID,
			Grade:    s.Grade,
			Zone:     s.Zone,
			RowLabel: s.RowLabel,
			ColNum:   s.ColNum,
			Status:   s.Status,
			Price:    s.Price,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"schedule_id":     av.Schedule.ID,
		"event_id":        av.Schedule.EventID,
		"total_seats":     av.Schedule.TotalSeats,
		"available_seats": av.Schedule.AvailableSeats,
		"counts":          av.Counts,
		"seats":           seats,
	})
}

// Lock handles POST /v1/seats/lock.  Seats are addressed either by id or
// by selector; selectors need schedule_id.
func (h *SeatHandler) Lock(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body lockRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.ScheduleID == 0 {
		return badRequest(c, "schedule_id is required")
	}
	ctx := c.Request().Context()

	sched, err := h.Seats.Schedule(ctx, body.ScheduleID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if h.RequireToken {
		token := strings.TrimSpace(body.QueueToken)
		if token == "" {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "unauthorized", "message": "queue_token is required"})
		}
		valid, err := h.Queue.IsValidForBooking(ctx, token, userID, sched.EventID)
		if err != nil {
			return respondError(c, h.Log, err)
		}
		if !valid {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "unauthorized", "message": "admission token is not valid for booking"})
		}
	}

	ids := body.SeatIDs
	if len(body.Seats) > 0 {
		resolved, err := h.Seats.ResolveSeats(ctx, body.ScheduleID, body.Seats)
		if err != nil {
			return respondError(c, h.Log, err)
		}
		ids = append(ids, resolved...)
	}
	if len(ids) == 0 {
		return badRequest(c, "seat_ids or seats is required")
	}

	res, err := h.Seats.AcquireHold(ctx, service.HoldRequest{
		SeatIDs:    ids,
		UserID:     userID,
		SessionID:  sessionID(c, body.SessionID),
		ScheduleID: body.ScheduleID,
	})
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if len(res.SeatIDs) == 0 {
		return badRequest(c, "no valid seat ids provided")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"message":      "seats locked",
		"schedule_id":  res.ScheduleID,
		"seat_ids":     res.SeatIDs,
		"newly_locked": res.NewlyLocked,
		"expires_at":   res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// Unlock handles DELETE /v1/seats/lock.  Admins may release any hold.
func (h *SeatHandler) Unlock(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body seatIDsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.SeatIDs) == 0 {
		return badRequest(c, "seat_ids is required")
	}
	ok, err := h.Seats.ReleaseHold(c.Request().Context(), body.SeatIDs, userID, sessionID(c, body.SessionID), isAdmin(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	msg := "seats released"
	if !ok {
		msg = "some seats are held by another customer and were not released"
	}
	return c.JSON(http.StatusOK, echo.Map{"success": ok, "message": msg})
}

// CheckAvailability handles POST /v1/seats/check-availability.  Seats the
// caller already holds count as available.
func (h *SeatHandler) CheckAvailability(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body seatIDsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.SeatIDs) == 0 {
		return badRequest(c, "seat_ids is required")
	}
	ok, err := h.Seats.SeatsAvailable(c.Request().Context(), body.SeatIDs, userID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	msg := "all seats can be reserved"
	if !ok {
		msg = "some seats cannot be reserved"
	}
	return c.JSON(http.StatusOK, echo.Map{"available": ok, "message": msg})
}

// Confirm handles POST /v1/seats/confirm.  When queue_token is given it is
// marked used once the seats are booked.
func (h *SeatHandler) Confirm(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	var body seatIDsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.SeatIDs) == 0 {
		return badRequest(c, "seat_ids is required")
	}
	ctx := c.Request().Context()
	if _, err := h.Seats.ConfirmHold(ctx, body.SeatIDs, userID); err != nil {
		return respondError(c, h.Log, err)
	}

	resp := echo.Map{"success": true, "message": "seats booked", "seat_ids": body.SeatIDs}
	if token := strings.TrimSpace(body.QueueToken); token != "" {
		if err := h.Queue.UseToken(ctx, token, userID); err != nil {
			// the booking stands; the token simply stays live until it expires
			h.Log.WithError(err).WithField("user_id", userID).Warn("failed to mark admission token used")
			resp["token_used"] = false
		} else {
			resp["token_used"] = true
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Cancel handles POST /v1/seats/cancel (admin only).
func (h *SeatHandler) Cancel(c echo.Context) error {
	var body seatIDsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.SeatIDs) == 0 {
		return badRequest(c, "seat_ids is required")
	}
	if _, err := h.Seats.CancelBooked(c.Request().Context(), body.SeatIDs); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "bookings cancelled"})
}

// Reap handles POST /v1/seats/reap (admin only) by running one reaper pass.
func (h *SeatHandler) Reap(c echo.Context) error {
	res := h.Reaper.RunOnce(c.Request().Context())
	status := http.StatusOK
	if res.Skipped {
		status = http.StatusAccepted
	}
	return c.JSON(status, res)
}

// ReleaseUserHolds handles DELETE /v1/users/:userId/seat-locks (admin
// only) by releasing every hold of that user.
func (h *SeatHandler) ReleaseUserHolds(c echo.Context) error {
	target := strings.TrimSpace(c.Param("userId"))
	if target == "" {
		return badRequest(c, "invalid user id")
	}
	n, err := h.Seats.ReleaseUserHolds(c.Request().Context(), target)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "user_id": target, "released": n})
}
