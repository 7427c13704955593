package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/service"
)

type apiError struct {
	status  int
	code    string
	message string
}

// errorTable is checked in order; the first sentinel matched wins.
var errorTable = []struct {
	target error
	apiError
}{
	{service.ErrPartiallyMissing, apiError{http.StatusNotFound, "partially_missing", "some requested seats do not exist"}},
	{service.ErrNotFound, apiError{http.StatusNotFound, "not_found", "resource not found"}},
	{service.ErrMixedSchedules, apiError{http.StatusConflict, "mixed_schedules", "all seats must belong to the same schedule"}},
	{service.ErrLockContention, apiError{http.StatusConflict, "lock_contention", "seat no longer available, please choose another"}},
	{service.ErrConflict, apiError{http.StatusConflict, "conflict", "seat no longer available, please choose another"}},
	{service.ErrAlreadyBooked, apiError{http.StatusConflict, "already_booked", "seat already booked"}},
	{service.ErrHeldByOther, apiError{http.StatusConflict, "held_by_other", "seat is being held by another customer"}},
	{service.ErrSoldOut, apiError{http.StatusConflict, "sold_out", "no seats left for this schedule"}},
	{service.ErrQueueFull, apiError{http.StatusTooManyRequests, "queue_full", "all booking slots are taken, please wait"}},
	{service.ErrNotYourTurn, apiError{http.StatusConflict, "not_your_turn", "your turn has not arrived yet"}},
	{service.ErrExpired, apiError{http.StatusGone, "expired", "please restart the selection"}},
	{service.ErrUnauthorized, apiError{http.StatusForbidden, "unauthorized", "not allowed for this caller"}},
	{service.ErrInvalidState, apiError{http.StatusConflict, "invalid_state", "token cannot be used in its current state"}},
}

var internalError = apiError{http.StatusInternalServerError, "internal", "something went wrong, please try again"}

// classify maps a service error to its HTTP representation.
func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.apiError
		}
	}
	return internalError
}

// respondError writes err as JSON.  Unexpected errors are logged; their
// details never reach the client.
func respondError(c echo.Context, log logrus.FieldLogger, err error) error {
	ae := classify(err)
	if ae.status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(logrus.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
	}
	return c.JSON(ae.status, echo.Map{"error": ae.code, "message": ae.message})
}
