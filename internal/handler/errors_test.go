package handler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/ticketing-reservation/internal/service"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrNotFound, http.StatusNotFound, "not_found"},
		{service.ErrPartiallyMissing, http.StatusNotFound, "partially_missing"},
		{fmt.Errorf("%w: version 3", service.ErrConflict), http.StatusConflict, "conflict"},
		{service.ErrLockContention, http.StatusConflict, "lock_contention"},
		{fmt.Errorf("seat 4: %w", service.ErrAlreadyBooked), http.StatusConflict, "already_booked"},
		{service.ErrHeldByOther, http.StatusConflict, "held_by_other"},
		{service.ErrSoldOut, http.StatusConflict, "sold_out"},
		{service.ErrQueueFull, http.StatusTooManyRequests, "queue_full"},
		{service.ErrNotYourTurn, http.StatusConflict, "not_your_turn"},
		{fmt.Errorf("seat 1: %w", service.ErrExpired), http.StatusGone, "expired"},
		{service.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		got := classify(tc.err)
		assert.Equal(t, tc.status, got.status, tc.err.Error())
		assert.Equal(t, tc.code, got.code, tc.err.Error())
	}
	assert.Equal(t, "your turn has not arrived yet", classify(service.ErrNotYourTurn).message)
}
