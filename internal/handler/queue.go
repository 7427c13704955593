package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/service"
)

// QueueHandler exposes the admission controller.
type QueueHandler struct {
	Queue *service.AdmissionController
	Log   logrus.FieldLogger
}

// NewQueueHandler constructs a QueueHandler and panics if queue is nil.
func NewQueueHandler(queue *service.AdmissionController, log logrus.FieldLogger) *QueueHandler {
	if queue == nil {
		panic("nil admission controller passed to NewQueueHandler")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &QueueHandler{Queue: queue, Log: log.WithField("handler", "queue")}
}

type eventRequest struct {
	EventID uint64 `json:"event_id"`
	Token   string `json:"token"`
}

type tokenView struct {
	Token                string            `json:"token"`
	EventID              uint64            `json:"event_id"`
	Status               model.TokenStatus `json:"status"`
	Position             int               `json:"position"`
	EstimatedWaitSeconds int               `json:"estimated_wait_seconds"`
	IssuedAt             time.Time         `json:"issued_at"`
	ExpiresAt            time.Time         `json:"expires_at"`
	BookingExpiresAt     *time.Time        `json:"booking_expires_at,omitempty"`
}

func newTokenView(t model.AdmissionToken) tokenView {
	return tokenView{
		Token:                t.Token,
		EventID:              t.EventID,
		Status:               t.Status,
		Position:             t.Position,
		EstimatedWaitSeconds: t.EstimatedWait,
		IssuedAt:             t.IssuedAt,
		ExpiresAt:            t.ExpiresAt,
		BookingExpiresAt:     t.BookingExpiresAt,
	}
}

type admissionView struct {
	tokenView
	RequiresQueue         bool   `json:"requires_queue"`
	CanProceedDirectly    bool   `json:"can_proceed_directly"`
	Message               string `json:"message"`
	CurrentActiveSessions int64  `json:"current_active_sessions"`
	MaxConcurrentSessions int    `json:"max_concurrent_sessions"`
	CurrentWaitingCount   int    `json:"current_waiting_count"`
}

func newAdmissionView(a service.Admission) admissionView {
	v := admissionView{
		tokenView:             newTokenView(a.Token),
		RequiresQueue:         a.RequiresQueue(),
		CanProceedDirectly:    a.Token.Status == model.TokenActive,
		CurrentActiveSessions: a.ActiveSessions,
		MaxConcurrentSessions: a.MaxActive,
		CurrentWaitingCount:   a.WaitingCount,
	}
	switch a.Token.Status {
	case model.TokenActive:
		v.Message = "you may select seats now"
	case model.TokenWaiting:
		v.Message = "you are in the queue, please wait for your turn"
	default:
		v.Message = "token is no longer valid, please request a new one"
	}
	return v
}

// bindEvent reads the caller and an event_id body.  When ok is false the
// response has already been written and err is its write error.
func (h *QueueHandler) bindEvent(c echo.Context) (userID string, body eventRequest, ok bool, err error) {
	userID, err = getUserID(c)
	if err != nil {
		return "", body, false, unauthorized(c)
	}
	if err := c.Bind(&body); err != nil {
		return "", body, false, badRequest(c, "invalid request body")
	}
	if body.EventID == 0 {
		return "", body, false, badRequest(c, "event_id is required")
	}
	return userID, body, true, nil
}

// Check handles POST /v1/queue/check: may the caller proceed directly, or
// where do they stand in the queue.
func (h *QueueHandler) Check(c echo.Context) error {
	userID, body, ok, err := h.bindEvent(c)
	if !ok {
		return err
	}
	adm, err := h.Queue.RequestAdmission(c.Request().Context(), userID, body.EventID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, newAdmissionView(adm))
}

// IssueToken handles POST /v1/queue/token.
func (h *QueueHandler) IssueToken(c echo.Context) error {
	userID, body, ok, err := h.bindEvent(c)
	if !ok {
		return err
	}
	adm, err := h.Queue.RequestAdmission(c.Request().Context(), userID, body.EventID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, newTokenView(adm.Token))
}

// Activate handles POST /v1/queue/activate.
func (h *QueueHandler) Activate(c echo.Context) error {
	userID, body, ok, err := h.bindEvent(c)
	if !ok {
		return err
	}
	if strings.TrimSpace(body.Token) == "" {
		return badRequest(c, "token is required")
	}
	adm, err := h.Queue.Activate(c.Request().Context(), strings.TrimSpace(body.Token), userID, body.EventID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, newAdmissionView(adm))
}

// Status handles GET /v1/queue/status/:token.  Only the owner (or an
// admin) may look at a token.
func (h *QueueHandler) Status(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	adm, err := h.Queue.Status(c.Request().Context(), c.Param("token"), userID, isAdmin(c))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, newAdmissionView(adm))
}

// Verify handles POST /v1/queue/token/:token/verify for the booking flow.
func (h *QueueHandler) Verify(c echo.Context) error {
	userID, body, ok, err := h.bindEvent(c)
	if !ok {
		return err
	}
	valid, err := h.Queue.IsValidForBooking(c.Request().Context(), c.Param("token"), userID, body.EventID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"valid": valid})
}

// Use handles POST /v1/queue/token/:token/use after a successful booking.
func (h *QueueHandler) Use(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	if err := h.Queue.UseToken(c.Request().Context(), c.Param("token"), userID); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "status": model.TokenUsed})
}

// Cancel handles DELETE /v1/queue/token/:token.
func (h *QueueHandler) Cancel(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	if err := h.Queue.CancelToken(c.Request().Context(), c.Param("token"), userID); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "status": model.TokenCancelled})
}

// Heartbeat handles POST /v1/queue/heartbeat.
func (h *QueueHandler) Heartbeat(c echo.Context) error {
	userID, body, ok, err := h.bindEvent(c)
	if !ok {
		return err
	}
	if err := h.Queue.Heartbeat(c.Request().Context(), userID, body.EventID); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ReleaseSession handles POST /v1/queue/release-session, sent when the
// client abandons the booking page.
func (h *QueueHandler) ReleaseSession(c echo.Context) error {
	userID, body, ok, err := h.bindEvent(c)
	if !ok {
		return err
	}
	if err := h.Queue.ReleaseSession(c.Request().Context(), userID, body.EventID); err != nil {
		return respondError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MyTokens handles GET /v1/queue/my-tokens.
func (h *QueueHandler) MyTokens(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	tokens, err := h.Queue.MyTokens(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, newTokenView(t))
	}
	return c.JSON(http.StatusOK, echo.Map{"tokens": out})
}

type eventOnlyRequest struct {
	EventID uint64 `json:"event_id"`
}

func bindEventOnly(c echo.Context) (uint64, bool, error) {
	var body eventOnlyRequest
	if err := c.Bind(&body); err != nil {
		return 0, false, badRequest(c, "invalid request body")
	}
	if body.EventID == 0 {
		return 0, false, badRequest(c, "event_id is required")
	}
	return body.EventID, true, nil
}

// ClearSessions handles POST /v1/queue/clear-sessions (admin only).
func (h *QueueHandler) ClearSessions(c echo.Context) error {
	eventID, ok, err := bindEventOnly(c)
	if !ok {
		return err
	}
	n, err := h.Queue.ClearSessions(c.Request().Context(), eventID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "event_id": eventID, "cleared": n})
}

// Process handles POST /v1/queue/process (admin only): fill free slots from
// the head of the queue now instead of waiting for the next release.
func (h *QueueHandler) Process(c echo.Context) error {
	eventID, ok, err := bindEventOnly(c)
	if !ok {
		return err
	}
	n, err := h.Queue.ForceProcess(c.Request().Context(), eventID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "event_id": eventID, "promoted": n})
}
