package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/events"
	"github.com/iliyamo/ticketing-reservation/internal/lockbridge"
	"github.com/iliyamo/ticketing-reservation/internal/metrics"
	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/repository"
)

const (
	// positionRecomputeLimit caps how many waiters get their stored position
	// rewritten after the head of the queue moves; later waiters are
	// refreshed when they poll.
	positionRecomputeLimit = 1000
	// promoteCASAttempts bounds retries when another promoter wins the
	// same head token.
	promoteCASAttempts = 5
	// admissionGuardTTL outlives any single admission request; a crashed
	// instance cannot block a user for longer.
	admissionGuardTTL  = 5 * time.Second
	admissionGuardWait = 2 * time.Second
	admissionGuardPoll = 20 * time.Millisecond
	clearBatchSize     = 200
)

// AdmissionConfig tunes the admission controller.
type AdmissionConfig struct {
	MaxActive         int           // concurrently ACTIVE tokens per event
	WaitPerPerson     time.Duration // estimated wait per queue position
	BookingWindow     time.Duration // ACTIVE booking window
	WaitingTTL        time.Duration // hard expiry of a token issued WAITING
	ActiveTTL         time.Duration // hard expiry of a token issued ACTIVE
	InactivityTimeout time.Duration // heartbeat ttl
	CounterTTL        time.Duration // refreshing ttl of the active counter
}

// AdmissionDeps are the collaborators of an AdmissionController.
type AdmissionDeps struct {
	Tokens  TokenStore
	Locks   lockbridge.Store
	Audit   events.Sink
	Metrics *metrics.Collectors
	Log     logrus.FieldLogger
}

// AdmissionController gates how many users may select seats for an event
// at once and keeps everyone else in a FIFO wait-list.
//
// The token ledger is the source of truth for capacity.  The active
// session counter in the lock store is a fast path that Activate
// reconciles against the ledger.  Decisions that read and then write the
// counter run under a per-event mutex that is never held across ledger
// I/O.  Requests of one user for one event are serialized end to end.
type AdmissionController struct {
	tokens    TokenStore
	locks     lockbridge.Store
	audit     events.Sink
	metrics   *metrics.Collectors
	log       logrus.FieldLogger
	cfg       AdmissionConfig
	mu        *keyedLocks[uint64]
	userMu    *keyedLocks[userEvent]
	guardWait time.Duration
	now       func() time.Time
	newToken  func() (string, error)
}

type userEvent struct {
	userID  string
	eventID uint64
}

// NewAdmissionController builds a controller.
func NewAdmissionController(d AdmissionDeps, cfg AdmissionConfig) *AdmissionController {
	if d.Audit == nil {
		d.Audit = events.Discard{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 1
	}
	return &AdmissionController{
		tokens:    d.Tokens,
		locks:     d.Locks,
		audit:     d.Audit,
		metrics:   d.Metrics,
		log:       d.Log.WithField("component", "admission"),
		cfg:       cfg,
		mu:        newKeyedLocks[uint64](),
		userMu:    newKeyedLocks[userEvent](),
		guardWait: admissionGuardWait,
		now:       func() time.Time { return time.Now().UTC() },
		newToken:  randomToken,
	}
}

// Admission is a token together with the queue figures shown to clients.
type Admission struct {
	Token          model.AdmissionToken
	ActiveSessions int64
	MaxActive      int
	WaitingCount   int
}

// RequiresQueue reports whether the caller must wait.
func (a Admission) RequiresQueue() bool { return a.Token.Status == model.TokenWaiting }

// RequestAdmission returns the caller's live token for the event or issues
// a new one, ACTIVE when a slot is free and nobody is waiting, WAITING
// otherwise.  Concurrent calls of the same user for the same event all get
// the same token.
func (c *AdmissionController) RequestAdmission(ctx context.Context, userID string, eventID uint64) (Admission, error) {
	release, err := c.guardUser(ctx, userID, eventID)
	if err != nil {
		return Admission{}, err
	}
	defer release()
	return c.requestAdmission(ctx, userID, eventID)
}

func (c *AdmissionController) requestAdmission(ctx context.Context, userID string, eventID uint64) (Admission, error) {
	now := c.now()
	existing, err := c.tokens.FindLive(ctx, userID, eventID)
	switch {
	case err == nil && !existing.IsExpired(now):
		if existing.Status == model.TokenWaiting {
			if existing, err = c.refreshPosition(ctx, existing); err != nil {
				return Admission{}, err
			}
		}
		c.metrics.Admission("existing")
		return c.admission(ctx, existing)
	case err == nil:
		if err := c.expireToken(ctx, existing, "deadline"); err != nil {
			return Admission{}, err
		}
	case !errors.Is(err, repository.ErrNotFound):
		return Admission{}, err
	}

	waiting, err := c.tokens.CountByStatus(ctx, eventID, model.TokenWaiting)
	if err != nil {
		return Admission{}, err
	}
	granted := false
	if waiting == 0 {
		if granted, err = c.reserveSlot(ctx, eventID); err != nil {
			return Admission{}, err
		}
	}

	raw, err := c.newToken()
	if err != nil {
		if granted {
			c.releaseSlot(ctx, eventID)
		}
		return Admission{}, err
	}
	t := model.AdmissionToken{Token: raw, UserID: userID, EventID: eventID, IssuedAt: now}
	if granted {
		booking := now.Add(c.cfg.BookingWindow)
		t.Status = model.TokenActive
		t.ExpiresAt = now.Add(c.cfg.ActiveTTL)
		t.BookingExpiresAt = &booking
		// The heartbeat exists before the token turns ACTIVE so a sweep
		// never sees an ACTIVE token without one.
		c.touchHeartbeat(ctx, userID, eventID)
	} else {
		t.Status = model.TokenWaiting
		t.ExpiresAt = now.Add(c.cfg.WaitingTTL)
	}
	if err := c.tokens.Create(ctx, &t); err != nil {
		if granted {
			c.dropHeartbeat(ctx, userID, eventID)
			c.releaseSlot(ctx, eventID)
		}
		return Admission{}, err
	}

	if granted {
		c.metrics.Admission("active")
	} else {
		if t, err = c.refreshPosition(ctx, t); err != nil {
			return Admission{}, err
		}
		c.metrics.Admission("waiting")
		if waiting > 0 {
			// A slot may have freed while others were already waiting.
			c.promote(ctx, eventID)
			if fresh, err := c.tokens.FindByToken(ctx, t.Token); err == nil {
				t = fresh
			}
		}
	}
	c.audit.Publish(ctx, events.NewQueueEvent("token_issued", userID, eventID, t.Token, string(t.Status)))
	return c.admission(ctx, t)
}

// Activate promotes the caller's WAITING token when it is first in line and
// capacity remains.
func (c *AdmissionController) Activate(ctx context.Context, token, userID string, eventID uint64) (Admission, error) {
	t, err := c.ownedToken(ctx, token, userID)
	if err != nil {
		return Admission{}, err
	}
	if t.EventID != eventID {
		return Admission{}, ErrUnauthorized
	}
	now := c.now()
	if t.IsExpired(now) {
		if err := c.expireToken(ctx, t, "deadline"); err != nil {
			return Admission{}, err
		}
		return Admission{}, ErrExpired
	}
	switch t.Status {
	case model.TokenActive:
		return c.admission(ctx, t)
	case model.TokenWaiting:
	default:
		return Admission{}, ErrInvalidState
	}

	t, err = c.refreshPosition(ctx, t)
	if err != nil {
		return Admission{}, err
	}
	if t.Position != 1 {
		c.metrics.Admission("not_your_turn")
		return Admission{}, ErrNotYourTurn
	}

	ledgerActive, err := c.tokens.CountByStatus(ctx, eventID, model.TokenActive)
	if err != nil {
		return Admission{}, err
	}
	granted, err := c.reconcileAndReserve(ctx, eventID, int64(ledgerActive))
	if err != nil {
		return Admission{}, err
	}
	if !granted {
		c.metrics.Admission("queue_full")
		return Admission{}, ErrQueueFull
	}

	t, err = c.activateToken(ctx, t, now)
	if err != nil {
		c.releaseSlot(ctx, eventID)
		if errors.Is(err, repository.ErrStaleStatus) {
			return Admission{}, ErrConflict
		}
		return Admission{}, err
	}
	c.metrics.Admission("activated")
	c.recomputePositions(ctx, eventID)
	return c.admission(ctx, t)
}

// UseToken marks an ACTIVE token as consumed by a completed booking and
// hands its slot to the next waiter.
func (c *AdmissionController) UseToken(ctx context.Context, token, userID string) error {
	t, err := c.ownedToken(ctx, token, userID)
	if err != nil {
		return err
	}
	if t.Status != model.TokenActive {
		return ErrInvalidState
	}
	if !t.IsActiveForBooking(c.now()) {
		if err := c.expireToken(ctx, t, "deadline"); err != nil {
			return err
		}
		return ErrExpired
	}
	if err := c.tokens.Transition(ctx, t.ID, model.TokenActive, model.TokenUsed, nil); err != nil {
		return mapLedgerErr(err)
	}
	c.audit.Publish(ctx, events.NewQueueEvent("token_used", t.UserID, t.EventID, t.Token, string(model.TokenUsed)))
	c.freeSlot(ctx, t)
	return nil
}

// CancelToken withdraws a WAITING or ACTIVE token.
func (c *AdmissionController) CancelToken(ctx context.Context, token, userID string) error {
	t, err := c.ownedToken(ctx, token, userID)
	if err != nil {
		return err
	}
	if !t.Status.IsLive() {
		return ErrInvalidState
	}
	if err := c.tokens.Transition(ctx, t.ID, t.Status, model.TokenCancelled, nil); err != nil {
		return mapLedgerErr(err)
	}
	c.audit.Publish(ctx, events.NewQueueEvent("token_cancelled", t.UserID, t.EventID, t.Token, string(model.TokenCancelled)))
	if t.Status == model.TokenActive {
		c.freeSlot(ctx, t)
	} else {
		c.recomputePositions(ctx, t.EventID)
	}
	return nil
}

// ReleaseSession abandons the caller's session for an event: the heartbeat
// goes away and an ACTIVE token is expired, freeing its slot.
func (c *AdmissionController) ReleaseSession(ctx context.Context, userID string, eventID uint64) error {
	c.dropHeartbeat(ctx, userID, eventID)
	t, err := c.tokens.FindLive(ctx, userID, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if t.Status != model.TokenActive {
		return nil
	}
	return c.expireToken(ctx, t, "released")
}

// Heartbeat keeps the caller's ACTIVE session alive.
func (c *AdmissionController) Heartbeat(ctx context.Context, userID string, eventID uint64) error {
	t, err := c.tokens.FindLive(ctx, userID, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if t.Status != model.TokenActive {
		return ErrNotFound
	}
	if t.IsExpired(c.now()) {
		if err := c.expireToken(ctx, t, "deadline"); err != nil {
			return err
		}
		return ErrExpired
	}
	return c.locks.Set(ctx, lockbridge.HeartbeatKey(userID, eventID), strconv.FormatInt(c.now().Unix(), 10), c.cfg.InactivityTimeout)
}

// Status returns the current state of a token, expiring it when its
// deadline passed and refreshing its position while WAITING.  Only the
// owner, or an elevated caller, may look at a token.
func (c *AdmissionController) Status(ctx context.Context, token, userID string, elevated bool) (Admission, error) {
	t, err := c.tokens.FindByToken(ctx, token)
	if err != nil {
		return Admission{}, mapLedgerErr(err)
	}
	if !elevated && t.UserID != userID {
		return Admission{}, ErrUnauthorized
	}
	if t.IsExpired(c.now()) {
		if err := c.expireToken(ctx, t, "deadline"); err != nil {
			return Admission{}, err
		}
		if t, err = c.tokens.FindByToken(ctx, token); err != nil {
			return Admission{}, mapLedgerErr(err)
		}
	}
	if t.Status == model.TokenWaiting {
		if t, err = c.refreshPosition(ctx, t); err != nil {
			return Admission{}, err
		}
	}
	return c.admission(ctx, t)
}

// IsValidForBooking reports whether token lets userID book for eventID now.
func (c *AdmissionController) IsValidForBooking(ctx context.Context, token, userID string, eventID uint64) (bool, error) {
	t, err := c.tokens.FindByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if t.UserID != userID || t.EventID != eventID || t.Status != model.TokenActive {
		return false, nil
	}
	if !t.IsActiveForBooking(c.now()) {
		if err := c.expireToken(ctx, t, "deadline"); err != nil {
			c.log.WithError(err).WithField("token", t.Token).Warn("failed to expire token during verification")
		}
		return false, nil
	}
	return true, nil
}

// MyTokens lists the caller's live tokens.
func (c *AdmissionController) MyTokens(ctx context.Context, userID string) ([]model.AdmissionToken, error) {
	return c.tokens.ListLiveByUser(ctx, userID)
}

// SweepExpired expires live tokens past their deadline, batchSize at a
// time, and returns how many it expired.
func (c *AdmissionController) SweepExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	total := 0
	for ctx.Err() == nil {
		expired, err := c.tokens.ListExpired(ctx, c.now(), batchSize)
		if err != nil {
			return total, err
		}
		done := 0
		for _, t := range expired {
			if err := c.expireToken(ctx, t, "deadline"); err != nil {
				c.log.WithError(err).WithField("token", t.Token).Warn("failed to expire token")
				continue
			}
			done++
		}
		total += done
		if len(expired) < batchSize || done == 0 {
			break
		}
	}
	return total, nil
}

// SweepHeartbeats expires ACTIVE tokens whose heartbeat key lapsed.
func (c *AdmissionController) SweepHeartbeats(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	total := 0
	var afterID uint64
	for ctx.Err() == nil {
		active, err := c.tokens.ListActive(ctx, afterID, batchSize)
		if err != nil {
			return total, err
		}
		for _, t := range active {
			alive, err := c.locks.Exists(ctx, lockbridge.HeartbeatKey(t.UserID, t.EventID))
			if err != nil {
				c.log.WithError(err).WithField("token", t.Token).Warn("heartbeat lookup failed")
				continue
			}
			if alive {
				continue
			}
			if err := c.expireToken(ctx, t, "inactive"); err != nil {
				c.log.WithError(err).WithField("token", t.Token).Warn("failed to expire inactive token")
				continue
			}
			total++
		}
		if len(active) < batchSize {
			break
		}
		afterID = active[len(active)-1].ID
	}
	return total, nil
}

// ClearSessions ends every ACTIVE session of the event.  Tokens are expired
// and their heartbeats dropped, freed slots go to the waiters in line, and
// the active counter is rebuilt from the ledger.  Returns how many sessions
// were ended.
func (c *AdmissionController) ClearSessions(ctx context.Context, eventID uint64) (int, error) {
	// Collect first: tokens promoted while clearing must survive.
	var victims []model.AdmissionToken
	var afterID uint64
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		active, err := c.tokens.ListActive(ctx, afterID, clearBatchSize)
		if err != nil {
			return 0, err
		}
		for _, t := range active {
			if t.EventID == eventID {
				victims = append(victims, t)
			}
		}
		if len(active) < clearBatchSize {
			break
		}
		afterID = active[len(active)-1].ID
	}

	cleared := 0
	for _, t := range victims {
		if err := c.expireToken(ctx, t, "cleared"); err != nil {
			c.log.WithError(err).WithField("token", t.Token).Warn("failed to clear session")
			continue
		}
		cleared++
	}
	if err := c.resyncCounter(ctx, eventID); err != nil {
		return cleared, err
	}
	c.log.WithFields(logrus.Fields{"event_id": eventID, "cleared": cleared}).Info("admission sessions cleared")
	return cleared, nil
}

// ForceProcess rebuilds the event's active counter from the ledger, fills
// every free slot from the head of the queue and rewrites the waiters'
// positions.  Returns how many tokens were promoted.
func (c *AdmissionController) ForceProcess(ctx context.Context, eventID uint64) (int, error) {
	if err := c.resyncCounter(ctx, eventID); err != nil {
		return 0, err
	}
	promoted := c.promote(ctx, eventID)
	if promoted == 0 {
		c.recomputePositions(ctx, eventID)
	}
	c.log.WithFields(logrus.Fields{"event_id": eventID, "promoted": promoted}).Info("admission queue processed")
	return promoted, nil
}

// CleanupFinished deletes USED, EXPIRED and CANCELLED tokens older than
// retention.
func (c *AdmissionController) CleanupFinished(ctx context.Context, retention time.Duration) (int64, error) {
	return c.tokens.DeleteFinishedBefore(ctx, c.now().Add(-retention))
}

// expireToken moves a live token to EXPIRED and releases its slot when it
// held one.  Losing the transition to a concurrent writer is not an error.
func (c *AdmissionController) expireToken(ctx context.Context, t model.AdmissionToken, reason string) error {
	if err := c.tokens.Transition(ctx, t.ID, t.Status, model.TokenExpired, nil); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil
		}
		return err
	}
	c.metrics.TokenExpired(reason)
	c.log.WithFields(logrus.Fields{"token": t.Token, "event_id": t.EventID, "user_id": t.UserID, "reason": reason}).
		Info("admission token expired")
	c.audit.Publish(ctx, events.NewQueueEvent("token_expired", t.UserID, t.EventID, t.Token, string(model.TokenExpired)))
	if t.Status == model.TokenActive {
		c.freeSlot(ctx, t)
	} else {
		c.recomputePositions(ctx, t.EventID)
	}
	return nil
}

// freeSlot gives back the slot of a token that left ACTIVE and promotes
// the next waiter.
func (c *AdmissionController) freeSlot(ctx context.Context, t model.AdmissionToken) {
	c.releaseSlot(ctx, t.EventID)
	c.dropHeartbeat(ctx, t.UserID, t.EventID)
	c.promote(ctx, t.EventID)
}

// promote fills free slots with WAITING tokens in FIFO order.  A slot is
// reserved first; the head token is then moved to ACTIVE with a status
// compare-and-swap, so concurrent promoters never activate the same token
// and never skip an earlier waiter.
func (c *AdmissionController) promote(ctx context.Context, eventID uint64) int {
	promoted := 0
	for ctx.Err() == nil {
		heads, err := c.tokens.ListWaiting(ctx, eventID, 1)
		if err != nil || len(heads) == 0 {
			if err != nil {
				c.log.WithError(err).WithField("event_id", eventID).Warn("promotion: list waiting failed")
			}
			break
		}
		reserved, err := c.reserveSlot(ctx, eventID)
		if err != nil {
			c.log.WithError(err).WithField("event_id", eventID).Warn("promotion: reserve slot failed")
			break
		}
		if !reserved {
			break
		}
		if !c.activateHead(ctx, eventID) {
			c.releaseSlot(ctx, eventID)
			break
		}
		promoted++
	}
	if promoted > 0 {
		c.recomputePositions(ctx, eventID)
	}
	return promoted
}

// activateHead moves the current head WAITING token of the event to ACTIVE
// using an already reserved slot.
func (c *AdmissionController) activateHead(ctx context.Context, eventID uint64) bool {
	for attempt := 0; attempt < promoteCASAttempts; attempt++ {
		heads, err := c.tokens.ListWaiting(ctx, eventID, 1)
		if err != nil || len(heads) == 0 {
			return false
		}
		head := heads[0]
		now := c.now()
		if head.IsExpired(now) {
			if err := c.tokens.Transition(ctx, head.ID, model.TokenWaiting, model.TokenExpired, nil); err == nil {
				c.metrics.TokenExpired("deadline")
			}
			continue
		}
		if _, err := c.activateToken(ctx, head, now); err != nil {
			if errors.Is(err, repository.ErrStaleStatus) {
				continue
			}
			c.log.WithError(err).WithField("token", head.Token).Warn("promotion: activate failed")
			return false
		}
		c.metrics.Admission("promoted")
		return true
	}
	return false
}

// activateToken performs WAITING -> ACTIVE and opens the booking window.
// The heartbeat is written first so a sweep never sees the token ACTIVE
// without one.
func (c *AdmissionController) activateToken(ctx context.Context, t model.AdmissionToken, now time.Time) (model.AdmissionToken, error) {
	booking := now.Add(c.cfg.BookingWindow)
	c.touchHeartbeat(ctx, t.UserID, t.EventID)
	if err := c.tokens.Transition(ctx, t.ID, model.TokenWaiting, model.TokenActive, &booking); err != nil {
		c.dropHeartbeatUnlessActive(ctx, t.UserID, t.EventID)
		return t, err
	}
	t.Status = model.TokenActive
	t.BookingExpiresAt = &booking
	t.Position = 0
	t.EstimatedWait = 0
	c.audit.Publish(ctx, events.NewQueueEvent("token_activated", t.UserID, t.EventID, t.Token, string(model.TokenActive)))
	return t, nil
}

// reserveSlot takes one slot of the event's active counter if below max.
func (c *AdmissionController) reserveSlot(ctx context.Context, eventID uint64) (bool, error) {
	unlock := c.mu.lock(eventID)
	defer unlock()
	n, ok, err := c.locks.IncrementBelow(ctx, lockbridge.ActiveCounterKey(eventID), int64(c.cfg.MaxActive), c.cfg.CounterTTL)
	if err != nil {
		return false, err
	}
	c.metrics.ActiveSessions(strconv.FormatUint(eventID, 10), n)
	return ok, nil
}

// reconcileAndReserve overwrites the shared counter with the ledger's
// ACTIVE count when they disagree, then reserves a slot.
func (c *AdmissionController) reconcileAndReserve(ctx context.Context, eventID uint64, ledgerActive int64) (bool, error) {
	key := lockbridge.ActiveCounterKey(eventID)
	unlock := c.mu.lock(eventID)
	defer unlock()

	if err := c.syncCounterLocked(ctx, eventID, ledgerActive); err != nil {
		return false, err
	}
	n, ok, err := c.locks.IncrementBelow(ctx, key, int64(c.cfg.MaxActive), c.cfg.CounterTTL)
	if err != nil {
		return false, err
	}
	c.metrics.ActiveSessions(strconv.FormatUint(eventID, 10), n)
	return ok, nil
}

// resyncCounter overwrites the event's active counter with the ledger's
// ACTIVE count.
func (c *AdmissionController) resyncCounter(ctx context.Context, eventID uint64) error {
	ledgerActive, err := c.tokens.CountByStatus(ctx, eventID, model.TokenActive)
	if err != nil {
		return err
	}
	unlock := c.mu.lock(eventID)
	defer unlock()
	if err := c.syncCounterLocked(ctx, eventID, int64(ledgerActive)); err != nil {
		return err
	}
	c.metrics.ActiveSessions(strconv.FormatUint(eventID, 10), int64(ledgerActive))
	return nil
}

// syncCounterLocked sets the counter to ledgerActive when it differs.
// Callers hold the event mutex.
func (c *AdmissionController) syncCounterLocked(ctx context.Context, eventID uint64, ledgerActive int64) error {
	key := lockbridge.ActiveCounterKey(eventID)
	raw, found, err := c.locks.Get(ctx, key)
	if err != nil {
		return err
	}
	current, _ := strconv.ParseInt(raw, 10, 64)
	if found && current == ledgerActive {
		return nil
	}
	if found {
		c.log.WithFields(logrus.Fields{"event_id": eventID, "counter": current, "ledger": ledgerActive}).
			Warn("active counter out of sync with ledger; correcting")
	}
	return c.locks.Set(ctx, key, strconv.FormatInt(ledgerActive, 10), c.cfg.CounterTTL)
}

// releaseSlot decrements the event's active counter, never below zero.
func (c *AdmissionController) releaseSlot(ctx context.Context, eventID uint64) {
	unlock := c.mu.lock(eventID)
	defer unlock()
	n, err := c.locks.DecrementFloor(context.WithoutCancel(ctx), lockbridge.ActiveCounterKey(eventID), c.cfg.CounterTTL)
	if err != nil {
		c.log.WithError(err).WithField("event_id", eventID).Warn("failed to release active slot")
		return
	}
	c.metrics.ActiveSessions(strconv.FormatUint(eventID, 10), n)
}

func (c *AdmissionController) touchHeartbeat(ctx context.Context, userID string, eventID uint64) {
	key := lockbridge.HeartbeatKey(userID, eventID)
	if err := c.locks.Set(ctx, key, strconv.FormatInt(c.now().Unix(), 10), c.cfg.InactivityTimeout); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("failed to start heartbeat")
	}
}

func (c *AdmissionController) dropHeartbeat(ctx context.Context, userID string, eventID uint64) {
	key := lockbridge.HeartbeatKey(userID, eventID)
	if _, err := c.locks.Delete(context.WithoutCancel(ctx), key); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("failed to delete heartbeat")
	}
}

// dropHeartbeatUnlessActive removes a heartbeat written for an activation
// that did not happen, unless the user's token is ACTIVE anyway.
func (c *AdmissionController) dropHeartbeatUnlessActive(ctx context.Context, userID string, eventID uint64) {
	t, err := c.tokens.FindLive(ctx, userID, eventID)
	if err == nil && t.Status == model.TokenActive {
		return
	}
	c.dropHeartbeat(ctx, userID, eventID)
}

// guardUser serializes admission requests of one user for one event: an
// in-process mutex first, then a short lived key shared by every instance.
// It gives up with ErrConflict when another instance keeps the key longer
// than guardWait.
func (c *AdmissionController) guardUser(ctx context.Context, userID string, eventID uint64) (func(), error) {
	unlock := c.userMu.lock(userEvent{userID: userID, eventID: eventID})
	owner, err := c.newToken()
	if err != nil {
		unlock()
		return nil, err
	}
	key := lockbridge.AdmissionKey(userID, eventID)
	deadline := time.NewTimer(c.guardWait)
	defer deadline.Stop()
	for {
		ok, err := c.locks.SetIfAbsent(ctx, key, owner, admissionGuardTTL)
		if err != nil {
			unlock()
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			unlock()
			return nil, ctx.Err()
		case <-deadline.C:
			unlock()
			return nil, ErrConflict
		case <-time.After(admissionGuardPoll):
		}
	}
	return func() {
		if _, err := c.locks.DeleteIfValue(context.WithoutCancel(ctx), key, owner); err != nil {
			c.log.WithError(err).WithField("key", key).Warn("failed to release admission guard")
		}
		unlock()
	}, nil
}

// refreshPosition recomputes a WAITING token's place in line and stores it.
func (c *AdmissionController) refreshPosition(ctx context.Context, t model.AdmissionToken) (model.AdmissionToken, error) {
	ahead, err := c.tokens.CountWaitingBefore(ctx, t.EventID, t.IssuedAt, t.ID)
	if err != nil {
		return t, err
	}
	pos := ahead + 1
	wait := c.estimatedWait(pos)
	if pos != t.Position || wait != t.EstimatedWait {
		if err := c.tokens.UpdatePosition(ctx, t.ID, pos, wait); err != nil {
			return t, err
		}
	}
	t.Position, t.EstimatedWait = pos, wait
	return t, nil
}

// recomputePositions rewrites the stored positions of the event's waiters.
func (c *AdmissionController) recomputePositions(ctx context.Context, eventID uint64) {
	waiting, err := c.tokens.ListWaiting(ctx, eventID, positionRecomputeLimit)
	if err != nil {
		c.log.WithError(err).WithField("event_id", eventID).Warn("failed to list waiting tokens")
		return
	}
	for i, t := range waiting {
		pos := i + 1
		wait := c.estimatedWait(pos)
		if t.Position == pos && t.EstimatedWait == wait {
			continue
		}
		if err := c.tokens.UpdatePosition(ctx, t.ID, pos, wait); err != nil {
			c.log.WithError(err).WithField("token", t.Token).Warn("failed to update queue position")
		}
	}
}

func (c *AdmissionController) estimatedWait(position int) int {
	return position * int(c.cfg.WaitPerPerson/time.Second)
}

// ownedToken loads a token and checks it belongs to userID.
func (c *AdmissionController) ownedToken(ctx context.Context, token, userID string) (model.AdmissionToken, error) {
	t, err := c.tokens.FindByToken(ctx, token)
	if err != nil {
		return t, mapLedgerErr(err)
	}
	if t.UserID != userID {
		return t, ErrUnauthorized
	}
	return t, nil
}

// admission decorates a token with the event's queue figures.
func (c *AdmissionController) admission(ctx context.Context, t model.AdmissionToken) (Admission, error) {
	waiting, err := c.tokens.CountByStatus(ctx, t.EventID, model.TokenWaiting)
	if err != nil {
		return Admission{}, err
	}
	raw, _, err := c.locks.Get(ctx, lockbridge.ActiveCounterKey(t.EventID))
	if err != nil {
		return Admission{}, err
	}
	active, _ := strconv.ParseInt(raw, 10, 64)
	return Admission{Token: t, ActiveSessions: active, MaxActive: c.cfg.MaxActive, WaitingCount: waiting}, nil
}

// randomToken returns 16 random bytes, hex encoded.
func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
