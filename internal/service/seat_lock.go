package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/events"
	"github.com/iliyamo/ticketing-reservation/internal/lockbridge"
	"github.com/iliyamo/ticketing-reservation/internal/metrics"
	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/repository"
)

// freeSeatAttempts bounds the optimistic retries when a release races
// another writer on the same seat row.
const freeSeatAttempts = 3

// SeatLockDeps are the collaborators of a SeatLockManager.
type SeatLockDeps struct {
	Seats     SeatStore
	Holds     HoldStore
	Schedules ScheduleStore
	Locks     lockbridge.Store
	Audit     events.Sink
	Metrics   *metrics.Collectors
	Log       logrus.FieldLogger
}

// SeatLockManager acquires, releases, confirms and reaps seat holds.  The
// ledger is authoritative; per-seat keys in the lock store only arbitrate
// concurrent acquirers.
type SeatLockManager struct {
	seats        SeatStore
	holds        HoldStore
	schedules    ScheduleStore
	locks        lockbridge.Store
	audit        events.Sink
	metrics      *metrics.Collectors
	log          logrus.FieldLogger
	holdDuration time.Duration
	now          func() time.Time
}

// NewSeatLockManager builds a manager whose holds last holdDuration.
func NewSeatLockManager(d SeatLockDeps, holdDuration time.Duration) *SeatLockManager {
	if d.Audit == nil {
		d.Audit = events.Discard{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return &SeatLockManager{
		seats:        d.Seats,
		holds:        d.Holds,
		schedules:    d.Schedules,
		locks:        d.Locks,
		audit:        d.Audit,
		metrics:      d.Metrics,
		log:          d.Log.WithField("component", "seat-lock"),
		holdDuration: holdDuration,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// HoldRequest identifies the seats and the holder of an acquire call.
type HoldRequest struct {
	SeatIDs   []uint64
	UserID    string
	SessionID string

	// ScheduleID, when set, must be the schedule of every seat.
	ScheduleID uint64
}

// HoldResult describes a successful acquire.
type HoldResult struct {
	ScheduleID  uint64
	SeatIDs     []uint64
	ExpiresAt   time.Time
	NewlyLocked int
}

// Availability is the seat map of one schedule.
type Availability struct {
	Schedule model.Schedule
	Counts   model.SeatCounts
	Seats    []model.Seat
}

// seatChange records a status write made by the current call so it can be
// reverted.
type seatChange struct {
	seatID  uint64
	version uint64
	from    model.SeatStatus
}

// ResolveSeats maps selectors of one schedule to seat ids.
func (m *SeatLockManager) ResolveSeats(ctx context.Context, scheduleID uint64, selectors []model.SeatSelector) ([]uint64, error) {
	ids, err := m.seats.ResolveSelectors(ctx, scheduleID, selectors)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPartiallyMissing
	}
	return ids, err
}

// AcquireHold places (or extends) a hold on every requested seat for the
// holder, or on none of them.
func (m *SeatLockManager) AcquireHold(ctx context.Context, req HoldRequest) (HoldResult, error) {
	res, err := m.acquire(ctx, req)
	m.metrics.HoldAttempt(resultLabel(err))
	if err == nil && len(res.SeatIDs) > 0 {
		m.audit.Publish(ctx, events.NewSeatEvent("hold_acquired", req.UserID, res.ScheduleID, res.SeatIDs))
	}
	return res, err
}

func (m *SeatLockManager) acquire(ctx context.Context, req HoldRequest) (HoldResult, error) {
	ids := dedupe(req.SeatIDs)
	if len(ids) == 0 {
		return HoldResult{}, nil
	}
	now := m.now()

	if err := m.reapSeats(ctx, ids, now); err != nil {
		return HoldResult{}, fmt.Errorf("reap before acquire: %w", err)
	}

	seats, err := m.seats.GetByIDs(ctx, ids)
	if err != nil {
		return HoldResult{}, err
	}
	if len(seats) != len(ids) {
		return HoldResult{}, ErrPartiallyMissing
	}
	scheduleID := seats[0].ScheduleID
	if req.ScheduleID != 0 && req.ScheduleID != scheduleID {
		return HoldResult{}, ErrMixedSchedules
	}
	for _, s := range seats[1:] {
		if s.ScheduleID != scheduleID {
			return HoldResult{}, ErrMixedSchedules
		}
	}

	// Live holds the caller already owns; these get extended.
	owned := make(map[uint64]model.Hold)
	for _, s := range seats {
		switch s.Status {
		case model.SeatBooked:
			return HoldResult{}, fmt.Errorf("seat %d: %w", s.ID, ErrAlreadyBooked)
		case model.SeatLocked:
			h, err := m.holds.ActiveForSeat(ctx, s.ID)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return HoldResult{}, err
			}
			if !h.IsLive(now) {
				continue
			}
			if !h.OwnedBy(req.UserID, req.SessionID) {
				return HoldResult{}, fmt.Errorf("seat %d: %w", s.ID, ErrHeldByOther)
			}
			owned[s.ID] = h
		}
	}

	u := &acquireUndo{m: m, lockValue: model.LockValue(req.UserID, req.SessionID)}
	fail := func(err error) (HoldResult, error) {
		u.run(ctx)
		return HoldResult{}, err
	}

	for _, s := range seats {
		key := lockbridge.SeatLockKey(s.ID)
		ok, err := m.locks.SetIfAbsent(ctx, key, u.lockValue, m.holdDuration)
		if err != nil {
			return fail(fmt.Errorf("acquire seat lock: %w", err))
		}
		if ok {
			u.lockKeys = append(u.lockKeys, key)
			continue
		}
		current, found, err := m.locks.Get(ctx, key)
		if err != nil {
			return fail(fmt.Errorf("read seat lock: %w", err))
		}
		if found && m.holderOwnsLock(current, u.lockValue, owned[s.ID]) {
			if _, err := m.locks.Expire(ctx, key, m.holdDuration); err != nil {
				m.log.WithError(err).WithField("seat_id", s.ID).Warn("failed to refresh seat lock ttl")
			}
			continue
		}
		return fail(ErrLockContention)
	}

	expiresAt := now.Add(m.holdDuration)
	for _, s := range seats {
		if h, ok := owned[s.ID]; ok {
			if err := m.holds.Extend(ctx, h.ID, expiresAt); err != nil {
				return fail(mapLedgerErr(err))
			}
			u.extended = append(u.extended, h)
			continue
		}
		h := model.Hold{
			SeatID:     s.ID,
			ScheduleID: scheduleID,
			UserID:     req.UserID,
			SessionID:  req.SessionID,
			ExpiresAt:  expiresAt,
		}
		if err := m.holds.Create(ctx, &h); err != nil {
			return fail(err)
		}
		u.created = append(u.created, h.ID)
	}

	newlyLocked := 0
	for _, s := range seats {
		if s.Status == model.SeatLocked {
			if _, ok := owned[s.ID]; ok {
				continue
			}
			// A LOCKED seat without a live hold is being freed by a
			// concurrent release; bumping its version makes one of us lose.
			if _, err := m.seats.UpdateStatus(ctx, s.ID, s.Version, model.SeatLocked); err != nil {
				return fail(mapLedgerErr(err))
			}
			continue
		}
		v, err := m.seats.UpdateStatus(ctx, s.ID, s.Version, model.SeatLocked)
		if err != nil {
			return fail(mapLedgerErr(err))
		}
		u.seats = append(u.seats, seatChange{seatID: s.ID, version: v, from: s.Status})
		newlyLocked++
	}

	if err := m.schedules.DecrementAvailable(ctx, scheduleID, newlyLocked); err != nil {
		return fail(mapLedgerErr(err))
	}

	return HoldResult{ScheduleID: scheduleID, SeatIDs: ids, ExpiresAt: expiresAt, NewlyLocked: newlyLocked}, nil
}

// holderOwnsLock reports whether an existing lock value belongs to the
// caller, either literally or through a hold the caller owns.
func (m *SeatLockManager) holderOwnsLock(current, value string, owned model.Hold) bool {
	if current == value {
		return true
	}
	return owned.ID != 0 && current == owned.LockValue()
}

// acquireUndo collects what an acquire call changed so far.
type acquireUndo struct {
	m         *SeatLockManager
	lockValue string
	lockKeys  []string
	created   []uint64
	extended  []model.Hold
	seats     []seatChange
}

func (u *acquireUndo) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	m := u.m
	for i := len(u.seats) - 1; i >= 0; i-- {
		c := u.seats[i]
		if _, err := m.seats.UpdateStatus(ctx, c.seatID, c.version, c.from); err != nil {
			m.log.WithError(err).WithField("seat_id", c.seatID).Error("rollback: failed to restore seat status")
		}
	}
	for _, id := range u.created {
		if err := m.holds.Transition(ctx, id, model.HoldActive, model.HoldReleased); err != nil {
			m.log.WithError(err).WithField("hold_id", id).Error("rollback: failed to release created hold")
		}
	}
	for _, h := range u.extended {
		if err := m.holds.Extend(ctx, h.ID, h.ExpiresAt); err != nil {
			m.log.WithError(err).WithField("hold_id", h.ID).Warn("rollback: failed to restore hold expiry")
		}
	}
	for _, key := range u.lockKeys {
		if _, err := m.locks.DeleteIfValue(ctx, key, u.lockValue); err != nil {
			m.log.WithError(err).WithField("key", key).Warn("rollback: failed to release seat lock")
		}
	}
}

// ReleaseHold releases the caller's holds on the given seats.  Seats
// without an active hold are skipped.  It returns false when a seat was
// held by someone else and elevated is not set.
func (m *SeatLockManager) ReleaseHold(ctx context.Context, seatIDs []uint64, userID, sessionID string, elevated bool) (bool, error) {
	all := true
	var released []uint64
	var scheduleID uint64
	for _, id := range dedupe(seatIDs) {
		h, err := m.holds.ActiveForSeat(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			m.metrics.SeatOperation("release", "error")
			return false, err
		}
		if !elevated && !h.OwnedBy(userID, sessionID) {
			all = false
			continue
		}
		ok, err := m.releaseHold(ctx, h, model.HoldReleased)
		if err != nil {
			m.metrics.SeatOperation("release", "error")
			return false, err
		}
		if ok {
			released = append(released, id)
			scheduleID = h.ScheduleID
		}
	}
	if len(released) > 0 {
		m.audit.Publish(ctx, events.NewSeatEvent("hold_released", userID, scheduleID, released))
	}
	if all {
		m.metrics.SeatOperation("release", "success")
	} else {
		m.metrics.SeatOperation("release", "unauthorized")
	}
	return all, nil
}

// ReleaseUserHolds releases every ACTIVE hold of userID, expired or not,
// and returns how many were released.
func (m *SeatLockManager) ReleaseUserHolds(ctx context.Context, userID string) (int, error) {
	holds, err := m.holds.ListActiveByUser(ctx, userID)
	if err != nil {
		m.metrics.SeatOperation("release_user", "error")
		return 0, err
	}
	released := make(map[uint64][]uint64)
	total := 0
	var opErr error
	for _, h := range holds {
		ok, err := m.releaseHold(ctx, h, model.HoldReleased)
		if err != nil {
			m.log.WithError(err).WithFields(logrus.Fields{"hold_id": h.ID, "user_id": userID}).Warn("failed to release user hold")
			opErr = err
			continue
		}
		if ok {
			released[h.ScheduleID] = append(released[h.ScheduleID], h.SeatID)
			total++
		}
	}
	for scheduleID, ids := range released {
		m.audit.Publish(ctx, events.NewSeatEvent("hold_released", userID, scheduleID, ids))
	}
	m.metrics.SeatOperation("release_user", resultLabel(opErr))
	return total, opErr
}

// SeatsAvailable reports whether every seat exists and could be held by
// userID right now: AVAILABLE, or LOCKED under a live hold of userID.  With
// an empty userID only AVAILABLE seats qualify.
func (m *SeatLockManager) SeatsAvailable(ctx context.Context, seatIDs []uint64, userID string) (bool, error) {
	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return false, nil
	}
	seats, err := m.seats.GetByIDs(ctx, ids)
	if err != nil {
		return false, err
	}
	if len(seats) != len(ids) {
		return false, nil
	}
	now := m.now()
	for _, s := range seats {
		switch s.Status {
		case model.SeatAvailable:
			continue
		case model.SeatLocked:
			if userID == "" {
				return false, nil
			}
			h, err := m.holds.ActiveForSeat(ctx, s.ID)
			if errors.Is(err, repository.ErrNotFound) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			if h.UserID != userID || !h.IsLive(now) {
				return false, nil
			}
		default:
			return false, nil
		}
	}
	return true, nil
}

// releaseHold moves an ACTIVE hold to `to`, frees its seat and returns the
// seat to the available counter.  It reports false when another caller
// already finished the hold.
func (m *SeatLockManager) releaseHold(ctx context.Context, h model.Hold, to model.HoldStatus) (bool, error) {
	if err := m.holds.Transition(ctx, h.ID, model.HoldActive, to); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return false, nil
		}
		return false, err
	}
	restoreHold := func() {
		if err := m.holds.Transition(context.WithoutCancel(ctx), h.ID, to, model.HoldActive); err != nil {
			m.log.WithError(err).WithField("hold_id", h.ID).Error("rollback: failed to reactivate hold")
		}
	}

	change, freed, err := m.freeSeat(ctx, h.SeatID)
	if err != nil {
		restoreHold()
		return false, err
	}
	if freed {
		err := m.schedules.IncrementAvailable(ctx, h.ScheduleID, 1)
		switch {
		case errors.Is(err, repository.ErrCounterOverflow):
			m.log.WithFields(logrus.Fields{"schedule_id": h.ScheduleID, "seat_id": h.SeatID}).
				Warn("available counter already at capacity; not incremented")
		case err != nil:
			if _, rbErr := m.seats.UpdateStatus(context.WithoutCancel(ctx), change.seatID, change.version, change.from); rbErr != nil {
				m.log.WithError(rbErr).WithField("seat_id", h.SeatID).Error("rollback: failed to relock seat")
			}
			restoreHold()
			return false, err
		}
	}

	if _, err := m.locks.DeleteIfValue(ctx, lockbridge.SeatLockKey(h.SeatID), h.LockValue()); err != nil {
		m.log.WithError(err).WithField("seat_id", h.SeatID).Warn("failed to delete seat lock")
	}
	return true, nil
}

// freeSeat moves a LOCKED seat back to AVAILABLE, retrying on version
// races.  Seats in any other status are left alone.
func (m *SeatLockManager) freeSeat(ctx context.Context, seatID uint64) (seatChange, bool, error) {
	for attempt := 0; attempt < freeSeatAttempts; attempt++ {
		seats, err := m.seats.GetByIDs(ctx, []uint64{seatID})
		if err != nil {
			return seatChange{}, false, err
		}
		if len(seats) == 0 || seats[0].Status != model.SeatLocked {
			return seatChange{}, false, nil
		}
		// A newer hold took the seat over after ours was closed.
		if _, err := m.holds.ActiveForSeat(ctx, seatID); err == nil {
			return seatChange{}, false, nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return seatChange{}, false, err
		}
		v, err := m.seats.UpdateStatus(ctx, seatID, seats[0].Version, model.SeatAvailable)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return seatChange{}, false, err
		}
		return seatChange{seatID: seatID, version: v, from: model.SeatLocked}, true, nil
	}
	return seatChange{}, false, ErrConflict
}

// ConfirmHold converts the caller's holds into bookings.  Every seat must
// carry a live hold of userID; otherwise nothing is booked.
func (m *SeatLockManager) ConfirmHold(ctx context.Context, seatIDs []uint64, userID string) (bool, error) {
	ok, scheduleID, ids, err := m.confirm(ctx, seatIDs, userID)
	m.metrics.SeatOperation("confirm", resultLabel(err))
	if ok && len(ids) > 0 {
		m.audit.Publish(ctx, events.NewSeatEvent("hold_confirmed", userID, scheduleID, ids))
	}
	return ok, err
}

func (m *SeatLockManager) confirm(ctx context.Context, seatIDs []uint64, userID string) (bool, uint64, []uint64, error) {
	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return true, 0, nil, nil
	}
	now := m.now()

	holds := make([]model.Hold, 0, len(ids))
	for _, id := range ids {
		h, err := m.holds.ActiveForSeat(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return false, 0, nil, fmt.Errorf("seat %d: %w", id, ErrUnauthorized)
		}
		if err != nil {
			return false, 0, nil, err
		}
		if h.UserID != userID {
			return false, 0, nil, fmt.Errorf("seat %d: %w", id, ErrUnauthorized)
		}
		if !h.IsLive(now) {
			return false, 0, nil, fmt.Errorf("seat %d: %w", id, ErrExpired)
		}
		holds = append(holds, h)
	}

	seats, err := m.seats.GetByIDs(ctx, ids)
	if err != nil {
		return false, 0, nil, err
	}
	if len(seats) != len(ids) {
		return false, 0, nil, ErrPartiallyMissing
	}
	byID := make(map[uint64]model.Seat, len(seats))
	for _, s := range seats {
		byID[s.ID] = s
	}

	type booked struct {
		hold   model.Hold
		change seatChange
	}
	var done []booked
	undo := func() {
		rctx := context.WithoutCancel(ctx)
		for i := len(done) - 1; i >= 0; i-- {
			b := done[i]
			if b.change.seatID != 0 {
				if _, err := m.seats.UpdateStatus(rctx, b.change.seatID, b.change.version, b.change.from); err != nil {
					m.log.WithError(err).WithField("seat_id", b.change.seatID).Error("rollback: failed to unbook seat")
				}
			}
			if err := m.holds.Transition(rctx, b.hold.ID, model.HoldReleased, model.HoldActive); err != nil {
				m.log.WithError(err).WithField("hold_id", b.hold.ID).Error("rollback: failed to reactivate hold")
			}
		}
	}

	// Holds are closed before their seats are booked so a concurrent reaper
	// loses the hold transition instead of freeing a booked seat.
	for _, h := range holds {
		if err := m.holds.Transition(ctx, h.ID, model.HoldActive, model.HoldReleased); err != nil {
			undo()
			if errors.Is(err, repository.ErrStaleStatus) {
				return false, 0, nil, fmt.Errorf("seat %d: %w", h.SeatID, ErrExpired)
			}
			return false, 0, nil, err
		}
		done = append(done, booked{hold: h})

		s := byID[h.SeatID]
		if s.Status != model.SeatLocked {
			undo()
			return false, 0, nil, fmt.Errorf("seat %d: %w", s.ID, ErrConflict)
		}
		v, err := m.seats.UpdateStatus(ctx, s.ID, s.Version, model.SeatBooked)
		if err != nil {
			undo()
			return false, 0, nil, mapLedgerErr(err)
		}
		done[len(done)-1].change = seatChange{seatID: s.ID, version: v, from: model.SeatLocked}
	}

	for _, h := range holds {
		if _, err := m.locks.DeleteIfValue(ctx, lockbridge.SeatLockKey(h.SeatID), h.LockValue()); err != nil {
			m.log.WithError(err).WithField("seat_id", h.SeatID).Warn("failed to delete seat lock")
		}
	}
	return true, holds[0].ScheduleID, ids, nil
}

// CancelBooked returns BOOKED seats to AVAILABLE and to the available
// counter.  Seats in other states are skipped.
func (m *SeatLockManager) CancelBooked(ctx context.Context, seatIDs []uint64) (bool, error) {
	seats, err := m.seats.GetByIDs(ctx, dedupe(seatIDs))
	if err != nil {
		return false, err
	}
	restored := make(map[uint64][]uint64)
	var opErr error
	for _, s := range seats {
		if s.Status != model.SeatBooked {
			continue
		}
		if _, err := m.seats.UpdateStatus(ctx, s.ID, s.Version, model.SeatAvailable); err != nil {
			opErr = mapLedgerErr(err)
			break
		}
		restored[s.ScheduleID] = append(restored[s.ScheduleID], s.ID)
	}
	// Seats already flipped must reach the counter even when a later seat failed.
	for scheduleID, ids := range restored {
		if err := m.schedules.IncrementAvailable(context.WithoutCancel(ctx), scheduleID, len(ids)); err != nil {
			m.log.WithError(err).WithField("schedule_id", scheduleID).Error("failed to restore available counter")
			if opErr == nil {
				opErr = err
			}
			continue
		}
		m.audit.Publish(ctx, events.NewSeatEvent("booking_cancelled", "", scheduleID, ids))
	}
	m.metrics.SeatOperation("cancel", resultLabel(opErr))
	if opErr != nil {
		return false, opErr
	}
	return true, nil
}

// ReapExpired releases ACTIVE holds past their expiry, batchSize at a time,
// and returns how many were released.
func (m *SeatLockManager) ReapExpired(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	total := 0
	for ctx.Err() == nil {
		holds, err := m.holds.ListExpired(ctx, m.now(), batchSize)
		if err != nil {
			return total, err
		}
		released := 0
		for _, h := range holds {
			ok, err := m.releaseHold(ctx, h, model.HoldExpired)
			if err != nil {
				m.log.WithError(err).WithFields(logrus.Fields{"hold_id": h.ID, "seat_id": h.SeatID}).Warn("failed to reap hold")
				continue
			}
			if ok {
				released++
				m.audit.Publish(ctx, events.NewSeatEvent("hold_expired", h.UserID, h.ScheduleID, []uint64{h.SeatID}))
			}
		}
		total += released
		if len(holds) < batchSize || released == 0 {
			break
		}
	}
	m.metrics.SeatsReaped(total)
	return total, nil
}

// reapSeats expires stale holds on the given seats before an acquire.
func (m *SeatLockManager) reapSeats(ctx context.Context, ids []uint64, now time.Time) error {
	holds, err := m.holds.ExpiredForSeats(ctx, ids, now)
	if err != nil {
		return err
	}
	for _, h := range holds {
		ok, err := m.releaseHold(ctx, h, model.HoldExpired)
		if err != nil {
			return err
		}
		if ok {
			m.metrics.SeatsReaped(1)
		}
	}
	return nil
}

// Availability returns the seat map and status counts of a schedule.
func (m *SeatLockManager) Availability(ctx context.Context, scheduleID uint64) (Availability, error) {
	sched, err := m.schedules.Get(ctx, scheduleID)
	if err != nil {
		return Availability{}, mapLedgerErr(err)
	}
	counts, err := m.Counts(ctx, scheduleID)
	if err != nil {
		return Availability{}, err
	}
	seats, err := m.seats.ListBySchedule(ctx, scheduleID)
	if err != nil {
		return Availability{}, err
	}
	return Availability{Schedule: sched, Counts: counts, Seats: seats}, nil
}

// Counts returns how many seats of the schedule are in each status.
func (m *SeatLockManager) Counts(ctx context.Context, scheduleID uint64) (model.SeatCounts, error) {
	return m.seats.CountByStatus(ctx, scheduleID)
}

// Schedule loads one schedule.
func (m *SeatLockManager) Schedule(ctx context.Context, scheduleID uint64) (model.Schedule, error) {
	s, err := m.schedules.Get(ctx, scheduleID)
	return s, mapLedgerErr(err)
}

// mapLedgerErr translates repository sentinels into service errors.
func mapLedgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrStaleStatus):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, repository.ErrSoldOut):
		return ErrSoldOut
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrLockContention):
		return "lock_contention"
	case errors.Is(err, ErrHeldByOther):
		return "held_by_other"
	case errors.Is(err, ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ErrPartiallyMissing), errors.Is(err, ErrMixedSchedules):
		return "invalid_seats"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrExpired):
		return "expired"
	}
	return "error"
}

// dedupe drops zero and repeated ids, keeping first-seen order.
func dedupe(ids []uint64) []uint64 {
	out := make([]uint64, 0, len(ids))
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
