package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticketing-reservation/internal/events"
	"github.com/iliyamo/ticketing-reservation/internal/lockbridge"
	"github.com/iliyamo/ticketing-reservation/internal/metrics"
	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/repository/memrepo"
)

var errInjected = errors.New("injected failure")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// quietLogger discards output; tests that assert on logs read the hook.
func quietLogger() (*logrus.Logger, *test.Hook) {
	return test.NewNullLogger()
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Publish(_ context.Context, ev events.AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev.Action)
	s.mu.Unlock()
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

type seatFixture struct {
	clock      *testClock
	ledger     *memrepo.Ledger
	locks      *lockbridge.MemoryStore
	sink       *recordingSink
	reg        *prometheus.Registry
	mgr        *SeatLockManager
	schedule   model.Schedule
	seatIDs    []uint64
	scheduleB  model.Schedule
	seatIDsB   []uint64
	logHook    *test.Hook
	holdPeriod time.Duration
}

// newSeatFixture seeds two schedules of ten seats each (event 1).
func newSeatFixture(t *testing.T) *seatFixture {
	t.Helper()
	return newSeatFixtureWith(t, nil)
}

func newSeatFixtureWith(t *testing.T, wrap func(*SeatLockDeps)) *seatFixture {
	t.Helper()
	clock := newTestClock()
	ledger := memrepo.New(clock.Now)
	layout := memrepo.SeatLayout{Grade: "R", Zone: "A", Rows: []string{"1"}, Cols: 10, Price: decimal.NewFromInt(50000)}
	sched, ids := ledger.SeedSchedule(1, layout)
	schedB, idsB := ledger.SeedSchedule(1, layout)

	locks := lockbridge.NewMemoryStore().WithClock(clock.Now)
	sink := &recordingSink{}
	reg := prometheus.NewRegistry()
	log, hook := quietLogger()
	deps := SeatLockDeps{
		Seats:     ledger.Seats,
		Holds:     ledger.Holds,
		Schedules: ledger.Schedules,
		Locks:     locks,
		Audit:     sink,
		Metrics:   metrics.New(reg),
		Log:       log,
	}
	if wrap != nil {
		wrap(&deps)
	}
	mgr := NewSeatLockManager(deps, 10*time.Minute)
	mgr.now = clock.Now

	return &seatFixture{
		clock:      clock,
		ledger:     ledger,
		locks:      locks,
		sink:       sink,
		reg:        reg,
		mgr:        mgr,
		schedule:   sched,
		seatIDs:    ids,
		scheduleB:  schedB,
		seatIDsB:   idsB,
		logHook:    hook,
		holdPeriod: 10 * time.Minute,
	}
}

func (f *seatFixture) available(t *testing.T, scheduleID uint64) int {
	t.Helper()
	s, err := f.ledger.Schedules.Get(context.Background(), scheduleID)
	require.NoError(t, err)
	return s.AvailableSeats
}

func (f *seatFixture) seat(t *testing.T, id uint64) model.Seat {
	t.Helper()
	seats, err := f.ledger.Seats.GetByIDs(context.Background(), []uint64{id})
	require.NoError(t, err)
	require.Len(t, seats, 1)
	return seats[0]
}

// requireCounterMatches checks that the denormalized counter equals the
// number of AVAILABLE seats.
func (f *seatFixture) requireCounterMatches(t *testing.T, scheduleID uint64) {
	t.Helper()
	counts, err := f.mgr.Counts(context.Background(), scheduleID)
	require.NoError(t, err)
	require.Equal(t, counts.Available, f.available(t, scheduleID), "available counter drifted from seat statuses")
}

// failingSchedules fails DecrementAvailable on every n-th call.
type failingSchedules struct {
	ScheduleStore
	every int64
	calls atomic.Int64
}

func (f *failingSchedules) DecrementAvailable(ctx context.Context, id uint64, n int) error {
	if f.every > 0 && f.calls.Add(1)%f.every == 0 {
		return errInjected
	}
	return f.ScheduleStore.DecrementAvailable(ctx, id, n)
}

// failingHolds fails Create on every n-th call.
type failingHolds struct {
	HoldStore
	every int64
	calls atomic.Int64
}

func (f *failingHolds) Create(ctx context.Context, h *model.Hold) error {
	if f.every > 0 && f.calls.Add(1)%f.every == 0 {
		return errInjected
	}
	return f.HoldStore.Create(ctx, h)
}

// slowTokens pauses after every FindLive read, widening the gap between
// looking for a live token and inserting a new one.
type slowTokens struct {
	TokenStore
	delay time.Duration
}

func (s *slowTokens) FindLive(ctx context.Context, userID string, eventID uint64) (model.AdmissionToken, error) {
	t, err := s.TokenStore.FindLive(ctx, userID, eventID)
	time.Sleep(s.delay)
	return t, err
}

// heartbeatWatch records, each time a token of the watched user turns
// ACTIVE, whether that user's heartbeat key already existed.
type heartbeatWatch struct {
	TokenStore
	locks      lockbridge.Store
	userID     string
	eventID    uint64
	failCreate bool

	mu   sync.Mutex
	seen []bool
}

func (w *heartbeatWatch) record(ctx context.Context) {
	alive, _ := w.locks.Exists(ctx, lockbridge.HeartbeatKey(w.userID, w.eventID))
	w.mu.Lock()
	w.seen = append(w.seen, alive)
	w.mu.Unlock()
}

func (w *heartbeatWatch) observed() []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]bool(nil), w.seen...)
}

func (w *heartbeatWatch) Create(ctx context.Context, t *model.AdmissionToken) error {
	if t.UserID == w.userID && t.Status == model.TokenActive {
		w.record(ctx)
	}
	if w.failCreate {
		return errInjected
	}
	return w.TokenStore.Create(ctx, t)
}

func (w *heartbeatWatch) Transition(ctx context.Context, id uint64, from, to model.TokenStatus, bookingExpiresAt *time.Time) error {
	if to == model.TokenActive {
		if live, err := w.TokenStore.FindLive(ctx, w.userID, w.eventID); err == nil && live.ID == id {
			w.record(ctx)
		}
	}
	return w.TokenStore.Transition(ctx, id, from, to, bookingExpiresAt)
}

type admissionFixture struct {
	clock  *testClock
	ledger *memrepo.Ledger
	locks  *lockbridge.MemoryStore
	sink   *recordingSink
	ctl    *AdmissionController
	cfg    AdmissionConfig
}

func newAdmissionFixture(t *testing.T, maxActive int) *admissionFixture {
	t.Helper()
	clock := newTestClock()
	ledger := memrepo.New(clock.Now)
	locks := lockbridge.NewMemoryStore().WithClock(clock.Now)
	sink := &recordingSink{}
	log, _ := quietLogger()
	cfg := AdmissionConfig{
		MaxActive:         maxActive,
		WaitPerPerson:     30 * time.Second,
		BookingWindow:     10 * time.Minute,
		WaitingTTL:        2 * time.Hour,
		ActiveTTL:         30 * time.Minute,
		InactivityTimeout: 5 * time.Minute,
		CounterTTL:        24 * time.Hour,
	}
	ctl := NewAdmissionController(AdmissionDeps{
		Tokens:  ledger.Tokens,
		Locks:   locks,
		Audit:   sink,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Log:     log,
	}, cfg)
	ctl.now = clock.Now
	return &admissionFixture{clock: clock, ledger: ledger, locks: locks, sink: sink, ctl: ctl, cfg: cfg}
}

// counter reads the active session counter of eventID.
func (f *admissionFixture) counter(t *testing.T, eventID uint64) string {
	t.Helper()
	v, ok, err := f.locks.Get(context.Background(), lockbridge.ActiveCounterKey(eventID))
	require.NoError(t, err)
	if !ok {
		return "0"
	}
	return v
}

func (f *admissionFixture) token(t *testing.T, token string) model.AdmissionToken {
	t.Helper()
	tok, err := f.ledger.Tokens.FindByToken(context.Background(), token)
	require.NoError(t, err)
	return tok
}
