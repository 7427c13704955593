package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticketing-reservation/internal/lockbridge"
	"github.com/iliyamo/ticketing-reservation/internal/model"
)

func TestAcquireHold_ConcurrentCallersOneWinner(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()
	seat := f.seatIDs[0]

	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		mu     sync.Mutex
		wins   int
		losses []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			<-start
			_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{seat}, UserID: user, SessionID: "sess-" + user})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			losses = append(losses, err)
		}(fmt.Sprintf("user-%d", i))
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Len(t, losses, 1)
	assert.True(t, errorsIsAny(losses[0], ErrLockContention, ErrHeldByOther), "unexpected loser error %v", losses[0])
	assert.Equal(t, 9, f.available(t, f.schedule.ID))
	assert.Equal(t, model.SeatLocked, f.seat(t, seat).Status)
	f.requireCounterMatches(t, f.schedule.ID)
}

func TestAcquireHold_ManyCallersManySeats(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ids := []uint64{f.seatIDs[i%10], f.seatIDs[(i+1)%10]}
			_, _ = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: ids, UserID: fmt.Sprintf("u%d", i), SessionID: fmt.Sprintf("s%d", i)})
		}(i)
	}
	close(start)
	wg.Wait()

	f.requireCounterMatches(t, f.schedule.ID)
	for _, id := range f.seatIDs {
		s := f.seat(t, id)
		h, err := f.ledger.Holds.ActiveForSeat(ctx, id)
		if s.Status == model.SeatLocked {
			require.NoError(t, err, "locked seat %d has no active hold", id)
			v, ok, err := f.locks.Get(ctx, lockbridge.SeatLockKey(id))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, h.LockValue(), v)
		} else {
			assert.Error(t, err, "available seat %d still has an active hold", id)
		}
	}
}

func TestAcquireHold_AllOrNothing(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[1]}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)

	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0], f.seatIDs[1]}, UserID: "bob", SessionID: "b1"})
	require.ErrorIs(t, err, ErrHeldByOther)

	assert.Equal(t, model.SeatAvailable, f.seat(t, f.seatIDs[0]).Status)
	_, ok, err := f.locks.Get(ctx, lockbridge.SeatLockKey(f.seatIDs[0]))
	require.NoError(t, err)
	assert.False(t, ok, "lock of the untouched seat must not survive")
	assert.Equal(t, 9, f.available(t, f.schedule.ID))
}

func TestAcquireHold_SameHolderExtends(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()
	req := HoldRequest{SeatIDs: []uint64{f.seatIDs[0], f.seatIDs[1]}, UserID: "alice", SessionID: "a1"}

	first, err := f.mgr.AcquireHold(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, first.NewlyLocked)

	f.clock.Advance(f.holdPeriod / 2)
	// Same session, different user id: still the holder.
	second, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: req.SeatIDs, UserID: "alice-other-device", SessionID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewlyLocked)
	assert.True(t, second.ExpiresAt.After(first.ExpiresAt))
	assert.Equal(t, 8, f.available(t, f.schedule.ID))

	h, err := f.ledger.Holds.ActiveForSeat(ctx, f.seatIDs[0])
	require.NoError(t, err)
	assert.Equal(t, second.ExpiresAt, h.ExpiresAt)
}

func TestAcquireHold_Rejections(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0], 99999}, UserID: "u", SessionID: "s"})
	assert.ErrorIs(t, err, ErrPartiallyMissing)

	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0], f.seatIDsB[0]}, UserID: "u", SessionID: "s"})
	assert.ErrorIs(t, err, ErrMixedSchedules)

	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0]}, UserID: "u", SessionID: "s", ScheduleID: f.scheduleB.ID})
	assert.ErrorIs(t, err, ErrMixedSchedules)

	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[2]}, UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	ok, err := f.mgr.ConfirmHold(ctx, []uint64{f.seatIDs[2]}, "u")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[2]}, UserID: "v", SessionID: "t"})
	assert.ErrorIs(t, err, ErrAlreadyBooked)

	res, err := f.mgr.AcquireHold(ctx, HoldRequest{UserID: "u", SessionID: "s"})
	require.NoError(t, err)
	assert.Empty(t, res.SeatIDs)

	assert.Equal(t, 9, f.available(t, f.schedule.ID))
	assert.Equal(t, 10, f.available(t, f.scheduleB.ID))
}

func TestAcquireHold_RollsBackOnCounterFailure(t *testing.T) {
	f := newSeatFixtureWith(t, func(d *SeatLockDeps) {
		d.Schedules = &failingSchedules{ScheduleStore: d.Schedules, every: 1}
	})
	ctx := context.Background()
	ids := []uint64{f.seatIDs[0], f.seatIDs[1]}

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: ids, UserID: "alice", SessionID: "a1"})
	require.ErrorIs(t, err, errInjected)

	for _, id := range ids {
		assert.Equal(t, model.SeatAvailable, f.seat(t, id).Status)
		_, err := f.ledger.Holds.ActiveForSeat(ctx, id)
		assert.Error(t, err)
		_, ok, err := f.locks.Get(ctx, lockbridge.SeatLockKey(id))
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, 10, f.available(t, f.schedule.ID))
}

func TestAcquireHold_ExpiredHoldIsReapedFirst(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()
	seat := f.seatIDs[0]

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{seat}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)
	f.clock.Advance(f.holdPeriod + 1)

	res, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{seat}, UserID: "bob", SessionID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewlyLocked)
	assert.Equal(t, 9, f.available(t, f.schedule.ID))

	h, err := f.ledger.Holds.ActiveForSeat(ctx, seat)
	require.NoError(t, err)
	assert.Equal(t, "bob", h.UserID)
}

func TestReleaseHold(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()
	ids := []uint64{f.seatIDs[0], f.seatIDs[1]}

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: ids, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)

	ok, err := f.mgr.ReleaseHold(ctx, ids, "mallory", "m1", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 8, f.available(t, f.schedule.ID))

	ok, err = f.mgr.ReleaseHold(ctx, ids, "alice", "", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, f.available(t, f.schedule.ID))

	// Releasing again is a no-op.
	ok, err = f.mgr.ReleaseHold(ctx, ids, "alice", "", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, f.available(t, f.schedule.ID))

	for _, id := range ids {
		_, found, err := f.locks.Get(ctx, lockbridge.SeatLockKey(id))
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Contains(t, f.sink.actions(), "hold_released")
}

func TestReleaseHold_Elevated(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[3]}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)

	ok, err := f.mgr.ReleaseHold(ctx, []uint64{f.seatIDs[3]}, "admin", "", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.SeatAvailable, f.seat(t, f.seatIDs[3]).Status)
	f.requireCounterMatches(t, f.schedule.ID)
}

func TestConfirmHold(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()
	ids := []uint64{f.seatIDs[0], f.seatIDs[1]}

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: ids, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)

	_, err = f.mgr.ConfirmHold(ctx, ids, "bob")
	assert.ErrorIs(t, err, ErrUnauthorized)

	ok, err := f.mgr.ConfirmHold(ctx, ids, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	for _, id := range ids {
		assert.Equal(t, model.SeatBooked, f.seat(t, id).Status)
		_, found, err := f.locks.Get(ctx, lockbridge.SeatLockKey(id))
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, 8, f.available(t, f.schedule.ID))

	// Booked seats survive a reaper pass long after the hold would have expired.
	f.clock.Advance(2 * f.holdPeriod)
	n, err := f.mgr.ReapExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.SeatBooked, f.seat(t, ids[0]).Status)
	f.requireCounterMatches(t, f.schedule.ID)
}

func TestConfirmHold_PartialOwnershipBooksNothing(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0]}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)
	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[1]}, UserID: "bob", SessionID: "b1"})
	require.NoError(t, err)

	ok, err := f.mgr.ConfirmHold(ctx, []uint64{f.seatIDs[0], f.seatIDs[1]}, "alice")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, ok)
	assert.Equal(t, model.SeatLocked, f.seat(t, f.seatIDs[0]).Status)
	assert.Equal(t, model.SeatLocked, f.seat(t, f.seatIDs[1]).Status)

	h, err := f.ledger.Holds.ActiveForSeat(ctx, f.seatIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.HoldActive, h.Status)
}

func TestConfirmHold_ExpiredHold(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()
	seat := f.seatIDs[0]

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{seat}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)
	f.clock.Advance(f.holdPeriod + 1)

	_, err = f.mgr.ConfirmHold(ctx, []uint64{seat}, "alice")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, model.SeatLocked, f.seat(t, seat).Status)
}

func TestReapExpired_ThenConfirmFails(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()
	ids := []uint64{f.seatIDs[0], f.seatIDs[1], f.seatIDs[2]}

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: ids, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 7, f.available(t, f.schedule.ID))

	f.clock.Advance(f.holdPeriod + 1)
	n, err := f.mgr.ReapExpired(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 10, f.available(t, f.schedule.ID))

	ok, err := f.mgr.ConfirmHold(ctx, ids, "alice")
	assert.False(t, ok)
	assert.True(t, errorsIsAny(err, ErrUnauthorized, ErrExpired), "unexpected error %v", err)

	n, err = f.mgr.ReapExpired(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, f.sink.actions(), "hold_expired")
}

func TestCancelBooked(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()
	seat := f.seatIDs[4]

	// Cancelling an AVAILABLE seat changes nothing.
	ok, err := f.mgr.CancelBooked(ctx, []uint64{seat})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, f.available(t, f.schedule.ID))

	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{seat}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)
	_, err = f.mgr.ConfirmHold(ctx, []uint64{seat}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 9, f.available(t, f.schedule.ID))

	ok, err = f.mgr.CancelBooked(ctx, []uint64{seat, seat})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.SeatAvailable, f.seat(t, seat).Status)
	assert.Equal(t, 10, f.available(t, f.schedule.ID))

	ok, err = f.mgr.CancelBooked(ctx, []uint64{seat})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, f.available(t, f.schedule.ID))
}

func TestResolveSeatsAndAvailability(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	ids, err := f.mgr.ResolveSeats(ctx, f.schedule.ID, []model.SeatSelector{
		{Zone: "A", RowLabel: "1", ColNum: 3},
		{Grade: "R", Zone: "A", RowLabel: "1", ColNum: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{f.seatIDs[2], f.seatIDs[3]}, ids)

	_, err = f.mgr.ResolveSeats(ctx, f.schedule.ID, []model.SeatSelector{{Zone: "Z", RowLabel: "9", ColNum: 1}})
	assert.ErrorIs(t, err, ErrPartiallyMissing)

	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: ids, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)

	av, err := f.mgr.Availability(ctx, f.schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeatCounts{Available: 8, Locked: 2}, av.Counts)
	assert.Equal(t, 8, av.Schedule.AvailableSeats)
	assert.Len(t, av.Seats, 10)

	_, err = f.mgr.Availability(ctx, 424242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSeatLockMetrics(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0]}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)
	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0]}, UserID: "bob", SessionID: "b1"})
	require.Error(t, err)

	n, err := testutil.GatherAndCount(f.reg, "seat_hold_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per result label")
}

// TestCounterInvariantUnderRandomOperations drives random acquire, release,
// confirm, cancel and reap calls from several goroutines, with injected
// ledger failures, and checks that the available counter always matches the
// seat statuses afterwards.
func TestCounterInvariantUnderRandomOperations(t *testing.T) {
	f := newSeatFixtureWith(t, func(d *SeatLockDeps) {
		d.Schedules = &failingSchedules{ScheduleStore: d.Schedules, every: 7}
		d.Holds = &failingHolds{HoldStore: d.Holds, every: 11}
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w) + 1))
			user := fmt.Sprintf("user-%d", w%4)
			session := fmt.Sprintf("sess-%d", w)
			for i := 0; i < 150; i++ {
				pick := []uint64{f.seatIDs[rng.Intn(10)], f.seatIDs[rng.Intn(10)]}
				switch rng.Intn(6) {
				case 0, 1:
					_, _ = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: pick, UserID: user, SessionID: session})
				case 2:
					_, _ = f.mgr.ReleaseHold(ctx, pick, user, session, false)
				case 3:
					_, _ = f.mgr.ConfirmHold(ctx, pick, user)
				case 4:
					_, _ = f.mgr.CancelBooked(ctx, pick[:1])
				case 5:
					if rng.Intn(4) == 0 {
						f.clock.Advance(f.holdPeriod / 4)
					}
					_, _ = f.mgr.ReapExpired(ctx, 3)
				}
			}
		}(w)
	}
	wg.Wait()
	f.requireCounterMatches(t, f.schedule.ID)

	// Once every hold lapses and is reaped no seat stays LOCKED.
	f.clock.Advance(2 * f.holdPeriod)
	_, err := f.mgr.ReapExpired(ctx, 4)
	require.NoError(t, err)
	counts, err := f.ledger.Seats.CountByStatus(ctx, f.schedule.ID)
	require.NoError(t, err)
	assert.Zero(t, counts.Locked)
	f.requireCounterMatches(t, f.schedule.ID)
}

func TestReleaseUserHolds(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0], f.seatIDs[1]}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)
	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDsB[0]}, UserID: "alice", SessionID: "a2"})
	require.NoError(t, err)
	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[2]}, UserID: "bob", SessionID: "b1"})
	require.NoError(t, err)

	// Expired holds go too.
	f.clock.Advance(f.holdPeriod + 1)
	n, err := f.mgr.ReleaseUserHolds(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []uint64{f.seatIDs[0], f.seatIDs[1], f.seatIDsB[0]} {
		assert.Equal(t, model.SeatAvailable, f.seat(t, id).Status)
		_, ok, err := f.locks.Get(ctx, lockbridge.SeatLockKey(id))
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.Equal(t, model.SeatLocked, f.seat(t, f.seatIDs[2]).Status)
	assert.Equal(t, 9, f.available(t, f.schedule.ID))
	assert.Equal(t, 10, f.available(t, f.scheduleB.ID))
	f.requireCounterMatches(t, f.schedule.ID)
	f.requireCounterMatches(t, f.scheduleB.ID)

	n, err = f.mgr.ReleaseUserHolds(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSeatsAvailable(t *testing.T) {
	f := newSeatFixture(t)
	ctx := context.Background()

	_, err := f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[0]}, UserID: "alice", SessionID: "a1"})
	require.NoError(t, err)
	_, err = f.mgr.AcquireHold(ctx, HoldRequest{SeatIDs: []uint64{f.seatIDs[1]}, UserID: "bob", SessionID: "b1"})
	require.NoError(t, err)
	ok, err := f.mgr.ConfirmHold(ctx, []uint64{f.seatIDs[1]}, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	cases := []struct {
		name  string
		seats []uint64
		user  string
		want  bool
	}{
		{"free seats", []uint64{f.seatIDs[2], f.seatIDs[3]}, "alice", true},
		{"own hold", []uint64{f.seatIDs[0], f.seatIDs[2]}, "alice", true},
		{"own hold without user", []uint64{f.seatIDs[0]}, "", false},
		{"someone else's hold", []uint64{f.seatIDs[0]}, "bob", false},
		{"booked", []uint64{f.seatIDs[1]}, "bob", false},
		{"missing seat", []uint64{f.seatIDs[2], 99999}, "alice", false},
		{"empty", nil, "alice", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := f.mgr.SeatsAvailable(ctx, tc.seats, tc.user)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	f.clock.Advance(f.holdPeriod + 1)
	got, err := f.mgr.SeatsAvailable(ctx, []uint64{f.seatIDs[0]}, "alice")
	require.NoError(t, err)
	assert.False(t, got, "an expired hold no longer counts")
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []uint64{3, 1, 2}, dedupe([]uint64{3, 0, 1, 3, 2, 1}))
	assert.Empty(t, dedupe(nil))
}

func errorsIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
