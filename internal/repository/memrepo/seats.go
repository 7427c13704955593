package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/repository"
)

// SeatRepo stores seats keyed by id.
type SeatRepo struct {
	mu     sync.Mutex
	seats  map[uint64]model.Seat
	nextID uint64
	now    func() time.Time
}

func newSeatRepo(now func() time.Time) *SeatRepo {
	return &SeatRepo{seats: make(map[uint64]model.Seat), now: now}
}

func (r *SeatRepo) insert(scheduleID uint64, seats []model.Seat) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(seats))
	for _, s := range seats {
		r.nextID++
		s.ID = r.nextID
		s.ScheduleID = scheduleID
		s.CreatedAt = r.now()
		s.UpdatedAt = s.CreatedAt
		r.seats[s.ID] = s
		ids = append(ids, s.ID)
	}
	return ids
}

func (r *SeatRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seats)
}

func (r *SeatRepo) GetByIDs(_ context.Context, ids []uint64) ([]model.Seat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Seat, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.seats[id]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SeatRepo) ResolveSelectors(_ context.Context, scheduleID uint64, selectors []model.SeatSelector) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(selectors))
	for _, sel := range selectors {
		var found uint64
		for id, s := range r.seats {
			if s.ScheduleID == scheduleID && s.Zone == sel.Zone && s.RowLabel == sel.RowLabel && s.ColNum == sel.ColNum &&
				(sel.Grade == "" || s.Grade == sel.Grade) {
				found = id
				break
			}
		}
		if found == 0 {
			return nil, repository.ErrNotFound
		}
		ids = append(ids, found)
	}
	return ids, nil
}

func (r *SeatRepo) UpdateStatus(_ context.Context, seatID, version uint64, status model.SeatStatus) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seats[seatID]
	if !ok || s.Version != version {
		return 0, repository.ErrVersionConflict
	}
	s.Status = status
	s.Version++
	s.UpdatedAt = r.now()
	r.seats[seatID] = s
	return s.Version, nil
}

func (r *SeatRepo) ListBySchedule(_ context.Context, scheduleID uint64) ([]model.Seat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Seat
	for _, s := range r.seats {
		if s.ScheduleID == scheduleID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Zone != b.Zone {
			return a.Zone < b.Zone
		}
		if a.RowLabel != b.RowLabel {
			return a.RowLabel < b.RowLabel
		}
		return a.ColNum < b.ColNum
	})
	return out, nil
}

func (r *SeatRepo) CountByStatus(_ context.Context, scheduleID uint64) (model.SeatCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c model.SeatCounts
	for _, s := range r.seats {
		if s.ScheduleID != scheduleID {
			continue
		}
		switch s.Status {
		case model.SeatAvailable:
			c.Available++
		case model.SeatLocked:
			c.Locked++
		case model.SeatBooked:
			c.Booked++
		}
	}
	return c, nil
}
