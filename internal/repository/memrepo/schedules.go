package memrepo

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/repository"
)

// ScheduleRepo stores schedules and their available counters.
type ScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uint64]model.Schedule
	nextID    uint64
	now       func() time.Time
}

func newScheduleRepo(now func() time.Time) *ScheduleRepo {
	return &ScheduleRepo{schedules: make(map[uint64]model.Schedule), now: now}
}

func (r *ScheduleRepo) insert(eventID uint64, total int) model.Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s := model.Schedule{
		ID:             r.nextID,
		EventID:        eventID,
		TotalSeats:     total,
		AvailableSeats: total,
		Status:         "OPEN",
		CreatedAt:      r.now(),
		UpdatedAt:      r.now(),
	}
	r.schedules[s.ID] = s
	return s
}

func (r *ScheduleRepo) Get(_ context.Context, id uint64) (model.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return model.Schedule{}, repository.ErrNotFound
	}
	return s, nil
}

func (r *ScheduleRepo) DecrementAvailable(_ context.Context, id uint64, n int) error {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || s.AvailableSeats < n {
		return repository.ErrSoldOut
	}
	s.AvailableSeats -= n
	s.UpdatedAt = r.now()
	r.schedules[id] = s
	return nil
}

func (r *ScheduleRepo) IncrementAvailable(_ context.Context, id uint64, n int) error {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok || s.AvailableSeats+n > s.TotalSeats {
		return repository.ErrCounterOverflow
	}
	s.AvailableSeats += n
	s.UpdatedAt = r.now()
	r.schedules[id] = s
	return nil
}
