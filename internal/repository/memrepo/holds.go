package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/repository"
)

// HoldRepo stores seat holds.
type HoldRepo struct {
	mu     sync.Mutex
	holds  map[uint64]model.Hold
	nextID uint64
	now    func() time.Time
}

func newHoldRepo(now func() time.Time) *HoldRepo {
	return &HoldRepo{holds: make(map[uint64]model.Hold), now: now}
}

func (r *HoldRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holds)
}

func (r *HoldRepo) ActiveForSeat(_ context.Context, seatID uint64) (model.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best model.Hold
	for _, h := range r.holds {
		if h.SeatID == seatID && h.Status == model.HoldActive && h.ID > best.ID {
			best = h
		}
	}
	if best.ID == 0 {
		return model.Hold{}, repository.ErrNotFound
	}
	return best, nil
}

func (r *HoldRepo) Create(_ context.Context, h *model.Hold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h.ID = r.nextID
	h.Status = model.HoldActive
	h.CreatedAt = r.now()
	h.UpdatedAt = h.CreatedAt
	r.holds[h.ID] = *h
	return nil
}

func (r *HoldRepo) Extend(_ context.Context, holdID uint64, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[holdID]
	if !ok || h.Status != model.HoldActive {
		return repository.ErrStaleStatus
	}
	h.ExpiresAt = expiresAt
	h.UpdatedAt = r.now()
	r.holds[holdID] = h
	return nil
}

func (r *HoldRepo) Transition(_ context.Context, holdID uint64, from, to model.HoldStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.holds[holdID]
	if !ok || h.Status != from {
		return repository.ErrStaleStatus
	}
	h.Status = to
	h.UpdatedAt = r.now()
	r.holds[holdID] = h
	return nil
}

func (r *HoldRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Hold
	for _, h := range r.holds {
		if h.Status == model.HoldActive && h.ExpiresAt.Before(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *HoldRepo) ListActiveByUser(_ context.Context, userID string) ([]model.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Hold
	for _, h := range r.holds {
		if h.UserID == userID && h.Status == model.HoldActive {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *HoldRepo) ExpiredForSeats(_ context.Context, seatIDs []uint64, now time.Time) ([]model.Hold, error) {
	want := make(map[uint64]bool, len(seatIDs))
	for _, id := range seatIDs {
		want[id] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Hold
	for _, h := range r.holds {
		if want[h.SeatID] && h.Status == model.HoldActive && h.ExpiresAt.Before(now) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
