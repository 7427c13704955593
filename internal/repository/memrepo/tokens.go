package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/ticketing-reservation/internal/model"
	"github.com/iliyamo/ticketing-reservation/internal/repository"
)

// TokenRepo stores admission tokens.
type TokenRepo struct {
	mu     sync.Mutex
	tokens map[uint64]model.AdmissionToken
	nextID uint64
	now    func() time.Time
}

func newTokenRepo(now func() time.Time) *TokenRepo {
	return &TokenRepo{tokens: make(map[uint64]model.AdmissionToken), now: now}
}

func (r *TokenRepo) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// fifoLess orders tokens by (issued_at, id).
func fifoLess(a, b model.AdmissionToken) bool {
	if !a.IssuedAt.Equal(b.IssuedAt) {
		return a.IssuedAt.Before(b.IssuedAt)
	}
	return a.ID < b.ID
}

func (r *TokenRepo) filter(keep func(model.AdmissionToken) bool) []model.AdmissionToken {
	var out []model.AdmissionToken
	for _, t := range r.tokens {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (r *TokenRepo) Create(_ context.Context, t *model.AdmissionToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.tokens {
		if existing.Token == t.Token {
			return repository.ErrConflict
		}
	}
	r.nextID++
	t.ID = r.nextID
	t.CreatedAt = r.now()
	t.UpdatedAt = t.CreatedAt
	r.tokens[t.ID] = *t
	return nil
}

func (r *TokenRepo) FindByToken(_ context.Context, token string) (model.AdmissionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Token == token {
			return t, nil
		}
	}
	return model.AdmissionToken{}, repository.ErrNotFound
}

func (r *TokenRepo) FindLive(_ context.Context, userID string, eventID uint64) (model.AdmissionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.filter(func(t model.AdmissionToken) bool {
		return t.UserID == userID && t.EventID == eventID && t.Status.IsLive()
	})
	if len(live) == 0 {
		return model.AdmissionToken{}, repository.ErrNotFound
	}
	sort.Slice(live, func(i, j int) bool { return fifoLess(live[j], live[i]) })
	return live[0], nil
}

func (r *TokenRepo) ListLiveByUser(_ context.Context, userID string) ([]model.AdmissionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(t model.AdmissionToken) bool { return t.UserID == userID && t.Status.IsLive() })
	sort.Slice(out, func(i, j int) bool { return fifoLess(out[i], out[j]) })
	return out, nil
}

func (r *TokenRepo) CountWaitingBefore(_ context.Context, eventID uint64, issuedAt time.Time, id uint64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref := model.AdmissionToken{IssuedAt: issuedAt, ID: id}
	return len(r.filter(func(t model.AdmissionToken) bool {
		return t.EventID == eventID && t.Status == model.TokenWaiting && fifoLess(t, ref)
	})), nil
}

func (r *TokenRepo) CountByStatus(_ context.Context, eventID uint64, status model.TokenStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.filter(func(t model.AdmissionToken) bool {
		return t.EventID == eventID && t.Status == status
	})), nil
}

func (r *TokenRepo) ListWaiting(_ context.Context, eventID uint64, limit int) ([]model.AdmissionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(t model.AdmissionToken) bool {
		return t.EventID == eventID && t.Status == model.TokenWaiting
	})
	sort.Slice(out, func(i, j int) bool { return fifoLess(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TokenRepo) Transition(_ context.Context, id uint64, from, to model.TokenStatus, bookingExpiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.Status != from {
		return repository.ErrStaleStatus
	}
	t.Status = to
	if to == model.TokenActive {
		t.BookingExpiresAt = bookingExpiresAt
		t.Position = 0
		t.EstimatedWait = 0
	}
	t.UpdatedAt = r.now()
	r.tokens[id] = t
	return nil
}

func (r *TokenRepo) UpdatePosition(_ context.Context, id uint64, position, waitSeconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.Status != model.TokenWaiting {
		return nil
	}
	t.Position = position
	t.EstimatedWait = waitSeconds
	r.tokens[id] = t
	return nil
}

func (r *TokenRepo) ListActive(_ context.Context, afterID uint64, limit int) ([]model.AdmissionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(t model.AdmissionToken) bool { return t.Status == model.TokenActive && t.ID > afterID })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TokenRepo) ListExpired(_ context.Context, now time.Time, limit int) ([]model.AdmissionToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.filter(func(t model.AdmissionToken) bool { return t.IsExpired(now) })
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TokenRepo) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if !t.Status.IsLive() && t.UpdatedAt.Before(cutoff) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}
