// Package worker runs the periodic maintenance loops: the reaper that
// expires stale seat holds and admission tokens, and the janitor that
// deletes old finished tokens.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/metrics"
)

// HoldReaper releases expired seat holds.
type HoldReaper interface {
	ReapExpired(ctx context.Context, batchSize int) (int, error)
}

// QueueSweeper expires admission tokens past their deadline or heartbeat.
type QueueSweeper interface {
	SweepExpired(ctx context.Context, batchSize int) (int, error)
	SweepHeartbeats(ctx context.Context, batchSize int) (int, error)
}

// ReapResult summarizes one reaper pass.
type ReapResult struct {
	Holds          int  `json:"holds_released"`
	ExpiredTokens  int  `json:"tokens_expired"`
	InactiveTokens int  `json:"tokens_inactive"`
	Skipped        bool `json:"skipped"`
	Failures       int  `json:"failures"`
}

// Reaper periodically releases expired holds and expires stale tokens.
// Passes never overlap: a tick that finds the previous pass still running
// is skipped.
type Reaper struct {
	holds    HoldReaper
	queue    QueueSweeper
	interval time.Duration
	batch    int
	metrics  *metrics.Collectors
	log      logrus.FieldLogger

	running sync.Mutex
}

func NewReaper(holds HoldReaper, queue QueueSweeper, interval time.Duration, batch int, m *metrics.Collectors, log logrus.FieldLogger) *Reaper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reaper{
		holds:    holds,
		queue:    queue,
		interval: interval,
		batch:    batch,
		metrics:  m,
		log:      log.WithField("worker", "reaper"),
	}
}

// Run ticks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.WithField("interval", r.interval.String()).Info("reaper started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass unless one is already in progress.
func (r *Reaper) RunOnce(ctx context.Context) ReapResult {
	if !r.running.TryLock() {
		r.metrics.ReaperSkipped()
		r.log.Debug("previous reaper pass still running; skipping")
		return ReapResult{Skipped: true}
	}
	defer r.running.Unlock()

	start := time.Now()
	var res ReapResult
	var err error

	if r.holds != nil {
		if res.Holds, err = r.holds.ReapExpired(ctx, r.batch); err != nil {
			res.Failures++
			r.log.WithError(err).Error("failed to reap expired holds")
		}
	}
	if r.queue != nil {
		if res.ExpiredTokens, err = r.queue.SweepExpired(ctx, r.batch); err != nil {
			res.Failures++
			r.log.WithError(err).Error("failed to expire admission tokens")
		}
		if res.InactiveTokens, err = r.queue.SweepHeartbeats(ctx, r.batch); err != nil {
			res.Failures++
			r.log.WithError(err).Error("failed to sweep inactive sessions")
		}
	}

	r.metrics.ReaperRun(time.Since(start))
	entry := r.log.WithFields(logrus.Fields{
		"holds":           res.Holds,
		"tokens_expired":  res.ExpiredTokens,
		"tokens_inactive": res.InactiveTokens,
		"failures":        res.Failures,
	})
	if res.Holds+res.ExpiredTokens+res.InactiveTokens > 0 || res.Failures > 0 {
		entry.Info("reaper pass completed")
	} else {
		entry.Debug("reaper pass completed")
	}
	return res
}
