// Package metrics holds the Prometheus collectors of the reservation
// engine.  Collectors are registered on the registry handed to New, so
// tests can use a private registry; every method is safe on a nil
// *Collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Collectors struct {
	holdAttempts    *prometheus.CounterVec
	seatOperations  *prometheus.CounterVec
	seatsReaped     prometheus.Counter
	admission       *prometheus.CounterVec
	tokensExpired   *prometheus.CounterVec
	activeSessions  *prometheus.GaugeVec
	reaperDuration  prometheus.Histogram
	reaperSkipped   prometheus.Counter
	tokensJanitored prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		holdAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seat_hold_attempts_total",
			Help: "Seat hold acquisitions by result",
		}, []string{"result"}),
		seatOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seat_operations_total",
			Help: "Seat release/confirm/cancel operations by result",
		}, []string{"op", "result"}),
		seatsReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "seats_reaped_total",
			Help: "Expired seat holds released by the reaper",
		}),
		admission: f.NewCounterVec(prometheus.CounterOpts{
			Name: "admission_decisions_total",
			Help: "Queue admission decisions by outcome",
		}, []string{"outcome"}),
		tokensExpired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_tokens_expired_total",
			Help: "Admission tokens expired by reason",
		}, []string{"reason"}),
		activeSessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_active_sessions",
			Help: "Active session counter per event as last observed",
		}, []string{"event_id"}),
		reaperDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "reaper_run_duration_seconds",
			Help:    "Duration of one reaper pass",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		reaperSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "reaper_skipped_total",
			Help: "Reaper ticks skipped because a pass was still running",
		}),
		tokensJanitored: f.NewCounter(prometheus.CounterOpts{
			Name: "queue_tokens_deleted_total",
			Help: "Finished admission tokens deleted by the janitor",
		}),
	}
}

func (c *Collectors) HoldAttempt(result string) {
	if c == nil {
		return
	}
	c.holdAttempts.WithLabelValues(result).Inc()
}

func (c *Collectors) SeatOperation(op, result string) {
	if c == nil {
		return
	}
	c.seatOperations.WithLabelValues(op, result).Inc()
}

func (c *Collectors) SeatsReaped(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.seatsReaped.Add(float64(n))
}

func (c *Collectors) Admission(outcome string) {
	if c == nil {
		return
	}
	c.admission.WithLabelValues(outcome).Inc()
}

func (c *Collectors) TokenExpired(reason string) {
	if c == nil {
		return
	}
	c.tokensExpired.WithLabelValues(reason).Inc()
}

func (c *Collectors) ActiveSessions(eventID string, n int64) {
	if c == nil {
		return
	}
	c.activeSessions.WithLabelValues(eventID).Set(float64(n))
}

func (c *Collectors) ReaperRun(d time.Duration) {
	if c == nil {
		return
	}
	c.reaperDuration.Observe(d.Seconds())
}

func (c *Collectors) ReaperSkipped() {
	if c == nil {
		return
	}
	c.reaperSkipped.Inc()
}

func (c *Collectors) TokensDeleted(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.tokensJanitored.Add(float64(n))
}
