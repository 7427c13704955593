package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors_CountByLabel(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.HoldAttempt("success")
	c.HoldAttempt("success")
	c.HoldAttempt("lock_contention")
	c.SeatsReaped(3)
	c.SeatsReaped(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.holdAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.holdAttempts.WithLabelValues("lock_contention")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.seatsReaped))
}

func TestCollectors_NilSafe(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.HoldAttempt("success")
		c.Admission("active")
		c.ReaperSkipped()
		c.ActiveSessions("1", 2)
	})
}
