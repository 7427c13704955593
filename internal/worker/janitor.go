package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/ticketing-reservation/internal/metrics"
)

// TokenCleaner deletes finished admission tokens older than a retention.
type TokenCleaner interface {
	CleanupFinished(ctx context.Context, retention time.Duration) (int64, error)
}

// TokenJanitor removes USED, EXPIRED and CANCELLED tokens once they are
// older than the retention period.
type TokenJanitor struct {
	tokens    TokenCleaner
	interval  time.Duration
	retention time.Duration
	metrics   *metrics.Collectors
	log       logrus.FieldLogger
}

func NewTokenJanitor(tokens TokenCleaner, interval, retention time.Duration, m *metrics.Collectors, log logrus.FieldLogger) *TokenJanitor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TokenJanitor{
		tokens:    tokens,
		interval:  interval,
		retention: retention,
		metrics:   m,
		log:       log.WithField("worker", "token-janitor"),
	}
}

func (j *TokenJanitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.log.WithField("retention", j.retention.String()).Info("token janitor started")
	for {
		select {
		case <-ctx.Done():
			j.log.Info("token janitor stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce deletes one round of old tokens and returns how many went away.
func (j *TokenJanitor) RunOnce(ctx context.Context) int64 {
	n, err := j.tokens.CleanupFinished(ctx, j.retention)
	if err != nil {
		j.log.WithError(err).Error("failed to delete finished tokens")
		return 0
	}
	j.metrics.TokensDeleted(n)
	if n > 0 {
		j.log.WithField("deleted", n).Info("finished tokens deleted")
	}
	return n
}
