package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer reads the audit queue and appends one line per event to a log
// file.  Run keeps reconnecting with backoff until its context ends.
type Consumer struct {
	URL     string
	Queue   string
	LogPath string
	Log     logrus.FieldLogger
}

// NewConsumer returns a Consumer writing to logs/audit.log.
func NewConsumer(url string, log logrus.FieldLogger) *Consumer {
	return &Consumer{
		URL:     url,
		Queue:   AuditQueue,
		LogPath: filepath.Join("logs", "audit.log"),
		Log:     log.WithField("component", "audit-consumer"),
	}
}

// Run connects to the broker, declares the queue and consumes messages.
// It returns only when ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.WithError(err).Warnf("failed to dial broker; retrying in %s", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.WithError(err).Warn("set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(d.Body); err != nil {
				c.Log.WithError(err).Warn("handle message failed")
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev AuditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

func formatLine(ev AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s.%s | id=%s", ev.OccurredAt, ev.Kind, ev.Action, ev.ID)
	if ev.UserID != "" {
		fmt.Fprintf(&b, " | user_id=%s", ev.UserID)
	}
	if ev.ScheduleID != 0 {
		fmt.Fprintf(&b, " | schedule_id=%d", ev.ScheduleID)
	}
	if ev.EventID != 0 {
		fmt.Fprintf(&b, " | event_id=%d", ev.EventID)
	}
	if len(ev.SeatIDs) > 0 {
		ids := make([]string, len(ev.SeatIDs))
		for i, id := range ev.SeatIDs {
			ids[i] = fmt.Sprint(id)
		}
		fmt.Fprintf(&b, " | seats=[%s]", strings.Join(ids, ","))
	}
	if ev.Token != "" {
		fmt.Fprintf(&b, " | token=%s", ev.Token)
	}
	if ev.Status != "" {
		fmt.Fprintf(&b, " | status=%s", ev.Status)
	}
	b.WriteString("\n")
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
