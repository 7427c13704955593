package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []amqp.Publishing
	keys      []string
	failNext  bool
	closed    int
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("channel closed")
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newTestPublisher(ch *fakeChannel, size int) (*Publisher, *test.Hook) {
	logger, hook := test.NewNullLogger()
	p := NewPublisher("amqp://test", size, logger)
	p.dial = func(string) (amqpChannel, io.Closer, error) { return ch, nopCloser{}, nil }
	return p, hook
}

func TestPublisher_PublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p, _ := newTestPublisher(ch, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	ev := NewSeatEvent("hold_acquired", "u1", 3, []uint64{10, 11})
	p.Publish(ctx, ev)

	require.Eventually(t, func() bool { return ch.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{AuditQueue}, ch.declared)
	assert.Equal(t, AuditQueue, ch.keys[0])
	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, ev.ID, msg.MessageId)

	var got AuditEvent
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, ev, got)
}

func TestPublisher_RedialsAfterFailure(t *testing.T) {
	ch := &fakeChannel{failNext: true}
	p, hook := newTestPublisher(ch, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Publish(ctx, NewQueueEvent("token_issued", "u1", 1, "t1", "WAITING"))
	p.Publish(ctx, NewQueueEvent("token_used", "u1", 1, "t1", "USED"))

	require.Eventually(t, func() bool { return ch.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestPublisher_FullBufferDropsWithoutBlocking(t *testing.T) {
	p, hook := newTestPublisher(&fakeChannel{}, 1)
	ctx := context.Background()

	p.Publish(ctx, NewQueueEvent("a", "u1", 1, "", ""))
	p.Publish(ctx, NewQueueEvent("b", "u1", 1, "", ""))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "audit buffer full, dropping event", hook.LastEntry().Message)
}

func TestConsumer_HandleMessageAppendsLine(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := NewConsumer("amqp://test", logger)
	c.LogPath = filepath.Join(t.TempDir(), "logs", "audit.log")

	ev := AuditEvent{ID: "e1", Kind: KindSeat, Action: "hold_released", UserID: "u9", ScheduleID: 4,
		SeatIDs: []uint64{1, 2}, OccurredAt: "2026-01-01T00:00:00Z"}
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, c.handleMessage(body))
	require.NoError(t, c.handleMessage(body))

	data, err := os.ReadFile(c.LogPath)
	require.NoError(t, err)
	line := "[2026-01-01T00:00:00Z] seat.hold_released | id=e1 | user_id=u9 | schedule_id=4 | seats=[1,2]\n"
	assert.Equal(t, line+line, string(data))
}

func TestConsumer_RejectsMalformedBody(t *testing.T) {
	logger, _ := test.NewNullLogger()
	c := NewConsumer("amqp://test", logger)
	c.LogPath = filepath.Join(t.TempDir(), "audit.log")
	assert.Error(t, c.handleMessage([]byte("{not json")))
}
