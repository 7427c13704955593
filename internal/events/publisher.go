package events

import (
	"context"
	"encoding/json"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// AuditQueue is the durable queue audit events are routed to.
const AuditQueue = "reservation.audit"

// amqpChannel is the subset of *amqp.Channel the publisher uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel and returns it with the connection to close.
type dialFunc func(url string) (amqpChannel, io.Closer, error)

func dialAMQP(url string) (amqpChannel, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// Publisher buffers audit events in memory and publishes them from a single
// goroutine (Run).  Publish drops the event when the buffer is full.  The
// broker connection is opened lazily and reopened after a failure.
type Publisher struct {
	url   string
	queue string
	buf   chan AuditEvent
	log   logrus.FieldLogger
	dial  dialFunc
	ch    amqpChannel
	conn  io.Closer
}

// NewPublisher returns a Publisher for the broker at url with room for
// size pending events.
func NewPublisher(url string, size int, log logrus.FieldLogger) *Publisher {
	if size <= 0 {
		size = 1024
	}
	return &Publisher{
		url:   url,
		queue: AuditQueue,
		buf:   make(chan AuditEvent, size),
		log:   log.WithField("component", "audit-publisher"),
		dial:  dialAMQP,
	}
}

// Publish enqueues ev without blocking.
func (p *Publisher) Publish(_ context.Context, ev AuditEvent) {
	select {
	case p.buf <- ev:
	default:
		p.log.WithFields(logrus.Fields{"action": ev.Action, "id": ev.ID}).Warn("audit buffer full, dropping event")
	}
}

// Run drains the buffer until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	defer p.close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.buf:
			if err := p.send(ctx, ev); err != nil {
				p.log.WithError(err).WithField("action", ev.Action).Warn("audit publish failed")
				p.close()
			}
		}
	}
}

func (p *Publisher) send(ctx context.Context, ev AuditEvent) error {
	if p.ch == nil {
		ch, conn, err := p.dial(p.url)
		if err != nil {
			return err
		}
		// Durable so messages survive broker restarts.
		if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
		p.ch, p.conn = ch, conn
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.ch.PublishWithContext(pctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *Publisher) close() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
