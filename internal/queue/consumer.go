package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one notification event.  A returned error makes the
// consumer retry the message once.
type Handler interface {
	Handle(ctx context.Context, ev NotificationEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev NotificationEvent) error

func (f HandlerFunc) Handle(ctx context.Context, ev NotificationEvent) error { return f(ctx, ev) }

// Consumer reads notification events from a durable queue and hands them
// to a Handler.  It reconnects with exponential backoff until its context
// is cancelled.
type Consumer struct {
	url      string
	queue    string
	handler  Handler
	log      logrus.FieldLogger
	prefetch int
}

func NewConsumer(url, queue string, h Handler, log logrus.FieldLogger) *Consumer {
	return &Consumer{url: url, queue: queue, handler: h, log: log.WithField("component", "notification-consumer"), prefetch: 50}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.WithError(err).Warnf("dial broker failed; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.log.WithError(err).Warn("set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
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
			switch c.handle(ctx, d.Body, d.Redelivered) {
			case outcomeAck:
				_ = d.Ack(false)
			case outcomeRetry:
				_ = d.Nack(false, true)
			default:
				_ = d.Nack(false, false)
			}
		}
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
	outcomeDrop
)

// handle decodes and dispatches one message body.  Malformed bodies are
// dropped; handler failures are retried once and then dropped.
func (c *Consumer) handle(ctx context.Context, body []byte, redelivered bool) outcome {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.log.WithError(err).Error("malformed notification dropped")
		return outcomeDrop
	}
	log := c.log.WithFields(logrus.Fields{"kind": ev.Kind, "booking_id": ev.BookingID})
	if err := c.handler.Handle(ctx, ev); err != nil {
		if redelivered {
			log.WithError(err).Error("notification failed twice; dropped")
			return outcomeDrop
		}
		log.WithError(err).Warn("notification failed; requeued")
		return outcomeRetry
	}
	log.Debug("notification delivered")
	return outcomeAck
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
