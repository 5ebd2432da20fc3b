package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"logistics-auth/internal/metrics"
)

const publishTimeout = 5 * time.Second

type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPForwarder copies bus events to a durable RabbitMQ queue as persistent
// JSON messages.
type AMQPForwarder struct {
	url   string
	queue string

	conn *amqp.Connection
	ch   *amqp.Channel
	pub  channelPublisher
}

func NewAMQPForwarder(url string, queue string) (*AMQPForwarder, error) {
	f := &AMQPForwarder{url: url, queue: queue}
	if err := f.connect(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *AMQPForwarder) connect() error {
	conn, err := amqp.Dial(f.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(f.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("amqp queue declare %q: %w", f.queue, err)
	}

	f.conn, f.ch, f.pub = conn, ch, ch
	return nil
}

// Run forwards events until ctx is cancelled or events is closed.
func (f *AMQPForwarder) Run(ctx context.Context, events <-chan Event) {
	slog.Info("event forwarder started", "queue", f.queue)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := f.forward(ctx, e); err != nil {
				metrics.EventsForwardedTotal.WithLabelValues(metrics.ResultError).Inc()
				slog.Warn("event forward failed", "type", e.Type, "event_id", e.ID, "error", err)
				continue
			}
			metrics.EventsForwardedTotal.WithLabelValues(metrics.ResultSuccess).Inc()
		}
	}
}

func (f *AMQPForwarder) forward(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Type),
		Timestamp:    e.Timestamp,
		Body:         body,
	}

	err = f.publish(ctx, msg)
	if errors.Is(err, amqp.ErrClosed) && f.url != "" {
		slog.Info("amqp channel closed; reconnecting")
		f.Close()
		if connErr := f.connect(); connErr != nil {
			return connErr
		}
		err = f.publish(ctx, msg)
	}
	return err
}

func (f *AMQPForwarder) publish(ctx context.Context, msg amqp.Publishing) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	// Default exchange, routing key = queue name.
	return f.pub.PublishWithContext(pubCtx, "", f.queue, false, false, msg)
}

func (f *AMQPForwarder) Close() {
	if f.ch != nil {
		_ = f.ch.Close()
		f.ch = nil
	}
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}
