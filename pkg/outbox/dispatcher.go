package outbox

import (
	"context"
	"log/slog"
	"strconv"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/medsuy/appointment-system/pkg/tracing"
)

// Producer hands a message to the broker and returns once it is
// accepted. The AMQP implementation lives in pkg/mq.
type Producer interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Dispatcher publishes committed outbox events to a named durable queue
// with persistent delivery mode.
type Dispatcher struct {
	log      *slog.Logger
	producer Producer
	queue    string
}

func NewDispatcher(log *slog.Logger, producer Producer, queue string) *Dispatcher {
	return &Dispatcher{log: log, producer: producer, queue: queue}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := amqp.Table{"event_type": event.Type}
	tracing.InjectAMQPHeaders(ctx, headers)

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    strconv.FormatInt(event.ID, 10),
		Body:         event.Payload,
		Headers:      headers,
	}
	if err := d.producer.Publish(ctx, d.queue, msg); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "err", err)
		return err
	}
	d.log.Info("outbox dispatched", "event_id", event.ID, "type", event.Type)
	return nil
}
