package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/medsuy/appointment-system/internal/notification/application"
	"github.com/medsuy/appointment-system/pkg/mq"
	"github.com/medsuy/appointment-system/pkg/tracing"
)

const retryCountHeader = "x-retry-count"

type Config struct {
	URL         string
	Queue       string
	DLX         string
	DLQ         string
	Prefetch    int
	MaxAttempts int
	ConsumerTag string
}

// Processor handles one message body; errors wrapping
// application.ErrPermanent are dropped, everything else is retried.
type Processor interface {
	Process(ctx context.Context, body []byte) error
}

// channelPublisher is the slice of *amqp.Channel the retry republish
// needs.
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer drains the durable notification queue with manual acks.
// Transient failures are republished with an incremented retry counter;
// at MaxAttempts the message is nacked without requeue and routed to
// the dead-letter exchange. The outer Run loop reconnects forever with
// exponential backoff and jitter.
type Consumer struct {
	log    *slog.Logger
	cfg    Config
	proc   Processor
	tracer trace.Tracer

	conn *amqp.Connection
	ch   *amqp.Channel
	pub  channelPublisher
}

func NewConsumer(log *slog.Logger, cfg Config, proc Processor) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "notification-worker"
	}
	return &Consumer{
		log:    log,
		cfg:    cfg,
		proc:   proc,
		tracer: otel.Tracer("notification-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := c.connect(); err != nil {
			attempt++
			wait := backoff(attempt)
			c.log.Error("broker connect failed", "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		c.log.Info("consuming", "queue", c.cfg.Queue, "prefetch", c.cfg.Prefetch)

		err := c.consume(ctx)
		c.close()
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		wait := backoff(attempt)
		c.log.Error("consume loop ended, reconnecting", "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	// Main queue dead-letters into the DLX; the DLQ catches everything
	// routed there. The producer declares the same queue, so both sides
	// build the arguments with mq.QueueArgs.
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, mq.QueueArgs(c.cfg.DLX)); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.DLX, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.DLQ, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := ch.QueueBind(c.cfg.DLQ, "#", c.cfg.DLX, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("bind dlq: %w", err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	c.conn = conn
	c.ch = ch
	c.pub = ch
	return nil
}

func (c *Consumer) close() {
	if c.ch != nil {
		_ = c.ch.Close()
		c.ch = nil
		c.pub = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	msgCtx := tracing.ExtractAMQPHeaders(ctx, d.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ProcessNotification")
	defer span.End()

	err := c.proc.Process(msgCtx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	if errors.Is(err, application.ErrPermanent) {
		c.log.Error("dropping unprocessable message", "err", err)
		_ = d.Ack(false)
		return
	}

	attempts := retryCount(d.Headers)
	if attempts+1 >= c.cfg.MaxAttempts {
		c.log.Error("max attempts reached, dead-lettering", "attempts", attempts+1, "err", err)
		_ = d.Nack(false, false)
		return
	}

	if perr := c.republish(msgCtx, d, attempts+1); perr != nil {
		// Republish failed; fall back to a broker requeue so the
		// message is not lost (retry count does not advance).
		c.log.Error("republish failed, requeueing", "err", perr)
		_ = d.Nack(false, true)
		return
	}
	c.log.Warn("transient failure, retry scheduled", "attempt", attempts+1, "err", err)
	_ = d.Ack(false)
}

func (c *Consumer) republish(ctx context.Context, d amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(attempt)

	return c.pub.PublishWithContext(ctx, "", c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Body:         d.Body,
		Headers:      headers,
	})
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// backoff grows exponentially from 1s, capped at 30s, with up to 25%
// jitter to avoid thundering-herd reconnects.
func backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	d := time.Second << (attempt - 1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}
