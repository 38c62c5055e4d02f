package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Consumer reads the reservation event queue and writes one structured audit
// line per event to its sink logger (normally backed by a rotating file).
type Consumer struct {
	url   string
	queue string
	log   *zap.Logger
	sink  *zap.Logger
}

// NewConsumer builds a consumer. log receives operational messages and sink
// receives the audit lines.
func NewConsumer(url, queueName string, log, sink *zap.Logger) *Consumer {
	if queueName == "" {
		queueName = DefaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	if sink == nil {
		sink = log
	}
	return &Consumer{url: url, queue: queueName, log: log, sink: sink}
}

// Run connects to RabbitMQ, declares the queue and consumes it. The reconnect
// loop keeps running until ctx is cancelled, which is the only error it
// returns.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := dial(c.url)
		if err != nil {
			c.log.Warn("failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
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

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.log.Info("consuming", zap.String("queue", c.queue))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.log.Error("handle message failed", zap.Error(err))
				// reject without requeue to avoid tight loops
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one message body and writes its audit line.
func (c *Consumer) Handle(body []byte) error {
	var ev ReservationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" {
		return errors.New("event without type")
	}
	fields := []zap.Field{
		zap.String("type", ev.Type),
		zap.Uint64("reservation_id", ev.ReservationID),
		zap.Uint64("user_id", ev.UserID),
		zap.Uint64("room_id", ev.RoomID),
		zap.String("room_number", ev.RoomNumber),
		zap.Int("bed_number", ev.BedNumber),
		zap.Uint64("performed_by", ev.PerformedBy),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	c.sink.Info("reservation event", fields...)
	return nil
}
