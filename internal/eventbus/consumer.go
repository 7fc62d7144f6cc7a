package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sampark/internal/automation"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ConsumerConfig configures the automation event consumer.
type ConsumerConfig struct {
	Queue           string
	DeadLetterQueue string
	PrefetchCount   int
	MaxRedeliveries int
	// RedeliveryDelay is multiplied by the square of the attempt number.
	RedeliveryDelay time.Duration
}

// Consumer reads occurrences from RabbitMQ and hands them to the engine.
// Deliveries are acked only after the engine reports completion. A fatal
// engine error republishes the delivery with an incremented retry header;
// malformed payloads and exhausted retries go to the dead-letter queue.
type Consumer struct {
	ch     Channel
	cfg    ConsumerConfig
	logger *logrus.Logger
}

var _ automation.EventSource = (*Consumer)(nil)

func NewConsumer(ch Channel, cfg ConsumerConfig, logger *logrus.Logger) (*Consumer, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("consumer queue is required")
	}
	if cfg.PrefetchCount <= 0 {
		cfg.PrefetchCount = 32
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = 10
	}
	if cfg.RedeliveryDelay <= 0 {
		cfg.RedeliveryDelay = time.Second
	}
	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	if err := declareQueues(ch, cfg.Queue, cfg.DeadLetterQueue); err != nil {
		return nil, err
	}
	return &Consumer{ch: ch, cfg: cfg, logger: logger}, nil
}

// Subscribe consumes until ctx is done or the delivery channel closes.
func (c *Consumer) Subscribe(ctx context.Context, handler automation.EventHandler) error {
	msgs, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}
	c.logger.WithField("queue", c.cfg.Queue).Info("automation consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			c.handle(ctx, msg, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery, handler automation.EventHandler) {
	var raw automation.RawOccurrence
	if err := json.Unmarshal(msg.Body, &raw); err != nil {
		c.deadLetter(ctx, msg, fmt.Errorf("failed to unmarshal event: %w", err))
		return
	}
	if raw.ID == "" {
		raw.ID = msg.MessageId
	}
	// producers that bypass Publisher get stamped here; requeue carries the stamp forward
	if raw.IngestedAt.IsZero() {
		raw.IngestedAt = time.Now().UTC()
	}

	if err := handler(ctx, raw, c.completion(ctx, msg, raw)); err != nil {
		c.deadLetter(ctx, msg, err)
	}
}

// completion acks on success and schedules redelivery on failure.
func (c *Consumer) completion(ctx context.Context, msg amqp.Delivery, raw automation.RawOccurrence) func(error) {
	return func(err error) {
		if err == nil {
			if ackErr := msg.Ack(false); ackErr != nil {
				c.logger.Warnf("failed to ack delivery: %v", ackErr)
			}
			return
		}

		n := retryCount(msg.Headers) + 1
		if n > c.cfg.MaxRedeliveries {
			c.deadLetter(ctx, msg, fmt.Errorf("giving up after %d redeliveries: %w", n-1, err))
			return
		}
		delay := c.cfg.RedeliveryDelay * time.Duration(n*n)
		c.logger.WithFields(logrus.Fields{
			"message_id": msg.MessageId,
			"attempt":    n,
			"delay":      delay,
		}).Warnf("event processing failed, redelivering: %v", err)

		time.AfterFunc(delay, func() {
			if pubErr := c.requeue(msg, raw, n); pubErr != nil {
				c.logger.Errorf("failed to republish delivery, returning it to the queue: %v", pubErr)
				_ = msg.Nack(false, true)
				return
			}
			_ = msg.Ack(false)
		})
	}
}

func (c *Consumer) requeue(msg amqp.Delivery, raw automation.RawOccurrence, attempt int) error {
	body, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.ch.PublishWithContext(ctx, "", c.cfg.Queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    msg.MessageId,
		Body:         body,
		Headers:      headers,
		Timestamp:    time.Now(),
	})
}

func (c *Consumer) deadLetter(ctx context.Context, msg amqp.Delivery, cause error) {
	c.logger.WithField("message_id", msg.MessageId).Errorf("dead-lettering event: %v", cause)
	if c.cfg.DeadLetterQueue == "" {
		_ = msg.Nack(false, false)
		return
	}
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["x-error"] = cause.Error()
	err := c.ch.PublishWithContext(ctx, "", c.cfg.DeadLetterQueue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  msg.ContentType,
		MessageId:    msg.MessageId,
		Body:         msg.Body,
		Headers:      headers,
		Timestamp:    time.Now(),
	})
	if err != nil {
		c.logger.Errorf("failed to publish to DLQ: %v", err)
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}
