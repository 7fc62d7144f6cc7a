package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"sampark/internal/automation"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher emits occurrences onto the events queue and fans recorded
// outcomes out on the outcomes queue.
type Publisher struct {
	ch            Channel
	eventsQueue   string
	outcomesQueue string
	published     atomic.Int64
	failed        atomic.Int64
	logger        *logrus.Logger
}

var (
	_ automation.Emitter          = (*Publisher)(nil)
	_ automation.OutcomePublisher = (*Publisher)(nil)
)

func NewPublisher(ch Channel, eventsQueue, outcomesQueue string, logger *logrus.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := declareQueues(ch, eventsQueue, outcomesQueue); err != nil {
		return nil, err
	}
	return &Publisher{ch: ch, eventsQueue: eventsQueue, outcomesQueue: outcomesQueue, logger: logger}, nil
}

// Emit 发布自动化事件
func (p *Publisher) Emit(ctx context.Context, raw automation.RawOccurrence) error {
	now := time.Now().UTC()
	if raw.OccurredAt.IsZero() {
		raw.OccurredAt = now
	}
	if raw.IngestedAt.IsZero() {
		raw.IngestedAt = now
	}
	return p.publish(ctx, p.eventsQueue, raw.ID, raw.Type, raw)
}

// PublishOutcome 发布规则执行结果
func (p *Publisher) PublishOutcome(ctx context.Context, outcome automation.ExecutionOutcome) error {
	if p.outcomesQueue == "" {
		return nil
	}
	return p.publish(ctx, p.outcomesQueue, outcome.ID, "automation.outcome", outcome)
}

// Stats returns publish counters.
func (p *Publisher) Stats() map[string]int64 {
	return map[string]int64{
		"messages_published": p.published.Load(),
		"messages_failed":    p.failed.Load(),
	}
}

func (p *Publisher) publish(ctx context.Context, queue, id, kind string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    id,
		Type:         kind,
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	p.published.Add(1)
	p.logger.WithFields(logrus.Fields{"queue": queue, "id": id, "type": kind}).Debug("published")
	return nil
}
