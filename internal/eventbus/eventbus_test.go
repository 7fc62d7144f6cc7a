package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"sampark/internal/automation"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	queue string
	msg   amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	prefetch   int
	published  []published
	deliveries chan amqp.Delivery
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{queue: key, msg: msg})
	return nil
}

func (f *fakeChannel) publishedTo(queue string) []amqp.Publishing {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []amqp.Publishing
	for _, p := range f.published {
		if p.queue == queue {
			out = append(out, p.msg)
		}
	}
	return out
}

type fakeAck struct {
	mu       sync.Mutex
	acks     int
	nacks    int
	requeued bool
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *fakeAck) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

func (a *fakeAck) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func delivery(t *testing.T, ack *fakeAck, raw interface{}, headers amqp.Table) amqp.Delivery {
	t.Helper()
	var body []byte
	switch v := raw.(type) {
	case []byte:
		body = v
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err)
		body = b
	}
	return amqp.Delivery{Acknowledger: ack, Body: body, Headers: headers, MessageId: "m-1", ContentType: "application/json"}
}

func newConsumer(t *testing.T, ch *fakeChannel) *Consumer {
	t.Helper()
	c, err := NewConsumer(ch, ConsumerConfig{
		Queue:           "automation.events",
		DeadLetterQueue: "automation.events.dlq",
		MaxRedeliveries: 2,
		RedeliveryDelay: time.Millisecond,
	}, quiet())
	require.NoError(t, err)
	return c
}

// runOne feeds a single delivery through Subscribe.
func runOne(t *testing.T, c *Consumer, ch *fakeChannel, d amqp.Delivery, handler automation.EventHandler) {
	t.Helper()
	ch.deliveries <- d
	close(ch.deliveries)
	require.NoError(t, c.Subscribe(context.Background(), handler))
}

func TestNewConsumer_DeclaresQueues(t *testing.T) {
	ch := newFakeChannel()
	newConsumer(t, ch)
	assert.Equal(t, 32, ch.prefetch)
	assert.Equal(t, []string{"automation.events", "automation.events.dlq"}, ch.declared)

	_, err := NewConsumer(ch, ConsumerConfig{}, quiet())
	assert.Error(t, err)
}

func TestConsumer_AcksAfterSuccess(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(t, ch)
	ack := &fakeAck{}

	var got automation.RawOccurrence
	raw := automation.RawOccurrence{Type: "message_received", SubjectID: "conv-1", Fields: map[string]interface{}{"content": "hi"}}
	runOne(t, c, ch, delivery(t, ack, raw, nil), func(_ context.Context, r automation.RawOccurrence, done func(error)) error {
		got = r
		done(nil)
		return nil
	})

	assert.Equal(t, "m-1", got.ID, "message id is used when the payload has none")
	assert.Equal(t, "conv-1", got.SubjectID)
	acks, nacks := ack.counts()
	assert.Equal(t, 1, acks)
	assert.Zero(t, nacks)
}

func TestConsumer_MalformedGoesToDeadLetter(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(t, ch)

	ack := &fakeAck{}
	runOne(t, c, ch, delivery(t, ack, []byte("{not json"), nil), func(context.Context, automation.RawOccurrence, func(error)) error {
		t.Fatal("handler must not be called")
		return nil
	})
	dlq := ch.publishedTo("automation.events.dlq")
	require.Len(t, dlq, 1)
	assert.Contains(t, dlq[0].Headers["x-error"], "unmarshal")
	acks, _ := ack.counts()
	assert.Equal(t, 1, acks)
}

func TestConsumer_RejectedByHandlerGoesToDeadLetter(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(t, ch)
	ack := &fakeAck{}

	runOne(t, c, ch, delivery(t, ack, automation.RawOccurrence{Type: "bogus"}, nil), func(context.Context, automation.RawOccurrence, func(error)) error {
		return &automation.MalformedEventError{Type: "bogus", Reason: "unknown event type"}
	})
	assert.Len(t, ch.publishedTo("automation.events.dlq"), 1)
}

func TestConsumer_FatalErrorRedelivers(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(t, ch)
	ack := &fakeAck{}
	raw := automation.RawOccurrence{ID: "e1", Type: "message_received", SubjectID: "conv-1"}

	runOne(t, c, ch, delivery(t, ack, raw, amqp.Table{"trace": "abc"}), func(_ context.Context, _ automation.RawOccurrence, done func(error)) error {
		done(automation.ErrAuditUnavailable)
		return nil
	})

	require.Eventually(t, func() bool {
		acks, _ := ack.counts()
		return acks == 1
	}, time.Second, 5*time.Millisecond)
	again := ch.publishedTo("automation.events")
	require.Len(t, again, 1)
	assert.Equal(t, int32(1), again[0].Headers[retryHeader])
	assert.Equal(t, "abc", again[0].Headers["trace"])
	assert.Empty(t, ch.publishedTo("automation.events.dlq"))
}

func TestConsumer_RedeliveryKeepsIngestionTime(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(t, ch)
	ack := &fakeAck{}
	raw := automation.RawOccurrence{ID: "e1", Type: "message_received", SubjectID: "conv-1", Fields: map[string]interface{}{"content": "hi"}}

	var seen automation.RawOccurrence
	runOne(t, c, ch, delivery(t, ack, raw, nil), func(_ context.Context, r automation.RawOccurrence, done func(error)) error {
		seen = r
		done(automation.ErrAuditUnavailable)
		return nil
	})
	require.False(t, seen.IngestedAt.IsZero(), "first intake stamps the occurrence")

	require.Eventually(t, func() bool {
		return len(ch.publishedTo("automation.events")) == 1
	}, time.Second, 5*time.Millisecond)

	var again automation.RawOccurrence
	require.NoError(t, json.Unmarshal(ch.publishedTo("automation.events")[0].Body, &again))
	assert.True(t, seen.IngestedAt.Equal(again.IngestedAt), "redelivery must not restamp: %v vs %v", seen.IngestedAt, again.IngestedAt)
	assert.Equal(t, "hi", again.Fields["content"])
}

func TestConsumer_ExhaustedRetriesDeadLetter(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(t, ch)
	ack := &fakeAck{}
	raw := automation.RawOccurrence{ID: "e1", Type: "message_received", SubjectID: "conv-1"}

	runOne(t, c, ch, delivery(t, ack, raw, amqp.Table{retryHeader: int32(2)}), func(_ context.Context, _ automation.RawOccurrence, done func(error)) error {
		done(errors.New("audit store down"))
		return nil
	})
	assert.Len(t, ch.publishedTo("automation.events.dlq"), 1)
	assert.Empty(t, ch.publishedTo("automation.events"))
}

func TestConsumer_RepublishFailureRequeues(t *testing.T) {
	ch := newFakeChannel()
	c := newConsumer(t, ch)
	ch.publishErr = errors.New("channel closed")
	ack := &fakeAck{}

	runOne(t, c, ch, delivery(t, ack, automation.RawOccurrence{ID: "e1", Type: "message_received", SubjectID: "s"}, nil),
		func(_ context.Context, _ automation.RawOccurrence, done func(error)) error {
			done(automation.ErrAuditUnavailable)
			return nil
		})
	require.Eventually(t, func() bool {
		_, nacks := ack.counts()
		return nacks == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, ack.requeued)
}

func TestRetryCount(t *testing.T) {
	assert.Equal(t, 0, retryCount(nil))
	assert.Equal(t, 3, retryCount(amqp.Table{retryHeader: int32(3)}))
	assert.Equal(t, 4, retryCount(amqp.Table{retryHeader: int64(4)}))
	assert.Equal(t, 0, retryCount(amqp.Table{retryHeader: "x"}))
}

func TestPublisher(t *testing.T) {
	ch := newFakeChannel()
	p, err := NewPublisher(ch, "automation.events", "automation.outcomes", quiet())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Emit(ctx, automation.RawOccurrence{ID: "customer:1", Type: "customer_created", SubjectID: "1"}))
	events := ch.publishedTo("automation.events")
	require.Len(t, events, 1)
	assert.Equal(t, "customer:1", events[0].MessageId)
	assert.Equal(t, amqp.Persistent, events[0].DeliveryMode)

	var decoded automation.RawOccurrence
	require.NoError(t, json.Unmarshal(events[0].Body, &decoded))
	assert.Equal(t, "customer_created", decoded.Type)
	assert.False(t, decoded.OccurredAt.IsZero())
	assert.False(t, decoded.IngestedAt.IsZero())

	require.NoError(t, p.PublishOutcome(ctx, automation.ExecutionOutcome{ID: "o1", RuleID: "r1", EventID: "customer:1"}))
	assert.Len(t, ch.publishedTo("automation.outcomes"), 1)
	assert.Equal(t, int64(2), p.Stats()["messages_published"])

	ch.publishErr = errors.New("closed")
	assert.Error(t, p.Emit(ctx, automation.RawOccurrence{ID: "x", Type: "message_received", SubjectID: "s"}))
	assert.Equal(t, int64(1), p.Stats()["messages_failed"])
}
