package services

import (
	"context"
	"errors"
	"testing"

	"sampark/internal/automation"
	"sampark/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSentiment struct {
	res SentimentResult
	err error
}

func (f fixedSentiment) Analyze(context.Context, string) (SentimentResult, error) {
	return f.res, f.err
}

func TestMessageService_IngestEmitsKeywordEvents(t *testing.T) {
	db := newTestDB(t)
	seedCustomer(t, db, "cust-1", "a@example.com")
	seedConversation(t, db, "conv-1", "cust-1")
	emitter := &captureEmitter{}
	svc := NewMessageService(db, emitter, []string{" Urgent ", "refund", ""}, quietLogger())

	msg, err := svc.Ingest(context.Background(), "conv-1", &MessageRequest{Content: "URGENT: I want a refund"})
	require.NoError(t, err)
	assert.Equal(t, "customer", msg.Sender)

	assert.Equal(t, []string{"message_received", "keyword_found", "keyword_found"}, emitter.types())
	for _, e := range emitter.events {
		assert.Equal(t, "conv-1", e.SubjectID)
		assert.Equal(t, "cust-1", e.Fields["customer_id"])
	}
	assert.Equal(t, "urgent", emitter.events[1].Fields["keyword"])
	assert.Contains(t, emitter.events[1].ID, ":keyword:urgent")

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestMessageService_AgentMessagesOnlyEmitReceived(t *testing.T) {
	db := newTestDB(t)
	seedCustomer(t, db, "cust-1", "a@example.com")
	seedConversation(t, db, "conv-1", "cust-1")
	emitter := &captureEmitter{}
	svc := NewMessageService(db, emitter, []string{"urgent"}, quietLogger()).
		WithSentiment(fixedSentiment{res: SentimentResult{Sentiment: "NEGATIVE"}})

	_, err := svc.Ingest(context.Background(), "conv-1", &MessageRequest{Content: "urgent fix shipped", Sender: "agent"})
	require.NoError(t, err)
	assert.Equal(t, []string{"message_received"}, emitter.types())
}

func TestMessageService_Sentiment(t *testing.T) {
	db := newTestDB(t)
	seedCustomer(t, db, "cust-1", "a@example.com")
	seedConversation(t, db, "conv-1", "cust-1")

	emitter := &captureEmitter{}
	svc := NewMessageService(db, emitter, nil, quietLogger()).
		WithSentiment(fixedSentiment{res: SentimentResult{Sentiment: "NEGATIVE", Confidence: 0.9, Reason: "angry"}})
	_, err := svc.Ingest(context.Background(), "conv-1", &MessageRequest{Content: "this is terrible"})
	require.NoError(t, err)
	require.Equal(t, []string{"message_received", "sentiment_detected"}, emitter.types())
	evt := emitter.events[1]
	assert.Equal(t, "NEGATIVE", evt.Fields["sentiment"])
	assert.Equal(t, 0.9, evt.Fields["confidence"])

	_, err = automation.NewNormalizer().Normalize(evt)
	assert.NoError(t, err)

	// analyzer failures only drop the sentiment event
	failing := &captureEmitter{}
	svc = NewMessageService(db, failing, nil, quietLogger()).
		WithSentiment(fixedSentiment{err: errors.New("quota exceeded")})
	_, err = svc.Ingest(context.Background(), "conv-1", &MessageRequest{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{"message_received"}, failing.types())
}

func TestMessageService_Errors(t *testing.T) {
	db := newTestDB(t)
	seedCustomer(t, db, "cust-1", "a@example.com")
	seedConversation(t, db, "conv-1", "cust-1")

	svc := NewMessageService(db, &captureEmitter{}, nil, quietLogger())
	_, err := svc.Ingest(context.Background(), "missing", &MessageRequest{Content: "hi"})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	svc = NewMessageService(db, &captureEmitter{err: automation.ErrBusClosed}, nil, quietLogger())
	msg, err := svc.Ingest(context.Background(), "conv-1", &MessageRequest{Content: "hi"})
	require.Error(t, err)
	assert.NotNil(t, msg, "message is stored even when publishing fails")
	assert.ErrorIs(t, err, automation.ErrBusClosed)
}
