package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sampark/internal/automation"
	"sampark/internal/models"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// SentimentResult is the classification of one message.
type SentimentResult struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// SentimentAnalyzer classifies message text. ai.GeminiSentiment implements it.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, text string) (SentimentResult, error)
}

// MessageRequest 新消息请求
type MessageRequest struct {
	Content string `json:"content" binding:"required,max=4096"`
	Sender  string `json:"sender" binding:"omitempty,oneof=customer agent system"`
}

// MessageService stores messages and turns them into automation events.
type MessageService struct {
	db        *gorm.DB
	emitter   automation.Emitter
	keywords  []string
	sentiment SentimentAnalyzer
	logger    *logrus.Logger
}

func NewMessageService(db *gorm.DB, emitter automation.Emitter, keywords []string, logger *logrus.Logger) *MessageService {
	if logger == nil {
		logger = logrus.New()
	}
	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	return &MessageService{db: db, emitter: emitter, keywords: cleaned, logger: logger}
}

// WithSentiment enables sentiment_detected events for customer messages.
func (s *MessageService) WithSentiment(a SentimentAnalyzer) *MessageService {
	s.sentiment = a
	return s
}

// Ingest 保存消息并产生 message_received / keyword_found / sentiment_detected 事件
func (s *MessageService) Ingest(ctx context.Context, conversationID string, req *MessageRequest) (*models.Message, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Select("id", "customer_id").First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	sender := req.Sender
	if sender == "" {
		sender = "customer"
	}
	msg := &models.Message{ConversationID: conv.ID, Sender: sender, Content: req.Content}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if s.emitter == nil {
		return msg, nil
	}
	var errs error
	for _, raw := range s.occurrences(ctx, conv, msg) {
		errs = multierr.Append(errs, s.emitter.Emit(ctx, raw))
	}
	if errs != nil {
		return msg, fmt.Errorf("message saved but events not published: %w", errs)
	}
	return msg, nil
}

// occurrences derives the automation events of a stored message. Ids are
// derived from the message id so a retried publish keeps idempotence.
func (s *MessageService) occurrences(ctx context.Context, conv models.Conversation, msg *models.Message) []automation.RawOccurrence {
	base := fmt.Sprintf("message:%d", msg.ID)
	common := func(extra map[string]interface{}) map[string]interface{} {
		fields := map[string]interface{}{
			"content":     msg.Content,
			"sender":      msg.Sender,
			"customer_id": conv.CustomerID,
		}
		for k, v := range extra {
			fields[k] = v
		}
		return fields
	}

	out := []automation.RawOccurrence{{
		ID:         base,
		Type:       string(automation.EventMessageReceived),
		SubjectID:  conv.ID,
		OccurredAt: msg.CreatedAt,
		Fields:     common(nil),
	}}
	if msg.Sender != "customer" {
		return out
	}

	lower := strings.ToLower(msg.Content)
	for _, kw := range s.keywords {
		if strings.Contains(lower, kw) {
			out = append(out, automation.RawOccurrence{
				ID:         base + ":keyword:" + kw,
				Type:       string(automation.EventKeywordFound),
				SubjectID:  conv.ID,
				OccurredAt: msg.CreatedAt,
				Fields:     common(map[string]interface{}{"keyword": kw}),
			})
		}
	}

	if s.sentiment != nil {
		res, err := s.sentiment.Analyze(ctx, msg.Content)
		if err != nil {
			s.logger.WithField("message_id", msg.ID).Warnf("sentiment analysis failed: %v", err)
			return out
		}
		out = append(out, automation.RawOccurrence{
			ID:         base + ":sentiment",
			Type:       string(automation.EventSentimentDetected),
			SubjectID:  conv.ID,
			OccurredAt: msg.CreatedAt,
			Fields: common(map[string]interface{}{
				"sentiment":  res.Sentiment,
				"confidence": res.Confidence,
				"reason":     res.Reason,
			}),
		})
	}
	return out
}
