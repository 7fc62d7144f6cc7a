package services

import (
	"context"
	"errors"
	"fmt"

	"sampark/internal/automation"
	"sampark/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PushMessage is a mobile push addressed to a device token or topic.
type PushMessage struct {
	Recipient string
	Title     string
	Body      string
	Data      map[string]string
}

// PushSender delivers push notifications. notify.FirebasePush implements it.
type PushSender interface {
	SendPush(ctx context.Context, msg PushMessage) error
}

// InAppPublisher delivers in-app notifications. NotificationHub implements it.
type InAppPublisher interface {
	Publish(ctx context.Context, msg NotificationMessage) error
}

// NotificationService implements send_notification: every notification is
// stored, then delivered on its channel.
type NotificationService struct {
	db     *gorm.DB
	inApp  InAppPublisher
	push   PushSender
	logger *logrus.Logger
}

func NewNotificationService(db *gorm.DB, inApp InAppPublisher, push PushSender, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{db: db, inApp: inApp, push: push, logger: logger}
}

var _ automation.Notifier = (*NotificationService)(nil)

// Notify 保存并投递通知
func (s *NotificationService) Notify(ctx context.Context, n automation.Notification) error {
	row := &models.Notification{
		Channel:    n.Channel,
		Recipient:  n.Recipient,
		Title:      n.Title,
		Message:    n.Message,
		TargetKind: n.Target.Kind,
		TargetID:   n.Target.ID,
		RuleID:     n.RuleID,
		EventID:    n.EventID,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return &automation.DeliveryError{Channel: n.Channel, Transient: true, Err: err}
	}

	switch n.Channel {
	case automation.ChannelPush:
		if s.push == nil {
			return &automation.DeliveryError{Channel: n.Channel, Err: errors.New("push channel not configured")}
		}
		if n.Recipient == "" {
			return &automation.DeliveryError{Channel: n.Channel, Err: errors.New("push notification requires a recipient")}
		}
		return s.push.SendPush(ctx, PushMessage{
			Recipient: n.Recipient,
			Title:     n.Title,
			Body:      n.Message,
			Data: map[string]string{
				"rule_id":     n.RuleID,
				"event_id":    n.EventID,
				"target_kind": n.Target.Kind,
				"target_id":   n.Target.ID,
			},
		})
	default:
		if s.inApp == nil {
			return nil
		}
		if err := s.inApp.Publish(ctx, NotificationMessage{Type: "automation.notification", Recipient: n.Recipient, Data: row}); err != nil {
			return &automation.DeliveryError{Channel: n.Channel, Transient: true, Err: err}
		}
		return nil
	}
}

// List 查询通知，recipient 为空时返回全部
func (s *NotificationService) List(ctx context.Context, recipient string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if recipient != "" {
		q = q.Where("recipient = ? OR recipient = ''", recipient)
	}
	var out []models.Notification
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}
