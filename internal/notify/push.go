package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sampark/internal/automation"
	"sampark/internal/config"
	"sampark/internal/services"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FirebasePush sends push notifications through FCM.
type FirebasePush struct {
	client messageSender
	logger *logrus.Logger
}

var _ services.PushSender = (*FirebasePush)(nil)

// NewFirebasePush 初始化 FCM 客户端
func NewFirebasePush(ctx context.Context, cfg config.FirebaseConfig, logger *logrus.Logger) (*FirebasePush, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts := []option.ClientOption{}
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}
	return &FirebasePush{client: client, logger: logger}, nil
}

// SendPush delivers msg to a device token, or to a topic when the recipient is "topic:<name>".
func (f *FirebasePush) SendPush(ctx context.Context, msg services.PushMessage) error {
	m := &messaging.Message{
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
	if topic, ok := cutTopic(msg.Recipient); ok {
		m.Topic = topic
	} else {
		m.Token = msg.Recipient
	}

	id, err := f.client.Send(ctx, m)
	if err != nil {
		return &automation.DeliveryError{Channel: automation.ChannelPush, Transient: transientFCM(err), Err: err}
	}
	f.logger.WithField("message_id", id).Debug("push sent")
	return nil
}

func cutTopic(recipient string) (string, bool) {
	topic, ok := strings.CutPrefix(recipient, "topic:")
	return topic, ok && topic != ""
}

func transientFCM(err error) bool {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errorutils.IsUnavailable(err), errorutils.IsInternal(err),
		errorutils.IsResourceExhausted(err), errorutils.IsDeadlineExceeded(err):
		return true
	case messaging.IsQuotaExceeded(err):
		return true
	default:
		return false
	}
}
