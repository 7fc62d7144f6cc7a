package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sampark/internal/automation"
	"sampark/pkg/utils"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	subjectLockPrefix  = "sampark:automation:subject:"
	ruleChangesChannel = "sampark:automation:rules"
)

// RedisSubjectLocker serializes a subject's events across service instances.
// The lock is renewed every ttl/3 while held, so a slow event keeps it.
type RedisSubjectLocker struct {
	rdb        *redis.Client
	ttl        time.Duration
	renewEvery time.Duration
	instance   string
}

func NewRedisSubjectLocker(rdb *redis.Client, ttl time.Duration) *RedisSubjectLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisSubjectLocker{rdb: rdb, ttl: ttl, renewEvery: ttl / 3, instance: uuid.NewString()}
}

var _ automation.SubjectLocker = (*RedisSubjectLocker)(nil)

// Lock blocks until the subject is free or ctx ends.
func (l *RedisSubjectLocker) Lock(ctx context.Context, subject string) (func(), error) {
	key := subjectLockPrefix + subject
	token := l.instance + ":" + uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = l.ttl

	err := backoff.Retry(func() error {
		ok, err := utils.TryLock(ctx, l.rdb, key, token, l.ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return fmt.Errorf("subject %s is locked", subject)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("acquire subject lock: %w", err)
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go l.renew(key, token, subject, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			// 释放不受事件处理上下文取消影响
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := utils.Unlock(releaseCtx, l.rdb, key, token); err != nil {
				logrus.Warnf("release subject lock %s: %v", subject, err)
			}
		})
	}, nil
}

// renew extends the lock until stop closes or ownership is lost.
func (l *RedisSubjectLocker) renew(key, token, subject string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.renewEvery)
			ok, err := utils.ExtendLock(ctx, l.rdb, key, token, l.ttl)
			cancel()
			if err != nil {
				logrus.Warnf("renew subject lock %s: %v", subject, err)
				continue
			}
			if !ok {
				logrus.Errorf("subject lock %s lost before processing finished", subject)
				return
			}
		}
	}
}

// RedisRuleBroadcaster publishes rule changes so every instance refreshes its rule index.
type RedisRuleBroadcaster struct {
	rdb    *redis.Client
	logger *logrus.Logger
}

func NewRedisRuleBroadcaster(rdb *redis.Client, logger *logrus.Logger) *RedisRuleBroadcaster {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisRuleBroadcaster{rdb: rdb, logger: logger}
}

var _ RuleChangeNotifier = (*RedisRuleBroadcaster)(nil)

func (b *RedisRuleBroadcaster) RuleChanged(ctx context.Context, ruleID string) error {
	return b.rdb.Publish(ctx, ruleChangesChannel, ruleID).Err()
}

// Listen refreshes rules from the service on every broadcast until ctx ends.
func (b *RedisRuleBroadcaster) Listen(ctx context.Context, rules *RuleService) error {
	sub := b.rdb.Subscribe(ctx, ruleChangesChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe rule changes: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := rules.Refresh(ctx, msg.Payload); err != nil {
				b.logger.WithField("rule_id", msg.Payload).Warnf("automation: refresh rule failed: %v", err)
			}
		}
	}
}
