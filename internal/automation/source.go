package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventHandler accepts one occurrence. A returned error means the occurrence was
// rejected outright; done later reports whether processing succeeded.
type EventHandler func(ctx context.Context, raw RawOccurrence, done func(error)) error

// EventSource pushes occurrences to a handler until ctx ends.
type EventSource interface {
	Subscribe(ctx context.Context, handler EventHandler) error
}

// Emitter is implemented by producers' side of a bus.
type Emitter interface {
	Emit(ctx context.Context, raw RawOccurrence) error
}

var ErrBusClosed = errors.New("event bus closed")

// LocalBus is an in-process EventSource and Emitter. Occurrences whose
// processing fails fatally are redelivered after RedeliveryDelay.
type LocalBus struct {
	ch              chan RawOccurrence
	RedeliveryDelay time.Duration
	MaxRedeliveries int
	logger          *logrus.Logger

	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time

	mu       sync.Mutex
	attempts map[string]int
}

func NewLocalBus(size int, logger *logrus.Logger) *LocalBus {
	if size <= 0 {
		size = 1024
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &LocalBus{
		ch:              make(chan RawOccurrence, size),
		RedeliveryDelay: time.Second,
		MaxRedeliveries: 10,
		logger:          logger,
		done:            make(chan struct{}),
		now:             time.Now,
		attempts:        make(map[string]int),
	}
}

// Emit stamps the ingestion time on first intake and enqueues raw.
// Upstream ids are kept so redelivery stays idempotent.
func (b *LocalBus) Emit(ctx context.Context, raw RawOccurrence) error {
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}
	if raw.IngestedAt.IsZero() {
		raw.IngestedAt = b.now()
	}
	select {
	case b.ch <- raw:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe feeds handler until ctx is cancelled or Close is called.
func (b *LocalBus) Subscribe(ctx context.Context, handler EventHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case raw := <-b.ch:
			if err := handler(ctx, raw, b.ack(ctx, raw)); err != nil {
				b.logger.WithField("type", raw.Type).Warnf("event bus: dropped occurrence: %v", err)
			}
		}
	}
}

// Close stops accepting occurrences and releases blocked emitters.
func (b *LocalBus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *LocalBus) ack(ctx context.Context, raw RawOccurrence) func(error) {
	return func(err error) {
		if err == nil {
			if raw.ID != "" {
				b.mu.Lock()
				delete(b.attempts, raw.ID)
				b.mu.Unlock()
			}
			return
		}
		if raw.ID == "" {
			b.logger.Errorf("event bus: occurrence without id cannot be redelivered: %v", err)
			return
		}
		b.mu.Lock()
		b.attempts[raw.ID]++
		n := b.attempts[raw.ID]
		if n > b.MaxRedeliveries {
			delete(b.attempts, raw.ID)
			b.mu.Unlock()
			b.logger.WithField("event_id", raw.ID).Errorf("event bus: giving up after %d redeliveries: %v", n-1, err)
			return
		}
		b.mu.Unlock()

		time.AfterFunc(b.RedeliveryDelay*time.Duration(n), func() {
			if emitErr := b.Emit(ctx, raw); emitErr != nil {
				b.logger.WithField("event_id", raw.ID).Warnf("event bus: redelivery failed: %v", emitErr)
			}
		})
	}
}
