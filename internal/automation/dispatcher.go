package automation

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// SubjectLocker serializes work on one subject across service instances.
type SubjectLocker interface {
	Lock(ctx context.Context, subjectID string) (unlock func(), err error)
}

// DispatcherConfig sizes the shard pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

type job struct {
	ctx  context.Context
	evt  Event
	done func(error)
}

// Dispatcher runs one serial queue per shard. A subject always hashes to the
// same shard, so its events are processed one at a time in arrival order while
// other subjects proceed on other shards.
type Dispatcher struct {
	process func(context.Context, Event) error
	shards  []chan job
	locker  SubjectLocker
	wg      *conc.WaitGroup
	logger  *logrus.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
}

func NewDispatcher(engine *Engine, cfg DispatcherConfig, logger *logrus.Logger) *Dispatcher {
	d := newDispatcher(func(ctx context.Context, evt Event) error {
		_, err := engine.Process(ctx, evt)
		return err
	}, cfg, logger)
	engine.AttachDispatcher(d)
	return d
}

func newDispatcher(process func(context.Context, Event) error, cfg DispatcherConfig, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	shards := make([]chan job, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan job, cfg.QueueSize)
	}
	return &Dispatcher{
		process: process,
		shards:  shards,
		wg:      conc.NewWaitGroup(),
		logger:  logger,
	}
}

// WithLocker adds cross-instance subject locking.
func (d *Dispatcher) WithLocker(l SubjectLocker) *Dispatcher {
	d.locker = l
	return d
}

// Start launches one worker per shard.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i, ch := range d.shards {
		shard, queue := i, ch
		d.wg.Go(func() { d.worker(shard, queue) })
	}
	d.logger.Infof("automation: dispatcher started with %d shards", len(d.shards))
}

// Dispatch queues evt on its subject's shard. It blocks while the shard is full.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event, done func(error)) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	j := job{ctx: context.WithoutCancel(ctx), evt: evt, done: done}
	select {
	case d.shards[shardFor(evt.SubjectID, len(d.shards))] <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new events and waits for queued ones to finish.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		d.logger.Info("automation: dispatcher drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports the number of queued events per shard.
func (d *Dispatcher) QueueDepth() []int {
	out := make([]int, len(d.shards))
	for i, ch := range d.shards {
		out[i] = len(ch)
	}
	return out
}

func (d *Dispatcher) worker(shard int, queue <-chan job) {
	for j := range queue {
		err := d.handle(j)
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"shard":      shard,
				"event_id":   j.evt.ID,
				"subject_id": j.evt.SubjectID,
			}).Errorf("automation: event failed: %v", err)
		}
		if j.done != nil {
			j.done(err)
		}
	}
}

func (d *Dispatcher) handle(j job) (err error) {
	if d.locker != nil {
		unlock, lerr := d.locker.Lock(j.ctx, j.evt.SubjectID)
		if lerr != nil {
			return fmt.Errorf("lock subject %s: %w", j.evt.SubjectID, lerr)
		}
		defer unlock()
	}

	var pc panics.Catcher
	pc.Try(func() { err = d.process(j.ctx, j.evt) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("panic processing event %s: %w", j.evt.ID, r.AsError())
	}
	return err
}

func shardFor(subject string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	return int(h.Sum32() % uint32(n))
}
