package automation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutcomeStore persists execution outcomes. Implementations must be append-only.
type OutcomeStore interface {
	Append(ctx context.Context, outcome ExecutionOutcome) error
	ListByRule(ctx context.Context, ruleID string) ([]ExecutionOutcome, error)
	ListByEvent(ctx context.Context, eventID string) ([]ExecutionOutcome, error)
	// SucceededActions returns the action indexes already recorded as successful.
	SucceededActions(ctx context.Context, ruleID, eventID string) (map[int]bool, error)
}

// OutcomeQuery selects outcomes by rule or by event.
type OutcomeQuery struct {
	RuleID  string
	EventID string
}

var errEmptyQuery = errors.New("rule id or event id required")

// Recorder is the audit/outcome recorder.
type Recorder struct {
	store OutcomeStore
	now   func() time.Time
	newID func() string
}

func NewRecorder(store OutcomeStore) *Recorder {
	return &Recorder{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Record appends outcome. Replays that carry no new attempts are dropped.
func (r *Recorder) Record(ctx context.Context, outcome ExecutionOutcome) (ExecutionOutcome, error) {
	if outcome.AllSkipped() {
		return outcome, nil
	}
	if outcome.ID == "" {
		outcome.ID = r.newID()
	}
	if outcome.ExecutedAt.IsZero() {
		outcome.ExecutedAt = r.now().UTC()
	}
	if err := r.store.Append(ctx, outcome); err != nil {
		return outcome, &AuditUnavailableError{Op: "append", Err: err}
	}
	return outcome, nil
}

// Query returns outcomes for a rule or an event, oldest first.
func (r *Recorder) Query(ctx context.Context, q OutcomeQuery) ([]ExecutionOutcome, error) {
	var (
		out []ExecutionOutcome
		err error
	)
	switch {
	case q.RuleID != "":
		out, err = r.store.ListByRule(ctx, q.RuleID)
	case q.EventID != "":
		out, err = r.store.ListByEvent(ctx, q.EventID)
	default:
		return nil, errEmptyQuery
	}
	if err != nil {
		return nil, &AuditUnavailableError{Op: "query", Err: err}
	}
	if q.RuleID != "" && q.EventID != "" {
		filtered := out[:0]
		for _, o := range out {
			if o.EventID == q.EventID {
				filtered = append(filtered, o)
			}
		}
		out = filtered
	}
	return out, nil
}

// SucceededActions exposes the idempotence lookup to the executor.
func (r *Recorder) SucceededActions(ctx context.Context, ruleID, eventID string) (map[int]bool, error) {
	done, err := r.store.SucceededActions(ctx, ruleID, eventID)
	if err != nil {
		return nil, &AuditUnavailableError{Op: "lookup", Err: err}
	}
	return done, nil
}

// MemoryStore is an in-memory OutcomeStore used for tests and dry runs.
type MemoryStore struct {
	mu       sync.Mutex
	outcomes []ExecutionOutcome
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, o ExecutionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]ActionResult, len(o.ActionResults))
	copy(results, o.ActionResults)
	o.ActionResults = results
	m.outcomes = append(m.outcomes, o)
	return nil
}

func (m *MemoryStore) ListByRule(_ context.Context, ruleID string) ([]ExecutionOutcome, error) {
	return m.filter(func(o ExecutionOutcome) bool { return o.RuleID == ruleID }), nil
}

func (m *MemoryStore) ListByEvent(_ context.Context, eventID string) ([]ExecutionOutcome, error) {
	return m.filter(func(o ExecutionOutcome) bool { return o.EventID == eventID }), nil
}

func (m *MemoryStore) SucceededActions(_ context.Context, ruleID, eventID string) (map[int]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	done := make(map[int]bool)
	for _, o := range m.outcomes {
		if o.RuleID != ruleID || o.EventID != eventID {
			continue
		}
		for _, ar := range o.ActionResults {
			if ar.Success {
				done[ar.Index] = true
			}
		}
	}
	return done, nil
}

// All returns every recorded outcome.
func (m *MemoryStore) All() []ExecutionOutcome {
	return m.filter(func(ExecutionOutcome) bool { return true })
}

func (m *MemoryStore) filter(keep func(ExecutionOutcome) bool) []ExecutionOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecutionOutcome, 0)
	for _, o := range m.outcomes {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out
}
