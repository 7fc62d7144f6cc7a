package automation

import (
	"context"
	"errors"
	"sync"
	"time"
)

type priorityWrite struct {
	target   Target
	priority Priority
	asOf     time.Time
}

// fakeConversations applies the same stale-write guard as the gorm service.
type fakeConversations struct {
	mu          sync.Mutex
	known       map[string]bool
	assignees   map[string]bool
	assigned    map[string]string
	priority    map[string]Priority
	prioritySet map[string]time.Time
	writes      []priorityWrite
	delay       time.Duration
}

func newFakeConversations(ids ...string) *fakeConversations {
	f := &fakeConversations{
		known:       make(map[string]bool),
		assignees:   map[string]bool{"agent-1": true, "team-billing": true},
		assigned:    make(map[string]string),
		priority:    make(map[string]Priority),
		prioritySet: make(map[string]time.Time),
	}
	for _, id := range ids {
		f.known[id] = true
	}
	return f
}

func (f *fakeConversations) AssignConversation(_ context.Context, target Target, assignee string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.assignees[assignee] {
		return &AssignmentError{Assignee: assignee, Reason: "unknown user or team"}
	}
	f.assigned[target.ID] = assignee
	return nil
}

func (f *fakeConversations) SetConversationPriority(ctx context.Context, target Target, p Priority, asOf time.Time) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, priorityWrite{target: target, priority: p, asOf: asOf})
	if last, ok := f.prioritySet[target.ID]; ok && asOf.Before(last) {
		return nil
	}
	f.priority[target.ID] = p
	f.prioritySet[target.ID] = asOf
	return nil
}

func (f *fakeConversations) priorityOf(id string) Priority {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priority[id]
}

func (f *fakeConversations) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeTags struct {
	mu    sync.Mutex
	known map[string]bool
	added map[string][]string
	calls int
}

func newFakeTags(known ...string) *fakeTags {
	f := &fakeTags{known: make(map[string]bool), added: make(map[string][]string)}
	for _, k := range known {
		f.known[k] = true
	}
	return f
}

func (f *fakeTags) AddTag(_ context.Context, target Target, tag string, autoCreate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if !f.known[tag] {
		if !autoCreate {
			return &UnknownTagError{Tag: tag}
		}
		f.known[tag] = true
	}
	f.added[target.ID] = append(f.added[target.ID], tag)
	return nil
}

// flakyEmail fails the first failures calls with err.
type flakyEmail struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	sent     []EmailRequest
}

func (f *flakyEmail) SendEmail(_ context.Context, req EmailRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	f.sent = append(f.sent, req)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

// brokenStore simulates an unavailable audit store.
type brokenStore struct {
	MemoryStore
	failAppend bool
	failLookup bool
	// appendFailures fails only the first n appends.
	appendFailures int
}

var errStoreDown = errors.New("connection refused")

func (b *brokenStore) Append(ctx context.Context, o ExecutionOutcome) error {
	if b.failAppend {
		return errStoreDown
	}
	b.mu.Lock()
	if b.appendFailures > 0 {
		b.appendFailures--
		b.mu.Unlock()
		return errStoreDown
	}
	b.mu.Unlock()
	return b.MemoryStore.Append(ctx, o)
}

func (b *brokenStore) SucceededActions(ctx context.Context, ruleID, eventID string) (map[int]bool, error) {
	if b.failLookup {
		return nil, errStoreDown
	}
	return b.MemoryStore.SucceededActions(ctx, ruleID, eventID)
}

type fixture struct {
	conversations *fakeConversations
	tags          *fakeTags
	email         *flakyEmail
	notifier      *recordingNotifier
	store         *MemoryStore
	recorder      *Recorder
	executor      *Executor
	rules         *RuleSet
	engine        *Engine
}

func fastConfig() ExecutorConfig {
	return ExecutorConfig{
		ActionTimeout:  time.Second,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func newFixture(rules ...Rule) *fixture {
	f := &fixture{
		conversations: newFakeConversations("conv-1", "conv-2"),
		tags:          newFakeTags("vip", "billing"),
		email:         &flakyEmail{},
		notifier:      &recordingNotifier{},
		store:         NewMemoryStore(),
	}
	f.recorder = NewRecorder(f.store)
	f.executor = NewExecutor(Collaborators{
		Conversations: f.conversations,
		Tags:          f.tags,
		Email:         f.email,
		Notifications: f.notifier,
	}, f.recorder, fastConfig(), nil)
	f.rules = NewRuleSet(rules)
	f.engine = NewEngine(f.rules, NewNormalizer(), f.executor, f.recorder, nil)
	return f
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func enabledRule(id string, trigger EventType, conds []Condition, actions ...Action) Rule {
	return Rule{
		ID:        id,
		Name:      "rule " + id,
		Trigger:   Trigger{Type: trigger, Conditions: conds},
		Actions:   actions,
		Enabled:   true,
		Status:    StatusEnabled,
		CreatedAt: baseTime,
		UpdatedAt: baseTime,
	}
}

func urgentKeywordRule() Rule {
	return enabledRule("rule-urgent", EventKeywordFound,
		[]Condition{{Field: "content", Operator: OpContains, Value: "urgent"}},
		Action{Type: ActionSetPriority, Params: map[string]interface{}{"priority": "URGENT"}},
	)
}

func keywordEvent(id, subject, content string) Event {
	return Event{
		ID:         id,
		Type:       EventKeywordFound,
		SubjectID:  subject,
		OccurredAt: baseTime,
		Fields:     map[string]interface{}{"content": content},
	}
}
