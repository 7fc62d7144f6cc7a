package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_UrgentKeywordScenario(t *testing.T) {
	f := newFixture(urgentKeywordRule())

	res, err := f.engine.Process(context.Background(), keywordEvent("e1", "conv-1", "this is urgent, please help"))
	require.NoError(t, err)
	assert.Equal(t, []string{"rule-urgent"}, res.Matched)

	outcomes, err := f.recorder.Query(context.Background(), OutcomeQuery{EventID: "e1"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Len(t, outcomes[0].ActionResults, 1)
	ar := outcomes[0].ActionResults[0]
	assert.Equal(t, ActionSetPriority, ar.Action.Type)
	assert.True(t, ar.Success)
	assert.Equal(t, PriorityUrgent, f.conversations.priorityOf("conv-1"))
}

func TestEngine_NoMatchRecordsNothing(t *testing.T) {
	f := newFixture(urgentKeywordRule())

	res, err := f.engine.Process(context.Background(), keywordEvent("e2", "conv-1", "hello"))
	require.NoError(t, err)
	assert.Empty(t, res.Matched)
	assert.Empty(t, f.store.All())
}

func TestEngine_UnknownTagRecordedOtherActionsAttempted(t *testing.T) {
	rule := enabledRule("tagger", EventMessageReceived, nil,
		Action{Type: ActionAddTag, Params: map[string]interface{}{"tag": "missing-tag", "autoCreate": false}},
		Action{Type: ActionSendNotification, Params: map[string]interface{}{"message": "new message"}},
	)
	f := newFixture(rule)

	evt := Event{ID: "e1", Type: EventMessageReceived, SubjectID: "conv-1", Fields: map[string]interface{}{"content": "hi"}}
	_, err := f.engine.Process(context.Background(), evt)
	require.NoError(t, err)

	outcomes, err := f.recorder.Query(context.Background(), OutcomeQuery{RuleID: "tagger"})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	results := outcomes[0].ActionResults
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Equal(t, "UnknownTagError", results[0].ErrorType)
	assert.True(t, results[1].Success)
	assert.Len(t, f.notifier.sent, 1)
}

func TestEngine_IdempotentReplay(t *testing.T) {
	rule := enabledRule("r1", EventKeywordFound, nil,
		Action{Type: ActionAddTag, Params: map[string]interface{}{"tag": "vip"}},
		Action{Type: ActionSendNotification, Params: map[string]interface{}{"message": "vip"}},
	)
	f := newFixture(rule)
	evt := keywordEvent("e1", "conv-1", "x")

	_, err := f.engine.Process(context.Background(), evt)
	require.NoError(t, err)
	res, err := f.engine.Process(context.Background(), evt)
	require.NoError(t, err)

	assert.Empty(t, res.Outcomes, "replay records nothing new")
	assert.Len(t, f.store.All(), 1)
	assert.Equal(t, []string{"vip"}, f.tags.added["conv-1"])
	assert.Len(t, f.notifier.sent, 1)
}

func TestEngine_DisableThenEnableMatchesLikeFreshRule(t *testing.T) {
	original := urgentKeywordRule()
	toggled := newFixture(original)
	fresh := newFixture(original)

	disabled := original
	disabled.Enabled = false
	disabled.Status = StatusDisabled
	toggled.rules.Upsert(disabled)

	res, err := toggled.engine.Process(context.Background(), keywordEvent("while-off", "conv-1", "urgent"))
	require.NoError(t, err)
	assert.Empty(t, res.Matched, "disabled rules do not match")

	toggled.rules.Upsert(original)

	events := []Event{
		keywordEvent("a", "conv-1", "URGENT!!"),
		keywordEvent("b", "conv-2", "nothing here"),
		keywordEvent("c", "conv-2", "is this urgent?"),
	}
	for _, evt := range events {
		got, err := toggled.engine.Process(context.Background(), evt)
		require.NoError(t, err)
		want, err := fresh.engine.Process(context.Background(), evt)
		require.NoError(t, err)
		assert.Equal(t, want.Matched, got.Matched, evt.ID)
	}
}

func TestEngine_StaleEventDoesNotOverwritePriority(t *testing.T) {
	urgent := urgentKeywordRule()
	calm := enabledRule("rule-calm", EventKeywordFound,
		[]Condition{{Field: "content", Operator: OpContains, Value: "resolved"}},
		Action{Type: ActionSetPriority, Params: map[string]interface{}{"priority": "LOW"}})
	f := newFixture(urgent, calm)

	e1 := keywordEvent("e1", "conv-1", "urgent")
	e1.OccurredAt = baseTime
	e2 := keywordEvent("e2", "conv-1", "resolved, thanks")
	e2.OccurredAt = baseTime.Add(time.Second)

	// E1 is delayed and only executes after E2.
	_, err := f.engine.Process(context.Background(), e2)
	require.NoError(t, err)
	_, err = f.engine.Process(context.Background(), e1)
	require.NoError(t, err)

	assert.Equal(t, PriorityLow, f.conversations.priorityOf("conv-1"))
}

func TestEngine_RedeliveredEventDoesNotOverwriteNewerPriority(t *testing.T) {
	low := enabledRule("rule-low", EventKeywordFound,
		[]Condition{{Field: "content", Operator: OpContains, Value: "low"}},
		Action{Type: ActionSetPriority, Params: map[string]interface{}{"priority": "LOW"}})
	high := enabledRule("rule-high", EventKeywordFound,
		[]Condition{{Field: "content", Operator: OpContains, Value: "high"}},
		Action{Type: ActionSetPriority, Params: map[string]interface{}{"priority": "HIGH"}})

	store := &brokenStore{appendFailures: 1}
	recorder := NewRecorder(store)
	conversations := newFakeConversations("conv-1")
	x := NewExecutor(Collaborators{Conversations: conversations}, recorder, fastConfig(), nil)
	e := NewEngine(NewRuleSet([]Rule{low, high}), nil, x, recorder, nil)

	bus := NewLocalBus(8, nil)
	bus.RedeliveryDelay = 200 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Subscribe(ctx, e.Handle) }()

	// E1 writes LOW, then its audit append fails and it is scheduled for redelivery
	require.NoError(t, bus.Emit(ctx, RawOccurrence{ID: "e1", Type: "keyword_found", SubjectID: "conv-1",
		Fields: map[string]interface{}{"content": "make it low"}}))
	require.Eventually(t, func() bool { return conversations.writeCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Emit(ctx, RawOccurrence{ID: "e2", Type: "keyword_found", SubjectID: "conv-1",
		Fields: map[string]interface{}{"content": "make it high"}}))
	require.Eventually(t, func() bool { return conversations.priorityOf("conv-1") == PriorityHigh }, time.Second, 5*time.Millisecond)

	// redelivered E1 re-runs set_priority with its original ingestion time
	require.Eventually(t, func() bool { return conversations.writeCount() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, PriorityHigh, conversations.priorityOf("conv-1"))
	require.Eventually(t, func() bool {
		done, err := store.SucceededActions(context.Background(), "rule-low", "e1")
		return err == nil && done[0]
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_AuditStoreDownIsFatal(t *testing.T) {
	store := &brokenStore{failAppend: true}
	recorder := NewRecorder(store)
	tags := newFakeTags("vip")
	x := NewExecutor(Collaborators{Tags: tags}, recorder, fastConfig(), nil)
	rule := enabledRule("r1", EventKeywordFound, nil, Action{Type: ActionAddTag, Params: map[string]interface{}{"tag": "vip"}})
	e := NewEngine(NewRuleSet([]Rule{rule}), nil, x, recorder, nil)

	_, err := e.Process(context.Background(), keywordEvent("e1", "conv-1", "x"))
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.True(t, errors.Is(err, ErrAuditUnavailable))
}

func TestEngine_HandleRejectsMalformed(t *testing.T) {
	f := newFixture(urgentKeywordRule())
	called := false
	err := f.engine.Handle(context.Background(), RawOccurrence{Type: "keyword_found", SubjectID: "conv-1"}, func(error) { called = true })

	var malformed *MalformedEventError
	assert.True(t, errors.As(err, &malformed))
	assert.False(t, called)
}

func TestEngine_HandleInline(t *testing.T) {
	f := newFixture(urgentKeywordRule())
	var got error = errors.New("not called")
	err := f.engine.Handle(context.Background(), RawOccurrence{
		ID: "e1", Type: "keyword_found", SubjectID: "conv-1",
		Fields: map[string]interface{}{"content": "urgent"},
	}, func(err error) { got = err })
	require.NoError(t, err)
	assert.NoError(t, got)
	assert.Equal(t, PriorityUrgent, f.conversations.priorityOf("conv-1"))
}

func TestEngine_DryRun(t *testing.T) {
	f := newFixture()
	res, err := f.engine.DryRun(urgentKeywordRule(), RawOccurrence{
		Type: "keyword_found", SubjectID: "conv-1",
		Fields: map[string]interface{}{"content": "URGENT"},
	})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Len(t, res.Actions, 1)
	assert.Equal(t, 0, f.conversations.writeCount())

	bad := urgentKeywordRule()
	bad.Actions = nil
	_, err = f.engine.DryRun(bad, RawOccurrence{Type: "keyword_found", SubjectID: "c", Fields: map[string]interface{}{"content": "x"}})
	var invalid *ValidationError
	assert.True(t, errors.As(err, &invalid))
}

type capturePublisher struct{ outcomes []ExecutionOutcome }

func (c *capturePublisher) PublishOutcome(_ context.Context, o ExecutionOutcome) error {
	c.outcomes = append(c.outcomes, o)
	return nil
}

func TestEngine_PublishesOutcomes(t *testing.T) {
	f := newFixture(urgentKeywordRule())
	pub := &capturePublisher{}
	f.engine.WithPublisher(pub)

	_, err := f.engine.Process(context.Background(), keywordEvent("e1", "conv-1", "urgent"))
	require.NoError(t, err)
	require.Len(t, pub.outcomes, 1)
	assert.NotEmpty(t, pub.outcomes[0].ID)
	assert.Equal(t, "rule-urgent", pub.outcomes[0].RuleID)
}
