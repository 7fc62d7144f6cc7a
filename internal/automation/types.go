package automation

import (
	"time"
)

// EventType is the kind of domain occurrence a rule can trigger on.
type EventType string

const (
	EventMessageReceived   EventType = "message_received"
	EventSentimentDetected EventType = "sentiment_detected"
	EventKeywordFound      EventType = "keyword_found"
	EventCustomerCreated   EventType = "customer_created"
)

// EventTypes lists every supported trigger type.
var EventTypes = []EventType{
	EventMessageReceived,
	EventSentimentDetected,
	EventKeywordFound,
	EventCustomerCreated,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Operator compares an event field against a condition value.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpIn       Operator = "in"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpContains, OpGt, OpLt, OpIn:
		return true
	default:
		return false
	}
}

// ActionType names the side effect an action performs.
type ActionType string

const (
	ActionAssignConversation ActionType = "assign_conversation"
	ActionAddTag             ActionType = "add_tag"
	ActionSendEmail          ActionType = "send_email"
	ActionSendNotification   ActionType = "send_notification"
	ActionSetPriority        ActionType = "set_priority"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionAssignConversation, ActionAddTag, ActionSendEmail, ActionSendNotification, ActionSetPriority:
		return true
	default:
		return false
	}
}

// Priority of a conversation.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Sentiment labels produced by sentiment analysis.
const (
	SentimentPositive = "POSITIVE"
	SentimentNeutral  = "NEUTRAL"
	SentimentNegative = "NEGATIVE"
	SentimentUrgent   = "URGENT"
)

// RuleStatus is the lifecycle state of a rule.
type RuleStatus string

const (
	StatusDraft    RuleStatus = "draft"
	StatusEnabled  RuleStatus = "enabled"
	StatusDisabled RuleStatus = "disabled"
	StatusDeleted  RuleStatus = "deleted"
)

// RawOccurrence is what producers hand to the normalizer. IngestedAt is
// stamped once when the occurrence first enters a bus and survives
// redelivery; the normalizer uses it instead of its clock when set.
type RawOccurrence struct {
	ID         string                 `json:"id,omitempty"`
	Type       string                 `json:"type"`
	SubjectID  string                 `json:"subject_id"`
	OccurredAt time.Time              `json:"occurred_at,omitempty"`
	IngestedAt time.Time              `json:"ingested_at,omitempty"`
	Fields     map[string]interface{} `json:"fields"`
}

// Event is a normalized, immutable domain occurrence.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	SubjectID  string                 `json:"subject_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	SourceTime time.Time              `json:"source_time,omitempty"`
	Sequence   uint64                 `json:"sequence"`
	Fields     map[string]interface{} `json:"fields"`
}

// Field returns the named field value.
func (e Event) Field(name string) (interface{}, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// Condition is a single field/operator/value predicate.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value"`
}

// Trigger selects the event type and conditions for a rule.
type Trigger struct {
	Type       EventType   `json:"type"`
	Conditions []Condition `json:"conditions"`
}

// Action is a side effect applied when a rule matches.
type Action struct {
	Type   ActionType             `json:"type"`
	Params map[string]interface{} `json:"params"`
}

// StringParam returns params[key] rendered as a string, or "".
func (a Action) StringParam(key string) string {
	v, ok := a.Params[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := stringify(v)
	return s
}

// BoolParam returns params[key] as a bool, accepting "true"/"false" strings.
func (a Action) BoolParam(key string) (bool, bool) {
	switch v := a.Params[key].(type) {
	case bool:
		return v, true
	case string:
		switch v {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// Rule is an operator-authored automation rule.
type Rule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Trigger     Trigger    `json:"trigger"`
	Actions     []Action   `json:"actions"`
	Enabled     bool       `json:"enabled"`
	Status      RuleStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MatchResult pairs a rule with the event it matched.
type MatchResult struct {
	Rule              Rule
	Event             Event
	MatchedConditions []Condition
}

// ActionResult is the recorded result of one action attempt.
type ActionResult struct {
	Index     int    `json:"index"`
	Action    Action `json:"action"`
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped,omitempty"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}

// ExecutionOutcome records which actions ran for one rule on one event.
type ExecutionOutcome struct {
	ID            string         `json:"id"`
	RuleID        string         `json:"rule_id"`
	EventID       string         `json:"event_id"`
	EventType     EventType      `json:"event_type"`
	SubjectID     string         `json:"subject_id"`
	ActionResults []ActionResult `json:"action_results"`
	ExecutedAt    time.Time      `json:"executed_at"`
}

// Succeeded reports whether every action succeeded.
func (o ExecutionOutcome) Succeeded() bool {
	for _, r := range o.ActionResults {
		if !r.Success {
			return false
		}
	}
	return true
}

// AllSkipped reports whether the outcome carries no new attempts.
func (o ExecutionOutcome) AllSkipped() bool {
	for _, r := range o.ActionResults {
		if !r.Skipped {
			return false
		}
	}
	return true
}
