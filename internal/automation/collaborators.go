package automation

import (
	"context"
	"strings"
	"time"
)

// Target identifies the entity an action is applied to.
type Target struct {
	Kind string // "conversation" or "customer"
	ID   string
}

const (
	TargetConversation = "conversation"
	TargetCustomer     = "customer"
)

// TargetOf derives the action target from the event subject.
func TargetOf(evt Event) Target {
	if evt.Type == EventCustomerCreated {
		return Target{Kind: TargetCustomer, ID: evt.SubjectID}
	}
	return Target{Kind: TargetConversation, ID: evt.SubjectID}
}

// ConversationService covers assign_conversation and set_priority.
type ConversationService interface {
	AssignConversation(ctx context.Context, target Target, assignee string) error
	// SetConversationPriority must ignore writes whose asOf is older than the last applied one.
	SetConversationPriority(ctx context.Context, target Target, priority Priority, asOf time.Time) error
}

// TagService covers add_tag.
type TagService interface {
	AddTag(ctx context.Context, target Target, tag string, autoCreate bool) error
}

// EmailRequest is a templated email addressed to To, or to the target's customer when To is empty.
type EmailRequest struct {
	Target   Target
	Template string
	To       string
	Subject  string
	Data     map[string]interface{}
}

// EmailSender covers send_email.
type EmailSender interface {
	SendEmail(ctx context.Context, req EmailRequest) error
}

// Notification is an operator-facing notice.
type Notification struct {
	Target    Target
	Channel   string
	Title     string
	Message   string
	Recipient string
	RuleID    string
	EventID   string
}

// Notifier covers send_notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Collaborators bundles the services actions are executed against.
type Collaborators struct {
	Conversations ConversationService
	Tags          TagService
	Email         EmailSender
	Notifications Notifier
}

// Breaker guards a collaborator. services.CircuitBreaker satisfies it.
type Breaker interface {
	Allow() bool
	OnSuccess()
	OnFailure()
}

// Interpolate replaces {{field}} placeholders with event field values.
func Interpolate(s string, evt Event) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	pairs := make([]string, 0, len(evt.Fields)*2+4)
	for k, v := range evt.Fields {
		str, _ := stringify(v)
		pairs = append(pairs, "{{"+k+"}}", str)
	}
	pairs = append(pairs, "{{subject_id}}", evt.SubjectID, "{{event_type}}", string(evt.Type))
	return strings.NewReplacer(pairs...).Replace(s)
}
