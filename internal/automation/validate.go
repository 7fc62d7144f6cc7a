package automation

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// NotificationChannels accepted by send_notification.
const (
	ChannelInApp = "in_app"
	ChannelPush  = "push"
)

// Validator checks rules at save time.
type Validator struct {
	// EmailTemplates restricts send_email templates when non-empty.
	EmailTemplates []string
}

// ValidateRule reports every configuration problem of r, or nil.
func (v Validator) ValidateRule(r Rule) error {
	var errs error
	add := func(path, format string, args ...interface{}) {
		errs = multierr.Append(errs, &ConfigError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(r.Name) == "" {
		add("name", "is required")
	}
	if !r.Trigger.Type.Valid() {
		add("trigger.type", "unsupported event type %q", r.Trigger.Type)
	}

	for i, c := range r.Trigger.Conditions {
		path := fmt.Sprintf("trigger.conditions[%d]", i)
		if strings.TrimSpace(c.Field) == "" {
			add(path+".field", "is required")
		}
		if !c.Operator.Valid() {
			add(path+".operator", "unknown operator %q", c.Operator)
			continue
		}
		if _, ok := toScalar(c.Value); !ok {
			add(path+".value", "must be a string, number or boolean")
			continue
		}
		switch c.Operator {
		case OpGt, OpLt:
			if _, ok := toNumber(c.Value); !ok {
				add(path+".value", "operator %s requires a numeric value", c.Operator)
			}
		case OpIn:
			s, isText := c.Value.(string)
			if !isText || strings.TrimSpace(s) == "" {
				add(path+".value", "operator in requires a comma-separated list")
			}
		}
	}

	if len(r.Actions) == 0 {
		add("actions", "at least one action is required")
	}
	for i, a := range r.Actions {
		for _, err := range v.validateAction(a) {
			errs = multierr.Append(errs, &ConfigError{Path: fmt.Sprintf("actions[%d]", i), Message: err})
		}
	}

	if errs != nil {
		return &ValidationError{Err: errs}
	}
	return nil
}

func (v Validator) validateAction(a Action) []string {
	var problems []string
	require := func(key string) {
		if strings.TrimSpace(a.StringParam(key)) == "" {
			problems = append(problems, fmt.Sprintf("%s requires param %q", a.Type, key))
		}
	}

	switch a.Type {
	case ActionAssignConversation:
		require("assignee")
	case ActionAddTag:
		require("tag")
		if _, present := a.Params["autoCreate"]; present {
			if _, ok := a.BoolParam("autoCreate"); !ok {
				problems = append(problems, "add_tag param \"autoCreate\" must be a boolean")
			}
		}
	case ActionSendEmail:
		require("template")
		if tpl := a.StringParam("template"); tpl != "" && len(v.EmailTemplates) > 0 && !contains(v.EmailTemplates, tpl) {
			problems = append(problems, fmt.Sprintf("unknown email template %q", tpl))
		}
	case ActionSendNotification:
		require("message")
		if ch := a.StringParam("channel"); ch != "" && ch != ChannelInApp && ch != ChannelPush {
			problems = append(problems, fmt.Sprintf("unknown notification channel %q", ch))
		}
	case ActionSetPriority:
		if p := Priority(a.StringParam("priority")); !p.Valid() {
			problems = append(problems, fmt.Sprintf("priority must be one of LOW, MEDIUM, HIGH, URGENT, got %q", p))
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported action type %q", a.Type))
	}
	return problems
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
