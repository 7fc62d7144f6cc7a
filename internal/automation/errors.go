package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

var (
	// ErrAuditUnavailable marks failures of the outcome store. Events hitting it must be redelivered.
	ErrAuditUnavailable = errors.New("audit store unavailable")
	// ErrCircuitOpen is returned while a collaborator's breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrDispatcherClosed is returned by Dispatch after Stop.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// MalformedEventError reports an occurrence that cannot become an Event.
type MalformedEventError struct {
	Type   string
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("malformed %s event: field %q %s", e.Type, e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s event: %s", e.Type, e.Reason)
}

// TypeMismatchError reports a condition that cannot be evaluated against the field value.
type TypeMismatchError struct {
	Field    string
	Operator Operator
	Value    interface{}
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("operator %s cannot compare field %q (value %v of type %T)", e.Operator, e.Field, e.Value, e.Value)
}

// UnknownOperatorError is only seen at evaluation time for rules that bypassed validation.
type UnknownOperatorError struct {
	Operator Operator
}

func (e *UnknownOperatorError) Error() string {
	return fmt.Sprintf("unknown operator %q", e.Operator)
}

// ConfigError is a single rule configuration problem.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationError aggregates every configuration problem of a rule.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0)
	for _, err := range multierr.Errors(e.Err) {
		msgs = append(msgs, err.Error())
	}
	return "invalid rule: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Problems returns the individual configuration errors.
func (e *ValidationError) Problems() []error {
	return multierr.Errors(e.Err)
}

// AssignmentError is returned when the assignee is unknown.
type AssignmentError struct {
	Assignee string
	Reason   string
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("cannot assign to %q: %s", e.Assignee, e.Reason)
}

// UnknownTagError is returned when a tag does not exist and auto-create is disabled.
type UnknownTagError struct {
	Tag string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown tag %q", e.Tag)
}

// InvalidPriorityError is returned for priorities outside the enum.
type InvalidPriorityError struct {
	Value string
}

func (e *InvalidPriorityError) Error() string {
	return fmt.Sprintf("invalid priority %q", e.Value)
}

// DeliveryError is a provider rejection from an email, notification or text provider.
type DeliveryError struct {
	Channel   string
	Transient bool
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s delivery failed", e.Channel)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// AuditUnavailableError wraps an outcome store failure.
type AuditUnavailableError struct {
	Op  string
	Err error
}

func (e *AuditUnavailableError) Error() string {
	return fmt.Sprintf("audit store %s: %v", e.Op, e.Err)
}

func (e *AuditUnavailableError) Unwrap() error { return e.Err }

func (e *AuditUnavailableError) Is(target error) bool { return target == ErrAuditUnavailable }

// IsFatal reports whether err means the event was not processed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuditUnavailable)
}

// IsTransient reports whether a failed action attempt may be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Temporary() bool }
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

// ErrorType names the taxonomy class of err for audit records.
func ErrorType(err error) string {
	var (
		assign   *AssignmentError
		tag      *UnknownTagError
		priority *InvalidPriorityError
		delivery *DeliveryError
		mismatch *TypeMismatchError
		invalid  *ValidationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &assign):
		return "AssignmentError"
	case errors.As(err, &tag):
		return "UnknownTagError"
	case errors.As(err, &priority):
		return "InvalidPriorityError"
	case errors.As(err, &delivery), errors.Is(err, ErrCircuitOpen):
		return "DeliveryError"
	case errors.As(err, &mismatch):
		return "TypeMismatchError"
	case errors.As(err, &invalid):
		return "ValidationError"
	case errors.Is(err, context.DeadlineExceeded):
		return "TimeoutError"
	default:
		return "ExecutionError"
	}
}
