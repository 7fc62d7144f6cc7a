package automation

import (
	"context"
	"fmt"
	"time"

	"sampark/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ExecutorConfig controls per-action timeouts and retries.
type ExecutorConfig struct {
	ActionTimeout  time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AutoCreateTags is the add_tag default when the action has no autoCreate param.
	AutoCreateTags bool
}

// DefaultExecutorConfig: 5s per attempt, 3 retries.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ActionTimeout:  5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// IdempotencyChecker reports which actions of (rule, event) already succeeded.
type IdempotencyChecker interface {
	SucceededActions(ctx context.Context, ruleID, eventID string) (map[int]bool, error)
}

// Executor applies a matched rule's actions against the collaborators.
type Executor struct {
	collab   Collaborators
	checker  IdempotencyChecker
	cfg      ExecutorConfig
	breakers map[ActionType]Breaker
	logger   *logrus.Logger
}

func NewExecutor(collab Collaborators, checker IdempotencyChecker, cfg ExecutorConfig, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	def := DefaultExecutorConfig()
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	return &Executor{
		collab:   collab,
		checker:  checker,
		cfg:      cfg,
		breakers: make(map[ActionType]Breaker),
		logger:   logger,
	}
}

// WithBreaker guards every call of the given action type.
func (x *Executor) WithBreaker(t ActionType, b Breaker) *Executor {
	x.breakers[t] = b
	return x
}

// Execute runs the actions of m in declared order. A failed action never stops
// the following ones. Actions that already succeeded for (rule, event) are skipped.
// The returned error is fatal: the idempotence lookup could not be made.
func (x *Executor) Execute(ctx context.Context, m MatchResult) (ExecutionOutcome, error) {
	outcome := ExecutionOutcome{
		RuleID:        m.Rule.ID,
		EventID:       m.Event.ID,
		EventType:     m.Event.Type,
		SubjectID:     m.Event.SubjectID,
		ActionResults: make([]ActionResult, 0, len(m.Rule.Actions)),
	}

	done, err := x.checker.SucceededActions(ctx, m.Rule.ID, m.Event.ID)
	if err != nil {
		return outcome, err
	}

	for i, act := range m.Rule.Actions {
		if done[i] {
			outcome.ActionResults = append(outcome.ActionResults, ActionResult{
				Index: i, Action: act, Success: true, Skipped: true,
			})
			metrics.IncAction(string(act.Type), metrics.ActionSkipped)
			continue
		}
		outcome.ActionResults = append(outcome.ActionResults, x.run(ctx, i, act, m))
	}
	return outcome, nil
}

func (x *Executor) run(ctx context.Context, index int, act Action, m MatchResult) ActionResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "automation.action")
	defer span.End()
	span.SetAttributes(
		attribute.String("rule.id", m.Rule.ID),
		attribute.String("event.id", m.Event.ID),
		attribute.String("action.type", string(act.Type)),
		attribute.Int("action.index", index),
	)

	breaker := x.breakers[act.Type]
	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 {
			metrics.IncActionRetry(string(act.Type))
		}
		if breaker != nil && !breaker.Allow() {
			return backoff.Permanent(&DeliveryError{Channel: string(act.Type), Transient: true, Err: ErrCircuitOpen})
		}

		actx, cancel := context.WithTimeout(ctx, x.cfg.ActionTimeout)
		err := x.dispatch(actx, act, m)
		cancel()

		if err == nil {
			if breaker != nil {
				breaker.OnSuccess()
			}
			return nil
		}
		if IsTransient(err) {
			if breaker != nil {
				breaker.OnFailure()
			}
			return err
		}
		// the collaborator answered, so it is healthy even though the request was rejected
		if breaker != nil {
			breaker.OnSuccess()
		}
		return backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = x.cfg.InitialBackoff
	eb.MaxInterval = x.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, x.cfg.MaxRetries), ctx))

	res := ActionResult{Index: index, Action: act, Attempts: attempts}
	if err != nil {
		res.Error = err.Error()
		res.ErrorType = ErrorType(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, res.ErrorType)
		metrics.IncAction(string(act.Type), metrics.ActionFailed)
		x.logger.WithFields(logrus.Fields{
			"rule_id":  m.Rule.ID,
			"event_id": m.Event.ID,
			"action":   act.Type,
			"attempts": attempts,
		}).Warnf("automation: action failed: %v", err)
		return res
	}
	res.Success = true
	metrics.IncAction(string(act.Type), metrics.ActionSucceeded)
	return res
}

// dispatch maps each action type to exactly one collaborator call.
func (x *Executor) dispatch(ctx context.Context, act Action, m MatchResult) error {
	evt := m.Event
	target := TargetOf(evt)

	switch act.Type {
	case ActionAssignConversation:
		if x.collab.Conversations == nil {
			return fmt.Errorf("conversation service not configured")
		}
		assignee := act.StringParam("assignee")
		if assignee == "" {
			return &AssignmentError{Assignee: assignee, Reason: "assignee param required"}
		}
		return x.collab.Conversations.AssignConversation(ctx, target, assignee)

	case ActionAddTag:
		if x.collab.Tags == nil {
			return fmt.Errorf("tag service not configured")
		}
		tag := act.StringParam("tag")
		autoCreate, ok := act.BoolParam("autoCreate")
		if !ok {
			autoCreate = x.cfg.AutoCreateTags
		}
		if tag == "" {
			return &UnknownTagError{Tag: tag}
		}
		return x.collab.Tags.AddTag(ctx, target, tag, autoCreate)

	case ActionSendEmail:
		if x.collab.Email == nil {
			return &DeliveryError{Channel: "email", Err: fmt.Errorf("email sender not configured")}
		}
		data := make(map[string]interface{}, len(evt.Fields)+2)
		for k, v := range evt.Fields {
			data[k] = v
		}
		data["subject_id"] = evt.SubjectID
		data["rule_name"] = m.Rule.Name
		return x.collab.Email.SendEmail(ctx, EmailRequest{
			Target:   target,
			Template: act.StringParam("template"),
			To:       act.StringParam("to"),
			Subject:  Interpolate(act.StringParam("subject"), evt),
			Data:     data,
		})

	case ActionSendNotification:
		if x.collab.Notifications == nil {
			return &DeliveryError{Channel: "notification", Err: fmt.Errorf("notifier not configured")}
		}
		channel := act.StringParam("channel")
		if channel == "" {
			channel = ChannelInApp
		}
		title := act.StringParam("title")
		if title == "" {
			title = m.Rule.Name
		}
		return x.collab.Notifications.Notify(ctx, Notification{
			Target:    target,
			Channel:   channel,
			Title:     Interpolate(title, evt),
			Message:   Interpolate(act.StringParam("message"), evt),
			Recipient: act.StringParam("recipient"),
			RuleID:    m.Rule.ID,
			EventID:   evt.ID,
		})

	case ActionSetPriority:
		if x.collab.Conversations == nil {
			return fmt.Errorf("conversation service not configured")
		}
		p := Priority(act.StringParam("priority"))
		if !p.Valid() {
			return &InvalidPriorityError{Value: string(p)}
		}
		return x.collab.Conversations.SetConversationPriority(ctx, target, p, evt.OccurredAt)

	default:
		return fmt.Errorf("unsupported action type: %s", act.Type)
	}
}
