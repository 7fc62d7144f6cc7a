package automation

import (
	"context"
	"errors"

	"sampark/internal/metrics"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sampark/automation"

// OutcomePublisher receives recorded outcomes, e.g. to fan them out on the event bus.
type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, outcome ExecutionOutcome) error
}

// ProcessResult summarizes one event's trip through the engine.
type ProcessResult struct {
	Event            Event              `json:"event"`
	Matched          []string           `json:"matched_rules"`
	Outcomes         []ExecutionOutcome `json:"outcomes"`
	EvaluationErrors []string           `json:"evaluation_errors,omitempty"`
}

// Engine wires normalizer, matcher, executor and recorder together.
type Engine struct {
	rules      *RuleSet
	normalizer *Normalizer
	executor   *Executor
	recorder   *Recorder
	validator  Validator
	dispatcher *Dispatcher
	publisher  OutcomePublisher
	logger     *logrus.Logger
}

func NewEngine(rules *RuleSet, normalizer *Normalizer, executor *Executor, recorder *Recorder, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	return &Engine{
		rules:      rules,
		normalizer: normalizer,
		executor:   executor,
		recorder:   recorder,
		logger:     logger,
	}
}

// WithValidator sets the save-time validator used by DryRun.
func (e *Engine) WithValidator(v Validator) *Engine {
	e.validator = v
	return e
}

// WithPublisher fans recorded outcomes out to p. Publish failures are logged only.
func (e *Engine) WithPublisher(p OutcomePublisher) *Engine {
	e.publisher = p
	return e
}

// AttachDispatcher routes Handle through d instead of processing inline.
func (e *Engine) AttachDispatcher(d *Dispatcher) {
	e.dispatcher = d
}

func (e *Engine) Rules() *RuleSet         { return e.rules }
func (e *Engine) Recorder() *Recorder     { return e.recorder }
func (e *Engine) Normalizer() *Normalizer { return e.normalizer }

// Handle normalizes raw and schedules it. Malformed occurrences are rejected
// synchronously; done receives the processing result later.
func (e *Engine) Handle(ctx context.Context, raw RawOccurrence, done func(error)) error {
	evt, err := e.normalizer.Normalize(raw)
	if err != nil {
		metrics.IncEventRejected()
		e.logger.WithField("type", raw.Type).Warnf("automation: rejected occurrence: %v", err)
		return err
	}
	if e.dispatcher == nil {
		_, err := e.Process(ctx, evt)
		if done != nil {
			done(err)
		}
		return nil
	}
	return e.dispatcher.Dispatch(ctx, evt, done)
}

// Process matches evt against the current rule snapshot and executes every match
// in order. A returned error is fatal: evt was not fully processed and must be redelivered.
func (e *Engine) Process(ctx context.Context, evt Event) (*ProcessResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "automation.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", evt.ID),
		attribute.String("event.type", string(evt.Type)),
		attribute.String("subject.id", evt.SubjectID),
	)

	log := e.logger.WithFields(logrus.Fields{
		"event_id":   evt.ID,
		"event_type": evt.Type,
		"subject_id": evt.SubjectID,
	})

	result := &ProcessResult{Event: evt}
	matches, evalErrs := Match(evt, e.rules.Snapshot().For(evt.Type))
	for _, err := range evalErrs {
		log.Warnf("automation: rule skipped: %v", err)
		result.EvaluationErrors = append(result.EvaluationErrors, err.Error())
	}
	metrics.AddEvaluationErrors(len(evalErrs))
	metrics.AddRulesMatched(len(matches))

	for _, m := range matches {
		result.Matched = append(result.Matched, m.Rule.ID)

		outcome, err := e.executor.Execute(ctx, m)
		if err != nil {
			return e.fail(span, log, result, err)
		}
		if outcome.AllSkipped() {
			log.WithField("rule_id", m.Rule.ID).Debug("automation: replay, nothing to do")
			continue
		}
		outcome, err = e.recorder.Record(ctx, outcome)
		if err != nil {
			return e.fail(span, log, result, err)
		}
		result.Outcomes = append(result.Outcomes, outcome)

		log.WithFields(logrus.Fields{
			"rule_id":   m.Rule.ID,
			"succeeded": outcome.Succeeded(),
		}).Info("automation: rule executed")

		if e.publisher != nil {
			if err := e.publisher.PublishOutcome(ctx, outcome); err != nil {
				log.Warnf("automation: publish outcome failed: %v", err)
			}
		}
	}

	metrics.IncEventProcessed()
	return result, nil
}

func (e *Engine) fail(span trace.Span, log *logrus.Entry, result *ProcessResult, err error) (*ProcessResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "fatal")
	metrics.IncEventFailed()
	log.Errorf("automation: event not processed, redelivery required: %v", err)
	if !IsFatal(err) {
		err = &AuditUnavailableError{Op: "process", Err: err}
	}
	return result, err
}

// DryRunResult reports how a candidate rule would treat a sample event.
type DryRunResult struct {
	Event             Event       `json:"event"`
	Matched           bool        `json:"matched"`
	MatchedConditions []Condition `json:"matched_conditions"`
	Actions           []Action    `json:"actions"`
	Error             string      `json:"error,omitempty"`
}

// DryRun validates rule and evaluates it against raw without executing anything.
func (e *Engine) DryRun(rule Rule, raw RawOccurrence) (*DryRunResult, error) {
	if err := e.validator.ValidateRule(rule); err != nil {
		return nil, err
	}
	evt, err := NewNormalizer().Normalize(raw)
	if err != nil {
		return nil, err
	}
	res := &DryRunResult{Event: evt}
	if rule.Trigger.Type != evt.Type {
		return res, nil
	}
	ok, matched, err := EvaluateAll(rule.Trigger.Conditions, evt)
	if err != nil {
		var mismatch *TypeMismatchError
		if errors.As(err, &mismatch) {
			res.Error = err.Error()
			return res, nil
		}
		return nil, err
	}
	res.Matched = ok
	res.MatchedConditions = matched
	if ok {
		res.Actions = rule.Actions
	}
	return res, nil
}
