package metrics

import (
	"sync"
	"sync/atomic"
)

// Action result labels.
const (
	ActionSucceeded = "succeeded"
	ActionFailed    = "failed"
	ActionSkipped   = "skipped"
	ActionRetried   = "retried"
)

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}

// engineStats counts automation engine activity.
type engineStats struct {
	eventsProcessed  uint64
	eventsRejected   uint64
	eventsFailed     uint64
	rulesMatched     uint64
	evaluationErrors uint64
	retries          uint64

	mu      sync.Mutex
	actions map[string]map[string]uint64
}

var engine engineStats

func IncEventProcessed()        { atomic.AddUint64(&engine.eventsProcessed, 1) }
func IncEventRejected()         { atomic.AddUint64(&engine.eventsRejected, 1) }
func IncEventFailed()           { atomic.AddUint64(&engine.eventsFailed, 1) }
func AddRulesMatched(n int)     { atomic.AddUint64(&engine.rulesMatched, uint64(n)) }
func AddEvaluationErrors(n int) { atomic.AddUint64(&engine.evaluationErrors, uint64(n)) }

// IncActionRetry counts a retried attempt of an action type.
func IncActionRetry(actionType string) {
	atomic.AddUint64(&engine.retries, 1)
	IncAction(actionType, ActionRetried)
}

// IncAction counts one action result by type and result label.
func IncAction(actionType, result string) {
	engine.mu.Lock()
	defer engine.mu.Unlock()
	if engine.actions == nil {
		engine.actions = make(map[string]map[string]uint64)
	}
	if engine.actions[actionType] == nil {
		engine.actions[actionType] = make(map[string]uint64)
	}
	engine.actions[actionType][result]++
}

// EngineSnapshot is a point-in-time copy of the engine counters.
type EngineSnapshot struct {
	EventsProcessed  uint64                       `json:"events_processed"`
	EventsRejected   uint64                       `json:"events_rejected"`
	EventsFailed     uint64                       `json:"events_failed"`
	RulesMatched     uint64                       `json:"rules_matched"`
	EvaluationErrors uint64                       `json:"evaluation_errors"`
	ActionRetries    uint64                       `json:"action_retries"`
	Actions          map[string]map[string]uint64 `json:"actions"`
}

func Engine() EngineSnapshot {
	s := EngineSnapshot{
		EventsProcessed:  atomic.LoadUint64(&engine.eventsProcessed),
		EventsRejected:   atomic.LoadUint64(&engine.eventsRejected),
		EventsFailed:     atomic.LoadUint64(&engine.eventsFailed),
		RulesMatched:     atomic.LoadUint64(&engine.rulesMatched),
		EvaluationErrors: atomic.LoadUint64(&engine.evaluationErrors),
		ActionRetries:    atomic.LoadUint64(&engine.retries),
	}
	engine.mu.Lock()
	defer engine.mu.Unlock()
	s.Actions = make(map[string]map[string]uint64, len(engine.actions))
	for t, byResult := range engine.actions {
		cp := make(map[string]uint64, len(byResult))
		for k, v := range byResult {
			cp[k] = v
		}
		s.Actions[t] = cp
	}
	return s
}
