package metrics

import (
	"sync"
	"testing"
)

func TestIncRateLimitDrop(t *testing.T) {
	rl = rateLimitStats{}

	IncRateLimitDrop("api")
	IncRateLimitDrop("")
	IncRateLimitDrop("api")

	total, byPrefix := RateLimitSnapshot()
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if byPrefix["api"] != 2 {
		t.Errorf("api = %d, want 2", byPrefix["api"])
	}
	if byPrefix["global"] != 1 {
		t.Errorf("empty prefix should count as global, got %d", byPrefix["global"])
	}
}

func TestEngineCounters(t *testing.T) {
	// 重置全局状态
	engine = engineStats{}

	IncEventProcessed()
	IncEventProcessed()
	IncEventRejected()
	IncEventFailed()
	AddRulesMatched(3)
	AddEvaluationErrors(1)
	IncAction("add_tag", ActionSucceeded)
	IncAction("add_tag", ActionFailed)
	IncActionRetry("send_email")
	IncActionRetry("send_email")

	s := Engine()
	if s.EventsProcessed != 2 {
		t.Errorf("EventsProcessed = %d, want 2", s.EventsProcessed)
	}
	if s.EventsRejected != 1 || s.EventsFailed != 1 {
		t.Errorf("rejected/failed = %d/%d, want 1/1", s.EventsRejected, s.EventsFailed)
	}
	if s.RulesMatched != 3 {
		t.Errorf("RulesMatched = %d, want 3", s.RulesMatched)
	}
	if s.EvaluationErrors != 1 {
		t.Errorf("EvaluationErrors = %d, want 1", s.EvaluationErrors)
	}
	if s.ActionRetries != 2 {
		t.Errorf("ActionRetries = %d, want 2", s.ActionRetries)
	}
	if s.Actions["add_tag"][ActionSucceeded] != 1 || s.Actions["add_tag"][ActionFailed] != 1 {
		t.Errorf("add_tag counters = %v", s.Actions["add_tag"])
	}
	if s.Actions["send_email"][ActionRetried] != 2 {
		t.Errorf("send_email retried = %d, want 2", s.Actions["send_email"][ActionRetried])
	}
}

func TestEngineSnapshot_Isolation(t *testing.T) {
	engine = engineStats{}

	IncAction("set_priority", ActionSucceeded)
	s := Engine()
	s.Actions["set_priority"][ActionSucceeded] = 100

	if got := Engine().Actions["set_priority"][ActionSucceeded]; got != 1 {
		t.Errorf("snapshot mutation leaked into counters: %d", got)
	}
}

func TestIncAction_Concurrent(t *testing.T) {
	engine = engineStats{}

	const goroutines = 50
	const perGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				IncAction("assign_conversation", ActionSucceeded)
			}
		}()
	}
	wg.Wait()

	if got := Engine().Actions["assign_conversation"][ActionSucceeded]; got != goroutines*perGoroutine {
		t.Errorf("count = %d, want %d", got, goroutines*perGoroutine)
	}
}
