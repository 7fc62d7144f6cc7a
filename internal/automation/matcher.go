package automation

import "fmt"

// RuleEvaluationError ties an evaluation failure to the rule that caused it.
type RuleEvaluationError struct {
	RuleID string
	Err    error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.RuleID, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

// Match selects the enabled rules for evt whose conditions all hold.
// Results follow creation order (createdAt, then id) and hold each rule at most once.
// Rules that fail to evaluate are treated as non-matching and reported in errs.
func Match(evt Event, rules []Rule) (matches []MatchResult, errs []error) {
	candidates := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled && r.Trigger.Type == evt.Type {
			candidates = append(candidates, r)
		}
	}
	SortRules(candidates)

	seen := make(map[string]struct{}, len(candidates))
	for _, r := range candidates {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}

		ok, matched, err := EvaluateAll(r.Trigger.Conditions, evt)
		if err != nil {
			errs = append(errs, &RuleEvaluationError{RuleID: r.ID, Err: err})
			continue
		}
		if !ok {
			continue
		}
		matches = append(matches, MatchResult{Rule: r, Event: evt, MatchedConditions: matched})
	}
	return matches, errs
}
