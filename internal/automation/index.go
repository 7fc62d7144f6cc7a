package automation

import (
	"sort"
	"sync"
	"sync/atomic"
)

// RuleIndex is an immutable snapshot of enabled rules grouped by trigger type.
type RuleIndex struct {
	byType map[EventType][]Rule
	all    map[string]Rule
}

// NewRuleIndex builds a snapshot from rules. Rules that are not enabled are kept
// for lookup but never offered to the matcher.
func NewRuleIndex(rules []Rule) *RuleIndex {
	idx := &RuleIndex{
		byType: make(map[EventType][]Rule),
		all:    make(map[string]Rule, len(rules)),
	}
	for _, r := range rules {
		if r.Status == StatusDeleted {
			continue
		}
		idx.all[r.ID] = r
	}
	for _, r := range idx.all {
		if !r.Enabled {
			continue
		}
		idx.byType[r.Trigger.Type] = append(idx.byType[r.Trigger.Type], r)
	}
	for t := range idx.byType {
		SortRules(idx.byType[t])
	}
	return idx
}

// For returns the enabled rules for an event type in evaluation order.
func (idx *RuleIndex) For(t EventType) []Rule {
	if idx == nil {
		return nil
	}
	return idx.byType[t]
}

// Get returns the rule with id regardless of its status.
func (idx *RuleIndex) Get(id string) (Rule, bool) {
	if idx == nil {
		return Rule{}, false
	}
	r, ok := idx.all[id]
	return r, ok
}

// Len is the number of rules held, enabled or not.
func (idx *RuleIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.all)
}

func (idx *RuleIndex) rules() []Rule {
	out := make([]Rule, 0, len(idx.all))
	for _, r := range idx.all {
		out = append(out, r)
	}
	return out
}

// SortRules orders rules by creation time, then id.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

// RuleSet holds the current RuleIndex. Readers never block; writers rebuild
// a new snapshot under a short exclusive section.
type RuleSet struct {
	mu      sync.Mutex
	current atomic.Pointer[RuleIndex]
}

func NewRuleSet(rules []Rule) *RuleSet {
	rs := &RuleSet{}
	rs.current.Store(NewRuleIndex(rules))
	return rs
}

// Snapshot returns the index in effect right now.
func (rs *RuleSet) Snapshot() *RuleIndex {
	return rs.current.Load()
}

// Replace swaps in a fresh index built from rules.
func (rs *RuleSet) Replace(rules []Rule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.current.Store(NewRuleIndex(rules))
}

// Upsert adds or replaces one rule.
func (rs *RuleSet) Upsert(r Rule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rules := rs.current.Load().rules()
	replaced := false
	for i := range rules {
		if rules[i].ID == r.ID {
			rules[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		rules = append(rules, r)
	}
	rs.current.Store(NewRuleIndex(rules))
}

// Remove drops a rule from the index.
func (rs *RuleSet) Remove(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rules := rs.current.Load().rules()
	kept := rules[:0]
	for _, r := range rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	rs.current.Store(NewRuleIndex(kept))
}
