package automation

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// RuleSet is the ordered collection of rules evaluated by the monitor.
//
// Writers copy the current slice under mu and publish the copy atomically.
// A pass that took a snapshot with List keeps iterating it unchanged, so
// rules added mid-pass (including from inside an action) are evaluated from
// the next pass.
type RuleSet struct {
	mu    sync.Mutex
	rules atomic.Pointer[[]*Rule]
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	s := &RuleSet{}
	s.rules.Store(&[]*Rule{})
	return s
}

// Add appends a rule. Returns ErrInvalidRule for nil and ErrRuleExists when
// the same rule is added twice.
func (s *RuleSet) Add(r *Rule) error {
	if r == nil {
		return fmt.Errorf("%w: nil rule", ErrInvalidRule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.rules.Load()
	for _, existing := range cur {
		if existing.ID() == r.ID() {
			return fmt.Errorf("%w: %s", ErrRuleExists, r.ID())
		}
	}

	next := make([]*Rule, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, r)
	s.rules.Store(&next)
	return nil
}

// List returns the rules in insertion order. The slice must not be modified.
func (s *RuleSet) List() []*Rule {
	return *s.rules.Load()
}

// Get returns the rule with the given ID or ErrRuleNotFound.
func (s *RuleSet) Get(id string) (*Rule, error) {
	for _, r := range s.List() {
		if r.ID() == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	return len(s.List())
}
