package automation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/smarthome-core/internal/device"
)

// Action is the side effect of a rule. It may touch any device; the rule
// does not know which device caused it to fire.
type Action func(ctx context.Context) error

// RuleOption configures a Rule at construction.
type RuleOption func(*Rule)

// WithRand sets the random source for event triggers. The source is only
// used under the rule's lock.
func WithRand(src rand.Source) RuleOption {
	return func(r *Rule) {
		r.rng = rand.New(src)
	}
}

// WithDescription sets the human readable summary of the action.
func WithDescription(desc string) RuleOption {
	return func(r *Rule) {
		r.description = desc
	}
}

// Rule binds a trigger to an action.
//
// Thread Safety: ShouldTrigger and Execute may be called from any goroutine.
// The debounce flag and random source are guarded by the rule's own mutex.
type Rule struct {
	id          string
	name        string
	description string
	trigger     Trigger
	action      Action

	mu       sync.Mutex
	consumed bool
	rng      *rand.Rand
}

// NewRule creates a rule with a generated UUID.
//
// Returns ErrInvalidRule if name is blank or trigger or action is nil.
func NewRule(name string, trigger Trigger, action Action, opts ...RuleOption) (*Rule, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	case trigger == nil:
		return nil, fmt.Errorf("%w: rule %q has no trigger", ErrInvalidRule, name)
	case action == nil:
		return nil, fmt.Errorf("%w: rule %q has no action", ErrInvalidRule, name)
	}

	r := &Rule{
		id:      uuid.NewString(),
		name:    name,
		trigger: trigger,
		action:  action,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ID returns the generated unique identifier.
func (r *Rule) ID() string { return r.id }

// Name returns the display name. Names are not unique.
func (r *Rule) Name() string { return r.name }

// Description returns the action summary, if one was given.
func (r *Rule) Description() string { return r.description }

// Trigger returns the rule's trigger.
func (r *Rule) Trigger() Trigger { return r.trigger }

// ShouldTrigger evaluates the trigger for one device at the given time.
//
// A time based trigger returns true once per matching minute and re-arms
// when evaluated outside that minute. An event trigger draws a fresh random
// number on every call and has no debounce.
func (r *Rule) ShouldTrigger(_ device.State, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch t := r.trigger.(type) {
	case TimeOfDay:
		return r.debounce(t.At.Matches(now))
	case Weekly:
		return r.debounce(t.At.Matches(now) && t.Days.Contains(now.Weekday()))
	case Probabilistic:
		return r.draw() < t.P
	default:
		return false
	}
}

// debounce consumes a match once and re-arms on a miss. Caller holds mu.
func (r *Rule) debounce(matches bool) bool {
	if !matches {
		r.consumed = false
		return false
	}
	if r.consumed {
		return false
	}
	r.consumed = true
	return true
}

func (r *Rule) draw() float64 {
	if r.rng != nil {
		return r.rng.Float64()
	}
	return rand.Float64()
}

// Execute runs the action. Errors and panics propagate to the caller.
func (r *Rule) Execute(ctx context.Context) error {
	return r.action(ctx)
}

// RuleInfo is the read-only view of a rule returned by listings.
type RuleInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Trigger     TriggerSpec `json:"trigger"`
	Summary     string      `json:"summary"`
	Description string      `json:"description,omitempty"`
}

// Info returns a snapshot of the rule's definition.
func (r *Rule) Info() RuleInfo {
	return RuleInfo{
		ID:          r.id,
		Name:        r.name,
		Trigger:     r.trigger.Spec(),
		Summary:     r.trigger.String(),
		Description: r.description,
	}
}
