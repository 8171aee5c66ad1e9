package automation

import (
	"errors"
	"fmt"
)

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrInvalidSchedule) {
//	    // reject the rule definition
//	}
var (
	// ErrInvalidSchedule is returned when a trigger time is not HH:MM (24h)
	// or a weekday name is not recognised.
	ErrInvalidSchedule = errors.New("automation: invalid schedule")

	// ErrInvalidProbability is returned when an event probability is outside [0, 1].
	ErrInvalidProbability = errors.New("automation: invalid probability")

	// ErrInvalidTrigger is returned for an unknown trigger type.
	ErrInvalidTrigger = errors.New("automation: invalid trigger")

	// ErrInvalidRule is returned when a rule has no name, trigger or action.
	ErrInvalidRule = errors.New("automation: invalid rule")

	// ErrInvalidAction is returned when an action definition cannot be built.
	ErrInvalidAction = errors.New("automation: invalid action")

	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("automation: rule not found")

	// ErrRuleExists is returned when adding a rule whose ID is already present.
	ErrRuleExists = errors.New("automation: rule already exists")

	// ErrActionPanicked wraps the value recovered from a panicking action.
	ErrActionPanicked = errors.New("automation: action panicked")

	// ErrMonitorRunning is returned by Start when the loop is already running.
	ErrMonitorRunning = errors.New("automation: monitor already running")
)

// ActionExecutionError reports a rule whose action failed or panicked.
// The monitor logs it and carries on with the next rule.
type ActionExecutionError struct {
	RuleID   string
	RuleName string
	Cause    error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("automation: rule %q action failed: %v", e.RuleName, e.Cause)
}

func (e *ActionExecutionError) Unwrap() error {
	return e.Cause
}
