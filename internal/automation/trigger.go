package automation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TriggerType names a trigger variant in rule definitions.
type TriggerType string

const (
	TriggerTime   TriggerType = "time"
	TriggerWeekly TriggerType = "weekly"
	TriggerEvent  TriggerType = "event"
)

// DefaultEventProbability is used when an event trigger omits probability.
const DefaultEventProbability = 0.01

// Trigger is the condition under which a rule fires.
//
// The set of implementations is closed: TimeOfDay, Weekly and
// Probabilistic. Rule.ShouldTrigger switches over exactly these.
type Trigger interface {
	Type() TriggerType
	String() string

	// Spec returns the definition the trigger was built from.
	Spec() TriggerSpec

	isTrigger()
}

// clockPattern accepts two-digit 24h times from 00:00 to 23:59.
var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ClockTime is an hour and minute of the day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" in 24-hour form.
func ParseClockTime(s string) (ClockTime, error) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ClockTime{}, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidSchedule, s)
	}
	hour, _ := strconv.Atoi(m[1])   //nolint:errcheck // regexp guarantees digits
	minute, _ := strconv.Atoi(m[2]) //nolint:errcheck // regexp guarantees digits
	return ClockTime{Hour: hour, Minute: minute}, nil
}

// Matches reports whether t falls within this minute of the day.
func (c ClockTime) Matches(t time.Time) bool {
	return t.Hour() == c.Hour && t.Minute() == c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// WeekdaySet is a bitmask of weekdays. The empty set means every day.
type WeekdaySet uint8

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Contains reports whether d is active. Every day is active in an empty set.
func (s WeekdaySet) Contains(d time.Weekday) bool {
	return s == 0 || s&(1<<uint(d)) != 0
}

// Days returns the active days from Sunday to Saturday.
func (s WeekdaySet) Days() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Contains(d) {
			days = append(days, d)
		}
	}
	return days
}

// Names returns lower-case three letter day names, nil for every day.
func (s WeekdaySet) Names() []string {
	if s == 0 {
		return nil
	}
	days := s.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = strings.ToLower(d.String()[:3])
	}
	return names
}

func (s WeekdaySet) String() string {
	if s == 0 {
		return "every day"
	}
	return strings.Join(s.Names(), ",")
}

// ParseWeekday accepts full or three letter English day names in any case.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidSchedule, s)
}

// TimeOfDay fires once when the wall clock reaches At.
type TimeOfDay struct {
	At ClockTime
}

// NewTimeOfDay builds a daily trigger from "HH:MM".
func NewTimeOfDay(at string) (TimeOfDay, error) {
	c, err := ParseClockTime(at)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{At: c}, nil
}

func (TimeOfDay) Type() TriggerType { return TriggerTime }
func (t TimeOfDay) String() string  { return "daily at " + t.At.String() }
func (TimeOfDay) isTrigger()        {}

func (t TimeOfDay) Spec() TriggerSpec {
	return TriggerSpec{Type: TriggerTime, At: t.At.String()}
}

// Weekly fires once when the wall clock reaches At on an active day.
type Weekly struct {
	At   ClockTime
	Days WeekdaySet
}

// NewWeekly builds a weekly trigger from "HH:MM". No days means every day.
func NewWeekly(at string, days ...time.Weekday) (Weekly, error) {
	c, err := ParseClockTime(at)
	if err != nil {
		return Weekly{}, err
	}
	return Weekly{At: c, Days: NewWeekdaySet(days...)}, nil
}

func (Weekly) Type() TriggerType { return TriggerWeekly }
func (w Weekly) String() string  { return fmt.Sprintf("%s at %s", w.Days, w.At) }
func (Weekly) isTrigger()        {}

func (w Weekly) Spec() TriggerSpec {
	return TriggerSpec{Type: TriggerWeekly, At: w.At.String(), Days: w.Days.Names()}
}

// Probabilistic fires on each evaluation with probability P. It stands in
// for a sensor event such as motion or smoke.
type Probabilistic struct {
	Label string
	P     float64
}

// NewProbabilistic builds an event trigger. p must be within [0, 1].
func NewProbabilistic(label string, p float64) (Probabilistic, error) {
	if !(p >= 0 && p <= 1) {
		return Probabilistic{}, fmt.Errorf("%w: %v is outside [0, 1]", ErrInvalidProbability, p)
	}
	return Probabilistic{Label: label, P: p}, nil
}

func (Probabilistic) Type() TriggerType { return TriggerEvent }
func (Probabilistic) isTrigger()        {}

func (p Probabilistic) String() string {
	return fmt.Sprintf("on %q (p=%g)", p.Label, p.P)
}

func (p Probabilistic) Spec() TriggerSpec {
	prob := p.P
	return TriggerSpec{Type: TriggerEvent, Event: p.Label, Probability: &prob}
}

// TriggerSpec is the declarative form of a trigger, as written in the home
// file and returned by the API.
type TriggerSpec struct {
	Type        TriggerType `yaml:"type" json:"type"`
	At          string      `yaml:"at,omitempty" json:"at,omitempty"`
	Days        []string    `yaml:"days,omitempty" json:"days,omitempty"`
	Event       string      `yaml:"event,omitempty" json:"event,omitempty"`
	Probability *float64    `yaml:"probability,omitempty" json:"probability,omitempty"`
}

// Build validates the definition and returns the trigger it describes.
//
// Returns:
//   - ErrInvalidSchedule for a bad time or weekday
//   - ErrInvalidProbability for a probability outside [0, 1]
//   - ErrInvalidTrigger for an unknown type or missing event label
func (s TriggerSpec) Build() (Trigger, error) {
	switch TriggerType(strings.ToLower(string(s.Type))) {
	case TriggerTime:
		return NewTimeOfDay(s.At)

	case TriggerWeekly:
		days := make([]time.Weekday, 0, len(s.Days))
		for _, name := range s.Days {
			d, err := ParseWeekday(name)
			if err != nil {
				return nil, err
			}
			days = append(days, d)
		}
		return NewWeekly(s.At, days...)

	case TriggerEvent:
		if strings.TrimSpace(s.Event) == "" {
			return nil, fmt.Errorf("%w: event trigger needs an event label", ErrInvalidTrigger)
		}
		p := DefaultEventProbability
		if s.Probability != nil {
			p = *s.Probability
		}
		return NewProbabilistic(s.Event, p)

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTrigger, s.Type)
	}
}
