package device

import (
	"sync"
	"sync/atomic"
	"time"
)

// base carries identity, the on/off flag and change notification shared by
// every device class. Concrete devices hold mu while touching their own
// fields too.
type base struct {
	mu sync.Mutex

	id   string
	name string
	on   bool

	updatedAt time.Time
	now       func() time.Time

	onChange atomic.Pointer[func(State)]
}

func (b *base) init(id, name string, opts []Option) {
	b.id, b.name, b.now = id, name, time.Now
	for _, opt := range opts {
		opt(b)
	}
	b.updatedAt = b.now()
}

func (b *base) ID() string   { return b.id }
func (b *base) Name() string { return b.name }

func (b *base) IsOn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.on
}

func (b *base) SetOnChange(fn func(State)) {
	if fn == nil {
		b.onChange.Store(nil)
		return
	}
	b.onChange.Store(&fn)
}

// notify must be called without mu held.
func (b *base) notify(s State) {
	if fn := b.onChange.Load(); fn != nil {
		(*fn)(s)
	}
}

// fill copies the shared fields into s. Caller holds mu.
func (b *base) fill(s *State, t Type) {
	s.ID = b.id
	s.Name = b.name
	s.Type = t
	s.On = b.on
	s.UpdatedAt = b.updatedAt
}

// energyMeter integrates a power draw over time. Caller holds the device mu.
type energyMeter struct {
	used  float64
	since time.Time
}

// accrue adds rate*hours since the last accrual, then restarts the interval.
// rate is in kWh per hour.
func (m *energyMeter) accrue(now time.Time, on bool, rate float64) {
	if on && !m.since.IsZero() {
		if hours := now.Sub(m.since).Hours(); hours > 0 {
			m.used += rate * hours
		}
	}
	m.since = now
}

// restore resumes metering from a persisted total. Negative or missing
// totals start from zero.
func (m *energyMeter) restore(used *float64, now time.Time) {
	m.used = 0
	if used != nil && *used > 0 {
		m.used = *used
	}
	m.since = now
}

func (m *energyMeter) reset(now time.Time) {
	m.used = 0
	m.since = now
}

func ptr[T any](v T) *T { return &v }
