package device

// Light brightness bounds.
const (
	MinBrightness     = 0
	MaxBrightness     = 100
	DefaultBrightness = 100

	// lightKWhPerBrightnessHour gives 1 kWh/h at full brightness scaled by 0.01.
	lightKWhPerBrightnessHour = 0.01
)

// Light is a dimmable lamp with energy metering.
type Light struct {
	base
	brightness int
	meter      energyMeter
}

// NewLight creates a light that starts off at the given brightness
// (clamped to 0..100).
func NewLight(id, name string, brightness int, opts ...Option) *Light {
	l := &Light{brightness: clampBrightness(brightness)}
	l.init(id, name, opts)
	l.meter.since = l.now()
	return l
}

func clampBrightness(level int) int {
	return min(max(level, MinBrightness), MaxBrightness)
}

// Type implements Device.
func (l *Light) Type() Type { return TypeLight }

func (l *Light) rate() float64 {
	return lightKWhPerBrightnessHour * float64(l.brightness)
}

// TurnOn implements Device.
func (l *Light) TurnOn() { l.update(func() { l.on = true }) }

// TurnOff implements Device.
func (l *Light) TurnOff() { l.update(func() { l.on = false }) }

// Toggle implements Device.
func (l *Light) Toggle() bool {
	var on bool
	l.update(func() {
		l.on = !l.on
		on = l.on
	})
	return on
}

// update accrues energy at the old rate, applies fn and notifies.
func (l *Light) update(fn func()) {
	l.mu.Lock()
	now := l.now()
	l.meter.accrue(now, l.on, l.rate())
	fn()
	l.updatedAt = now
	s := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(s)
}

// Brightness implements Dimmable.
func (l *Light) Brightness() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.brightness
}

// SetBrightness implements Dimmable. Values outside 0..100 are clamped.
func (l *Light) SetBrightness(level int) {
	l.update(func() { l.brightness = clampBrightness(level) })
}

// EnergyConsumption implements EnergyMonitored.
func (l *Light) EnergyConsumption() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.meter.accrue(l.now(), l.on, l.rate())
	return l.meter.used
}

// ResetEnergyStats implements EnergyMonitored.
func (l *Light) ResetEnergyStats() {
	l.mu.Lock()
	l.meter.reset(l.now())
	s := l.snapshotLocked()
	l.mu.Unlock()
	l.notify(s)
}

// Snapshot implements Device.
func (l *Light) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.meter.accrue(l.now(), l.on, l.rate())
	return l.snapshotLocked()
}

func (l *Light) snapshotLocked() State {
	var s State
	l.fill(&s, TypeLight)
	s.Brightness = ptr(l.brightness)
	s.EnergyKWh = ptr(l.meter.used)
	return s
}

// Restore implements Restorer.
func (l *Light) Restore(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = s.On
	if s.Brightness != nil {
		l.brightness = clampBrightness(*s.Brightness)
	}
	l.meter.restore(s.EnergyKWh, l.now())
}
