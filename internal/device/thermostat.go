package device

import "math"

// thermostatKWhPerDegreeHour is the draw per degree of gap between the
// measured and target temperature.
const thermostatKWhPerDegreeHour = 0.5

// Thermostat holds a target temperature and the last measured temperature.
type Thermostat struct {
	base
	target  float64
	current float64
	meter   energyMeter
}

// NewThermostat creates a thermostat whose target and measured temperatures
// both start at initial.
func NewThermostat(id, name string, initial float64, opts ...Option) *Thermostat {
	t := &Thermostat{target: initial, current: initial}
	t.init(id, name, opts)
	t.meter.since = t.now()
	return t
}

// Type implements Device.
func (t *Thermostat) Type() Type { return TypeThermostat }

func (t *Thermostat) rate() float64 {
	return thermostatKWhPerDegreeHour * math.Abs(t.current-t.target)
}

// TurnOn implements Device.
func (t *Thermostat) TurnOn() { t.update(func() { t.on = true }) }

// TurnOff implements Device.
func (t *Thermostat) TurnOff() { t.update(func() { t.on = false }) }

// Toggle implements Device.
func (t *Thermostat) Toggle() bool {
	var on bool
	t.update(func() {
		t.on = !t.on
		on = t.on
	})
	return on
}

// SetTemperature implements Climate; it changes the target only.
func (t *Thermostat) SetTemperature(target float64) {
	t.update(func() { t.target = target })
}

// UpdateCurrentTemperature implements Climate; it records a new reading.
func (t *Thermostat) UpdateCurrentTemperature(current float64) {
	t.update(func() { t.current = current })
}

// update accrues energy at the old rate, applies fn and notifies.
func (t *Thermostat) update(fn func()) {
	t.mu.Lock()
	now := t.now()
	t.meter.accrue(now, t.on, t.rate())
	fn()
	t.updatedAt = now
	s := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(s)
}

// TargetTemperature implements Climate.
func (t *Thermostat) TargetTemperature() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// CurrentTemperature implements Climate.
func (t *Thermostat) CurrentTemperature() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// EnergyConsumption implements EnergyMonitored.
func (t *Thermostat) EnergyConsumption() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meter.accrue(t.now(), t.on, t.rate())
	return t.meter.used
}

// ResetEnergyStats implements EnergyMonitored.
func (t *Thermostat) ResetEnergyStats() {
	t.mu.Lock()
	t.meter.reset(t.now())
	s := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(s)
}

// Snapshot implements Device.
func (t *Thermostat) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.meter.accrue(t.now(), t.on, t.rate())
	return t.snapshotLocked()
}

func (t *Thermostat) snapshotLocked() State {
	var s State
	t.fill(&s, TypeThermostat)
	s.TargetTemperature = ptr(t.target)
	s.CurrentTemperature = ptr(t.current)
	s.EnergyKWh = ptr(t.meter.used)
	return s
}

// Restore implements Restorer.
func (t *Thermostat) Restore(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.on = s.On
	if s.TargetTemperature != nil {
		t.target = *s.TargetTemperature
	}
	if s.CurrentTemperature != nil {
		t.current = *s.CurrentTemperature
	}
	t.meter.restore(s.EnergyKWh, t.now())
}
