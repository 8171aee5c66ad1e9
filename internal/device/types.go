package device

import (
	"fmt"
	"strings"
	"time"
)

// Type identifies the class of a device.
type Type string

const (
	TypeLight      Type = "light"
	TypeThermostat Type = "thermostat"
	TypeSecurity   Type = "security"
)

// ParseType converts a configuration string to a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeLight, TypeThermostat, TypeSecurity:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
}

// SecurityType is the kind of security equipment.
type SecurityType string

const (
	SecurityCamera       SecurityType = "camera"
	SecurityMotionSensor SecurityType = "motion_sensor"
	SecurityAlarm        SecurityType = "alarm"
)

// ParseSecurityType converts a configuration string to a SecurityType.
func ParseSecurityType(s string) (SecurityType, error) {
	switch t := SecurityType(strings.ToLower(strings.TrimSpace(s))); t {
	case SecurityCamera, SecurityMotionSensor, SecurityAlarm:
		return t, nil
	default:
		return "", fmt.Errorf("%w: security type %q", ErrInvalidType, s)
	}
}

// Device is the handle the rest of the system holds on a physical device.
//
// Implementations guard their own state; every method is safe to call from
// any goroutine.
type Device interface {
	ID() string
	Name() string
	Type() Type
	IsOn() bool
	TurnOn()
	TurnOff()

	// Toggle flips the on/off flag in one step and returns the new value.
	Toggle() bool

	// Snapshot returns a point-in-time copy of the device state.
	Snapshot() State

	// SetOnChange installs the function called with a fresh snapshot after
	// every state change. A nil fn removes it.
	SetOnChange(fn func(State))
}

// Dimmable devices accept a brightness level.
type Dimmable interface {
	Brightness() int
	SetBrightness(level int)
}

// Climate devices track a target and a measured temperature.
type Climate interface {
	TargetTemperature() float64
	CurrentTemperature() float64
	SetTemperature(target float64)
	UpdateCurrentTemperature(current float64)
}

// Armable devices can be armed and raise an alarm.
type Armable interface {
	IsArmed() bool
	Arm()
	Disarm()

	// TriggerAlarm raises the alarm if the device is on and armed and
	// reports whether it did.
	TriggerAlarm() bool
}

// EnergyMonitored devices report cumulative consumption.
type EnergyMonitored interface {
	// EnergyConsumption returns kWh used since construction or the last reset.
	EnergyConsumption() float64
	ResetEnergyStats()
}

// Restorer devices can be put back into a persisted state without
// triggering change notifications.
type Restorer interface {
	Restore(s State)
}

// State is a serialisable snapshot of a device.
// Optional fields are set only for devices with the matching capability.
type State struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type Type   `json:"type"`
	On   bool   `json:"on"`

	Brightness         *int          `json:"brightness,omitempty"`
	TargetTemperature  *float64      `json:"target_temperature,omitempty"`
	CurrentTemperature *float64      `json:"current_temperature,omitempty"`
	SecurityType       *SecurityType `json:"security_type,omitempty"`
	Armed              *bool         `json:"armed,omitempty"`
	AlarmActive        *bool         `json:"alarm_active,omitempty"`
	EnergyKWh          *float64      `json:"energy_kwh,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Status renders the on/off state the way the console prints it.
func (s State) Status() string {
	if s.On {
		return "ON"
	}
	return "OFF"
}

// Option configures a device at construction.
type Option func(*base)

// WithClock overrides the time source used for energy accounting.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}
