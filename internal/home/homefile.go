package home

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/smarthome-core/internal/auth"
	"github.com/nerrad567/smarthome-core/internal/automation"
	"github.com/nerrad567/smarthome-core/internal/device"
)

// DefaultTemperature is the starting temperature of a thermostat whose
// definition has none.
const DefaultTemperature = 21.0

// File is the parsed home definition.
type File struct {
	Devices []DeviceSpec `yaml:"devices"`
	Rules   []RuleSpec   `yaml:"rules"`
}

// DeviceSpec describes one device in the home file.
type DeviceSpec struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Type         string   `yaml:"type"`
	Brightness   *int     `yaml:"brightness,omitempty"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	SecurityType string   `yaml:"security_type,omitempty"`

	// Permissions restricts control to users holding one of them.
	Permissions []string `yaml:"permissions,omitempty"`
}

// RuleSpec describes one automation rule in the home file.
type RuleSpec struct {
	Name    string                  `yaml:"name"`
	Trigger automation.TriggerSpec  `yaml:"trigger"`
	Actions []automation.ActionSpec `yaml:"actions"`
}

// LoadFile reads and parses a home file.
//
// Parameters:
//   - path: Path to the YAML home file
//
// Returns:
//   - *File: Parsed definition (not yet validated against devices)
//   - error: If the file cannot be read or parsed
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading home file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a home file. Unknown keys are rejected so that typos do not
// silently drop settings.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHomeFile, err)
	}
	return &f, nil
}

// Build creates the device described by s.
func (s DeviceSpec) Build(opts ...device.Option) (device.Device, error) {
	id, name := strings.TrimSpace(s.ID), strings.TrimSpace(s.Name)
	if id == "" || name == "" {
		return nil, fmt.Errorf("%w: device needs id and name", ErrInvalidHomeFile)
	}

	typ, err := device.ParseType(s.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: device %s: %w", ErrInvalidHomeFile, id, err)
	}

	switch typ {
	case device.TypeLight:
		brightness := device.DefaultBrightness
		if s.Brightness != nil {
			brightness = *s.Brightness
		}
		return device.NewLight(id, name, brightness, opts...), nil

	case device.TypeThermostat:
		temp := DefaultTemperature
		if s.Temperature != nil {
			temp = *s.Temperature
		}
		return device.NewThermostat(id, name, temp, opts...), nil

	case device.TypeSecurity:
		kind, err := device.ParseSecurityType(s.SecurityType)
		if err != nil {
			return nil, fmt.Errorf("%w: device %s: %w", ErrInvalidHomeFile, id, err)
		}
		return device.NewSecurity(id, name, kind, opts...), nil
	}

	return nil, fmt.Errorf("%w: device %s: unhandled type %s", ErrInvalidHomeFile, id, typ)
}

// RequiredPermissions parses the device's permission list.
func (s DeviceSpec) RequiredPermissions() ([]auth.Permission, error) {
	perms := make([]auth.Permission, 0, len(s.Permissions))
	for _, raw := range s.Permissions {
		p, err := auth.ParsePermission(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: device %s: %w", ErrInvalidHomeFile, s.ID, err)
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// Build creates the rule described by s. Action targets must already
// be registered in devices.
func (s RuleSpec) Build(devices automation.DeviceCommander, opts ...automation.RuleOption) (*automation.Rule, error) {
	trig, err := s.Trigger.Build()
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", s.Name, err)
	}

	action, summary, err := automation.BuildActions(devices, s.Actions)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", s.Name, err)
	}

	opts = append([]automation.RuleOption{automation.WithDescription(summary)}, opts...)
	rule, err := automation.NewRule(s.Name, trig, action, opts...)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", s.Name, err)
	}
	return rule, nil
}
