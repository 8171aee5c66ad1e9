package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/smarthome-core/internal/device"
)

// DeviceCommander applies commands to devices by ID.
// device.Registry satisfies it.
type DeviceCommander interface {
	Get(id string) (device.Device, error)
	Execute(ctx context.Context, id string, cmd device.Command) (device.State, error)
}

// ActionSpec is one device command in a rule definition.
type ActionSpec struct {
	Device  string             `yaml:"device" json:"device"`
	Command device.CommandName `yaml:"command" json:"command"`
	Value   *float64           `yaml:"value,omitempty" json:"value,omitempty"`
}

func (a ActionSpec) command() device.Command {
	return device.Command{Name: a.Command, Value: a.Value}
}

func (a ActionSpec) String() string {
	return a.Device + " " + a.command().String()
}

// DeviceAction returns an action that sends cmd to the device with the
// given ID when the rule fires.
func DeviceAction(devices DeviceCommander, deviceID string, cmd device.Command) Action {
	return func(ctx context.Context) error {
		if _, err := devices.Execute(ctx, deviceID, cmd); err != nil {
			return fmt.Errorf("%s on %s: %w", cmd, deviceID, err)
		}
		return nil
	}
}

// Sequence runs actions in order and stops at the first error.
func Sequence(actions ...Action) Action {
	return func(ctx context.Context) error {
		for i, a := range actions {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := a(ctx); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		return nil
	}
}

// BuildActions validates specs against the known devices and returns one
// action running them in order, plus a summary for display.
//
// Returns ErrInvalidAction when the list is empty, a device is unknown, or a
// command is malformed.
func BuildActions(devices DeviceCommander, specs []ActionSpec) (Action, string, error) {
	if len(specs) == 0 {
		return nil, "", fmt.Errorf("%w: at least one action is required", ErrInvalidAction)
	}

	actions := make([]Action, 0, len(specs))
	parts := make([]string, 0, len(specs))
	for i, spec := range specs {
		if _, err := devices.Get(spec.Device); err != nil {
			return nil, "", fmt.Errorf("%w: action %d: %w", ErrInvalidAction, i+1, err)
		}
		cmd := spec.command()
		if err := cmd.Validate(); err != nil {
			return nil, "", fmt.Errorf("%w: action %d: %w", ErrInvalidAction, i+1, err)
		}
		actions = append(actions, DeviceAction(devices, spec.Device, cmd))
		parts = append(parts, spec.String())
	}

	if len(actions) == 1 {
		return actions[0], parts[0], nil
	}
	return Sequence(actions...), strings.Join(parts, "; "), nil
}
