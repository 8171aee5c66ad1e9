package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// CommandName identifies an operation on a device.
type CommandName string

const (
	CmdTurnOn            CommandName = "turn_on"
	CmdTurnOff           CommandName = "turn_off"
	CmdToggle            CommandName = "toggle"
	CmdSetBrightness     CommandName = "set_brightness"
	CmdSetTemperature    CommandName = "set_temperature"
	CmdUpdateTemperature CommandName = "update_temperature"
	CmdArm               CommandName = "arm"
	CmdDisarm            CommandName = "disarm"
	CmdTriggerAlarm      CommandName = "trigger_alarm"
	CmdResetEnergy       CommandName = "reset_energy"
)

// Commands lists every command in a stable order, for help output.
var Commands = []CommandName{
	CmdTurnOn, CmdTurnOff, CmdToggle,
	CmdSetBrightness,
	CmdSetTemperature, CmdUpdateTemperature,
	CmdArm, CmdDisarm, CmdTriggerAlarm,
	CmdResetEnergy,
}

// needsValue reports whether the command carries a numeric argument.
func (c CommandName) needsValue() bool {
	switch c {
	case CmdSetBrightness, CmdSetTemperature, CmdUpdateTemperature:
		return true
	}
	return false
}

// Command is a request to change a device.
type Command struct {
	Name  CommandName `json:"command" yaml:"command"`
	Value *float64    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate checks that the name is known and a value is present when needed.
func (c Command) Validate() error {
	known := false
	for _, n := range Commands {
		if n == c.Name {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Name)
	}
	if c.Name.needsValue() {
		if c.Value == nil {
			return fmt.Errorf("%w: %s requires a value", ErrInvalidValue, c.Name)
		}
		if math.IsNaN(*c.Value) || math.IsInf(*c.Value, 0) {
			return fmt.Errorf("%w: %s value must be finite", ErrInvalidValue, c.Name)
		}
	}
	return nil
}

// ParseCommand builds a command from text input, as typed on the console:
// a command name and an optional numeric argument.
func ParseCommand(name, value string) (Command, error) {
	cmd := Command{Name: CommandName(strings.ToLower(strings.TrimSpace(name)))}
	if v := strings.TrimSpace(value); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, value)
		}
		cmd.Value = &f
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// String renders the command for logs.
func (c Command) String() string {
	if c.Value == nil {
		return string(c.Name)
	}
	return fmt.Sprintf("%s(%g)", c.Name, *c.Value)
}

// Apply executes cmd against d.
//
// Returns:
//   - ErrUnknownCommand / ErrInvalidValue for malformed commands
//   - ErrUnsupportedCommand when d lacks the needed capability
func Apply(d Device, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	switch cmd.Name {
	case CmdTurnOn:
		d.TurnOn()
	case CmdTurnOff:
		d.TurnOff()
	case CmdToggle:
		d.Toggle()

	case CmdSetBrightness:
		dim, ok := d.(Dimmable)
		if !ok {
			return unsupported(d, cmd)
		}
		// Clamp before converting; out of range floats do not convert to int.
		level := min(max(*cmd.Value, MinBrightness), MaxBrightness)
		dim.SetBrightness(int(math.Round(level)))

	case CmdSetTemperature, CmdUpdateTemperature:
		c, ok := d.(Climate)
		if !ok {
			return unsupported(d, cmd)
		}
		if cmd.Name == CmdSetTemperature {
			c.SetTemperature(*cmd.Value)
		} else {
			c.UpdateCurrentTemperature(*cmd.Value)
		}

	case CmdArm, CmdDisarm, CmdTriggerAlarm:
		a, ok := d.(Armable)
		if !ok {
			return unsupported(d, cmd)
		}
		switch cmd.Name {
		case CmdArm:
			a.Arm()
		case CmdDisarm:
			a.Disarm()
		default:
			a.TriggerAlarm()
		}

	case CmdResetEnergy:
		e, ok := d.(EnergyMonitored)
		if !ok {
			return unsupported(d, cmd)
		}
		e.ResetEnergyStats()
	}
	return nil
}

func unsupported(d Device, cmd Command) error {
	return fmt.Errorf("%w: %s on %s %q", ErrUnsupportedCommand, cmd.Name, d.Type(), d.ID())
}
