package device

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func val(f float64) *float64 { return &f }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     string
		value   string
		want    Command
		wantErr error
	}{
		{name: "simple", cmd: "turn_on", want: Command{Name: CmdTurnOn}},
		{name: "case folded", cmd: " TOGGLE ", want: Command{Name: CmdToggle}},
		{name: "with value", cmd: "set_brightness", value: "75", want: Command{Name: CmdSetBrightness, Value: val(75)}},
		{name: "unknown", cmd: "explode", wantErr: ErrUnknownCommand},
		{name: "missing value", cmd: "set_temperature", wantErr: ErrInvalidValue},
		{name: "bad number", cmd: "set_temperature", value: "warm", wantErr: ErrInvalidValue},
		{name: "not finite", cmd: "set_temperature", value: "NaN", wantErr: ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.cmd, tt.value)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply(t *testing.T) {
	light := NewLight("light", "Lamp", 100)
	thermo := NewThermostat("thermo", "Hall", 20)
	cam := NewSecurity("cam", "Camera", SecurityCamera)

	tests := []struct {
		name    string
		dev     Device
		cmd     Command
		wantErr error
		check   func(t *testing.T)
	}{
		{
			name:  "turn on light",
			dev:   light,
			cmd:   Command{Name: CmdTurnOn},
			check: func(t *testing.T) { assert.True(t, light.IsOn()) },
		},
		{
			name:  "toggle light off",
			dev:   light,
			cmd:   Command{Name: CmdToggle},
			check: func(t *testing.T) { assert.False(t, light.IsOn()) },
		},
		{
			name:  "dim rounds",
			dev:   light,
			cmd:   Command{Name: CmdSetBrightness, Value: val(42.6)},
			check: func(t *testing.T) { assert.Equal(t, 43, light.Brightness()) },
		},
		{
			name:  "set target",
			dev:   thermo,
			cmd:   Command{Name: CmdSetTemperature, Value: val(21.5)},
			check: func(t *testing.T) { assert.Equal(t, 21.5, thermo.TargetTemperature()) },
		},
		{
			name:  "update reading",
			dev:   thermo,
			cmd:   Command{Name: CmdUpdateTemperature, Value: val(18)},
			check: func(t *testing.T) { assert.Equal(t, 18.0, thermo.CurrentTemperature()) },
		},
		{
			name:  "arm camera",
			dev:   cam,
			cmd:   Command{Name: CmdArm},
			check: func(t *testing.T) { assert.True(t, cam.IsArmed()) },
		},
		{
			name:    "brightness on thermostat",
			dev:     thermo,
			cmd:     Command{Name: CmdSetBrightness, Value: val(10)},
			wantErr: ErrUnsupportedCommand,
		},
		{
			name:    "energy reset on camera",
			dev:     cam,
			cmd:     Command{Name: CmdResetEnergy},
			wantErr: ErrUnsupportedCommand,
		},
		{
			name:    "arm light",
			dev:     light,
			cmd:     Command{Name: CmdArm},
			wantErr: ErrUnsupportedCommand,
		},
		{
			name:    "invalid",
			dev:     light,
			cmd:     Command{Name: "fly"},
			wantErr: ErrUnknownCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Apply(tt.dev, tt.cmd)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t)
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "turn_on", Command{Name: CmdTurnOn}.String())
	assert.Equal(t, "set_temperature(21.5)", Command{Name: CmdSetTemperature, Value: val(21.5)}.String())
}

func TestApply_BrightnessOutOfIntRange(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  int
	}{
		{"huge", 1e30, MaxBrightness},
		{"huge negative", -1e30, MinBrightness},
		{"just above", 100.4, MaxBrightness},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLight("l1", "Lamp", 50)
			require.NoError(t, Apply(l, Command{Name: CmdSetBrightness, Value: val(tt.value)}))
			assert.Equal(t, tt.want, l.Brightness())
		})
	}
}

func TestApply_ToggleIsAtomic(t *testing.T) {
	devices := []Device{
		NewLight("l1", "Lamp", 50),
		NewThermostat("t1", "Hall", 20),
		NewSecurity("s1", "Camera", SecurityCamera),
	}

	for _, d := range devices {
		t.Run(string(d.Type()), func(t *testing.T) {
			const goroutines, toggles = 8, 101
			var wg sync.WaitGroup
			for range goroutines {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range toggles {
						assert.NoError(t, Apply(d, Command{Name: CmdToggle}))
					}
				}()
			}
			wg.Wait()

			// An even number of flips in total leaves the device where it started.
			assert.False(t, d.IsOn())
		})
	}
}

func TestSecurity_ToggleOffClearsAlarm(t *testing.T) {
	s := NewSecurity("s1", "Alarm", SecurityAlarm)
	s.TurnOn()
	s.Arm()
	require.True(t, s.TriggerAlarm())

	assert.False(t, s.Toggle())
	assert.False(t, s.AlarmActive())
	assert.True(t, s.Toggle())
}
