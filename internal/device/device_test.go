package device

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLight_BrightnessClamped(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"negative", -20, 0},
		{"zero", 0, 0},
		{"mid", 55, 55},
		{"max", 100, 100},
		{"above max", 150, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLight("l1", "Lamp", 50)
			l.SetBrightness(tt.in)
			assert.Equal(t, tt.want, l.Brightness())
		})
	}

	assert.Equal(t, 100, NewLight("l2", "Lamp", 400).Brightness())
}

func TestLight_EnergyAccruesOnlyWhileOn(t *testing.T) {
	clk := newFakeClock()
	l := NewLight("l1", "Lamp", 100, WithClock(clk.Now))

	clk.Advance(time.Hour)
	assert.InDelta(t, 0, l.EnergyConsumption(), 1e-9, "off light must not draw")

	l.TurnOn()
	clk.Advance(2 * time.Hour)
	assert.InDelta(t, 2.0, l.EnergyConsumption(), 1e-9)

	// Brightness change splits the interval at the old rate.
	l.SetBrightness(50)
	clk.Advance(time.Hour)
	l.TurnOff()
	clk.Advance(5 * time.Hour)
	assert.InDelta(t, 2.5, l.EnergyConsumption(), 1e-9)

	l.ResetEnergyStats()
	assert.InDelta(t, 0, l.EnergyConsumption(), 1e-9)
}

func TestThermostat_EnergyFollowsTemperatureGap(t *testing.T) {
	clk := newFakeClock()
	th := NewThermostat("t1", "Hall", 20, WithClock(clk.Now))

	th.TurnOn()
	clk.Advance(time.Hour)
	assert.InDelta(t, 0, th.EnergyConsumption(), 1e-9, "no gap, no draw")

	th.SetTemperature(24)
	clk.Advance(time.Hour)
	assert.InDelta(t, 2.0, th.EnergyConsumption(), 1e-9)

	th.UpdateCurrentTemperature(23)
	clk.Advance(2 * time.Hour)
	assert.InDelta(t, 3.0, th.EnergyConsumption(), 1e-9)

	assert.Equal(t, 24.0, th.TargetTemperature())
	assert.Equal(t, 23.0, th.CurrentTemperature())
}

func TestSecurity_AlarmRequiresOnAndArmed(t *testing.T) {
	s := NewSecurity("s1", "Front Door Camera", SecurityCamera)

	assert.False(t, s.TriggerAlarm(), "off and disarmed")

	s.Arm()
	assert.False(t, s.TriggerAlarm(), "armed but off")

	s.TurnOn()
	assert.True(t, s.TriggerAlarm())
	assert.True(t, s.AlarmActive())

	s.Disarm()
	assert.False(t, s.AlarmActive(), "disarm clears the alarm")
	assert.False(t, s.TriggerAlarm())
	assert.Equal(t, SecurityCamera, s.SecurityType())
}

func TestDevice_OnChangeNotified(t *testing.T) {
	l := NewLight("l1", "Lamp", 80)

	var got []State
	l.SetOnChange(func(s State) { got = append(got, s) })

	l.TurnOn()
	l.SetBrightness(30)
	l.SetOnChange(nil)
	l.TurnOff()

	require.Len(t, got, 2)
	assert.True(t, got[0].On)
	require.NotNil(t, got[1].Brightness)
	assert.Equal(t, 30, *got[1].Brightness)
}

func TestDevice_Restore(t *testing.T) {
	l := NewLight("l1", "Lamp", 100)
	l.Restore(State{On: true, Brightness: ptr(40)})
	assert.True(t, l.IsOn())
	assert.Equal(t, 40, l.Brightness())

	th := NewThermostat("t1", "Hall", 20)
	th.Restore(State{TargetTemperature: ptr(22.5), CurrentTemperature: ptr(19.0)})
	assert.Equal(t, 22.5, th.TargetTemperature())
	assert.Equal(t, 19.0, th.CurrentTemperature())
	assert.False(t, th.IsOn())

	s := NewSecurity("s1", "Alarm", SecurityAlarm)
	s.Restore(State{On: true, Armed: ptr(true), AlarmActive: ptr(true)})
	assert.True(t, s.IsArmed())
	assert.False(t, s.AlarmActive())
}

func TestDevice_RestoreKeepsEnergyTotal(t *testing.T) {
	clk := newFakeClock()

	l := NewLight("l1", "Lamp", 100, WithClock(clk.Now))
	l.Restore(State{On: true, Brightness: ptr(100), EnergyKWh: ptr(2.5)})
	assert.InDelta(t, 2.5, l.EnergyConsumption(), 1e-9)

	// Metering continues from the restored total, not from the downtime.
	clk.Advance(time.Hour)
	assert.InDelta(t, 3.5, l.EnergyConsumption(), 1e-9)

	th := NewThermostat("t1", "Hall", 20, WithClock(clk.Now))
	th.Restore(State{EnergyKWh: ptr(0.75)})
	assert.InDelta(t, 0.75, th.EnergyConsumption(), 1e-9)

	th.Restore(State{EnergyKWh: ptr(-1.0)})
	assert.Zero(t, th.EnergyConsumption())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType(" Light ")
	require.NoError(t, err)
	assert.Equal(t, TypeLight, typ)

	_, err = ParseType("toaster")
	assert.ErrorIs(t, err, ErrInvalidType)

	st, err := ParseSecurityType("MOTION_SENSOR")
	require.NoError(t, err)
	assert.Equal(t, SecurityMotionSensor, st)

	_, err = ParseSecurityType("laser")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestDevice_ConcurrentAccess(t *testing.T) {
	l := NewLight("l1", "Lamp", 50)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				if (i+j)%2 == 0 {
					l.TurnOn()
				} else {
					l.TurnOff()
				}
				l.SetBrightness(j)
				_ = l.Snapshot()
				_ = l.EnergyConsumption()
			}
		}()
	}
	wg.Wait()
}
