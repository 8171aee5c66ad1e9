package home

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/smarthome-core/internal/automation"
	"github.com/nerrad567/smarthome-core/internal/device"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/database"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smarthome-core/migrations"
)

// fakeMQTT records publishes and lets tests deliver inbound messages.
type fakeMQTT struct {
	mu        sync.Mutex
	published map[string][]byte
	handlers  map[string]mqtt.MessageHandler
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		published: make(map[string][]byte),
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (f *fakeMQTT) PublishJSON(topic string, v any, _ bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = data
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeMQTT) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeMQTT) QoS() byte { return 1 }

func (f *fakeMQTT) deliver(topic string, payload string) error {
	f.mu.Lock()
	h := f.handlers[mqtt.Topics{}.AllDeviceCommands()]
	f.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(topic, []byte(payload))
}

func (f *fakeMQTT) last(topic string) (device.State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.published[topic]
	if !ok {
		return device.State{}, false
	}
	var st device.State
	_ = json.Unmarshal(data, &st)
	return st, true
}

type repos struct {
	states  *device.SQLiteStateRepository
	firings *automation.SQLiteFiringRepository
}

func openRepos(t *testing.T, dir string) repos {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(dir, "smarthome.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(context.Background(), migrations.FS))
	return repos{
		states:  device.NewSQLiteStateRepository(db.DB),
		firings: automation.NewSQLiteFiringRepository(db.DB),
	}
}

func monitorConfig() config.MonitorConfig {
	return config.MonitorConfig{TickInterval: 10 * time.Millisecond}
}

func loadSample(t *testing.T, sys *System) {
	t.Helper()
	f, err := Parse([]byte(sampleHome))
	require.NoError(t, err)
	require.NoError(t, sys.Load(f))
}

func TestSystem_Load(t *testing.T) {
	sys := New(monitorConfig(), Deps{})
	loadSample(t, sys)

	assert.Len(t, sys.ListDevices(), 3)
	rules := sys.ListRules()
	require.Len(t, rules, 3)
	assert.Equal(t, "Morning Lights", rules[0].Name())
	assert.Equal(t, "L001 turn_on; S001 turn_on", rules[2].Description())
}

func TestSystem_LoadRejectsUnknownActionDevice(t *testing.T) {
	f, err := Parse([]byte(`
devices:
  - {id: L1, name: Lamp, type: light}
rules:
  - name: Broken
    trigger: {type: time, at: "07:00"}
    actions:
      - {device: L2, command: turn_on}
`))
	require.NoError(t, err)

	sys := New(monitorConfig(), Deps{})
	err = sys.Load(f)
	assert.ErrorIs(t, err, ErrInvalidHomeFile)
	assert.ErrorIs(t, err, automation.ErrInvalidAction)
}

func TestSystem_RegisterWhileRunning(t *testing.T) {
	sys := New(monitorConfig(), Deps{})
	require.NoError(t, sys.RegisterDevice(device.NewLight("L1", "Lamp", 100)))
	require.NoError(t, sys.Start(context.Background()))
	defer sys.Stop()

	fired := make(chan struct{}, 1)
	trig, err := automation.NewProbabilistic("always", 1)
	require.NoError(t, err)
	rule, err := automation.NewRule("Late rule", trig, func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sys.RegisterRule(rule))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("rule registered while running never fired")
	}
}

func TestSystem_PersistsAndRestoresState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	// First run
	r1 := openRepos(t, dir)
	sys := New(monitorConfig(), Deps{States: r1.states, Firings: r1.firings})
	loadSample(t, sys)
	require.NoError(t, sys.Start(ctx))

	_, err := sys.Execute(ctx, "L001", device.Command{Name: device.CmdTurnOn})
	require.NoError(t, err)
	level := 35.0
	_, err = sys.Execute(ctx, "L001", device.Command{Name: device.CmdSetBrightness, Value: &level})
	require.NoError(t, err)
	_, err = sys.Execute(ctx, "S001", device.Command{Name: device.CmdArm})
	require.NoError(t, err)
	sys.Stop()

	// Second run on the same database
	sys2 := New(monitorConfig(), Deps{States: r1.states, Firings: r1.firings})
	loadSample(t, sys2)
	require.NoError(t, sys2.Start(ctx))
	defer sys2.Stop()

	light, err := sys2.Devices().Get("L001")
	require.NoError(t, err)
	assert.True(t, light.IsOn())
	assert.Equal(t, 35, light.(device.Dimmable).Brightness())

	cam, err := sys2.Devices().Get("S001")
	require.NoError(t, err)
	assert.True(t, cam.(device.Armable).IsArmed())
}

func TestSystem_HistoryRecordsFirings(t *testing.T) {
	r := openRepos(t, t.TempDir())
	clock := automation.ClockFunc(func() time.Time {
		return time.Date(2026, 3, 2, 7, 0, 10, 0, time.UTC)
	})
	sys := New(monitorConfig(), Deps{Firings: r.firings, Clock: clock})
	loadSample(t, sys)

	res := sys.Evaluate(context.Background())
	assert.GreaterOrEqual(t, res.Fired, 1)

	firings, err := sys.History(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, firings)

	names := make([]string, len(firings))
	for i, f := range firings {
		names[i] = f.RuleName
	}
	assert.Contains(t, names, "Morning Lights")

	light, err := sys.Devices().Get("L001")
	require.NoError(t, err)
	assert.True(t, light.IsOn())
}

func TestSystem_HistoryUnavailable(t *testing.T) {
	sys := New(monitorConfig(), Deps{})
	_, err := sys.History(context.Background(), 5)
	assert.ErrorIs(t, err, ErrHistoryUnavailable)
}

func TestSystem_MQTTCommandsAndState(t *testing.T) {
	mq := newFakeMQTT()
	noon := automation.ClockFunc(func() time.Time {
		return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	})
	sys := New(monitorConfig(), Deps{MQTT: mq, Clock: noon})
	loadSample(t, sys)
	require.NoError(t, sys.Start(context.Background()))

	topics := mqtt.Topics{}

	st, ok := mq.last(topics.DeviceState("T001"))
	require.True(t, ok, "initial state published on start")
	assert.False(t, st.On)

	require.NoError(t, mq.deliver(topics.DeviceCommand("T001"), `{"command":"set_temperature","value":19.5}`))
	thermo, err := sys.Devices().Get("T001")
	require.NoError(t, err)
	assert.Equal(t, 19.5, thermo.(device.Climate).TargetTemperature())

	st, ok = mq.last(topics.DeviceState("T001"))
	require.True(t, ok)
	require.NotNil(t, st.TargetTemperature)
	assert.Equal(t, 19.5, *st.TargetTemperature)

	assert.ErrorIs(t, mq.deliver(topics.DeviceCommand("ghost"), `{"command":"turn_on"}`), device.ErrDeviceNotFound)
	assert.Error(t, mq.deliver(topics.DeviceCommand("T001"), `not json`))
	assert.ErrorIs(t, mq.deliver(topics.DeviceCommand("T001"), `{"command":"launch"}`), device.ErrUnknownCommand)

	sys.Stop()
	assert.NoError(t, mq.deliver(topics.DeviceCommand("T001"), `{"command":"turn_on"}`), "unsubscribed on stop")
}

func TestSystem_StartTwice(t *testing.T) {
	sys := New(monitorConfig(), Deps{})
	require.NoError(t, sys.Start(context.Background()))
	defer sys.Stop()
	assert.ErrorIs(t, sys.Start(context.Background()), automation.ErrMonitorRunning)
}

func TestSystem_RestartAfterContextCancelled(t *testing.T) {
	sys := New(monitorConfig(), Deps{})
	require.NoError(t, sys.RegisterDevice(device.NewLight("L1", "Lamp", 100)))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sys.Start(ctx))
	cancel()
	require.Eventually(t, func() bool { return !sys.Monitor().Running() }, time.Second, 5*time.Millisecond)

	require.NoError(t, sys.Start(context.Background()))
	assert.True(t, sys.Monitor().Running())
	assert.ErrorIs(t, sys.Start(context.Background()), automation.ErrMonitorRunning)
	sys.Stop()
	assert.False(t, sys.Monitor().Running())
}
