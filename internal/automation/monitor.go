package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/smarthome-core/internal/device"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/mqtt"
)

// DefaultTickInterval is the pause between passes when none is configured.
const DefaultTickInterval = 5 * time.Second

// Logger defines the logging interface used by the Monitor.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceSource lists the devices evaluated on each pass.
// device.Registry satisfies it.
type DeviceSource interface {
	ListDevices() []device.Device
}

// Clock supplies wall time to the monitor.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the host clock in Location (time.Local when nil).
type SystemClock struct {
	Location *time.Location
}

// Now implements Clock.
func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// MQTTClient publishes monitor events. *mqtt.Client satisfies it.
type MQTTClient interface {
	PublishJSON(topic string, v any, retained bool) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Telemetry receives time-series points. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteEnergyReading(deviceID, deviceType string, energyKWh float64, at time.Time)
	WriteRuleFiring(ruleID, ruleName string, success bool, duration time.Duration, at time.Time)
}

// WebSocket channels used by the monitor.
const (
	ChannelRuleFired     = "rule.fired"
	ChannelEnergyReading = "device.energy"
)

// MonitorConfig holds configuration for the monitor.
// Every collaborator besides Devices and Rules is optional.
type MonitorConfig struct {
	// Devices and Rules are snapshotted at the start of every pass.
	Devices DeviceSource
	Rules   *RuleSet

	// TickInterval is the pause between passes. Default: 5 seconds.
	// Must stay below one minute for time triggers to be seen.
	TickInterval time.Duration

	// EnergyTelemetry reads metered devices once per pass.
	EnergyTelemetry bool

	// Clock defaults to the host clock in local time.
	Clock Clock

	Logger    Logger
	Recorder  FiringRepository
	MQTT      MQTTClient
	Hub       WSHub
	Telemetry Telemetry
}

// PassResult summarises one evaluation pass.
type PassResult struct {
	At         time.Time `json:"at"`
	Devices    int       `json:"devices"`
	Rules      int       `json:"rules"`
	Fired      int       `json:"fired"`
	Failed     int       `json:"failed"`
	Aborted    bool      `json:"aborted,omitempty"`
	DurationMS int64     `json:"duration_ms"`

	Failures []*ActionExecutionError `json:"-"`
}

// Monitor periodically evaluates every rule against every device and runs
// the actions of rules that trigger.
//
// Lifecycle: Stopped -> Running -> Stopped. Start launches one goroutine;
// Stop cancels it, wakes it if sleeping and waits for the in-flight pass.
// A stopped monitor can be started again.
//
// Thread Safety: all methods are safe for concurrent use. Passes are
// serialised, so RunPass from the API never overlaps the loop.
type Monitor struct {
	devices   DeviceSource
	rules     *RuleSet
	interval  time.Duration
	energy    bool
	clock     Clock
	logger    Logger
	recorder  FiringRepository
	mqtt      MQTTClient
	hub       WSHub
	telemetry Telemetry
	topics    mqtt.Topics

	passMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a stopped monitor.
//
// Parameters:
//   - cfg: Devices and Rules are required; the rest is optional
//
// Returns:
//   - *Monitor: Ready to start (call Start to begin evaluating)
func NewMonitor(cfg MonitorConfig) *Monitor {
	m := &Monitor{
		devices:   cfg.Devices,
		rules:     cfg.Rules,
		interval:  cfg.TickInterval,
		energy:    cfg.EnergyTelemetry,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
		mqtt:      cfg.MQTT,
		hub:       cfg.Hub,
		telemetry: cfg.Telemetry,
	}
	if m.interval <= 0 {
		m.interval = DefaultTickInterval
	}
	if m.clock == nil {
		m.clock = SystemClock{}
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	if m.rules == nil {
		m.rules = NewRuleSet()
	}
	return m
}

// TickInterval returns the pause between passes.
func (m *Monitor) TickInterval() time.Duration { return m.interval }

// Start launches the evaluation loop. It returns ErrMonitorRunning if the
// loop is already active. Cancelling ctx stops the loop like Stop does.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runningLocked() {
		return ErrMonitorRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	go m.run(ctx, done)

	m.logger.Info("monitor started",
		"tick_interval", m.interval.String(),
		"energy_telemetry", m.energy,
	)
	return nil
}

// Stop cancels the loop and waits for it to exit. No action runs after
// Stop returns. Safe to call when not running.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info("monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

func (m *Monitor) runningLocked() bool {
	if m.done == nil {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// run evaluates, then sleeps for the tick interval, until cancelled.
func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		m.RunPass(ctx)

		timer.Reset(m.interval)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// RunPass performs one evaluation pass synchronously.
//
// Devices and rules are snapshotted first. For each device, each rule is
// asked ShouldTrigger and executed if it answers true. A failing or
// panicking action is logged at warn level and the pass continues. The
// pass stops early, between devices, once ctx is cancelled.
//
// Returns:
//   - PassResult: counts of devices, rules, firings and failures
func (m *Monitor) RunPass(ctx context.Context) PassResult {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	started := time.Now()
	now := m.clock.Now()
	devices := m.devices.ListDevices()
	rules := m.rules.List()

	res := PassResult{At: now, Devices: len(devices), Rules: len(rules)}

	for _, d := range devices {
		if ctx.Err() != nil {
			res.Aborted = true
			break
		}
		snap := d.Snapshot()
		for _, r := range rules {
			if !r.ShouldTrigger(snap, now) {
				continue
			}
			res.Fired++
			if err := m.fire(ctx, r, d.ID(), now); err != nil {
				res.Failed++
				res.Failures = append(res.Failures, err)
			}
		}
	}

	if m.energy && !res.Aborted {
		m.readEnergy(devices, now)
	}

	res.DurationMS = time.Since(started).Milliseconds()
	if res.Fired > 0 {
		m.logger.Debug("monitor pass complete",
			"devices", res.Devices,
			"rules", res.Rules,
			"fired", res.Fired,
			"failed", res.Failed,
			"duration_ms", res.DurationMS,
		)
	}
	return res
}

// fire executes one rule in isolation and reports the outcome.
func (m *Monitor) fire(ctx context.Context, r *Rule, deviceID string, now time.Time) *ActionExecutionError {
	started := time.Now()
	execErr := execute(ctx, r)
	elapsed := time.Since(started)

	f := Firing{
		ID:         uuid.NewString(),
		RuleID:     r.ID(),
		RuleName:   r.Name(),
		Trigger:    r.Trigger().String(),
		FiredAt:    now,
		DurationMS: elapsed.Milliseconds(),
		Success:    execErr == nil,
	}

	if execErr != nil {
		f.Error = execErr.Cause.Error()
		m.logger.Warn("rule action failed",
			"rule", r.Name(),
			"rule_id", r.ID(),
			"device_id", deviceID,
			"error", execErr.Cause,
		)
	} else {
		m.logger.Info("rule fired",
			"rule", r.Name(),
			"rule_id", r.ID(),
			"device_id", deviceID,
			"trigger", f.Trigger,
		)
	}

	m.report(ctx, f, elapsed)
	return execErr
}

// execute runs the action, converting errors and panics into
// *ActionExecutionError.
func execute(ctx context.Context, r *Rule) (execErr *ActionExecutionError) {
	defer func() {
		if p := recover(); p != nil {
			execErr = &ActionExecutionError{
				RuleID:   r.ID(),
				RuleName: r.Name(),
				Cause:    fmt.Errorf("%w: %v", ErrActionPanicked, p),
			}
		}
	}()

	if err := r.Execute(ctx); err != nil {
		return &ActionExecutionError{RuleID: r.ID(), RuleName: r.Name(), Cause: err}
	}
	return nil
}

// report forwards a firing to the optional sinks. Sink failures are logged
// and never affect evaluation.
func (m *Monitor) report(ctx context.Context, f Firing, elapsed time.Duration) {
	if m.recorder != nil {
		// Detached so history is kept for the last pass before shutdown.
		if err := m.recorder.RecordFiring(context.WithoutCancel(ctx), f); err != nil {
			m.logger.Error("failed to record rule firing", "rule_id", f.RuleID, "error", err)
		}
	}

	if m.mqtt != nil {
		if err := m.mqtt.PublishJSON(m.topics.RuleFired(f.RuleID), f, false); err != nil {
			m.logger.Debug("rule firing not published", "rule_id", f.RuleID, "error", err)
		}
	}

	if m.hub != nil {
		m.hub.Broadcast(ChannelRuleFired, f)
	}

	if m.telemetry != nil {
		m.telemetry.WriteRuleFiring(f.RuleID, f.RuleName, f.Success, elapsed, f.FiredAt)
	}
}

// EnergyReading is one observation of a metered device.
type EnergyReading struct {
	DeviceID   string      `json:"device_id"`
	DeviceType device.Type `json:"device_type"`
	EnergyKWh  float64     `json:"energy_kwh"`
	At         time.Time   `json:"at"`
}

// readEnergy logs and forwards consumption for metered devices. It never
// influences triggering.
func (m *Monitor) readEnergy(devices []device.Device, now time.Time) {
	for _, d := range devices {
		em, ok := d.(device.EnergyMonitored)
		if !ok {
			continue
		}
		r := EnergyReading{
			DeviceID:   d.ID(),
			DeviceType: d.Type(),
			EnergyKWh:  em.EnergyConsumption(),
			At:         now,
		}

		m.logger.Debug("energy reading",
			"device_id", r.DeviceID,
			"device", d.Name(),
			"energy_kwh", r.EnergyKWh,
		)

		if m.telemetry != nil {
			m.telemetry.WriteEnergyReading(r.DeviceID, string(r.DeviceType), r.EnergyKWh, now)
		}
		if m.mqtt != nil {
			if err := m.mqtt.PublishJSON(m.topics.DeviceEnergy(r.DeviceID), r, false); err != nil {
				m.logger.Debug("energy reading not published", "device_id", r.DeviceID, "error", err)
			}
		}
		if m.hub != nil {
			m.hub.Broadcast(ChannelEnergyReading, r)
		}
	}
}
