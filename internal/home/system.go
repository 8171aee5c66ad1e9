package home

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/smarthome-core/internal/auth"
	"github.com/nerrad567/smarthome-core/internal/automation"
	"github.com/nerrad567/smarthome-core/internal/device"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/mqtt"
)

// ChannelDeviceState is the WebSocket channel for device state changes.
const ChannelDeviceState = "device.state_changed"

// saveTimeout bounds the final state flush in Stop.
const saveTimeout = 5 * time.Second

// Logger defines the logging interface used by the System.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the broker connection used for state publishing and
// inbound device commands. *mqtt.Client satisfies it.
type MQTTClient interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	QoS() byte
}

// Deps holds the optional collaborators of a System. Nil fields disable
// the matching feature.
type Deps struct {
	Logger    Logger
	Clock     automation.Clock
	States    device.StateRepository
	Firings   automation.FiringRepository
	MQTT      MQTTClient
	Hub       automation.WSHub
	Telemetry automation.Telemetry

	// Access checks user commands against device permissions. Nil lets
	// every command through.
	Access *auth.Authorizer
}

// System owns the devices, the rules and the monitor that evaluates them.
//
// RegisterDevice and RegisterRule are safe to call while the monitor runs;
// additions are picked up on the next pass.
type System struct {
	devices *device.Registry
	rules   *automation.RuleSet
	monitor *automation.Monitor

	logger  Logger
	states  device.StateRepository
	firings automation.FiringRepository
	mqtt    MQTTClient
	hub     automation.WSHub
	access  *auth.Authorizer
	topics  mqtt.Topics

	mu      sync.Mutex
	started bool
}

// New creates a System with no devices or rules.
//
// Parameters:
//   - cfg: monitor section of config.yaml
//   - deps: optional collaborators (logger, persistence, MQTT, WebSocket, InfluxDB)
func New(cfg config.MonitorConfig, deps Deps) *System {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &System{
		devices: device.NewRegistry(),
		rules:   automation.NewRuleSet(),
		logger:  logger,
		states:  deps.States,
		firings: deps.Firings,
		mqtt:    deps.MQTT,
		hub:     deps.Hub,
		access:  deps.Access,
	}
	s.devices.SetLogger(logger)
	s.devices.Subscribe(s.onStateChange)

	mc := automation.MonitorConfig{
		Devices:         s.devices,
		Rules:           s.rules,
		TickInterval:    cfg.TickInterval,
		EnergyTelemetry: cfg.EnergyTelemetry,
		Clock:           deps.Clock,
		Logger:          logger,
		Recorder:        deps.Firings,
		MQTT:            deps.MQTT,
		Hub:             deps.Hub,
		Telemetry:       deps.Telemetry,
	}
	s.monitor = automation.NewMonitor(mc)
	return s
}

// Load registers every device and then every rule of f.
// It stops at the first invalid entry.
func (s *System) Load(f *File) error {
	for i, spec := range f.Devices {
		d, err := spec.Build()
		if err != nil {
			return fmt.Errorf("device %d: %w", i+1, err)
		}
		perms, err := spec.RequiredPermissions()
		if err != nil {
			return fmt.Errorf("device %d: %w", i+1, err)
		}
		if err := s.RegisterDevice(d); err != nil {
			return fmt.Errorf("device %d: %w", i+1, err)
		}
		if len(perms) > 0 {
			s.RestrictDevice(d.ID(), perms...)
		}
	}

	for i, spec := range f.Rules {
		r, err := spec.Build(s.devices)
		if err != nil {
			return fmt.Errorf("%w: rule %d: %w", ErrInvalidHomeFile, i+1, err)
		}
		if err := s.RegisterRule(r); err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
	}

	s.logger.Info("home loaded", "devices", s.devices.Count(), "rules", s.rules.Len())
	return nil
}

// RegisterDevice adds a device.
func (s *System) RegisterDevice(d device.Device) error {
	return s.devices.Register(d)
}

// RestrictDevice makes a device controllable only by users holding one of
// perms. It has no effect when access control is disabled.
func (s *System) RestrictDevice(id string, perms ...auth.Permission) {
	if s.access == nil {
		s.logger.Debug("device permissions ignored, access control disabled", "device_id", id)
		return
	}
	s.access.RequireForDevice(id, perms...)
}

// AccessEnabled reports whether commands are checked against users.
func (s *System) AccessEnabled() bool { return s.access != nil }

// Login checks a username and password.
//
// Returns:
//   - *auth.Principal: the user, to be attached with auth.WithPrincipal
//   - error: auth.ErrInvalidCredentials, auth.ErrUserInactive, or
//     ErrAccessDisabled when access control is off
func (s *System) Login(ctx context.Context, username, password string) (*auth.Principal, error) {
	if s.access == nil {
		return nil, ErrAccessDisabled
	}
	return s.access.Authenticate(ctx, username, password)
}

// RegisterRule adds a rule. It is evaluated from the next monitor pass.
func (s *System) RegisterRule(r *automation.Rule) error {
	if err := s.rules.Add(r); err != nil {
		return err
	}
	s.logger.Info("rule registered", "rule", r.Name(), "rule_id", r.ID(), "trigger", r.Trigger().String())
	return nil
}

// ListDevices returns the devices in registration order.
func (s *System) ListDevices() []device.Device {
	return s.devices.ListDevices()
}

// ListRules returns the rules in registration order.
func (s *System) ListRules() []*automation.Rule {
	return s.rules.List()
}

// Device returns the device with the given id, or device.ErrDeviceNotFound.
func (s *System) Device(id string) (device.Device, error) {
	return s.devices.Get(id)
}

// DeviceStats counts devices by type and how many are on.
func (s *System) DeviceStats() device.Stats {
	return s.devices.GetStats()
}

// Devices exposes the device registry.
func (s *System) Devices() *device.Registry { return s.devices }

// Monitor exposes the rule monitor.
func (s *System) Monitor() *automation.Monitor { return s.monitor }

// Execute applies a user command to a device. When access control is on,
// ctx must carry a principal allowed to control the device.
//
// Returns:
//   - device.State: the state after the command
//   - error: auth.ErrUnauthenticated, auth.ErrForbidden or a device error
func (s *System) Execute(ctx context.Context, deviceID string, cmd device.Command) (device.State, error) {
	if s.access != nil {
		if _, err := s.devices.Get(deviceID); err != nil {
			return device.State{}, err
		}
		if err := s.access.CheckDevice(ctx, deviceID, auth.PermDeviceControl); err != nil {
			return device.State{}, err
		}
	}
	return s.devices.Execute(ctx, deviceID, cmd)
}

// Evaluate runs one monitor pass immediately.
func (s *System) Evaluate(ctx context.Context) automation.PassResult {
	return s.monitor.RunPass(ctx)
}

// History returns the newest rule firings.
func (s *System) History(ctx context.Context, limit int) ([]automation.Firing, error) {
	if s.firings == nil {
		return nil, ErrHistoryUnavailable
	}
	return s.firings.ListFirings(ctx, limit)
}

// Start restores persisted device state, subscribes to device commands and
// starts the monitor. A System whose previous Start context was cancelled
// can be started again.
//
// Parameters:
//   - ctx: lifetime of the monitor loop
//
// Returns:
//   - error: restore or subscription failure, or automation.ErrMonitorRunning
func (s *System) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		if s.monitor.Running() {
			return automation.ErrMonitorRunning
		}
		// The previous run ended with its context; start over.
		s.started = false
	}

	if s.states != nil {
		n, err := device.RestoreAll(ctx, s.states, s.devices)
		if err != nil {
			return fmt.Errorf("restoring device state: %w", err)
		}
		s.logger.Info("device state restored", "devices", n)
	}

	if s.mqtt != nil {
		if err := s.mqtt.Subscribe(s.topics.AllDeviceCommands(), s.mqtt.QoS(), s.handleCommand); err != nil {
			return fmt.Errorf("subscribing to device commands: %w", err)
		}
		for _, d := range s.devices.ListDevices() {
			s.publishState(d.Snapshot())
		}
	}

	if err := s.monitor.Start(ctx); err != nil {
		if s.mqtt != nil {
			_ = s.mqtt.Unsubscribe(s.topics.AllDeviceCommands()) //nolint:errcheck // best effort rollback
		}
		return err
	}

	s.started = true
	s.logger.Info("smart home started", "devices", s.devices.Count(), "rules", s.rules.Len())
	return nil
}

// Stop halts the monitor, drops the command subscription and saves the
// state of every device. Safe to call more than once.
func (s *System) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false

	s.monitor.Stop()

	if s.mqtt != nil {
		if err := s.mqtt.Unsubscribe(s.topics.AllDeviceCommands()); err != nil {
			s.logger.Debug("unsubscribe failed", "error", err)
		}
	}

	if s.states != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		saved := 0
		for _, d := range s.devices.ListDevices() {
			if err := s.states.Save(ctx, d.Snapshot()); err != nil {
				s.logger.Error("failed to save device state", "device_id", d.ID(), "error", err)
				continue
			}
			saved++
		}
		s.logger.Info("device state saved", "devices", saved)
	}

	s.logger.Info("smart home stopped")
}

// onStateChange persists and publishes every device change.
func (s *System) onStateChange(st device.State) {
	if s.states != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := s.states.Save(ctx, st); err != nil {
			s.logger.Error("failed to save device state", "device_id", st.ID, "error", err)
		}
		cancel()
	}

	s.publishState(st)

	if s.hub != nil {
		s.hub.Broadcast(ChannelDeviceState, st)
	}
}

func (s *System) publishState(st device.State) {
	if s.mqtt == nil {
		return
	}
	if err := s.mqtt.PublishJSON(s.topics.DeviceState(st.ID), st, true); err != nil {
		s.logger.Debug("device state not published", "device_id", st.ID, "error", err)
	}
}

// commandMessage is the payload of smarthome/command/{id}.
type commandMessage struct {
	device.Command

	// Token is an access token from the login endpoint. Required when
	// access control is on.
	Token string `json:"token,omitempty"`
}

// handleCommand applies a command received on smarthome/command/{id}.
// The payload is {"command": "...", "value": n, "token": "..."}.
func (s *System) handleCommand(topic string, payload []byte) error {
	id, err := s.topics.ParseDeviceCommand(topic)
	if err != nil {
		return err
	}

	var msg commandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding command for %s: %w", id, err)
	}

	ctx := context.Background()
	if s.access != nil {
		p, err := s.access.Verify(msg.Token)
		if err != nil {
			s.logger.Warn("remote command rejected", "device_id", id, "error", err)
			return fmt.Errorf("device %s: %w", id, err)
		}
		ctx = auth.WithPrincipal(ctx, p)
	}

	if _, err := s.Execute(ctx, id, msg.Command); err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			s.logger.Warn("command for unknown device", "device_id", id)
		case errors.Is(err, auth.ErrForbidden):
			s.logger.Warn("remote command rejected", "device_id", id, "error", err)
		}
		return fmt.Errorf("device %s: %w", id, err)
	}

	s.logger.Info("remote command applied", "device_id", id, "command", msg.Command.String())
	return nil
}
