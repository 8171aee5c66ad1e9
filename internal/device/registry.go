package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Logger defines the logging interface used by the Registry.
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

// StateListener receives a snapshot after any registered device changes.
// Listeners run on the goroutine that changed the device and must not block.
type StateListener func(State)

// snapshot is an immutable view of the registry contents.
type snapshot struct {
	list []Device
	byID map[string]Device
}

// Registry holds the devices of the home in registration order.
//
// Reads never block: writers build a new snapshot under mu and publish it
// atomically, so a caller iterating ListDevices keeps a stable view while
// devices are added concurrently.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]

	listenersMu sync.RWMutex
	listeners   []StateListener

	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{logger: noopLogger{}}
	r.snap.Store(&snapshot{byID: map[string]Device{}})
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds d and starts relaying its state changes to listeners.
// Returns ErrDeviceExists if the ID is taken and ErrInvalidDevice for a
// device without ID or name.
func (r *Registry) Register(d Device) error {
	if d == nil || d.ID() == "" || d.Name() == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidDevice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if _, exists := cur.byID[d.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID())
	}

	next := &snapshot{
		list: make([]Device, len(cur.list), len(cur.list)+1),
		byID: make(map[string]Device, len(cur.byID)+1),
	}
	copy(next.list, cur.list)
	next.list = append(next.list, d)
	for k, v := range cur.byID {
		next.byID[k] = v
	}
	next.byID[d.ID()] = d

	d.SetOnChange(r.dispatch)
	r.snap.Store(next)

	r.logger.Info("device registered", "device_id", d.ID(), "type", d.Type())
	return nil
}

// Get returns the device with the given ID or ErrDeviceNotFound.
func (r *Registry) Get(id string) (Device, error) {
	d, ok := r.snap.Load().byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// ListDevices returns the devices in registration order. The slice is a
// snapshot; later registrations do not affect it.
func (r *Registry) ListDevices() []Device {
	return r.snap.Load().list
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	return len(r.snap.Load().list)
}

// Subscribe adds a listener for state changes of every registered device.
func (r *Registry) Subscribe(l StateListener) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()
}

func (r *Registry) dispatch(s State) {
	r.listenersMu.RLock()
	ls := r.listeners
	r.listenersMu.RUnlock()

	for _, l := range ls {
		l(s)
	}
}

// Execute looks up a device and applies cmd to it.
//
// Parameters:
//   - ctx: checked before the command runs
//   - id: device ID
//   - cmd: command to apply
//
// Returns:
//   - State: snapshot after the command
//   - error: ErrDeviceNotFound or any error from Apply
func (r *Registry) Execute(ctx context.Context, id string, cmd Command) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, err
	}
	d, err := r.Get(id)
	if err != nil {
		return State{}, err
	}
	if err := Apply(d, cmd); err != nil {
		return State{}, err
	}
	r.logger.Debug("device command applied", "device_id", id, "command", cmd.String())
	return d.Snapshot(), nil
}

// Stats summarises the registry for the health endpoint.
type Stats struct {
	Total  int          `json:"total"`
	On     int          `json:"on"`
	ByType map[Type]int `json:"by_type"`
}

// GetStats counts devices by type and how many are on.
func (r *Registry) GetStats() Stats {
	st := Stats{ByType: make(map[Type]int)}
	for _, d := range r.ListDevices() {
		st.Total++
		st.ByType[d.Type()]++
		if d.IsOn() {
			st.On++
		}
	}
	return st
}
