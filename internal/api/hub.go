package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/smarthome-core/internal/auth"
	"github.com/nerrad567/smarthome-core/internal/automation"
	"github.com/nerrad567/smarthome-core/internal/device"
	"github.com/nerrad567/smarthome-core/internal/home"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/config"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes a client to every channel.
	WSChannelAll = "*"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// wsChannels are the channels a client may subscribe to.
var wsChannels = map[string]bool{
	WSChannelAll:                    true,
	home.ChannelDeviceState:         true,
	automation.ChannelRuleFired:     true,
	automation.ChannelEnergyReading: true,
}

// WSMessage is the envelope of every WebSocket frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans out system events to WebSocket clients. It satisfies
// automation.WSHub, so the monitor and the home system publish through it.
//
// With an authorizer set, events about a device only reach clients whose
// user may view that device.
type Hub struct {
	cfg    config.WebSocketConfig
	logger Logger
	now    func() time.Time

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	access  *auth.Authorizer
}

// NewHub creates a hub. A nil logger discards output.
func NewHub(cfg config.WebSocketConfig, logger Logger) *Hub {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		clients: make(map[*WSClient]struct{}),
	}
}

// SetAuthorizer enables per-device event filtering. Nil disables it.
func (h *Hub) SetAuthorizer(a *auth.Authorizer) {
	h.mu.Lock()
	h.access = a
	h.mu.Unlock()
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user", c.username(), "clients", n)
}

// Unregister removes a client and closes its outbound queue.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.close()
	h.logger.Debug("websocket client disconnected", "user", c.username(), "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	deviceID, scoped := eventDevice(payload)

	h.mu.RLock()
	access := h.access
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if !c.isSubscribed(channel) {
			continue
		}
		if scoped && access != nil && !access.CanAccessDevice(c.principal, deviceID, auth.PermViewStatus) {
			continue
		}
		if c.trySend(data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", sent)
	}
}

// eventDevice returns the device an event payload is about, if any.
func eventDevice(payload any) (string, bool) {
	switch p := payload.(type) {
	case device.State:
		return p.ID, true
	case automation.EnergyReading:
		return p.DeviceID, true
	}
	return "", false
}
