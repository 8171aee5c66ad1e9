package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/smarthome-core/internal/automation"
	"github.com/nerrad567/smarthome-core/internal/device"
	"github.com/nerrad567/smarthome-core/internal/home"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/database"
	"github.com/nerrad567/smarthome-core/migrations"
)

// ─── Test Fixtures ─────────────────────────────────────────────────

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testConfig() (config.APIConfig, config.WebSocketConfig) {
	return config.APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		}, config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		}
}

// testHome builds a system with one light, one thermostat and two rules:
// "Always" turns the light on at every pass, "Broken" always fails.
func testHome(t *testing.T, hub *Hub, withHistory bool) *home.System {
	t.Helper()

	deps := home.Deps{
		Clock: automation.ClockFunc(func() time.Time { return fixedNow }),
		Hub:   hub,
	}
	if withHistory {
		db, err := database.Open(config.DatabaseConfig{
			Path:        filepath.Join(t.TempDir(), "api.db"),
			WALMode:     true,
			BusyTimeout: 5,
		})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
		require.NoError(t, db.Migrate(context.Background(), migrations.FS))
		deps.Firings = automation.NewSQLiteFiringRepository(db.DB)
	}

	sys := home.New(config.MonitorConfig{TickInterval: time.Second}, deps)
	require.NoError(t, sys.RegisterDevice(device.NewLight("L001", "Living Room Light", 80)))
	require.NoError(t, sys.RegisterDevice(device.NewThermostat("T001", "Hall Thermostat", 20)))

	always, err := automation.NewProbabilistic("always", 1)
	require.NoError(t, err)

	on, _, err := automation.BuildActions(sys.Devices(), []automation.ActionSpec{
		{Device: "L001", Command: device.CmdTurnOn},
	})
	require.NoError(t, err)
	r1, err := automation.NewRule("Always", always, on)
	require.NoError(t, err)
	require.NoError(t, sys.RegisterRule(r1))

	r2, err := automation.NewRule("Broken", always, func(context.Context) error {
		return errors.New("relay stuck")
	})
	require.NoError(t, err)
	require.NoError(t, sys.RegisterRule(r2))

	return sys
}

// testServer creates a Server over testHome. The router is exercised with
// httptest; the listener is not started.
func testServer(t *testing.T, withHistory bool) (*Server, *home.System) {
	t.Helper()

	apiCfg, wsCfg := testConfig()
	hub := NewHub(wsCfg, nil)
	sys := testHome(t, hub, withHistory)

	srv, err := New(Deps{
		Config:  apiCfg,
		WS:      wsCfg,
		Logger:  noopLogger{},
		Home:    sys,
		Hub:     hub,
		Version: "test",
	})
	require.NoError(t, err)
	return srv, sys
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// ─── Constructor ───────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{Home: home.New(config.MonitorConfig{}, home.Deps{})})
	assert.Error(t, err, "logger is required")

	_, err = New(Deps{Logger: noopLogger{}})
	assert.Error(t, err, "home is required")
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	_, err := uuid.Parse(w.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	assert.Equal(t, "client-123", w.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://panel.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _ := testServer(t, false)
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t, false)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternal, decode[Error](t, w).Code)
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decode[Error](t, w).Code)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodDelete, "/api/v1/rules", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// ─── Device Endpoint Tests ─────────────────────────────────────────

func TestListDevices(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Devices []device.State `json:"devices"`
		Count   int            `json:"count"`
	}](t, w)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "L001", resp.Devices[0].ID)
	assert.Equal(t, device.TypeThermostat, resp.Devices[1].Type)
}

func TestDeviceStats(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	stats := decode[device.Stats](t, w)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 0, stats.On)
	assert.Equal(t, 1, stats.ByType[device.TypeLight])
}

func TestGetDevice(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices/L001", "")
	require.Equal(t, http.StatusOK, w.Code)

	st := decode[device.State](t, w)
	assert.Equal(t, "Living Room Light", st.Name)
	require.NotNil(t, st.Brightness)
	assert.Equal(t, 80, *st.Brightness)
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices/X999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeviceCommand(t *testing.T) {
	srv, sys := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/devices/L001/commands",
		`{"command":"set_brightness","value":40}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	st := decode[device.State](t, w)
	require.NotNil(t, st.Brightness)
	assert.Equal(t, 40, *st.Brightness)

	d, err := sys.Device("L001")
	require.NoError(t, err)
	assert.Equal(t, 40, d.(device.Dimmable).Brightness())
}

func TestDeviceCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
		wantErr  string
	}{
		{
			name:     "invalid JSON",
			path:     "/api/v1/devices/L001/commands",
			body:     `{"command":`,
			wantCode: http.StatusBadRequest,
			wantErr:  ErrCodeBadRequest,
		},
		{
			name:     "unknown device",
			path:     "/api/v1/devices/X999/commands",
			body:     `{"command":"turn_on"}`,
			wantCode: http.StatusNotFound,
			wantErr:  ErrCodeNotFound,
		},
		{
			name:     "unknown command",
			path:     "/api/v1/devices/L001/commands",
			body:     `{"command":"explode"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  ErrCodeBadRequest,
		},
		{
			name:     "missing value",
			path:     "/api/v1/devices/L001/commands",
			body:     `{"command":"set_brightness"}`,
			wantCode: http.StatusBadRequest,
			wantErr:  ErrCodeBadRequest,
		},
		{
			name:     "unsupported by device",
			path:     "/api/v1/devices/T001/commands",
			body:     `{"command":"set_brightness","value":10}`,
			wantCode: http.StatusUnprocessableEntity,
			wantErr:  ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, false)

			w := do(t, srv.buildRouter(), http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, decode[Error](t, w).Code)
		})
	}
}

// ─── Rule Endpoint Tests ───────────────────────────────────────────

func TestListRules(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Rules []automation.RuleInfo `json:"rules"`
		Count int                   `json:"count"`
	}](t, w)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "Always", resp.Rules[0].Name)
	assert.Equal(t, automation.TriggerEvent, resp.Rules[0].Trigger.Type)
	assert.NotEmpty(t, resp.Rules[0].ID)
}

func TestEvaluateRules(t *testing.T) {
	srv, sys := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/rules/evaluate", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[struct {
		Devices  int           `json:"devices"`
		Rules    int           `json:"rules"`
		Fired    int           `json:"fired"`
		Failed   int           `json:"failed"`
		Failures []passFailure `json:"failures"`
	}](t, w)

	// Two devices times two rules.
	assert.Equal(t, 2, resp.Devices)
	assert.Equal(t, 2, resp.Rules)
	assert.Equal(t, 4, resp.Fired)
	assert.Equal(t, 2, resp.Failed)
	require.Len(t, resp.Failures, 2)
	assert.Equal(t, "Broken", resp.Failures[0].RuleName)
	assert.Contains(t, resp.Failures[0].Error, "relay stuck")

	d, err := sys.Device("L001")
	require.NoError(t, err)
	assert.True(t, d.IsOn())
}

func TestListFirings(t *testing.T) {
	srv, _ := testServer(t, true)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/rules/evaluate", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/rules/firings?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[struct {
		Firings []automation.Firing `json:"firings"`
		Count   int                 `json:"count"`
	}](t, w)
	assert.Equal(t, 3, resp.Count)
	require.Len(t, resp.Firings, 3)
	for _, f := range resp.Firings {
		assert.Equal(t, f.RuleName == "Always", f.Success, f.RuleName)
	}
}

func TestListFirings_Empty(t *testing.T) {
	srv, _ := testServer(t, true)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/rules/firings", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"firings":[],"count":0}`, w.Body.String())
}

func TestListFirings_BadLimit(t *testing.T) {
	srv, _ := testServer(t, true)

	for _, limit := range []string{"0", "-1", "abc", "501"} {
		w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/rules/firings?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}

func TestListFirings_NoHistory(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/rules/firings", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrCodeUnavailable, decode[Error](t, w).Code)
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_StartClose(t *testing.T) {
	srv, _ := testServer(t, false)
	ctx := context.Background()

	require.Error(t, srv.HealthCheck(ctx), "not started")

	require.NoError(t, srv.Start(ctx))
	require.NotEmpty(t, srv.Addr())
	require.NoError(t, srv.HealthCheck(ctx))
	assert.Error(t, srv.Start(ctx), "second start")

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Close())
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Close(), "second close")
}

func TestServer_HealthCheckCancelled(t *testing.T) {
	srv, _ := testServer(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, srv.HealthCheck(ctx), context.Canceled)
}

func TestServer_StartCreatesHub(t *testing.T) {
	apiCfg, wsCfg := testConfig()
	srv, err := New(Deps{
		Config: apiCfg,
		WS:     wsCfg,
		Logger: noopLogger{},
		Home:   home.New(config.MonitorConfig{TickInterval: time.Second}, home.Deps{}),
	})
	require.NoError(t, err)

	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup

	assert.NotNil(t, srv.hub)
	assert.False(t, srv.externalHub)
}

// ─── WebSocket Tests ───────────────────────────────────────────────

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() }) //nolint:errcheck // Test cleanup
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}))

	var resp WSMessage
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&resp))
	require.Equal(t, WSTypeResponse, resp.Type)
	require.Equal(t, "sub-1", resp.ID)
}

func startServer(t *testing.T, withHistory bool) (*Server, *home.System) {
	t.Helper()
	srv, sys := testServer(t, withHistory)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		srv.Close() //nolint:errcheck // Test cleanup
		cancel()
	})
	return srv, sys
}

func TestWebSocket_DeviceStateEvents(t *testing.T) {
	srv, _ := startServer(t, false)
	ws := dialWS(t, srv)
	subscribe(t, ws, home.ChannelDeviceState)

	resp, err := http.Post("http://"+srv.Addr()+"/api/v1/devices/L001/commands",
		"application/json", strings.NewReader(`{"command":"turn_on"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msg struct {
		Type      string       `json:"type"`
		EventType string       `json:"event_type"`
		Payload   device.State `json:"payload"`
	}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&msg))

	assert.Equal(t, WSTypeEvent, msg.Type)
	assert.Equal(t, home.ChannelDeviceState, msg.EventType)
	assert.Equal(t, "L001", msg.Payload.ID)
	assert.True(t, msg.Payload.On)
}

func TestWebSocket_RuleFiredEvents(t *testing.T) {
	srv, _ := startServer(t, false)
	ws := dialWS(t, srv)
	subscribe(t, ws, automation.ChannelRuleFired)

	resp, err := http.Post("http://"+srv.Addr()+"/api/v1/rules/evaluate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	var msg struct {
		EventType string            `json:"event_type"`
		Payload   automation.Firing `json:"payload"`
	}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&msg))

	assert.Equal(t, automation.ChannelRuleFired, msg.EventType)
	assert.Equal(t, "Always", msg.Payload.RuleName)
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	srv, _ := startServer(t, false)
	ws := dialWS(t, srv)

	var resp WSMessage
	require.NoError(t, ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, WSTypePong, resp.Type)
	assert.Equal(t, "p1", resp.ID)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, WSTypeError, resp.Type)

	require.NoError(t, ws.WriteJSON(WSMessage{Type: "shout", ID: "x"}))
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, WSTypeError, resp.Type)
	assert.Equal(t, "x", resp.ID)
}

func TestWebSocket_NoHub(t *testing.T) {
	apiCfg, wsCfg := testConfig()
	srv, err := New(Deps{
		Config: apiCfg,
		WS:     wsCfg,
		Logger: noopLogger{},
		Home:   home.New(config.MonitorConfig{TickInterval: time.Second}, home.Deps{}),
	})
	require.NoError(t, err)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/ws", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
