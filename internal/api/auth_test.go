package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/smarthome-core/internal/auth"
	"github.com/nerrad567/smarthome-core/internal/automation"
	"github.com/nerrad567/smarthome-core/internal/device"
	"github.com/nerrad567/smarthome-core/internal/home"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/config"
	"github.com/nerrad567/smarthome-core/internal/infrastructure/database"
	"github.com/nerrad567/smarthome-core/migrations"
)

// ─── Secured Fixtures ──────────────────────────────────────────────

const testSecret = "api-test-secret-0123456789abcdefgh"

// securedServer is testServer with access control on. T001 requires the
// "climate" permission. Accounts (password "pw"): alice is a user, bob a
// user granted "climate", root an admin.
func securedServer(t *testing.T) (*Server, *home.System) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	require.NoError(t, db.Migrate(context.Background(), migrations.FS))

	users := auth.NewUserRepository(db.DB)
	access := auth.NewAuthorizer(auth.Config{Secret: testSecret, TokenTTL: 5 * time.Minute}, users, nil)

	ctx := context.Background()
	for _, name := range []string{"alice", "bob", "root"} {
		role := auth.RoleUser
		if name == "root" {
			role = auth.RoleAdmin
		}
		u, err := auth.NewUser(name, "", "pw", role)
		require.NoError(t, err)
		require.NoError(t, users.Create(ctx, u))
		if name == "bob" {
			require.NoError(t, users.Grant(ctx, u.ID, "climate"))
		}
	}

	apiCfg, wsCfg := testConfig()
	hub := NewHub(wsCfg, nil)

	sys := home.New(config.MonitorConfig{TickInterval: time.Second}, home.Deps{
		Clock:  automation.ClockFunc(func() time.Time { return fixedNow }),
		Hub:    hub,
		Access: access,
	})
	require.NoError(t, sys.RegisterDevice(device.NewLight("L001", "Living Room Light", 80)))
	require.NoError(t, sys.RegisterDevice(device.NewThermostat("T001", "Hall Thermostat", 20)))
	sys.RestrictDevice("T001", "climate")

	srv, err := New(Deps{
		Config:  apiCfg,
		WS:      wsCfg,
		Logger:  noopLogger{},
		Home:    sys,
		Hub:     hub,
		Version: "test",
		Auth:    access,
	})
	require.NoError(t, err)
	return srv, sys
}

func login(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/v1/auth/login",
		fmt.Sprintf(`{"username":%q,"password":"pw"}`, username))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[loginResponse](t, w).AccessToken
}

func doAs(t *testing.T, h http.Handler, token, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ─── Login ─────────────────────────────────────────────────────────

func TestLogin(t *testing.T) {
	srv, _ := securedServer(t)
	h := srv.buildRouter()

	w := do(t, h, http.MethodPost, "/api/v1/auth/login", `{"username":"alice","password":"pw"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[loginResponse](t, w)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 300, resp.ExpiresIn)
	require.NotNil(t, resp.User)
	assert.Equal(t, "alice", resp.User.Username)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"unknown user", `{"username":"eve","password":"pw"}`, http.StatusUnauthorized},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest},
		{"invalid JSON", `{"username":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/auth/login", tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantCode == http.StatusUnauthorized {
				assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
				assert.Equal(t, ErrCodeUnauthorized, decode[Error](t, w).Code)
			}
		})
	}
}

func TestLogin_Disabled(t *testing.T) {
	srv, _ := testServer(t, false)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/auth/login", `{"username":"a","password":"b"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMe(t *testing.T) {
	srv, _ := securedServer(t)
	h := srv.buildRouter()

	w := doAs(t, h, login(t, h, "bob"), http.MethodGet, "/api/v1/auth/me", "")
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[auth.Principal](t, w)
	assert.Equal(t, "bob", p.Username)
	assert.Equal(t, []auth.Permission{"climate"}, p.Grants)
}

// ─── Middleware ────────────────────────────────────────────────────

func TestAuthMiddleware(t *testing.T) {
	srv, _ := securedServer(t)
	h := srv.buildRouter()
	token := login(t, h, "alice")

	tests := []struct {
		name     string
		path     string
		header   string
		wantCode int
	}{
		{"health is public", "/api/v1/health", "", http.StatusOK},
		{"no header", "/api/v1/devices", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/v1/devices", "Basic " + token, http.StatusUnauthorized},
		{"empty bearer", "/api/v1/devices", "Bearer ", http.StatusUnauthorized},
		{"forged token", "/api/v1/devices", "Bearer forged", http.StatusUnauthorized},
		{"valid token", "/api/v1/devices", "Bearer " + token, http.StatusOK},
		{"lower-case scheme", "/api/v1/rules", "bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestAuthMiddleware_ExpiredToken(t *testing.T) {
	srv, _ := securedServer(t)
	h := srv.buildRouter()

	expired, err := auth.GenerateAccessToken(
		&auth.Principal{UserID: "usr-1", Username: "alice", Role: auth.RoleUser},
		testSecret, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	w := doAs(t, h, expired, http.MethodGet, "/api/v1/devices", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ─── Device Permissions ────────────────────────────────────────────

func TestDeviceCommand_AllowedAndDenied(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		device   string
		wantCode int
		wantErr  string
	}{
		{"user on open device", "alice", "L001", http.StatusOK, ""},
		{"user on restricted device", "alice", "T001", http.StatusForbidden, ErrCodeForbidden},
		{"granted user on restricted device", "bob", "T001", http.StatusOK, ""},
		{"admin on restricted device", "root", "T001", http.StatusOK, ""},
		{"anonymous", "", "L001", http.StatusUnauthorized, ErrCodeUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sys := securedServer(t)
			h := srv.buildRouter()

			token := ""
			if tt.user != "" {
				token = login(t, h, tt.user)
			}
			w := doAs(t, h, token, http.MethodPost, "/api/v1/devices/"+tt.device+"/commands", `{"command":"turn_on"}`)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())

			d, err := sys.Device(tt.device)
			require.NoError(t, err)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decode[Error](t, w).Code)
				assert.False(t, d.IsOn(), "denied command must not change the device")
				return
			}
			assert.True(t, d.IsOn())
		})
	}
}

func TestListDevices_HidesRestrictedDevices(t *testing.T) {
	srv, _ := securedServer(t)
	h := srv.buildRouter()

	type listResp struct {
		Devices []device.State `json:"devices"`
		Count   int            `json:"count"`
	}

	w := doAs(t, h, login(t, h, "alice"), http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[listResp](t, w)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "L001", resp.Devices[0].ID)

	w = doAs(t, h, login(t, h, "alice"), http.MethodGet, "/api/v1/devices/T001", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doAs(t, h, login(t, h, "bob"), http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[listResp](t, w).Count)
}

func TestEvaluateRules_RequiresPermission(t *testing.T) {
	srv, _ := securedServer(t)
	h := srv.buildRouter()

	w := doAs(t, h, login(t, h, "alice"), http.MethodPost, "/api/v1/rules/evaluate", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, ErrCodeForbidden, decode[Error](t, w).Code)

	w = doAs(t, h, login(t, h, "root"), http.MethodPost, "/api/v1/rules/evaluate", "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// ─── WebSocket Tickets ─────────────────────────────────────────────

func startSecured(t *testing.T) (*Server, *home.System) {
	t.Helper()
	srv, sys := securedServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		srv.Close() //nolint:errcheck // Test cleanup
		cancel()
	})
	return srv, sys
}

func wsTicket(t *testing.T, srv *Server, token string) string {
	t.Helper()
	w := doAs(t, srv.buildRouter(), token, http.MethodPost, "/api/v1/auth/ws-ticket", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}](t, w)
	assert.Equal(t, int(ticketTTL.Seconds()), resp.ExpiresIn)
	return resp.Ticket
}

func TestWebSocket_TicketRequired(t *testing.T) {
	srv, _ := startSecured(t)
	base := "ws://" + srv.Addr() + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ticket := wsTicket(t, srv, login(t, srv.buildRouter(), "alice"))
	ws, _, err := websocket.DefaultDialer.Dial(base+"?ticket="+ticket, nil)
	require.NoError(t, err)
	ws.Close()

	// Tickets are single use.
	_, resp, err = websocket.DefaultDialer.Dial(base+"?ticket="+ticket, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_FiltersRestrictedDeviceEvents(t *testing.T) {
	srv, _ := startSecured(t)
	h := srv.buildRouter()

	ticket := wsTicket(t, srv, login(t, h, "alice"))
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws?ticket="+ticket, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() }) //nolint:errcheck // Test cleanup
	subscribe(t, ws, home.ChannelDeviceState)

	root := login(t, h, "root")
	for _, id := range []string{"T001", "L001"} {
		w := doAs(t, h, root, http.MethodPost, "/api/v1/devices/"+id+"/commands", `{"command":"turn_on"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	// The thermostat change is withheld; the light change arrives first.
	var msg struct {
		EventType string       `json:"event_type"`
		Payload   device.State `json:"payload"`
	}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, home.ChannelDeviceState, msg.EventType)
	assert.Equal(t, "L001", msg.Payload.ID)
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	srv, _ := startServer(t, false)
	ws := dialWS(t, srv)

	require.NoError(t, ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "s1",
		Payload: WSSubscribePayload{Channels: []string{"door.opened"}},
	}))

	var resp WSMessage
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, WSTypeError, resp.Type)
	assert.Equal(t, "s1", resp.ID)
}

func TestTicketStore_Expiry(t *testing.T) {
	now := fixedNow
	store := newTicketStore(func() time.Time { return now })
	p := &auth.Principal{UserID: "u1", Username: "alice", Role: auth.RoleUser}

	fresh, err := store.issue(p)
	require.NoError(t, err)
	stale, err := store.issue(p)
	require.NoError(t, err)

	got, ok := store.redeem(fresh)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username)

	now = now.Add(ticketTTL + time.Second)
	_, ok = store.redeem(stale)
	assert.False(t, ok, "expired ticket")

	_, err = store.issue(p)
	require.NoError(t, err)
	now = now.Add(2 * ticketTTL)
	assert.Zero(t, store.sweep())
}
