package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/smarthome-core/internal/auth"
)

const (
	// ticketTTL is how long a WebSocket ticket can be redeemed.
	ticketTTL = 60 * time.Second

	// ticketBytes is the number of random bytes in a ticket.
	ticketBytes = 32
)

// loginRequest is the body of POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is returned on successful login.
type loginResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresIn   int             `json:"expires_in"`
	User        *auth.Principal `json:"user"`
}

// handleLogin exchanges a username and password for an access token.
//
// Request body:
//
//	{"username": "admin", "password": "..."}
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.access == nil {
		writeUnavailable(w, "authentication is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	token, p, err := s.access.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserInactive):
		writeUnauthorized(w, "invalid credentials")
		return
	default:
		s.logger.Error("login failed", "username", req.Username, "error", err)
		writeInternalError(w, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.access.TokenTTL().Seconds()),
		User:        p,
	})
}

// handleMe returns the authenticated caller.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		writeUnavailable(w, "authentication is disabled")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleWSTicket issues a single-use ticket for GET /ws?ticket=...
// Browsers cannot set headers on a WebSocket handshake, and a ticket keeps
// the JWT out of URLs and access logs.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		writeUnavailable(w, "authentication is disabled")
		return
	}

	ticket, err := s.tickets.issue(p)
	if err != nil {
		s.logger.Error("issuing websocket ticket failed", "error", err)
		writeInternalError(w, "failed to issue ticket")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketStore holds pending WebSocket tickets. Each ticket is bound to the
// principal that requested it and can be redeemed once.
type ticketStore struct {
	now func() time.Time

	mu      sync.Mutex
	pending map[string]pendingTicket
}

type pendingTicket struct {
	principal *auth.Principal
	expiresAt time.Time
}

func newTicketStore(now func() time.Time) *ticketStore {
	return &ticketStore{now: now, pending: make(map[string]pendingTicket)}
}

func (t *ticketStore) issue(p *auth.Principal) (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	ticket := hex.EncodeToString(b)

	t.mu.Lock()
	t.pending[ticket] = pendingTicket{principal: p, expiresAt: t.now().Add(ticketTTL)}
	t.mu.Unlock()
	return ticket, nil
}

// redeem consumes a ticket and returns its principal.
func (t *ticketStore) redeem(ticket string) (*auth.Principal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pt, ok := t.pending[ticket]
	if !ok {
		return nil, false
	}
	delete(t.pending, ticket)
	if t.now().After(pt.expiresAt) {
		return nil, false
	}
	return pt.principal, true
}

// sweep drops expired tickets and returns how many remain.
func (t *ticketStore) sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, pt := range t.pending {
		if now.After(pt.expiresAt) {
			delete(t.pending, k)
		}
	}
	return len(t.pending)
}

// sweepLoop runs sweep every ticketTTL until ctx is cancelled.
func (t *ticketStore) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}
