package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smarthome-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Public
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// Authenticated by a ticket from /auth/ws-ticket
		r.Get("/ws", s.handleWebSocket)

		// Bearer token required when access control is on
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/devices", func(r chi.Router) {
				view := r.With(s.requirePermission(auth.PermViewStatus))
				view.Get("/", s.handleListDevices)
				view.Get("/stats", s.handleDeviceStats)
				view.Get("/{id}", s.handleGetDevice)

				// Device permissions are checked by home.System.Execute.
				r.Post("/{id}/commands", s.handleDeviceCommand)
			})

			r.Route("/rules", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermViewStatus))
				r.Get("/", s.handleListRules)
				r.Get("/firings", s.handleListFirings)
				r.With(s.requirePermission(auth.PermRuleEvaluate)).Post("/evaluate", s.handleEvaluateRules)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
