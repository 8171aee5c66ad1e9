// Package api implements the HTTP REST API and WebSocket server for the smart
// home core.
//
// This package provides:
//   - REST endpoints for device state and device commands
//   - REST endpoints for rules, rule firing history and on-demand evaluation
//   - Login and WebSocket tickets when access control is on
//   - WebSocket hub for real-time device, rule and energy events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit, auth)
//
// # Routes
//
//	GET  /api/v1/health                   public
//	POST /api/v1/auth/login               public
//	GET  /api/v1/auth/me
//	POST /api/v1/auth/ws-ticket
//	GET  /api/v1/devices                  view_status
//	GET  /api/v1/devices/stats            view_status
//	GET  /api/v1/devices/{id}             view_status
//	POST /api/v1/devices/{id}/commands    device_control
//	GET  /api/v1/rules                    view_status
//	GET  /api/v1/rules/firings?limit=n    view_status
//	POST /api/v1/rules/evaluate           rule_evaluate
//	GET  /api/v1/ws?ticket=t
//
// With access control on, every route not marked public needs an
// "Authorization: Bearer <token>" header from /auth/login. Device reads and
// commands also honour the device's required permissions. Without access
// control all routes are open.
//
// # WebSocket
//
// Clients send {"type":"subscribe","payload":{"channels":["rule.fired"]}}
// and then receive {"type":"event","event_type":"rule.fired",...} messages.
// The channel "*" subscribes to everything. Device state and energy events
// are only delivered to users who may view the device.
//
// The hub is created by the caller and shared with the rule monitor so that
// both the monitor and device state changes broadcast through it:
//
//	hub := api.NewHub(cfg.WebSocket, logger)
//	go hub.Run(ctx)
//	server, err := api.New(api.Deps{Home: sys, Hub: hub, Logger: logger, Auth: authorizer})
//	server.Start(ctx)
//	defer server.Close()
package api
