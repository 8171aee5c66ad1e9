package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/smarthome-core/internal/auth"
	"github.com/nerrad567/smarthome-core/internal/device"
)

// canView reports whether the caller may see a device. Devices that
// require permissions are hidden from users without one of them.
func (s *Server) canView(r *http.Request, deviceID string) bool {
	if s.access == nil {
		return true
	}
	return s.access.CanAccessDevice(auth.PrincipalFromContext(r.Context()), deviceID, auth.PermViewStatus)
}

// handleListDevices returns the state of every visible device in
// registration order.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.home.ListDevices()
	states := make([]device.State, 0, len(devices))
	for _, d := range devices {
		if s.canView(r, d.ID()) {
			states = append(states, d.Snapshot())
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": states, "count": len(states)})
}

// handleDeviceStats returns device counts by type and power state.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.home.DeviceStats())
}

// handleGetDevice returns one device's state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := s.home.Device(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	if !s.canView(r, id) {
		writeForbidden(w, "no access to device "+id)
		return
	}

	writeJSON(w, http.StatusOK, d.Snapshot())
}

// handleDeviceCommand applies a command to a device and returns its new state.
//
// Request body:
//
//	{"command": "set_brightness", "value": 40}
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cmd device.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	st, err := s.home.Execute(r.Context(), id, cmd)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
		return
	case errors.Is(err, auth.ErrUnauthenticated):
		writeUnauthorized(w, "authentication required")
		return
	case errors.Is(err, auth.ErrForbidden):
		writeForbidden(w, "no permission to control device "+id)
		return
	case errors.Is(err, device.ErrUnknownCommand), errors.Is(err, device.ErrInvalidValue):
		writeBadRequest(w, err.Error())
		return
	case errors.Is(err, device.ErrUnsupportedCommand):
		writeValidationError(w, err.Error())
		return
	default:
		s.logger.Error("device command failed", "device_id", id, "command", cmd.String(), "error", err)
		writeInternalError(w, "failed to execute command")
		return
	}

	s.logger.Info("device command applied", "device_id", id, "command", cmd.String())
	writeJSON(w, http.StatusOK, st)
}
