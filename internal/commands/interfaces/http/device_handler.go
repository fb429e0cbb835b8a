package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	commandsapp "github.com/kovacsmedia/SchoolLive-backend/internal/commands/application"
	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
)

// DeviceHandler serves the device-facing poll and ack endpoints. Requests
// reach it through the device key middleware, which puts the device identity
// on the context.
type DeviceHandler struct {
	service *commandsapp.Service
}

// NewDeviceHandler constructs a handler.
func NewDeviceHandler(service *commandsapp.Service) (*DeviceHandler, error) {
	if service == nil {
		return nil, errors.New("device commands handler: nil service")
	}
	return &DeviceHandler{service: service}, nil
}

// ServeHTTP routes device command requests.
func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.DeviceFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "UNAUTHORIZED"})
		return
	}

	switch {
	case r.URL.Path == "/api/v1/device/poll" && r.Method == http.MethodPost:
		h.handlePoll(w, r, identity)
	case r.URL.Path == "/api/v1/device/ack" && r.Method == http.MethodPost:
		h.handleAck(w, r, identity)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *DeviceHandler) handlePoll(w http.ResponseWriter, r *http.Request, identity auth.DeviceIdentity) {
	cmd, err := h.service.Poll(r.Context(), identity.TenantID, identity.DeviceID)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	if cmd == nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "command": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "command": toCommandJSON(cmd)})
}

type ackRequest struct {
	CommandID string `json:"commandId"`
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
}

func (h *DeviceHandler) handleAck(w http.ResponseWriter, r *http.Request, identity auth.DeviceIdentity) {
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "invalid json"})
		return
	}

	cmd, note, err := h.service.Ack(r.Context(), identity.TenantID, identity.DeviceID, req.CommandID, req.OK, req.Error)
	if err != nil {
		if errors.Is(err, commands.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "COMMAND_NOT_FOUND"})
			return
		}
		respondCommandError(w, err)
		return
	}

	body := map[string]any{"ok": true, "command": toCommandJSON(cmd)}
	if note != "" {
		body["note"] = note
	}
	respondJSON(w, http.StatusOK, body)
}
