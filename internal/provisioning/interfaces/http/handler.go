package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kovacsmedia/SchoolLive-backend/internal/audit"
	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	devices "github.com/kovacsmedia/SchoolLive-backend/internal/devices/domain"
	provisioningapp "github.com/kovacsmedia/SchoolLive-backend/internal/provisioning/application"
	provisioning "github.com/kovacsmedia/SchoolLive-backend/internal/provisioning/domain"
)

// Handler serves the install handshake endpoints. Start sits behind the
// operator JWT middleware; Confirm is called by the device itself with only
// the session token, so it is mounted outside the auth chain.
type Handler struct {
	service     *provisioningapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *provisioningapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("provisioning handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

type startRequest struct {
	SerialNumber string `json:"serialNumber"`
	InstallCode  string `json:"installCode"`
}

// ServeStart handles POST /api/v1/provisioning/start.
func (h *Handler) ServeStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "invalid json"})
		return
	}

	result, err := h.service.Start(r.Context(), req.SerialNumber, req.InstallCode)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"sessionToken": result.SessionToken,
		"expiresAt":    result.ExpiresAt.Format(time.RFC3339),
	})
	h.logAudit(r, result.DeviceID)
}

type confirmRequest struct {
	SessionToken string `json:"sessionToken"`
}

// ServeConfirm handles POST /api/v1/provisioning/confirm.
func (h *Handler) ServeConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "invalid json"})
		return
	}

	result, err := h.service.Confirm(r.Context(), req.SessionToken)
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"deviceId":  result.DeviceID,
		"deviceKey": result.DeviceKey,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provisioning.ErrInvalidInstallCode):
		respondJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "INVALID_INSTALL_CODE"})
	case errors.Is(err, provisioning.ErrSessionNotFound):
		respondJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "SESSION_NOT_FOUND"})
	case errors.Is(err, provisioning.ErrSessionExpired):
		respondJSON(w, http.StatusGone, map[string]any{"ok": false, "error": "SESSION_EXPIRED"})
	case errors.Is(err, devices.ErrNotFound):
		respondJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "DEVICE_NOT_FOUND"})
	default:
		respondJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "INTERNAL_ERROR"})
	}
}

func (h *Handler) logAudit(r *http.Request, deviceID string) {
	if h.auditLogger == nil {
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     auth.TenantIDFromContext(r.Context()),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "provision.start",
		ResourceType: "device",
		ResourceID:   deviceID,
		DeviceID:     deviceID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
