package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kovacsmedia/SchoolLive-backend/internal/audit"
	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	devicesapp "github.com/kovacsmedia/SchoolLive-backend/internal/devices/application"
	devices "github.com/kovacsmedia/SchoolLive-backend/internal/devices/domain"
)

// Handler serves the operator device endpoints under /api/v1/devices.
type Handler struct {
	service     *devicesapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *devicesapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("devices handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP routes device admin requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/devices" && r.Method == http.MethodPost:
		h.handleRegister(w, r)
	case r.URL.Path == "/api/v1/devices" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/devices/health" && r.Method == http.MethodGet:
		h.handleHealth(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type deviceJSON struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	Name            string          `json:"name"`
	SerialNumber    string          `json:"serialNumber,omitempty"`
	FirmwareVersion string          `json:"firmwareVersion,omitempty"`
	IPAddress       string          `json:"ipAddress,omitempty"`
	Online          bool            `json:"online"`
	LastSeenAt      *time.Time      `json:"lastSeenAt"`
	Volume          int             `json:"volume"`
	Muted           bool            `json:"muted"`
	StatusPayload   json.RawMessage `json:"statusPayload,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func toDeviceJSON(d devices.Device) deviceJSON {
	out := deviceJSON{
		ID:              d.ID,
		TenantID:        d.TenantID,
		Name:            d.Name,
		SerialNumber:    d.SerialNumber,
		FirmwareVersion: d.FirmwareVersion,
		IPAddress:       d.IPAddress,
		Online:          d.Online,
		Volume:          d.Volume,
		Muted:           d.Muted,
		StatusPayload:   d.StatusPayload,
		CreatedAt:       d.CreatedAt,
	}
	if !d.LastSeenAt.IsZero() {
		seen := d.LastSeenAt
		out.LastSeenAt = &seen
	}
	return out
}

type healthJSON struct {
	DeviceID             string `json:"deviceId"`
	Name                 string `json:"name"`
	Status               string `json:"status"`
	SecondsSinceLastSeen *int   `json:"secondsSinceLastSeen"`
}

type registerRequest struct {
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "invalid json"})
		return
	}
	if req.Name == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "name: required"})
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if auth.GlobalScope(auth.RoleFromContext(r.Context())) && req.TenantID != "" {
		tenantID = req.TenantID
	}
	if tenantID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "tenantId: required"})
		return
	}

	device, key, err := h.service.Register(r.Context(), tenantID, req.Name)
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "INTERNAL_ERROR"})
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"ok":        true,
		"device":    toDeviceJSON(*device),
		"deviceKey": key,
	})
	h.logAudit(r, tenantID, device)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), readScope(r))
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "INTERNAL_ERROR"})
		return
	}
	sanitized := make([]deviceJSON, 0, len(list))
	for _, d := range list {
		sanitized = append(sanitized, toDeviceJSON(d))
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(sanitized), "devices": sanitized})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.Health(r.Context(), readScope(r))
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "INTERNAL_ERROR"})
		return
	}
	sanitized := make([]healthJSON, 0, len(health))
	for _, item := range health {
		sanitized = append(sanitized, healthJSON{
			DeviceID:             item.DeviceID,
			Name:                 item.Name,
			Status:               item.Status,
			SecondsSinceLastSeen: item.SecondsSinceLastSeen,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "devices": sanitized})
}

func (h *Handler) logAudit(r *http.Request, tenantID string, device *devices.Device) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{"name": device.Name})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "device.register",
		ResourceType: "device",
		ResourceID:   device.ID,
		DeviceID:     device.ID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func readScope(r *http.Request) string {
	if auth.GlobalScope(auth.RoleFromContext(r.Context())) {
		return ""
	}
	return auth.TenantIDFromContext(r.Context())
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
