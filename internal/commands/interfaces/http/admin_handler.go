package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kovacsmedia/SchoolLive-backend/internal/audit"
	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	commandsapp "github.com/kovacsmedia/SchoolLive-backend/internal/commands/application"
	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
)

// AdminHandler serves the operator command endpoints under /api/v1/commands.
type AdminHandler struct {
	service     *commandsapp.Service
	auditLogger audit.Logger
}

// NewAdminHandler constructs a handler.
func NewAdminHandler(service *commandsapp.Service, auditLogger audit.Logger) (*AdminHandler, error) {
	if service == nil {
		return nil, errors.New("commands handler: nil service")
	}
	return &AdminHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP routes command admin requests.
func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/commands" && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case r.URL.Path == "/api/v1/commands" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/commands/summary" && r.Method == http.MethodGet:
		h.handleSummary(w, r)
	case r.URL.Path == "/api/v1/commands/stuck" && r.Method == http.MethodGet:
		h.handleStuck(w, r)
	case r.URL.Path == "/api/v1/commands/export.xlsx" && r.Method == http.MethodGet:
		h.handleExport(w, r, exportXLSX)
	case r.URL.Path == "/api/v1/commands/export.pdf" && r.Method == http.MethodGet:
		h.handleExport(w, r, exportPDF)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type createRequest struct {
	TenantID string          `json:"tenantId"`
	DeviceID string          `json:"deviceId"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

func (h *AdminHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "invalid json"})
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if auth.GlobalScope(auth.RoleFromContext(r.Context())) && req.TenantID != "" {
		tenantID = req.TenantID
	}

	payload, err := mergePayload(req.Type, req.Payload)
	if err != nil {
		respondCommandError(w, err)
		return
	}

	cmd, err := h.service.Create(r.Context(), tenantID, req.DeviceID, payload)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"ok": true, "command": toCommandJSON(cmd)})
	h.logAudit(r, tenantID, cmd)
}

func (h *AdminHandler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context(), readScope(r))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	sanitized := make([]commandSummaryJSON, 0, len(list))
	for _, cmd := range list {
		sanitized = append(sanitized, toCommandSummaryJSON(cmd))
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(sanitized), "commands": sanitized})
}

func (h *AdminHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.Summary(r.Context(), readScope(r))
	if err != nil {
		respondCommandError(w, err)
		return
	}
	summary := make(map[string]int, len(counts))
	for status, count := range counts {
		summary[string(status)] = count
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *AdminHandler) handleStuck(w http.ResponseWriter, r *http.Request) {
	minutes := 0
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "minutes must be a positive integer"})
			return
		}
		minutes = parsed
	}

	stuck, err := h.service.Stuck(r.Context(), readScope(r), minutes)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	sanitized := make([]commandSummaryJSON, 0, len(stuck))
	for _, cmd := range stuck {
		sanitized = append(sanitized, toCommandSummaryJSON(cmd))
	}
	respondJSON(w, http.StatusOK, map[string]any{"minutes": minutes, "count": len(sanitized), "commands": sanitized})
}

func (h *AdminHandler) logAudit(r *http.Request, tenantID string, cmd *commands.Command) {
	if h.auditLogger == nil || tenantID == "" {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"device_id":    cmd.DeviceID,
		"command_type": cmd.PayloadType(),
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "command.create",
		ResourceType: "command",
		ResourceID:   cmd.ID,
		DeviceID:     cmd.DeviceID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

// readScope resolves the tenant filter for read views: superadmins see all
// tenants, everyone else only their own.
func readScope(r *http.Request) string {
	if auth.GlobalScope(auth.RoleFromContext(r.Context())) {
		return ""
	}
	return auth.TenantIDFromContext(r.Context())
}

// mergePayload folds the type discriminator into the payload object so the
// device receives a single self-describing document.
func mergePayload(commandType string, payload json.RawMessage) (json.RawMessage, error) {
	if commandType == "" {
		return nil, &commands.ValidationError{Field: "type", Detail: "required"}
	}
	fields := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, &commands.ValidationError{Field: "payload", Detail: "must be a JSON object"}
		}
	}
	fields["type"] = commandType
	return json.Marshal(fields)
}

func respondCommandError(w http.ResponseWriter, err error) {
	var validation *commands.ValidationError
	if errors.As(err, &validation) {
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"ok": false, "error": "VALIDATION_ERROR", "details": validation.Error(),
		})
		return
	}
	var conflict *commands.ConflictError
	if errors.As(err, &conflict) {
		respondJSON(w, http.StatusConflict, map[string]any{
			"ok":    false,
			"error": "DEVICE_HAS_ACTIVE_COMMAND",
			"details": map[string]any{
				"id":       conflict.ExistingID,
				"status":   string(conflict.ExistingStatus),
				"queuedAt": conflict.QueuedAt.Format(time.RFC3339Nano),
			},
		})
		return
	}
	if errors.Is(err, commands.ErrDeviceNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "DEVICE_NOT_FOUND"})
		return
	}
	if errors.Is(err, commands.ErrNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "COMMAND_NOT_FOUND"})
		return
	}
	respondJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "INTERNAL_ERROR"})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
