package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	commandsapp "github.com/kovacsmedia/SchoolLive-backend/internal/commands/application"
	"github.com/kovacsmedia/SchoolLive-backend/internal/commands/infrastructure/memory"
)

type allowAllDevices struct{}

func (allowAllDevices) EnsureDeviceTenant(_ context.Context, _, _ string) error { return nil }

func newHandlerFixture(t *testing.T) (*AdminHandler, *DeviceHandler) {
	t.Helper()
	repo := memory.NewCommandRepository()
	svc, err := commandsapp.NewService(repo, allowAllDevices{}, commandsapp.DefaultPolicy(), nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	admin, err := NewAdminHandler(svc, nil)
	if err != nil {
		t.Fatalf("new admin handler: %v", err)
	}
	device, err := NewDeviceHandler(svc)
	if err != nil {
		t.Fatalf("new device handler: %v", err)
	}
	return admin, device
}

func adminRequest(method, path, body, tenantID string, role auth.Role) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	ctx := auth.WithIdentity(req.Context(), tenantID, role, "user-1")
	return req.WithContext(ctx)
}

func deviceRequest(path, body string, identity auth.DeviceIdentity) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	return req.WithContext(auth.WithDevice(req.Context(), identity))
}

func TestCreateCommandEndpoint(t *testing.T) {
	admin, _ := newHandlerFixture(t)

	req := adminRequest(http.MethodPost, "/api/v1/commands",
		`{"deviceId":"dev-1","type":"SET_VOLUME","payload":{"volume":7}}`,
		"tenant-a", auth.RoleAdmin)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		OK      bool        `json:"ok"`
		Command commandJSON `json:"command"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Command.Status != "QUEUED" || body.Command.DeviceID != "dev-1" {
		t.Fatalf("unexpected body %+v", body)
	}
	var payload map[string]any
	if err := json.Unmarshal(body.Command.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["type"] != "SET_VOLUME" || payload["volume"] != float64(7) {
		t.Fatalf("expected merged payload, got %v", payload)
	}
}

func TestCreateCommandConflictPayload(t *testing.T) {
	admin, _ := newHandlerFixture(t)

	first := adminRequest(http.MethodPost, "/api/v1/commands",
		`{"deviceId":"dev-1","type":"REBOOT"}`, "tenant-a", auth.RoleAdmin)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, first)
	if resp.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d", resp.Code)
	}

	second := adminRequest(http.MethodPost, "/api/v1/commands",
		`{"deviceId":"dev-1","type":"REBOOT"}`, "tenant-a", auth.RoleAdmin)
	resp = httptest.NewRecorder()
	admin.ServeHTTP(resp, second)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	var body struct {
		Error   string `json:"error"`
		Details struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"details"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "DEVICE_HAS_ACTIVE_COMMAND" || body.Details.Status != "QUEUED" || body.Details.ID == "" {
		t.Fatalf("unexpected conflict body %+v", body)
	}
}

func TestCreateCommandValidationError(t *testing.T) {
	admin, _ := newHandlerFixture(t)

	req := adminRequest(http.MethodPost, "/api/v1/commands",
		`{"deviceId":"dev-1","type":"SET_VOLUME","payload":{"volume":99}}`,
		"tenant-a", auth.RoleAdmin)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "VALIDATION_ERROR") {
		t.Fatalf("expected VALIDATION_ERROR, got %s", resp.Body.String())
	}
}

func TestListCommandsScopedByTenant(t *testing.T) {
	admin, _ := newHandlerFixture(t)

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		req := adminRequest(http.MethodPost, "/api/v1/commands",
			`{"deviceId":"dev-`+tenant+`","type":"REBOOT"}`, tenant, auth.RoleAdmin)
		resp := httptest.NewRecorder()
		admin.ServeHTTP(resp, req)
		if resp.Code != http.StatusCreated {
			t.Fatalf("create for %s: got %d", tenant, resp.Code)
		}
	}

	req := adminRequest(http.MethodGet, "/api/v1/commands", "", "tenant-a", auth.RoleViewer)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Count    int                  `json:"count"`
		Commands []commandSummaryJSON `json:"commands"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Commands[0].TenantID != "tenant-a" {
		t.Fatalf("expected only tenant-a commands, got %+v", body)
	}

	// Superadmin reads across tenants.
	req = adminRequest(http.MethodGet, "/api/v1/commands", "", "", auth.RoleSuperAdmin)
	resp = httptest.NewRecorder()
	admin.ServeHTTP(resp, req)
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 commands for superadmin, got %d", body.Count)
	}
}

func TestDevicePollAndAckFlow(t *testing.T) {
	admin, device := newHandlerFixture(t)
	identity := auth.DeviceIdentity{DeviceID: "dev-1", TenantID: "tenant-a"}

	create := adminRequest(http.MethodPost, "/api/v1/commands",
		`{"deviceId":"dev-1","type":"SET_VOLUME","payload":{"volume":4}}`,
		"tenant-a", auth.RoleAdmin)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, create)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create: got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	device.ServeHTTP(resp, deviceRequest("/api/v1/device/poll", "{}", identity))
	if resp.Code != http.StatusOK {
		t.Fatalf("poll: got %d", resp.Code)
	}
	var pollBody struct {
		OK      bool         `json:"ok"`
		Command *commandJSON `json:"command"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &pollBody); err != nil {
		t.Fatalf("decode poll: %v", err)
	}
	if pollBody.Command == nil || pollBody.Command.Status != "SENT" {
		t.Fatalf("expected SENT command from poll, got %+v", pollBody.Command)
	}
	if pollBody.Command.SentAt == nil {
		t.Fatalf("expected sentAt on dispatched command")
	}

	// Empty queue polls return an explicit null command.
	resp = httptest.NewRecorder()
	device.ServeHTTP(resp, deviceRequest("/api/v1/device/poll", "{}", identity))
	if !strings.Contains(resp.Body.String(), `"command":null`) {
		t.Fatalf("expected null command, got %s", resp.Body.String())
	}

	resp = httptest.NewRecorder()
	device.ServeHTTP(resp, deviceRequest("/api/v1/device/ack",
		`{"commandId":"`+pollBody.Command.ID+`","ok":true}`, identity))
	if resp.Code != http.StatusOK {
		t.Fatalf("ack: got %d: %s", resp.Code, resp.Body.String())
	}
	var ackBody struct {
		Command commandJSON `json:"command"`
		Note    string      `json:"note"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &ackBody); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ackBody.Command.Status != "ACKED" || ackBody.Note != "" {
		t.Fatalf("unexpected ack body %+v", ackBody)
	}

	// Replaying the ack reports the already-settled state.
	resp = httptest.NewRecorder()
	device.ServeHTTP(resp, deviceRequest("/api/v1/device/ack",
		`{"commandId":"`+pollBody.Command.ID+`","ok":false,"error":"late"}`, identity))
	if err := json.Unmarshal(resp.Body.Bytes(), &ackBody); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if ackBody.Note != commandsapp.NoteAlreadyFinalized || ackBody.Command.Status != "ACKED" {
		t.Fatalf("expected idempotent replay, got %+v", ackBody)
	}
}

func TestDeviceAckUnknownCommand(t *testing.T) {
	_, device := newHandlerFixture(t)
	identity := auth.DeviceIdentity{DeviceID: "dev-1", TenantID: "tenant-a"}

	resp := httptest.NewRecorder()
	device.ServeHTTP(resp, deviceRequest("/api/v1/device/ack", `{"commandId":"cmd-missing","ok":true}`, identity))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSummaryEndpoint(t *testing.T) {
	admin, device := newHandlerFixture(t)
	identity := auth.DeviceIdentity{DeviceID: "dev-1", TenantID: "tenant-a"}

	create := adminRequest(http.MethodPost, "/api/v1/commands",
		`{"deviceId":"dev-1","type":"REBOOT"}`, "tenant-a", auth.RoleAdmin)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, create)

	resp = httptest.NewRecorder()
	device.ServeHTTP(resp, deviceRequest("/api/v1/device/poll", "{}", identity))

	req := adminRequest(http.MethodGet, "/api/v1/commands/summary", "", "tenant-a", auth.RoleViewer)
	resp = httptest.NewRecorder()
	admin.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var summary map[string]int
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary["SENT"] != 1 {
		t.Fatalf("expected one SENT, got %+v", summary)
	}
}

func TestCommandJSONLegacyErrorAlias(t *testing.T) {
	admin, device := newHandlerFixture(t)
	identity := auth.DeviceIdentity{DeviceID: "dev-1", TenantID: "tenant-a"}

	create := adminRequest(http.MethodPost, "/api/v1/commands",
		`{"deviceId":"dev-1","type":"REBOOT"}`, "tenant-a", auth.RoleAdmin)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, create)

	resp = httptest.NewRecorder()
	device.ServeHTTP(resp, deviceRequest("/api/v1/device/poll", "{}", identity))
	var pollBody struct {
		Command commandJSON `json:"command"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &pollBody); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp = httptest.NewRecorder()
	device.ServeHTTP(resp, deviceRequest("/api/v1/device/ack",
		`{"commandId":"`+pollBody.Command.ID+`","ok":false,"error":"speaker jam"}`, identity))

	var raw map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	cmd, _ := raw["command"].(map[string]any)
	if cmd["lastError"] != "speaker jam" || cmd["error"] != "speaker jam" {
		t.Fatalf("expected lastError mirrored into legacy error field, got %+v", cmd)
	}
}

func TestStuckEndpointValidatesMinutes(t *testing.T) {
	admin, _ := newHandlerFixture(t)

	req := adminRequest(http.MethodGet, "/api/v1/commands/stuck?minutes=abc", "", "tenant-a", auth.RoleViewer)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	req = adminRequest(http.MethodGet, "/api/v1/commands/stuck?minutes=10", "", "tenant-a", auth.RoleViewer)
	resp = httptest.NewRecorder()
	admin.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Minutes int `json:"minutes"`
		Count   int `json:"count"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Minutes != 10 || body.Count != 0 {
		t.Fatalf("unexpected stuck body %+v", body)
	}
}

func TestExportEndpointsProduceFiles(t *testing.T) {
	admin, _ := newHandlerFixture(t)

	create := adminRequest(http.MethodPost, "/api/v1/commands",
		`{"deviceId":"dev-1","type":"REBOOT"}`, "tenant-a", auth.RoleAdmin)
	resp := httptest.NewRecorder()
	admin.ServeHTTP(resp, create)

	req := adminRequest(http.MethodGet, "/api/v1/commands/export.xlsx", "", "tenant-a", auth.RoleAdmin)
	resp = httptest.NewRecorder()
	admin.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || resp.Body.Len() == 0 {
		t.Fatalf("xlsx export: code=%d len=%d", resp.Code, resp.Body.Len())
	}

	req = adminRequest(http.MethodGet, "/api/v1/commands/export.pdf", "", "tenant-a", auth.RoleAdmin)
	resp = httptest.NewRecorder()
	admin.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || resp.Body.Len() == 0 {
		t.Fatalf("pdf export: code=%d len=%d", resp.Code, resp.Body.Len())
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected pdf content type, got %q", ct)
	}
}
