package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kovacsmedia/SchoolLive-backend/internal/audit"
	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	devicesapp "github.com/kovacsmedia/SchoolLive-backend/internal/devices/application"
	devices "github.com/kovacsmedia/SchoolLive-backend/internal/devices/domain"
)

// BeaconHandler serves the device heartbeat endpoint. The device key
// middleware authenticates the caller before requests reach it.
type BeaconHandler struct {
	service *devicesapp.Service
}

// NewBeaconHandler constructs a handler.
func NewBeaconHandler(service *devicesapp.Service) (*BeaconHandler, error) {
	if service == nil {
		return nil, errors.New("beacon handler: nil service")
	}
	return &BeaconHandler{service: service}, nil
}

type beaconRequest struct {
	FirmwareVersion *string         `json:"firmwareVersion"`
	Volume          *int            `json:"volume"`
	Muted           *bool           `json:"muted"`
	Status          json.RawMessage `json:"status"`
}

// ServeHTTP handles POST /api/v1/device/beacon.
func (h *BeaconHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	identity, ok := auth.DeviceFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "UNAUTHORIZED"})
		return
	}

	var req beaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "VALIDATION_ERROR", "details": "invalid json"})
		return
	}

	device, err := h.service.Beacon(r.Context(), identity.DeviceID, devicesapp.BeaconInput{
		IPAddress:       audit.ClientIP(r),
		FirmwareVersion: req.FirmwareVersion,
		Volume:          req.Volume,
		Muted:           req.Muted,
		StatusPayload:   req.Status,
	})
	if err != nil {
		if errors.Is(err, devices.ErrNotFound) {
			respondJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "DEVICE_NOT_FOUND"})
			return
		}
		respondJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "INTERNAL_ERROR"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"volume": device.Volume,
		"muted":  device.Muted,
	})
}
