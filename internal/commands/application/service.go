package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
	"github.com/kovacsmedia/SchoolLive-backend/internal/observability/metrics"
)

const (
	// CommandTypeSetVolume adjusts a device's playback volume.
	CommandTypeSetVolume = "SET_VOLUME"

	volumeMin = 0
	volumeMax = 10

	defaultStuckMinutes = 5
	listLimit           = 100
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// DeviceChecker validates device tenant ownership.
type DeviceChecker interface {
	EnsureDeviceTenant(ctx context.Context, tenantID, deviceID string) error
}

// Service implements command admission, dispatch and acknowledgment.
type Service struct {
	repo    commands.Repository
	devices DeviceChecker
	policy  Policy
	clock   Clock
	logger  *log.Logger
}

// NewService constructs the command service.
func NewService(repo commands.Repository, devices DeviceChecker, policy Policy, clock Clock, logger *log.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("commands: nil repo")
	}
	if devices == nil {
		return nil, errors.New("commands: nil device checker")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{repo: repo, devices: devices, policy: policy, clock: clock, logger: logger}, nil
}

// Create enqueues a new command for a device. At most one QUEUED or SENT
// command may exist per device; a second creation fails with *ConflictError.
func (s *Service) Create(ctx context.Context, tenantID, deviceID string, payload json.RawMessage) (*commands.Command, error) {
	if tenantID == "" {
		return nil, &commands.ValidationError{Field: "tenantId", Detail: "required"}
	}
	if deviceID == "" {
		return nil, &commands.ValidationError{Field: "deviceId", Detail: "required"}
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	if err := s.devices.EnsureDeviceTenant(ctx, tenantID, deviceID); err != nil {
		if errors.Is(err, auth.ErrNotFound) || errors.Is(err, auth.ErrTenantMismatch) {
			return nil, commands.ErrDeviceNotFound
		}
		return nil, err
	}

	cmd := &commands.Command{
		ID:         "cmd-" + uuid.NewString(),
		TenantID:   tenantID,
		DeviceID:   deviceID,
		Payload:    payload,
		Status:     commands.StatusQueued,
		QueuedAt:   s.clock.Now().UTC(),
		MaxRetries: s.policy.RetriesFor(tenantID),
	}
	if err := s.repo.CreateIfIdle(ctx, cmd); err != nil {
		return nil, err
	}
	metrics.IncCommandCreated()
	return cmd, nil
}

// List returns the most recent commands visible to the tenant scope, newest
// first. An empty tenantID selects all tenants.
func (s *Service) List(ctx context.Context, tenantID string) ([]commands.Command, error) {
	return s.repo.List(ctx, tenantID, listLimit)
}

// Summary groups visible commands by status.
func (s *Service) Summary(ctx context.Context, tenantID string) (map[commands.Status]int, error) {
	return s.repo.CountByStatus(ctx, tenantID)
}

// Stuck returns SENT commands that have awaited an ack for longer than the
// given number of minutes (default 5).
func (s *Service) Stuck(ctx context.Context, tenantID string, minutes int) ([]commands.Command, error) {
	if minutes <= 0 {
		minutes = defaultStuckMinutes
	}
	threshold := s.clock.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	return s.repo.ListStuckSent(ctx, tenantID, threshold)
}

func validatePayload(payload json.RawMessage) error {
	if len(payload) == 0 {
		return &commands.ValidationError{Field: "payload", Detail: "must be a JSON object"}
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return &commands.ValidationError{Field: "payload", Detail: "must be a JSON object"}
	}
	commandType, _ := fields["type"].(string)
	if commandType == "" {
		return &commands.ValidationError{Field: "payload.type", Detail: "required"}
	}
	if commandType == CommandTypeSetVolume {
		volume, ok := fields["volume"].(float64)
		if !ok || volume < volumeMin || volume > volumeMax {
			return &commands.ValidationError{Field: "payload.volume", Detail: "must be a number between 0 and 10"}
		}
	}
	return nil
}
