package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	devices "github.com/kovacsmedia/SchoolLive-backend/internal/devices/domain"
	"github.com/kovacsmedia/SchoolLive-backend/internal/observability/metrics"
)

const deviceKeySecretBytes = 24

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// BeaconInput is a heartbeat report from a device.
type BeaconInput struct {
	IPAddress       string
	FirmwareVersion *string
	Volume          *int
	Muted           *bool
	StatusPayload   []byte
}

// Service manages the device registry and device key verification.
type Service struct {
	repo  devices.Repository
	clock Clock
}

// NewService constructs a device service.
func NewService(repo devices.Repository, clock Clock) (*Service, error) {
	if repo == nil {
		return nil, errors.New("devices: nil repo")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{repo: repo, clock: clock}, nil
}

// Register creates a device and returns it with a one-time plaintext key.
// The key is shown exactly once; only its bcrypt hash is stored.
func (s *Service) Register(ctx context.Context, tenantID, name string) (*devices.Device, string, error) {
	if tenantID == "" {
		return nil, "", errors.New("devices: tenant id required")
	}
	if name == "" {
		return nil, "", errors.New("devices: name required")
	}

	device := &devices.Device{
		ID:        "dev-" + uuid.NewString(),
		TenantID:  tenantID,
		Name:      name,
		Volume:    devices.DefaultVolume,
		CreatedAt: s.clock.Now().UTC(),
	}
	key, hash, err := NewDeviceKey(device.ID)
	if err != nil {
		return nil, "", err
	}
	device.DeviceKeyHash = hash
	if err := s.repo.Create(ctx, device); err != nil {
		return nil, "", err
	}
	return device, key, nil
}

// List returns devices visible to the tenant scope, newest first.
func (s *Service) List(ctx context.Context, tenantID string) ([]devices.Device, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// Health returns presence snapshots for the tenant's devices.
func (s *Service) Health(ctx context.Context, tenantID string) ([]devices.Health, error) {
	list, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	result := make([]devices.Health, 0, len(list))
	for _, device := range list {
		result = append(result, devices.HealthOf(device, now))
	}
	return result, nil
}

// Beacon applies a heartbeat report from an authenticated device.
func (s *Service) Beacon(ctx context.Context, deviceID string, input BeaconInput) (*devices.Device, error) {
	updated, err := s.repo.UpdateHeartbeat(ctx, deviceID, devices.Heartbeat{
		SeenAt:          s.clock.Now().UTC(),
		IPAddress:       input.IPAddress,
		FirmwareVersion: input.FirmwareVersion,
		Volume:          input.Volume,
		Muted:           input.Muted,
		StatusPayload:   input.StatusPayload,
	})
	if err != nil {
		return nil, err
	}
	metrics.IncDeviceBeacon()
	return updated, nil
}

// EnsureDeviceTenant verifies the device exists in the tenant's scope.
// Out-of-tenant devices are indistinguishable from nonexistent ones.
func (s *Service) EnsureDeviceTenant(ctx context.Context, tenantID, deviceID string) error {
	device, err := s.repo.GetScoped(ctx, tenantID, deviceID)
	if err != nil {
		return err
	}
	if device == nil {
		return auth.ErrNotFound
	}
	return nil
}

// VerifyDeviceKey resolves a presented key of the form "<deviceID>:<secret>"
// to a device identity. The keyed lookup avoids scanning every device's hash.
func (s *Service) VerifyDeviceKey(ctx context.Context, key string) (auth.DeviceIdentity, error) {
	deviceID, secret, ok := strings.Cut(key, ":")
	if !ok || deviceID == "" || secret == "" {
		return auth.DeviceIdentity{}, auth.ErrUnauthorized
	}
	device, err := s.repo.Get(ctx, deviceID)
	if err != nil {
		return auth.DeviceIdentity{}, err
	}
	if device == nil || device.DeviceKeyHash == "" {
		return auth.DeviceIdentity{}, auth.ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword([]byte(device.DeviceKeyHash), []byte(secret)) != nil {
		return auth.DeviceIdentity{}, auth.ErrUnauthorized
	}
	return auth.DeviceIdentity{DeviceID: device.ID, TenantID: device.TenantID}, nil
}

// NewDeviceKey generates a device key and the hash to store for it.
func NewDeviceKey(deviceID string) (key, hash string, err error) {
	buf := make([]byte, deviceKeySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	secret := hex.EncodeToString(buf)
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}
	return deviceID + ":" + secret, string(hashed), nil
}
