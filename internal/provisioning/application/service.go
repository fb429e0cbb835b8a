package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	devicesapp "github.com/kovacsmedia/SchoolLive-backend/internal/devices/application"
	devices "github.com/kovacsmedia/SchoolLive-backend/internal/devices/domain"
	provisioning "github.com/kovacsmedia/SchoolLive-backend/internal/provisioning/domain"
)

const sessionTokenBytes = 32

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock uses the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// StartResult is the outcome of a started provisioning session.
type StartResult struct {
	SessionToken string
	DeviceID     string
	ExpiresAt    time.Time
}

// ConfirmResult carries the permanent credentials issued on confirm.
type ConfirmResult struct {
	DeviceID  string
	DeviceKey string
}

// Service runs the two-step install handshake: an installer proves
// possession of the factory install code, then the device redeems the
// session for its permanent key.
type Service struct {
	devices devices.Repository
	store   provisioning.SessionStore
	clock   Clock
}

// NewService constructs a provisioning service.
func NewService(deviceRepo devices.Repository, store provisioning.SessionStore, clock Clock) (*Service, error) {
	if deviceRepo == nil {
		return nil, errors.New("provisioning: nil device repo")
	}
	if store == nil {
		return nil, errors.New("provisioning: nil session store")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{devices: deviceRepo, store: store, clock: clock}, nil
}

// Start verifies the serial/install-code pair and opens a session.
func (s *Service) Start(ctx context.Context, serial, installCode string) (*StartResult, error) {
	if serial == "" || installCode == "" {
		return nil, provisioning.ErrInvalidInstallCode
	}

	device, err := s.devices.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	if device == nil || device.InstallCodeHash == "" {
		return nil, provisioning.ErrInvalidInstallCode
	}
	if err := bcrypt.CompareHashAndPassword([]byte(device.InstallCodeHash), []byte(installCode)); err != nil {
		return nil, provisioning.ErrInvalidInstallCode
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := provisioning.Session{
		Token:     token,
		DeviceID:  device.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(provisioning.SessionTTL),
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}

	return &StartResult{SessionToken: token, DeviceID: device.ID, ExpiresAt: session.ExpiresAt}, nil
}

// Confirm redeems a session and rotates the device key. Each session is
// single-use; a second confirm with the same token reports expiry.
func (s *Service) Confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	if token == "" {
		return nil, provisioning.ErrSessionNotFound
	}

	session, err := s.store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, provisioning.ErrSessionNotFound
	}
	if !session.Redeemable(s.clock.Now()) {
		return nil, provisioning.ErrSessionExpired
	}

	used, err := s.store.MarkUsed(ctx, token)
	if err != nil {
		return nil, err
	}
	if !used {
		return nil, provisioning.ErrSessionExpired
	}

	device, err := s.devices.Get(ctx, session.DeviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, devices.ErrNotFound
	}

	key, hash, err := devicesapp.NewDeviceKey(device.ID)
	if err != nil {
		return nil, err
	}
	if _, err := s.devices.UpdateKey(ctx, device.ID, device.Name, hash); err != nil {
		return nil, err
	}

	return &ConfirmResult{DeviceID: device.ID, DeviceKey: key}, nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
