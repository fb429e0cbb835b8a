package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	"github.com/kovacsmedia/SchoolLive-backend/internal/devices/infrastructure/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newDeviceFixture(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := NewService(memory.NewDeviceRepository(), clock)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, clock
}

func TestRegisterIssuesOneTimeKey(t *testing.T) {
	svc, _ := newDeviceFixture(t)
	ctx := context.Background()

	device, key, err := svc.Register(ctx, "tenant-a", "Gym Speaker")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.HasPrefix(key, device.ID+":") {
		t.Fatalf("expected key prefixed with device id, got %q", key)
	}
	if device.DeviceKeyHash == "" || strings.Contains(key, device.DeviceKeyHash) {
		t.Fatalf("expected stored hash distinct from plaintext key")
	}

	identity, err := svc.VerifyDeviceKey(ctx, key)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.DeviceID != device.ID || identity.TenantID != "tenant-a" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestVerifyDeviceKeyRejectsBadSecrets(t *testing.T) {
	svc, _ := newDeviceFixture(t)
	ctx := context.Background()

	device, _, err := svc.Register(ctx, "tenant-a", "Gym Speaker")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, key := range []string{"", "no-colon", device.ID + ":", device.ID + ":wrong", "dev-missing:secret"} {
		if _, err := svc.VerifyDeviceKey(ctx, key); !errors.Is(err, auth.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %q, got %v", key, err)
		}
	}
}

func TestBeaconUpdatesPresence(t *testing.T) {
	svc, clock := newDeviceFixture(t)
	ctx := context.Background()

	device, _, err := svc.Register(ctx, "tenant-a", "Gym Speaker")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	firmware := "2.4.1"
	volume := 8
	muted := true
	updated, err := svc.Beacon(ctx, device.ID, BeaconInput{
		IPAddress:       "10.0.0.12",
		FirmwareVersion: &firmware,
		Volume:          &volume,
		Muted:           &muted,
		StatusPayload:   []byte(`{"nowPlaying":"bell"}`),
	})
	if err != nil {
		t.Fatalf("beacon: %v", err)
	}
	if updated.FirmwareVersion != "2.4.1" || updated.Volume != 8 || !updated.Muted {
		t.Fatalf("heartbeat fields not applied: %+v", updated)
	}
	if !updated.LastSeenAt.Equal(clock.Now()) {
		t.Fatalf("expected lastSeenAt %s, got %s", clock.Now(), updated.LastSeenAt)
	}

	health, err := svc.Health(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if len(health) != 1 || health[0].Status != "ONLINE" {
		t.Fatalf("expected ONLINE right after beacon, got %+v", health)
	}

	clock.Advance(31 * time.Second)
	health, err = svc.Health(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health[0].Status != "OFFLINE" {
		t.Fatalf("expected OFFLINE after threshold, got %+v", health[0])
	}
	if health[0].SecondsSinceLastSeen == nil || *health[0].SecondsSinceLastSeen != 31 {
		t.Fatalf("unexpected secondsSinceLastSeen: %+v", health[0].SecondsSinceLastSeen)
	}
}

func TestHealthNeverSeenDevice(t *testing.T) {
	svc, _ := newDeviceFixture(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "tenant-a", "Silent Speaker"); err != nil {
		t.Fatalf("register: %v", err)
	}

	health, err := svc.Health(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if len(health) != 1 || health[0].Status != "OFFLINE" || health[0].SecondsSinceLastSeen != nil {
		t.Fatalf("expected OFFLINE with no last-seen, got %+v", health[0])
	}
}

func TestEnsureDeviceTenantScoping(t *testing.T) {
	svc, _ := newDeviceFixture(t)
	ctx := context.Background()

	device, _, err := svc.Register(ctx, "tenant-a", "Gym Speaker")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.EnsureDeviceTenant(ctx, "tenant-a", device.ID); err != nil {
		t.Fatalf("expected owning tenant allowed, got %v", err)
	}
	if err := svc.EnsureDeviceTenant(ctx, "tenant-b", device.ID); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
	if err := svc.EnsureDeviceTenant(ctx, "tenant-a", "dev-missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown device, got %v", err)
	}
}
