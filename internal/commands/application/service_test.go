package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kovacsmedia/SchoolLive-backend/internal/auth"
	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
	"github.com/kovacsmedia/SchoolLive-backend/internal/commands/infrastructure/memory"
)

func TestCreateRejectsInvalidPayload(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		payload json.RawMessage
		field   string
	}{
		{"empty payload", nil, "payload"},
		{"non-object payload", json.RawMessage(`[1,2]`), "payload"},
		{"missing type", json.RawMessage(`{"volume":5}`), "payload.type"},
		{"volume too high", json.RawMessage(`{"type":"SET_VOLUME","volume":11}`), "payload.volume"},
		{"volume not a number", json.RawMessage(`{"type":"SET_VOLUME","volume":"loud"}`), "payload.volume"},
	}
	for _, tc := range cases {
		_, err := svc.Create(ctx, "tenant-a", "dev-1", tc.payload)
		var validation *commands.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
		if validation.Field != tc.field {
			t.Fatalf("%s: expected field %q, got %q", tc.name, tc.field, validation.Field)
		}
	}
}

func TestCreateRejectsSecondActiveCommand(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(5))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err = svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(6))
	var conflict *commands.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if conflict.ExistingID != first.ID {
		t.Fatalf("expected conflict with %s, got %s", first.ID, conflict.ExistingID)
	}
	if conflict.ExistingStatus != commands.StatusQueued {
		t.Fatalf("expected QUEUED conflict, got %s", conflict.ExistingStatus)
	}
}

func TestCreateAllowedAfterFinalization(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(5))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Poll(ctx, "tenant-a", "dev-1"); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if _, _, err := svc.Ack(ctx, "tenant-a", "dev-1", first.ID, true, ""); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if _, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(6)); err != nil {
		t.Fatalf("create after ack: %v", err)
	}
}

type rejectingDevices struct {
	err error
}

func (r rejectingDevices) EnsureDeviceTenant(_ context.Context, _, _ string) error { return r.err }

func TestCreateUnknownDevice(t *testing.T) {
	for _, cause := range []error{auth.ErrNotFound, auth.ErrTenantMismatch} {
		svc, err := NewService(memory.NewCommandRepository(), rejectingDevices{err: cause}, DefaultPolicy(), nil, nil)
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		_, err = svc.Create(context.Background(), "tenant-a", "dev-missing", setVolumePayload(5))
		if !errors.Is(err, commands.ErrDeviceNotFound) {
			t.Fatalf("expected ErrDeviceNotFound for %v, got %v", cause, err)
		}
	}
}

func TestCreateUsesTenantRetryOverride(t *testing.T) {
	override := 7
	policy := DefaultPolicy()
	policy.Tenants = map[string]TenantPolicy{"tenant-b": {MaxRetries: &override}}

	svc, err := NewService(memory.NewCommandRepository(), allowAllDevices{}, policy, nil, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cmd, err := svc.Create(context.Background(), "tenant-b", "dev-1", setVolumePayload(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cmd.MaxRetries != override {
		t.Fatalf("expected maxRetries %d, got %d", override, cmd.MaxRetries)
	}

	cmd, err = svc.Create(context.Background(), "tenant-a", "dev-2", setVolumePayload(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cmd.MaxRetries != commands.DefaultMaxRetries {
		t.Fatalf("expected default maxRetries, got %d", cmd.MaxRetries)
	}
}

func TestAckFinalizesCommand(t *testing.T) {
	svc, _, clock := newDispatchFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Poll(ctx, "tenant-a", "dev-1"); err != nil {
		t.Fatalf("poll: %v", err)
	}

	acked, note, err := svc.Ack(ctx, "tenant-a", "dev-1", created.ID, true, "")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if note != "" {
		t.Fatalf("expected no note, got %q", note)
	}
	if acked.Status != commands.StatusAcked {
		t.Fatalf("expected ACKED, got %s", acked.Status)
	}
	if acked.LastError != "" {
		t.Fatalf("expected cleared lastError, got %q", acked.LastError)
	}
	if !acked.AckedAt.Equal(clock.Now()) {
		t.Fatalf("expected ackedAt %s, got %s", clock.Now(), acked.AckedAt)
	}
}

func TestAckFailureRecordsError(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Poll(ctx, "tenant-a", "dev-1"); err != nil {
		t.Fatalf("poll: %v", err)
	}

	failed, _, err := svc.Ack(ctx, "tenant-a", "dev-1", created.ID, false, "amplifier offline")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if failed.Status != commands.StatusFailed {
		t.Fatalf("expected FAILED, got %s", failed.Status)
	}
	if failed.LastError != "amplifier offline" {
		t.Fatalf("unexpected lastError %q", failed.LastError)
	}
}

func TestAckFailureDefaultsErrorText(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Poll(ctx, "tenant-a", "dev-1"); err != nil {
		t.Fatalf("poll: %v", err)
	}

	failed, _, err := svc.Ack(ctx, "tenant-a", "dev-1", created.ID, false, "")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if failed.LastError != "Device reported error" {
		t.Fatalf("unexpected lastError %q", failed.LastError)
	}
}

func TestAckIsIdempotent(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Poll(ctx, "tenant-a", "dev-1"); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if _, _, err := svc.Ack(ctx, "tenant-a", "dev-1", created.ID, true, ""); err != nil {
		t.Fatalf("first ack: %v", err)
	}

	// A replayed failure ack must not flip the settled outcome.
	replayed, note, err := svc.Ack(ctx, "tenant-a", "dev-1", created.ID, false, "late failure")
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if note != NoteAlreadyFinalized {
		t.Fatalf("expected %q note, got %q", NoteAlreadyFinalized, note)
	}
	if replayed.Status != commands.StatusAcked {
		t.Fatalf("expected status to remain ACKED, got %s", replayed.Status)
	}
	if replayed.LastError != "" {
		t.Fatalf("expected lastError unchanged, got %q", replayed.LastError)
	}
}

func TestAckUnknownCommand(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	_, _, err := svc.Ack(ctx, "tenant-a", "dev-1", "cmd-missing", true, "")
	if !errors.Is(err, commands.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, _, err = svc.Ack(ctx, "tenant-a", "dev-1", "", true, "")
	var validation *commands.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
}

func TestAckScopedToOwningDevice(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Poll(ctx, "tenant-a", "dev-1"); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if _, _, err := svc.Ack(ctx, "tenant-b", "dev-1", created.ID, true, ""); !errors.Is(err, commands.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
	if _, _, err := svc.Ack(ctx, "tenant-a", "dev-2", created.ID, true, ""); !errors.Is(err, commands.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign device, got %v", err)
	}
}

func TestListAndSummaryScoping(t *testing.T) {
	svc, _, _ := newDispatchFixture(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "tenant-a", "dev-1", setVolumePayload(5)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, "tenant-b", "dev-2", setVolumePayload(5)); err != nil {
		t.Fatalf("create: %v", err)
	}

	scoped, err := svc.List(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scoped) != 1 || scoped[0].TenantID != "tenant-a" {
		t.Fatalf("expected one tenant-a command, got %+v", scoped)
	}

	all, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 commands in global scope, got %d", len(all))
	}

	summary, err := svc.Summary(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary[commands.StatusQueued] != 1 {
		t.Fatalf("expected 1 queued in tenant-a summary, got %+v", summary)
	}
}

func TestStuckUsesDefaultWindow(t *testing.T) {
	svc, repo, clock := newDispatchFixture(t)
	ctx := context.Background()

	start := clock.Now()
	repo.Put(&commands.Command{
		ID:       "cmd-stuck",
		TenantID: "tenant-a",
		DeviceID: "dev-1",
		Status:   commands.StatusSent,
		QueuedAt: start.Add(-10 * time.Minute),
		SentAt:   start.Add(-6 * time.Minute),
	})
	repo.Put(&commands.Command{
		ID:       "cmd-fresh",
		TenantID: "tenant-a",
		DeviceID: "dev-2",
		Status:   commands.StatusSent,
		QueuedAt: start.Add(-2 * time.Minute),
		SentAt:   start.Add(-2 * time.Minute),
	})

	stuck, err := svc.Stuck(ctx, "tenant-a", 0)
	if err != nil {
		t.Fatalf("stuck: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "cmd-stuck" {
		t.Fatalf("expected only cmd-stuck past the 5m default, got %+v", stuck)
	}
}
