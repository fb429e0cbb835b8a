package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
)

// CommandRepository is a mutex-guarded in-memory command store. It preserves
// the same conditional-update semantics as the Postgres store, so the
// dispatch state machine behaves identically under test.
type CommandRepository struct {
	mu   sync.Mutex
	data map[string]*commands.Command
}

// NewCommandRepository constructs a repository.
func NewCommandRepository() *CommandRepository {
	return &CommandRepository{data: make(map[string]*commands.Command)}
}

// CreateIfIdle inserts cmd unless the device already has an active command.
func (r *CommandRepository) CreateIfIdle(ctx context.Context, cmd *commands.Command) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var existing *commands.Command
	for _, candidate := range r.data {
		if candidate.TenantID != cmd.TenantID || candidate.DeviceID != cmd.DeviceID {
			continue
		}
		if !candidate.Active() {
			continue
		}
		if existing == nil || candidate.QueuedAt.After(existing.QueuedAt) {
			existing = candidate
		}
	}
	if existing != nil {
		return &commands.ConflictError{
			ExistingID:     existing.ID,
			ExistingStatus: existing.Status,
			QueuedAt:       existing.QueuedAt,
		}
	}
	r.data[cmd.ID] = cmd.Clone()
	return nil
}

// Put stores a command as-is, bypassing admission. Lets tests set up the
// repaired states the reconciler deals with.
func (r *CommandRepository) Put(cmd *commands.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[cmd.ID] = cmd.Clone()
}

// GetForDevice loads a command scoped to (tenant, device).
func (r *CommandRepository) GetForDevice(ctx context.Context, tenantID, deviceID, id string) (*commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.data[id]
	if !ok || cmd.TenantID != tenantID || cmd.DeviceID != deviceID {
		return nil, nil
	}
	return cmd.Clone(), nil
}

// ListSent returns all SENT commands for a device, oldest queue time first.
func (r *CommandRepository) ListSent(ctx context.Context, tenantID, deviceID string) ([]commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []commands.Command
	for _, cmd := range r.data {
		if cmd.TenantID == tenantID && cmd.DeviceID == deviceID && cmd.Status == commands.StatusSent {
			result = append(result, *cmd.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].QueuedAt.Equal(result[j].QueuedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].QueuedAt.Before(result[j].QueuedAt)
	})
	return result, nil
}

// OldestSent returns the SENT command with the earliest send time.
func (r *CommandRepository) OldestSent(ctx context.Context, tenantID, deviceID string) (*commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *commands.Command
	for _, cmd := range r.data {
		if cmd.TenantID != tenantID || cmd.DeviceID != deviceID || cmd.Status != commands.StatusSent {
			continue
		}
		if oldest == nil || sentBefore(cmd, oldest) {
			oldest = cmd
		}
	}
	return oldest.Clone(), nil
}

// OldestQueued returns the QUEUED command with the earliest queue time.
func (r *CommandRepository) OldestQueued(ctx context.Context, tenantID, deviceID string) (*commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *commands.Command
	for _, cmd := range r.data {
		if cmd.TenantID != tenantID || cmd.DeviceID != deviceID || cmd.Status != commands.StatusQueued {
			continue
		}
		if oldest == nil || cmd.QueuedAt.Before(oldest.QueuedAt) ||
			(cmd.QueuedAt.Equal(oldest.QueuedAt) && cmd.ID < oldest.ID) {
			oldest = cmd
		}
	}
	return oldest.Clone(), nil
}

// Requeue demotes SENT commands back to QUEUED.
func (r *CommandRepository) Requeue(ctx context.Context, tenantID string, ids []string, note string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		cmd, ok := r.data[id]
		if !ok || cmd.TenantID != tenantID || cmd.Status != commands.StatusSent {
			continue
		}
		cmd.Status = commands.StatusQueued
		cmd.SentAt = time.Time{}
		cmd.LastError = note
	}
	return nil
}

// PromoteIfQueued transitions QUEUED -> SENT.
func (r *CommandRepository) PromoteIfQueued(ctx context.Context, tenantID, id string, sentAt time.Time) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.data[id]
	if !ok || cmd.TenantID != tenantID || cmd.Status != commands.StatusQueued {
		return false, nil
	}
	cmd.Status = commands.StatusSent
	cmd.SentAt = sentAt
	return true, nil
}

// RetryIfSent increments the retry count and refreshes the send time.
func (r *CommandRepository) RetryIfSent(ctx context.Context, tenantID, id string, sentAt time.Time, note string) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.data[id]
	if !ok || cmd.TenantID != tenantID || cmd.Status != commands.StatusSent {
		return false, nil
	}
	cmd.RetryCount++
	cmd.SentAt = sentAt
	cmd.LastError = note
	return true, nil
}

// FailIfSent transitions SENT -> FAILED.
func (r *CommandRepository) FailIfSent(ctx context.Context, tenantID, id string, ackedAt time.Time, note string) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.data[id]
	if !ok || cmd.TenantID != tenantID || cmd.Status != commands.StatusSent {
		return false, nil
	}
	cmd.Status = commands.StatusFailed
	cmd.AckedAt = ackedAt
	cmd.LastError = note
	return true, nil
}

// FinalizeIfActive transitions a non-terminal command to a terminal status.
func (r *CommandRepository) FinalizeIfActive(ctx context.Context, tenantID, id string, status commands.Status, ackedAt time.Time, lastError string) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.data[id]
	if !ok || cmd.TenantID != tenantID || !cmd.Active() {
		return false, nil
	}
	cmd.Status = status
	cmd.AckedAt = ackedAt
	cmd.LastError = lastError
	return true, nil
}

// List returns the most recent commands, newest queue time first.
func (r *CommandRepository) List(ctx context.Context, tenantID string, limit int) ([]commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []commands.Command
	for _, cmd := range r.data {
		if tenantID != "" && cmd.TenantID != tenantID {
			continue
		}
		result = append(result, *cmd.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].QueuedAt.Equal(result[j].QueuedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].QueuedAt.After(result[j].QueuedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountByStatus groups commands by status.
func (r *CommandRepository) CountByStatus(ctx context.Context, tenantID string) (map[commands.Status]int, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[commands.Status]int)
	for _, cmd := range r.data {
		if tenantID != "" && cmd.TenantID != tenantID {
			continue
		}
		counts[cmd.Status]++
	}
	return counts, nil
}

// ListStuckSent returns unacknowledged SENT commands sent before the threshold.
func (r *CommandRepository) ListStuckSent(ctx context.Context, tenantID string, before time.Time) ([]commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []commands.Command
	for _, cmd := range r.data {
		if tenantID != "" && cmd.TenantID != tenantID {
			continue
		}
		if cmd.Status != commands.StatusSent || cmd.SentAt.IsZero() || !cmd.SentAt.Before(before) {
			continue
		}
		result = append(result, *cmd.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SentAt.Before(result[j].SentAt)
	})
	return result, nil
}

func sentBefore(a, b *commands.Command) bool {
	// A zero send time sorts first; it is treated as infinitely old.
	if a.SentAt.IsZero() {
		return true
	}
	if b.SentAt.IsZero() {
		return false
	}
	return a.SentAt.Before(b.SentAt)
}
