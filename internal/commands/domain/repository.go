package commands

import (
	"context"
	"time"
)

// Repository is the durable command store. Every method is scoped by tenant;
// implementations must never let one tenant observe another tenant's rows.
//
// The conditional mutators (PromoteIfQueued, RetryIfSent, FailIfSent,
// FinalizeIfActive) succeed only when the row is still in the expected prior
// state and report false otherwise. That compare-and-swap discipline is what
// keeps concurrent polls from double-dispatching a command.
type Repository interface {
	// CreateIfIdle inserts cmd in a single atomic unit that first verifies the
	// device has no QUEUED or SENT command. Returns *ConflictError when one
	// exists.
	CreateIfIdle(ctx context.Context, cmd *Command) error

	// GetForDevice loads a command scoped to (tenant, device). Returns nil
	// when no such row is visible in that scope.
	GetForDevice(ctx context.Context, tenantID, deviceID, id string) (*Command, error)

	// ListSent returns all SENT commands for a device, oldest queue time first.
	ListSent(ctx context.Context, tenantID, deviceID string) ([]Command, error)

	// OldestSent returns the SENT command with the earliest send time (a zero
	// send time sorts first), or nil.
	OldestSent(ctx context.Context, tenantID, deviceID string) (*Command, error)

	// OldestQueued returns the QUEUED command with the earliest queue time, or nil.
	OldestQueued(ctx context.Context, tenantID, deviceID string) (*Command, error)

	// Requeue demotes the given SENT commands back to QUEUED, clearing their
	// send time and recording note as the last error.
	Requeue(ctx context.Context, tenantID string, ids []string, note string) error

	// PromoteIfQueued transitions QUEUED -> SENT with the given send time.
	PromoteIfQueued(ctx context.Context, tenantID, id string, sentAt time.Time) (bool, error)

	// RetryIfSent increments the retry count and stamps a fresh send time on a
	// command that is still SENT.
	RetryIfSent(ctx context.Context, tenantID, id string, sentAt time.Time, note string) (bool, error)

	// FailIfSent transitions SENT -> FAILED with the given finalization time.
	FailIfSent(ctx context.Context, tenantID, id string, ackedAt time.Time, note string) (bool, error)

	// FinalizeIfActive transitions a non-terminal command to status (ACKED or
	// FAILED). lastError is cleared when empty.
	FinalizeIfActive(ctx context.Context, tenantID, id string, status Status, ackedAt time.Time, lastError string) (bool, error)

	// List returns the most recent commands, newest queue time first. An empty
	// tenantID selects all tenants (global-scope callers only).
	List(ctx context.Context, tenantID string, limit int) ([]Command, error)

	// CountByStatus groups commands by status. Empty tenantID selects all tenants.
	CountByStatus(ctx context.Context, tenantID string) (map[Status]int, error)

	// ListStuckSent returns unacknowledged SENT commands whose send time is
	// before the threshold, oldest send time first.
	ListStuckSent(ctx context.Context, tenantID string, before time.Time) ([]Command, error)
}
