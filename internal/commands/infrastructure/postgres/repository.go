package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
)

const pgUniqueViolation = "23505"

const commandColumns = `
id, tenant_id, device_id, payload, status, queued_at, sent_at, acked_at,
	retry_count, max_retries, last_error`

// CommandRepository is the Postgres command store. State transitions are
// conditional updates guarded by the expected prior status; admission runs in
// a transaction and is additionally backed by a partial unique index on
// (tenant_id, device_id) over active rows.
type CommandRepository struct {
	db *sql.DB
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB) *CommandRepository {
	return &CommandRepository{db: db}
}

// CreateIfIdle inserts cmd unless the device already has an active command.
func (r *CommandRepository) CreateIfIdle(ctx context.Context, cmd *commands.Command) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if cmd == nil {
		return errors.New("command repo: nil command")
	}
	payload := cmd.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return errors.New("command repo: invalid payload")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
SELECT id, status, queued_at
FROM commands
WHERE tenant_id = $1 AND device_id = $2 AND status IN ('QUEUED', 'SENT')
ORDER BY queued_at DESC
LIMIT 1
FOR UPDATE`, cmd.TenantID, cmd.DeviceID)

	var existingID string
	var existingStatus string
	var existingQueuedAt time.Time
	err = row.Scan(&existingID, &existingStatus, &existingQueuedAt)
	switch {
	case err == nil:
		return &commands.ConflictError{
			ExistingID:     existingID,
			ExistingStatus: commands.Status(existingStatus),
			QueuedAt:       existingQueuedAt.UTC(),
		}
	case errors.Is(err, sql.ErrNoRows):
		// No active command; proceed with the insert.
	default:
		return err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO commands (
	id, tenant_id, device_id, payload, status, queued_at, retry_count, max_retries
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, cmd.ID, cmd.TenantID, cmd.DeviceID, payload, cmd.Status, cmd.QueuedAt, cmd.RetryCount, cmd.MaxRetries); err != nil {
		if isUniqueViolation(err) {
			// Concurrent creation won the race on the active-command index.
			return r.activeConflict(ctx, cmd.TenantID, cmd.DeviceID)
		}
		return err
	}
	return tx.Commit()
}

func (r *CommandRepository) activeConflict(ctx context.Context, tenantID, deviceID string) error {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, queued_at
FROM commands
WHERE tenant_id = $1 AND device_id = $2 AND status IN ('QUEUED', 'SENT')
ORDER BY queued_at DESC
LIMIT 1`, tenantID, deviceID)
	var id, status string
	var queuedAt time.Time
	if err := row.Scan(&id, &status, &queuedAt); err != nil {
		return &commands.ConflictError{}
	}
	return &commands.ConflictError{
		ExistingID:     id,
		ExistingStatus: commands.Status(status),
		QueuedAt:       queuedAt.UTC(),
	}
}

// GetForDevice loads a command scoped to (tenant, device).
func (r *CommandRepository) GetForDevice(ctx context.Context, tenantID, deviceID, id string) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+commandColumns+`
FROM commands
WHERE id = $1 AND tenant_id = $2 AND device_id = $3
LIMIT 1`, id, tenantID, deviceID)
	return scanCommand(row)
}

// ListSent returns all SENT commands for a device, oldest queue time first.
func (r *CommandRepository) ListSent(ctx context.Context, tenantID, deviceID string) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+commandColumns+`
FROM commands
WHERE tenant_id = $1 AND device_id = $2 AND status = 'SENT'
ORDER BY queued_at ASC`, tenantID, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCommands(rows)
}

// OldestSent returns the SENT command with the earliest send time; a NULL
// send time sorts first.
func (r *CommandRepository) OldestSent(ctx context.Context, tenantID, deviceID string) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+commandColumns+`
FROM commands
WHERE tenant_id = $1 AND device_id = $2 AND status = 'SENT'
ORDER BY sent_at ASC NULLS FIRST
LIMIT 1`, tenantID, deviceID)
	return scanCommand(row)
}

// OldestQueued returns the QUEUED command with the earliest queue time.
func (r *CommandRepository) OldestQueued(ctx context.Context, tenantID, deviceID string) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+commandColumns+`
FROM commands
WHERE tenant_id = $1 AND device_id = $2 AND status = 'QUEUED'
ORDER BY queued_at ASC
LIMIT 1`, tenantID, deviceID)
	return scanCommand(row)
}

// Requeue demotes SENT commands back to QUEUED.
func (r *CommandRepository) Requeue(ctx context.Context, tenantID string, ids []string, note string) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE commands
SET status = 'QUEUED', sent_at = NULL, last_error = $3
WHERE tenant_id = $1 AND id = ANY($2) AND status = 'SENT'`, tenantID, ids, note)
	return err
}

// PromoteIfQueued transitions QUEUED -> SENT.
func (r *CommandRepository) PromoteIfQueued(ctx context.Context, tenantID, id string, sentAt time.Time) (bool, error) {
	return r.conditional(ctx, `
UPDATE commands
SET status = 'SENT', sent_at = $3
WHERE tenant_id = $1 AND id = $2 AND status = 'QUEUED'`, tenantID, id, sentAt)
}

// RetryIfSent increments the retry count and refreshes the send time.
func (r *CommandRepository) RetryIfSent(ctx context.Context, tenantID, id string, sentAt time.Time, note string) (bool, error) {
	return r.conditional(ctx, `
UPDATE commands
SET retry_count = retry_count + 1, sent_at = $3, last_error = $4
WHERE tenant_id = $1 AND id = $2 AND status = 'SENT'`, tenantID, id, sentAt, note)
}

// FailIfSent transitions SENT -> FAILED.
func (r *CommandRepository) FailIfSent(ctx context.Context, tenantID, id string, ackedAt time.Time, note string) (bool, error) {
	return r.conditional(ctx, `
UPDATE commands
SET status = 'FAILED', acked_at = $3, last_error = $4
WHERE tenant_id = $1 AND id = $2 AND status = 'SENT'`, tenantID, id, ackedAt, note)
}

// FinalizeIfActive transitions a non-terminal command to a terminal status.
func (r *CommandRepository) FinalizeIfActive(ctx context.Context, tenantID, id string, status commands.Status, ackedAt time.Time, lastError string) (bool, error) {
	return r.conditional(ctx, `
UPDATE commands
SET status = $3, acked_at = $4, last_error = NULLIF($5, '')
WHERE tenant_id = $1 AND id = $2 AND status IN ('QUEUED', 'SENT')`, tenantID, id, status, ackedAt, lastError)
}

// List returns the most recent commands, newest queue time first. Empty
// tenantID selects all tenants.
func (r *CommandRepository) List(ctx context.Context, tenantID string, limit int) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+commandColumns+`
FROM commands
WHERE ($1 = '' OR tenant_id = $1)
ORDER BY queued_at DESC
LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCommands(rows)
}

// CountByStatus groups commands by status.
func (r *CommandRepository) CountByStatus(ctx context.Context, tenantID string) (map[commands.Status]int, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT status, COUNT(*)
FROM commands
WHERE ($1 = '' OR tenant_id = $1)
GROUP BY status`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[commands.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[commands.Status(status)] = count
	}
	return counts, rows.Err()
}

// ListStuckSent returns unacknowledged SENT commands sent before the threshold.
func (r *CommandRepository) ListStuckSent(ctx context.Context, tenantID string, before time.Time) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+commandColumns+`
FROM commands
WHERE ($1 = '' OR tenant_id = $1)
	AND status = 'SENT' AND acked_at IS NULL AND sent_at < $2
ORDER BY sent_at ASC`, tenantID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCommands(rows)
}

func (r *CommandRepository) conditional(ctx context.Context, query string, args ...any) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("command repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectCommands(rows *sql.Rows) ([]commands.Command, error) {
	var result []commands.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanCommand(row rowScanner) (*commands.Command, error) {
	var cmd commands.Command
	var payload []byte
	var sentAt, ackedAt sql.NullTime
	var lastError sql.NullString
	if err := row.Scan(
		&cmd.ID,
		&cmd.TenantID,
		&cmd.DeviceID,
		&payload,
		&cmd.Status,
		&cmd.QueuedAt,
		&sentAt,
		&ackedAt,
		&cmd.RetryCount,
		&cmd.MaxRetries,
		&lastError,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cmd.Payload = payload
	cmd.QueuedAt = cmd.QueuedAt.UTC()
	if sentAt.Valid {
		cmd.SentAt = sentAt.Time.UTC()
	}
	if ackedAt.Valid {
		cmd.AckedAt = ackedAt.Time.UTC()
	}
	cmd.LastError = lastError.String
	return &cmd, nil
}
