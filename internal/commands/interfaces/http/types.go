package http

import (
	"encoding/json"
	"time"

	commands "github.com/kovacsmedia/SchoolLive-backend/internal/commands/domain"
)

// commandJSON is the wire shape of a command. The last error is exposed both
// as lastError and under the legacy alias error, which older firmware reads.
type commandJSON struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenantId"`
	DeviceID   string          `json:"deviceId"`
	Payload    json.RawMessage `json:"payload"`
	Status     string          `json:"status"`
	QueuedAt   time.Time       `json:"queuedAt"`
	SentAt     *time.Time      `json:"sentAt"`
	AckedAt    *time.Time      `json:"ackedAt"`
	RetryCount int             `json:"retryCount"`
	MaxRetries int             `json:"maxRetries"`
	LastError  *string         `json:"lastError"`
	Error      *string         `json:"error"`
}

func toCommandJSON(cmd *commands.Command) *commandJSON {
	if cmd == nil {
		return nil
	}
	out := &commandJSON{
		ID:         cmd.ID,
		TenantID:   cmd.TenantID,
		DeviceID:   cmd.DeviceID,
		Payload:    cmd.Payload,
		Status:     string(cmd.Status),
		QueuedAt:   cmd.QueuedAt,
		RetryCount: cmd.RetryCount,
		MaxRetries: cmd.MaxRetries,
	}
	if !cmd.SentAt.IsZero() {
		sentAt := cmd.SentAt
		out.SentAt = &sentAt
	}
	if !cmd.AckedAt.IsZero() {
		ackedAt := cmd.AckedAt
		out.AckedAt = &ackedAt
	}
	if cmd.LastError != "" {
		lastError := cmd.LastError
		out.LastError = &lastError
		out.Error = &lastError
	}
	return out
}

// commandSummaryJSON is the reduced admin list shape: the payload is
// collapsed to its type discriminator.
type commandSummaryJSON struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	DeviceID   string     `json:"deviceId"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	QueuedAt   time.Time  `json:"queuedAt"`
	SentAt     *time.Time `json:"sentAt"`
	AckedAt    *time.Time `json:"ackedAt"`
	RetryCount int        `json:"retryCount"`
	MaxRetries int        `json:"maxRetries"`
	LastError  *string    `json:"lastError"`
}

func toCommandSummaryJSON(cmd commands.Command) commandSummaryJSON {
	out := commandSummaryJSON{
		ID:         cmd.ID,
		TenantID:   cmd.TenantID,
		DeviceID:   cmd.DeviceID,
		Type:       cmd.PayloadType(),
		Status:     string(cmd.Status),
		QueuedAt:   cmd.QueuedAt,
		RetryCount: cmd.RetryCount,
		MaxRetries: cmd.MaxRetries,
	}
	if !cmd.SentAt.IsZero() {
		sentAt := cmd.SentAt
		out.SentAt = &sentAt
	}
	if !cmd.AckedAt.IsZero() {
		ackedAt := cmd.AckedAt
		out.AckedAt = &ackedAt
	}
	if cmd.LastError != "" {
		lastError := cmd.LastError
		out.LastError = &lastError
	}
	return out
}
