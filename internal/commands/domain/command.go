package commands

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a command.
type Status string

const (
	StatusQueued Status = "QUEUED"
	StatusSent   Status = "SENT"
	StatusAcked  Status = "ACKED"
	StatusFailed Status = "FAILED"
)

// ValidStatus reports whether value is a known status.
func ValidStatus(value string) bool {
	switch Status(value) {
	case StatusQueued, StatusSent, StatusAcked, StatusFailed:
		return true
	default:
		return false
	}
}

// Command represents a queued instruction for a playback device.
// A zero SentAt/AckedAt means the timestamp is absent.
type Command struct {
	ID         string
	TenantID   string
	DeviceID   string
	Payload    json.RawMessage
	Status     Status
	QueuedAt   time.Time
	SentAt     time.Time
	AckedAt    time.Time
	RetryCount int
	MaxRetries int
	LastError  string
}

// Terminal reports whether the command reached a final state.
func (c *Command) Terminal() bool {
	return c.Status == StatusAcked || c.Status == StatusFailed
}

// Active reports whether the command still occupies the device's queue.
func (c *Command) Active() bool {
	return c.Status == StatusQueued || c.Status == StatusSent
}

// PayloadType returns the payload's type discriminator, or "" when absent.
func (c *Command) PayloadType() string {
	if len(c.Payload) == 0 {
		return ""
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(c.Payload, &probe); err != nil {
		return ""
	}
	return probe.Type
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	if c == nil {
		return nil
	}
	copied := *c
	if c.Payload != nil {
		copied.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	return &copied
}
