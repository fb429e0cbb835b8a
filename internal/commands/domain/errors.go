package commands

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the command does not exist within the caller's scope.
// Out-of-tenant records are reported as not found, never as forbidden.
var ErrNotFound = errors.New("commands: command not found")

// ErrDeviceNotFound indicates the target device does not exist within the
// caller's scope.
var ErrDeviceNotFound = errors.New("commands: device not found")

// ValidationError reports malformed input with field-level detail.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("commands: invalid %s: %s", e.Field, e.Detail)
}

// ConflictError is returned when a device already has an active command.
// It carries the existing command's identity so callers can inspect it.
type ConflictError struct {
	ExistingID     string
	ExistingStatus Status
	QueuedAt       time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("commands: device has active command %s (%s)", e.ExistingID, e.ExistingStatus)
}
