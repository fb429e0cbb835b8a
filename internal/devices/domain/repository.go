package devices

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates the device does not exist within the caller's scope.
var ErrNotFound = errors.New("devices: device not found")

// Heartbeat carries the mutable fields a device may report. Nil pointers
// leave the stored value unchanged.
type Heartbeat struct {
	SeenAt          time.Time
	IPAddress       string
	FirmwareVersion *string
	Volume          *int
	Muted           *bool
	StatusPayload   json.RawMessage
}

// Repository is the device registry store.
type Repository interface {
	Create(ctx context.Context, device *Device) error

	// Get loads a device by id without tenant scoping; used only by device
	// key verification, which derives the tenant from the stored row.
	Get(ctx context.Context, id string) (*Device, error)

	// GetScoped loads a device visible to the tenant, or nil.
	GetScoped(ctx context.Context, tenantID, id string) (*Device, error)

	// GetBySerial loads a factory-registered device by serial number, or nil.
	GetBySerial(ctx context.Context, serial string) (*Device, error)

	// ListByTenant returns devices newest first. Empty tenantID selects all
	// tenants (global-scope callers only).
	ListByTenant(ctx context.Context, tenantID string) ([]Device, error)

	// UpdateHeartbeat marks the device online and applies reported fields.
	UpdateHeartbeat(ctx context.Context, id string, hb Heartbeat) (*Device, error)

	// UpdateKey replaces the device's name and key hash (provision confirm).
	UpdateKey(ctx context.Context, id, name, keyHash string) (*Device, error)
}
