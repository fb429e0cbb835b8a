package devices

import (
	"encoding/json"
	"time"
)

const (
	// DefaultVolume is the factory volume for a new device.
	DefaultVolume = 5

	// OnlineThreshold is the heartbeat age below which a device counts as online.
	OnlineThreshold = 30 * time.Second
)

// Device is a registered playback endpoint. DeviceKeyHash is the bcrypt hash
// of the device's shared secret; InstallCodeHash is set for factory-ready
// devices awaiting provisioning.
type Device struct {
	ID              string
	TenantID        string
	Name            string
	SerialNumber    string
	DeviceKeyHash   string
	InstallCodeHash string
	FirmwareVersion string
	IPAddress       string
	Online          bool
	LastSeenAt      time.Time
	Volume          int
	Muted           bool
	StatusPayload   json.RawMessage
	CreatedAt       time.Time
}

// Health is a derived presence snapshot for one device.
type Health struct {
	DeviceID             string
	Name                 string
	Status               string
	SecondsSinceLastSeen *int
}

// HealthOf computes the presence snapshot at the given instant.
func HealthOf(d Device, now time.Time) Health {
	health := Health{DeviceID: d.ID, Name: d.Name, Status: "OFFLINE"}
	if d.LastSeenAt.IsZero() {
		return health
	}
	seconds := int(now.Sub(d.LastSeenAt) / time.Second)
	health.SecondsSinceLastSeen = &seconds
	if now.Sub(d.LastSeenAt) < OnlineThreshold {
		health.Status = "ONLINE"
	}
	return health
}
