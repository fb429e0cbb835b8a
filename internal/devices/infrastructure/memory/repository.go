package memory

import (
	"context"
	"sync"

	devices "github.com/kovacsmedia/SchoolLive-backend/internal/devices/domain"
)

// DeviceRepository is an in-memory device registry used by tests and local runs.
type DeviceRepository struct {
	mu   sync.RWMutex
	data map[string]*devices.Device
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{data: make(map[string]*devices.Device)}
}

// Create inserts a device.
func (r *DeviceRepository) Create(ctx context.Context, device *devices.Device) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *device
	r.data[device.ID] = &copied
	return nil
}

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if device, ok := r.data[id]; ok {
		copied := *device
		return &copied, nil
	}
	return nil, nil
}

// GetScoped loads a device visible to the tenant.
func (r *DeviceRepository) GetScoped(ctx context.Context, tenantID, id string) (*devices.Device, error) {
	device, err := r.Get(ctx, id)
	if err != nil || device == nil {
		return nil, err
	}
	if device.TenantID != tenantID {
		return nil, nil
	}
	return device, nil
}

// GetBySerial loads a device by serial number.
func (r *DeviceRepository) GetBySerial(ctx context.Context, serial string) (*devices.Device, error) {
	_ = ctx
	if serial == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, device := range r.data {
		if device.SerialNumber == serial {
			copied := *device
			return &copied, nil
		}
	}
	return nil, nil
}

// ListByTenant lists devices newest first.
func (r *DeviceRepository) ListByTenant(ctx context.Context, tenantID string) ([]devices.Device, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []devices.Device
	for _, device := range r.data {
		if tenantID != "" && device.TenantID != tenantID {
			continue
		}
		result = append(result, *device)
	}
	for i := 0; i < len(result); i++ {
		for j := i + 1; j < len(result); j++ {
			if result[j].CreatedAt.After(result[i].CreatedAt) {
				result[i], result[j] = result[j], result[i]
			}
		}
	}
	return result, nil
}

// UpdateHeartbeat marks the device online and applies reported fields.
func (r *DeviceRepository) UpdateHeartbeat(ctx context.Context, id string, hb devices.Heartbeat) (*devices.Device, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.data[id]
	if !ok {
		return nil, devices.ErrNotFound
	}
	device.Online = true
	device.LastSeenAt = hb.SeenAt
	if hb.IPAddress != "" {
		device.IPAddress = hb.IPAddress
	}
	if hb.FirmwareVersion != nil {
		device.FirmwareVersion = *hb.FirmwareVersion
	}
	if hb.Volume != nil {
		device.Volume = *hb.Volume
	}
	if hb.Muted != nil {
		device.Muted = *hb.Muted
	}
	if len(hb.StatusPayload) > 0 {
		device.StatusPayload = append([]byte(nil), hb.StatusPayload...)
	}
	copied := *device
	return &copied, nil
}

// UpdateKey replaces the device's name and key hash.
func (r *DeviceRepository) UpdateKey(ctx context.Context, id, name, keyHash string) (*devices.Device, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.data[id]
	if !ok {
		return nil, devices.ErrNotFound
	}
	if name != "" {
		device.Name = name
	}
	device.DeviceKeyHash = keyHash
	copied := *device
	return &copied, nil
}
