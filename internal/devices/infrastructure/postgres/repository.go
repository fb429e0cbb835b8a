package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "github.com/kovacsmedia/SchoolLive-backend/internal/devices/domain"
)

const deviceColumns = `
id, tenant_id, name, serial_number, device_key_hash, install_code_hash,
	firmware_version, ip_address, online, last_seen_at, volume, muted, status_payload, created_at`

// DeviceRepository is a Postgres implementation of the device registry.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create inserts a device.
func (r *DeviceRepository) Create(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO devices (
	id, tenant_id, name, serial_number, device_key_hash, install_code_hash,
	firmware_version, ip_address, online, volume, muted, created_at
) VALUES (
	$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
	NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12
)`, device.ID, device.TenantID, device.Name, device.SerialNumber, device.DeviceKeyHash,
		device.InstallCodeHash, device.FirmwareVersion, device.IPAddress, device.Online,
		device.Volume, device.Muted, device.CreatedAt)
	return err
}

// Get loads a device by id.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE id = $1
LIMIT 1`, id)
	return scanDevice(row)
}

// GetScoped loads a device visible to the tenant.
func (r *DeviceRepository) GetScoped(ctx context.Context, tenantID, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE id = $1 AND tenant_id = $2
LIMIT 1`, id, tenantID)
	return scanDevice(row)
}

// GetBySerial loads a device by serial number.
func (r *DeviceRepository) GetBySerial(ctx context.Context, serial string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if serial == "" {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+deviceColumns+`
FROM devices
WHERE serial_number = $1
LIMIT 1`, serial)
	return scanDevice(row)
}

// ListByTenant lists devices newest first. Empty tenantID selects all tenants.
func (r *DeviceRepository) ListByTenant(ctx context.Context, tenantID string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := `
SELECT ` + deviceColumns + `
FROM devices
WHERE ($1 = '' OR tenant_id = $1)
ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateHeartbeat marks the device online and applies reported fields.
func (r *DeviceRepository) UpdateHeartbeat(ctx context.Context, id string, hb devices.Heartbeat) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE devices
SET online = TRUE,
	last_seen_at = $2,
	ip_address = COALESCE(NULLIF($3, ''), ip_address),
	firmware_version = COALESCE($4, firmware_version),
	volume = COALESCE($5, volume),
	muted = COALESCE($6, muted),
	status_payload = COALESCE($7, status_payload)
WHERE id = $1`, id, hb.SeenAt, hb.IPAddress, hb.FirmwareVersion, hb.Volume, hb.Muted, nullableJSON(hb.StatusPayload))
	if err != nil {
		return nil, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, devices.ErrNotFound
	}
	return r.Get(ctx, id)
}

// UpdateKey replaces the device's name and key hash.
func (r *DeviceRepository) UpdateKey(ctx context.Context, id, name, keyHash string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE devices
SET name = COALESCE(NULLIF($2, ''), name), device_key_hash = $3
WHERE id = $1`, id, name, keyHash)
	if err != nil {
		return nil, err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, devices.ErrNotFound
	}
	return r.Get(ctx, id)
}

func nullableJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return data
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*devices.Device, error) {
	var device devices.Device
	var serial, keyHash, installHash, firmware, ip sql.NullString
	var lastSeen sql.NullTime
	var payload []byte
	var createdAt time.Time
	if err := row.Scan(
		&device.ID,
		&device.TenantID,
		&device.Name,
		&serial,
		&keyHash,
		&installHash,
		&firmware,
		&ip,
		&device.Online,
		&lastSeen,
		&device.Volume,
		&device.Muted,
		&payload,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	device.SerialNumber = serial.String
	device.DeviceKeyHash = keyHash.String
	device.InstallCodeHash = installHash.String
	device.FirmwareVersion = firmware.String
	device.IPAddress = ip.String
	if lastSeen.Valid {
		device.LastSeenAt = lastSeen.Time.UTC()
	}
	device.StatusPayload = payload
	device.CreatedAt = createdAt.UTC()
	return &device, nil
}
