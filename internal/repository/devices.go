package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"biosensor-monitor/internal/models"
)

// DevicesRepository 设备仓库
type DevicesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDevicesRepository 创建设备仓库
func NewDevicesRepository(db *sql.DB, logger *zap.Logger) *DevicesRepository {
	return &DevicesRepository{
		db:     db,
		logger: logger,
	}
}

// GetDevice 根据 device_id 获取设备
func (r *DevicesRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			device_id,
			device_type,
			patient_id,
			state,
			unreachable,
			last_seen,
			battery_level,
			firmware_version,
			created_at,
			updated_at
		FROM devices
		WHERE device_id = $1
	`

	var device models.Device
	var patientID, firmwareVersion sql.NullString
	var lastSeen sql.NullTime
	var batteryLevel sql.NullFloat64

	err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&device.DeviceID,
		&device.DeviceType,
		&patientID,
		&device.State,
		&device.Unreachable,
		&lastSeen,
		&batteryLevel,
		&firmwareVersion,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	if patientID.Valid {
		device.PatientID = &patientID.String
	}
	if lastSeen.Valid {
		device.LastSeen = &lastSeen.Time
	}
	if batteryLevel.Valid {
		device.BatteryLevel = &batteryLevel.Float64
	}
	if firmwareVersion.Valid {
		device.FirmwareVersion = &firmwareVersion.String
	}

	return &device, nil
}

// ListDevices 查询全部设备
func (r *DevicesRepository) ListDevices(ctx context.Context) ([]models.Device, error) {
	query := `
		SELECT
			device_id,
			device_type,
			patient_id,
			state,
			unreachable,
			last_seen,
			battery_level,
			firmware_version,
			created_at,
			updated_at
		FROM devices
		ORDER BY device_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var device models.Device
		var patientID, firmwareVersion sql.NullString
		var lastSeen sql.NullTime
		var batteryLevel sql.NullFloat64
		if err := rows.Scan(
			&device.DeviceID,
			&device.DeviceType,
			&patientID,
			&device.State,
			&device.Unreachable,
			&lastSeen,
			&batteryLevel,
			&firmwareVersion,
			&device.CreatedAt,
			&device.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		if patientID.Valid {
			device.PatientID = &patientID.String
		}
		if lastSeen.Valid {
			device.LastSeen = &lastSeen.Time
		}
		if batteryLevel.Valid {
			device.BatteryLevel = &batteryLevel.Float64
		}
		if firmwareVersion.Valid {
			device.FirmwareVersion = &firmwareVersion.String
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, nil
}

// RegisterDevice 注册设备（已存在时更新类型和患者绑定，不触碰连接状态）
func (r *DevicesRepository) RegisterDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (
			device_id,
			device_type,
			patient_id,
			state,
			unreachable,
			created_at,
			updated_at
		) VALUES ($1, $2, $3, $4, false, $5, $5)
		ON CONFLICT (device_id) DO UPDATE
		SET device_type = EXCLUDED.device_type,
		    patient_id = EXCLUDED.patient_id,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		device.DeviceID,
		device.DeviceType,
		device.PatientID,
		string(models.StateDisconnected),
		device.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}

	return nil
}

// UpdateLastSeen 刷新设备最近一次收到消息的时间
func (r *DevicesRepository) UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error {
	query := `
		UPDATE devices
		SET last_seen = $2,
		    updated_at = $2
		WHERE device_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, deviceID, lastSeen)
	if err != nil {
		return fmt.Errorf("failed to update last seen: %w", err)
	}
	return nil
}

// SetConnectionState 更新设备连接状态（unreachable 标记向运维侧暴露）
func (r *DevicesRepository) SetConnectionState(ctx context.Context, deviceID string, state models.ConnectionState, unreachable bool, updatedAt time.Time) error {
	query := `
		UPDATE devices
		SET state = $2,
		    unreachable = $3,
		    updated_at = $4
		WHERE device_id = $1
	`

	_, err := r.db.ExecContext(ctx, query, deviceID, string(state), unreachable, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to set connection state: %w", err)
	}
	return nil
}

// UpdateTelemetry 更新设备自检遥测（电量、固件版本）
func (r *DevicesRepository) UpdateTelemetry(ctx context.Context, deviceID string, telemetry *models.DeviceTelemetry, updatedAt time.Time) error {
	if telemetry == nil {
		return nil
	}

	query := `
		UPDATE devices
		SET battery_level = COALESCE($2, battery_level),
		    firmware_version = COALESCE($3, firmware_version),
		    updated_at = $4
		WHERE device_id = $1
	`

	var firmware *string
	if telemetry.FirmwareVersion != "" {
		firmware = &telemetry.FirmwareVersion
	}

	_, err := r.db.ExecContext(ctx, query, deviceID, telemetry.BatteryLevel, firmware, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update telemetry: %w", err)
	}
	return nil
}
