package models

import (
	"time"
)

// ConnectionState 设备连接状态
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Device 设备（对应 devices 表）
// 注册后不做硬删除，读数仍引用设备时保留软生命周期
type Device struct {
	DeviceID        string          `json:"device_id" db:"device_id"`
	DeviceType      string          `json:"device_type" db:"device_type"`
	PatientID       *string         `json:"patient_id,omitempty" db:"patient_id"`
	State           ConnectionState `json:"state" db:"state"`
	Unreachable     bool            `json:"unreachable" db:"unreachable"`
	LastSeen        *time.Time      `json:"last_seen,omitempty" db:"last_seen"`
	BatteryLevel    *float64        `json:"battery_level,omitempty" db:"battery_level"`
	FirmwareVersion *string         `json:"firmware_version,omitempty" db:"firmware_version"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}
