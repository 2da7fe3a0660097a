package models

import (
	"time"
)

// SessionStatus 监测会话状态
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

// MonitoringSession 监测会话（对应 monitoring_sessions 表）
// 同一 (patient_id, device_id) 同时只允许一个 active 会话（创建时校验）
type MonitoringSession struct {
	SessionID       string        `json:"session_id" db:"session_id"`
	PatientID       string        `json:"patient_id" db:"patient_id"`
	DeviceID        string        `json:"device_id" db:"device_id"`
	Status          SessionStatus `json:"status" db:"status"`
	StartedAt       time.Time     `json:"started_at" db:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
	TotalReadings   int64         `json:"total_readings" db:"total_readings"`
	AlertsGenerated int64         `json:"alerts_generated" db:"alerts_generated"`
	Notes           string        `json:"notes" db:"notes"`
}
