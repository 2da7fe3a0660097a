package models

import (
	"time"
)

// AlertLevel 报警级别
type AlertLevel string

const (
	LevelNone     AlertLevel = "none"
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// levelRank 报警级别严重程度排序（用于判断升级/降级）
var levelRank = map[AlertLevel]int{
	LevelNone:     0,
	LevelInfo:     1,
	LevelWarning:  2,
	LevelCritical: 3,
}

// Rank 返回级别的严重程度（none=0 < info < warning < critical）
func (l AlertLevel) Rank() int {
	return levelRank[l]
}

// Alert 报警记录（对应 alerts 表）
// 由去重器在违规级别发生升级或新出现时创建，之后仅允许确认操作修改
type Alert struct {
	AlertID        string     `json:"alert_id" db:"alert_id"`
	DeviceID       string     `json:"device_id" db:"device_id"`
	PatientID      *string    `json:"patient_id,omitempty" db:"patient_id"`
	ReadingID      string     `json:"reading_id" db:"reading_id"`
	SensorType     SensorType `json:"sensor_type" db:"sensor_type"`
	Level          AlertLevel `json:"level" db:"level"`
	Message        string     `json:"message" db:"message"`
	Acknowledged   bool       `json:"acknowledged" db:"acknowledged"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// ResolvedEvent 违规解除事件（仅通过实时通道广播，不持久化）
type ResolvedEvent struct {
	DeviceID      string     `json:"device_id"`
	PatientID     *string    `json:"patient_id,omitempty"`
	SensorType    SensorType `json:"sensor_type"`
	PreviousLevel AlertLevel `json:"previous_level"`
	Value         float64    `json:"value"`
	ResolvedAt    time.Time  `json:"resolved_at"`
}
