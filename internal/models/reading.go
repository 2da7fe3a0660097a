package models

import (
	"encoding/json"
	"time"
)

// SensorType 传感器类型（枚举值与 readings 表 sensor_type 列一致）
type SensorType string

const (
	SensorHeartRate       SensorType = "heart_rate"
	SensorRespiratoryRate SensorType = "respiratory_rate"
	SensorSpO2            SensorType = "spo2"
	SensorTemperature     SensorType = "temperature"
	SensorBPSystolic      SensorType = "blood_pressure_systolic"
	SensorBPDiastolic     SensorType = "blood_pressure_diastolic"
	SensorGlucose         SensorType = "glucose"
)

// knownSensorTypes 已识别的传感器类型集合
var knownSensorTypes = map[SensorType]bool{
	SensorHeartRate:       true,
	SensorRespiratoryRate: true,
	SensorSpO2:            true,
	SensorTemperature:     true,
	SensorBPSystolic:      true,
	SensorBPDiastolic:     true,
	SensorGlucose:         true,
}

// IsKnownSensorType 判断传感器类型是否已识别
func IsKnownSensorType(t SensorType) bool {
	return knownSensorTypes[t]
}

// RawReading 入站原始读数（MQTT 消息解析后的单条数据，未经校验）
type RawReading struct {
	DeviceID   string                 `json:"device_id"`
	SensorType string                 `json:"sensor_type"`
	Value      *float64               `json:"value"`
	Unit       string                 `json:"unit"`
	Timestamp  int64                  `json:"timestamp"` // Unix 秒
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DeviceTelemetry 设备遥测（随读数上报的设备自检数据）
type DeviceTelemetry struct {
	SignalStrength  *float64 `json:"signal_strength,omitempty"` // 0.0 - 1.0
	BatteryLevel    *float64 `json:"battery_level,omitempty"`   // 0 - 100
	FirmwareVersion string   `json:"firmware_version,omitempty"`
}

// InboundEnvelope 设备上报的消息信封（一次上报可携带多条读数）
type InboundEnvelope struct {
	DeviceID  string          `json:"device_id"`
	Telemetry DeviceTelemetry `json:"telemetry"`
	Readings  []RawReading    `json:"readings"`
}

// ValidatedReading 通过校验的读数（进入流水线的规范化形式）
type ValidatedReading struct {
	DeviceID   string
	SensorType SensorType
	Value      float64
	Unit       string
	Timestamp  time.Time
	Metadata   map[string]interface{}
}

// Reading 处理完成的读数（对应 readings 表，创建后不可变）
type Reading struct {
	ReadingID    string     `json:"reading_id" db:"reading_id"`
	DeviceID     string     `json:"device_id" db:"device_id"`
	PatientID    *string    `json:"patient_id,omitempty" db:"patient_id"`
	SensorType   SensorType `json:"sensor_type" db:"sensor_type"`
	Value        float64    `json:"value" db:"value"`
	Unit         string     `json:"unit" db:"unit"`
	Timestamp    time.Time  `json:"timestamp" db:"timestamp"`
	QualityScore float64    `json:"quality_score" db:"quality_score"`
	LowQuality   bool       `json:"low_quality" db:"low_quality"`
	IsAnomaly    bool       `json:"is_anomaly" db:"is_anomaly"`
	AnomalyScore float64    `json:"anomaly_score" db:"anomaly_score"`
	Metadata     string     `json:"metadata" db:"metadata"` // JSONB
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// MarshalMetadata 序列化元数据为 JSONB 字符串（空元数据返回 "{}"）
func MarshalMetadata(metadata map[string]interface{}) string {
	if len(metadata) == 0 {
		return "{}"
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(data)
}
