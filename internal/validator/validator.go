// Package validator 提供入站读数的结构与范围校验
// 校验是确定性的纯函数，首个失败项短路返回对应的错误类型
package validator

import (
	"fmt"
	"math"
	"time"

	"biosensor-monitor/internal/models"
)

// Kind 校验失败类型
type Kind string

const (
	KindMissingField      Kind = "missing_field"
	KindNonNumericValue   Kind = "non_numeric_value"
	KindTimestampSkew     Kind = "timestamp_skew"
	KindUnknownSensorType Kind = "unknown_sensor_type"
)

// ValidationError 校验错误（携带失败类型和字段名）
type ValidationError struct {
	Kind  Kind
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s (%s)", e.Kind, e.Field)
	}
	return fmt.Sprintf("validation failed: %s", e.Kind)
}

// Validator 读数校验器
type Validator struct {
	maxFutureSkew time.Duration // 时间戳允许的最大未来偏移
}

// New 创建校验器
func New(maxFutureSkew time.Duration) *Validator {
	return &Validator{
		maxFutureSkew: maxFutureSkew,
	}
}

// Validate 校验原始读数，按顺序检查：
// 1. 必填字段（device_id, sensor_type, value, unit）
// 2. value 是有限数值
// 3. timestamp 存在且未来偏移不超过配置的上限
// 4. sensor_type 是已识别的枚举值
// now 为摄入时刻，由调用方传入以保证可测试性
func (v *Validator) Validate(raw *models.RawReading, now time.Time) (*models.ValidatedReading, error) {
	if raw.DeviceID == "" {
		return nil, &ValidationError{Kind: KindMissingField, Field: "device_id"}
	}
	if raw.SensorType == "" {
		return nil, &ValidationError{Kind: KindMissingField, Field: "sensor_type"}
	}
	if raw.Value == nil {
		return nil, &ValidationError{Kind: KindMissingField, Field: "value"}
	}
	if raw.Unit == "" {
		return nil, &ValidationError{Kind: KindMissingField, Field: "unit"}
	}

	if math.IsNaN(*raw.Value) || math.IsInf(*raw.Value, 0) {
		return nil, &ValidationError{Kind: KindNonNumericValue, Field: "value"}
	}

	if raw.Timestamp == 0 {
		return nil, &ValidationError{Kind: KindMissingField, Field: "timestamp"}
	}
	timestamp := time.Unix(raw.Timestamp, 0).UTC()
	if timestamp.After(now.Add(v.maxFutureSkew)) {
		return nil, &ValidationError{Kind: KindTimestampSkew, Field: "timestamp"}
	}

	sensorType := models.SensorType(raw.SensorType)
	if !models.IsKnownSensorType(sensorType) {
		return nil, &ValidationError{Kind: KindUnknownSensorType, Field: "sensor_type"}
	}

	return &models.ValidatedReading{
		DeviceID:   raw.DeviceID,
		SensorType: sensorType,
		Value:      *raw.Value,
		Unit:       raw.Unit,
		Timestamp:  timestamp,
		Metadata:   raw.Metadata,
	}, nil
}
