package validator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biosensor-monitor/internal/models"
)

func floatPtr(f float64) *float64 {
	return &f
}

func validRaw(now time.Time) *models.RawReading {
	return &models.RawReading{
		DeviceID:   "device-1",
		SensorType: "heart_rate",
		Value:      floatPtr(72),
		Unit:       "bpm",
		Timestamp:  now.Unix(),
	}
}

func TestValidate_Success(t *testing.T) {
	v := New(5 * time.Minute)
	now := time.Now()

	reading, err := v.Validate(validRaw(now), now)

	require.NoError(t, err)
	assert.Equal(t, "device-1", reading.DeviceID)
	assert.Equal(t, models.SensorHeartRate, reading.SensorType)
	assert.Equal(t, 72.0, reading.Value)
	assert.Equal(t, "bpm", reading.Unit)
	assert.Equal(t, now.Unix(), reading.Timestamp.Unix())
}

func TestValidate_MissingFields(t *testing.T) {
	v := New(5 * time.Minute)
	now := time.Now()

	tests := []struct {
		name   string
		mutate func(*models.RawReading)
		field  string
	}{
		{"missing device_id", func(r *models.RawReading) { r.DeviceID = "" }, "device_id"},
		{"missing sensor_type", func(r *models.RawReading) { r.SensorType = "" }, "sensor_type"},
		{"missing value", func(r *models.RawReading) { r.Value = nil }, "value"},
		{"missing unit", func(r *models.RawReading) { r.Unit = "" }, "unit"},
		{"missing timestamp", func(r *models.RawReading) { r.Timestamp = 0 }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw(now)
			tt.mutate(raw)

			reading, err := v.Validate(raw, now)

			require.Error(t, err)
			assert.Nil(t, reading)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, KindMissingField, verr.Kind)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidate_NonNumericValue(t *testing.T) {
	v := New(5 * time.Minute)
	now := time.Now()

	for _, value := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		raw := validRaw(now)
		raw.Value = floatPtr(value)

		_, err := v.Validate(raw, now)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, KindNonNumericValue, verr.Kind)
	}
}

func TestValidate_TimestampSkew(t *testing.T) {
	v := New(5 * time.Minute)
	now := time.Now()

	// 超出允许偏移的未来时间戳被拒绝
	raw := validRaw(now)
	raw.Timestamp = now.Add(6 * time.Minute).Unix()

	_, err := v.Validate(raw, now)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindTimestampSkew, verr.Kind)

	// 偏移范围内的未来时间戳被接受
	raw = validRaw(now)
	raw.Timestamp = now.Add(4 * time.Minute).Unix()

	_, err = v.Validate(raw, now)
	assert.NoError(t, err)
}

func TestValidate_UnknownSensorType(t *testing.T) {
	v := New(5 * time.Minute)
	now := time.Now()

	raw := validRaw(now)
	raw.SensorType = "brainwave"

	_, err := v.Validate(raw, now)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindUnknownSensorType, verr.Kind)
}

func TestValidate_Deterministic(t *testing.T) {
	// 同一非法输入多次校验返回相同的错误类型
	v := New(5 * time.Minute)
	now := time.Now()

	raw := validRaw(now)
	raw.Value = floatPtr(math.NaN())

	_, err1 := v.Validate(raw, now)
	_, err2 := v.Validate(raw, now)

	var verr1, verr2 *ValidationError
	require.ErrorAs(t, err1, &verr1)
	require.ErrorAs(t, err2, &verr2)
	assert.Equal(t, verr1.Kind, verr2.Kind)
	assert.Equal(t, verr1.Field, verr2.Field)
}

func TestValidate_CheckOrder(t *testing.T) {
	// 首个失败项短路：缺 device_id 且值非法时报 missing_field
	v := New(5 * time.Minute)
	now := time.Now()

	raw := validRaw(now)
	raw.DeviceID = ""
	raw.Value = floatPtr(math.NaN())

	_, err := v.Validate(raw, now)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, KindMissingField, verr.Kind)
}
