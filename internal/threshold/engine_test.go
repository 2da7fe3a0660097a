package threshold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biosensor-monitor/internal/models"
)

func testEngine() *Engine {
	return NewEngine(map[models.SensorType]models.AlertThresholds{
		models.SensorHeartRate: {
			CriticalLow: 40, WarningLow: 50, WarningHigh: 120, CriticalHigh: 150,
		},
	}, zap.NewNop())
}

func TestClassify_Levels(t *testing.T) {
	e := testEngine()

	tests := []struct {
		value float64
		want  models.AlertLevel
	}{
		{30, models.LevelCritical},
		{45, models.LevelWarning},
		{80, models.LevelNone},
		{130, models.LevelWarning},
		{160, models.LevelCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Classify(models.SensorHeartRate, tt.value), "value %.0f", tt.value)
	}
}

func TestClassify_Boundaries(t *testing.T) {
	e := testEngine()

	// 边界值含等号
	assert.Equal(t, models.LevelCritical, e.Classify(models.SensorHeartRate, 40))
	assert.Equal(t, models.LevelWarning, e.Classify(models.SensorHeartRate, 50))
	assert.Equal(t, models.LevelNone, e.Classify(models.SensorHeartRate, 51))
	assert.Equal(t, models.LevelNone, e.Classify(models.SensorHeartRate, 119))
	assert.Equal(t, models.LevelWarning, e.Classify(models.SensorHeartRate, 120))
	assert.Equal(t, models.LevelCritical, e.Classify(models.SensorHeartRate, 150))
}

func TestClassify_UnconfiguredSensorType(t *testing.T) {
	// 未配置的传感器类型返回 none，不报警不崩溃
	e := testEngine()

	assert.Equal(t, models.LevelNone, e.Classify(models.SensorGlucose, 99999))
}

func TestUpdateThresholds(t *testing.T) {
	e := testEngine()

	err := e.UpdateThresholds(models.SensorGlucose, models.AlertThresholds{
		CriticalLow: 54, WarningLow: 70, WarningHigh: 180, CriticalHigh: 250,
	})
	require.NoError(t, err)

	assert.Equal(t, models.LevelCritical, e.Classify(models.SensorGlucose, 300))
	assert.Equal(t, models.LevelNone, e.Classify(models.SensorGlucose, 100))
}

func TestUpdateThresholds_InvalidOrdering(t *testing.T) {
	e := testEngine()

	err := e.UpdateThresholds(models.SensorHeartRate, models.AlertThresholds{
		CriticalLow: 60, WarningLow: 50, WarningHigh: 120, CriticalHigh: 150,
	})
	require.Error(t, err)

	// 原阈值表保持不变
	thresholds, ok := e.GetThresholds(models.SensorHeartRate)
	require.True(t, ok)
	assert.Equal(t, 40.0, thresholds.CriticalLow)
}
