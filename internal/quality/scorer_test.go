package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"biosensor-monitor/internal/models"
	"biosensor-monitor/internal/window"
)

func floatPtr(f float64) *float64 {
	return &f
}

func TestScore_NoTelemetryNoStats(t *testing.T) {
	// 无遥测无窗口数据时分数为满分
	s := NewScorer(0.2, 5)

	score, lowQuality := s.Score(72, nil, window.Stats{}, false)

	assert.Equal(t, 1.0, score)
	assert.False(t, lowQuality)
}

func TestScore_LowBatteryDepressesScore(t *testing.T) {
	s := NewScorer(0.2, 5)

	full, _ := s.Score(72, &models.DeviceTelemetry{BatteryLevel: floatPtr(80)}, window.Stats{}, false)
	low, _ := s.Score(72, &models.DeviceTelemetry{BatteryLevel: floatPtr(5)}, window.Stats{}, false)

	assert.Less(t, low, full)
	assert.Equal(t, 1.0, full) // 电量充足不扣分
}

func TestScore_WeakSignalDepressesScore(t *testing.T) {
	s := NewScorer(0.2, 5)

	strong, _ := s.Score(72, &models.DeviceTelemetry{SignalStrength: floatPtr(1.0)}, window.Stats{}, false)
	weak, _ := s.Score(72, &models.DeviceTelemetry{SignalStrength: floatPtr(0.1)}, window.Stats{}, false)

	assert.Less(t, weak, strong)
}

func TestScore_OutlierSaturates(t *testing.T) {
	// 单个极端离群值压低分数但不会归零（饱和）
	s := NewScorer(0.2, 5)
	stats := window.Stats{Mean: 75, StdDev: 5, Count: 20}

	inlier, _ := s.Score(76, nil, stats, true)
	outlier, lowQuality := s.Score(10000, nil, stats, true)

	assert.Less(t, outlier, inlier)
	assert.Greater(t, outlier, 0.5) // 信号/电池满分时离群值只影响合理性项
	assert.False(t, lowQuality)
}

func TestScore_InsufficientSamplesSkipsPlausibility(t *testing.T) {
	s := NewScorer(0.2, 5)
	stats := window.Stats{Mean: 75, StdDev: 5, Count: 3}

	score, _ := s.Score(10000, nil, stats, true)

	assert.Equal(t, 1.0, score)
}

func TestScore_LowQualityFlag(t *testing.T) {
	// 信号极差 + 电量耗尽 → 低于下限标记 low_quality
	s := NewScorer(0.5, 5)

	telemetry := &models.DeviceTelemetry{
		SignalStrength: floatPtr(0.0),
		BatteryLevel:   floatPtr(0.0),
	}
	score, lowQuality := s.Score(72, telemetry, window.Stats{}, false)

	assert.InDelta(t, 0.4, score, 1e-9) // 仅剩合理性项权重
	assert.True(t, lowQuality)
}
