package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"biosensor-monitor/internal/window"
)

func TestDetect_BoundaryAtThreshold(t *testing.T) {
	d := New(3.0, 5)
	stats := window.Stats{Mean: 75, StdDev: 10, Count: 20}

	// 恰好 mean + 3*stddev 判定为异常
	result := d.Detect(105, stats)
	assert.True(t, result.IsAnomaly)
	assert.InDelta(t, 3.0, result.ZScore, 1e-9)

	// mean + 2.99*stddev 不判定为异常
	result = d.Detect(104.9, stats)
	assert.False(t, result.IsAnomaly)
	assert.InDelta(t, 2.99, result.ZScore, 1e-9)
}

func TestDetect_NegativeDeviation(t *testing.T) {
	d := New(3.0, 5)
	stats := window.Stats{Mean: 75, StdDev: 10, Count: 20}

	result := d.Detect(45, stats)
	assert.True(t, result.IsAnomaly)
	assert.InDelta(t, -3.0, result.ZScore, 1e-9)
}

func TestDetect_InsufficientSamples(t *testing.T) {
	// 样本数不足时任何值都不算异常
	d := New(3.0, 5)
	stats := window.Stats{Mean: 75, StdDev: 10, Count: 4}

	result := d.Detect(10000, stats)
	assert.False(t, result.IsAnomaly)
	assert.Equal(t, 0.0, result.ZScore)
}

func TestDetect_ZeroStdDev(t *testing.T) {
	// 标准差为 0（恒定读数流）时跳过检测
	d := New(3.0, 5)
	stats := window.Stats{Mean: 75, StdDev: 0, Count: 20}

	result := d.Detect(160, stats)
	assert.False(t, result.IsAnomaly)
	assert.Equal(t, 0.0, result.ZScore)
}
