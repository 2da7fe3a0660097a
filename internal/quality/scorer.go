// Package quality 信号质量评分
// 评分是纯函数：读窗口统计但不修改，低分读数只做标记不拦截
package quality

import (
	"math"

	"biosensor-monitor/internal/models"
	"biosensor-monitor/internal/window"
)

// 评分权重：信号强度、电池电量、统计合理性
const (
	weightSignal       = 0.4
	weightBattery      = 0.2
	weightPlausibility = 0.4

	// 低电量阈值（百分比），低于该值开始压低分数
	lowBatteryLevel = 20.0

	// 合理性项的 Z 距离饱和点：单个离群值不会把分数打到 0
	plausibilitySaturation = 6.0
)

// Scorer 质量评分器
type Scorer struct {
	floor      float64 // 低于该分数标记 low_quality
	minSamples int     // 窗口样本不足时不计合理性项
}

// NewScorer 创建质量评分器
func NewScorer(floor float64, minSamples int) *Scorer {
	return &Scorer{
		floor:      floor,
		minSamples: minSamples,
	}
}

// Score 计算读数质量分 [0,1]
// stats 为该 key 更新前的窗口统计快照；statsOK 表示窗口是否有数据
// 返回分数和是否低于下限（低质量读数仍然入库入窗，仅做标记）
func (s *Scorer) Score(value float64, telemetry *models.DeviceTelemetry, stats window.Stats, statsOK bool) (float64, bool) {
	signal := 1.0
	if telemetry != nil && telemetry.SignalStrength != nil {
		signal = clamp01(*telemetry.SignalStrength)
	}

	battery := 1.0
	if telemetry != nil && telemetry.BatteryLevel != nil && *telemetry.BatteryLevel < lowBatteryLevel {
		// 电量从阈值线性衰减到 0
		battery = clamp01(*telemetry.BatteryLevel / lowBatteryLevel)
	}

	plausibility := 1.0
	if statsOK && stats.Count >= s.minSamples && stats.StdDev > 0 {
		z := math.Abs(value-stats.Mean) / stats.StdDev
		if z > plausibilitySaturation {
			z = plausibilitySaturation // 饱和，离群值不会把合理性项打到 0 以下
		}
		plausibility = 1.0 - z/(plausibilitySaturation*2)
	}

	score := weightSignal*signal + weightBattery*battery + weightPlausibility*plausibility
	score = clamp01(score)

	return score, score < s.floor
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
