// Package detector 基于窗口统计的 Z 分数异常检测
// 检测是无状态的纯计算，仅作读数标注，不产生持久化报警
package detector

import (
	"math"

	"biosensor-monitor/internal/window"
)

// Result 异常检测结果
type Result struct {
	IsAnomaly bool
	ZScore    float64
}

// Detector Z 分数异常检测器
type Detector struct {
	zThreshold float64 // |z| 达到该值判定为异常
	minSamples int     // 样本数不足时跳过检测
}

// New 创建异常检测器
func New(zThreshold float64, minSamples int) *Detector {
	return &Detector{
		zThreshold: zThreshold,
		minSamples: minSamples,
	}
}

// Detect 对单个读数做异常判定
// 样本不足或标准差为 0 时跳过检测（数据不足不算异常）
func (d *Detector) Detect(value float64, stats window.Stats) Result {
	if stats.Count < d.minSamples || stats.StdDev == 0 {
		return Result{IsAnomaly: false, ZScore: 0}
	}

	z := (value - stats.Mean) / stats.StdDev
	return Result{
		IsAnomaly: math.Abs(z) >= d.zThreshold,
		ZScore:    z,
	}
}
