package models

import (
	"fmt"
)

// AlertThresholds 单个传感器类型的报警阈值表
// 不变式：critical_low <= warning_low <= warning_high <= critical_high
type AlertThresholds struct {
	CriticalLow  float64 `json:"critical_low"`
	WarningLow   float64 `json:"warning_low"`
	WarningHigh  float64 `json:"warning_high"`
	CriticalHigh float64 `json:"critical_high"`
}

// Validate 校验阈值排序不变式
func (t AlertThresholds) Validate() error {
	if t.CriticalLow > t.WarningLow {
		return fmt.Errorf("invalid thresholds: critical_low %.2f > warning_low %.2f", t.CriticalLow, t.WarningLow)
	}
	if t.WarningLow > t.WarningHigh {
		return fmt.Errorf("invalid thresholds: warning_low %.2f > warning_high %.2f", t.WarningLow, t.WarningHigh)
	}
	if t.WarningHigh > t.CriticalHigh {
		return fmt.Errorf("invalid thresholds: warning_high %.2f > critical_high %.2f", t.WarningHigh, t.CriticalHigh)
	}
	return nil
}
