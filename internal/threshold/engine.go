// Package threshold 按传感器类型的阈值表对读数分级
package threshold

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"biosensor-monitor/internal/metrics"
	"biosensor-monitor/internal/models"
)

// Engine 阈值分级引擎
// 阈值表读多写少，管理操作通过 UpdateThresholds 修改
type Engine struct {
	mu     sync.RWMutex
	tables map[models.SensorType]models.AlertThresholds
	logger *zap.Logger
}

// NewEngine 创建阈值引擎（tables 会被拷贝，调用方可继续持有原 map）
func NewEngine(tables map[models.SensorType]models.AlertThresholds, logger *zap.Logger) *Engine {
	copied := make(map[models.SensorType]models.AlertThresholds, len(tables))
	for sensorType, thresholds := range tables {
		copied[sensorType] = thresholds
	}
	return &Engine{
		tables: copied,
		logger: logger,
	}
}

// Classify 对读数分级
// 规则：<= critical_low 或 >= critical_high → critical；
// <= warning_low 或 >= warning_high → warning；否则 none。
// 未配置的传感器类型返回 none（宽容默认，记录配置缺口而不是报警轰炸）
func (e *Engine) Classify(sensorType models.SensorType, value float64) models.AlertLevel {
	e.mu.RLock()
	thresholds, ok := e.tables[sensorType]
	e.mu.RUnlock()

	if !ok {
		metrics.ThresholdGaps.WithLabelValues(string(sensorType)).Inc()
		e.logger.Warn("No threshold table configured for sensor type",
			zap.String("sensor_type", string(sensorType)),
		)
		return models.LevelNone
	}

	if value <= thresholds.CriticalLow || value >= thresholds.CriticalHigh {
		return models.LevelCritical
	}
	if value <= thresholds.WarningLow || value >= thresholds.WarningHigh {
		return models.LevelWarning
	}
	return models.LevelNone
}

// GetThresholds 查询某传感器类型的阈值表
func (e *Engine) GetThresholds(sensorType models.SensorType) (models.AlertThresholds, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	thresholds, ok := e.tables[sensorType]
	return thresholds, ok
}

// UpdateThresholds 管理操作：更新某传感器类型的阈值表
// 更新前校验排序不变式 critical_low <= warning_low <= warning_high <= critical_high
func (e *Engine) UpdateThresholds(sensorType models.SensorType, thresholds models.AlertThresholds) error {
	if err := thresholds.Validate(); err != nil {
		return fmt.Errorf("rejecting threshold update for %s: %w", sensorType, err)
	}

	e.mu.Lock()
	e.tables[sensorType] = thresholds
	e.mu.Unlock()

	e.logger.Info("Threshold table updated",
		zap.String("sensor_type", string(sensorType)),
		zap.Float64("critical_low", thresholds.CriticalLow),
		zap.Float64("warning_low", thresholds.WarningLow),
		zap.Float64("warning_high", thresholds.WarningHigh),
		zap.Float64("critical_high", thresholds.CriticalHigh),
	)
	return nil
}
