// Package dedup 报警去重
// 维护每个 (device_id, sensor_type) 当前违规级别的集合，
// 只在级别新出现或升级时发出持久化报警，保证同一违规期间
// 最多产生一条报警记录，避免高频设备触发报警风暴
package dedup

import (
	"biosensor-monitor/internal/models"
	"biosensor-monitor/internal/window"
)

// Decision 去重器对单个读数的裁决
type Decision struct {
	EmitAlert     bool              // 需要创建持久化报警
	Resolved      bool              // 违规解除，需要广播 resolved 事件（不持久化）
	PreviousLevel models.AlertLevel // 该 key 之前记录的级别
}

// Deduplicator 去重器（一个流水线分片独占一个实例，无内部锁）
type Deduplicator struct {
	active map[window.Key]models.AlertLevel
}

// New 创建去重器
func New() *Deduplicator {
	return &Deduplicator{
		active: make(map[window.Key]models.AlertLevel),
	}
}

// Evaluate 根据分级结果裁决是否发出报警
// 规则：
//   - none → 任意违规级别：发出报警并记录
//   - 级别升级（如 warning → critical）：发出报警并更新记录
//   - 级别降级但仍违规（如 critical → warning）：更新记录，不发新报警
//   - 任意违规级别 → none：清除记录，标记 resolved
//   - none → none：无动作
func (d *Deduplicator) Evaluate(key window.Key, level models.AlertLevel) Decision {
	previous, violated := d.active[key]
	if !violated {
		previous = models.LevelNone
	}

	if level == models.LevelNone {
		if violated {
			delete(d.active, key)
			return Decision{Resolved: true, PreviousLevel: previous}
		}
		return Decision{PreviousLevel: previous}
	}

	d.active[key] = level
	if level.Rank() > previous.Rank() {
		return Decision{EmitAlert: true, PreviousLevel: previous}
	}
	return Decision{PreviousLevel: previous}
}

// CurrentLevel 查询某 key 当前记录的违规级别
func (d *Deduplicator) CurrentLevel(key window.Key) models.AlertLevel {
	if level, ok := d.active[key]; ok {
		return level
	}
	return models.LevelNone
}

// RemoveDevice 清除设备的全部违规记录（设备注销时调用）
func (d *Deduplicator) RemoveDevice(deviceID string) int {
	removed := 0
	for key := range d.active {
		if key.DeviceID == deviceID {
			delete(d.active, key)
			removed++
		}
	}
	return removed
}

// Len 当前违规中的 key 数量
func (d *Deduplicator) Len() int {
	return len(d.active)
}
