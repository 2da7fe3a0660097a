// Package window 维护每个 (device_id, sensor_type) 的滑动统计窗口
//
// 窗口同时受样本数和时间跨度双重限制：淘汰条件为
// count > maxSamples 或 now - oldest.timestamp > span。
// 均值/方差采用 Welford 增量算法维护，新增和淘汰均为 O(1)，
// 避免长期运行时 sum/sum-of-squares 的灾难性抵消。
//
// 包内不加锁：同一 key 的窗口只允许一个逻辑写者，
// 串行化由流水线的分片调度保证。
package window

import (
	"math"
	"time"

	"biosensor-monitor/internal/models"
)

// Key 窗口键
type Key struct {
	DeviceID   string
	SensorType models.SensorType
}

// Stats 窗口统计快照
type Stats struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Count  int
}

type entry struct {
	value     float64
	timestamp time.Time
}

// Window 单个 key 的滑动窗口
type Window struct {
	entries     []entry
	mean        float64
	m2          float64 // Welford 平方差累积量
	min         float64
	max         float64
	lastUpdated time.Time
}

// Add 追加一个读数并按双重边界淘汰旧数据，返回更新后的统计
func (w *Window) Add(value float64, timestamp time.Time, now time.Time, maxSamples int, span time.Duration) Stats {
	// 先按样本数上界淘汰（为新值腾出位置），再按时间跨度淘汰
	for len(w.entries) > 0 && (len(w.entries) >= maxSamples || now.Sub(w.entries[0].timestamp) > span) {
		w.evictHead()
	}

	w.welfordAdd(value)
	if len(w.entries) == 0 {
		w.min = value
		w.max = value
	} else {
		if value < w.min {
			w.min = value
		}
		if value > w.max {
			w.max = value
		}
	}
	w.entries = append(w.entries, entry{value: value, timestamp: timestamp})
	w.lastUpdated = now

	return w.Stats()
}

// Stats 返回当前统计快照
func (w *Window) Stats() Stats {
	count := len(w.entries)
	if count == 0 {
		return Stats{}
	}
	variance := w.m2 / float64(count)
	if variance < 0 {
		variance = 0 // 浮点误差保护
	}
	return Stats{
		Mean:   w.mean,
		StdDev: math.Sqrt(variance),
		Min:    w.min,
		Max:    w.max,
		Count:  count,
	}
}

// evictHead 淘汰最旧的读数并回退其对统计量的贡献
func (w *Window) evictHead() {
	evicted := w.entries[0].value
	w.entries = w.entries[1:]

	count := len(w.entries)
	if count == 0 {
		w.mean = 0
		w.m2 = 0
		w.min = 0
		w.max = 0
		return
	}

	// Welford 反向更新
	oldMean := w.mean
	w.mean = (oldMean*float64(count+1) - evicted) / float64(count)
	w.m2 -= (evicted - w.mean) * (evicted - oldMean)
	if w.m2 < 0 {
		w.m2 = 0
	}

	// 淘汰值触及极值时重新扫描保留的读数
	if evicted <= w.min || evicted >= w.max {
		w.rescanMinMax()
	}
}

func (w *Window) rescanMinMax() {
	w.min = w.entries[0].value
	w.max = w.entries[0].value
	for _, e := range w.entries[1:] {
		if e.value < w.min {
			w.min = e.value
		}
		if e.value > w.max {
			w.max = e.value
		}
	}
}

// welfordAdd Welford 正向更新
func (w *Window) welfordAdd(value float64) {
	count := float64(len(w.entries) + 1)
	delta := value - w.mean
	w.mean += delta / count
	w.m2 += delta * (value - w.mean)
}

// Len 当前窗口内的样本数
func (w *Window) Len() int {
	return len(w.entries)
}

// OldestTimestamp 最旧读数的时间戳（空窗口返回零值）
func (w *Window) OldestTimestamp() time.Time {
	if len(w.entries) == 0 {
		return time.Time{}
	}
	return w.entries[0].timestamp
}
