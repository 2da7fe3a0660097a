package window

import (
	"time"
)

// Store 窗口存储（一个流水线分片独占一个 Store，无内部锁）
type Store struct {
	maxSamples int
	span       time.Duration
	windows    map[Key]*Window
}

// NewStore 创建窗口存储
func NewStore(maxSamples int, span time.Duration) *Store {
	return &Store{
		maxSamples: maxSamples,
		span:       span,
		windows:    make(map[Key]*Window),
	}
}

// Update 更新 key 对应的窗口并返回最新统计
func (s *Store) Update(key Key, value float64, timestamp time.Time, now time.Time) Stats {
	w, ok := s.windows[key]
	if !ok {
		w = &Window{}
		s.windows[key] = w
	}
	return w.Add(value, timestamp, now, s.maxSamples, s.span)
}

// Get 读取 key 对应的统计快照（不修改窗口状态）
func (s *Store) Get(key Key) (Stats, bool) {
	w, ok := s.windows[key]
	if !ok || w.Len() == 0 {
		return Stats{}, false
	}
	return w.Stats(), true
}

// Remove 删除单个 key 的窗口
func (s *Store) Remove(key Key) {
	delete(s.windows, key)
}

// RemoveDevice 删除设备的全部窗口（设备注销时调用），返回删除的 key 数量
func (s *Store) RemoveDevice(deviceID string) int {
	removed := 0
	for key := range s.windows {
		if key.DeviceID == deviceID {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// EvictIdle 淘汰超过闲置时限无读数的窗口，返回淘汰的 key 数量
func (s *Store) EvictIdle(now time.Time, idleTimeout time.Duration) int {
	evicted := 0
	for key, w := range s.windows {
		if now.Sub(w.lastUpdated) > idleTimeout {
			delete(s.windows, key)
			evicted++
		}
	}
	return evicted
}

// Len 当前持有的窗口 key 数量
func (s *Store) Len() int {
	return len(s.windows)
}
