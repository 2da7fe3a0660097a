// Package metrics 暴露流水线的可观测计数器
// 所有丢弃/拒绝路径必须有对应计数器，不允许静默丢失
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsProcessed 成功处理的读数总数
	ReadingsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosensor_readings_processed_total",
			Help: "Total number of readings accepted by the pipeline",
		},
		[]string{"sensor_type"},
	)

	// ReadingsRejected 校验失败被拒绝的读数总数（按失败类型）
	ReadingsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosensor_readings_rejected_total",
			Help: "Total number of readings rejected by validation",
		},
		[]string{"kind"},
	)

	// QueueDrops 分片队列溢出丢弃的读数总数（drop-newest 策略）
	QueueDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biosensor_queue_drops_total",
			Help: "Total number of readings dropped due to shard queue overflow",
		},
	)

	// LowQualityReadings 质量分低于下限的读数总数
	LowQualityReadings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biosensor_low_quality_readings_total",
			Help: "Total number of readings flagged as low quality",
		},
	)

	// AnomaliesDetected 统计学异常读数总数
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosensor_anomalies_detected_total",
			Help: "Total number of statistically anomalous readings",
		},
		[]string{"sensor_type"},
	)

	// AlertsEmitted 持久化报警总数（按级别）
	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosensor_alerts_emitted_total",
			Help: "Total number of persisted alerts",
		},
		[]string{"level"},
	)

	// AlertsResolved 违规解除事件总数
	AlertsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biosensor_alerts_resolved_total",
			Help: "Total number of violation episodes resolved",
		},
	)

	// ThresholdGaps 未配置阈值表的传感器类型命中次数
	ThresholdGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosensor_threshold_gaps_total",
			Help: "Total number of classifications against an unconfigured sensor type",
		},
		[]string{"sensor_type"},
	)

	// ReconnectAttempts 设备重连尝试总数
	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biosensor_reconnect_attempts_total",
			Help: "Total number of device connection attempts",
		},
		[]string{"device_id"},
	)

	// PersistenceRetries 持久化瞬态失败重试总数
	PersistenceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biosensor_persistence_retries_total",
			Help: "Total number of persistence retries after transient failures",
		},
	)

	// DroppedWhileDisconnected 设备未连接期间忽略的入站消息总数
	DroppedWhileDisconnected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biosensor_messages_ignored_disconnected_total",
			Help: "Total number of inbound messages ignored while device not connected",
		},
	)
)
