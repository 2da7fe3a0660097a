// Package pipeline 读数处理流水线
//
// 并发模型：按 key 串行、跨 key 并行。每条读数的 key
// (device_id, sensor_type) 经哈希路由到固定分片，每个分片
// 是一个独占自己窗口存储和去重状态的 goroutine，因此同一
// key 的窗口更新、异常检测、阈值分级和去重裁决天然按到达
// 顺序串行执行，无需加锁。
//
// 每个分片的输入队列有界，溢出时丢弃新到读数（drop-newest）
// 并递增计数器，不允许静默丢失。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/dedup"
	"biosensor-monitor/internal/detector"
	"biosensor-monitor/internal/metrics"
	"biosensor-monitor/internal/models"
	"biosensor-monitor/internal/quality"
	"biosensor-monitor/internal/threshold"
	"biosensor-monitor/internal/validator"
	"biosensor-monitor/internal/window"
)

// ErrQueueFull 分片队列溢出，读数被丢弃
var ErrQueueFull = errors.New("pipeline: shard queue full, reading dropped")

// 闲置窗口淘汰的检查周期
const idleEvictCheckInterval = time.Minute

// Output 单条读数的处理产物，交给 Sink 分发和持久化
type Output struct {
	Reading  *models.Reading
	Alert    *models.Alert         // 仅在去重器裁决发报警时非空
	Resolved *models.ResolvedEvent // 仅在违规解除时非空
}

// Sink 分发与持久化出口（外部协作方边界）
// Handle 内部负责自己的重试与超时，流水线不等待其结果语义
type Sink interface {
	Handle(ctx context.Context, output *Output)
}

type job struct {
	reading      *models.ValidatedReading
	telemetry    *models.DeviceTelemetry
	patientID    *string
	receivedAt   time.Time
	removeDevice string // 非空表示设备注销任务
}

type shard struct {
	jobs    chan job
	windows *window.Store
	dedup   *dedup.Deduplicator
}

// Pipeline 读数处理流水线
type Pipeline struct {
	cfg       config.PipelineConfig
	validator *validator.Validator
	scorer    *quality.Scorer
	detector  *detector.Detector
	engine    *threshold.Engine
	sink      Sink
	logger    *zap.Logger

	shards []*shard
	wg     sync.WaitGroup
}

// New 创建流水线
func New(
	cfg config.PipelineConfig,
	engine *threshold.Engine,
	sink Sink,
	logger *zap.Logger,
) *Pipeline {
	shardCount := cfg.ShardCount
	if shardCount < 1 {
		shardCount = 1
	}

	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{
			jobs:    make(chan job, cfg.QueueCapacity),
			windows: window.NewStore(cfg.WindowMaxSamples, cfg.WindowSpan),
			dedup:   dedup.New(),
		}
	}

	return &Pipeline{
		cfg:       cfg,
		validator: validator.New(cfg.MaxFutureSkew),
		scorer:    quality.NewScorer(cfg.QualityFloor, cfg.MinSamples),
		detector:  detector.New(cfg.ZScoreThreshold, cfg.MinSamples),
		engine:    engine,
		sink:      sink,
		logger:    logger,
		shards:    shards,
	}
}

// Start 启动分片 worker，ctx 取消后各分片退出
func (p *Pipeline) Start(ctx context.Context) {
	for i, s := range p.shards {
		p.wg.Add(1)
		go p.runShard(ctx, i, s)
	}
	p.logger.Info("Pipeline started",
		zap.Int("shard_count", len(p.shards)),
		zap.Int("queue_capacity", p.cfg.QueueCapacity),
	)
}

// Wait 等待全部分片退出
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Submit 提交一条原始读数
// 校验失败返回 ValidationError，队列溢出返回 ErrQueueFull，
// 两种失败路径都会递增对应计数器
func (p *Pipeline) Submit(raw *models.RawReading, telemetry *models.DeviceTelemetry, patientID *string, receivedAt time.Time) error {
	reading, err := p.validator.Validate(raw, receivedAt)
	if err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			metrics.ReadingsRejected.WithLabelValues(string(verr.Kind)).Inc()
		}
		p.logger.Warn("Reading rejected by validation",
			zap.String("device_id", raw.DeviceID),
			zap.String("sensor_type", raw.SensorType),
			zap.Error(err),
		)
		return err
	}

	s := p.shardFor(reading.DeviceID, reading.SensorType)
	select {
	case s.jobs <- job{reading: reading, telemetry: telemetry, patientID: patientID, receivedAt: receivedAt}:
		return nil
	default:
		metrics.QueueDrops.Inc()
		p.logger.Warn("Shard queue full, dropping reading",
			zap.String("device_id", reading.DeviceID),
			zap.String("sensor_type", string(reading.SensorType)),
		)
		return ErrQueueFull
	}
}

// RemoveDevice 清除设备在全部分片中的窗口和违规状态（设备注销时调用）
func (p *Pipeline) RemoveDevice(ctx context.Context, deviceID string) error {
	for _, s := range p.shards {
		select {
		case s.jobs <- job{removeDevice: deviceID}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) shardFor(deviceID string, sensorType models.SensorType) *shard {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	h.Write([]byte{0})
	h.Write([]byte(sensorType))
	return p.shards[int(h.Sum32())%len(p.shards)]
}

func (p *Pipeline) runShard(ctx context.Context, id int, s *shard) {
	defer p.wg.Done()

	ticker := time.NewTicker(idleEvictCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			if j.removeDevice != "" {
				removed := s.windows.RemoveDevice(j.removeDevice)
				s.dedup.RemoveDevice(j.removeDevice)
				if removed > 0 {
					p.logger.Info("Removed device state from shard",
						zap.Int("shard", id),
						zap.String("device_id", j.removeDevice),
						zap.Int("windows_removed", removed),
					)
				}
				continue
			}
			p.process(ctx, s, j)
		case <-ticker.C:
			if evicted := s.windows.EvictIdle(time.Now(), p.cfg.IdleEviction); evicted > 0 {
				p.logger.Debug("Evicted idle windows",
					zap.Int("shard", id),
					zap.Int("evicted", evicted),
				)
			}
		}
	}
}

// process 单条读数的同步处理：评分 → 窗口更新 → 检测 → 分级 → 去重
// 唯一的阻塞点是末尾的 Sink 调用
func (p *Pipeline) process(ctx context.Context, s *shard, j job) {
	reading := j.reading
	key := window.Key{DeviceID: reading.DeviceID, SensorType: reading.SensorType}

	// 质量分基于更新前的窗口统计（评分不受本条读数自身影响）
	preStats, hasStats := s.windows.Get(key)
	score, lowQuality := p.scorer.Score(reading.Value, j.telemetry, preStats, hasStats)
	if lowQuality {
		metrics.LowQualityReadings.Inc()
	}

	// 窗口更新后的统计用于异常检测
	stats := s.windows.Update(key, reading.Value, reading.Timestamp, j.receivedAt)
	detection := p.detector.Detect(reading.Value, stats)
	if detection.IsAnomaly {
		metrics.AnomaliesDetected.WithLabelValues(string(reading.SensorType)).Inc()
	}

	level := p.engine.Classify(reading.SensorType, reading.Value)
	decision := s.dedup.Evaluate(key, level)

	processed := &models.Reading{
		ReadingID:    uuid.New().String(),
		DeviceID:     reading.DeviceID,
		PatientID:    j.patientID,
		SensorType:   reading.SensorType,
		Value:        reading.Value,
		Unit:         reading.Unit,
		Timestamp:    reading.Timestamp,
		QualityScore: score,
		LowQuality:   lowQuality,
		IsAnomaly:    detection.IsAnomaly,
		AnomalyScore: detection.ZScore,
		Metadata:     models.MarshalMetadata(reading.Metadata),
		CreatedAt:    j.receivedAt,
	}
	metrics.ReadingsProcessed.WithLabelValues(string(reading.SensorType)).Inc()

	output := &Output{Reading: processed}

	if decision.EmitAlert {
		output.Alert = p.buildAlert(processed, level)
		metrics.AlertsEmitted.WithLabelValues(string(level)).Inc()
		p.logger.Info("Alert emitted",
			zap.String("device_id", reading.DeviceID),
			zap.String("sensor_type", string(reading.SensorType)),
			zap.String("level", string(level)),
			zap.Float64("value", reading.Value),
		)
	}

	if decision.Resolved {
		output.Resolved = &models.ResolvedEvent{
			DeviceID:      reading.DeviceID,
			PatientID:     j.patientID,
			SensorType:    reading.SensorType,
			PreviousLevel: decision.PreviousLevel,
			Value:         reading.Value,
			ResolvedAt:    j.receivedAt,
		}
		metrics.AlertsResolved.Inc()
		p.logger.Info("Violation resolved",
			zap.String("device_id", reading.DeviceID),
			zap.String("sensor_type", string(reading.SensorType)),
			zap.String("previous_level", string(decision.PreviousLevel)),
		)
	}

	p.sink.Handle(ctx, output)
}

// buildAlert 构建持久化报警记录
func (p *Pipeline) buildAlert(reading *models.Reading, level models.AlertLevel) *models.Alert {
	message := fmt.Sprintf("%s value %.1f %s classified as %s",
		reading.SensorType, reading.Value, reading.Unit, level)
	if thresholds, ok := p.engine.GetThresholds(reading.SensorType); ok {
		message = fmt.Sprintf("%s value %.1f %s outside %s range [%.1f, %.1f]",
			reading.SensorType, reading.Value, reading.Unit, level,
			thresholds.CriticalLow, thresholds.CriticalHigh)
	}

	return &models.Alert{
		AlertID:    uuid.New().String(),
		DeviceID:   reading.DeviceID,
		PatientID:  reading.PatientID,
		ReadingID:  reading.ReadingID,
		SensorType: reading.SensorType,
		Level:      level,
		Message:    message,
		CreatedAt:  reading.CreatedAt,
	}
}
