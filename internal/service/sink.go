package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/metrics"
	"biosensor-monitor/internal/models"
	"biosensor-monitor/internal/pipeline"
	"biosensor-monitor/internal/repository"
)

// ReadingStore 读数持久化接口
type ReadingStore interface {
	CreateReading(ctx context.Context, reading *models.Reading) error
}

// AlertStore 报警持久化接口
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
}

// SessionCounter 会话计数累加接口
type SessionCounter interface {
	IncrementCounters(ctx context.Context, deviceID string, readings, alerts int64) error
}

// Broadcaster 实时分发接口
type Broadcaster interface {
	PublishReading(ctx context.Context, reading *models.Reading) error
	PublishAlert(ctx context.Context, alert *models.Alert) error
	PublishResolved(ctx context.Context, resolved *models.ResolvedEvent) error
}

// CriticalNotifier 严重报警外部通知接口
type CriticalNotifier interface {
	NotifyCriticalAlert(ctx context.Context, alert *models.Alert) error
}

// Sink 流水线产物的分发与持久化出口
// 持久化瞬态失败有界重试；读数的唯一键冲突视为重复投递按成功处理，
// 报警冲突是真实错误。任何失败都不反压流水线，只记日志和计数器
type Sink struct {
	cfg      config.PersistenceConfig
	readings ReadingStore
	alerts   AlertStore
	sessions SessionCounter
	fanout   Broadcaster
	notifier CriticalNotifier
	logger   *zap.Logger

	// 测试可替换的重试休眠
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewSink 创建出口
func NewSink(
	cfg config.PersistenceConfig,
	readings ReadingStore,
	alerts AlertStore,
	sessions SessionCounter,
	fanout Broadcaster,
	notifier CriticalNotifier,
	logger *zap.Logger,
) *Sink {
	return &Sink{
		cfg:      cfg,
		readings: readings,
		alerts:   alerts,
		sessions: sessions,
		fanout:   fanout,
		notifier: notifier,
		logger:   logger,
		sleep:    sleepContext,
	}
}

var _ pipeline.Sink = (*Sink)(nil)

// Handle 处理一条流水线产物：持久化 → 会话计数 → 实时分发 → 外部通知
func (s *Sink) Handle(ctx context.Context, output *pipeline.Output) {
	reading := output.Reading

	if err := s.withRetry(ctx, func(opCtx context.Context) error {
		return s.readings.CreateReading(opCtx, reading)
	}); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// 重复投递，幂等成功
			s.logger.Debug("重复读数已忽略", zap.String("reading_id", reading.ReadingID))
		} else {
			s.logger.Error("读数持久化失败",
				zap.String("reading_id", reading.ReadingID),
				zap.String("device_id", reading.DeviceID),
				zap.Error(err))
		}
	}

	if output.Alert != nil {
		if err := s.withRetry(ctx, func(opCtx context.Context) error {
			return s.alerts.CreateAlert(opCtx, output.Alert)
		}); err != nil {
			s.logger.Error("报警持久化失败",
				zap.String("alert_id", output.Alert.AlertID),
				zap.String("device_id", output.Alert.DeviceID),
				zap.Error(err))
		}
	}

	var alertCount int64
	if output.Alert != nil {
		alertCount = 1
	}
	if err := s.sessions.IncrementCounters(ctx, reading.DeviceID, 1, alertCount); err != nil {
		s.logger.Warn("会话计数更新失败",
			zap.String("device_id", reading.DeviceID),
			zap.Error(err))
	}

	if err := s.fanout.PublishReading(ctx, reading); err != nil {
		s.logger.Warn("读数实时分发失败", zap.Error(err))
	}
	if output.Alert != nil {
		if err := s.fanout.PublishAlert(ctx, output.Alert); err != nil {
			s.logger.Warn("报警实时分发失败", zap.Error(err))
		}
	}
	if output.Resolved != nil {
		if err := s.fanout.PublishResolved(ctx, output.Resolved); err != nil {
			s.logger.Warn("解除事件实时分发失败", zap.Error(err))
		}
	}

	// 外部 Webhook 走独立 goroutine，不阻塞分片 worker
	if output.Alert != nil && output.Alert.Level == models.LevelCritical && s.notifier != nil {
		alert := output.Alert
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.notifier.NotifyCriticalAlert(notifyCtx, alert); err != nil {
				s.logger.Error("严重报警通知失败",
					zap.String("alert_id", alert.AlertID),
					zap.Error(err))
			}
		}()
	}
}

// withRetry 有界重试执行持久化操作，每次尝试独立超时
// 唯一键冲突不重试，直接透传给调用方裁决
func (s *Sink) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := s.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		err := op(opCtx)
		cancel()

		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrDuplicateKey) {
			return err
		}
		lastErr = err

		if attempt < attempts {
			metrics.PersistenceRetries.Inc()
			if !s.sleep(ctx, s.cfg.RetryDelay) {
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
