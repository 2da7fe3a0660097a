package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/models"
)

// 实时事件类型
const (
	EventReading       = "reading"
	EventAlert         = "alert"
	EventCriticalAlert = "critical_alert"
	EventAlertResolved = "alert_resolved"
)

// Event 实时通道上的事件信封
type Event struct {
	Type     string                `json:"type"`
	Reading  *models.Reading       `json:"reading,omitempty"`
	Alert    *models.Alert         `json:"alert,omitempty"`
	Resolved *models.ResolvedEvent `json:"resolved,omitempty"`
}

// Publisher 通过 Redis pub/sub 向实时订阅方分发事件
// 房间按设备和患者划分，严重报警额外走全局广播频道
type Publisher struct {
	client          *redis.Client
	channelPrefix   string
	criticalChannel string
	logger          *zap.Logger
}

// NewPublisher 创建实时分发器
func NewPublisher(client *redis.Client, cfg *config.FanoutConfig, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:          client,
		channelPrefix:   cfg.ChannelPrefix,
		criticalChannel: cfg.CriticalChannel,
		logger:          logger,
	}
}

// deviceChannel 设备房间频道名
func (p *Publisher) deviceChannel(deviceID string) string {
	return fmt.Sprintf("%sdevice:%s", p.channelPrefix, deviceID)
}

// patientChannel 患者房间频道名
func (p *Publisher) patientChannel(patientID string) string {
	return fmt.Sprintf("%spatient:%s", p.channelPrefix, patientID)
}

// PublishReading 分发处理完成的读数到设备房间和患者房间
func (p *Publisher) PublishReading(ctx context.Context, reading *models.Reading) error {
	event := &Event{Type: EventReading, Reading: reading}
	channels := []string{p.deviceChannel(reading.DeviceID)}
	if reading.PatientID != nil {
		channels = append(channels, p.patientChannel(*reading.PatientID))
	}
	return p.publish(ctx, event, channels...)
}

// PublishAlert 分发报警，critical 级别额外广播到全局严重报警频道
func (p *Publisher) PublishAlert(ctx context.Context, alert *models.Alert) error {
	eventType := EventAlert
	if alert.Level == models.LevelCritical {
		eventType = EventCriticalAlert
	}
	event := &Event{Type: eventType, Alert: alert}

	channels := []string{p.deviceChannel(alert.DeviceID)}
	if alert.PatientID != nil {
		channels = append(channels, p.patientChannel(*alert.PatientID))
	}
	if alert.Level == models.LevelCritical {
		channels = append(channels, p.criticalChannel)
	}
	return p.publish(ctx, event, channels...)
}

// PublishResolved 分发违规解除事件（不持久化，仅实时通道可见）
func (p *Publisher) PublishResolved(ctx context.Context, resolved *models.ResolvedEvent) error {
	event := &Event{Type: EventAlertResolved, Resolved: resolved}
	channels := []string{p.deviceChannel(resolved.DeviceID)}
	if resolved.PatientID != nil {
		channels = append(channels, p.patientChannel(*resolved.PatientID))
	}
	return p.publish(ctx, event, channels...)
}

// publish 序列化事件并发布到所有目标频道
// 分发失败不阻断流水线，记录日志并返回首个错误供调用方计数
func (p *Publisher) publish(ctx context.Context, event *Event, channels ...string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var firstErr error
	for _, channel := range channels {
		if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
			p.logger.Warn("发布实时事件失败",
				zap.String("channel", channel),
				zap.String("event_type", event.Type),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to publish to %s: %w", channel, err)
			}
		}
	}
	return firstErr
}
