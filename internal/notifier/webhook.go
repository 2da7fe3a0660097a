package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/models"
)

// WebhookNotifier 严重报警 Webhook 通知器
// 仅 critical 级别触发外呼，失败重试由 resty 处理，最终失败只记日志不阻断流水线
type WebhookNotifier struct {
	client  *resty.Client
	url     string
	enabled bool
	logger  *zap.Logger
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(cfg *config.NotifierConfig, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(100 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &WebhookNotifier{
		client:  client,
		url:     cfg.WebhookURL,
		enabled: cfg.Enabled,
		logger:  logger,
	}
}

// notification Webhook 请求体
type notification struct {
	AlertID    string  `json:"alert_id"`
	DeviceID   string  `json:"device_id"`
	PatientID  *string `json:"patient_id,omitempty"`
	SensorType string  `json:"sensor_type"`
	Level      string  `json:"level"`
	Message    string  `json:"message"`
	CreatedAt  string  `json:"created_at"`
}

// NotifyCriticalAlert 推送严重报警到 Webhook
func (n *WebhookNotifier) NotifyCriticalAlert(ctx context.Context, alert *models.Alert) error {
	if !n.enabled {
		return nil
	}
	if alert.Level != models.LevelCritical {
		return nil
	}

	body := &notification{
		AlertID:    alert.AlertID,
		DeviceID:   alert.DeviceID,
		PatientID:  alert.PatientID,
		SensorType: string(alert.SensorType),
		Level:      string(alert.Level),
		Message:    alert.Message,
		CreatedAt:  alert.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	n.logger.Info("严重报警已推送到 Webhook",
		zap.String("alert_id", alert.AlertID),
		zap.String("device_id", alert.DeviceID))
	return nil
}
