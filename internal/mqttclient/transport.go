// Package mqttclient 基于 paho 的设备传输层实现
// 每台设备独立一个 MQTT 客户端；paho 自带的自动重连被禁用，
// 重连退避统一由连接管理器负责
package mqttclient

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/devmgr"
)

// Transport MQTT 传输层
type Transport struct {
	cfg    *config.MQTTConfig
	logger *zap.Logger
}

// NewTransport 创建 MQTT 传输层
func NewTransport(cfg *config.MQTTConfig, logger *zap.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: logger,
	}
}

// Dial 为单台设备建立 MQTT 连接
func (t *Transport) Dial(ctx context.Context, deviceID string, onLost func(error)) (devmgr.Connection, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", t.cfg.ClientID, deviceID))

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}

	// 重连退避由 devmgr 负责，禁用 paho 自动重连
	opts.SetAutoReconnect(false)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		onLost(err)
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	case <-token.Done():
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &connection{
		client:       client,
		dataTopic:    fmt.Sprintf(t.cfg.DataTopicTemplate, deviceID),
		commandTopic: fmt.Sprintf(t.cfg.CommandTopicTemplate, deviceID),
		qos:          t.cfg.QoS,
		logger:       t.logger.With(zap.String("device_id", deviceID)),
	}, nil
}

// connection 单台设备的 MQTT 连接
type connection struct {
	client       mqtt.Client
	dataTopic    string
	commandTopic string
	qos          byte
	logger       *zap.Logger
}

// Subscribe 订阅设备数据主题
func (c *connection) Subscribe(handler func(topic string, payload []byte) error) error {
	token := c.client.Subscribe(c.dataTopic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			// 记录错误，但不中断订阅
			c.logger.Error("Error handling MQTT message",
				zap.String("topic", msg.Topic()),
				zap.Error(err),
			)
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.dataTopic, token.Error())
	}
	return nil
}

// Publish 向设备命令主题发布消息
func (c *connection) Publish(payload []byte) error {
	token := c.client.Publish(c.commandTopic, c.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", c.commandTopic, token.Error())
	}
	return nil
}

// Close 断开连接
func (c *connection) Close() {
	c.client.Disconnect(250) // 250ms等待时间
}
