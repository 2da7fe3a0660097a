// Package devmgr 设备连接管理
//
// 每台设备的连接状态机：
//
//	disconnected → connecting → connected → (error | disconnected)
//	error → connecting（指数退避重试）
//
// 单轮连接最多尝试 MaxAttempts 次，退避延迟从 BaseDelay 翻倍
// 递增至 MaxDelay 封顶；次数耗尽后设备进入 disconnected 并标记
// unreachable，向运维侧暴露而不是无限重试。
//
// 传输层对单条消息的投递是尽力而为，本组件不做消息级重试，
// 只保证连接恢复的重试是有界且穷尽的。
package devmgr

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/metrics"
	"biosensor-monitor/internal/models"
)

// Connection 单台设备的传输连接
type Connection interface {
	Subscribe(handler func(topic string, payload []byte) error) error
	Publish(payload []byte) error
	Close()
}

// Transport 设备传输层（已完成认证的通道，证书/安全不在本层）
// onLost 在连接意外断开时由传输层回调
type Transport interface {
	Dial(ctx context.Context, deviceID string, onLost func(error)) (Connection, error)
}

// InboundHandler 入站消息处理函数（仅 connected 状态的消息会被路由）
type InboundHandler func(deviceID, topic string, payload []byte, receivedAt time.Time)

// StateListener 连接状态变更回调（用于持久化设备状态）
type StateListener func(deviceID string, state models.ConnectionState, unreachable bool)

type deviceConn struct {
	deviceID    string
	state       models.ConnectionState
	unreachable bool
	lastSeen    time.Time
	conn        Connection
}

// Manager 设备连接管理器
type Manager struct {
	transport Transport
	cfg       config.ReconnectConfig
	handler   InboundHandler
	onState   StateListener
	logger    *zap.Logger

	mu      sync.RWMutex
	devices map[string]*deviceConn

	ctx context.Context // 重连 goroutine 使用的基准上下文

	// 测试可替换的退避休眠；返回 false 表示上下文已取消
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewManager 创建连接管理器
func NewManager(
	transport Transport,
	cfg config.ReconnectConfig,
	handler InboundHandler,
	onState StateListener,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		transport: transport,
		cfg:       cfg,
		handler:   handler,
		onState:   onState,
		logger:    logger,
		devices:   make(map[string]*deviceConn),
		ctx:       context.Background(),
		sleep:     sleepContext,
	}
}

// Start 绑定重连 goroutine 的基准上下文
func (m *Manager) Start(ctx context.Context) {
	m.ctx = ctx
}

// Connect 建立设备连接（同步执行整轮退避重试）
// 成功返回 nil；尝试次数耗尽返回 connect_failed 并标记设备 unreachable
func (m *Manager) Connect(ctx context.Context, deviceID string) error {
	m.ensureDevice(deviceID)

	var lastErr error
	delay := m.cfg.BaseDelay

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		m.setState(deviceID, models.StateConnecting, false)
		metrics.ReconnectAttempts.WithLabelValues(deviceID).Inc()

		conn, err := m.transport.Dial(ctx, deviceID, func(lostErr error) {
			m.connectionLost(deviceID, lostErr)
		})
		if err == nil {
			if err := conn.Subscribe(m.inboundHandler(deviceID)); err != nil {
				conn.Close()
				lastErr = err
				m.logger.Error("Failed to subscribe after connect",
					zap.String("device_id", deviceID),
					zap.Error(err),
				)
			} else {
				m.mu.Lock()
				d := m.devices[deviceID]
				d.conn = conn
				m.mu.Unlock()
				m.setState(deviceID, models.StateConnected, false)
				m.logger.Info("Device connected",
					zap.String("device_id", deviceID),
					zap.Int("attempt", attempt),
				)
				return nil
			}
		} else {
			lastErr = err
			m.logger.Warn("Device connection attempt failed",
				zap.String("device_id", deviceID),
				zap.Int("attempt", attempt),
				zap.Duration("next_delay", delay),
				zap.Error(err),
			)
		}

		if attempt == m.cfg.MaxAttempts {
			break
		}
		if !m.sleep(ctx, delay) {
			m.setState(deviceID, models.StateDisconnected, false)
			return ctx.Err()
		}
		delay *= 2
		if delay > m.cfg.MaxDelay {
			delay = m.cfg.MaxDelay
		}
	}

	// 尝试次数耗尽：设备不可达
	m.setState(deviceID, models.StateDisconnected, true)
	m.logger.Error("Device unreachable after exhausting connection attempts",
		zap.String("device_id", deviceID),
		zap.Int("max_attempts", m.cfg.MaxAttempts),
	)
	return &TransportError{Kind: KindConnectFailed, DeviceID: deviceID, Err: lastErr}
}

// Disconnect 显式断开设备连接（不标记 unreachable）
func (m *Manager) Disconnect(deviceID string) {
	m.mu.Lock()
	d, ok := m.devices[deviceID]
	var conn Connection
	if ok {
		conn = d.conn
		d.conn = nil
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if ok {
		m.setState(deviceID, models.StateDisconnected, false)
		m.logger.Info("Device disconnected", zap.String("device_id", deviceID))
	}
}

// Publish 向设备下发命令（仅 connected 状态允许）
func (m *Manager) Publish(deviceID string, payload []byte) error {
	m.mu.RLock()
	d, ok := m.devices[deviceID]
	var conn Connection
	connected := ok && d.state == models.StateConnected
	if connected {
		conn = d.conn
	}
	m.mu.RUnlock()

	if !connected || conn == nil {
		return &TransportError{Kind: KindDisconnected, DeviceID: deviceID}
	}
	if err := conn.Publish(payload); err != nil {
		return &TransportError{Kind: KindPublishFailed, DeviceID: deviceID, Err: err}
	}
	return nil
}

// State 查询设备连接状态
func (m *Manager) State(deviceID string) (models.ConnectionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return models.StateDisconnected, false
	}
	return d.state, d.unreachable
}

// LastSeen 查询设备最近一次入站消息的时间（零值表示从未收到）
func (m *Manager) LastSeen(deviceID string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.devices[deviceID]; ok {
		return d.lastSeen
	}
	return time.Time{}
}

// connectionLost 传输层连接意外断开：进入 error 状态并按退避策略重连
func (m *Manager) connectionLost(deviceID string, err error) {
	m.mu.Lock()
	d, ok := m.devices[deviceID]
	if ok {
		d.conn = nil
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.setState(deviceID, models.StateError, false)
	m.logger.Warn("Device connection lost, scheduling reconnect",
		zap.String("device_id", deviceID),
		zap.Error(err),
	)

	go func() {
		if err := m.Connect(m.ctx, deviceID); err != nil {
			m.logger.Error("Reconnect failed",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
	}()
}

// inboundHandler 包装入站消息处理：仅 connected 状态路由并刷新 last-seen
func (m *Manager) inboundHandler(deviceID string) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		now := time.Now()

		m.mu.Lock()
		d, ok := m.devices[deviceID]
		connected := ok && d.state == models.StateConnected
		if connected {
			d.lastSeen = now
		}
		m.mu.Unlock()

		if !connected {
			metrics.DroppedWhileDisconnected.Inc()
			m.logger.Debug("Ignoring inbound message while not connected",
				zap.String("device_id", deviceID),
			)
			return nil
		}

		m.handler(deviceID, topic, payload, now)
		return nil
	}
}

func (m *Manager) ensureDevice(deviceID string) *deviceConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		d = &deviceConn{deviceID: deviceID, state: models.StateDisconnected}
		m.devices[deviceID] = d
	}
	return d
}

func (m *Manager) setState(deviceID string, state models.ConnectionState, unreachable bool) {
	m.mu.Lock()
	d, ok := m.devices[deviceID]
	if ok {
		d.state = state
		d.unreachable = unreachable
	}
	m.mu.Unlock()

	if ok && m.onState != nil {
		m.onState(deviceID, state, unreachable)
	}
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
