package devmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/models"
)

// fakeConnection 测试用传输连接
type fakeConnection struct {
	mu        sync.Mutex
	handler   func(topic string, payload []byte) error
	published [][]byte
	closed    bool
}

func (c *fakeConnection) Subscribe(handler func(topic string, payload []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
	return nil
}

func (c *fakeConnection) Publish(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, payload)
	return nil
}

func (c *fakeConnection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConnection) deliver(topic string, payload []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		_ = handler(topic, payload)
	}
}

// fakeTransport 测试用传输层：failures 次失败后成功
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	dials    int
	conns    []*fakeConnection
	onLost   func(error)
}

func (t *fakeTransport) Dial(_ context.Context, _ string, onLost func(error)) (Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.dials <= t.failures {
		return nil, errors.New("broker unavailable")
	}
	t.onLost = onLost
	conn := &fakeConnection{}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) lastConn() *fakeConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func testReconnectConfig() config.ReconnectConfig {
	return config.ReconnectConfig{
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		MaxAttempts: 5,
	}
}

// newTestManager 创建管理器并记录退避延迟（休眠被替换为即时返回）
func newTestManager(transport Transport, handler InboundHandler) (*Manager, *[]time.Duration) {
	delays := &[]time.Duration{}
	if handler == nil {
		handler = func(string, string, []byte, time.Time) {}
	}
	m := NewManager(transport, testReconnectConfig(), handler, nil, zap.NewNop())
	m.sleep = func(_ context.Context, d time.Duration) bool {
		*delays = append(*delays, d)
		return true
	}
	return m, delays
}

func TestConnect_Success(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(transport, nil)

	err := m.Connect(context.Background(), "device-1")

	require.NoError(t, err)
	state, unreachable := m.State("device-1")
	assert.Equal(t, models.StateConnected, state)
	assert.False(t, unreachable)
	assert.Equal(t, 1, transport.dialCount())
}

func TestConnect_ExhaustsAttemptsThenUnreachable(t *testing.T) {
	// 永不成功的设备：恰好 MaxAttempts 次尝试，延迟非递减且封顶
	transport := &fakeTransport{failures: 100}
	m, delays := newTestManager(transport, nil)

	err := m.Connect(context.Background(), "device-1")

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindConnectFailed, terr.Kind)

	assert.Equal(t, 5, transport.dialCount())

	// MaxAttempts-1 次休眠，指数递增至上限
	require.Len(t, *delays, 4)
	assert.Equal(t, []time.Duration{
		time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
		4 * time.Millisecond, // 封顶
	}, *delays)
	for i := 1; i < len(*delays); i++ {
		assert.GreaterOrEqual(t, (*delays)[i], (*delays)[i-1])
	}

	state, unreachable := m.State("device-1")
	assert.Equal(t, models.StateDisconnected, state)
	assert.True(t, unreachable)
}

func TestConnect_SucceedsAfterRetries(t *testing.T) {
	transport := &fakeTransport{failures: 2}
	m, delays := newTestManager(transport, nil)

	err := m.Connect(context.Background(), "device-1")

	require.NoError(t, err)
	assert.Equal(t, 3, transport.dialCount())
	assert.Len(t, *delays, 2)

	state, unreachable := m.State("device-1")
	assert.Equal(t, models.StateConnected, state)
	assert.False(t, unreachable)
}

func TestInbound_RoutedOnlyWhileConnected(t *testing.T) {
	// 连接/断开切换期间：仅 connected 状态的消息被路由且刷新 last-seen
	var received [][]byte
	var mu sync.Mutex
	handler := func(_, _ string, payload []byte, _ time.Time) {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	}

	transport := &fakeTransport{}
	m, _ := newTestManager(transport, handler)

	require.NoError(t, m.Connect(context.Background(), "device-1"))
	conn := transport.lastConn()

	conn.deliver("devices/device-1/data", []byte("msg-1"))
	assert.False(t, m.LastSeen("device-1").IsZero())
	firstSeen := m.LastSeen("device-1")

	// 显式断开后投递的消息被忽略，last-seen 不变
	m.Disconnect("device-1")
	conn.deliver("devices/device-1/data", []byte("msg-2"))

	mu.Lock()
	assert.Len(t, received, 1)
	mu.Unlock()
	assert.Equal(t, firstSeen, m.LastSeen("device-1"))

	// 重新连接后恢复路由
	require.NoError(t, m.Connect(context.Background(), "device-1"))
	transport.lastConn().deliver("devices/device-1/data", []byte("msg-3"))

	mu.Lock()
	assert.Len(t, received, 2)
	assert.Equal(t, []byte("msg-3"), received[1])
	mu.Unlock()
}

func TestPublish_RequiresConnected(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(transport, nil)

	// 未连接时下发命令失败
	err := m.Publish("device-1", []byte("cmd"))
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, KindDisconnected, terr.Kind)

	require.NoError(t, m.Connect(context.Background(), "device-1"))
	require.NoError(t, m.Publish("device-1", []byte("cmd")))

	conn := transport.lastConn()
	conn.mu.Lock()
	assert.Len(t, conn.published, 1)
	conn.mu.Unlock()
}

func TestConnectionLost_TriggersReconnect(t *testing.T) {
	transport := &fakeTransport{}
	m, _ := newTestManager(transport, nil)
	m.Start(context.Background())

	require.NoError(t, m.Connect(context.Background(), "device-1"))
	require.Equal(t, 1, transport.dialCount())

	// 模拟传输层断连：进入 error 后自动重连
	transport.onLost(errors.New("broker closed connection"))

	require.Eventually(t, func() bool {
		state, _ := m.State("device-1")
		return state == models.StateConnected && transport.dialCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStateListener_Notified(t *testing.T) {
	var mu sync.Mutex
	var states []models.ConnectionState

	transport := &fakeTransport{}
	m := NewManager(transport, testReconnectConfig(),
		func(string, string, []byte, time.Time) {},
		func(_ string, state models.ConnectionState, _ bool) {
			mu.Lock()
			states = append(states, state)
			mu.Unlock()
		},
		zap.NewNop(),
	)
	m.sleep = func(context.Context, time.Duration) bool { return true }

	require.NoError(t, m.Connect(context.Background(), "device-1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.ConnectionState{models.StateConnecting, models.StateConnected}, states)
}
