package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"biosensor-monitor/internal/config"
	"biosensor-monitor/internal/database"
	"biosensor-monitor/internal/devmgr"
	"biosensor-monitor/internal/fanout"
	"biosensor-monitor/internal/models"
	"biosensor-monitor/internal/mqttclient"
	"biosensor-monitor/internal/notifier"
	"biosensor-monitor/internal/pipeline"
	"biosensor-monitor/internal/redisclient"
	"biosensor-monitor/internal/repository"
	"biosensor-monitor/internal/threshold"
)

// MonitorService 生物传感器监测服务（整合各层）
type MonitorService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	readingsRepo *repository.ReadingsRepository
	alertsRepo   *repository.AlertsRepository
	devicesRepo  *repository.DevicesRepository
	sessionsRepo *repository.SessionsRepository
	engine       *threshold.Engine
	pipeline     *pipeline.Pipeline
	devices      *devmgr.Manager
	sessions     *SessionService

	// 设备到患者的绑定缓存（入站读数打患者标签用）
	mu       sync.RWMutex
	patients map[string]*string
}

// NewMonitorService 创建监测服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisclient.NewRedisClient(&cfg.Redis)
	if err := redisclient.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	readingsRepo := repository.NewReadingsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	devicesRepo := repository.NewDevicesRepository(db, logger)
	sessionsRepo := repository.NewSessionsRepository(db, logger)

	// 4. 创建分发与通知
	publisher := fanout.NewPublisher(redisClient, &cfg.Fanout, logger)
	webhookNotifier := notifier.NewWebhookNotifier(&cfg.Notifier, logger)

	// 5. 创建流水线
	engine := threshold.NewEngine(cfg.Thresholds, logger)
	sink := NewSink(cfg.Persistence, readingsRepo, alertsRepo, sessionsRepo, publisher, webhookNotifier, logger)
	pipe := pipeline.New(cfg.Pipeline, engine, sink, logger)

	s := &MonitorService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		logger:       logger,
		readingsRepo: readingsRepo,
		alertsRepo:   alertsRepo,
		devicesRepo:  devicesRepo,
		sessionsRepo: sessionsRepo,
		engine:       engine,
		pipeline:     pipe,
		sessions:     NewSessionService(sessionsRepo, devicesRepo, logger),
		patients:     make(map[string]*string),
	}

	// 6. 创建设备连接管理器（MQTT 传输）
	transport := mqttclient.NewTransport(&cfg.MQTT, logger)
	s.devices = devmgr.NewManager(transport, cfg.Reconnect, s.handleInbound, s.onDeviceState, logger)

	return s, nil
}

// Start 启动服务：启动流水线、连接已注册设备
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting biosensor monitor service")

	s.pipeline.Start(ctx)
	s.devices.Start(ctx)

	registered, err := s.devicesRepo.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list registered devices: %w", err)
	}

	s.mu.Lock()
	for i := range registered {
		s.patients[registered[i].DeviceID] = registered[i].PatientID
	}
	s.mu.Unlock()

	for i := range registered {
		deviceID := registered[i].DeviceID
		go func() {
			if err := s.devices.Connect(ctx, deviceID); err != nil {
				s.logger.Error("Initial device connection failed",
					zap.String("device_id", deviceID),
					zap.Error(err))
			}
		}()
	}

	s.logger.Info("Biosensor monitor service started",
		zap.Int("registered_devices", len(registered)))
	return nil
}

// Stop 停止服务并释放资源
func (s *MonitorService) Stop() error {
	s.logger.Info("Stopping biosensor monitor service")

	s.pipeline.Wait()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := redisclient.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	return nil
}

// Sessions 会话服务
func (s *MonitorService) Sessions() *SessionService {
	return s.sessions
}

// RegisterDevice 注册设备并建立连接
func (s *MonitorService) RegisterDevice(ctx context.Context, deviceID, deviceType string, patientID *string) error {
	device := &models.Device{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		PatientID:  patientID,
		State:      models.StateDisconnected,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.devicesRepo.RegisterDevice(ctx, device); err != nil {
		return err
	}

	s.mu.Lock()
	s.patients[deviceID] = patientID
	s.mu.Unlock()

	s.logger.Info("Device registered",
		zap.String("device_id", deviceID),
		zap.String("device_type", deviceType))
	return nil
}

// ConnectDevice 建立设备连接（同步执行整轮退避重试）
func (s *MonitorService) ConnectDevice(ctx context.Context, deviceID string) error {
	return s.devices.Connect(ctx, deviceID)
}

// DisconnectDevice 显式断开设备连接
func (s *MonitorService) DisconnectDevice(deviceID string) {
	s.devices.Disconnect(deviceID)
}

// DeregisterDevice 注销设备：断开连接并清除流水线中的窗口和违规状态
func (s *MonitorService) DeregisterDevice(ctx context.Context, deviceID string) error {
	s.devices.Disconnect(deviceID)

	s.mu.Lock()
	delete(s.patients, deviceID)
	s.mu.Unlock()

	return s.pipeline.RemoveDevice(ctx, deviceID)
}

// SendCommand 向设备下发命令（仅 connected 状态允许）
func (s *MonitorService) SendCommand(deviceID string, payload []byte) error {
	return s.devices.Publish(deviceID, payload)
}

// UpdateThresholds 运行时更新传感器阈值表
func (s *MonitorService) UpdateThresholds(sensorType models.SensorType, thresholds models.AlertThresholds) error {
	return s.engine.UpdateThresholds(sensorType, thresholds)
}

// AcknowledgeAlert 确认报警
func (s *MonitorService) AcknowledgeAlert(ctx context.Context, alertID, acknowledgedBy string) error {
	return s.alertsRepo.AcknowledgeAlert(ctx, alertID, acknowledgedBy, time.Now().UTC())
}

// handleInbound 入站消息处理：解析信封 → 遥测落库 → 逐条提交流水线
// 单条读数失败不影响同信封的其他读数
func (s *MonitorService) handleInbound(deviceID, topic string, payload []byte, receivedAt time.Time) {
	var envelope models.InboundEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn("Failed to parse inbound envelope",
			zap.String("device_id", deviceID),
			zap.String("topic", topic),
			zap.Error(err))
		return
	}
	if envelope.DeviceID != "" && envelope.DeviceID != deviceID {
		s.logger.Warn("Envelope device_id mismatch, using transport identity",
			zap.String("transport_device_id", deviceID),
			zap.String("envelope_device_id", envelope.DeviceID))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Persistence.OpTimeout)
	defer cancel()

	if err := s.devicesRepo.UpdateLastSeen(ctx, deviceID, receivedAt); err != nil {
		s.logger.Warn("Failed to update device last seen", zap.Error(err))
	}
	if err := s.devicesRepo.UpdateTelemetry(ctx, deviceID, &envelope.Telemetry, receivedAt); err != nil {
		s.logger.Warn("Failed to update device telemetry", zap.Error(err))
	}

	patientID := s.patientFor(deviceID)
	for i := range envelope.Readings {
		raw := envelope.Readings[i]
		// 传输层身份优先于信封内声明
		raw.DeviceID = deviceID
		if err := s.pipeline.Submit(&raw, &envelope.Telemetry, patientID, receivedAt); err != nil {
			s.logger.Debug("Reading not accepted",
				zap.String("device_id", deviceID),
				zap.String("sensor_type", raw.SensorType),
				zap.Error(err))
		}
	}
}

// onDeviceState 设备连接状态变更：落库暴露给运维侧
func (s *MonitorService) onDeviceState(deviceID string, state models.ConnectionState, unreachable bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Persistence.OpTimeout)
	defer cancel()

	if err := s.devicesRepo.SetConnectionState(ctx, deviceID, state, unreachable, time.Now().UTC()); err != nil {
		s.logger.Warn("Failed to persist device state",
			zap.String("device_id", deviceID),
			zap.String("state", string(state)),
			zap.Error(err))
	}
}

func (s *MonitorService) patientFor(deviceID string) *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patients[deviceID]
}
