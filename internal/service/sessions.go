package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"biosensor-monitor/internal/models"
)

// DeviceStore 设备查询接口（会话创建前校验设备存在）
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

// SessionStore 会话持久化接口
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.MonitoringSession) error
	GetSession(ctx context.Context, sessionID string) (*models.MonitoringSession, error)
	GetActiveSession(ctx context.Context, patientID, deviceID string) (*models.MonitoringSession, error)
	EndSession(ctx context.Context, sessionID string, status models.SessionStatus, endedAt time.Time, notes string) error
}

// SessionService 监测会话服务
type SessionService struct {
	sessions SessionStore
	devices  DeviceStore
	logger   *zap.Logger
}

// NewSessionService 创建会话服务
func NewSessionService(sessions SessionStore, devices DeviceStore, logger *zap.Logger) *SessionService {
	return &SessionService{
		sessions: sessions,
		devices:  devices,
		logger:   logger,
	}
}

// StartSession 为 (patient_id, device_id) 启动监测会话
// 设备必须已注册；同一对只允许一个 active 会话
func (s *SessionService) StartSession(ctx context.Context, patientID, deviceID, notes string) (*models.MonitoringSession, error) {
	if _, err := s.devices.GetDevice(ctx, deviceID); err != nil {
		return nil, fmt.Errorf("device lookup failed: %w", err)
	}

	session := &models.MonitoringSession{
		SessionID: uuid.New().String(),
		PatientID: patientID,
		DeviceID:  deviceID,
		Status:    models.SessionActive,
		StartedAt: time.Now().UTC(),
		Notes:     notes,
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info("监测会话已启动",
		zap.String("session_id", session.SessionID),
		zap.String("patient_id", patientID),
		zap.String("device_id", deviceID))
	return session, nil
}

// EndSession 正常结束会话
func (s *SessionService) EndSession(ctx context.Context, sessionID, notes string) error {
	if err := s.sessions.EndSession(ctx, sessionID, models.SessionCompleted, time.Now().UTC(), notes); err != nil {
		return err
	}
	s.logger.Info("监测会话已结束", zap.String("session_id", sessionID))
	return nil
}

// AbortSession 异常中止会话（设备故障、患者转移等）
func (s *SessionService) AbortSession(ctx context.Context, sessionID, notes string) error {
	if err := s.sessions.EndSession(ctx, sessionID, models.SessionAborted, time.Now().UTC(), notes); err != nil {
		return err
	}
	s.logger.Warn("监测会话已中止", zap.String("session_id", sessionID))
	return nil
}

// GetSession 查询会话
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.MonitoringSession, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

// GetActiveSession 查询 (patient_id, device_id) 的 active 会话
func (s *SessionService) GetActiveSession(ctx context.Context, patientID, deviceID string) (*models.MonitoringSession, error) {
	return s.sessions.GetActiveSession(ctx, patientID, deviceID)
}
