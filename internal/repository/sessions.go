package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"biosensor-monitor/internal/models"
)

// SessionsRepository 监测会话仓库
type SessionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionsRepository 创建监测会话仓库
func NewSessionsRepository(db *sql.DB, logger *zap.Logger) *SessionsRepository {
	return &SessionsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateSession 创建监测会话
// 不变式：同一 (patient_id, device_id) 同时只允许一个 active 会话，
// 已存在时返回 ErrDuplicateKey（真实冲突，不做幂等处理）
func (r *SessionsRepository) CreateSession(ctx context.Context, session *models.MonitoringSession) error {
	if session.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if session.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}

	existsQuery := `
		SELECT EXISTS (
			SELECT 1 FROM monitoring_sessions
			WHERE patient_id = $1
			  AND device_id = $2
			  AND status = 'active'
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, existsQuery, session.PatientID, session.DeviceID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check active session: %w", err)
	}
	if exists {
		return fmt.Errorf("active session for patient %s device %s: %w",
			session.PatientID, session.DeviceID, ErrDuplicateKey)
	}

	insertQuery := `
		INSERT INTO monitoring_sessions (
			session_id,
			patient_id,
			device_id,
			status,
			started_at,
			total_readings,
			alerts_generated,
			notes
		) VALUES ($1, $2, $3, $4, $5, 0, 0, $6)
	`

	_, err := r.db.ExecContext(ctx, insertQuery,
		session.SessionID,
		session.PatientID,
		session.DeviceID,
		string(models.SessionActive),
		session.StartedAt,
		session.Notes,
	)
	if err != nil {
		// 并发创建时由唯一部分索引兜底
		if isDuplicateKeyError(err) {
			return fmt.Errorf("session %s: %w", session.SessionID, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSession 根据 session_id 获取会话
func (r *SessionsRepository) GetSession(ctx context.Context, sessionID string) (*models.MonitoringSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	query := `
		SELECT
			session_id,
			patient_id,
			device_id,
			status,
			started_at,
			ended_at,
			total_readings,
			alerts_generated,
			notes
		FROM monitoring_sessions
		WHERE session_id = $1
	`

	var session models.MonitoringSession
	var endedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.PatientID,
		&session.DeviceID,
		&session.Status,
		&session.StartedAt,
		&endedAt,
		&session.TotalReadings,
		&session.AlertsGenerated,
		&session.Notes,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	return &session, nil
}

// EndSession 结束会话（completed 或 aborted），快照结束时间
// 会话不存在或已结束时返回 ErrNotFound
func (r *SessionsRepository) EndSession(ctx context.Context, sessionID string, status models.SessionStatus, endedAt time.Time, notes string) error {
	if sessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if status != models.SessionCompleted && status != models.SessionAborted {
		return fmt.Errorf("invalid terminal status: %s", status)
	}

	query := `
		UPDATE monitoring_sessions
		SET status = $2,
		    ended_at = $3,
		    notes = CASE WHEN $4 <> '' THEN $4 ELSE notes END
		WHERE session_id = $1
		  AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, sessionID, string(status), endedAt, notes)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("active session %s: %w", sessionID, ErrNotFound)
	}

	return nil
}

// IncrementCounters 累加设备当前 active 会话的读数/报警计数
// 没有 active 会话时是空操作（设备可以在会话之外上报）
func (r *SessionsRepository) IncrementCounters(ctx context.Context, deviceID string, readings, alerts int64) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if readings == 0 && alerts == 0 {
		return nil
	}

	query := `
		UPDATE monitoring_sessions
		SET total_readings = total_readings + $2,
		    alerts_generated = alerts_generated + $3
		WHERE device_id = $1
		  AND status = 'active'
	`

	_, err := r.db.ExecContext(ctx, query, deviceID, readings, alerts)
	if err != nil {
		return fmt.Errorf("failed to increment session counters: %w", err)
	}
	return nil
}

// GetActiveSession 查询 (patient_id, device_id) 的 active 会话
func (r *SessionsRepository) GetActiveSession(ctx context.Context, patientID, deviceID string) (*models.MonitoringSession, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			session_id,
			patient_id,
			device_id,
			status,
			started_at,
			ended_at,
			total_readings,
			alerts_generated,
			notes
		FROM monitoring_sessions
		WHERE patient_id = $1
		  AND device_id = $2
		  AND status = 'active'
	`

	var session models.MonitoringSession
	var endedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, patientID, deviceID).Scan(
		&session.SessionID,
		&session.PatientID,
		&session.DeviceID,
		&session.Status,
		&session.StartedAt,
		&endedAt,
		&session.TotalReadings,
		&session.AlertsGenerated,
		&session.Notes,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("active session for patient %s device %s: %w", patientID, deviceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}

	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	return &session, nil
}
