package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"biosensor-monitor/internal/models"
)

// AlertsRepository 报警仓库
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlert 写入一条报警
// 报警的唯一键冲突是真实冲突，直接返回 ErrDuplicateKey 不做幂等处理
func (r *AlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (
			alert_id,
			device_id,
			patient_id,
			reading_id,
			sensor_type,
			level,
			message,
			acknowledged,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.DeviceID,
		alert.PatientID,
		alert.ReadingID,
		string(alert.SensorType),
		string(alert.Level),
		alert.Message,
		alert.Acknowledged,
		alert.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("alert %s: %w", alert.AlertID, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// GetAlert 根据 alert_id 获取单条报警
func (r *AlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("alert_id is required")
	}

	query := `
		SELECT
			alert_id,
			device_id,
			patient_id,
			reading_id,
			sensor_type,
			level,
			message,
			acknowledged,
			acknowledged_by,
			acknowledged_at,
			created_at
		FROM alerts
		WHERE alert_id = $1
	`

	var alert models.Alert
	var patientID, acknowledgedBy sql.NullString
	var acknowledgedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, alertID).Scan(
		&alert.AlertID,
		&alert.DeviceID,
		&patientID,
		&alert.ReadingID,
		&alert.SensorType,
		&alert.Level,
		&alert.Message,
		&alert.Acknowledged,
		&acknowledgedBy,
		&acknowledgedAt,
		&alert.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	if patientID.Valid {
		alert.PatientID = &patientID.String
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = &acknowledgedBy.String
	}
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = &acknowledgedAt.Time
	}

	return &alert, nil
}

// AcknowledgeAlert 确认报警（报警创建后唯一允许的修改）
// 报警不存在或已被确认时返回 ErrNotFound
func (r *AlertsRepository) AcknowledgeAlert(ctx context.Context, alertID, acknowledgedBy string, acknowledgedAt time.Time) error {
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if acknowledgedBy == "" {
		return fmt.Errorf("acknowledged_by is required")
	}

	query := `
		UPDATE alerts
		SET acknowledged = true,
		    acknowledged_by = $2,
		    acknowledged_at = $3
		WHERE alert_id = $1
		  AND acknowledged = false
	`

	result, err := r.db.ExecContext(ctx, query, alertID, acknowledgedBy, acknowledgedAt)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert %s not acknowledgeable: %w", alertID, ErrNotFound)
	}

	return nil
}

// ListUnacknowledgedAlerts 查询某设备未确认的报警（倒序）
func (r *AlertsRepository) ListUnacknowledgedAlerts(ctx context.Context, deviceID string, limit int) ([]models.Alert, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			alert_id,
			device_id,
			patient_id,
			reading_id,
			sensor_type,
			level,
			message,
			acknowledged,
			acknowledged_by,
			acknowledged_at,
			created_at
		FROM alerts
		WHERE device_id = $1
		  AND acknowledged = false
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var alert models.Alert
		var patientID, acknowledgedBy sql.NullString
		var acknowledgedAt sql.NullTime
		if err := rows.Scan(
			&alert.AlertID,
			&alert.DeviceID,
			&patientID,
			&alert.ReadingID,
			&alert.SensorType,
			&alert.Level,
			&alert.Message,
			&alert.Acknowledged,
			&acknowledgedBy,
			&acknowledgedAt,
			&alert.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if patientID.Valid {
			alert.PatientID = &patientID.String
		}
		if acknowledgedBy.Valid {
			alert.AcknowledgedBy = &acknowledgedBy.String
		}
		if acknowledgedAt.Valid {
			alert.AcknowledgedAt = &acknowledgedAt.Time
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}
