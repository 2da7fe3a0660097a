package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"biosensor-monitor/internal/models"
)

// ReadingsRepository 读数仓库
type ReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingsRepository 创建读数仓库
func NewReadingsRepository(db *sql.DB, logger *zap.Logger) *ReadingsRepository {
	return &ReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// CreateReading 写入一条读数（读数创建后不可变）
// 唯一键冲突返回 ErrDuplicateKey，调用方对重复投递按幂等成功处理
func (r *ReadingsRepository) CreateReading(ctx context.Context, reading *models.Reading) error {
	query := `
		INSERT INTO readings (
			reading_id,
			device_id,
			patient_id,
			sensor_type,
			value,
			unit,
			timestamp,
			quality_score,
			low_quality,
			is_anomaly,
			anomaly_score,
			metadata,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.ReadingID,
		reading.DeviceID,
		reading.PatientID,
		string(reading.SensorType),
		reading.Value,
		reading.Unit,
		reading.Timestamp,
		reading.QualityScore,
		reading.LowQuality,
		reading.IsAnomaly,
		reading.AnomalyScore,
		reading.Metadata,
		reading.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("reading %s: %w", reading.ReadingID, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create reading: %w", err)
	}

	return nil
}

// ListReadings 按设备和传感器类型查询历史读数（倒序，limit 限制条数）
func (r *ReadingsRepository) ListReadings(ctx context.Context, deviceID string, sensorType models.SensorType, since time.Time, limit int) ([]models.Reading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `
		SELECT
			reading_id,
			device_id,
			patient_id,
			sensor_type,
			value,
			unit,
			timestamp,
			quality_score,
			low_quality,
			is_anomaly,
			anomaly_score,
			metadata,
			created_at
		FROM readings
		WHERE device_id = $1
		  AND sensor_type = $2
		  AND timestamp >= $3
		ORDER BY timestamp DESC
		LIMIT $4
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, string(sensorType), since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var reading models.Reading
		var patientID sql.NullString
		if err := rows.Scan(
			&reading.ReadingID,
			&reading.DeviceID,
			&patientID,
			&reading.SensorType,
			&reading.Value,
			&reading.Unit,
			&reading.Timestamp,
			&reading.QualityScore,
			&reading.LowQuality,
			&reading.IsAnomaly,
			&reading.AnomalyScore,
			&reading.Metadata,
			&reading.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		if patientID.Valid {
			reading.PatientID = &patientID.String
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return readings, nil
}
