package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/google/uuid"
)

// HashcatStatusRepository stores the transient per-task status feed relayed
// from the cracking tool.
type HashcatStatusRepository struct {
	db *db.DB
}

// NewHashcatStatusRepository creates a new instance of HashcatStatusRepository.
func NewHashcatStatusRepository(database *db.DB) *HashcatStatusRepository {
	return &HashcatStatusRepository{db: database}
}

// Create inserts a status report and its device rows in one transaction.
func (r *HashcatStatusRepository) Create(ctx context.Context, status *models.HashcatStatus) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for status insert: %w", err)
	}
	defer txn.Rollback()

	query := `
		INSERT INTO hashcat_statuses (
			task_id, session, status_code, time_reported,
			progress_numerator, progress_denominator, restore_point, estimated_stop,
			guess_base, guess_base_count, guess_base_offset, guess_base_percentage,
			guess_mod, guess_mod_count, guess_mod_offset, guess_mod_percentage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at
	`
	err = txn.QueryRowContext(ctx, query,
		status.TaskID,
		status.Session,
		status.StatusCode,
		status.TimeReported,
		status.ProgressNumerator,
		status.ProgressDenominator,
		status.RestorePoint,
		status.EstimatedStop,
		status.GuessBase,
		status.GuessBaseCount,
		status.GuessBaseOffset,
		status.GuessBasePercentage,
		status.GuessMod,
		status.GuessModCount,
		status.GuessModOffset,
		status.GuessModPercentage,
	).Scan(&status.ID, &status.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert hashcat status for task %s: %w", status.TaskID, err)
	}

	if len(status.Devices) > 0 {
		deviceQuery := `INSERT INTO device_statuses (hashcat_status_id, device_id, device_name, device_type, speed, utilization, temperature) VALUES `
		args := make([]interface{}, 0, len(status.Devices)*7)
		for i := range status.Devices {
			device := &status.Devices[i]
			device.HashcatStatusID = status.ID
			if i > 0 {
				deviceQuery += ", "
			}
			baseParam := i * 7
			deviceQuery += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				baseParam+1, baseParam+2, baseParam+3, baseParam+4, baseParam+5, baseParam+6, baseParam+7)
			args = append(args,
				status.ID,
				device.DeviceID,
				device.DeviceName,
				device.DeviceType,
				device.Speed,
				device.Utilization,
				device.Temperature,
			)
		}
		if _, err := txn.ExecContext(ctx, deviceQuery, args...); err != nil {
			return fmt.Errorf("failed to insert device statuses for task %s: %w", status.TaskID, err)
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit hashcat status for task %s: %w", status.TaskID, err)
	}
	return nil
}

// LatestByTask retrieves the most recent status report for a task, with
// device rows attached.
func (r *HashcatStatusRepository) LatestByTask(ctx context.Context, taskID uuid.UUID) (*models.HashcatStatus, error) {
	query := `
		SELECT id, task_id, session, status_code, time_reported,
		       progress_numerator, progress_denominator, restore_point, estimated_stop,
		       guess_base, guess_base_count, guess_base_offset, guess_base_percentage,
		       guess_mod, guess_mod_count, guess_mod_offset, guess_mod_percentage,
		       created_at
		FROM hashcat_statuses
		WHERE task_id = $1
		ORDER BY time_reported DESC
		LIMIT 1
	`
	status := &models.HashcatStatus{}
	var estimatedStop sql.NullTime
	err := r.db.QueryRowContext(ctx, query, taskID).Scan(
		&status.ID,
		&status.TaskID,
		&status.Session,
		&status.StatusCode,
		&status.TimeReported,
		&status.ProgressNumerator,
		&status.ProgressDenominator,
		&status.RestorePoint,
		&estimatedStop,
		&status.GuessBase,
		&status.GuessBaseCount,
		&status.GuessBaseOffset,
		&status.GuessBasePercentage,
		&status.GuessMod,
		&status.GuessModCount,
		&status.GuessModOffset,
		&status.GuessModPercentage,
		&status.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest status for task %s: %w", taskID, err)
	}
	if estimatedStop.Valid {
		status.EstimatedStop = &estimatedStop.Time
	}

	deviceQuery := `
		SELECT id, hashcat_status_id, device_id, device_name, device_type, speed, utilization, temperature
		FROM device_statuses
		WHERE hashcat_status_id = $1
		ORDER BY device_id
	`
	rows, err := r.db.QueryContext(ctx, deviceQuery, status.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device statuses for task %s: %w", taskID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var device models.DeviceStatus
		if err := rows.Scan(
			&device.ID,
			&device.HashcatStatusID,
			&device.DeviceID,
			&device.DeviceName,
			&device.DeviceType,
			&device.Speed,
			&device.Utilization,
			&device.Temperature,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device status row: %w", err)
		}
		status.Devices = append(status.Devices, device)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device status rows: %w", err)
	}
	return status, nil
}

// DeleteByTask purges the status feed once the task reaches a terminal
// state. Device rows cascade.
func (r *HashcatStatusRepository) DeleteByTask(ctx context.Context, taskID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM hashcat_statuses WHERE task_id = $1`, taskID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete statuses for task %s: %w", taskID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for status deletion: %w", err)
	}
	return rowsAffected, nil
}

// DeleteOlderThan drops status rows past the retention window.
func (r *HashcatStatusRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM hashcat_statuses WHERE time_reported < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete statuses before %s: %w", cutoff, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for status cleanup: %w", err)
	}
	return rowsAffected, nil
}
