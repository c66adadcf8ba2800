package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/google/uuid"
)

// AgentErrorRepository handles the append-only agent error log.
type AgentErrorRepository struct {
	db *db.DB
}

// NewAgentErrorRepository creates a new instance of AgentErrorRepository.
func NewAgentErrorRepository(database *db.DB) *AgentErrorRepository {
	return &AgentErrorRepository{db: database}
}

// Create appends an error record.
func (r *AgentErrorRepository) Create(ctx context.Context, agentError *models.AgentError) error {
	query := `
		INSERT INTO agent_errors (agent_id, task_id, severity, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	var metadata interface{}
	if len(agentError.Metadata) > 0 {
		metadata = []byte(agentError.Metadata)
	}
	err := r.db.QueryRowContext(ctx, query,
		agentError.AgentID,
		agentError.TaskID,
		agentError.Severity,
		agentError.Message,
		metadata,
	).Scan(&agentError.ID, &agentError.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent error: %w", err)
	}
	return nil
}

// ListByAgent retrieves an agent's errors, newest first.
func (r *AgentErrorRepository) ListByAgent(ctx context.Context, agentID int, limit, offset int) ([]models.AgentError, error) {
	query := `
		SELECT id, agent_id, task_id, severity, message, metadata, created_at
		FROM agent_errors
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryErrors(ctx, query, agentID, limit, offset)
}

// ListByTask retrieves the errors recorded against a task, oldest first.
func (r *AgentErrorRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]models.AgentError, error) {
	query := `
		SELECT id, agent_id, task_id, severity, message, metadata, created_at
		FROM agent_errors
		WHERE task_id = $1
		ORDER BY created_at ASC
	`
	return r.queryErrors(ctx, query, taskID)
}

func (r *AgentErrorRepository) queryErrors(ctx context.Context, query string, args ...interface{}) ([]models.AgentError, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent errors: %w", err)
	}
	defer rows.Close()

	var agentErrors []models.AgentError
	for rows.Next() {
		var e models.AgentError
		var metadata []byte
		if err := rows.Scan(
			&e.ID,
			&e.AgentID,
			&e.TaskID,
			&e.Severity,
			&e.Message,
			&metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent error row: %w", err)
		}
		e.Metadata = metadata
		agentErrors = append(agentErrors, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent error rows: %w", err)
	}
	return agentErrors, nil
}

// HasFatalForTask reports whether a fatal error was recorded against the
// task. A fatal error gates the task out of reassignment and retry.
func (r *AgentErrorRepository) HasFatalForTask(ctx context.Context, taskID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM agent_errors WHERE task_id = $1 AND severity = 'fatal')`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, taskID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check fatal errors for task %s: %w", taskID, err)
	}
	return exists, nil
}

// DeleteOlderThan drops error rows past the retention window.
func (r *AgentErrorRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agent_errors WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete agent errors before %s: %w", cutoff, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for agent error deletion: %w", err)
	}
	return rowsAffected, nil
}
