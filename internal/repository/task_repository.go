package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/pkg/debug"
	"github.com/google/uuid"
)

// TaskRepository handles database operations for tasks, including the
// compare-and-swap claim that gives each task exactly one owner.
type TaskRepository struct {
	db *db.DB
}

// NewTaskRepository creates a new instance of TaskRepository.
func NewTaskRepository(database *db.DB) *TaskRepository {
	return &TaskRepository{db: database}
}

const taskColumns = `id, attack_id, agent_id, status, keyspace_offset, keyspace_limit,
	retry_count, preemption_count, stale, progress_percentage, estimated_finish_time,
	claimed_by_agent_id, claimed_at, expires_at, activity_timestamp, start_date,
	last_error, created_at, updated_at`

// fatalErrorGuard excludes tasks that carry a fatal agent error; those are
// never reassigned or retried.
const fatalErrorGuard = `NOT EXISTS (
		SELECT 1 FROM agent_errors e WHERE e.task_id = t.id AND e.severity = 'fatal'
	)`

func scanTask(scan func(dest ...interface{}) error) (*models.Task, error) {
	task := &models.Task{}
	err := scan(
		&task.ID,
		&task.AttackID,
		&task.AgentID,
		&task.Status,
		&task.KeyspaceOffset,
		&task.KeyspaceLimit,
		&task.RetryCount,
		&task.PreemptionCount,
		&task.Stale,
		&task.ProgressPercentage,
		&task.EstimatedFinishTime,
		&task.ClaimedByAgentID,
		&task.ClaimedAt,
		&task.ExpiresAt,
		&task.ActivityTimestamp,
		&task.StartDate,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func taskColumnsFor(alias string) string {
	return alias + `.id, ` + alias + `.attack_id, ` + alias + `.agent_id, ` + alias + `.status, ` +
		alias + `.keyspace_offset, ` + alias + `.keyspace_limit, ` + alias + `.retry_count, ` +
		alias + `.preemption_count, ` + alias + `.stale, ` + alias + `.progress_percentage, ` +
		alias + `.estimated_finish_time, ` + alias + `.claimed_by_agent_id, ` + alias + `.claimed_at, ` +
		alias + `.expires_at, ` + alias + `.activity_timestamp, ` + alias + `.start_date, ` +
		alias + `.last_error, ` + alias + `.created_at, ` + alias + `.updated_at`
}

// Create inserts a new task. start_date defaults to now when unset.
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.StartDate.IsZero() {
		task.StartDate = time.Now()
	}
	query := `
		INSERT INTO tasks (id, attack_id, agent_id, status, keyspace_offset, keyspace_limit, start_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		task.ID,
		task.AttackID,
		task.AgentID,
		task.Status,
		task.KeyspaceOffset,
		task.KeyspaceLimit,
		task.StartDate,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	debug.Debug("Created task %s for attack %s (agent %d)", task.ID, task.AttackID, task.AgentID)
	return nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// ListByAttack retrieves all tasks of an attack, oldest first.
func (r *TaskRepository) ListByAttack(ctx context.Context, attackID uuid.UUID) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE attack_id = $1 ORDER BY created_at`
	return r.queryTasks(ctx, query, attackID)
}

// ListByAgent retrieves an agent's tasks, newest first.
func (r *TaskRepository) ListByAgent(ctx context.Context, agentID int, limit int) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE agent_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryTasks(ctx, query, agentID, limit)
}

// ListRunningByAgent retrieves the tasks an agent currently holds a live
// claim on. The shutdown cascade pauses these.
func (r *TaskRepository) ListRunningByAgent(ctx context.Context, agentID int) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE claimed_by_agent_id = $1 AND status = 'running' ORDER BY created_at`
	return r.queryTasks(ctx, query, agentID)
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// FindIncompleteByAgent returns the agent's oldest incomplete task, or nil.
// This is the sticky-reassignment lookup: an agent that crashed or
// reconnected picks its own in-flight work back up before anything new.
// Tasks with a fatal error on record are skipped.
func (r *TaskRepository) FindIncompleteByAgent(ctx context.Context, agentID int) (*models.Task, error) {
	query := `
		SELECT ` + taskColumnsFor("t") + `
		FROM tasks t
		WHERE t.agent_id = $1
		  AND t.status IN ('pending', 'running', 'failed')
		  AND ` + fatalErrorGuard + `
		ORDER BY t.created_at ASC
		LIMIT 1
	`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, agentID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find incomplete task for agent %d: %w", agentID, err)
	}
	return task, nil
}

// FindRetryableByAttack returns the attack's oldest failed task without a
// fatal error, or nil. Failed work is re-offered before pending work.
func (r *TaskRepository) FindRetryableByAttack(ctx context.Context, attackID uuid.UUID) (*models.Task, error) {
	query := `
		SELECT ` + taskColumnsFor("t") + `
		FROM tasks t
		WHERE t.attack_id = $1
		  AND t.status = 'failed'
		  AND ` + fatalErrorGuard + `
		ORDER BY t.created_at ASC
		LIMIT 1
	`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, attackID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find retryable task for attack %s: %w", attackID, err)
	}
	return task, nil
}

// FindUnclaimedPendingByAttack returns the attack's oldest pending task with
// no live claim, or nil.
func (r *TaskRepository) FindUnclaimedPendingByAttack(ctx context.Context, attackID uuid.UUID) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE attack_id = $1
		  AND status = 'pending'
		  AND claimed_by_agent_id IS NULL
		ORDER BY created_at ASC
		LIMIT 1
	`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, attackID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find pending task for attack %s: %w", attackID, err)
	}
	return task, nil
}

// GetRunningByAttack returns the attack's running task, or nil. The single
// task per attack model means at most one row matches.
func (r *TaskRepository) GetRunningByAttack(ctx context.Context, attackID uuid.UUID) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE attack_id = $1 AND status = 'running'
		ORDER BY created_at DESC
		LIMIT 1
	`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, attackID).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get running task for attack %s: %w", attackID, err)
	}
	return task, nil
}

// Claim attaches an agent to a pending, unclaimed task. The status guard in
// the WHERE clause makes the claim a compare-and-swap: when two agents race
// for the same task, exactly one UPDATE reports an affected row and the
// loser re-runs its search.
func (r *TaskRepository) Claim(ctx context.Context, taskID uuid.UUID, agentID int, expiresAt time.Time) (bool, error) {
	query := `
		UPDATE tasks
		SET agent_id = $1, claimed_by_agent_id = $1, claimed_at = NOW(), expires_at = $2,
		    activity_timestamp = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = 'pending' AND claimed_by_agent_id IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, agentID, expiresAt, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to claim task %s for agent %d: %w", taskID, agentID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for task claim: %w", err)
	}
	if rowsAffected == 0 {
		debug.Debug("Task %s claim lost by agent %d", taskID, agentID)
		return false, nil
	}
	return true, nil
}

// RefreshClaim re-stamps the claim fields on a task the agent already owns.
func (r *TaskRepository) RefreshClaim(ctx context.Context, taskID uuid.UUID, agentID int, expiresAt time.Time) error {
	query := `
		UPDATE tasks
		SET claimed_by_agent_id = $1, claimed_at = NOW(), expires_at = $2,
		    activity_timestamp = NOW(), updated_at = NOW()
		WHERE id = $3 AND agent_id = $1 AND status IN ('pending', 'running', 'failed')
	`
	result, err := r.db.ExecContext(ctx, query, agentID, expiresAt, taskID)
	if err != nil {
		return fmt.Errorf("failed to refresh claim on task %s for agent %d: %w", taskID, agentID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for claim refresh: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("task %s not reclaimable by agent %d: %w", taskID, agentID, ErrNotFound)
	}
	return nil
}

// RetryFailed returns a failed task to pending, counts the retry, clears
// the recorded failure and detaches the failed run's claim so any agent can
// pick it up. The status guard loses gracefully when another actor already
// moved the task.
func (r *TaskRepository) RetryFailed(ctx context.Context, taskID uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'pending', retry_count = retry_count + 1, last_error = NULL,
		    claimed_by_agent_id = NULL, claimed_at = NULL, expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`
	result, err := r.db.ExecContext(ctx, query, taskID)
	if err != nil {
		return false, fmt.Errorf("failed to retry task %s: %w", taskID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for task retry: %w", err)
	}
	return rowsAffected > 0, nil
}

// UpdateStatusFrom sets a task's status only when it still holds the
// expected current status.
func (r *TaskRepository) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) (bool, error) {
	query := `UPDATE tasks SET status = $1, activity_timestamp = NOW(), updated_at = NOW() WHERE id = $2 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition task %s from %s to %s: %w", id, from, to, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for task transition: %w", err)
	}
	return rowsAffected > 0, nil
}

// UpdateStatus sets a task's status without a precondition.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus) error {
	query := `UPDATE tasks SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update task %s status: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for task status update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("task %s not found for status update: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateProgress records a progress report and keeps the activity timestamp
// fresh so the claim sweep sees the task as alive.
func (r *TaskRepository) UpdateProgress(ctx context.Context, id uuid.UUID, percentage float64, estimatedFinish sql.NullTime) error {
	query := `
		UPDATE tasks
		SET progress_percentage = $1, estimated_finish_time = $2,
		    activity_timestamp = NOW(), updated_at = NOW()
		WHERE id = $3
	`
	result, err := r.db.ExecContext(ctx, query, percentage, estimatedFinish, id)
	if err != nil {
		return fmt.Errorf("failed to update task %s progress: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for task progress update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("task %s not found for progress update: %w", id, ErrNotFound)
	}
	return nil
}

// TouchActivity bumps the activity timestamp without any other change, for
// reports that prove the agent is alive but carry no state transition.
func (r *TaskRepository) TouchActivity(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE tasks SET activity_timestamp = NOW(), updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to touch activity on task %s: %w", id, err)
	}
	return nil
}

// SetLastError records the most recent failure message on the task row.
func (r *TaskRepository) SetLastError(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE tasks SET last_error = $1, updated_at = NOW() WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, message, id); err != nil {
		return fmt.Errorf("failed to set last error on task %s: %w", id, err)
	}
	return nil
}

// ClearClaim detaches the current owner while retaining agent_id for audit.
func (r *TaskRepository) ClearClaim(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE tasks
		SET claimed_by_agent_id = NULL, claimed_at = NULL, expires_at = NULL, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear claim on task %s: %w", id, err)
	}
	return nil
}

// Preempt bumps a running task back to pending for priority reassignment:
// claim cleared, preemption counted, stale set so the next owner refreshes
// cracked hashes before resuming. Eligibility is checked by the caller; the
// status guard only protects against racing completions.
func (r *TaskRepository) Preempt(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE tasks
		SET status = 'pending', preemption_count = preemption_count + 1, stale = TRUE,
		    claimed_by_agent_id = NULL, claimed_at = NULL, expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to preempt task %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for task preemption: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkStaleForHashList flags every in-flight task working the hash list,
// except the reporting task, so their agents pull fresh cracked hashes.
func (r *TaskRepository) MarkStaleForHashList(ctx context.Context, hashListID int64, exceptTaskID uuid.UUID) (int64, error) {
	query := `
		UPDATE tasks
		SET stale = TRUE, updated_at = NOW()
		WHERE status IN ('pending', 'running')
		  AND id != $2
		  AND stale = FALSE
		  AND attack_id IN (
			SELECT a.id FROM attacks a
			JOIN campaigns c ON c.id = a.campaign_id
			WHERE c.hash_list_id = $1
		  )
	`
	result, err := r.db.ExecContext(ctx, query, hashListID, exceptTaskID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark tasks stale for hash list %d: %w", hashListID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for stale marking: %w", err)
	}
	return rowsAffected, nil
}

// SetStale flags a single task so its next owner refreshes cracked hashes
// before resuming.
func (r *TaskRepository) SetStale(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE tasks SET stale = TRUE, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to set stale flag on task %s: %w", id, err)
	}
	return nil
}

// ClearStale resets the stale flag after the agent has synced cracked hashes.
func (r *TaskRepository) ClearStale(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE tasks SET stale = FALSE, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear stale flag on task %s: %w", id, err)
	}
	return nil
}

// CountIncompleteByAttack counts tasks of the attack still in flight.
func (r *TaskRepository) CountIncompleteByAttack(ctx context.Context, attackID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE attack_id = $1 AND status IN ('pending', 'running', 'failed', 'paused')`
	var count int
	if err := r.db.QueryRowContext(ctx, query, attackID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count incomplete tasks for attack %s: %w", attackID, err)
	}
	return count, nil
}

// CountNotInStatusByAttack counts the attack's tasks in any status other
// than the given one. Zero means every task reached that status, which is
// the corroboration the attack-level complete and exhaust checks need.
func (r *TaskRepository) CountNotInStatusByAttack(ctx context.Context, attackID uuid.UUID, status models.TaskStatus) (int, error) {
	query := `SELECT COUNT(*) FROM tasks WHERE attack_id = $1 AND status != $2`
	var count int
	if err := r.db.QueryRowContext(ctx, query, attackID, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks outside %s for attack %s: %w", status, attackID, err)
	}
	return count, nil
}

// CountRunningByCampaign counts running tasks across a campaign's attacks.
func (r *TaskRepository) CountRunningByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM tasks t
		JOIN attacks a ON a.id = t.attack_id
		WHERE a.campaign_id = $1 AND t.status = 'running'
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count running tasks for campaign %s: %w", campaignID, err)
	}
	return count, nil
}

// PreemptionCandidate pairs a running task with its campaign's priority for
// the controller's eligibility walk.
type PreemptionCandidate struct {
	Task       models.Task
	CampaignID uuid.UUID
	Priority   models.CampaignPriority
}

// ListRunningBelowPriority returns running tasks whose campaign ranks below
// the given priority, lowest priority and least progress first, so the
// controller wastes as little completed work as possible.
func (r *TaskRepository) ListRunningBelowPriority(ctx context.Context, priority models.CampaignPriority) ([]PreemptionCandidate, error) {
	query := `
		SELECT ` + taskColumnsFor("t") + `, c.id, c.priority
		FROM tasks t
		JOIN attacks a ON a.id = t.attack_id
		JOIN campaigns c ON c.id = a.campaign_id
		WHERE t.status = 'running'
		  AND c.deleted_at IS NULL
		  AND ` + priorityRankSQL + ` < CASE $1 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END
		ORDER BY ` + priorityRankSQL + ` ASC, t.progress_percentage ASC
	`
	rows, err := r.db.QueryContext(ctx, query, priority)
	if err != nil {
		return nil, fmt.Errorf("failed to list preemption candidates below %s: %w", priority, err)
	}
	defer rows.Close()

	var candidates []PreemptionCandidate
	for rows.Next() {
		var cand PreemptionCandidate
		if err := rows.Scan(
			&cand.Task.ID,
			&cand.Task.AttackID,
			&cand.Task.AgentID,
			&cand.Task.Status,
			&cand.Task.KeyspaceOffset,
			&cand.Task.KeyspaceLimit,
			&cand.Task.RetryCount,
			&cand.Task.PreemptionCount,
			&cand.Task.Stale,
			&cand.Task.ProgressPercentage,
			&cand.Task.EstimatedFinishTime,
			&cand.Task.ClaimedByAgentID,
			&cand.Task.ClaimedAt,
			&cand.Task.ExpiresAt,
			&cand.Task.ActivityTimestamp,
			&cand.Task.StartDate,
			&cand.Task.LastError,
			&cand.Task.CreatedAt,
			&cand.Task.UpdatedAt,
			&cand.CampaignID,
			&cand.Priority,
		); err != nil {
			return nil, fmt.Errorf("failed to scan preemption candidate row: %w", err)
		}
		candidates = append(candidates, cand)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating preemption candidate rows: %w", err)
	}
	return candidates, nil
}

// MaxEstimatedFinishByCampaign returns the latest estimated finish time
// reported by the campaign's running tasks. ok is false when no running task
// has reported an estimate yet.
func (r *TaskRepository) MaxEstimatedFinishByCampaign(ctx context.Context, campaignID uuid.UUID) (time.Time, bool, error) {
	query := `
		SELECT MAX(t.estimated_finish_time)
		FROM tasks t
		JOIN attacks a ON a.id = t.attack_id
		WHERE a.campaign_id = $1 AND t.status = 'running'
	`
	var finish sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&finish); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get max estimated finish for campaign %s: %w", campaignID, err)
	}
	if !finish.Valid {
		return time.Time{}, false, nil
	}
	return finish.Time, true, nil
}

// ListExpiredClaims returns claimed tasks whose expiry passed without the
// owner completing or reporting, so the sweep can requeue them.
func (r *TaskRepository) ListExpiredClaims(ctx context.Context, now time.Time) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE claimed_by_agent_id IS NOT NULL
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
		  AND status IN ('pending', 'running')
		ORDER BY expires_at ASC
	`
	return r.queryTasks(ctx, query, now)
}

// DeleteByAttackTx destroys every task of an attack inside a caller-owned
// transaction. Abandon requires this to commit atomically with the attack's
// return to pending so no agent can be mid-claim on a sibling.
func (r *TaskRepository) DeleteByAttackTx(tx *sql.Tx, attackID uuid.UUID) (int64, error) {
	result, err := tx.Exec(`DELETE FROM tasks WHERE attack_id = $1`, attackID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tasks for attack %s: %w", attackID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for task deletion: %w", err)
	}
	return rowsAffected, nil
}

// BeginTx exposes a transaction for multi-repository sequences such as the
// abandon cascade.
func (r *TaskRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}
