package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTaskRepo(t *testing.T) (*TaskRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewTaskRepository(&db.DB{DB: mockDB}), mock
}

func taskRows(task *models.Task) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "attack_id", "agent_id", "status", "keyspace_offset", "keyspace_limit",
		"retry_count", "preemption_count", "stale", "progress_percentage", "estimated_finish_time",
		"claimed_by_agent_id", "claimed_at", "expires_at", "activity_timestamp", "start_date",
		"last_error", "created_at", "updated_at",
	}).AddRow(
		task.ID, task.AttackID, task.AgentID, task.Status, task.KeyspaceOffset, task.KeyspaceLimit,
		task.RetryCount, task.PreemptionCount, task.Stale, task.ProgressPercentage, nil,
		nil, nil, nil, nil, task.StartDate,
		nil, task.CreatedAt, task.UpdatedAt,
	)
}

func TestTaskRepository_Claim(t *testing.T) {
	taskID := uuid.New()
	expiresAt := time.Now().Add(30 * time.Minute)

	tests := []struct {
		name         string
		rowsAffected int64
		wantClaimed  bool
	}{
		{
			name:         "claim wins",
			rowsAffected: 1,
			wantClaimed:  true,
		},
		{
			name:         "claim lost to another agent",
			rowsAffected: 0,
			wantClaimed:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockTaskRepo(t)
			mock.ExpectExec("UPDATE tasks").
				WithArgs(7, expiresAt, taskID).
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			claimed, err := repo.Claim(context.Background(), taskID, 7, expiresAt)
			require.NoError(t, err)
			assert.Equal(t, tt.wantClaimed, claimed)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTaskRepository_RetryFailed(t *testing.T) {
	taskID := uuid.New()

	tests := []struct {
		name         string
		rowsAffected int64
		wantRetried  bool
	}{
		{
			name:         "failed task requeued",
			rowsAffected: 1,
			wantRetried:  true,
		},
		{
			name:         "task no longer failed",
			rowsAffected: 0,
			wantRetried:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockTaskRepo(t)
			mock.ExpectExec("UPDATE tasks").
				WithArgs(taskID).
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			retried, err := repo.RetryFailed(context.Background(), taskID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRetried, retried)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTaskRepository_Preempt(t *testing.T) {
	taskID := uuid.New()

	t.Run("running task preempted", func(t *testing.T) {
		repo, mock := newMockTaskRepo(t)
		mock.ExpectExec("UPDATE tasks").
			WithArgs(taskID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		preempted, err := repo.Preempt(context.Background(), taskID)
		require.NoError(t, err)
		assert.True(t, preempted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("task already left running", func(t *testing.T) {
		repo, mock := newMockTaskRepo(t)
		mock.ExpectExec("UPDATE tasks").
			WithArgs(taskID).
			WillReturnResult(sqlmock.NewResult(0, 0))

		preempted, err := repo.Preempt(context.Background(), taskID)
		require.NoError(t, err)
		assert.False(t, preempted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepository_FindIncompleteByAgent(t *testing.T) {
	t.Run("returns the agent's oldest incomplete task", func(t *testing.T) {
		repo, mock := newMockTaskRepo(t)
		task := &models.Task{
			ID:        uuid.New(),
			AttackID:  uuid.New(),
			AgentID:   3,
			Status:    models.TaskStatusRunning,
			StartDate: time.Now(),
		}
		mock.ExpectQuery("SELECT .+ FROM tasks t").
			WithArgs(3).
			WillReturnRows(taskRows(task))

		got, err := repo.FindIncompleteByAgent(context.Background(), 3)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, models.TaskStatusRunning, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil when the agent has no incomplete work", func(t *testing.T) {
		repo, mock := newMockTaskRepo(t)
		mock.ExpectQuery("SELECT .+ FROM tasks t").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		got, err := repo.FindIncompleteByAgent(context.Background(), 3)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTaskRepository_UpdateStatusFrom(t *testing.T) {
	taskID := uuid.New()

	tests := []struct {
		name         string
		from         models.TaskStatus
		to           models.TaskStatus
		rowsAffected int64
		want         bool
	}{
		{
			name:         "pending accepted to running",
			from:         models.TaskStatusPending,
			to:           models.TaskStatusRunning,
			rowsAffected: 1,
			want:         true,
		},
		{
			name:         "stale precondition loses",
			from:         models.TaskStatusRunning,
			to:           models.TaskStatusExhausted,
			rowsAffected: 0,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockTaskRepo(t)
			mock.ExpectExec("UPDATE tasks").
				WithArgs(string(tt.to), taskID, string(tt.from)).
				WillReturnResult(sqlmock.NewResult(0, tt.rowsAffected))

			moved, err := repo.UpdateStatusFrom(context.Background(), taskID, tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, moved)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTaskRepository_DeleteByAttackTx(t *testing.T) {
	attackID := uuid.New()
	repo, mock := newMockTaskRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM tasks").
		WithArgs(attackID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	tx, err := repo.BeginTx(context.Background())
	require.NoError(t, err)

	deleted, err := repo.DeleteByAttackTx(tx, attackID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
