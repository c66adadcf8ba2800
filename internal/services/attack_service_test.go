package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/jobs"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
)

func newAttackHarness(t *testing.T) (*AttackService, sqlmock.Sqlmock, *sinkRecorder, *runnerStub) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	database := &db.DB{DB: mockDB}
	sink := &sinkRecorder{}
	runner := &runnerStub{}
	svc := NewAttackService(
		repository.NewAttackRepository(database),
		repository.NewTaskRepository(database),
		repository.NewCampaignRepository(database),
		repository.NewHashListRepository(database),
		repository.NewHashcatStatusRepository(database),
		NewComplexityService(repository.NewAttackRepository(database), runner),
		sink,
	)
	return svc, mock, sink, runner
}

func expectHashListLookup(mock sqlmock.Sqlmock, campaignID uuid.UUID, hashListID int64, hashCount, crackedCount int) {
	campaign := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: hashListID, Priority: models.CampaignPriorityNormal, UncrackedCount: hashCount - crackedCount}
	mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
		WithArgs(campaignID).
		WillReturnRows(assignCampaignRows(campaign))
	mock.ExpectQuery("FROM hash_lists WHERE id").
		WithArgs(hashListID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "project_id", "hash_type", "separator", "processed",
			"hash_count", "cracked_count", "created_at", "updated_at",
		}).AddRow(hashListID, "l", 1, 0, ":", true, hashCount, crackedCount, time.Now(), time.Now()))
}

func TestCompleteIfDoneRunningAttack(t *testing.T) {
	svc, mock, sink, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))

	expectHashListLookup(mock, campaignID, 5, 100, 40)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(attackID, string(models.TaskStatusCompleted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectExec("UPDATE attacks SET status").
		WithArgs(string(models.AttackStatusCompleted), attackID, string(models.AttackStatusRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE attacks SET end_time").
		WithArgs(attackID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET updated_at").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	done, err := svc.CompleteIfDone(context.Background(), attackID)
	require.NoError(t, err)
	assert.True(t, done)

	require.Len(t, sink.events, 1)
	assert.Equal(t, broadcast.KindAttackProgress, sink.events[0].Kind)
	assert.Equal(t, string(models.AttackStatusCompleted), sink.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteIfDoneHeldByStragglerTasks(t *testing.T) {
	svc, mock, sink, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	expectHashListLookup(mock, campaignID, 5, 100, 40)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(attackID, string(models.TaskStatusCompleted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	done, err := svc.CompleteIfDone(context.Background(), attackID)
	require.NoError(t, err)
	assert.False(t, done, "two tasks still unfinished hold the attack open")
	assert.Empty(t, sink.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteIfDonePendingAttackNeedsCrackedList(t *testing.T) {
	svc, mock, sink, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusPending, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	expectHashListLookup(mock, campaignID, 5, 100, 99)

	done, err := svc.CompleteIfDone(context.Background(), attackID)
	require.NoError(t, err)
	assert.False(t, done, "a pending attack only completes once the list itself is done")
	assert.Empty(t, sink.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteIfDoneCrackedListConvergesCampaign(t *testing.T) {
	svc, mock, sink, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusPending, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	expectHashListLookup(mock, campaignID, 5, 100, 100)

	mock.ExpectExec("UPDATE attacks SET status").
		WithArgs(string(models.AttackStatusCompleted), attackID, string(models.AttackStatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE attacks SET end_time").
		WithArgs(attackID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET updated_at").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The fully cracked list sweeps the campaign's other attacks; this one
	// already reads back completed, so the sweep only announces.
	converged := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusCompleted, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.campaign_id").
		WithArgs(campaignID).
		WillReturnRows(assignAttackRows(converged))

	done, err := svc.CompleteIfDone(context.Background(), attackID)
	require.NoError(t, err)
	assert.True(t, done)

	require.Len(t, sink.events, 2)
	assert.Equal(t, broadcast.KindAttackProgress, sink.events[0].Kind)
	assert.Equal(t, broadcast.KindCampaignProgress, sink.events[1].Kind)
	assert.Equal(t, "completed", sink.events[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExhaustIfDoneLandsInCompleted(t *testing.T) {
	svc, mock, sink, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d?d?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	expectHashListLookup(mock, campaignID, 5, 100, 10)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(attackID, string(models.TaskStatusExhausted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	// A searched-out keyspace is a finished attack, not a failed one.
	mock.ExpectExec("UPDATE attacks SET status").
		WithArgs(string(models.AttackStatusCompleted), attackID, string(models.AttackStatusRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE attacks SET end_time").
		WithArgs(attackID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET updated_at").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	done, err := svc.ExhaustIfDone(context.Background(), attackID)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, sink.events, 1)
	assert.Equal(t, string(models.AttackStatusCompleted), sink.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExhaustIfDoneHeldByActiveTasks(t *testing.T) {
	svc, mock, _, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	expectHashListLookup(mock, campaignID, 5, 100, 10)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(attackID, string(models.TaskStatusExhausted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	done, err := svc.ExhaustIfDone(context.Background(), attackID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPauseCascadesToLiveTasks(t *testing.T) {
	svc, mock, sink, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	mock.ExpectExec("UPDATE attacks SET status").
		WithArgs(string(models.AttackStatusPaused), attackID, string(models.AttackStatusRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	running := &models.Task{ID: uuid.New(), AttackID: attackID, AgentID: 1, Status: models.TaskStatusRunning}
	finished := &models.Task{ID: uuid.New(), AttackID: attackID, AgentID: 2, Status: models.TaskStatusCompleted}
	rows := assignTaskRows(running)
	rows.AddRow(
		finished.ID, finished.AttackID, finished.AgentID, finished.Status, int64(0), int64(0),
		0, 0, false, 100.0, nil,
		nil, nil, nil, nil, time.Now(),
		nil, time.Now(), time.Now(),
	)
	mock.ExpectQuery("FROM tasks WHERE attack_id").
		WithArgs(attackID).
		WillReturnRows(rows)

	// Only the running task has a pause edge; the completed one is left be.
	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(string(models.TaskStatusPaused), running.ID, string(models.TaskStatusRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := svc.Pause(context.Background(), attackID)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, sink.events, 1)
	assert.Equal(t, string(models.AttackStatusPaused), sink.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResumeReturnsTasksStale(t *testing.T) {
	svc, mock, _, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusPaused, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	mock.ExpectExec("UPDATE attacks SET status").
		WithArgs(string(models.AttackStatusPending), attackID, string(models.AttackStatusPaused)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	parked := &models.Task{ID: uuid.New(), AttackID: attackID, AgentID: 1, Status: models.TaskStatusPaused}
	mock.ExpectQuery("FROM tasks WHERE attack_id").
		WithArgs(attackID).
		WillReturnRows(assignTaskRows(parked))

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(string(models.TaskStatusPending), parked.ID, string(models.TaskStatusPaused)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The resumed task must pull cracked hashes before it runs again.
	mock.ExpectExec("UPDATE tasks SET stale = TRUE").
		WithArgs(parked.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := svc.Resume(context.Background(), attackID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCascadeNoEdgeIsNoOp(t *testing.T) {
	svc, mock, sink, _ := newAttackHarness(t)
	attackID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: uuid.New(), Status: models.AttackStatusCompleted, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))

	changed, err := svc.Pause(context.Background(), attackID)
	require.NoError(t, err)
	assert.False(t, changed, "a completed attack has no pause edge")
	assert.Empty(t, sink.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbandonDestroysTasksAtomically(t *testing.T) {
	svc, mock, sink, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE attacks SET status").
		WithArgs(string(models.AttackStatusPending), attackID, string(models.AttackStatusRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM tasks").
		WithArgs(attackID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	mock.ExpectExec("UPDATE campaigns SET updated_at").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	done, err := svc.Abandon(context.Background(), attackID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, sink.events, "abandon reports through the caller's channel, not the hub")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSchedulesComplexityEstimate(t *testing.T) {
	svc, mock, _, runner := newAttackHarness(t)
	campaignID := uuid.New()

	campaign := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: 2, Priority: models.CampaignPriorityNormal, UncrackedCount: 10}
	mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
		WithArgs(campaignID).
		WillReturnRows(assignCampaignRows(campaign))
	mock.ExpectQuery("INSERT INTO attacks").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

	attack := &models.Attack{
		CampaignID: campaignID,
		Name:       "best64",
		Mode:       models.AttackModeDictionary,
		WordListID: sql.NullString{String: uuid.NewString(), Valid: true},
	}
	require.NoError(t, svc.Create(context.Background(), attack))

	assert.Equal(t, models.AttackStatusPending, attack.Status)
	require.Len(t, runner.enqueued, 1)
	assert.Equal(t, jobs.TypeRecomputeComplexity, runner.enqueued[0].Type)
	assert.Equal(t, attack.ID.String(), runner.enqueued[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsInvalidMask(t *testing.T) {
	svc, mock, _, runner := newAttackHarness(t)

	attack := &models.Attack{
		CampaignID: uuid.New(),
		Name:       "bad",
		Mode:       models.AttackModeMask,
		Mask:       "?d?z",
	}
	err := svc.Create(context.Background(), attack)
	assert.ErrorContains(t, err, "invalid mask")
	assert.Empty(t, runner.enqueued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateResetsTerminalAttack(t *testing.T) {
	svc, mock, sink, runner := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	failed := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusFailed, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(failed))
	mock.ExpectExec("UPDATE attacks SET name").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The edited configuration only runs if the attack leaves failed.
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(failed))
	mock.ExpectExec("UPDATE attacks SET status").
		WithArgs(string(models.AttackStatusPending), attackID, string(models.AttackStatusFailed)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE attacks SET start_time = NULL").
		WithArgs(attackID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	edited := &models.Attack{ID: attackID, CampaignID: campaignID, Name: "retry", Mode: models.AttackModeMask, Mask: "?d?d"}
	require.NoError(t, svc.Update(context.Background(), edited))

	require.Len(t, runner.enqueued, 1)
	assert.Equal(t, jobs.TypeRecomputeComplexity, runner.enqueued[0].Type)
	require.Len(t, sink.events, 1)
	assert.Equal(t, string(models.AttackStatusPending), sink.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailPairsAttackWithRunningTask(t *testing.T) {
	svc, mock, _, _ := newAttackHarness(t)
	attackID := uuid.New()
	campaignID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d?d"}
	task := &models.Task{ID: uuid.New(), AttackID: attackID, AgentID: 3, Status: models.TaskStatusRunning, ProgressPercentage: 42}

	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	mock.ExpectQuery("FROM tasks").
		WithArgs(attackID).
		WillReturnRows(assignTaskRows(task))

	detail, err := svc.Detail(context.Background(), attackID)
	require.NoError(t, err)
	assert.Equal(t, attackID, detail.Attack.ID)
	require.NotNil(t, detail.RunningTask)
	assert.Equal(t, task.ID, detail.RunningTask.ID)
	assert.Equal(t, float64(42), detail.RunningTask.ProgressPercentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailWithoutRunningTask(t *testing.T) {
	svc, mock, _, _ := newAttackHarness(t)
	attackID := uuid.New()

	attack := &models.Attack{ID: attackID, CampaignID: uuid.New(), Status: models.AttackStatusPending, Mode: models.AttackModeMask, Mask: "?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	mock.ExpectQuery("FROM tasks").
		WithArgs(attackID).
		WillReturnRows(emptyTaskRows())

	detail, err := svc.Detail(context.Background(), attackID)
	require.NoError(t, err)
	assert.Equal(t, attackID, detail.Attack.ID)
	assert.Nil(t, detail.RunningTask)
	assert.NoError(t, mock.ExpectationsWereMet())
}
