package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dravenops/hashhive/backend/internal/cache"
	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/jobs"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
)

func newCampaignHarness(t *testing.T) (*CampaignService, sqlmock.Sqlmock, *sinkRecorder, *runnerStub) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	database := &db.DB{DB: mockDB}
	campaignRepo := repository.NewCampaignRepository(database)
	attackRepo := repository.NewAttackRepository(database)
	taskRepo := repository.NewTaskRepository(database)
	hashListRepo := repository.NewHashListRepository(database)
	statusRepo := repository.NewHashcatStatusRepository(database)
	benchmarkRepo := repository.NewBenchmarkRepository(database)
	settingsRepo := repository.NewSystemSettingsRepository(database)

	sink := &sinkRecorder{}
	runner := &runnerStub{}
	complexity := NewComplexityService(attackRepo, runner)
	attackService := NewAttackService(attackRepo, taskRepo, campaignRepo, hashListRepo, statusRepo, complexity, sink)
	eta := NewEtaService(taskRepo, attackRepo, campaignRepo, benchmarkRepo, settingsRepo, cache.NewMemory())

	svc := NewCampaignService(campaignRepo, attackRepo, taskRepo, hashListRepo, attackService, eta, runner, sink)
	return svc, mock, sink, runner
}

func expectHashListByID(mock sqlmock.Sqlmock, id int64, projectID int, processed bool) {
	mock.ExpectQuery("FROM hash_lists WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "project_id", "hash_type", "separator", "processed",
			"hash_count", "cracked_count", "created_at", "updated_at",
		}).AddRow(id, "dump", projectID, 0, ":", processed, 100, 0, time.Now(), time.Now()))
}

func TestCampaignCreateValidation(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		svc, mock, _, _ := newCampaignHarness(t)
		err := svc.Create(context.Background(), &models.Campaign{Name: "  ", ProjectID: 1, HashListID: 2})
		assert.ErrorContains(t, err, "name cannot be empty")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown priority", func(t *testing.T) {
		svc, mock, _, _ := newCampaignHarness(t)
		err := svc.Create(context.Background(), &models.Campaign{Name: "c", Priority: "urgent", ProjectID: 1, HashListID: 2})
		assert.ErrorContains(t, err, "unknown campaign priority")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("hash list still importing", func(t *testing.T) {
		svc, mock, _, _ := newCampaignHarness(t)
		expectHashListByID(mock, 2, 1, false)
		err := svc.Create(context.Background(), &models.Campaign{Name: "c", ProjectID: 1, HashListID: 2})
		assert.ErrorContains(t, err, "still importing")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("hash list from another project", func(t *testing.T) {
		svc, mock, _, _ := newCampaignHarness(t)
		expectHashListByID(mock, 2, 9, true)
		err := svc.Create(context.Background(), &models.Campaign{Name: "c", ProjectID: 1, HashListID: 2})
		assert.ErrorContains(t, err, "belongs to project 9")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults to normal priority", func(t *testing.T) {
		svc, mock, _, _ := newCampaignHarness(t)
		expectHashListByID(mock, 2, 1, true)
		mock.ExpectQuery("INSERT INTO campaigns").
			WithArgs(sqlmock.AnyArg(), "spring audit", 1, 2, string(models.CampaignPriorityNormal)).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))

		campaign := &models.Campaign{Name: "spring audit", ProjectID: 1, HashListID: 2}
		require.NoError(t, svc.Create(context.Background(), campaign))
		assert.Equal(t, models.CampaignPriorityNormal, campaign.Priority)
		assert.NotEqual(t, uuid.Nil, campaign.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCampaignCompleted(t *testing.T) {
	t.Run("fully cracked list completes regardless of attacks", func(t *testing.T) {
		svc, mock, sink, _ := newCampaignHarness(t)
		campaignID := uuid.New()

		cracked := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: 2, Priority: models.CampaignPriorityNormal, UncrackedCount: 0}
		mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
			WithArgs(campaignID).
			WillReturnRows(assignCampaignRows(cracked))
		// Straggling attacks converge before the predicate answers.
		mock.ExpectQuery("FROM attacks a .+ WHERE a.campaign_id").
			WithArgs(campaignID).
			WillReturnRows(assignAttackRows())

		done, err := svc.Completed(context.Background(), campaignID)
		require.NoError(t, err)
		assert.True(t, done)
		require.Len(t, sink.events, 1)
		assert.Equal(t, broadcast.KindCampaignProgress, sink.events[0].Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("every attack finished", func(t *testing.T) {
		svc, mock, _, _ := newCampaignHarness(t)
		campaignID := uuid.New()

		campaign := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: 2, Priority: models.CampaignPriorityNormal, UncrackedCount: 3}
		mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
			WithArgs(campaignID).
			WillReturnRows(assignCampaignRows(campaign))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(campaignID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		done, err := svc.Completed(context.Background(), campaignID)
		require.NoError(t, err)
		assert.True(t, done, "uncracked hashes remain but no attack is left to try")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("attacks outstanding", func(t *testing.T) {
		svc, mock, _, _ := newCampaignHarness(t)
		campaignID := uuid.New()

		campaign := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: 2, Priority: models.CampaignPriorityNormal, UncrackedCount: 3}
		mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
			WithArgs(campaignID).
			WillReturnRows(assignCampaignRows(campaign))
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(campaignID).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		done, err := svc.Completed(context.Background(), campaignID)
		require.NoError(t, err)
		assert.False(t, done)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCampaignPauseCascadeCounts(t *testing.T) {
	svc, mock, _, runner := newCampaignHarness(t)
	campaignID := uuid.New()

	running := &models.Attack{ID: uuid.New(), CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d"}
	finished := &models.Attack{ID: uuid.New(), CampaignID: campaignID, Status: models.AttackStatusCompleted, Mode: models.AttackModeMask, Mask: "?l"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.campaign_id").
		WithArgs(campaignID).
		WillReturnRows(assignAttackRows(running, finished))

	// First attack pauses and cascades; the finished one has no edge.
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(running.ID).
		WillReturnRows(assignAttackRows(running))
	mock.ExpectExec("UPDATE attacks SET status").
		WithArgs(string(models.AttackStatusPaused), running.ID, string(models.AttackStatusRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM tasks WHERE attack_id").
		WithArgs(running.ID).
		WillReturnRows(emptyTaskRows())

	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(finished.ID).
		WillReturnRows(assignAttackRows(finished))

	paused, err := svc.Pause(context.Background(), campaignID)
	require.NoError(t, err)
	assert.Equal(t, 1, paused)

	require.Len(t, runner.enqueued, 1)
	assert.Equal(t, jobs.TypeRefreshCampaignETA, runner.enqueued[0].Type)
	assert.Equal(t, campaignID.String(), runner.enqueued[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignSoftDelete(t *testing.T) {
	svc, mock, sink, runner := newCampaignHarness(t)
	campaignID := uuid.New()

	// Pause cascade first, then the tombstone.
	mock.ExpectQuery("FROM attacks a .+ WHERE a.campaign_id").
		WithArgs(campaignID).
		WillReturnRows(assignAttackRows())
	mock.ExpectExec("UPDATE campaigns SET deleted_at").
		WithArgs(campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.SoftDelete(context.Background(), campaignID))

	require.Len(t, sink.events, 1)
	assert.Equal(t, broadcast.KindCampaignProgress, sink.events[0].Kind)
	assert.Equal(t, "deleted", sink.events[0].Status)
	assert.Len(t, runner.enqueued, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignSummary(t *testing.T) {
	svc, mock, _, _ := newCampaignHarness(t)
	campaignID := uuid.New()

	campaign := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: 2, Priority: models.CampaignPriorityHigh, HashType: 1000, UncrackedCount: 5}
	attack := &models.Attack{ID: uuid.New(), CampaignID: campaignID, Status: models.AttackStatusPending, Mode: models.AttackModeMask, Mask: "?d?d"}

	mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
		WithArgs(campaignID).
		WillReturnRows(assignCampaignRows(campaign))
	mock.ExpectQuery("FROM attacks a .+ WHERE a.campaign_id").
		WithArgs(campaignID).
		WillReturnRows(assignAttackRows(attack))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	// Completion predicate.
	mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
		WithArgs(campaignID).
		WillReturnRows(assignCampaignRows(campaign))
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	// Keyspace totals.
	mock.ExpectQuery("SELECT COALESCE").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"total", "remaining"}).AddRow(float64(9000), float64(8100)))

	// Estimates: nothing runs, so no current ETA, and the total estimate
	// cannot be priced without benchmarks.
	mock.ExpectQuery("SELECT MAX").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery("SELECT MAX").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
		WithArgs(campaignID).
		WillReturnRows(assignCampaignRows(campaign))
	mock.ExpectQuery("SELECT b.agent_id, SUM").
		WithArgs(1000).
		WillReturnRows(sqlmock.NewRows([]string{"agent_id", "speed"}))
	mock.ExpectQuery("SELECT value FROM system_settings").
		WithArgs("eta_cache_ttl_seconds").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	summary, err := svc.Summary(context.Background(), campaignID)
	require.NoError(t, err)
	assert.Equal(t, campaignID, summary.Campaign.ID)
	assert.Len(t, summary.Attacks, 1)
	assert.Zero(t, summary.RunningTasks)
	assert.False(t, summary.Completed)
	assert.Equal(t, float64(9000), summary.KeyspaceTotal)
	assert.Equal(t, float64(8100), summary.KeyspaceRemaining)
	assert.Nil(t, summary.CurrentETA)
	require.NotNil(t, summary.TotalETA)
	assert.WithinDuration(t, time.Now(), *summary.TotalETA, 2*time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}
