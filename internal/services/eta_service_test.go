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
)

func newEtaHarness(t *testing.T) (*EtaService, sqlmock.Sqlmock, cache.Store) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	database := &db.DB{DB: mockDB}
	store := cache.NewMemory()
	svc := NewEtaService(
		repository.NewTaskRepository(database),
		repository.NewAttackRepository(database),
		repository.NewCampaignRepository(database),
		repository.NewBenchmarkRepository(database),
		repository.NewSystemSettingsRepository(database),
		store,
	)
	return svc, mock, store
}

func expectEtaCacheTTL(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT value FROM system_settings").
		WithArgs("eta_cache_ttl_seconds").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
}

func TestCurrentETANothingRunning(t *testing.T) {
	svc, mock, _ := newEtaHarness(t)
	campaignID := uuid.New()

	mock.ExpectQuery("SELECT MAX").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	_, ok, err := svc.CurrentETA(context.Background(), campaignID)
	require.NoError(t, err)
	assert.False(t, ok, "no running task means no current estimate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentETACachesResult(t *testing.T) {
	svc, mock, _ := newEtaHarness(t)
	campaignID := uuid.New()
	finish := time.Now().Add(2 * time.Hour)

	mock.ExpectQuery("SELECT MAX").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(finish))
	expectEtaCacheTTL(mock)

	first, ok, err := svc.CurrentETA(context.Background(), campaignID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, finish, first, time.Second)

	// The second read must come from the cache, with no further queries.
	second, ok, err := svc.CurrentETA(context.Background(), campaignID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.UTC(), second.UTC())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTotalETAAddsUnstartedWork(t *testing.T) {
	svc, mock, _ := newEtaHarness(t)
	campaignID := uuid.New()
	base := time.Now().Add(30 * time.Minute)

	mock.ExpectQuery("SELECT MAX").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(base))
	expectEtaCacheTTL(mock)

	campaign := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: 4, Priority: models.CampaignPriorityNormal, HashType: 1000, UncrackedCount: 50}
	mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
		WithArgs(campaignID).
		WillReturnRows(assignCampaignRows(campaign))

	mock.ExpectQuery("SELECT b.agent_id, SUM").
		WithArgs(1000).
		WillReturnRows(sqlmock.NewRows([]string{"agent_id", "speed"}).
			AddRow(1, 1e9).
			AddRow(2, 4e8))

	// One hour of pending work at the fastest rate; the completed attack and
	// the unestimated one add nothing.
	pending := &models.Attack{ID: uuid.New(), CampaignID: campaignID, Status: models.AttackStatusPending, Mode: models.AttackModeMask, Mask: "?a?a", ComplexityValue: 3.6e12}
	finished := &models.Attack{ID: uuid.New(), CampaignID: campaignID, Status: models.AttackStatusCompleted, Mode: models.AttackModeMask, Mask: "?d", ComplexityValue: 1e12}
	unsized := &models.Attack{ID: uuid.New(), CampaignID: campaignID, Status: models.AttackStatusPending, Mode: models.AttackModeMask, Mask: "?l"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.campaign_id").
		WithArgs(campaignID).
		WillReturnRows(assignAttackRows(pending, finished, unsized))
	expectEtaCacheTTL(mock)

	total, err := svc.TotalETA(context.Background(), campaignID)
	require.NoError(t, err)
	assert.WithinDuration(t, base.Add(time.Hour), total, 2*time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTotalETAWithoutBenchmarks(t *testing.T) {
	svc, mock, _ := newEtaHarness(t)
	campaignID := uuid.New()

	mock.ExpectQuery("SELECT MAX").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	campaign := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: 4, Priority: models.CampaignPriorityNormal, HashType: 1800, UncrackedCount: 50}
	mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
		WithArgs(campaignID).
		WillReturnRows(assignCampaignRows(campaign))

	mock.ExpectQuery("SELECT b.agent_id, SUM").
		WithArgs(1800).
		WillReturnRows(sqlmock.NewRows([]string{"agent_id", "speed"}))
	expectEtaCacheTTL(mock)

	// No rate to price the backlog with: the estimate degrades to "now"
	// rather than erroring.
	total, err := svc.TotalETA(context.Background(), campaignID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), total, 2*time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefreshReplacesStaleEstimates(t *testing.T) {
	svc, mock, store := newEtaHarness(t)
	campaignID := uuid.New()
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, store.Set(ctx, currentEtaKey(campaignID), []byte(stale.Format(time.RFC3339Nano)), time.Minute))
	require.NoError(t, store.Set(ctx, totalEtaKey(campaignID), []byte(stale.Format(time.RFC3339Nano)), time.Minute))

	fresh := time.Now().Add(45 * time.Minute)
	mock.ExpectQuery("SELECT MAX").
		WithArgs(campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(fresh))
	expectEtaCacheTTL(mock)

	campaign := &models.Campaign{ID: campaignID, Name: "c", ProjectID: 1, HashListID: 4, Priority: models.CampaignPriorityNormal, HashType: 0, UncrackedCount: 5}
	mock.ExpectQuery("FROM campaigns c .+ WHERE c.id").
		WithArgs(campaignID).
		WillReturnRows(assignCampaignRows(campaign))
	mock.ExpectQuery("SELECT b.agent_id, SUM").
		WithArgs(0).
		WillReturnRows(sqlmock.NewRows([]string{"agent_id", "speed"}))
	expectEtaCacheTTL(mock)

	require.NoError(t, svc.Refresh(ctx, campaignID))

	current, ok, err := svc.CurrentETA(ctx, campaignID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, fresh, current, time.Second, "refresh replaces the stale cached estimate")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleRefreshJobRejectsBadPayload(t *testing.T) {
	svc, _, _ := newEtaHarness(t)

	err := svc.HandleRefreshJob(context.Background(), jobs.Job{
		Type:    jobs.TypeRefreshCampaignETA,
		Payload: "not-a-campaign-id",
	})
	assert.ErrorContains(t, err, "invalid campaign ID")
}
