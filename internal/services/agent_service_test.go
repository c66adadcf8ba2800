package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
)

func newAgentHarness(t *testing.T) (*AgentService, sqlmock.Sqlmock, *sinkRecorder) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	database := &db.DB{DB: mockDB}
	agentRepo := repository.NewAgentRepository(database)
	errorRepo := repository.NewAgentErrorRepository(database)
	benchmarkRepo := repository.NewBenchmarkRepository(database)
	taskRepo := repository.NewTaskRepository(database)
	attackRepo := repository.NewAttackRepository(database)
	campaignRepo := repository.NewCampaignRepository(database)
	hashListRepo := repository.NewHashListRepository(database)
	statusRepo := repository.NewHashcatStatusRepository(database)
	settingsRepo := repository.NewSystemSettingsRepository(database)

	sink := &sinkRecorder{}
	complexity := NewComplexityService(attackRepo, &runnerStub{})
	attackService := NewAttackService(attackRepo, taskRepo, campaignRepo, hashListRepo, statusRepo, complexity, sink)
	crackIngest := NewCrackIngestService(hashListRepo, taskRepo, sink)
	taskService := NewTaskService(taskRepo, attackRepo, campaignRepo, hashListRepo, statusRepo, attackService, crackIngest, sink)

	svc := NewAgentService(agentRepo, errorRepo, benchmarkRepo, taskRepo, settingsRepo, taskService, sink)
	return svc, mock, sink
}

func agentRows(agents ...*models.Agent) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "name", "token_digest", "status", "devices", "update_interval",
		"last_seen_at", "last_ip", "owner_id", "created_at", "updated_at",
	})
	for _, agent := range agents {
		rows.AddRow(
			agent.ID, agent.Name, agent.TokenDigest, agent.Status, "{}", agent.UpdateInterval,
			nil, nil, agent.OwnerID, time.Now(), time.Now(),
		)
	}
	return rows
}

func TestRegisterIssuesOneTimeToken(t *testing.T) {
	svc, mock, _ := newAgentHarness(t)
	ownerID := uuid.New()

	mock.ExpectQuery("INSERT INTO agents").
		WithArgs("rig-01", sqlmock.AnyArg(), models.AgentStatusPending, "{}", 30, ownerID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(7, time.Now(), time.Now()))

	agent, token, err := svc.Register(context.Background(), "rig-01", ownerID)
	require.NoError(t, err)

	assert.Equal(t, 7, agent.ID)
	assert.Equal(t, models.AgentStatusPending, agent.Status)

	parts := strings.SplitN(token, "_", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "hv", parts[0])
	assert.Equal(t, "7", parts[1])
	assert.Len(t, parts[2], 32)

	// The digest covers the secret alone, not the whole token.
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(agent.TokenDigest), []byte(parts[2])))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(agent.TokenDigest), []byte(token)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRejectsBlankName(t *testing.T) {
	svc, mock, _ := newAgentHarness(t)

	_, _, err := svc.Register(context.Background(), "   ", uuid.New())
	assert.ErrorContains(t, err, "name cannot be empty")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateResolvesToken(t *testing.T) {
	svc, mock, _ := newAgentHarness(t)

	secret := "0123456789abcdef0123456789abcdef"
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)

	agent := &models.Agent{ID: 7, Name: "rig-01", TokenDigest: string(digest), Status: models.AgentStatusActive}
	mock.ExpectQuery("FROM agents WHERE id").
		WithArgs(7).
		WillReturnRows(agentRows(agent))

	got, err := svc.Authenticate(context.Background(), "hv_7_"+secret)
	require.NoError(t, err)
	assert.Equal(t, 7, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("malformed tokens never reach the database", func(t *testing.T) {
		svc, mock, _ := newAgentHarness(t)
		for _, token := range []string{"", "bogus", "hv_7", "agent_7_" + secret, "hv_seven_" + secret} {
			_, err := svc.Authenticate(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown agent", func(t *testing.T) {
		svc, mock, _ := newAgentHarness(t)
		mock.ExpectQuery("FROM agents WHERE id").
			WithArgs(99).
			WillReturnRows(agentRows())

		_, err := svc.Authenticate(context.Background(), "hv_99_"+secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong secret", func(t *testing.T) {
		svc, mock, _ := newAgentHarness(t)
		agent := &models.Agent{ID: 7, TokenDigest: string(digest), Status: models.AgentStatusActive}
		mock.ExpectQuery("FROM agents WHERE id").
			WithArgs(7).
			WillReturnRows(agentRows(agent))

		_, err := svc.Authenticate(context.Background(), "hv_7_ffffffffffffffffffffffffffffffff")
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHeartbeatRevivesOfflineAgent(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)

	agent := &models.Agent{ID: 7, Name: "rig-01", Status: models.AgentStatusOffline, UpdateInterval: 30}
	mock.ExpectQuery("FROM agents WHERE id").
		WithArgs(7).
		WillReturnRows(agentRows(agent))
	mock.ExpectExec("UPDATE agents SET last_seen_at").
		WithArgs("10.0.0.5", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Benchmarks are fresh, so the agent comes straight back as active.
	mock.ExpectQuery("SELECT MAX\\(benchmark_date\\)").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(time.Now()))
	mock.ExpectQuery("SELECT value FROM system_settings").
		WithArgs("max_benchmark_age_days").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec("UPDATE agents SET status").
		WithArgs(models.AgentStatusActive, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := svc.Heartbeat(context.Background(), 7, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, got.Status)

	require.Len(t, sink.events, 1)
	assert.Equal(t, broadcast.KindAgentStatus, sink.events[0].Kind)
	assert.Equal(t, string(models.AgentStatusActive), sink.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatStaleBenchmarksComeBackPending(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)

	agent := &models.Agent{ID: 7, Status: models.AgentStatusOffline, UpdateInterval: 30}
	mock.ExpectQuery("FROM agents WHERE id").
		WithArgs(7).
		WillReturnRows(agentRows(agent))
	mock.ExpectExec("UPDATE agents SET last_seen_at").
		WithArgs("10.0.0.5", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Never benchmarked counts as stale: the agent must re-benchmark
	// before it is scheduled again.
	mock.ExpectQuery("SELECT MAX\\(benchmark_date\\)").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectQuery("SELECT value FROM system_settings").
		WithArgs("max_benchmark_age_days").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec("UPDATE agents SET status").
		WithArgs(models.AgentStatusPending, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := svc.Heartbeat(context.Background(), 7, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusPending, got.Status)

	require.Len(t, sink.events, 1)
	assert.Equal(t, string(models.AgentStatusPending), sink.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeatActiveAgentOnlyRecordsContact(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)

	mock.ExpectQuery("FROM agents WHERE id").
		WithArgs(7).
		WillReturnRows(agentRows(activeAgent(7)))
	mock.ExpectExec("UPDATE agents SET last_seen_at").
		WithArgs("10.0.0.5", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := svc.Heartbeat(context.Background(), 7, "10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusActive, got.Status)
	assert.Empty(t, sink.events, "a routine heartbeat is not a lifecycle change")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShutdownReleasesRunningTasks(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)
	taskID := uuid.New()
	attackID := uuid.New()
	campaignID := uuid.New()

	mock.ExpectQuery("FROM agents WHERE id").
		WithArgs(7).
		WillReturnRows(agentRows(activeAgent(7)))
	mock.ExpectExec("UPDATE agents SET status").
		WithArgs(models.AgentStatusOffline, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	running := &models.Task{ID: taskID, AttackID: attackID, AgentID: 7, Status: models.TaskStatusRunning, ProgressPercentage: 40}
	mock.ExpectQuery("FROM tasks WHERE claimed_by_agent_id").
		WithArgs(7).
		WillReturnRows(assignTaskRows(running))

	// The released task is paused, then its claim is cleared.
	mock.ExpectQuery("FROM tasks WHERE id").
		WithArgs(taskID).
		WillReturnRows(assignTaskRows(running))
	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(string(models.TaskStatusPaused), taskID, string(models.TaskStatusRunning)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	attack := &models.Attack{ID: attackID, CampaignID: campaignID, Status: models.AttackStatusRunning, Mode: models.AttackModeMask, Mask: "?d?d"}
	mock.ExpectQuery("FROM attacks a .+ WHERE a.id").
		WithArgs(attackID).
		WillReturnRows(assignAttackRows(attack))
	mock.ExpectExec("UPDATE tasks SET claimed_by_agent_id = NULL").
		WithArgs(taskID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Shutdown(context.Background(), 7))

	require.Len(t, sink.events, 2)
	assert.Equal(t, broadcast.KindAgentStatus, sink.events[0].Kind)
	assert.Equal(t, string(models.AgentStatusOffline), sink.events[0].Status)
	assert.Equal(t, broadcast.KindAttackProgress, sink.events[1].Kind)
	assert.Equal(t, string(models.TaskStatusPaused), sink.events[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckOnlineMarksSilentAgentsOffline(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)

	mock.ExpectQuery("SELECT value FROM system_settings").
		WithArgs("agent_offline_threshold_minutes").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("45"))

	silent := &models.Agent{ID: 7, Status: models.AgentStatusActive, UpdateInterval: 30}
	idle := &models.Agent{ID: 8, Status: models.AgentStatusPending, UpdateInterval: 30}
	mock.ExpectQuery("last_seen_at IS NULL OR last_seen_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(agentRows(silent, idle))

	mock.ExpectExec("UPDATE agents SET status").
		WithArgs(models.AgentStatusOffline, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM tasks WHERE claimed_by_agent_id").
		WithArgs(7).
		WillReturnRows(emptyTaskRows())

	mock.ExpectExec("UPDATE agents SET status").
		WithArgs(models.AgentStatusOffline, 8).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM tasks WHERE claimed_by_agent_id").
		WithArgs(8).
		WillReturnRows(emptyTaskRows())

	transitioned, err := svc.CheckOnline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, transitioned)
	assert.Len(t, sink.events, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckBenchmarkAgeDemotesStaleAgents(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)

	stale := &models.Agent{ID: 7, Status: models.AgentStatusActive, UpdateInterval: 30}
	fresh := &models.Agent{ID: 8, Status: models.AgentStatusActive, UpdateInterval: 30}
	mock.ExpectQuery("FROM agents WHERE status").
		WithArgs(models.AgentStatusActive).
		WillReturnRows(agentRows(stale, fresh))

	mock.ExpectQuery("SELECT MAX\\(benchmark_date\\)").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(time.Now().AddDate(0, 0, -30)))
	mock.ExpectQuery("SELECT value FROM system_settings").
		WithArgs("max_benchmark_age_days").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec("UPDATE agents SET status").
		WithArgs(models.AgentStatusPending, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT MAX\\(benchmark_date\\)").
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(time.Now()))
	mock.ExpectQuery("SELECT value FROM system_settings").
		WithArgs("max_benchmark_age_days").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	transitioned, err := svc.CheckBenchmarkAge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, transitioned)

	require.Len(t, sink.events, 1)
	assert.Equal(t, 7, sink.events[0].AgentID)
	assert.Equal(t, string(models.AgentStatusPending), sink.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitBenchmarksActivatesPendingAgent(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)

	mock.ExpectQuery("INSERT INTO hashcat_benchmarks").
		WithArgs(7, sqlmock.AnyArg(), 0, 1, 1.2e9, int64(120)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectQuery("INSERT INTO hashcat_benchmarks").
		WithArgs(7, sqlmock.AnyArg(), 1000, 1, 2.4e10, int64(120)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(2, time.Now()))

	mock.ExpectQuery("FROM agents WHERE id").
		WithArgs(7).
		WillReturnRows(agentRows(&models.Agent{ID: 7, Status: models.AgentStatusPending, UpdateInterval: 30}))
	mock.ExpectExec("UPDATE agents SET status").
		WithArgs(models.AgentStatusActive, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	benchmarks := []models.HashcatBenchmark{
		{HashType: 0, Device: 1, HashSpeed: 1.2e9, Runtime: 120},
		{HashType: 1000, Device: 1, HashSpeed: 2.4e10, Runtime: 120},
	}
	require.NoError(t, svc.SubmitBenchmarks(context.Background(), 7, benchmarks))

	require.Len(t, sink.events, 1)
	assert.Equal(t, string(models.AgentStatusActive), sink.events[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitBenchmarksValidation(t *testing.T) {
	svc, mock, _ := newAgentHarness(t)

	err := svc.SubmitBenchmarks(context.Background(), 7, nil)
	assert.ErrorContains(t, err, "cannot be empty")

	err = svc.SubmitBenchmarks(context.Background(), 7, []models.HashcatBenchmark{
		{HashType: 0, Device: 1, HashSpeed: 0, Runtime: 120},
	})
	assert.ErrorContains(t, err, "benchmark 0 rejected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitErrorFatalWithoutTaskDisablesAgent(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)

	mock.ExpectQuery("INSERT INTO agent_errors").
		WithArgs(7, nil, models.SeverityFatal, "GPU fell off the bus", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
	mock.ExpectExec("UPDATE agents SET status").
		WithArgs(models.AgentStatusError, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))

	agentError := &models.AgentError{AgentID: 7, Severity: models.SeverityFatal, Message: "GPU fell off the bus"}
	require.NoError(t, svc.SubmitError(context.Background(), agentError))

	require.Len(t, sink.events, 1)
	assert.Equal(t, broadcast.KindAgentStatus, sink.events[0].Kind)
	assert.Equal(t, string(models.AgentStatusError), sink.events[0].Status)
	assert.Equal(t, "GPU fell off the bus", sink.events[0].Detail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitErrorFatalOnTaskLeavesAgentAlone(t *testing.T) {
	svc, mock, sink := newAgentHarness(t)
	taskID := uuid.New()

	mock.ExpectQuery("INSERT INTO agent_errors").
		WithArgs(7, taskID, models.SeverityFatal, "separator unmatched", nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

	agentError := &models.AgentError{AgentID: 7, TaskID: &taskID, Severity: models.SeverityFatal, Message: "separator unmatched"}
	require.NoError(t, svc.SubmitError(context.Background(), agentError))

	assert.Empty(t, sink.events, "a task-scoped fault does not change agent status")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitErrorRejectsUnknownSeverity(t *testing.T) {
	svc, mock, _ := newAgentHarness(t)

	err := svc.SubmitError(context.Background(), &models.AgentError{AgentID: 7, Severity: "catastrophic"})
	assert.ErrorContains(t, err, "unknown error severity")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSettingsValidatesInterval(t *testing.T) {
	svc, mock, _ := newAgentHarness(t)

	err := svc.UpdateSettings(context.Background(), 7, "rig-02", 0)
	assert.ErrorContains(t, err, "update interval must be positive")

	mock.ExpectExec("UPDATE agents SET name").
		WithArgs("rig-02", 60, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, svc.UpdateSettings(context.Background(), 7, "rig-02", 60))
	assert.NoError(t, mock.ExpectationsWereMet())
}
