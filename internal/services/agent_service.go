package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

const (
	defaultOfflineThresholdMinutes = 30
	defaultMaxBenchmarkAgeDays     = 7
	// syntheticBenchmarkAgeDays stands in for the benchmark date of an agent
	// that has never benchmarked, so the staleness check always fires.
	syntheticBenchmarkAgeDays = 365

	agentTokenPrefix = "hv"
	agentTokenBytes  = 16
)

// ErrInvalidToken is returned for any token that fails authentication.
// Callers map it to an unauthorized response without detail.
var ErrInvalidToken = errors.New("invalid agent token")

// AgentService owns agent registration, token authentication and the agent
// lifecycle state machine, including the periodic offline and benchmark-age
// sweeps.
type AgentService struct {
	agentRepo     *repository.AgentRepository
	errorRepo     *repository.AgentErrorRepository
	benchmarkRepo *repository.BenchmarkRepository
	taskRepo      *repository.TaskRepository
	settingsRepo  *repository.SystemSettingsRepository
	taskService   *TaskService
	sink          broadcast.Sink
}

// NewAgentService creates a new instance of AgentService.
func NewAgentService(
	agentRepo *repository.AgentRepository,
	errorRepo *repository.AgentErrorRepository,
	benchmarkRepo *repository.BenchmarkRepository,
	taskRepo *repository.TaskRepository,
	settingsRepo *repository.SystemSettingsRepository,
	taskService *TaskService,
	sink broadcast.Sink,
) *AgentService {
	return &AgentService{
		agentRepo:     agentRepo,
		errorRepo:     errorRepo,
		benchmarkRepo: benchmarkRepo,
		taskRepo:      taskRepo,
		settingsRepo:  settingsRepo,
		taskService:   taskService,
		sink:          sink,
	}
}

// Register creates a pending agent and returns it with its one-time API
// token. Only the bcrypt digest of the token's secret part is stored; the
// full token cannot be recovered later.
func (s *AgentService) Register(ctx context.Context, name string, ownerID uuid.UUID) (*models.Agent, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", fmt.Errorf("agent name cannot be empty")
	}

	secretBytes := make([]byte, agentTokenBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate agent token: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash agent token: %w", err)
	}

	agent := &models.Agent{
		Name:           name,
		TokenDigest:    string(digest),
		Status:         models.AgentStatusPending,
		Devices:        []string{},
		UpdateInterval: 30,
		OwnerID:        ownerID,
	}
	if err := s.agentRepo.Create(ctx, agent); err != nil {
		return nil, "", err
	}

	token := fmt.Sprintf("%s_%d_%s", agentTokenPrefix, agent.ID, secret)
	return agent, token, nil
}

// Authenticate resolves an API token of the form hv_<id>_<secret> to its
// agent. Every failure mode returns ErrInvalidToken so callers cannot probe
// which agent IDs exist.
func (s *AgentService) Authenticate(ctx context.Context, token string) (*models.Agent, error) {
	parts := strings.SplitN(token, "_", 3)
	if len(parts) != 3 || parts[0] != agentTokenPrefix {
		return nil, ErrInvalidToken
	}
	agentID, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}

	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to authenticate agent %d: %w", agentID, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(agent.TokenDigest), []byte(parts[2])); err != nil {
		debug.Warning("Agent %d presented a token with a bad secret", agentID)
		return nil, ErrInvalidToken
	}
	return agent, nil
}

// GetByID retrieves an agent.
func (s *AgentService) GetByID(ctx context.Context, id int) (*models.Agent, error) {
	return s.agentRepo.GetByID(ctx, id)
}

// List retrieves all agents.
func (s *AgentService) List(ctx context.Context) ([]*models.Agent, error) {
	return s.agentRepo.List(ctx)
}

// Heartbeat records contact from an agent and resolves the heartbeat
// lifecycle event: an offline agent comes back as active, or as pending when
// its benchmarks have gone stale in the meantime.
func (s *AgentService) Heartbeat(ctx context.Context, agentID int, ip string) (*models.Agent, error) {
	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := s.agentRepo.UpdateHeartbeat(ctx, agentID, ip); err != nil {
		return nil, err
	}

	actx := models.AgentContext{SeenRecently: true}
	if agent.Status == models.AgentStatusOffline {
		actx.BenchmarksStale = s.benchmarksStale(ctx, agentID)
	}
	if _, err := s.transition(ctx, agent, models.AgentEventHeartbeat, actx, ip); err != nil {
		return nil, err
	}
	return agent, nil
}

// Activate resolves the activate event, marking a pending agent ready for
// work. Idempotent for already-active agents.
func (s *AgentService) Activate(ctx context.Context, agentID int) error {
	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	_, err = s.transition(ctx, agent, models.AgentEventActivate, models.AgentContext{}, "")
	return err
}

// Deactivate resolves the deactivate event, taking an active agent out of
// scheduling without losing its registration.
func (s *AgentService) Deactivate(ctx context.Context, agentID int) error {
	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	_, err = s.transition(ctx, agent, models.AgentEventDeactivate, models.AgentContext{}, "")
	return err
}

// Shutdown resolves the shutdown event: the agent goes offline and every
// running task it holds is paused with its claim cleared, so the work is
// immediately reofferable.
func (s *AgentService) Shutdown(ctx context.Context, agentID int) error {
	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	changed, err := s.transition(ctx, agent, models.AgentEventShutdown, models.AgentContext{}, "")
	if err != nil {
		return err
	}
	if changed {
		s.releaseRunningTasks(ctx, agentID)
	}
	return nil
}

// releaseRunningTasks pauses the agent's running tasks and clears their
// claims. Per-task failures are logged and skipped; one wedged row must not
// block the rest of the shutdown cascade.
func (s *AgentService) releaseRunningTasks(ctx context.Context, agentID int) {
	tasks, err := s.taskRepo.ListRunningByAgent(ctx, agentID)
	if err != nil {
		debug.Error("Failed to list running tasks for agent %d shutdown: %v", agentID, err)
		return
	}
	for _, task := range tasks {
		if err := s.taskService.Pause(ctx, task.ID); err != nil {
			debug.Error("Failed to pause task %s during agent %d shutdown: %v", task.ID, agentID, err)
			continue
		}
		if err := s.taskRepo.ClearClaim(ctx, task.ID); err != nil {
			debug.Error("Failed to clear claim on task %s during agent %d shutdown: %v", task.ID, agentID, err)
		}
	}
	if len(tasks) > 0 {
		debug.Info("Released %d running task(s) from agent %d", len(tasks), agentID)
	}
}

// SubmitBenchmarks records a batch of benchmark results and resolves the
// benchmarked event, which moves a pending agent to active.
func (s *AgentService) SubmitBenchmarks(ctx context.Context, agentID int, benchmarks []models.HashcatBenchmark) error {
	if len(benchmarks) == 0 {
		return fmt.Errorf("benchmark submission cannot be empty")
	}
	now := time.Now()
	for i := range benchmarks {
		benchmarks[i].AgentID = agentID
		if benchmarks[i].BenchmarkDate.IsZero() {
			benchmarks[i].BenchmarkDate = now
		}
		if err := benchmarks[i].Validate(); err != nil {
			return fmt.Errorf("benchmark %d rejected: %w", i, err)
		}
	}
	for i := range benchmarks {
		if err := s.benchmarkRepo.Upsert(ctx, &benchmarks[i]); err != nil {
			return err
		}
	}
	debug.Info("Recorded %d benchmark(s) for agent %d", len(benchmarks), agentID)

	agent, err := s.agentRepo.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	_, err = s.transition(ctx, agent, models.AgentEventBenchmarked, models.AgentContext{}, "")
	return err
}

// SubmitError appends an agent-reported failure. A fatal error without a
// task reference means the agent itself is unusable and its status is set to
// error directly; a fatal error against a task only gates that task out of
// reassignment, which the scheduler reads from the error table.
func (s *AgentService) SubmitError(ctx context.Context, agentError *models.AgentError) error {
	if !agentError.Severity.Valid() {
		return fmt.Errorf("unknown error severity %q", agentError.Severity)
	}
	if err := s.errorRepo.Create(ctx, agentError); err != nil {
		return err
	}
	if agentError.Severity != models.SeverityFatal {
		return nil
	}

	if agentError.TaskID != nil {
		debug.Warning("Agent %d reported a fatal error on task %s; task is gated from reassignment", agentError.AgentID, *agentError.TaskID)
		return nil
	}

	debug.Error("Agent %d reported a fatal error with no task: %s", agentError.AgentID, agentError.Message)
	if err := s.agentRepo.UpdateStatus(ctx, agentError.AgentID, models.AgentStatusError); err != nil {
		return err
	}
	s.sink.Publish(ctx, broadcast.Event{
		Kind:    broadcast.KindAgentStatus,
		AgentID: agentError.AgentID,
		Status:  string(models.AgentStatusError),
		Detail:  agentError.Message,
	})
	return nil
}

// UpdateDevices replaces the agent's advertised device list.
func (s *AgentService) UpdateDevices(ctx context.Context, agentID int, devices []string) error {
	return s.agentRepo.UpdateDevices(ctx, agentID, devices)
}

// UpdateSettings updates the operator-editable agent fields.
func (s *AgentService) UpdateSettings(ctx context.Context, agentID int, name string, updateInterval int) error {
	if updateInterval <= 0 {
		return fmt.Errorf("update interval must be positive, got %d", updateInterval)
	}
	return s.agentRepo.UpdateSettings(ctx, agentID, name, updateInterval)
}

// SetProjects replaces the agent's project memberships.
func (s *AgentService) SetProjects(ctx context.Context, agentID int, projectIDs []int) error {
	return s.agentRepo.SetProjects(ctx, agentID, projectIDs)
}

// CheckOnline sweeps for agents whose heartbeat silence exceeds the offline
// threshold and marks them offline with the full shutdown side effects.
// Returns how many agents were transitioned.
func (s *AgentService) CheckOnline(ctx context.Context) (int, error) {
	thresholdMinutes := s.settingsRepo.GetInt(ctx, "agent_offline_threshold_minutes", defaultOfflineThresholdMinutes)
	cutoff := time.Now().Add(-time.Duration(thresholdMinutes) * time.Minute)

	agents, err := s.agentRepo.ListNotSeenSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	transitioned := 0
	for _, agent := range agents {
		changed, err := s.transition(ctx, agent, models.AgentEventCheckOnline, models.AgentContext{SeenRecently: false}, "")
		if err != nil {
			debug.Error("Failed to mark agent %d offline: %v", agent.ID, err)
			continue
		}
		// Release runs even for agents already offline: a partial failure
		// in an earlier sweep must not strand a claim forever.
		s.releaseRunningTasks(ctx, agent.ID)
		if changed {
			transitioned++
		}
	}
	return transitioned, nil
}

// CheckBenchmarkAge sweeps active agents and demotes those whose newest
// benchmark is older than the configured maximum age back to pending, which
// takes them out of scheduling until they re-benchmark. Returns how many
// agents were transitioned.
func (s *AgentService) CheckBenchmarkAge(ctx context.Context) (int, error) {
	agents, err := s.agentRepo.ListByStatus(ctx, models.AgentStatusActive)
	if err != nil {
		return 0, err
	}

	transitioned := 0
	for _, agent := range agents {
		actx := models.AgentContext{BenchmarksStale: s.benchmarksStale(ctx, agent.ID)}
		changed, err := s.transition(ctx, agent, models.AgentEventCheckBenchmarkAge, actx, "")
		if err != nil {
			debug.Error("Failed to demote agent %d for stale benchmarks: %v", agent.ID, err)
			continue
		}
		if changed {
			transitioned++
		}
	}
	return transitioned, nil
}

// benchmarksStale reports whether the agent's newest benchmark is older than
// the configured maximum age. An agent with no benchmarks at all gets a
// synthetic date old enough to always count as stale.
func (s *AgentService) benchmarksStale(ctx context.Context, agentID int) bool {
	latest, found, err := s.benchmarkRepo.LatestDate(ctx, agentID)
	if err != nil {
		debug.Error("Failed to read latest benchmark date for agent %d, treating as stale: %v", agentID, err)
		return true
	}
	if !found {
		latest = time.Now().AddDate(0, 0, -syntheticBenchmarkAgeDays)
	}
	maxAgeDays := s.settingsRepo.GetInt(ctx, "max_benchmark_age_days", defaultMaxBenchmarkAgeDays)
	return time.Since(latest) > time.Duration(maxAgeDays)*24*time.Hour
}

// transition resolves a lifecycle event against the agent's current status
// and persists the result. Events that do not apply no-op. The agent's
// Status field is updated in place on success.
func (s *AgentService) transition(ctx context.Context, agent *models.Agent, event models.AgentEvent, actx models.AgentContext, ip string) (bool, error) {
	next, ok := models.NextAgentStatus(agent.Status, event, actx)
	if !ok || next == agent.Status {
		return false, nil
	}
	if err := s.agentRepo.UpdateStatus(ctx, agent.ID, next); err != nil {
		return false, err
	}

	lastSeen := ""
	if agent.LastSeenAt.Valid {
		lastSeen = agent.LastSeenAt.Time.Format(time.RFC3339)
	}
	if ip == "" && agent.LastIP.Valid {
		ip = agent.LastIP.String
	}
	debug.Log("Agent lifecycle transition", map[string]interface{}{
		"agent_id":  agent.ID,
		"event":     string(event),
		"from":      string(agent.Status),
		"to":        string(next),
		"last_seen": lastSeen,
		"ip":        ip,
	})

	agent.Status = next
	s.sink.Publish(ctx, broadcast.Event{
		Kind:    broadcast.KindAgentStatus,
		AgentID: agent.ID,
		Status:  string(next),
	})
	return true, nil
}
