package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

const defaultTaskExpiryMinutes = 30

// AssignmentService answers the agent poll: find the next task this agent
// should work on, or nil when there is nothing for it. The search order is
// strict: the agent's own unfinished work first, then candidate campaigns by
// priority and age, then within a campaign the cheapest schedulable attack,
// preferring failed tasks over pending ones over creating a new task. Claim
// races are resolved by conditional UPDATEs; a lost claim moves the search
// along instead of erroring.
type AssignmentService struct {
	agentRepo     *repository.AgentRepository
	benchmarkRepo *repository.BenchmarkRepository
	campaignRepo  *repository.CampaignRepository
	hashListRepo  *repository.HashListRepository
	attackRepo    *repository.AttackRepository
	taskRepo      *repository.TaskRepository
	settingsRepo  *repository.SystemSettingsRepository
}

// NewAssignmentService creates a new instance of AssignmentService.
func NewAssignmentService(
	agentRepo *repository.AgentRepository,
	benchmarkRepo *repository.BenchmarkRepository,
	campaignRepo *repository.CampaignRepository,
	hashListRepo *repository.HashListRepository,
	attackRepo *repository.AttackRepository,
	taskRepo *repository.TaskRepository,
	settingsRepo *repository.SystemSettingsRepository,
) *AssignmentService {
	return &AssignmentService{
		agentRepo:     agentRepo,
		benchmarkRepo: benchmarkRepo,
		campaignRepo:  campaignRepo,
		hashListRepo:  hashListRepo,
		attackRepo:    attackRepo,
		taskRepo:      taskRepo,
		settingsRepo:  settingsRepo,
	}
}

// FindNextTask returns the agent's next task, or nil when no work applies.
func (s *AssignmentService) FindNextTask(ctx context.Context, agent *models.Agent) (*models.Task, error) {
	if !agent.CanReceiveWork() {
		debug.Debug("Agent %d polled for work in status %s", agent.ID, agent.Status)
		return nil, nil
	}
	expiresAt := s.claimExpiry(ctx)

	// The agent's own unfinished work comes back to it before anything new.
	sticky, err := s.findSticky(ctx, agent.ID, expiresAt)
	if err != nil {
		return nil, err
	}
	if sticky != nil {
		return sticky, nil
	}

	projectIDs, err := s.agentRepo.GetProjectIDs(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if len(projectIDs) == 0 {
		debug.Debug("Agent %d has no project associations", agent.ID)
		return nil, nil
	}

	capability, err := s.benchmarkRepo.CapabilityForAgent(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	minSpeed := s.settingsRepo.GetFloat(ctx, "min_performance_threshold", 0)
	hashTypes := eligibleHashTypes(capability, minSpeed)
	if len(hashTypes) == 0 {
		debug.Debug("Agent %d has no eligible benchmarked hash types", agent.ID)
		return nil, nil
	}

	campaigns, err := s.campaignRepo.ListCandidates(ctx, projectIDs, hashTypes)
	if err != nil {
		return nil, err
	}

	for _, campaign := range campaigns {
		if campaign.UncrackedCount <= 0 {
			continue
		}
		task, err := s.findInCampaign(ctx, campaign, agent.ID, expiresAt)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}
	}
	return nil, nil
}

// findSticky re-offers the agent its own oldest incomplete task, unless the
// underlying hash list no longer has uncracked items (the completion sweep
// cleans that task up separately).
func (s *AssignmentService) findSticky(ctx context.Context, agentID int, expiresAt time.Time) (*models.Task, error) {
	task, err := s.taskRepo.FindIncompleteByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	uncracked, err := s.uncrackedForAttack(ctx, task.AttackID)
	if err != nil {
		return nil, err
	}
	if uncracked <= 0 {
		debug.Debug("Sticky task %s skipped, hash list fully cracked", task.ID)
		return nil, nil
	}

	if err := s.taskRepo.RefreshClaim(ctx, task.ID, agentID, expiresAt); err != nil {
		debug.Warning("Failed to refresh claim on sticky task %s for agent %d: %v", task.ID, agentID, err)
		return nil, nil
	}
	debug.Info("Reassigned agent %d its own task %s (%s)", agentID, task.ID, task.Status)
	return s.taskRepo.GetByID(ctx, task.ID)
}

// findInCampaign walks the campaign's schedulable attacks cheapest first.
func (s *AssignmentService) findInCampaign(ctx context.Context, campaign *models.Campaign, agentID int, expiresAt time.Time) (*models.Task, error) {
	attacks, err := s.attackRepo.ListSchedulable(ctx, campaign.ID)
	if err != nil {
		return nil, err
	}

	for _, attack := range attacks {
		task, err := s.offerFromAttack(ctx, attack, agentID, expiresAt)
		if err != nil {
			return nil, err
		}
		if task != nil {
			debug.Log("Assigned task", map[string]interface{}{
				"task_id":     task.ID.String(),
				"attack_id":   attack.ID.String(),
				"campaign_id": campaign.ID.String(),
				"agent_id":    agentID,
				"priority":    string(campaign.Priority),
			})
			return task, nil
		}
	}
	return nil, nil
}

// offerFromAttack tries, in order: retrying the attack's oldest failed task,
// claiming its oldest unclaimed pending task, and creating a fresh task when
// none is outstanding. Any lost claim falls through to the next option or
// attack.
func (s *AssignmentService) offerFromAttack(ctx context.Context, attack *models.Attack, agentID int, expiresAt time.Time) (*models.Task, error) {
	retryable, err := s.taskRepo.FindRetryableByAttack(ctx, attack.ID)
	if err != nil {
		return nil, err
	}
	if retryable != nil {
		won, err := s.taskRepo.RetryFailed(ctx, retryable.ID)
		if err != nil {
			return nil, err
		}
		if won {
			if task, err := s.claim(ctx, retryable.ID, agentID, expiresAt); err != nil || task != nil {
				return task, err
			}
		}
	}

	pending, err := s.taskRepo.FindUnclaimedPendingByAttack(ctx, attack.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		if task, err := s.claim(ctx, pending.ID, agentID, expiresAt); err != nil || task != nil {
			return task, err
		}
		return nil, nil
	}

	// Nothing outstanding: one task covers the attack's whole keyspace, so
	// only create when no incomplete task exists at all. A failed task gated
	// by a fatal error still counts; duplicating it would break the
	// single-task model.
	incomplete, err := s.taskRepo.CountIncompleteByAttack(ctx, attack.ID)
	if err != nil {
		return nil, err
	}
	if incomplete > 0 {
		return nil, nil
	}

	task := &models.Task{
		ID:       uuid.New(),
		AttackID: attack.ID,
		AgentID:  agentID,
		Status:   models.TaskStatusPending,
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}
	return s.claim(ctx, task.ID, agentID, expiresAt)
}

// claim runs the conditional-UPDATE claim and reloads the task on success.
// A lost race returns nil, nil.
func (s *AssignmentService) claim(ctx context.Context, taskID uuid.UUID, agentID int, expiresAt time.Time) (*models.Task, error) {
	won, err := s.taskRepo.Claim(ctx, taskID, agentID, expiresAt)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, nil
	}
	return s.taskRepo.GetByID(ctx, taskID)
}

// uncrackedForAttack resolves the remaining work on the attack's hash list.
func (s *AssignmentService) uncrackedForAttack(ctx context.Context, attackID uuid.UUID) (int, error) {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return 0, err
	}
	campaign, err := s.campaignRepo.GetByID(ctx, attack.CampaignID)
	if err != nil {
		return 0, err
	}
	return campaign.UncrackedCount, nil
}

func (s *AssignmentService) claimExpiry(ctx context.Context) time.Time {
	minutes := s.settingsRepo.GetInt(ctx, "task_expiry_minutes", defaultTaskExpiryMinutes)
	return time.Now().Add(time.Duration(minutes) * time.Minute)
}

// eligibleHashTypes filters the agent's benchmarked hash types through the
// minimum-performance gate and returns them in stable order.
func eligibleHashTypes(capability *models.AgentCapability, minSpeed float64) []int {
	hashTypes := make([]int, 0, len(capability.HashTypes))
	for hashType := range capability.HashTypes {
		if capability.MeetsThreshold(hashType, minSpeed) {
			hashTypes = append(hashTypes, hashType)
		}
	}
	sort.Ints(hashTypes)
	return hashTypes
}
