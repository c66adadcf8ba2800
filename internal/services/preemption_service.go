package services

import (
	"context"
	"fmt"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// PreemptionService is the campaign priority controller. It periodically
// looks for starved higher-priority campaigns and returns one eligible
// lower-priority running task per starved campaign to pending, so the next
// assignment poll can re-offer that capacity upward.
type PreemptionService struct {
	campaignRepo  *repository.CampaignRepository
	attackRepo    *repository.AttackRepository
	taskRepo      *repository.TaskRepository
	benchmarkRepo *repository.BenchmarkRepository
	settingsRepo  *repository.SystemSettingsRepository
	taskService   *TaskService
}

// NewPreemptionService creates a new instance of PreemptionService.
func NewPreemptionService(
	campaignRepo *repository.CampaignRepository,
	attackRepo *repository.AttackRepository,
	taskRepo *repository.TaskRepository,
	benchmarkRepo *repository.BenchmarkRepository,
	settingsRepo *repository.SystemSettingsRepository,
	taskService *TaskService,
) *PreemptionService {
	return &PreemptionService{
		campaignRepo:  campaignRepo,
		attackRepo:    attackRepo,
		taskRepo:      taskRepo,
		benchmarkRepo: benchmarkRepo,
		settingsRepo:  settingsRepo,
		taskService:   taskService,
	}
}

// Sweep runs one pass of the priority controller and returns how many tasks
// it preempted. A campaign is starved when it has schedulable attacks with
// uncracked work but zero running tasks; preemption frees exactly one slot
// per starved campaign per sweep to avoid thrashing the fleet.
func (s *PreemptionService) Sweep(ctx context.Context) (int, error) {
	if !s.settingsRepo.GetBool(ctx, "preemption_enabled", true) {
		return 0, nil
	}

	campaigns, err := s.campaignRepo.ListLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list campaigns for preemption sweep: %w", err)
	}

	preempted := 0
	for _, campaign := range campaigns {
		// Deferred campaigns have nothing ranked below them to take from.
		if campaign.Priority.Rank() <= models.CampaignPriorityDeferred.Rank() {
			continue
		}
		starved, err := s.starved(ctx, campaign)
		if err != nil {
			debug.Error("Starvation check failed for campaign %s: %v", campaign.ID, err)
			continue
		}
		if !starved {
			continue
		}
		ok, err := s.preemptOneBelow(ctx, campaign)
		if err != nil {
			debug.Error("Preemption failed for campaign %s: %v", campaign.ID, err)
			continue
		}
		if ok {
			preempted++
		}
	}
	if preempted > 0 {
		debug.Info("Priority controller preempted %d task(s)", preempted)
	}
	return preempted, nil
}

// starved reports whether the campaign has runnable work but no agent
// serving it. A campaign no active agent has benchmarked does not count:
// freeing a slot cannot produce capacity its hash type can use.
func (s *PreemptionService) starved(ctx context.Context, campaign *models.Campaign) (bool, error) {
	if campaign.UncrackedCount <= 0 {
		return false, nil
	}
	attacks, err := s.attackRepo.ListSchedulable(ctx, campaign.ID)
	if err != nil {
		return false, err
	}
	if len(attacks) == 0 {
		return false, nil
	}
	running, err := s.taskRepo.CountRunningByCampaign(ctx, campaign.ID)
	if err != nil {
		return false, err
	}
	if running > 0 {
		return false, nil
	}
	speeds, err := s.benchmarkRepo.ActiveSpeedsForHashType(ctx, campaign.HashType)
	if err != nil {
		return false, err
	}
	if len(speeds) == 0 {
		debug.Debug("Campaign %s starved but no active agent benchmarked hash type %d", campaign.ID, campaign.HashType)
		return false, nil
	}
	return true, nil
}

// preemptOneBelow finds the cheapest eligible running task ranked below the
// campaign's priority and preempts it. Candidates come back lowest priority
// and least progress first; the per-task guard still applies, so a nearly
// finished or repeatedly preempted task is passed over.
func (s *PreemptionService) preemptOneBelow(ctx context.Context, campaign *models.Campaign) (bool, error) {
	candidates, err := s.taskRepo.ListRunningBelowPriority(ctx, campaign.Priority)
	if err != nil {
		return false, err
	}
	for _, cand := range candidates {
		if !cand.Task.Preemptable() {
			continue
		}
		won, err := s.taskService.Preempt(ctx, cand.Task.ID)
		if err != nil {
			debug.Error("Failed to preempt task %s for campaign %s: %v", cand.Task.ID, campaign.ID, err)
			continue
		}
		if won {
			debug.Log("Task preempted for higher-priority campaign", map[string]interface{}{
				"task_id":       cand.Task.ID.String(),
				"from_campaign": cand.CampaignID.String(),
				"from_priority": string(cand.Priority),
				"for_campaign":  campaign.ID.String(),
				"for_priority":  string(campaign.Priority),
			})
			return true, nil
		}
	}
	return false, nil
}
