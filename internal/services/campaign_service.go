package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dravenops/hashhive/backend/internal/jobs"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// CampaignService owns campaign CRUD, the derived completion predicate and
// the campaign-wide pause/resume cascades.
type CampaignService struct {
	campaignRepo  *repository.CampaignRepository
	attackRepo    *repository.AttackRepository
	taskRepo      *repository.TaskRepository
	hashListRepo  *repository.HashListRepository
	attackService *AttackService
	eta           *EtaService
	runner        jobs.Runner
	sink          broadcast.Sink
}

// NewCampaignService creates a new instance of CampaignService.
func NewCampaignService(
	campaignRepo *repository.CampaignRepository,
	attackRepo *repository.AttackRepository,
	taskRepo *repository.TaskRepository,
	hashListRepo *repository.HashListRepository,
	attackService *AttackService,
	eta *EtaService,
	runner jobs.Runner,
	sink broadcast.Sink,
) *CampaignService {
	return &CampaignService{
		campaignRepo:  campaignRepo,
		attackRepo:    attackRepo,
		taskRepo:      taskRepo,
		hashListRepo:  hashListRepo,
		attackService: attackService,
		eta:           eta,
		runner:        runner,
		sink:          sink,
	}
}

// Create validates and inserts a new campaign against a processed hash list
// belonging to the same project.
func (s *CampaignService) Create(ctx context.Context, campaign *models.Campaign) error {
	if strings.TrimSpace(campaign.Name) == "" {
		return fmt.Errorf("campaign name cannot be empty")
	}
	if campaign.Priority == "" {
		campaign.Priority = models.CampaignPriorityNormal
	}
	if !campaign.Priority.Valid() {
		return fmt.Errorf("unknown campaign priority %q", campaign.Priority)
	}

	hashList, err := s.hashListRepo.GetByID(ctx, campaign.HashListID)
	if err != nil {
		return err
	}
	if !hashList.Processed {
		return fmt.Errorf("hash list %d is still importing", hashList.ID)
	}
	if hashList.ProjectID != campaign.ProjectID {
		return fmt.Errorf("hash list %d belongs to project %d, not %d", hashList.ID, hashList.ProjectID, campaign.ProjectID)
	}

	return s.campaignRepo.Create(ctx, campaign)
}

// GetByID retrieves a campaign with its hash list counters joined in.
func (s *CampaignService) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	return s.campaignRepo.GetByID(ctx, id)
}

// ListByProject retrieves a project's live campaigns.
func (s *CampaignService) ListByProject(ctx context.Context, projectID int) ([]*models.Campaign, error) {
	return s.campaignRepo.ListByProject(ctx, projectID)
}

// Update modifies a campaign's name and priority. A priority raise takes
// effect at the next controller sweep; the scheduler itself reads priority
// live on every poll.
func (s *CampaignService) Update(ctx context.Context, campaign *models.Campaign) error {
	if !campaign.Priority.Valid() {
		return fmt.Errorf("unknown campaign priority %q", campaign.Priority)
	}
	current, err := s.campaignRepo.GetByID(ctx, campaign.ID)
	if err != nil {
		return err
	}
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return err
	}
	if campaign.Priority != current.Priority {
		debug.Info("Campaign %s priority changed %s -> %s", campaign.ID, current.Priority, campaign.Priority)
	}
	s.scheduleEtaRefresh(ctx, campaign.ID)
	return nil
}

// Completed evaluates the campaign completion predicate: zero uncracked
// items on the hash list, or every attack completed. A fully cracked list
// also converges any straggling attacks before answering.
func (s *CampaignService) Completed(ctx context.Context, campaignID uuid.UUID) (bool, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if campaign.UncrackedCount <= 0 {
		if err := s.attackService.CompleteCampaignAttacks(ctx, campaignID); err != nil {
			debug.Error("Failed to converge attacks of cracked campaign %s: %v", campaignID, err)
		}
		return true, nil
	}
	remaining, err := s.attackRepo.CountRemainingByCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// Pause pauses every attack of the campaign, cascading to their tasks.
// Returns how many attacks transitioned.
func (s *CampaignService) Pause(ctx context.Context, campaignID uuid.UUID) (int, error) {
	return s.cascade(ctx, campaignID, s.attackService.Pause)
}

// Resume resumes every paused attack of the campaign. Returns how many
// attacks transitioned.
func (s *CampaignService) Resume(ctx context.Context, campaignID uuid.UUID) (int, error) {
	return s.cascade(ctx, campaignID, s.attackService.Resume)
}

func (s *CampaignService) cascade(ctx context.Context, campaignID uuid.UUID, apply func(context.Context, uuid.UUID) (bool, error)) (int, error) {
	attacks, err := s.attackRepo.ListByCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	transitioned := 0
	for _, attack := range attacks {
		changed, err := apply(ctx, attack.ID)
		if err != nil {
			debug.Error("Campaign %s cascade failed on attack %s: %v", campaignID, attack.ID, err)
			continue
		}
		if changed {
			transitioned++
		}
	}
	s.scheduleEtaRefresh(ctx, campaignID)
	return transitioned, nil
}

// SoftDelete pauses the campaign's work and marks it deleted. The retention
// sweep purges the row and its attacks once the configured window passes.
func (s *CampaignService) SoftDelete(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := s.Pause(ctx, campaignID); err != nil {
		debug.Error("Failed to pause campaign %s before delete: %v", campaignID, err)
	}
	if err := s.campaignRepo.SoftDelete(ctx, campaignID); err != nil {
		return err
	}
	s.sink.Publish(ctx, broadcast.Event{
		Kind:       broadcast.KindCampaignProgress,
		CampaignID: campaignID,
		Status:     "deleted",
	})
	return nil
}

// CampaignSummary is the dashboard view of one campaign: counters, keyspace
// totals, the completion predicate and both finish estimates.
type CampaignSummary struct {
	Campaign          *models.Campaign `json:"campaign"`
	Attacks           []*models.Attack `json:"attacks"`
	RunningTasks      int              `json:"running_tasks"`
	Completed         bool             `json:"completed"`
	KeyspaceTotal     float64          `json:"keyspace_total"`
	KeyspaceRemaining float64          `json:"keyspace_remaining"`
	CurrentETA        *time.Time       `json:"current_eta,omitempty"`
	TotalETA          *time.Time       `json:"total_eta,omitempty"`
}

// Summary assembles the campaign's progress view. ETA failures degrade to
// absent estimates instead of failing the whole summary.
func (s *CampaignService) Summary(ctx context.Context, campaignID uuid.UUID) (*CampaignSummary, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	// GetByID keeps soft-deleted campaigns visible for internal flows;
	// the dashboard view treats them as gone.
	if campaign.Deleted() {
		return nil, fmt.Errorf("campaign %s not found: %w", campaignID, repository.ErrNotFound)
	}
	attacks, err := s.attackRepo.ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	running, err := s.taskRepo.CountRunningByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	completed, err := s.Completed(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	keyspaceTotal, keyspaceRemaining, err := s.attackRepo.SumComplexityByCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	summary := &CampaignSummary{
		Campaign:          campaign,
		Attacks:           attacks,
		RunningTasks:      running,
		Completed:         completed,
		KeyspaceTotal:     keyspaceTotal,
		KeyspaceRemaining: keyspaceRemaining,
	}
	if current, ok, err := s.eta.CurrentETA(ctx, campaignID); err != nil {
		debug.Warning("Current ETA unavailable for campaign %s: %v", campaignID, err)
	} else if ok {
		summary.CurrentETA = &current
	}
	if total, err := s.eta.TotalETA(ctx, campaignID); err != nil {
		debug.Warning("Total ETA unavailable for campaign %s: %v", campaignID, err)
	} else {
		summary.TotalETA = &total
	}
	return summary, nil
}

// scheduleEtaRefresh enqueues an async ETA recompute. Best effort; the TTL
// bounds staleness anyway.
func (s *CampaignService) scheduleEtaRefresh(ctx context.Context, campaignID uuid.UUID) {
	if err := s.runner.Enqueue(ctx, jobs.TypeRefreshCampaignETA, campaignID.String()); err != nil {
		debug.Warning("Failed to enqueue ETA refresh for campaign %s: %v", campaignID, err)
	}
}
