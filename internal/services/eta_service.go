package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dravenops/hashhive/backend/internal/cache"
	"github.com/dravenops/hashhive/backend/internal/jobs"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

const defaultEtaCacheTTLSeconds = 60

// EtaService computes campaign finish estimates. CurrentETA is what the
// running agents themselves predict; TotalETA extends that over the work not
// yet started, priced at the fastest benchmarked rate for the campaign's
// hash type. Both go through the cache port because progress dashboards poll
// them far more often than they meaningfully change.
type EtaService struct {
	taskRepo      *repository.TaskRepository
	attackRepo    *repository.AttackRepository
	campaignRepo  *repository.CampaignRepository
	benchmarkRepo *repository.BenchmarkRepository
	settingsRepo  *repository.SystemSettingsRepository
	store         cache.Store
}

// NewEtaService creates a new instance of EtaService.
func NewEtaService(
	taskRepo *repository.TaskRepository,
	attackRepo *repository.AttackRepository,
	campaignRepo *repository.CampaignRepository,
	benchmarkRepo *repository.BenchmarkRepository,
	settingsRepo *repository.SystemSettingsRepository,
	store cache.Store,
) *EtaService {
	return &EtaService{
		taskRepo:      taskRepo,
		attackRepo:    attackRepo,
		campaignRepo:  campaignRepo,
		benchmarkRepo: benchmarkRepo,
		settingsRepo:  settingsRepo,
		store:         store,
	}
}

func currentEtaKey(campaignID uuid.UUID) string {
	return "eta:current:" + campaignID.String()
}

func totalEtaKey(campaignID uuid.UUID) string {
	return "eta:total:" + campaignID.String()
}

// CurrentETA returns the latest estimated finish time across the campaign's
// running tasks. ok is false when nothing is running or nothing has reported
// an estimate yet.
func (s *EtaService) CurrentETA(ctx context.Context, campaignID uuid.UUID) (time.Time, bool, error) {
	if cached, ok := s.getCached(ctx, currentEtaKey(campaignID)); ok {
		return cached, true, nil
	}

	finish, ok, err := s.taskRepo.MaxEstimatedFinishByCampaign(ctx, campaignID)
	if err != nil {
		return time.Time{}, false, err
	}
	if !ok {
		return time.Time{}, false, nil
	}
	s.putCached(ctx, currentEtaKey(campaignID), finish)
	return finish, true, nil
}

// TotalETA returns the estimated finish time for the campaign's entire
// remaining work: CurrentETA (or now, when nothing runs) plus the estimated
// duration of every pending or paused attack at the fastest benchmarked
// rate for the campaign's hash type. Attacks with zero complexity are
// skipped, and with no benchmark on record no duration can be priced at all.
func (s *EtaService) TotalETA(ctx context.Context, campaignID uuid.UUID) (time.Time, error) {
	if cached, ok := s.getCached(ctx, totalEtaKey(campaignID)); ok {
		return cached, nil
	}

	base, running, err := s.CurrentETA(ctx, campaignID)
	if err != nil {
		return time.Time{}, err
	}
	if !running {
		base = time.Now()
	}

	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return time.Time{}, err
	}
	fastest, err := s.fastestRate(ctx, campaign.HashType)
	if err != nil {
		return time.Time{}, err
	}

	total := base
	if fastest > 0 {
		attacks, err := s.attackRepo.ListByCampaign(ctx, campaignID)
		if err != nil {
			return time.Time{}, err
		}
		var seconds float64
		for _, attack := range attacks {
			if attack.Status != models.AttackStatusPending && attack.Status != models.AttackStatusPaused {
				continue
			}
			if attack.ComplexityValue <= 0 {
				continue
			}
			seconds += attack.ComplexityValue / fastest
		}
		total = base.Add(time.Duration(seconds * float64(time.Second)))
	}

	s.putCached(ctx, totalEtaKey(campaignID), total)
	return total, nil
}

// Refresh drops the campaign's cached estimates and recomputes them. Used by
// the async refresh job so dashboards see fresh numbers right after big
// state changes instead of waiting out the TTL.
func (s *EtaService) Refresh(ctx context.Context, campaignID uuid.UUID) error {
	if err := s.store.Delete(ctx, currentEtaKey(campaignID)); err != nil {
		debug.Warning("Failed to drop cached current ETA for campaign %s: %v", campaignID, err)
	}
	if err := s.store.Delete(ctx, totalEtaKey(campaignID)); err != nil {
		debug.Warning("Failed to drop cached total ETA for campaign %s: %v", campaignID, err)
	}
	if _, _, err := s.CurrentETA(ctx, campaignID); err != nil {
		return err
	}
	_, err := s.TotalETA(ctx, campaignID)
	return err
}

// HandleRefreshJob adapts Refresh to the job runner.
func (s *EtaService) HandleRefreshJob(ctx context.Context, job jobs.Job) error {
	campaignID, err := uuid.Parse(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid campaign ID in %s job: %w", job.Type, err)
	}
	return s.Refresh(ctx, campaignID)
}

// fastestRate returns the best summed per-agent speed on record for the
// hash type, or zero when nobody has benchmarked it.
func (s *EtaService) fastestRate(ctx context.Context, hashType int) (float64, error) {
	speeds, err := s.benchmarkRepo.SpeedsForHashType(ctx, hashType)
	if err != nil {
		return 0, err
	}
	var fastest float64
	for _, speed := range speeds {
		if speed.HashSpeed > fastest {
			fastest = speed.HashSpeed
		}
	}
	return fastest, nil
}

func (s *EtaService) getCached(ctx context.Context, key string) (time.Time, bool) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		debug.Warning("ETA cache read failed for %s: %v", key, err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		debug.Warning("ETA cache entry for %s is malformed: %v", key, err)
		return time.Time{}, false
	}
	return parsed, true
}

func (s *EtaService) putCached(ctx context.Context, key string, value time.Time) {
	ttl := time.Duration(s.settingsRepo.GetInt(ctx, "eta_cache_ttl_seconds", defaultEtaCacheTTLSeconds)) * time.Second
	if err := s.store.Set(ctx, key, []byte(value.Format(time.RFC3339Nano)), ttl); err != nil {
		debug.Warning("ETA cache write failed for %s: %v", key, err)
	}
}
