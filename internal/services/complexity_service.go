package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dravenops/hashhive/backend/internal/jobs"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/utils"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// ComplexityService computes and stores attack keyspace estimates. The
// value is denormalized on the attack row because the scheduler and ETA
// queries read it constantly; recomputation is fire-and-forget, so a
// transient zero is tolerated.
type ComplexityService struct {
	attackRepo *repository.AttackRepository
	runner     jobs.Runner
}

// NewComplexityService creates a complexity service.
func NewComplexityService(attackRepo *repository.AttackRepository, runner jobs.Runner) *ComplexityService {
	return &ComplexityService{
		attackRepo: attackRepo,
		runner:     runner,
	}
}

// EstimateAttack returns the keyspace estimate for an attack. The join
// fields (word list line count, rule list line count, mask list
// complexity) must be populated. Unknown modes estimate to zero.
func EstimateAttack(a *models.Attack) float64 {
	switch a.Mode {
	case models.AttackModeDictionary:
		words := float64(a.WordListLineCount)
		rules := float64(a.RuleListLineCount)
		if rules < 1 {
			rules = 1
		}
		estimate := words * rules
		if a.IncrementMode {
			estimate *= float64(a.IncrementMaximum - a.IncrementMinimum + 1)
		}
		return estimate

	case models.AttackModeMask:
		return maskEstimate(a)

	case models.AttackModeHybridDictionary, models.AttackModeHybridMask:
		return float64(a.WordListLineCount) * maskEstimate(a)
	}
	return 0
}

// maskEstimate resolves the mask side of an attack: an attached mask
// list carries its own precomputed complexity, otherwise the mask string
// is parsed position by position.
func maskEstimate(a *models.Attack) float64 {
	if a.MaskListID.Valid {
		return a.MaskListComplexity
	}
	if a.Mask == "" {
		return 0
	}
	charsets := a.CustomCharsets()
	if a.IncrementMode {
		return utils.MaskIncrementKeyspace(a.Mask, charsets, a.IncrementMinimum, a.IncrementMaximum)
	}
	return utils.MaskKeyspace(a.Mask, charsets)
}

// Recompute loads the attack with its resource counts and stores a fresh
// estimate on the row.
func (s *ComplexityService) Recompute(ctx context.Context, attackID uuid.UUID) error {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return fmt.Errorf("failed to load attack for complexity recompute: %w", err)
	}

	// A zero word list count means the list has not been counted yet; the
	// stored estimate will be zero and the scheduler orders the attack as
	// if it were free until the count lands.
	if attack.UsesWordList() && attack.WordListLineCount == 0 {
		debug.Warning("Attack %s estimates against an uncounted word list", attackID)
	}

	estimate := EstimateAttack(attack)
	if err := s.attackRepo.UpdateComplexity(ctx, attackID, estimate); err != nil {
		return fmt.Errorf("failed to store complexity for attack %s: %w", attackID, err)
	}

	debug.Log("Attack complexity recomputed", map[string]interface{}{
		"attack_id":  attackID,
		"mode":       attack.Mode,
		"complexity": estimate,
	})
	return nil
}

// ScheduleRecompute enqueues an asynchronous recompute. Enqueue failures
// are logged and swallowed: the caller's write must not fail because the
// estimate is momentarily stale.
func (s *ComplexityService) ScheduleRecompute(ctx context.Context, attackID uuid.UUID) {
	if err := s.runner.Enqueue(ctx, jobs.TypeRecomputeComplexity, attackID.String()); err != nil {
		debug.Warning("Failed to enqueue complexity recompute for attack %s: %v", attackID, err)
	}
}

// HandleRecomputeJob is the job runner handler for complexity recomputes.
func (s *ComplexityService) HandleRecomputeJob(ctx context.Context, job jobs.Job) error {
	attackID, err := uuid.Parse(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid attack id in %s job: %w", job.Type, err)
	}
	return s.Recompute(ctx, attackID)
}
