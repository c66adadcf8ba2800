package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
	"github.com/dravenops/hashhive/backend/internal/utils"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// AttackService owns the attack state machine and the attack-level
// completion checks that corroborate task reports against the hash list.
type AttackService struct {
	attackRepo   *repository.AttackRepository
	taskRepo     *repository.TaskRepository
	campaignRepo *repository.CampaignRepository
	hashListRepo *repository.HashListRepository
	statusRepo   *repository.HashcatStatusRepository
	complexity   *ComplexityService
	sink         broadcast.Sink
}

// NewAttackService creates a new instance of AttackService.
func NewAttackService(
	attackRepo *repository.AttackRepository,
	taskRepo *repository.TaskRepository,
	campaignRepo *repository.CampaignRepository,
	hashListRepo *repository.HashListRepository,
	statusRepo *repository.HashcatStatusRepository,
	complexity *ComplexityService,
	sink broadcast.Sink,
) *AttackService {
	return &AttackService{
		attackRepo:   attackRepo,
		taskRepo:     taskRepo,
		campaignRepo: campaignRepo,
		hashListRepo: hashListRepo,
		statusRepo:   statusRepo,
		complexity:   complexity,
		sink:         sink,
	}
}

// validate runs the mode-conditional resource checks plus mask syntax.
func (s *AttackService) validate(attack *models.Attack) error {
	if err := attack.Validate(); err != nil {
		return err
	}
	if attack.Mask != "" {
		if err := utils.ValidateMaskSyntax(attack.Mask); err != nil {
			return fmt.Errorf("invalid mask %q: %w", attack.Mask, err)
		}
	}
	return nil
}

// Create validates and inserts a new attack, then schedules its first
// complexity estimate.
func (s *AttackService) Create(ctx context.Context, attack *models.Attack) error {
	if attack.Status == "" {
		attack.Status = models.AttackStatusPending
	}
	if err := s.validate(attack); err != nil {
		return err
	}
	if _, err := s.campaignRepo.GetByID(ctx, attack.CampaignID); err != nil {
		return err
	}
	if err := s.attackRepo.Create(ctx, attack); err != nil {
		return err
	}
	s.complexity.ScheduleRecompute(ctx, attack.ID)
	return nil
}

// Update re-validates and rewrites an attack's configuration, schedules a
// complexity recompute, and returns a terminal attack to pending so the
// edited configuration actually runs.
func (s *AttackService) Update(ctx context.Context, attack *models.Attack) error {
	current, err := s.attackRepo.GetByID(ctx, attack.ID)
	if err != nil {
		return err
	}
	if err := s.validate(attack); err != nil {
		return err
	}
	if err := s.attackRepo.Update(ctx, attack); err != nil {
		return err
	}
	s.complexity.ScheduleRecompute(ctx, attack.ID)

	if _, ok := models.NextAttackStatus(current.Status, models.AttackEventReset); ok {
		if _, err := s.Reset(ctx, attack.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves an attack.
func (s *AttackService) GetByID(ctx context.Context, id uuid.UUID) (*models.Attack, error) {
	return s.attackRepo.GetByID(ctx, id)
}

// AttackDetail pairs an attack with its live task, if any.
type AttackDetail struct {
	Attack      *models.Attack `json:"attack"`
	RunningTask *models.Task   `json:"running_task,omitempty"`
}

// Detail returns the attack together with the task currently holding
// its keyspace. RunningTask is nil when nothing runs.
func (s *AttackService) Detail(ctx context.Context, id uuid.UUID) (*AttackDetail, error) {
	attack, err := s.attackRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	task, err := s.taskRepo.GetRunningByAttack(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AttackDetail{Attack: attack, RunningTask: task}, nil
}

// ListByCampaign retrieves a campaign's attacks.
func (s *AttackService) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*models.Attack, error) {
	return s.attackRepo.ListByCampaign(ctx, campaignID)
}

// Accept resolves the accept event when an agent picks up one of the
// attack's tasks. First acceptance stamps start_time; repeats keep it.
func (s *AttackService) Accept(ctx context.Context, attackID uuid.UUID) error {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return err
	}
	next, ok := models.NextAttackStatus(attack.Status, models.AttackEventAccept)
	if !ok {
		debug.Warning("Attack %s cannot accept work in status %s", attackID, attack.Status)
		return nil
	}
	if attack.Status != next {
		won, err := s.attackRepo.UpdateStatusFrom(ctx, attackID, attack.Status, next)
		if err != nil {
			return err
		}
		if won {
			s.broadcast(ctx, attack, next)
		}
	}
	return s.attackRepo.MarkStarted(ctx, attackID)
}

// CompleteIfDone applies the complete event when its data guards hold: a
// running attack completes when every task completed, a pending attack only
// when the hash list itself has nothing left to crack. A fully cracked list
// also proactively completes the campaign's other incomplete attacks.
// Returns whether this attack transitioned.
func (s *AttackService) CompleteIfDone(ctx context.Context, attackID uuid.UUID) (bool, error) {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return false, err
	}
	if _, ok := models.NextAttackStatus(attack.Status, models.AttackEventComplete); !ok {
		return false, nil
	}

	hashList, err := s.hashListForCampaign(ctx, attack.CampaignID)
	if err != nil {
		return false, err
	}
	listCracked := hashList.FullyCracked()

	switch attack.Status {
	case models.AttackStatusRunning:
		if !listCracked {
			remaining, err := s.taskRepo.CountNotInStatusByAttack(ctx, attackID, models.TaskStatusCompleted)
			if err != nil {
				return false, err
			}
			if remaining > 0 {
				return false, nil
			}
		}
	case models.AttackStatusPending:
		if !listCracked {
			return false, nil
		}
	}

	won, err := s.attackRepo.UpdateStatusFrom(ctx, attackID, attack.Status, models.AttackStatusCompleted)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	if err := s.attackRepo.MarkEnded(ctx, attackID); err != nil {
		debug.Error("Failed to stamp end time on attack %s: %v", attackID, err)
	}
	if err := s.campaignRepo.Touch(ctx, attack.CampaignID); err != nil {
		debug.Error("Failed to touch campaign %s: %v", attack.CampaignID, err)
	}
	debug.Info("Attack %s completed (list cracked: %t)", attackID, listCracked)
	s.broadcast(ctx, attack, models.AttackStatusCompleted)

	if listCracked {
		if err := s.CompleteCampaignAttacks(ctx, attack.CampaignID); err != nil {
			debug.Error("Failed to complete remaining attacks of campaign %s: %v", attack.CampaignID, err)
		}
	}
	return true, nil
}

// ExhaustIfDone applies the exhaust event when its data guards hold: every
// task exhausted, or the hash list fully cracked. The attack lands in
// completed; a fully searched keyspace with uncracked hashes left is still a
// finished attack, not a failure.
func (s *AttackService) ExhaustIfDone(ctx context.Context, attackID uuid.UUID) (bool, error) {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return false, err
	}
	next, ok := models.NextAttackStatus(attack.Status, models.AttackEventExhaust)
	if !ok {
		return false, nil
	}

	hashList, err := s.hashListForCampaign(ctx, attack.CampaignID)
	if err != nil {
		return false, err
	}
	listCracked := hashList.FullyCracked()
	if !listCracked {
		remaining, err := s.taskRepo.CountNotInStatusByAttack(ctx, attackID, models.TaskStatusExhausted)
		if err != nil {
			return false, err
		}
		if remaining > 0 {
			return false, nil
		}
	}

	won, err := s.attackRepo.UpdateStatusFrom(ctx, attackID, attack.Status, next)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	if err := s.attackRepo.MarkEnded(ctx, attackID); err != nil {
		debug.Error("Failed to stamp end time on attack %s: %v", attackID, err)
	}
	if err := s.campaignRepo.Touch(ctx, attack.CampaignID); err != nil {
		debug.Error("Failed to touch campaign %s: %v", attack.CampaignID, err)
	}
	debug.Info("Attack %s exhausted its keyspace (list cracked: %t)", attackID, listCracked)
	s.broadcast(ctx, attack, next)

	if listCracked {
		if err := s.CompleteCampaignAttacks(ctx, attack.CampaignID); err != nil {
			debug.Error("Failed to complete remaining attacks of campaign %s: %v", attack.CampaignID, err)
		}
	}
	return true, nil
}

// CompleteCampaignAttacks completes every pending or running attack of the
// campaign, tasks first. Called when the campaign's hash list reaches zero
// uncracked items: remaining work is pointless once everything is cracked.
// Paused and failed attacks keep their status; the transition table has no
// complete edge for them.
func (s *AttackService) CompleteCampaignAttacks(ctx context.Context, campaignID uuid.UUID) error {
	attacks, err := s.attackRepo.ListByCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	completed := 0
	for _, attack := range attacks {
		if attack.Status != models.AttackStatusPending && attack.Status != models.AttackStatusRunning {
			continue
		}

		tasks, err := s.taskRepo.ListByAttack(ctx, attack.ID)
		if err != nil {
			debug.Error("Failed to list tasks for attack %s: %v", attack.ID, err)
			continue
		}
		for _, task := range tasks {
			next, ok := models.NextTaskStatus(task.Status, models.TaskEventComplete)
			if !ok {
				continue
			}
			won, err := s.taskRepo.UpdateStatusFrom(ctx, task.ID, task.Status, next)
			if err != nil {
				debug.Error("Failed to complete task %s: %v", task.ID, err)
				continue
			}
			if won {
				if _, err := s.statusRepo.DeleteByTask(ctx, task.ID); err != nil {
					debug.Error("Failed to purge status rows for task %s: %v", task.ID, err)
				}
			}
		}

		won, err := s.attackRepo.UpdateStatusFrom(ctx, attack.ID, attack.Status, models.AttackStatusCompleted)
		if err != nil {
			debug.Error("Failed to complete attack %s: %v", attack.ID, err)
			continue
		}
		if won {
			if err := s.attackRepo.MarkEnded(ctx, attack.ID); err != nil {
				debug.Error("Failed to stamp end time on attack %s: %v", attack.ID, err)
			}
			completed++
		}
	}

	if completed > 0 {
		debug.Info("Completed %d remaining attack(s) of campaign %s after full crack", completed, campaignID)
		if err := s.campaignRepo.Touch(ctx, campaignID); err != nil {
			debug.Error("Failed to touch campaign %s: %v", campaignID, err)
		}
	}
	s.sink.Publish(ctx, broadcast.Event{
		Kind:       broadcast.KindCampaignProgress,
		CampaignID: campaignID,
		Status:     "completed",
	})
	return nil
}

// Pause applies the pause event and cascades it to the attack's pending and
// running tasks.
func (s *AttackService) Pause(ctx context.Context, attackID uuid.UUID) (bool, error) {
	return s.cascade(ctx, attackID, models.AttackEventPause, models.TaskEventPause)
}

// Resume applies the resume event and cascades it to the attack's paused
// tasks. Resumed tasks come back stale so their next owner refreshes cracked
// hashes first.
func (s *AttackService) Resume(ctx context.Context, attackID uuid.UUID) (bool, error) {
	return s.cascade(ctx, attackID, models.AttackEventResume, models.TaskEventResume)
}

// Cancel applies the cancel event and cascades it to the attack's pending
// and running tasks, which fail in place.
func (s *AttackService) Cancel(ctx context.Context, attackID uuid.UUID) (bool, error) {
	return s.cascade(ctx, attackID, models.AttackEventCancel, models.TaskEventCancel)
}

// cascade applies an attack event, then mirrors it onto every task the
// matching task event legally covers.
func (s *AttackService) cascade(ctx context.Context, attackID uuid.UUID, attackEvent models.AttackEvent, taskEvent models.TaskEvent) (bool, error) {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return false, err
	}
	next, ok := models.NextAttackStatus(attack.Status, attackEvent)
	if !ok {
		return false, nil
	}
	won, err := s.attackRepo.UpdateStatusFrom(ctx, attackID, attack.Status, next)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	tasks, err := s.taskRepo.ListByAttack(ctx, attackID)
	if err != nil {
		return true, err
	}
	for _, task := range tasks {
		taskNext, ok := models.NextTaskStatus(task.Status, taskEvent)
		if !ok {
			continue
		}
		taskWon, err := s.taskRepo.UpdateStatusFrom(ctx, task.ID, task.Status, taskNext)
		if err != nil {
			debug.Error("Failed to %s task %s with attack %s: %v", taskEvent, task.ID, attackID, err)
			continue
		}
		if taskWon && taskEvent == models.TaskEventResume {
			if err := s.taskRepo.SetStale(ctx, task.ID); err != nil {
				debug.Error("Failed to mark resumed task %s stale: %v", task.ID, err)
			}
		}
	}

	debug.Log("Attack transition cascaded to tasks", map[string]interface{}{
		"attack_id": attackID.String(),
		"event":     string(attackEvent),
		"from":      string(attack.Status),
		"to":        string(next),
		"tasks":     len(tasks),
	})
	s.broadcast(ctx, attack, next)
	return true, nil
}

// Abandon returns a running attack to pending and destroys all of its tasks
// in one transaction, so no agent can hold a claim on a sibling once the
// attack is back in the pool. Deliberately does not broadcast; the caller
// that triggered the abandon reports through its own channel.
func (s *AttackService) Abandon(ctx context.Context, attackID uuid.UUID) (bool, error) {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return false, err
	}
	if _, ok := models.NextAttackStatus(attack.Status, models.AttackEventAbandon); !ok {
		return false, nil
	}

	tx, err := s.taskRepo.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	won, err := s.attackRepo.UpdateStatusFromTx(tx, attackID, models.AttackStatusRunning, models.AttackStatusPending)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	destroyed, err := s.taskRepo.DeleteByAttackTx(tx, attackID)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit abandon of attack %s: %w", attackID, err)
	}

	if err := s.campaignRepo.Touch(ctx, attack.CampaignID); err != nil {
		debug.Error("Failed to touch campaign %s: %v", attack.CampaignID, err)
	}
	debug.Log("Attack abandoned", map[string]interface{}{
		"attack_id":       attackID.String(),
		"campaign_id":     attack.CampaignID.String(),
		"tasks_destroyed": destroyed,
	})
	return true, nil
}

// Reset returns a terminal attack to pending and clears its start and end
// times so the next run stamps fresh ones.
func (s *AttackService) Reset(ctx context.Context, attackID uuid.UUID) (bool, error) {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return false, err
	}
	next, ok := models.NextAttackStatus(attack.Status, models.AttackEventReset)
	if !ok {
		return false, nil
	}
	won, err := s.attackRepo.UpdateStatusFrom(ctx, attackID, attack.Status, next)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	if err := s.attackRepo.ClearTimes(ctx, attackID); err != nil {
		return true, err
	}
	debug.Info("Attack %s reset to pending from %s", attackID, attack.Status)
	s.broadcast(ctx, attack, next)
	return true, nil
}

// Destroy deletes an attack; its tasks cascade at the database level.
func (s *AttackService) Destroy(ctx context.Context, attackID uuid.UUID) error {
	attack, err := s.attackRepo.GetByID(ctx, attackID)
	if err != nil {
		return err
	}
	if err := s.attackRepo.Delete(ctx, attackID); err != nil {
		return err
	}
	if err := s.campaignRepo.Touch(ctx, attack.CampaignID); err != nil {
		debug.Error("Failed to touch campaign %s: %v", attack.CampaignID, err)
	}
	return nil
}

// hashListForCampaign resolves the campaign's hash list for the completion
// data guards.
func (s *AttackService) hashListForCampaign(ctx context.Context, campaignID uuid.UUID) (*models.HashList, error) {
	campaign, err := s.campaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.hashListRepo.GetByID(ctx, campaign.HashListID)
}

func (s *AttackService) broadcast(ctx context.Context, attack *models.Attack, status models.AttackStatus) {
	s.sink.Publish(ctx, broadcast.Event{
		Kind:       broadcast.KindAttackProgress,
		CampaignID: attack.CampaignID,
		AttackID:   attack.ID,
		Status:     string(status),
	})
}
