package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// TaskService owns the task state machine. Transitions arrive from agent
// reports (accept, status, crack, exhaust, error) and from operators (pause,
// resume, cancel, retry, abandon); illegal event/status pairs no-op so that
// reports racing a state change never error back to the agent. Every
// transition except abandon broadcasts a progress snapshot.
type TaskService struct {
	taskRepo      *repository.TaskRepository
	attackRepo    *repository.AttackRepository
	campaignRepo  *repository.CampaignRepository
	hashListRepo  *repository.HashListRepository
	statusRepo    *repository.HashcatStatusRepository
	attackService *AttackService
	crackIngest   *CrackIngestService
	sink          broadcast.Sink
}

// NewTaskService creates a new instance of TaskService.
func NewTaskService(
	taskRepo *repository.TaskRepository,
	attackRepo *repository.AttackRepository,
	campaignRepo *repository.CampaignRepository,
	hashListRepo *repository.HashListRepository,
	statusRepo *repository.HashcatStatusRepository,
	attackService *AttackService,
	crackIngest *CrackIngestService,
	sink broadcast.Sink,
) *TaskService {
	return &TaskService{
		taskRepo:      taskRepo,
		attackRepo:    attackRepo,
		campaignRepo:  campaignRepo,
		hashListRepo:  hashListRepo,
		statusRepo:    statusRepo,
		attackService: attackService,
		crackIngest:   crackIngest,
		sink:          sink,
	}
}

// GetByID retrieves a task.
func (s *TaskService) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return s.taskRepo.GetByID(ctx, id)
}

// ListByAgent retrieves an agent's recent tasks.
func (s *TaskService) ListByAgent(ctx context.Context, agentID int, limit int) ([]*models.Task, error) {
	return s.taskRepo.ListByAgent(ctx, agentID, limit)
}

// Accept resolves the accept event: the agent confirms it is working the
// task. The task goes running, attack acceptance propagates, and the
// activity timestamp moves.
func (s *TaskService) Accept(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	next, ok := models.NextTaskStatus(task.Status, models.TaskEventAccept)
	if !ok {
		debug.Warning("Task %s cannot accept in status %s", taskID, task.Status)
		return nil
	}
	won, err := s.taskRepo.UpdateStatusFrom(ctx, taskID, task.Status, next)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	if err := s.attackService.Accept(ctx, task.AttackID); err != nil {
		return err
	}
	s.broadcastTask(ctx, task, next, task.ProgressPercentage)
	return nil
}

// AcceptStatus persists a structured progress report and resolves the
// accept_status event. A report lands the task in running from pending,
// running or failed; a paused task keeps its status but the report is still
// recorded. Terminal tool codes route to the matching lifecycle event.
func (s *TaskService) AcceptStatus(ctx context.Context, taskID uuid.UUID, status *models.HashcatStatus) error {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	status.TaskID = taskID
	if err := s.statusRepo.Create(ctx, status); err != nil {
		return err
	}

	switch status.StatusCode {
	case models.HashcatStatusExhausted:
		_, err := s.Exhaust(ctx, taskID)
		return err
	case models.HashcatStatusCracked:
		_, err := s.Complete(ctx, taskID)
		return err
	}

	if next, ok := models.NextTaskStatus(task.Status, models.TaskEventAcceptStatus); ok && task.Status != next {
		won, err := s.taskRepo.UpdateStatusFrom(ctx, taskID, task.Status, next)
		if err != nil {
			return err
		}
		if won {
			task.Status = next
		}
	}

	estimatedFinish := sql.NullTime{}
	if status.EstimatedStop != nil {
		estimatedFinish = sql.NullTime{Time: *status.EstimatedStop, Valid: true}
	}
	progress := status.ProgressPercentage()
	if err := s.taskRepo.UpdateProgress(ctx, taskID, progress, estimatedFinish); err != nil {
		return err
	}

	s.broadcastTask(ctx, task, task.Status, progress)
	return nil
}

// AcceptCrack ingests the agent's crack reports and resolves the
// accept_crack event: the task completes only when the hash list reaches
// zero uncracked items, otherwise it stays where it is. Returns how many
// hashes were newly cracked.
func (s *TaskService) AcceptCrack(ctx context.Context, taskID uuid.UUID, reports []models.CrackReport) (int, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return 0, err
	}
	hashList, err := s.hashListForTask(ctx, task)
	if err != nil {
		return 0, err
	}

	newlyCracked, err := s.crackIngest.Ingest(ctx, hashList.ID, taskID, reports)
	if err != nil {
		return newlyCracked, err
	}
	if err := s.taskRepo.TouchActivity(ctx, taskID); err != nil {
		debug.Error("Failed to touch activity on task %s: %v", taskID, err)
	}

	if newlyCracked > 0 {
		// Re-read the counter the ingest just moved.
		hashList, err = s.hashListRepo.GetByID(ctx, hashList.ID)
		if err != nil {
			return newlyCracked, err
		}
	}
	if hashList.FullyCracked() {
		if _, err := s.Complete(ctx, taskID); err != nil {
			return newlyCracked, err
		}
		return newlyCracked, nil
	}

	s.broadcastTask(ctx, task, task.Status, task.ProgressPercentage)
	return newlyCracked, nil
}

// Complete resolves the complete event. Running tasks complete on their
// agent's word; a pending task may only complete when the hash list itself
// is fully cracked. Completion purges the task's transient status rows and
// notifies the attack-level check.
func (s *TaskService) Complete(ctx context.Context, taskID uuid.UUID) (bool, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	next, ok := models.NextTaskStatus(task.Status, models.TaskEventComplete)
	if !ok {
		return false, nil
	}
	if task.Status == models.TaskStatusPending {
		hashList, err := s.hashListForTask(ctx, task)
		if err != nil {
			return false, err
		}
		if !hashList.FullyCracked() {
			return false, nil
		}
	}

	won, err := s.taskRepo.UpdateStatusFrom(ctx, taskID, task.Status, next)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	s.purgeStatuses(ctx, taskID)
	if _, err := s.attackService.CompleteIfDone(ctx, task.AttackID); err != nil {
		return true, err
	}
	s.broadcastTask(ctx, task, next, 100)
	return true, nil
}

// Exhaust resolves the exhaust event: the agent searched its whole keyspace
// without finishing the list. Not a failure. Purges the task's status rows
// and asks the attack to corroborate exhaustion across its tasks.
func (s *TaskService) Exhaust(ctx context.Context, taskID uuid.UUID) (bool, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	next, ok := models.NextTaskStatus(task.Status, models.TaskEventExhaust)
	if !ok {
		return false, nil
	}
	won, err := s.taskRepo.UpdateStatusFrom(ctx, taskID, task.Status, next)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	s.purgeStatuses(ctx, taskID)
	if _, err := s.attackService.ExhaustIfDone(ctx, task.AttackID); err != nil {
		return true, err
	}
	s.broadcastTask(ctx, task, next, 100)
	return true, nil
}

// Pause resolves the pause event on a pending or running task.
func (s *TaskService) Pause(ctx context.Context, taskID uuid.UUID) error {
	return s.simpleTransition(ctx, taskID, models.TaskEventPause)
}

// Resume resolves the resume event. The task returns to pending stale, so
// whichever agent picks it up refreshes cracked hashes before continuing.
func (s *TaskService) Resume(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	next, ok := models.NextTaskStatus(task.Status, models.TaskEventResume)
	if !ok {
		return nil
	}
	won, err := s.taskRepo.UpdateStatusFrom(ctx, taskID, task.Status, next)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	if err := s.taskRepo.SetStale(ctx, taskID); err != nil {
		debug.Error("Failed to mark resumed task %s stale: %v", taskID, err)
	}
	s.broadcastTask(ctx, task, next, task.ProgressPercentage)
	return nil
}

// Error resolves the error event: the agent reported the task failed.
func (s *TaskService) Error(ctx context.Context, taskID uuid.UUID, message string) error {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	next, ok := models.NextTaskStatus(task.Status, models.TaskEventError)
	if !ok {
		debug.Warning("Task %s cannot take an error report in status %s", taskID, task.Status)
		return nil
	}
	won, err := s.taskRepo.UpdateStatusFrom(ctx, taskID, task.Status, next)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	if err := s.taskRepo.SetLastError(ctx, taskID, message); err != nil {
		debug.Error("Failed to record error message on task %s: %v", taskID, err)
	}
	debug.Info("Task %s failed: %s", taskID, message)
	s.broadcastTask(ctx, task, next, task.ProgressPercentage)
	return nil
}

// Cancel resolves the cancel event, failing a pending or running task in
// place. Siblings and the attack are untouched.
func (s *TaskService) Cancel(ctx context.Context, taskID uuid.UUID) error {
	return s.simpleTransition(ctx, taskID, models.TaskEventCancel)
}

// Retry resolves the retry event, returning a failed task to pending with
// its retry counted and its last error cleared.
func (s *TaskService) Retry(ctx context.Context, taskID uuid.UUID) (bool, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	if _, ok := models.NextTaskStatus(task.Status, models.TaskEventRetry); !ok {
		return false, nil
	}
	won, err := s.taskRepo.RetryFailed(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	s.broadcastTask(ctx, task, models.TaskStatusPending, task.ProgressPercentage)
	return true, nil
}

// Abandon resolves the abandon event: the agent walks away from a running
// task and the whole attack restarts from scratch. All of the attack's
// tasks, this one included, are destroyed in one transaction. No broadcast;
// abandon is the one silent transition.
func (s *TaskService) Abandon(ctx context.Context, taskID uuid.UUID) (bool, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	if _, ok := models.NextTaskStatus(task.Status, models.TaskEventAbandon); !ok {
		return false, nil
	}
	return s.attackService.Abandon(ctx, task.AttackID)
}

// Preempt resolves the preempt event for the priority controller: the task
// alone returns to pending, stale, with its preemption counted. Refused for
// near-complete tasks and tasks already preempted twice.
func (s *TaskService) Preempt(ctx context.Context, taskID uuid.UUID) (bool, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return false, err
	}
	if _, ok := models.NextTaskStatus(task.Status, models.TaskEventPreempt); !ok {
		return false, nil
	}
	if !task.Preemptable() {
		debug.Debug("Task %s not preemptable (progress %.1f%%, preempted %d time(s))",
			taskID, task.ProgressPercentage, task.PreemptionCount)
		return false, nil
	}
	won, err := s.taskRepo.Preempt(ctx, taskID)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}
	debug.Info("Preempted task %s for higher-priority work", taskID)
	s.broadcastTask(ctx, task, models.TaskStatusPending, task.ProgressPercentage)
	return true, nil
}

// CrackedSince returns the items of the task's hash list cracked after the
// given time and clears the task's stale flag; the agent now has everything
// it was missing.
func (s *TaskService) CrackedSince(ctx context.Context, taskID uuid.UUID, since time.Time) ([]models.HashItem, error) {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	hashList, err := s.hashListForTask(ctx, task)
	if err != nil {
		return nil, err
	}
	items, err := s.hashListRepo.ListCrackedSince(ctx, hashList.ID, since)
	if err != nil {
		return nil, err
	}
	if task.Stale {
		if err := s.taskRepo.ClearStale(ctx, taskID); err != nil {
			debug.Error("Failed to clear stale flag on task %s: %v", taskID, err)
		}
	}
	return items, nil
}

// simpleTransition applies an event that needs no data guards and no side
// effects beyond the broadcast.
func (s *TaskService) simpleTransition(ctx context.Context, taskID uuid.UUID, event models.TaskEvent) error {
	task, err := s.taskRepo.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	next, ok := models.NextTaskStatus(task.Status, event)
	if !ok {
		return nil
	}
	won, err := s.taskRepo.UpdateStatusFrom(ctx, taskID, task.Status, next)
	if err != nil {
		return err
	}
	if won {
		s.broadcastTask(ctx, task, next, task.ProgressPercentage)
	}
	return nil
}

// purgeStatuses drops the task's transient status rows once the task
// reaches a terminal state. Failures are logged; retention cleans up later.
func (s *TaskService) purgeStatuses(ctx context.Context, taskID uuid.UUID) {
	deleted, err := s.statusRepo.DeleteByTask(ctx, taskID)
	if err != nil {
		debug.Error("Failed to purge status rows for task %s: %v", taskID, err)
		return
	}
	if deleted > 0 {
		debug.Debug("Purged %d status row(s) for task %s", deleted, taskID)
	}
}

// hashListForTask resolves the hash list behind the task's attack and
// campaign.
func (s *TaskService) hashListForTask(ctx context.Context, task *models.Task) (*models.HashList, error) {
	attack, err := s.attackRepo.GetByID(ctx, task.AttackID)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaignRepo.GetByID(ctx, attack.CampaignID)
	if err != nil {
		return nil, err
	}
	return s.hashListRepo.GetByID(ctx, campaign.HashListID)
}

// broadcastTask publishes a progress snapshot for observers. Failures never
// reach the caller; the sink logs and drops.
func (s *TaskService) broadcastTask(ctx context.Context, task *models.Task, status models.TaskStatus, progress float64) {
	var campaignID uuid.UUID
	if attack, err := s.attackRepo.GetByID(ctx, task.AttackID); err == nil {
		campaignID = attack.CampaignID
	} else {
		debug.Debug("Broadcast for task %s without campaign: %v", task.ID, err)
	}
	s.sink.Publish(ctx, broadcast.Event{
		Kind:       broadcast.KindAttackProgress,
		CampaignID: campaignID,
		AttackID:   task.AttackID,
		TaskID:     task.ID,
		AgentID:    task.AgentID,
		Status:     string(status),
		Progress:   progress,
	})
}
