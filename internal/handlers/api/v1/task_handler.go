package v1

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// TaskHandler handles User API requests for task inspection and repair.
// Task pause and resume are deliberately absent: those transitions cascade
// from the owning attack, and applying them to a single task would strand
// it outside the scheduler's view.
type TaskHandler struct {
	taskService *services.TaskService
	statusRepo  *repository.HashcatStatusRepository
	errorRepo   *repository.AgentErrorRepository
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(
	taskService *services.TaskService,
	statusRepo *repository.HashcatStatusRepository,
	errorRepo *repository.AgentErrorRepository,
) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		statusRepo:  statusRepo,
		errorRepo:   errorRepo,
	}
}

// parseTaskID extracts and validates the task UUID from the route.
func parseTaskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		sendAPIError(w, "Invalid task ID format", "VALIDATION_ERROR", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	task, err := h.taskService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Task not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get task %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, task)
}

// GetTaskStatus handles GET /api/v1/tasks/{id}/status
//
// Returns the most recent tool report including per-device readings.
func (h *TaskHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	status, err := h.statusRepo.LatestByTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "No status reported for task", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get status for task %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve task status", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, status)
}

// GetTaskErrors handles GET /api/v1/tasks/{id}/errors
func (h *TaskHandler) GetTaskErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	taskErrors, err := h.errorRepo.ListByTask(r.Context(), id)
	if err != nil {
		debug.Error("Failed to list errors for task %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve task errors", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"errors": taskErrors,
		"total":  len(taskErrors),
	})
}

// RetryTask handles POST /api/v1/tasks/{id}/retry
//
// Returns a failed task to pending with its claim cleared so any capable
// agent can pick it up. Tasks with a fatal error on record are refused;
// the scheduler would skip them anyway, so the repair path is resetting
// or abandoning the attack.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	fatal, err := h.errorRepo.HasFatalForTask(r.Context(), id)
	if err != nil {
		debug.Error("Failed to check fatal errors for task %s: %v", id, err)
		sendAPIError(w, "Failed to retry task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	if fatal {
		sendAPIError(w, "Task has a fatal error recorded; reset or abandon the attack instead", "FATAL_ERROR_RECORDED", http.StatusConflict)
		return
	}

	transitioned, err := h.taskService.Retry(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Task not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to retry task %s: %v", id, err)
		sendAPIError(w, "Failed to retry task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]bool{"transitioned": transitioned})
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel
func (h *TaskHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	if err := h.taskService.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Task not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to cancel task %s: %v", id, err)
		sendAPIError(w, "Failed to cancel task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PreemptTask handles POST /api/v1/tasks/{id}/preempt
//
// Manually yields a running task back to the pool. The same progress and
// repeat-preemption guards apply as in the automatic sweep, so a nearly
// finished task reports transitioned=false.
func (h *TaskHandler) PreemptTask(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	transitioned, err := h.taskService.Preempt(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Task not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to preempt task %s: %v", id, err)
		sendAPIError(w, "Failed to preempt task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]bool{"transitioned": transitioned})
}
