package agent

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// Handler serves the agent-facing API. Every route except none assumes the
// token middleware has stored the authenticated agent in the request
// context, so ownership checks compare against that agent rather than
// trusting IDs in the payload.
type Handler struct {
	agentService      *services.AgentService
	taskService       *services.TaskService
	assignmentService *services.AssignmentService
	attackService     *services.AttackService
	campaignService   *services.CampaignService
}

// NewHandler creates a new agent API handler.
func NewHandler(
	agentService *services.AgentService,
	taskService *services.TaskService,
	assignmentService *services.AssignmentService,
	attackService *services.AttackService,
	campaignService *services.CampaignService,
) *Handler {
	return &Handler{
		agentService:      agentService,
		taskService:       taskService,
		assignmentService: assignmentService,
		attackService:     attackService,
		campaignService:   campaignService,
	}
}

// HeartbeatResponse tells the agent its status and how often to report.
type HeartbeatResponse struct {
	AgentID        int       `json:"agent_id"`
	Status         string    `json:"status"`
	UpdateInterval int       `json:"update_interval"`
	ServerTime     time.Time `json:"server_time"`
}

// TaskAssignment bundles everything the agent needs to start work: the task
// slice, the attack parameters and the hash list it targets.
type TaskAssignment struct {
	Task       *models.Task   `json:"task"`
	Attack     *models.Attack `json:"attack"`
	HashListID int64          `json:"hash_list_id"`
	HashType   int            `json:"hash_type"`
}

// SubmitCracksRequest carries a batch of crack reports for one task.
type SubmitCracksRequest struct {
	Cracks []models.CrackReport `json:"cracks"`
}

// TaskErrorRequest carries the failure message for a task error report.
type TaskErrorRequest struct {
	Message string `json:"message"`
}

// SubmitBenchmarksRequest carries the agent's measured speeds.
type SubmitBenchmarksRequest struct {
	Benchmarks []models.HashcatBenchmark `json:"benchmarks"`
}

// AgentErrorRequest reports a failure outside the task lifecycle.
type AgentErrorRequest struct {
	TaskID   *uuid.UUID      `json:"task_id,omitempty"`
	Severity string          `json:"severity"`
	Message  string          `json:"message"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// UpdateDevicesRequest replaces the agent's advertised device list.
type UpdateDevicesRequest struct {
	Devices []string `json:"devices"`
}

// agentFromContext returns the agent stored by the token middleware.
func agentFromContext(r *http.Request) (*models.Agent, bool) {
	agent, ok := r.Context().Value("agent").(*models.Agent)
	return agent, ok
}

// sendAPIError sends a standardized JSON error response
func sendAPIError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// remoteIP strips the port from RemoteAddr, preferring X-Forwarded-For when
// the server sits behind a proxy.
func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// taskForAgent loads a task and verifies it belongs to the calling agent.
func (h *Handler) taskForAgent(w http.ResponseWriter, r *http.Request, agent *models.Agent) (*models.Task, bool) {
	vars := mux.Vars(r)
	taskID, err := uuid.Parse(vars["id"])
	if err != nil {
		sendAPIError(w, "Invalid task ID", "INVALID_TASK_ID", http.StatusBadRequest)
		return nil, false
	}
	task, err := h.taskService.GetByID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Task not found", "TASK_NOT_FOUND", http.StatusNotFound)
		} else {
			debug.Error("Failed to load task %s: %v", taskID, err)
			sendAPIError(w, "Failed to retrieve task", "INTERNAL_ERROR", http.StatusInternalServerError)
		}
		return nil, false
	}
	if task.AgentID != agent.ID {
		sendAPIError(w, "Task is not assigned to this agent", "TASK_NOT_ASSIGNED", http.StatusForbidden)
		return nil, false
	}
	return task, true
}

// Heartbeat records agent liveness and returns the reporting interval
// POST /api/agent/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}

	updated, err := h.agentService.Heartbeat(r.Context(), agent.ID, remoteIP(r))
	if err != nil {
		debug.Error("Heartbeat failed for agent %d: %v", agent.ID, err)
		sendAPIError(w, "Failed to record heartbeat", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, HeartbeatResponse{
		AgentID:        updated.ID,
		Status:         string(updated.Status),
		UpdateInterval: updated.UpdateInterval,
		ServerTime:     time.Now().UTC(),
	})
}

// GetNextTask assigns the next unit of work to the calling agent
// GET /api/agent/tasks/next
func (h *Handler) GetNextTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}

	task, err := h.assignmentService.FindNextTask(r.Context(), agent)
	if err != nil {
		debug.Error("Task assignment failed for agent %d: %v", agent.ID, err)
		sendAPIError(w, "Failed to assign task", "ASSIGNMENT_FAILED", http.StatusInternalServerError)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	attack, err := h.attackService.GetByID(r.Context(), task.AttackID)
	if err != nil {
		debug.Error("Failed to load attack %s for task %s: %v", task.AttackID, task.ID, err)
		sendAPIError(w, "Failed to load attack for task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	campaign, err := h.campaignService.GetByID(r.Context(), attack.CampaignID)
	if err != nil {
		debug.Error("Failed to load campaign %s for task %s: %v", attack.CampaignID, task.ID, err)
		sendAPIError(w, "Failed to load campaign for task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Assigned task %s (attack %s) to agent %d", task.ID, attack.ID, agent.ID)
	sendJSON(w, http.StatusOK, TaskAssignment{
		Task:       task,
		Attack:     attack,
		HashListID: campaign.HashListID,
		HashType:   campaign.HashType,
	})
}

// AcceptTask confirms the agent has started the assigned task
// POST /api/agent/tasks/{id}/accept
func (h *Handler) AcceptTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}
	task, ok := h.taskForAgent(w, r, agent)
	if !ok {
		return
	}

	if err := h.taskService.Accept(r.Context(), task.ID); err != nil {
		debug.Error("Failed to accept task %s: %v", task.ID, err)
		sendAPIError(w, "Failed to accept task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitStatus records a structured progress report for a running task
// POST /api/agent/tasks/{id}/status
func (h *Handler) SubmitStatus(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}
	task, ok := h.taskForAgent(w, r, agent)
	if !ok {
		return
	}

	var status models.HashcatStatus
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		sendAPIError(w, "Invalid status payload", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	if err := h.taskService.AcceptStatus(r.Context(), task.ID, &status); err != nil {
		debug.Error("Failed to record status for task %s: %v", task.ID, err)
		sendAPIError(w, "Failed to record status", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitCracks ingests recovered plaintexts reported by the agent
// POST /api/agent/tasks/{id}/cracks
func (h *Handler) SubmitCracks(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}
	task, ok := h.taskForAgent(w, r, agent)
	if !ok {
		return
	}

	var req SubmitCracksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid crack payload", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if len(req.Cracks) == 0 {
		sendAPIError(w, "No cracks provided", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	newly, err := h.taskService.AcceptCrack(r.Context(), task.ID, req.Cracks)
	if err != nil {
		debug.Error("Failed to ingest cracks for task %s: %v", task.ID, err)
		sendAPIError(w, "Failed to ingest cracks", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]int{"accepted": newly})
}

// ExhaustTask marks the task's keyspace slice as fully searched
// POST /api/agent/tasks/{id}/exhausted
func (h *Handler) ExhaustTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}
	task, ok := h.taskForAgent(w, r, agent)
	if !ok {
		return
	}

	transitioned, err := h.taskService.Exhaust(r.Context(), task.ID)
	if err != nil {
		debug.Error("Failed to exhaust task %s: %v", task.ID, err)
		sendAPIError(w, "Failed to mark task exhausted", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"transitioned": transitioned})
}

// AbandonTask returns the task to the pool without finishing it
// POST /api/agent/tasks/{id}/abandon
func (h *Handler) AbandonTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}
	task, ok := h.taskForAgent(w, r, agent)
	if !ok {
		return
	}

	transitioned, err := h.taskService.Abandon(r.Context(), task.ID)
	if err != nil {
		debug.Error("Failed to abandon task %s: %v", task.ID, err)
		sendAPIError(w, "Failed to abandon task", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, map[string]bool{"transitioned": transitioned})
}

// FailTask records an unrecoverable task failure from the agent
// POST /api/agent/tasks/{id}/error
func (h *Handler) FailTask(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}
	task, ok := h.taskForAgent(w, r, agent)
	if !ok {
		return
	}

	var req TaskErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid error payload", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		sendAPIError(w, "Error message is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	if err := h.taskService.Error(r.Context(), task.ID, req.Message); err != nil {
		debug.Error("Failed to record error on task %s: %v", task.ID, err)
		sendAPIError(w, "Failed to record task error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetCrackedSince returns hashes cracked by other tasks on the same hash
// list, so the agent can drop them from its local search
// GET /api/agent/tasks/{id}/cracked?since=RFC3339
func (h *Handler) GetCrackedSince(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}
	task, ok := h.taskForAgent(w, r, agent)
	if !ok {
		return
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			sendAPIError(w, "Invalid since timestamp, expected RFC3339", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	items, err := h.taskService.CrackedSince(r.Context(), task.ID, since)
	if err != nil {
		debug.Error("Failed to list cracked hashes for task %s: %v", task.ID, err)
		sendAPIError(w, "Failed to list cracked hashes", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"cracked": items,
		"total":   len(items),
	})
}

// SubmitBenchmarks records the agent's measured hash speeds
// POST /api/agent/benchmarks
func (h *Handler) SubmitBenchmarks(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}

	var req SubmitBenchmarksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid benchmark payload", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if len(req.Benchmarks) == 0 {
		sendAPIError(w, "No benchmarks provided", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	if err := h.agentService.SubmitBenchmarks(r.Context(), agent.ID, req.Benchmarks); err != nil {
		debug.Error("Failed to store benchmarks for agent %d: %v", agent.ID, err)
		sendAPIError(w, "Failed to store benchmarks", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]int{"stored": len(req.Benchmarks)})
}

// SubmitError records an agent-level failure report
// POST /api/agent/errors
func (h *Handler) SubmitError(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}

	var req AgentErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid error payload", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		sendAPIError(w, "Error message is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	agentError := &models.AgentError{
		AgentID:  agent.ID,
		TaskID:   req.TaskID,
		Severity: models.ErrorSeverity(req.Severity),
		Message:  req.Message,
		Metadata: req.Metadata,
	}
	if err := h.agentService.SubmitError(r.Context(), agentError); err != nil {
		if !agentError.Severity.Valid() {
			sendAPIError(w, "Unknown error severity", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
		debug.Error("Failed to record error for agent %d: %v", agent.ID, err)
		sendAPIError(w, "Failed to record agent error", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// UpdateDevices replaces the agent's advertised compute device list
// PUT /api/agent/devices
func (h *Handler) UpdateDevices(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}

	var req UpdateDevicesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid device payload", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	if err := h.agentService.UpdateDevices(r.Context(), agent.ID, req.Devices); err != nil {
		debug.Error("Failed to update devices for agent %d: %v", agent.ID, err)
		sendAPIError(w, "Failed to update devices", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Shutdown marks the agent offline and releases its running tasks
// POST /api/agent/shutdown
func (h *Handler) Shutdown(w http.ResponseWriter, r *http.Request) {
	agent, ok := agentFromContext(r)
	if !ok {
		sendAPIError(w, "Authentication required", "AUTH_REQUIRED", http.StatusUnauthorized)
		return
	}

	if err := h.agentService.Shutdown(r.Context(), agent.ID); err != nil {
		debug.Error("Failed to shut down agent %d: %v", agent.ID, err)
		sendAPIError(w, "Failed to shut down agent", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	debug.Info("Agent %d shut down cleanly", agent.ID)
	w.WriteHeader(http.StatusNoContent)
}
