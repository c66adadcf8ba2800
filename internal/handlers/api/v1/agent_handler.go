package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// AgentHandler handles User API requests for agent management
type AgentHandler struct {
	agentService  *services.AgentService
	taskService   *services.TaskService
	benchmarkRepo *repository.BenchmarkRepository
	errorRepo     *repository.AgentErrorRepository
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(
	agentService *services.AgentService,
	taskService *services.TaskService,
	benchmarkRepo *repository.BenchmarkRepository,
	errorRepo *repository.AgentErrorRepository,
) *AgentHandler {
	return &AgentHandler{
		agentService:  agentService,
		taskService:   taskService,
		benchmarkRepo: benchmarkRepo,
		errorRepo:     errorRepo,
	}
}

// RegisterAgentRequest represents the request to register a new agent
type RegisterAgentRequest struct {
	Name    string    `json:"name"`
	OwnerID uuid.UUID `json:"owner_id"`
}

// RegisterAgentResponse carries the one-time token alongside the agent.
// Only a bcrypt digest is stored, so the token cannot be shown again.
type RegisterAgentResponse struct {
	Agent *models.Agent `json:"agent"`
	Token string        `json:"token"`
}

// UpdateAgentRequest represents the request to update an agent
type UpdateAgentRequest struct {
	Name           *string `json:"name,omitempty"`
	UpdateInterval *int    `json:"update_interval,omitempty"`
}

// SetProjectsRequest replaces the agent's project memberships
type SetProjectsRequest struct {
	ProjectIDs []int `json:"project_ids"`
}

// parseAgentID extracts and validates the numeric agent ID from the route.
func parseAgentID(w http.ResponseWriter, r *http.Request) (int, bool) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		sendAPIError(w, "Invalid agent ID", "INVALID_AGENT_ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// RegisterAgent registers a new agent and returns its token once
// POST /api/v1/agents
func (h *AgentHandler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.OwnerID == uuid.Nil {
		sendAPIError(w, "owner_id is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	agent, token, err := h.agentService.Register(r.Context(), req.Name, req.OwnerID)
	if err != nil {
		debug.Error("Failed to register agent %q: %v", req.Name, err)
		sendAPIError(w, fmt.Sprintf("Failed to register agent: %v", err), "AGENT_REGISTRATION_FAILED", http.StatusBadRequest)
		return
	}

	debug.Info("Registered agent %d (%s) for owner %s", agent.ID, agent.Name, req.OwnerID)
	sendJSON(w, http.StatusCreated, RegisterAgentResponse{
		Agent: agent,
		Token: token,
	})
}

// ListAgents lists all registered agents
// GET /api/v1/agents?status=active
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.agentService.List(r.Context())
	if err != nil {
		debug.Error("Failed to list agents: %v", err)
		sendAPIError(w, "Failed to retrieve agents", "AGENTS_RETRIEVAL_FAILED", http.StatusInternalServerError)
		return
	}

	if statusFilter := r.URL.Query().Get("status"); statusFilter != "" {
		filtered := agents[:0]
		for _, agent := range agents {
			if string(agent.Status) == statusFilter {
				filtered = append(filtered, agent)
			}
		}
		agents = filtered
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"agents": agents,
		"total":  len(agents),
	})
}

// GetAgent retrieves a specific agent by ID
// GET /api/v1/agents/{id}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	agent, err := h.agentService.GetByID(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Agent not found", "AGENT_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to retrieve agent", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, agent)
}

// UpdateAgent updates an agent's name and reporting interval
// PATCH /api/v1/agents/{id}
func (h *AgentHandler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	agent, err := h.agentService.GetByID(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Agent not found", "AGENT_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to retrieve agent", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	var req UpdateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	if req.Name != nil {
		agent.Name = *req.Name
	}
	if req.UpdateInterval != nil {
		agent.UpdateInterval = *req.UpdateInterval
	}

	if err := h.agentService.UpdateSettings(r.Context(), agentID, agent.Name, agent.UpdateInterval); err != nil {
		debug.Error("Failed to update agent %d: %v", agentID, err)
		sendAPIError(w, fmt.Sprintf("Failed to update agent: %v", err), "AGENT_UPDATE_FAILED", http.StatusBadRequest)
		return
	}

	updated, err := h.agentService.GetByID(r.Context(), agentID)
	if err != nil {
		debug.Error("Failed to reload agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to retrieve updated agent", "AGENT_RETRIEVAL_FAILED", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, updated)
}

// ActivateAgent returns a disabled agent to scheduling
// POST /api/v1/agents/{id}/activate
func (h *AgentHandler) ActivateAgent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	if err := h.agentService.Activate(r.Context(), agentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Agent not found", "AGENT_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to activate agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to activate agent", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeactivateAgent takes an agent out of scheduling without unregistering it
// POST /api/v1/agents/{id}/deactivate
func (h *AgentHandler) DeactivateAgent(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	if err := h.agentService.Deactivate(r.Context(), agentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Agent not found", "AGENT_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to deactivate agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to deactivate agent", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAgentProjects replaces the projects an agent may serve
// PUT /api/v1/agents/{id}/projects
func (h *AgentHandler) SetAgentProjects(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	var req SetProjectsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	if err := h.agentService.SetProjects(r.Context(), agentID, req.ProjectIDs); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Agent not found", "AGENT_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to set projects for agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to set agent projects", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Agent %d now serves projects %v", agentID, req.ProjectIDs)
	w.WriteHeader(http.StatusNoContent)
}

// ListAgentTasks lists an agent's recent tasks
// GET /api/v1/agents/{id}/tasks?limit=50
func (h *AgentHandler) ListAgentTasks(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	tasks, err := h.taskService.ListByAgent(r.Context(), agentID, limit)
	if err != nil {
		debug.Error("Failed to list tasks for agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to retrieve agent tasks", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// ListAgentBenchmarks lists an agent's recorded benchmark speeds
// GET /api/v1/agents/{id}/benchmarks
func (h *AgentHandler) ListAgentBenchmarks(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	benchmarks, err := h.benchmarkRepo.ListByAgent(r.Context(), agentID)
	if err != nil {
		debug.Error("Failed to list benchmarks for agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to retrieve benchmarks", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"benchmarks": benchmarks,
		"total":      len(benchmarks),
	})
}

// FastestBenchmarkResponse reports the registry's best throughput for one
// hash type: the fastest agent summed across its devices, and the fastest
// single device.
type FastestBenchmarkResponse struct {
	HashType      int                 `json:"hash_type"`
	FastestAgent  *models.AgentSpeed  `json:"fastest_agent,omitempty"`
	FastestDevice *models.DeviceSpeed `json:"fastest_device,omitempty"`
}

// FastestBenchmark answers capacity queries against the benchmark registry
// GET /api/v1/benchmarks/fastest?hash_type=1000
func (h *AgentHandler) FastestBenchmark(w http.ResponseWriter, r *http.Request) {
	hashType, err := strconv.Atoi(r.URL.Query().Get("hash_type"))
	if err != nil || hashType < 0 {
		sendAPIError(w, "hash_type must be a non-negative integer", "INVALID_HASH_TYPE", http.StatusBadRequest)
		return
	}

	speeds, err := h.benchmarkRepo.SpeedsForHashType(r.Context(), hashType)
	if err != nil {
		debug.Error("Failed to query agent speeds for hash type %d: %v", hashType, err)
		sendAPIError(w, "Failed to query benchmarks", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	device, found, err := h.benchmarkRepo.FastestDeviceForHashType(r.Context(), hashType)
	if err != nil {
		debug.Error("Failed to query fastest device for hash type %d: %v", hashType, err)
		sendAPIError(w, "Failed to query benchmarks", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	if len(speeds) == 0 && !found {
		sendAPIError(w, "No benchmarks recorded for this hash type", "BENCHMARKS_NOT_FOUND", http.StatusNotFound)
		return
	}

	resp := FastestBenchmarkResponse{HashType: hashType}
	for i := range speeds {
		if resp.FastestAgent == nil || speeds[i].HashSpeed > resp.FastestAgent.HashSpeed {
			resp.FastestAgent = &speeds[i]
		}
	}
	if found {
		resp.FastestDevice = device
	}
	sendJSON(w, http.StatusOK, resp)
}

// ListAgentErrors lists an agent's reported errors, newest first
// GET /api/v1/agents/{id}/errors?limit=50&offset=0
func (h *AgentHandler) ListAgentErrors(w http.ResponseWriter, r *http.Request) {
	agentID, ok := parseAgentID(w, r)
	if !ok {
		return
	}

	limit := 50
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	agentErrors, err := h.errorRepo.ListByAgent(r.Context(), agentID, limit, offset)
	if err != nil {
		debug.Error("Failed to list errors for agent %d: %v", agentID, err)
		sendAPIError(w, "Failed to retrieve agent errors", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"errors": agentErrors,
		"total":  len(agentErrors),
	})
}
