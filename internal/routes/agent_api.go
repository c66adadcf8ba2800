package routes

import (
	agenthandlers "github.com/dravenops/hashhive/backend/internal/handlers/agent"
	"github.com/dravenops/hashhive/backend/internal/middleware"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
	"github.com/gorilla/mux"
)

// SetupAgentRoutes configures all /api/agent routes for the agent API.
// Every route requires a valid agent token; the middleware resolves the
// token to an agent and puts it on the request context.
func SetupAgentRoutes(
	r *mux.Router,
	agentService *services.AgentService,
	taskService *services.TaskService,
	assignmentService *services.AssignmentService,
	attackService *services.AttackService,
	campaignService *services.CampaignService,
) {
	debug.Info("Setting up /api/agent routes")

	agentRouter := r.PathPrefix("/api/agent").Subrouter()
	agentRouter.Use(middleware.AgentTokenMiddleware(agentService))
	agentRouter.Use(middleware.RequestLogging)

	handler := agenthandlers.NewHandler(agentService, taskService, assignmentService, attackService, campaignService)

	// Liveness
	agentRouter.HandleFunc("/heartbeat", handler.Heartbeat).Methods("POST", "OPTIONS")

	// Work distribution
	agentRouter.HandleFunc("/tasks/next", handler.GetNextTask).Methods("GET", "OPTIONS")
	agentRouter.HandleFunc("/tasks/{id}/accept", handler.AcceptTask).Methods("POST", "OPTIONS")
	agentRouter.HandleFunc("/tasks/{id}/status", handler.SubmitStatus).Methods("POST", "OPTIONS")
	agentRouter.HandleFunc("/tasks/{id}/cracks", handler.SubmitCracks).Methods("POST", "OPTIONS")
	agentRouter.HandleFunc("/tasks/{id}/exhausted", handler.ExhaustTask).Methods("POST", "OPTIONS")
	agentRouter.HandleFunc("/tasks/{id}/abandon", handler.AbandonTask).Methods("POST", "OPTIONS")
	agentRouter.HandleFunc("/tasks/{id}/error", handler.FailTask).Methods("POST", "OPTIONS")
	agentRouter.HandleFunc("/tasks/{id}/cracked", handler.GetCrackedSince).Methods("GET", "OPTIONS")

	// Capability reporting
	agentRouter.HandleFunc("/benchmarks", handler.SubmitBenchmarks).Methods("POST", "OPTIONS")
	agentRouter.HandleFunc("/devices", handler.UpdateDevices).Methods("PUT", "OPTIONS")

	// Agent-level errors and lifecycle
	agentRouter.HandleFunc("/errors", handler.SubmitError).Methods("POST", "OPTIONS")
	agentRouter.HandleFunc("/shutdown", handler.Shutdown).Methods("POST", "OPTIONS")

	debug.Info("/api/agent routes configured successfully")
}
