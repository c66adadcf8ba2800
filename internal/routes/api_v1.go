package routes

import (
	"net/http"

	v1handlers "github.com/dravenops/hashhive/backend/internal/handlers/api/v1"
	"github.com/dravenops/hashhive/backend/internal/middleware"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
	"github.com/dravenops/hashhive/backend/pkg/debug"
	"github.com/gorilla/mux"
)

// SetupV1Routes configures all /api/v1 routes for the operator API.
// Services are built once in main and shared with the lifecycle scheduler
// and the job mux, so they arrive here as parameters.
func SetupV1Routes(
	r *mux.Router,
	campaignService *services.CampaignService,
	attackService *services.AttackService,
	taskService *services.TaskService,
	agentService *services.AgentService,
	hashListService *services.HashListService,
	preemptionService *services.PreemptionService,
	projectRepo *repository.ProjectRepository,
	settingsRepo *repository.SystemSettingsRepository,
	statusRepo *repository.HashcatStatusRepository,
	errorRepo *repository.AgentErrorRepository,
	benchmarkRepo *repository.BenchmarkRepository,
	resourceRepo *repository.ResourceRepository,
	hub *broadcast.Hub,
) {
	debug.Info("Setting up /api/v1 operator API routes")

	v1Router := r.PathPrefix("/api/v1").Subrouter()
	v1Router.Use(middleware.RequestLogging)

	// Health check
	v1Router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET", "OPTIONS")

	// Campaign endpoints
	campaignHandler := v1handlers.NewCampaignHandler(campaignService)
	v1Router.HandleFunc("/campaigns", campaignHandler.CreateCampaign).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/campaigns", campaignHandler.ListCampaigns).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/campaigns/{id}", campaignHandler.GetCampaign).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/campaigns/{id}", campaignHandler.UpdateCampaign).Methods("PATCH", "OPTIONS")
	v1Router.HandleFunc("/campaigns/{id}", campaignHandler.DeleteCampaign).Methods("DELETE", "OPTIONS")
	v1Router.HandleFunc("/campaigns/{id}/pause", campaignHandler.PauseCampaign).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/campaigns/{id}/resume", campaignHandler.ResumeCampaign).Methods("POST", "OPTIONS")

	// Attack endpoints
	attackHandler := v1handlers.NewAttackHandler(attackService)
	v1Router.HandleFunc("/campaigns/{id}/attacks", attackHandler.ListAttacks).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/attacks", attackHandler.CreateAttack).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/attacks/{id}", attackHandler.GetAttack).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/attacks/{id}", attackHandler.UpdateAttack).Methods("PUT", "OPTIONS")
	v1Router.HandleFunc("/attacks/{id}", attackHandler.DeleteAttack).Methods("DELETE", "OPTIONS")
	v1Router.HandleFunc("/attacks/{id}/pause", attackHandler.PauseAttack).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/attacks/{id}/resume", attackHandler.ResumeAttack).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/attacks/{id}/cancel", attackHandler.CancelAttack).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/attacks/{id}/reset", attackHandler.ResetAttack).Methods("POST", "OPTIONS")

	// Task endpoints
	taskHandler := v1handlers.NewTaskHandler(taskService, statusRepo, errorRepo)
	v1Router.HandleFunc("/tasks/{id}", taskHandler.GetTask).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/tasks/{id}/status", taskHandler.GetTaskStatus).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/tasks/{id}/errors", taskHandler.GetTaskErrors).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/tasks/{id}/retry", taskHandler.RetryTask).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/tasks/{id}/cancel", taskHandler.CancelTask).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/tasks/{id}/preempt", taskHandler.PreemptTask).Methods("POST", "OPTIONS")

	// Hashlist endpoints
	hashlistHandler := v1handlers.NewHashListHandler(hashListService)
	v1Router.HandleFunc("/hashlists", hashlistHandler.CreateHashList).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/hashlists", hashlistHandler.ListHashLists).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/hashlists/{id:[0-9]+}", hashlistHandler.GetHashList).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/hashlists/{id:[0-9]+}", hashlistHandler.DeleteHashList).Methods("DELETE", "OPTIONS")
	v1Router.HandleFunc("/hashlists/{id:[0-9]+}/upload", hashlistHandler.UploadHashes).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/hashlists/{id:[0-9]+}/hashes", hashlistHandler.ListHashItems).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/hashlists/{id:[0-9]+}/resync", hashlistHandler.ResyncHashList).Methods("POST", "OPTIONS")

	// Agent management endpoints
	agentHandler := v1handlers.NewAgentHandler(agentService, taskService, benchmarkRepo, errorRepo)
	v1Router.HandleFunc("/agents", agentHandler.RegisterAgent).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/agents", agentHandler.ListAgents).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/agents/{id:[0-9]+}", agentHandler.GetAgent).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/agents/{id:[0-9]+}", agentHandler.UpdateAgent).Methods("PATCH", "OPTIONS")
	v1Router.HandleFunc("/agents/{id:[0-9]+}/activate", agentHandler.ActivateAgent).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/agents/{id:[0-9]+}/deactivate", agentHandler.DeactivateAgent).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/agents/{id:[0-9]+}/projects", agentHandler.SetAgentProjects).Methods("PUT", "OPTIONS")
	v1Router.HandleFunc("/agents/{id:[0-9]+}/tasks", agentHandler.ListAgentTasks).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/agents/{id:[0-9]+}/benchmarks", agentHandler.ListAgentBenchmarks).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/agents/{id:[0-9]+}/errors", agentHandler.ListAgentErrors).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/benchmarks/fastest", agentHandler.FastestBenchmark).Methods("GET", "OPTIONS")

	// Project endpoints
	projectHandler := v1handlers.NewProjectHandler(projectRepo)
	v1Router.HandleFunc("/projects", projectHandler.CreateProject).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/projects", projectHandler.ListProjects).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/projects/{id:[0-9]+}", projectHandler.GetProject).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/projects/{id:[0-9]+}", projectHandler.UpdateProject).Methods("PUT", "OPTIONS")
	v1Router.HandleFunc("/projects/{id:[0-9]+}", projectHandler.DeleteProject).Methods("DELETE", "OPTIONS")
	v1Router.HandleFunc("/users", projectHandler.CreateUser).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/users/{id}", projectHandler.GetUser).Methods("GET", "OPTIONS")

	// Attack resource catalog endpoints
	resourceHandler := v1handlers.NewResourceHandler(resourceRepo)
	v1Router.HandleFunc("/wordlists", resourceHandler.CreateWordList).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/wordlists", resourceHandler.ListWordLists).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/wordlists/{id}", resourceHandler.GetWordList).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/wordlists/{id}", resourceHandler.UpdateWordListCount).Methods("PATCH", "OPTIONS")
	v1Router.HandleFunc("/wordlists/{id}", resourceHandler.DeleteWordList).Methods("DELETE", "OPTIONS")
	v1Router.HandleFunc("/rulelists", resourceHandler.CreateRuleList).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/rulelists", resourceHandler.ListRuleLists).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/rulelists/{id}", resourceHandler.GetRuleList).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/rulelists/{id}", resourceHandler.UpdateRuleListCount).Methods("PATCH", "OPTIONS")
	v1Router.HandleFunc("/rulelists/{id}", resourceHandler.DeleteRuleList).Methods("DELETE", "OPTIONS")
	v1Router.HandleFunc("/masklists", resourceHandler.CreateMaskList).Methods("POST", "OPTIONS")
	v1Router.HandleFunc("/masklists", resourceHandler.ListMaskLists).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/masklists/{id}", resourceHandler.GetMaskList).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/masklists/{id}", resourceHandler.UpdateMaskList).Methods("PATCH", "OPTIONS")
	v1Router.HandleFunc("/masklists/{id}", resourceHandler.DeleteMaskList).Methods("DELETE", "OPTIONS")

	// System settings endpoints
	settingsHandler := v1handlers.NewSettingsHandler(settingsRepo)
	v1Router.HandleFunc("/settings", settingsHandler.ListSettings).Methods("GET", "OPTIONS")
	v1Router.HandleFunc("/settings/{key}", settingsHandler.UpdateSetting).Methods("PUT", "OPTIONS")

	// Manual sweep triggers
	adminHandler := v1handlers.NewAdminHandler(preemptionService)
	v1Router.HandleFunc("/sweeps/preemption", adminHandler.RunPreemptionSweep).Methods("POST", "OPTIONS")

	// Live progress stream for dashboards
	v1Router.HandleFunc("/ws", hub.ServeWS).Methods("GET")

	debug.Info("/api/v1 operator API routes configured successfully")
}
