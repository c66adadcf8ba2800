package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/dravenops/hashhive/backend/internal/cache"
	"github.com/dravenops/hashhive/backend/internal/config"
	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/jobs"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/routes"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
	"github.com/dravenops/hashhive/backend/internal/services/diagnostic"
	"github.com/dravenops/hashhive/backend/internal/services/retention"
	hvtls "github.com/dravenops/hashhive/backend/internal/tls"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env before anything reads the environment. Missing file is
	// fine; production sets real environment variables.
	if err := godotenv.Load(); err != nil {
		debug.Info("No .env file found, using environment variables")
	}
	debug.Reinitialize()
	debug.Info("Starting HashHive server %s", version)

	cfg := config.Load()

	database, err := db.Connect(cfg.DSN())
	if err != nil {
		debug.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	if err := db.RunMigrations(database); err != nil {
		debug.Error("Failed to run migrations: %v", err)
		os.Exit(1)
	}

	// Repositories
	agentRepo := repository.NewAgentRepository(database)
	agentErrorRepo := repository.NewAgentErrorRepository(database)
	attackRepo := repository.NewAttackRepository(database)
	benchmarkRepo := repository.NewBenchmarkRepository(database)
	campaignRepo := repository.NewCampaignRepository(database)
	statusRepo := repository.NewHashcatStatusRepository(database)
	hashListRepo := repository.NewHashListRepository(database)
	projectRepo := repository.NewProjectRepository(database)
	resourceRepo := repository.NewResourceRepository(database)
	settingsRepo := repository.NewSystemSettingsRepository(database)
	taskRepo := repository.NewTaskRepository(database)

	// Progress hub for websocket observers
	hub := broadcast.NewHub()
	hub.Start()

	// ETA cache: Redis when configured, in-process otherwise
	var store cache.Store
	if cfg.RedisAddr != "" {
		redisStore, err := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			debug.Error("Failed to connect to Redis at %s: %v", cfg.RedisAddr, err)
			os.Exit(1)
		}
		store = redisStore
	} else {
		store = cache.NewMemory()
	}

	// Background job runner: AMQP when configured, local pool otherwise
	jobMux := jobs.NewMux()
	var runner jobs.Runner
	var stopRunner func()
	if cfg.AMQPUrl != "" {
		amqpRunner, err := jobs.NewAMQP(cfg.AMQPUrl, cfg.AMQPQueue, jobMux)
		if err != nil {
			debug.Error("Failed to connect to AMQP broker: %v", err)
			os.Exit(1)
		}
		consumeCtx, cancelConsume := context.WithCancel(context.Background())
		go func() {
			if err := amqpRunner.Consume(consumeCtx); err != nil && !errors.Is(err, context.Canceled) {
				debug.Error("AMQP consumer stopped: %v", err)
			}
		}()
		runner = amqpRunner
		stopRunner = func() {
			cancelConsume()
			amqpRunner.Close()
		}
	} else {
		local := jobs.NewLocal(jobMux, 4, 256)
		local.Start()
		runner = local
		stopRunner = local.Stop
	}

	// Services, in dependency order
	complexityService := services.NewComplexityService(attackRepo, runner)
	attackService := services.NewAttackService(attackRepo, taskRepo, campaignRepo, hashListRepo, statusRepo, complexityService, hub)
	crackIngestService := services.NewCrackIngestService(hashListRepo, taskRepo, hub)
	taskService := services.NewTaskService(taskRepo, attackRepo, campaignRepo, hashListRepo, statusRepo, attackService, crackIngestService, hub)
	agentService := services.NewAgentService(agentRepo, agentErrorRepo, benchmarkRepo, taskRepo, settingsRepo, taskService, hub)
	assignmentService := services.NewAssignmentService(agentRepo, benchmarkRepo, campaignRepo, hashListRepo, attackRepo, taskRepo, settingsRepo)
	etaService := services.NewEtaService(taskRepo, attackRepo, campaignRepo, benchmarkRepo, settingsRepo, store)
	campaignService := services.NewCampaignService(campaignRepo, attackRepo, taskRepo, hashListRepo, attackService, etaService, runner, hub)
	preemptionService := services.NewPreemptionService(campaignRepo, attackRepo, taskRepo, benchmarkRepo, settingsRepo, taskService)
	hashListService := services.NewHashListService(hashListRepo, crackIngestService, runner)
	retentionService := retention.NewService(database, campaignRepo, hashListRepo, statusRepo, agentErrorRepo, benchmarkRepo, settingsRepo)
	diagnosticService := diagnostic.NewDiagnosticService(database.DB, hub, taskRepo, version)

	// Job handlers are registered after service construction; the mux
	// routes dynamically, so the runner can already be accepting work.
	jobMux.Handle(jobs.TypeRecomputeComplexity, complexityService.HandleRecomputeJob)
	jobMux.Handle(jobs.TypeRefreshCampaignETA, etaService.HandleRefreshJob)
	jobMux.Handle(jobs.TypeSyncHashListCount, hashListService.HandleSyncJob)

	// HTTP routes
	router := mux.NewRouter()
	routes.SetupV1Routes(router, campaignService, attackService, taskService, agentService, hashListService,
		preemptionService, projectRepo, settingsRepo, statusRepo, agentErrorRepo, benchmarkRepo, resourceRepo, hub)
	routes.SetupAgentRoutes(router, agentService, taskService, assignmentService, attackService, campaignService)
	routes.SetupDiagnosticsRoutes(router, diagnosticService)

	// Periodic sweeps: offline detection, benchmark age, preemption, retention
	scheduler := services.NewLifecycleScheduler(agentService, preemptionService, retentionService, etaService, campaignRepo, cfg)
	scheduler.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		tlsConfig, err := hvtls.Load(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			debug.Error("Failed to load TLS certificate: %v", err)
			os.Exit(1)
		}
		srv.TLSConfig = tlsConfig
	}

	go func() {
		var err error
		if useTLS {
			debug.Info("HTTPS server listening on %s", cfg.ListenAddr)
			err = srv.ListenAndServeTLS("", "")
		} else {
			debug.Info("HTTP server listening on %s", cfg.ListenAddr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.Error("HTTP server failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	debug.Info("Shutdown signal received")

	// Stop accepting requests first, then the sweeps and job runner, so
	// in-flight transitions finish against a live store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		debug.Error("HTTP shutdown did not complete cleanly: %v", err)
	}
	scheduler.Stop()
	stopRunner()
	hub.Stop()
	if err := database.Close(); err != nil {
		debug.Error("Failed to close database: %v", err)
	}
	debug.Info("Server exited")
}
