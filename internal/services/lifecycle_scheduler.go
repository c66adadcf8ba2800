package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dravenops/hashhive/backend/internal/config"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/retention"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// sweepTimeout bounds a single background sweep so a wedged store cannot
// pile up overlapping runs forever.
const sweepTimeout = 5 * time.Minute

// LifecycleScheduler drives the periodic server-side events: agent offline
// detection, benchmark staleness checks, the priority controller, retention
// purges and the ETA cache warmup. Agents push everything else; these are
// the only timer-initiated mutations in the system.
type LifecycleScheduler struct {
	cron       *cron.Cron
	agents     *AgentService
	preemption *PreemptionService
	retention  *retention.Service
	eta        *EtaService
	campaigns  *repository.CampaignRepository
	cfg        *config.Config
}

// NewLifecycleScheduler creates a stopped scheduler.
func NewLifecycleScheduler(
	agents *AgentService,
	preemption *PreemptionService,
	retentionSvc *retention.Service,
	eta *EtaService,
	campaignRepo *repository.CampaignRepository,
	cfg *config.Config,
) *LifecycleScheduler {
	return &LifecycleScheduler{
		cron:       cron.New(),
		agents:     agents,
		preemption: preemption,
		retention:  retentionSvc,
		eta:        eta,
		campaigns:  campaignRepo,
		cfg:        cfg,
	}
}

// Start registers the sweeps and begins the cron loop.
func (s *LifecycleScheduler) Start() {
	s.schedule(s.cfg.OfflineSweepInterval, "agent offline check", func(ctx context.Context) error {
		n, err := s.agents.CheckOnline(ctx)
		if n > 0 {
			debug.Info("Offline sweep marked %d agent(s) offline", n)
		}
		return err
	})
	s.schedule(s.cfg.BenchmarkSweepInterval, "benchmark age check", func(ctx context.Context) error {
		n, err := s.agents.CheckBenchmarkAge(ctx)
		if n > 0 {
			debug.Info("Benchmark sweep returned %d agent(s) to pending", n)
		}
		return err
	})
	s.schedule(s.cfg.PreemptionSweepInterval, "priority preemption", func(ctx context.Context) error {
		_, err := s.preemption.Sweep(ctx)
		return err
	})
	s.schedule(s.cfg.RetentionSweepInterval, "retention purge", func(ctx context.Context) error {
		return s.retention.Purge(ctx)
	})
	s.schedule(s.cfg.EtaWarmupInterval, "campaign ETA warmup", func(ctx context.Context) error {
		campaigns, err := s.campaigns.ListLive(ctx)
		if err != nil {
			return err
		}
		for _, campaign := range campaigns {
			if campaign.UncrackedCount <= 0 {
				continue
			}
			if err := s.eta.Refresh(ctx, campaign.ID); err != nil {
				debug.Warning("ETA warmup failed for campaign %s: %v", campaign.ID, err)
			}
		}
		return nil
	})

	s.cron.Start()
	debug.Info("Lifecycle scheduler started (offline=%s, benchmark=%s, preemption=%s, retention=%s, eta=%s)",
		s.cfg.OfflineSweepInterval, s.cfg.BenchmarkSweepInterval, s.cfg.PreemptionSweepInterval, s.cfg.RetentionSweepInterval, s.cfg.EtaWarmupInterval)
}

// Stop halts the cron loop and waits for in-flight sweeps to finish.
func (s *LifecycleScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	debug.Info("Lifecycle scheduler stopped")
}

func (s *LifecycleScheduler) schedule(every time.Duration, name string, run func(context.Context) error) {
	if every <= 0 {
		debug.Warning("Sweep %q disabled (interval %s)", name, every)
		return
	}
	s.cron.Schedule(cron.Every(every), cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		if err := run(ctx); err != nil {
			debug.Error("Sweep %q failed: %v", name, err)
		}
	}))
}
