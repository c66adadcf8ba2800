// Package retention purges aged operational data: soft-deleted campaigns,
// orphaned hash lists, hashcat status snapshots, agent error logs and
// stale benchmarks.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

const defaultRetentionMonths = 6

// Service applies the configured retention window across the operational
// tables. Campaign purges cascade to attacks and tasks through the schema.
type Service struct {
	db           *db.DB // for VACUUM, which cannot run through a repository transaction
	campaignRepo *repository.CampaignRepository
	hashListRepo *repository.HashListRepository
	statusRepo   *repository.HashcatStatusRepository
	errorRepo    *repository.AgentErrorRepository
	benchRepo    *repository.BenchmarkRepository
	settingsRepo *repository.SystemSettingsRepository
}

// NewService creates a new retention Service.
func NewService(
	database *db.DB,
	campaignRepo *repository.CampaignRepository,
	hashListRepo *repository.HashListRepository,
	statusRepo *repository.HashcatStatusRepository,
	errorRepo *repository.AgentErrorRepository,
	benchRepo *repository.BenchmarkRepository,
	settingsRepo *repository.SystemSettingsRepository,
) *Service {
	return &Service{
		db:           database,
		campaignRepo: campaignRepo,
		hashListRepo: hashListRepo,
		statusRepo:   statusRepo,
		errorRepo:    errorRepo,
		benchRepo:    benchRepo,
		settingsRepo: settingsRepo,
	}
}

// Purge runs one retention pass. A retention setting of 0 means keep
// forever. Individual table failures are logged and the pass continues;
// retention is repair work, not a correctness dependency.
func (s *Service) Purge(ctx context.Context) error {
	months := s.settingsRepo.GetInt(ctx, "retention_months", defaultRetentionMonths)
	if months <= 0 {
		debug.Debug("Retention disabled (retention_months=%d), skipping purge", months)
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(months) * 30 * 24 * time.Hour)
	debug.Info("Starting retention purge, cutoff %s (%d months)", cutoff.Format(time.RFC3339), months)

	purged := int64(0)
	if n, err := s.campaignRepo.PurgeDeletedBefore(ctx, cutoff); err != nil {
		debug.Error("Retention: failed to purge soft-deleted campaigns: %v", err)
	} else if n > 0 {
		debug.Info("Retention: purged %d soft-deleted campaign(s)", n)
		purged += n
	}
	// Campaigns go first so lists they were holding onto are collected
	// in the same pass.
	if n, err := s.hashListRepo.PurgeOrphaned(ctx, cutoff); err != nil {
		debug.Error("Retention: failed to purge orphaned hash lists: %v", err)
	} else if n > 0 {
		debug.Info("Retention: purged %d orphaned hash list(s)", n)
		purged += n
	}
	if n, err := s.statusRepo.DeleteOlderThan(ctx, cutoff); err != nil {
		debug.Error("Retention: failed to purge hashcat statuses: %v", err)
	} else if n > 0 {
		debug.Info("Retention: purged %d hashcat status row(s)", n)
		purged += n
	}
	if n, err := s.errorRepo.DeleteOlderThan(ctx, cutoff); err != nil {
		debug.Error("Retention: failed to purge agent errors: %v", err)
	} else if n > 0 {
		debug.Info("Retention: purged %d agent error(s)", n)
		purged += n
	}
	if n, err := s.benchRepo.DeleteOlderThan(ctx, cutoff); err != nil {
		debug.Error("Retention: failed to purge benchmarks: %v", err)
	} else if n > 0 {
		debug.Info("Retention: purged %d benchmark(s)", n)
		purged += n
	}

	if purged > 0 {
		if err := s.vacuumTables(ctx); err != nil {
			debug.Error("Retention: VACUUM failed: %v", err)
		}
	}
	debug.Info("Retention purge completed, %d row(s) removed", purged)
	return nil
}

// vacuumTables reclaims space on the purged tables. VACUUM cannot run
// inside a transaction, so it goes straight through the handle.
func (s *Service) vacuumTables(ctx context.Context) error {
	tables := []string{"campaigns", "attacks", "tasks", "hash_lists", "hash_items", "hashcat_statuses", "device_statuses", "agent_errors", "hashcat_benchmarks"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM ANALYZE %s", table)); err != nil {
			debug.Error("Failed to VACUUM table %s: %v", table, err)
			continue
		}
		debug.Debug("Ran VACUUM ANALYZE on %s", table)
	}
	return nil
}
