package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dravenops/hashhive/backend/internal/jobs"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

const (
	// importBatchSize bounds the multi-row INSERT the importer builds.
	importBatchSize = 1000

	// importMaxLineBytes caps a single hash line. Salted formats can get
	// long but anything past this is garbage input.
	importMaxLineBytes = 1024 * 1024
)

// HashListService owns hash list CRUD and the line-oriented import pipeline
// that feeds campaigns their targets.
type HashListService struct {
	hashListRepo *repository.HashListRepository
	crackIngest  *CrackIngestService
	runner       jobs.Runner
}

// NewHashListService creates a new instance of HashListService.
func NewHashListService(hashListRepo *repository.HashListRepository, crackIngest *CrackIngestService, runner jobs.Runner) *HashListService {
	return &HashListService{
		hashListRepo: hashListRepo,
		crackIngest:  crackIngest,
		runner:       runner,
	}
}

// Create validates and inserts a new, unprocessed hash list.
func (s *HashListService) Create(ctx context.Context, hashList *models.HashList) error {
	if strings.TrimSpace(hashList.Name) == "" {
		return fmt.Errorf("hash list name cannot be empty")
	}
	if hashList.HashType < 0 {
		return fmt.Errorf("invalid hash type %d", hashList.HashType)
	}
	if hashList.Separator == "" {
		hashList.Separator = ":"
	}
	hashList.Processed = false
	return s.hashListRepo.Create(ctx, hashList)
}

// GetByID retrieves a hash list by ID.
func (s *HashListService) GetByID(ctx context.Context, id int64) (*models.HashList, error) {
	return s.hashListRepo.GetByID(ctx, id)
}

// ListByProject retrieves a project's hash lists.
func (s *HashListService) ListByProject(ctx context.Context, projectID int) ([]*models.HashList, error) {
	return s.hashListRepo.ListByProject(ctx, projectID)
}

// ListItems pages through a list's items.
func (s *HashListService) ListItems(ctx context.Context, hashListID int64, limit, offset int) ([]models.HashItem, int, error) {
	return s.hashListRepo.ListItems(ctx, hashListID, limit, offset)
}

// ImportStats summarizes one import run.
type ImportStats struct {
	Parsed     int64 `json:"parsed"`
	Inserted   int64 `json:"inserted"`
	Malformed  int64 `json:"malformed"`
	Duplicates int64 `json:"duplicates"`
}

// Import streams hash lines into the list and marks it processed. Each line
// is hash_value, optionally followed by the list separator and a salt.
// Processed lists are immutable; importing into one is an error.
func (s *HashListService) Import(ctx context.Context, hashListID int64, r io.Reader) (*ImportStats, error) {
	hashList, err := s.hashListRepo.GetByID(ctx, hashListID)
	if err != nil {
		return nil, err
	}
	if hashList.Processed {
		return nil, fmt.Errorf("hash list %d is already processed and immutable", hashListID)
	}

	stats := &ImportStats{}
	batch := make([]models.HashItem, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		inserted, err := s.hashListRepo.InsertItems(ctx, hashListID, batch)
		if err != nil {
			return err
		}
		stats.Inserted += inserted
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), importMaxLineBytes)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		stats.Parsed++

		value, salt := splitHashLine(line, hashList.Separator)
		if value == "" {
			stats.Malformed++
			continue
		}
		batch = append(batch, models.HashItem{HashValue: value, Salt: salt})
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read hash list upload: %w", err)
	}
	if err := flush(); err != nil {
		return stats, err
	}
	stats.Duplicates = stats.Parsed - stats.Malformed - stats.Inserted

	if err := s.hashListRepo.MarkProcessed(ctx, hashListID); err != nil {
		return stats, err
	}
	s.crackIngest.Invalidate(hashListID)

	debug.Info("Imported hash list %d: %d parsed, %d inserted, %d malformed, %d duplicate",
		hashListID, stats.Parsed, stats.Inserted, stats.Malformed, stats.Duplicates)
	return stats, nil
}

// Resync schedules a reconciliation of the list's cracked counter against
// its items. Counter updates are transactional with item cracks, so this is
// an operator repair tool, not part of the normal flow.
func (s *HashListService) Resync(ctx context.Context, hashListID int64) error {
	if _, err := s.hashListRepo.GetByID(ctx, hashListID); err != nil {
		return err
	}
	return s.runner.Enqueue(ctx, jobs.TypeSyncHashListCount, strconv.FormatInt(hashListID, 10))
}

// HandleSyncJob reconciles a hash list's cracked counter. Registered on the
// job mux for TypeSyncHashListCount.
func (s *HashListService) HandleSyncJob(ctx context.Context, job jobs.Job) error {
	hashListID, err := strconv.ParseInt(job.Payload, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid hash list ID in %s job: %w", job.Type, err)
	}
	if err := s.hashListRepo.SyncCrackedCount(ctx, hashListID); err != nil {
		return err
	}
	s.crackIngest.Invalidate(hashListID)
	return nil
}

// Delete removes an unreferenced hash list and its items. Lists backing a
// campaign are protected by the schema and fail here.
func (s *HashListService) Delete(ctx context.Context, hashListID int64) error {
	if _, err := s.hashListRepo.GetByID(ctx, hashListID); err != nil {
		return err
	}
	s.crackIngest.Invalidate(hashListID)
	return s.hashListRepo.Delete(ctx, hashListID)
}

// splitHashLine splits one import line into hash value and salt on the
// first separator occurrence. Salts may themselves contain the separator.
func splitHashLine(line, separator string) (value, salt string) {
	if separator == "" {
		return line, ""
	}
	parts := strings.SplitN(line, separator, 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
