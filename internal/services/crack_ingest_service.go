package services

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// bloomFalsePositiveRate trades filter size against wasted database lookups.
// A false positive only costs one conditional UPDATE that affects no rows.
const bloomFalsePositiveRate = 0.001

// CrackIngestService accepts agent-reported crack results. A per-list bloom
// filter seeded from the list's uncracked items screens out reports that
// cannot possibly be new cracks (hashes not on the list, or cracked before
// the filter was built) before they reach the database. The filter is only
// ever used to reject; every positive still goes through the authoritative
// conditional UPDATE, so a false positive can never invent a crack and a
// report is never dropped while the filter is missing.
type CrackIngestService struct {
	hashListRepo *repository.HashListRepository
	taskRepo     *repository.TaskRepository
	sink         broadcast.Sink

	mu      sync.Mutex
	filters map[int64]*bloom.BloomFilter
}

// NewCrackIngestService creates a new instance of CrackIngestService.
func NewCrackIngestService(
	hashListRepo *repository.HashListRepository,
	taskRepo *repository.TaskRepository,
	sink broadcast.Sink,
) *CrackIngestService {
	return &CrackIngestService{
		hashListRepo: hashListRepo,
		taskRepo:     taskRepo,
		sink:         sink,
		filters:      make(map[int64]*bloom.BloomFilter),
	}
}

// Ingest records a batch of crack reports against the hash list and returns
// how many items were newly cracked. When anything was, every other in-flight
// task on the same list is marked stale so its agent refreshes cracked
// hashes before continuing.
func (s *CrackIngestService) Ingest(ctx context.Context, hashListID int64, reportingTaskID uuid.UUID, reports []models.CrackReport) (int, error) {
	if len(reports) == 0 {
		return 0, nil
	}

	filter := s.filterFor(ctx, hashListID)

	newlyCracked := 0
	for _, report := range reports {
		if filter != nil && !filter.TestString(crackKey(report.HashValue, report.Salt)) {
			continue
		}
		cracked, err := s.hashListRepo.MarkItemCracked(ctx, hashListID, report.HashValue, report.Salt, report.PlainText)
		if err != nil {
			return newlyCracked, err
		}
		if cracked {
			newlyCracked++
		}
	}
	if newlyCracked == 0 {
		return 0, nil
	}

	debug.Info("Task %s cracked %d hash(es) on list %d", reportingTaskID, newlyCracked, hashListID)

	marked, err := s.taskRepo.MarkStaleForHashList(ctx, hashListID, reportingTaskID)
	if err != nil {
		debug.Error("Failed to mark sibling tasks stale for list %d: %v", hashListID, err)
	} else if marked > 0 {
		debug.Debug("Marked %d task(s) stale on list %d", marked, hashListID)
	}

	s.sink.Publish(ctx, broadcast.Event{
		Kind:     broadcast.KindCrack,
		TaskID:   reportingTaskID,
		Progress: float64(newlyCracked),
	})
	return newlyCracked, nil
}

// Invalidate drops the cached filter for a list. Called after imports add
// items, since a filter built before then would wrongly reject their cracks.
func (s *CrackIngestService) Invalidate(hashListID int64) {
	s.mu.Lock()
	delete(s.filters, hashListID)
	s.mu.Unlock()
}

// filterFor returns the list's bloom filter, building and caching it on
// first use. Returns nil when the filter cannot be built; ingest then tests
// everything against the database directly.
func (s *CrackIngestService) filterFor(ctx context.Context, hashListID int64) *bloom.BloomFilter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter, ok := s.filters[hashListID]; ok {
		return filter
	}

	hashList, err := s.hashListRepo.GetByID(ctx, hashListID)
	if err != nil {
		debug.Error("Failed to load hash list %d for bloom filter: %v", hashListID, err)
		return nil
	}
	if !hashList.Processed {
		// Items may still be arriving; a filter built now would miss them.
		return nil
	}

	capacity := uint(hashList.HashCount)
	if capacity == 0 {
		capacity = 1
	}
	filter := bloom.NewWithEstimates(capacity, bloomFalsePositiveRate)

	seeded := 0
	err = s.hashListRepo.StreamUncrackedValues(ctx, hashListID, func(hashValue, salt string) error {
		filter.AddString(crackKey(hashValue, salt))
		seeded++
		return nil
	})
	if err != nil {
		debug.Error("Failed to seed bloom filter for list %d: %v", hashListID, err)
		return nil
	}

	debug.Debug("Built bloom filter for list %d with %d uncracked item(s)", hashListID, seeded)
	s.filters[hashListID] = filter
	return filter
}

func crackKey(hashValue, salt string) string {
	return hashValue + ":" + salt
}
