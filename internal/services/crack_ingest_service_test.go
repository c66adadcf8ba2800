package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
)

// sinkRecorder captures published events for assertions.
type sinkRecorder struct {
	events []broadcast.Event
}

func (s *sinkRecorder) Publish(_ context.Context, event broadcast.Event) {
	s.events = append(s.events, event)
}

func newIngestHarness(t *testing.T) (*CrackIngestService, sqlmock.Sqlmock, *sinkRecorder) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	database := &db.DB{DB: mockDB}
	sink := &sinkRecorder{}
	svc := NewCrackIngestService(
		repository.NewHashListRepository(database),
		repository.NewTaskRepository(database),
		sink,
	)
	return svc, mock, sink
}

func expectFilterBuild(mock sqlmock.Sqlmock, hashListID int64, uncracked [][2]string) {
	mock.ExpectQuery("FROM hash_lists WHERE id").
		WithArgs(hashListID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "project_id", "hash_type", "separator", "processed",
			"hash_count", "cracked_count", "created_at", "updated_at",
		}).AddRow(hashListID, "quarterly", 1, 0, ":", true, 1000, 10, time.Now(), time.Now()))

	rows := sqlmock.NewRows([]string{"hash_value", "salt"})
	for _, pair := range uncracked {
		rows.AddRow(pair[0], pair[1])
	}
	mock.ExpectQuery("SELECT hash_value, salt").
		WithArgs(hashListID).
		WillReturnRows(rows)
}

func expectCrackUpdate(mock sqlmock.Sqlmock, hashListID int64, report models.CrackReport, cracked bool) {
	mock.ExpectBegin()
	exec := mock.ExpectExec("UPDATE hash_items").
		WithArgs(report.PlainText, hashListID, report.HashValue, report.Salt)
	if cracked {
		exec.WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE hash_lists SET cracked_count").
			WithArgs(hashListID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	} else {
		exec.WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
	}
}

func TestIngestScreensAndCounts(t *testing.T) {
	svc, mock, sink := newIngestHarness(t)
	hashListID := int64(7)
	taskID := uuid.New()

	// The filter is seeded with the two still-uncracked items.
	expectFilterBuild(mock, hashListID, [][2]string{{"aaa", "s1"}, {"ccc", "s3"}})

	fresh := models.CrackReport{HashValue: "aaa", Salt: "s1", PlainText: "password1"}
	raced := models.CrackReport{HashValue: "ccc", Salt: "s3", PlainText: "hunter2"}
	unknown := models.CrackReport{HashValue: "zzz", Salt: "", PlainText: "nope"}

	// The unknown hash never reaches the database. The raced one passes the
	// filter but loses the conditional UPDATE to whoever cracked it first.
	expectCrackUpdate(mock, hashListID, fresh, true)
	expectCrackUpdate(mock, hashListID, raced, false)

	mock.ExpectExec("UPDATE tasks").
		WithArgs(hashListID, taskID).
		WillReturnResult(sqlmock.NewResult(0, 2))

	newly, err := svc.Ingest(context.Background(), hashListID, taskID, []models.CrackReport{unknown, fresh, raced})
	require.NoError(t, err)
	assert.Equal(t, 1, newly)

	require.Len(t, sink.events, 1)
	assert.Equal(t, broadcast.KindCrack, sink.events[0].Kind)
	assert.Equal(t, taskID, sink.events[0].TaskID)
	assert.Equal(t, float64(1), sink.events[0].Progress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestBuildsFilterOnce(t *testing.T) {
	svc, mock, sink := newIngestHarness(t)
	hashListID := int64(3)
	taskID := uuid.New()

	expectFilterBuild(mock, hashListID, [][2]string{{"aaa", ""}})
	report := models.CrackReport{HashValue: "aaa", Salt: "", PlainText: "letmein"}
	expectCrackUpdate(mock, hashListID, report, true)
	mock.ExpectExec("UPDATE tasks").
		WithArgs(hashListID, taskID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	newly, err := svc.Ingest(context.Background(), hashListID, taskID, []models.CrackReport{report})
	require.NoError(t, err)
	require.Equal(t, 1, newly)

	// Same item reported again: the cached filter still admits it, only the
	// database update decides, and no list queries rebuild the filter.
	expectCrackUpdate(mock, hashListID, report, false)

	newly, err = svc.Ingest(context.Background(), hashListID, taskID, []models.CrackReport{report})
	require.NoError(t, err)
	assert.Zero(t, newly)
	assert.Len(t, sink.events, 1, "a batch with no new cracks publishes nothing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestUnprocessedListBypassesFilter(t *testing.T) {
	svc, mock, sink := newIngestHarness(t)
	hashListID := int64(9)

	mock.ExpectQuery("FROM hash_lists WHERE id").
		WithArgs(hashListID).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "project_id", "hash_type", "separator", "processed",
			"hash_count", "cracked_count", "created_at", "updated_at",
		}).AddRow(hashListID, "importing", 1, 0, ":", false, 0, 0, time.Now(), time.Now()))

	// No filter while the import is in flight, so even an unknown hash is
	// tested against the database.
	report := models.CrackReport{HashValue: "zzz", Salt: "", PlainText: "nope"}
	expectCrackUpdate(mock, hashListID, report, false)

	newly, err := svc.Ingest(context.Background(), hashListID, uuid.New(), []models.CrackReport{report})
	require.NoError(t, err)
	assert.Zero(t, newly)
	assert.Empty(t, sink.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateForcesFilterRebuild(t *testing.T) {
	svc, mock, _ := newIngestHarness(t)
	hashListID := int64(5)
	taskID := uuid.New()

	expectFilterBuild(mock, hashListID, [][2]string{{"aaa", ""}})
	first := models.CrackReport{HashValue: "aaa", Salt: "", PlainText: "one"}
	expectCrackUpdate(mock, hashListID, first, true)
	mock.ExpectExec("UPDATE tasks").
		WithArgs(hashListID, taskID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := svc.Ingest(context.Background(), hashListID, taskID, []models.CrackReport{first})
	require.NoError(t, err)

	// An import added items; the stale filter would reject their cracks.
	svc.Invalidate(hashListID)

	expectFilterBuild(mock, hashListID, [][2]string{{"bbb", ""}})
	second := models.CrackReport{HashValue: "bbb", Salt: "", PlainText: "two"}
	expectCrackUpdate(mock, hashListID, second, true)
	mock.ExpectExec("UPDATE tasks").
		WithArgs(hashListID, taskID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	newly, err := svc.Ingest(context.Background(), hashListID, taskID, []models.CrackReport{second})
	require.NoError(t, err)
	assert.Equal(t, 1, newly)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIngestEmptyBatch(t *testing.T) {
	svc, mock, sink := newIngestHarness(t)

	newly, err := svc.Ingest(context.Background(), 1, uuid.New(), nil)
	require.NoError(t, err)
	assert.Zero(t, newly)
	assert.Empty(t, sink.events)
	assert.NoError(t, mock.ExpectationsWereMet())
}
