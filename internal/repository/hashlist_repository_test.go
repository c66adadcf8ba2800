package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockHashListRepo(t *testing.T) (*HashListRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewHashListRepository(&db.DB{DB: mockDB}), mock
}

func TestHashListRepository_MarkItemCracked(t *testing.T) {
	t.Run("first report flips the item and bumps the counter", func(t *testing.T) {
		repo, mock := newMockHashListRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE hash_items").
			WithArgs("hunter2", int64(5), "8743b52063cd84097a65d1633f5c74f5", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE hash_lists").
			WithArgs(int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		cracked, err := repo.MarkItemCracked(context.Background(), 5, "8743b52063cd84097a65d1633f5c74f5", "", "hunter2")
		require.NoError(t, err)
		assert.True(t, cracked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repeat report is a no-op and leaves the counter alone", func(t *testing.T) {
		repo, mock := newMockHashListRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE hash_items").
			WithArgs("hunter2", int64(5), "8743b52063cd84097a65d1633f5c74f5", "").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		cracked, err := repo.MarkItemCracked(context.Background(), 5, "8743b52063cd84097a65d1633f5c74f5", "", "hunter2")
		require.NoError(t, err)
		assert.False(t, cracked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHashListRepository_InsertItems_Deduplicates(t *testing.T) {
	repo, mock := newMockHashListRepo(t)

	mock.ExpectBegin()
	// Three submitted, two inserted: the duplicate hits ON CONFLICT DO NOTHING.
	mock.ExpectExec("INSERT INTO hash_items").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE hash_lists").
		WithArgs(int64(2), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	items := []models.HashItem{
		{HashValue: "aaa", Salt: ""},
		{HashValue: "bbb", Salt: ""},
		{HashValue: "aaa", Salt: ""},
	}
	inserted, err := repo.InsertItems(context.Background(), 5, items)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHashListRepository_PurgeOrphaned(t *testing.T) {
	repo, mock := newMockHashListRepo(t)

	cutoff := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM hash_lists").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	purged, err := repo.PurgeOrphaned(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
	assert.NoError(t, mock.ExpectationsWereMet())
}
