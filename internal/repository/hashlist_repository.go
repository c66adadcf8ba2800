package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// HashListRepository handles database operations for hash lists and their
// items. The cracked counter on the list row is maintained in the same
// transaction as item updates; scheduling reads it on every pass.
type HashListRepository struct {
	db *db.DB
}

// NewHashListRepository creates a new instance of HashListRepository.
func NewHashListRepository(database *db.DB) *HashListRepository {
	return &HashListRepository{db: database}
}

const hashListColumns = `id, name, project_id, hash_type, separator, processed, hash_count, cracked_count, created_at, updated_at`

// Create inserts a new hash list record and fills in the generated ID.
func (r *HashListRepository) Create(ctx context.Context, hashList *models.HashList) error {
	query := `
		INSERT INTO hash_lists (name, project_id, hash_type, separator)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		hashList.Name,
		hashList.ProjectID,
		hashList.HashType,
		hashList.Separator,
	).Scan(&hashList.ID, &hashList.CreatedAt, &hashList.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create hash list: %w", err)
	}
	return nil
}

// GetByID retrieves a hash list by its ID.
func (r *HashListRepository) GetByID(ctx context.Context, id int64) (*models.HashList, error) {
	query := `SELECT ` + hashListColumns + ` FROM hash_lists WHERE id = $1`
	hashList := &models.HashList{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&hashList.ID,
		&hashList.Name,
		&hashList.ProjectID,
		&hashList.HashType,
		&hashList.Separator,
		&hashList.Processed,
		&hashList.HashCount,
		&hashList.CrackedCount,
		&hashList.CreatedAt,
		&hashList.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("hash list %d not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get hash list %d: %w", id, err)
	}
	return hashList, nil
}

// ListByProject retrieves a project's hash lists, newest first.
func (r *HashListRepository) ListByProject(ctx context.Context, projectID int) ([]*models.HashList, error) {
	query := `SELECT ` + hashListColumns + ` FROM hash_lists WHERE project_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hash lists for project %d: %w", projectID, err)
	}
	defer rows.Close()

	var hashLists []*models.HashList
	for rows.Next() {
		hashList := &models.HashList{}
		if err := rows.Scan(
			&hashList.ID,
			&hashList.Name,
			&hashList.ProjectID,
			&hashList.HashType,
			&hashList.Separator,
			&hashList.Processed,
			&hashList.HashCount,
			&hashList.CrackedCount,
			&hashList.CreatedAt,
			&hashList.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hash list row: %w", err)
		}
		hashLists = append(hashLists, hashList)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hash list rows: %w", err)
	}
	return hashLists, nil
}

// InsertItems bulk-inserts hash items. Duplicate (hash_value, salt) pairs
// within the list are dropped by the unique constraint; the returned count
// reflects rows actually inserted.
func (r *HashListRepository) InsertItems(ctx context.Context, hashListID int64, items []models.HashItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction for hash item insert: %w", err)
	}
	defer txn.Rollback()

	query := `INSERT INTO hash_items (hash_list_id, hash_value, salt) VALUES `
	args := make([]interface{}, 0, len(items)*3)
	for i, item := range items {
		if i > 0 {
			query += ", "
		}
		baseParam := i * 3
		query += fmt.Sprintf("($%d, $%d, $%d)", baseParam+1, baseParam+2, baseParam+3)
		args = append(args, hashListID, item.HashValue, item.Salt)
	}
	query += ` ON CONFLICT (hash_list_id, hash_value, salt) DO NOTHING`

	result, err := txn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert hash items for list %d: %w", hashListID, err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for hash item insert: %w", err)
	}

	if _, err := txn.ExecContext(ctx,
		`UPDATE hash_lists SET hash_count = hash_count + $1, updated_at = NOW() WHERE id = $2`,
		inserted, hashListID,
	); err != nil {
		return 0, fmt.Errorf("failed to bump hash count for list %d: %w", hashListID, err)
	}

	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit hash item insert for list %d: %w", hashListID, err)
	}
	debug.Debug("Inserted %d/%d hash items into list %d", inserted, len(items), hashListID)
	return inserted, nil
}

// MarkProcessed flags the list ready for campaigns once ingest finished.
func (r *HashListRepository) MarkProcessed(ctx context.Context, id int64) error {
	query := `UPDATE hash_lists SET processed = TRUE, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark hash list %d processed: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for hash list processed update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("hash list %d not found for processed update: %w", id, ErrNotFound)
	}
	return nil
}

// MarkItemCracked records a plain text exactly once. The plain_text IS NULL
// guard makes repeat submissions no-ops, and the list counter moves in the
// same transaction only when the item actually flipped.
func (r *HashListRepository) MarkItemCracked(ctx context.Context, hashListID int64, hashValue, salt, plainText string) (bool, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for crack update: %w", err)
	}
	defer txn.Rollback()

	query := `
		UPDATE hash_items
		SET plain_text = $1, cracked_time = NOW()
		WHERE hash_list_id = $2 AND hash_value = $3 AND salt = $4 AND plain_text IS NULL
	`
	result, err := txn.ExecContext(ctx, query, plainText, hashListID, hashValue, salt)
	if err != nil {
		return false, fmt.Errorf("failed to mark hash cracked on list %d: %w", hashListID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for crack update: %w", err)
	}
	if rowsAffected == 0 {
		// Already cracked, or the hash is not on this list.
		return false, nil
	}

	if _, err := txn.ExecContext(ctx,
		`UPDATE hash_lists SET cracked_count = cracked_count + 1, updated_at = NOW() WHERE id = $1`,
		hashListID,
	); err != nil {
		return false, fmt.Errorf("failed to bump cracked count for list %d: %w", hashListID, err)
	}

	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit crack update for list %d: %w", hashListID, err)
	}
	return true, nil
}

// ListItems retrieves a page of a list's items, cracked first.
func (r *HashListRepository) ListItems(ctx context.Context, hashListID int64, limit, offset int) ([]models.HashItem, int, error) {
	countQuery := `SELECT COUNT(*) FROM hash_items WHERE hash_list_id = $1`
	var totalCount int
	if err := r.db.QueryRowContext(ctx, countQuery, hashListID).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count hash items for list %d: %w", hashListID, err)
	}
	if totalCount == 0 {
		return []models.HashItem{}, 0, nil
	}

	query := `
		SELECT id, hash_list_id, hash_value, salt, plain_text, cracked_time
		FROM hash_items
		WHERE hash_list_id = $1
		ORDER BY (plain_text IS NULL), id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, hashListID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list hash items for list %d: %w", hashListID, err)
	}
	defer rows.Close()

	var items []models.HashItem
	for rows.Next() {
		var item models.HashItem
		if err := rows.Scan(
			&item.ID,
			&item.HashListID,
			&item.HashValue,
			&item.Salt,
			&item.PlainText,
			&item.CrackedTime,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan hash item row for list %d: %w", hashListID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating hash item rows for list %d: %w", hashListID, err)
	}
	return items, totalCount, nil
}

// StreamUncrackedValues streams the uncracked hash values of a list through
// the callback, for agent downloads, without loading the list into memory.
func (r *HashListRepository) StreamUncrackedValues(ctx context.Context, hashListID int64, callback func(hashValue, salt string) error) error {
	query := `
		SELECT hash_value, salt
		FROM hash_items
		WHERE hash_list_id = $1 AND plain_text IS NULL
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, hashListID)
	if err != nil {
		return fmt.Errorf("failed to query uncracked values for list %d: %w", hashListID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var hashValue, salt string
		if err := rows.Scan(&hashValue, &salt); err != nil {
			return fmt.Errorf("failed to scan uncracked value for list %d: %w", hashListID, err)
		}
		if err := callback(hashValue, salt); err != nil {
			return fmt.Errorf("callback error for list %d: %w", hashListID, err)
		}
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating uncracked values for list %d: %w", hashListID, err)
	}
	return nil
}

// ListCrackedSince returns items cracked after the given time, for agents
// refreshing a stale task.
func (r *HashListRepository) ListCrackedSince(ctx context.Context, hashListID int64, since time.Time) ([]models.HashItem, error) {
	query := `
		SELECT id, hash_list_id, hash_value, salt, plain_text, cracked_time
		FROM hash_items
		WHERE hash_list_id = $1 AND cracked_time IS NOT NULL AND cracked_time > $2
		ORDER BY cracked_time
	`
	rows, err := r.db.QueryContext(ctx, query, hashListID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list cracked items for list %d: %w", hashListID, err)
	}
	defer rows.Close()

	var items []models.HashItem
	for rows.Next() {
		var item models.HashItem
		if err := rows.Scan(
			&item.ID,
			&item.HashListID,
			&item.HashValue,
			&item.Salt,
			&item.PlainText,
			&item.CrackedTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cracked item row for list %d: %w", hashListID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cracked item rows for list %d: %w", hashListID, err)
	}
	return items, nil
}

// SyncCrackedCount recomputes the denormalized counter from the items. Used
// by reconciliation, not the hot path.
func (r *HashListRepository) SyncCrackedCount(ctx context.Context, hashListID int64) error {
	query := `
		UPDATE hash_lists
		SET cracked_count = (
			SELECT COUNT(*) FROM hash_items
			WHERE hash_list_id = $1 AND plain_text IS NOT NULL
		), updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query, hashListID)
	if err != nil {
		return fmt.Errorf("failed to sync cracked count for list %d: %w", hashListID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for cracked count sync: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("hash list %d not found for cracked count sync: %w", hashListID, ErrNotFound)
	}
	return nil
}

// Delete removes a hash list and its items. Fails while campaigns still
// reference the list.
func (r *HashListRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM hash_lists WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete hash list %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for hash list deletion: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("hash list %d not found for deletion: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeOrphaned deletes hash lists created before cutoff that no campaign
// references. The age guard keeps fresh uploads that are not attached to a
// campaign yet; item rows go with the list through the schema cascade.
func (r *HashListRepository) PurgeOrphaned(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM hash_lists
		WHERE created_at < $1
		  AND NOT EXISTS (
		      SELECT 1 FROM campaigns c WHERE c.hash_list_id = hash_lists.id
		  )`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge orphaned hash lists: %w", err)
	}
	return result.RowsAffected()
}
