package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/google/uuid"
)

// ResourceRepository handles the word list, rule list and mask list tables.
// The three share a shape; mask lists additionally carry a precomputed
// complexity value summed over their masks.
type ResourceRepository struct {
	db *db.DB
}

// NewResourceRepository creates a new instance of ResourceRepository.
func NewResourceRepository(database *db.DB) *ResourceRepository {
	return &ResourceRepository{db: database}
}

const (
	tableWordLists = "word_lists"
	tableRuleLists = "rule_lists"
	tableMaskLists = "mask_lists"
)

func (r *ResourceRepository) create(ctx context.Context, table string, resource *models.ResourceFile) error {
	if resource.ID == uuid.Nil {
		resource.ID = uuid.New()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, file_name, line_count)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, table)
	err := r.db.QueryRowContext(ctx, query,
		resource.ID,
		resource.Name,
		resource.FileName,
		resource.LineCount,
	).Scan(&resource.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create %s entry: %w", table, err)
	}
	return nil
}

func (r *ResourceRepository) get(ctx context.Context, table string, id uuid.UUID) (*models.ResourceFile, error) {
	query := fmt.Sprintf(`SELECT id, name, file_name, line_count, created_at FROM %s WHERE id = $1`, table)
	resource := &models.ResourceFile{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&resource.ID,
		&resource.Name,
		&resource.FileName,
		&resource.LineCount,
		&resource.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s entry %s not found: %w", table, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s entry %s: %w", table, id, err)
	}
	return resource, nil
}

func (r *ResourceRepository) list(ctx context.Context, table string) ([]*models.ResourceFile, error) {
	query := fmt.Sprintf(`SELECT id, name, file_name, line_count, created_at FROM %s ORDER BY name`, table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var resources []*models.ResourceFile
	for rows.Next() {
		resource := &models.ResourceFile{}
		if err := rows.Scan(
			&resource.ID,
			&resource.Name,
			&resource.FileName,
			&resource.LineCount,
			&resource.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		resources = append(resources, resource)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", table, err)
	}
	return resources, nil
}

func (r *ResourceRepository) delete(ctx context.Context, table string, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s entry %s: %w", table, id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for %s deletion: %w", table, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s entry %s not found for deletion: %w", table, id, ErrNotFound)
	}
	return nil
}

// CreateWordList inserts a word list record.
func (r *ResourceRepository) CreateWordList(ctx context.Context, resource *models.ResourceFile) error {
	return r.create(ctx, tableWordLists, resource)
}

// GetWordList retrieves a word list by ID.
func (r *ResourceRepository) GetWordList(ctx context.Context, id uuid.UUID) (*models.ResourceFile, error) {
	return r.get(ctx, tableWordLists, id)
}

// ListWordLists retrieves all word lists ordered by name.
func (r *ResourceRepository) ListWordLists(ctx context.Context) ([]*models.ResourceFile, error) {
	return r.list(ctx, tableWordLists)
}

// UpdateWordListCount updates a word list's line count after processing.
func (r *ResourceRepository) UpdateWordListCount(ctx context.Context, id uuid.UUID, lineCount int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE word_lists SET line_count = $1 WHERE id = $2`, lineCount, id)
	if err != nil {
		return fmt.Errorf("failed to update word list %s line count: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for word list update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("word list %s not found for line count update: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteWordList removes a word list. Fails while attacks reference it.
func (r *ResourceRepository) DeleteWordList(ctx context.Context, id uuid.UUID) error {
	return r.delete(ctx, tableWordLists, id)
}

// CreateRuleList inserts a rule list record.
func (r *ResourceRepository) CreateRuleList(ctx context.Context, resource *models.ResourceFile) error {
	return r.create(ctx, tableRuleLists, resource)
}

// GetRuleList retrieves a rule list by ID.
func (r *ResourceRepository) GetRuleList(ctx context.Context, id uuid.UUID) (*models.ResourceFile, error) {
	return r.get(ctx, tableRuleLists, id)
}

// ListRuleLists retrieves all rule lists ordered by name.
func (r *ResourceRepository) ListRuleLists(ctx context.Context) ([]*models.ResourceFile, error) {
	return r.list(ctx, tableRuleLists)
}

// UpdateRuleListCount updates a rule list's line count after processing.
func (r *ResourceRepository) UpdateRuleListCount(ctx context.Context, id uuid.UUID, lineCount int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE rule_lists SET line_count = $1 WHERE id = $2`, lineCount, id)
	if err != nil {
		return fmt.Errorf("failed to update rule list %s line count: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for rule list update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule list %s not found for line count update: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteRuleList removes a rule list. Fails while attacks reference it.
func (r *ResourceRepository) DeleteRuleList(ctx context.Context, id uuid.UUID) error {
	return r.delete(ctx, tableRuleLists, id)
}

// CreateMaskList inserts a mask list record.
func (r *ResourceRepository) CreateMaskList(ctx context.Context, resource *models.ResourceFile) error {
	if resource.ID == uuid.Nil {
		resource.ID = uuid.New()
	}
	query := `
		INSERT INTO mask_lists (id, name, file_name, line_count, complexity_value)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		resource.ID,
		resource.Name,
		resource.FileName,
		resource.LineCount,
		resource.ComplexityValue,
	).Scan(&resource.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create mask list entry: %w", err)
	}
	return nil
}

// GetMaskList retrieves a mask list with its complexity value.
func (r *ResourceRepository) GetMaskList(ctx context.Context, id uuid.UUID) (*models.ResourceFile, error) {
	query := `SELECT id, name, file_name, line_count, complexity_value, created_at FROM mask_lists WHERE id = $1`
	resource := &models.ResourceFile{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&resource.ID,
		&resource.Name,
		&resource.FileName,
		&resource.LineCount,
		&resource.ComplexityValue,
		&resource.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mask list %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get mask list %s: %w", id, err)
	}
	return resource, nil
}

// ListMaskLists retrieves all mask lists ordered by name.
func (r *ResourceRepository) ListMaskLists(ctx context.Context) ([]*models.ResourceFile, error) {
	query := `SELECT id, name, file_name, line_count, complexity_value, created_at FROM mask_lists ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list mask lists: %w", err)
	}
	defer rows.Close()

	var resources []*models.ResourceFile
	for rows.Next() {
		resource := &models.ResourceFile{}
		if err := rows.Scan(
			&resource.ID,
			&resource.Name,
			&resource.FileName,
			&resource.LineCount,
			&resource.ComplexityValue,
			&resource.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mask list row: %w", err)
		}
		resources = append(resources, resource)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mask list rows: %w", err)
	}
	return resources, nil
}

// UpdateMaskListStats updates a mask list's line count and summed keyspace
// after its masks are parsed.
func (r *ResourceRepository) UpdateMaskListStats(ctx context.Context, id uuid.UUID, lineCount int64, complexity float64) error {
	query := `UPDATE mask_lists SET line_count = $1, complexity_value = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, lineCount, complexity, id)
	if err != nil {
		return fmt.Errorf("failed to update mask list %s stats: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for mask list update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("mask list %s not found for stats update: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteMaskList removes a mask list. Fails while attacks reference it.
func (r *ResourceRepository) DeleteMaskList(ctx context.Context, id uuid.UUID) error {
	return r.delete(ctx, tableMaskLists, id)
}
