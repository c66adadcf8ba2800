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
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CampaignRepository handles database operations for campaigns.
type CampaignRepository struct {
	db *db.DB
}

// NewCampaignRepository creates a new instance of CampaignRepository.
func NewCampaignRepository(database *db.DB) *CampaignRepository {
	return &CampaignRepository{db: database}
}

// priorityRankSQL orders campaigns high > normal > deferred in SQL, matching
// models.CampaignPriority.Rank.
const priorityRankSQL = `CASE c.priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END`

// Create inserts a new campaign.
func (r *CampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	query := `
		INSERT INTO campaigns (id, name, project_id, hash_list_id, priority)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		campaign.ID,
		campaign.Name,
		campaign.ProjectID,
		campaign.HashListID,
		campaign.Priority,
	).Scan(&campaign.CreatedAt, &campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID retrieves a campaign with its hash list summary joined in.
func (r *CampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	query := `
		SELECT c.id, c.name, c.project_id, c.hash_list_id, c.priority, c.deleted_at,
		       c.created_at, c.updated_at,
		       hl.name, hl.hash_type, hl.hash_count - hl.cracked_count
		FROM campaigns c
		JOIN hash_lists hl ON hl.id = c.hash_list_id
		WHERE c.id = $1
	`
	campaign := &models.Campaign{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID,
		&campaign.Name,
		&campaign.ProjectID,
		&campaign.HashListID,
		&campaign.Priority,
		&campaign.DeletedAt,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
		&campaign.HashListName,
		&campaign.HashType,
		&campaign.UncrackedCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("campaign %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return campaign, nil
}

// ListByProject retrieves the live campaigns of a project, newest first.
func (r *CampaignRepository) ListByProject(ctx context.Context, projectID int) ([]*models.Campaign, error) {
	query := `
		SELECT c.id, c.name, c.project_id, c.hash_list_id, c.priority, c.deleted_at,
		       c.created_at, c.updated_at,
		       hl.name, hl.hash_type, hl.hash_count - hl.cracked_count
		FROM campaigns c
		JOIN hash_lists hl ON hl.id = c.hash_list_id
		WHERE c.project_id = $1 AND c.deleted_at IS NULL
		ORDER BY c.created_at DESC
	`
	return r.queryCampaigns(ctx, query, projectID)
}

// ListCandidates returns the scheduling candidates for an agent: live
// campaigns inside the agent's projects whose hash type the agent has
// benchmarked, ordered by priority then age. The fully-cracked skip happens
// at the caller; the uncracked count is joined in for it.
func (r *CampaignRepository) ListCandidates(ctx context.Context, projectIDs []int, hashTypes []int) ([]*models.Campaign, error) {
	if len(projectIDs) == 0 || len(hashTypes) == 0 {
		return nil, nil
	}
	query := `
		SELECT c.id, c.name, c.project_id, c.hash_list_id, c.priority, c.deleted_at,
		       c.created_at, c.updated_at,
		       hl.name, hl.hash_type, hl.hash_count - hl.cracked_count
		FROM campaigns c
		JOIN hash_lists hl ON hl.id = c.hash_list_id
		WHERE c.deleted_at IS NULL
		  AND c.project_id = ANY($1)
		  AND hl.hash_type = ANY($2)
		ORDER BY ` + priorityRankSQL + ` DESC, c.created_at ASC
	`
	return r.queryCampaigns(ctx, query, pq.Array(projectIDs), pq.Array(hashTypes))
}

// ListLive retrieves every non-deleted campaign ordered by priority then age.
// The priority controller walks this to find starved high-priority work.
func (r *CampaignRepository) ListLive(ctx context.Context) ([]*models.Campaign, error) {
	query := `
		SELECT c.id, c.name, c.project_id, c.hash_list_id, c.priority, c.deleted_at,
		       c.created_at, c.updated_at,
		       hl.name, hl.hash_type, hl.hash_count - hl.cracked_count
		FROM campaigns c
		JOIN hash_lists hl ON hl.id = c.hash_list_id
		WHERE c.deleted_at IS NULL
		ORDER BY ` + priorityRankSQL + ` DESC, c.created_at ASC
	`
	return r.queryCampaigns(ctx, query)
}

func (r *CampaignRepository) queryCampaigns(ctx context.Context, query string, args ...interface{}) ([]*models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		campaign := &models.Campaign{}
		if err := rows.Scan(
			&campaign.ID,
			&campaign.Name,
			&campaign.ProjectID,
			&campaign.HashListID,
			&campaign.Priority,
			&campaign.DeletedAt,
			&campaign.CreatedAt,
			&campaign.UpdatedAt,
			&campaign.HashListName,
			&campaign.HashType,
			&campaign.UncrackedCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign rows: %w", err)
	}
	return campaigns, nil
}

// Update modifies a campaign's name and priority.
func (r *CampaignRepository) Update(ctx context.Context, campaign *models.Campaign) error {
	query := `UPDATE campaigns SET name = $1, priority = $2, updated_at = NOW() WHERE id = $3 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, campaign.Name, campaign.Priority, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to update campaign %s: %w", campaign.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for campaign update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("campaign %s not found for update: %w", campaign.ID, ErrNotFound)
	}
	return nil
}

// Touch bumps the campaign's updated_at, used when attack or task activity
// below it needs to surface on campaign listings.
func (r *CampaignRepository) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch campaign %s: %w", id, err)
	}
	return nil
}

// SoftDelete marks a campaign deleted without dropping its rows, so task
// and crack history survive until retention purges it.
func (r *CampaignRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE campaigns SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to soft delete campaign %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for campaign soft delete: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("campaign %s not found for deletion: %w", id, ErrNotFound)
	}
	return nil
}

// PurgeDeletedBefore hard-deletes campaigns soft-deleted before the cutoff.
// Attacks and tasks cascade through foreign keys.
func (r *CampaignRepository) PurgeDeletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM campaigns WHERE deleted_at IS NOT NULL AND deleted_at < $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted campaigns: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for campaign purge: %w", err)
	}
	if rowsAffected > 0 {
		debug.Info("Purged %d campaigns past retention", rowsAffected)
	}
	return rowsAffected, nil
}
