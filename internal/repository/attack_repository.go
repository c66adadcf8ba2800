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

// AttackRepository handles database operations for attacks.
type AttackRepository struct {
	db *db.DB
}

// NewAttackRepository creates a new instance of AttackRepository.
func NewAttackRepository(database *db.DB) *AttackRepository {
	return &AttackRepository{db: database}
}

// attackSelect joins resource line counts in so the estimator never needs a
// second round trip. COALESCE keeps unset resources at zero.
const attackSelect = `
	SELECT a.id, a.campaign_id, a.name, a.mode, a.status, a.position,
	       a.word_list_id, a.rule_list_id, a.mask_list_id, a.mask,
	       a.custom_charset_1, a.custom_charset_2, a.custom_charset_3, a.custom_charset_4,
	       a.increment_mode, a.increment_minimum, a.increment_maximum,
	       a.optimized, a.slow_candidate_generators, a.workload_profile,
	       a.disable_markov, a.classic_markov, a.markov_threshold,
	       a.complexity_value, a.start_time, a.end_time, a.created_at, a.updated_at,
	       COALESCE(wl.line_count, 0), COALESCE(rl.line_count, 0), COALESCE(ml.complexity_value, 0)
	FROM attacks a
	LEFT JOIN word_lists wl ON wl.id = a.word_list_id
	LEFT JOIN rule_lists rl ON rl.id = a.rule_list_id
	LEFT JOIN mask_lists ml ON ml.id = a.mask_list_id
`

func scanAttack(scan func(dest ...interface{}) error) (*models.Attack, error) {
	attack := &models.Attack{}
	err := scan(
		&attack.ID,
		&attack.CampaignID,
		&attack.Name,
		&attack.Mode,
		&attack.Status,
		&attack.Position,
		&attack.WordListID,
		&attack.RuleListID,
		&attack.MaskListID,
		&attack.Mask,
		&attack.CustomCharset1,
		&attack.CustomCharset2,
		&attack.CustomCharset3,
		&attack.CustomCharset4,
		&attack.IncrementMode,
		&attack.IncrementMinimum,
		&attack.IncrementMaximum,
		&attack.Optimized,
		&attack.SlowCandidateGenerators,
		&attack.WorkloadProfile,
		&attack.DisableMarkov,
		&attack.ClassicMarkov,
		&attack.MarkovThreshold,
		&attack.ComplexityValue,
		&attack.StartTime,
		&attack.EndTime,
		&attack.CreatedAt,
		&attack.UpdatedAt,
		&attack.WordListLineCount,
		&attack.RuleListLineCount,
		&attack.MaskListComplexity,
	)
	if err != nil {
		return nil, err
	}
	return attack, nil
}

// Create inserts a new attack.
func (r *AttackRepository) Create(ctx context.Context, attack *models.Attack) error {
	if attack.ID == uuid.Nil {
		attack.ID = uuid.New()
	}
	query := `
		INSERT INTO attacks (
			id, campaign_id, name, mode, status, position,
			word_list_id, rule_list_id, mask_list_id, mask,
			custom_charset_1, custom_charset_2, custom_charset_3, custom_charset_4,
			increment_mode, increment_minimum, increment_maximum,
			optimized, slow_candidate_generators, workload_profile,
			disable_markov, classic_markov, markov_threshold, complexity_value
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24
		)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		attack.ID,
		attack.CampaignID,
		attack.Name,
		attack.Mode,
		attack.Status,
		attack.Position,
		attack.WordListID,
		attack.RuleListID,
		attack.MaskListID,
		attack.Mask,
		attack.CustomCharset1,
		attack.CustomCharset2,
		attack.CustomCharset3,
		attack.CustomCharset4,
		attack.IncrementMode,
		attack.IncrementMinimum,
		attack.IncrementMaximum,
		attack.Optimized,
		attack.SlowCandidateGenerators,
		attack.WorkloadProfile,
		attack.DisableMarkov,
		attack.ClassicMarkov,
		attack.MarkovThreshold,
		attack.ComplexityValue,
	).Scan(&attack.CreatedAt, &attack.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create attack: %w", err)
	}
	return nil
}

// GetByID retrieves an attack with its resource counts joined in.
func (r *AttackRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Attack, error) {
	query := attackSelect + ` WHERE a.id = $1`
	attack, err := scanAttack(r.db.QueryRowContext(ctx, query, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attack %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get attack %s: %w", id, err)
	}
	return attack, nil
}

// ListByCampaign retrieves a campaign's attacks in position order.
func (r *AttackRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID) ([]*models.Attack, error) {
	query := attackSelect + ` WHERE a.campaign_id = $1 ORDER BY a.position, a.created_at`
	return r.queryAttacks(ctx, query, campaignID)
}

// ListSchedulable retrieves the attacks of a campaign that can still accept
// new work, cheapest keyspace first. Completed, running, exhausted and
// paused attacks are out: running attacks already hold their single task.
func (r *AttackRepository) ListSchedulable(ctx context.Context, campaignID uuid.UUID) ([]*models.Attack, error) {
	query := attackSelect + `
		WHERE a.campaign_id = $1
		  AND a.status NOT IN ('completed', 'running', 'exhausted', 'paused')
		ORDER BY a.complexity_value ASC, a.position ASC
	`
	return r.queryAttacks(ctx, query, campaignID)
}

func (r *AttackRepository) queryAttacks(ctx context.Context, query string, args ...interface{}) ([]*models.Attack, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attacks: %w", err)
	}
	defer rows.Close()

	var attacks []*models.Attack
	for rows.Next() {
		attack, err := scanAttack(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attack row: %w", err)
		}
		attacks = append(attacks, attack)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attack rows: %w", err)
	}
	return attacks, nil
}

// Update rewrites an attack's configuration.
func (r *AttackRepository) Update(ctx context.Context, attack *models.Attack) error {
	query := `
		UPDATE attacks SET
			name = $1, mode = $2, position = $3,
			word_list_id = $4, rule_list_id = $5, mask_list_id = $6, mask = $7,
			custom_charset_1 = $8, custom_charset_2 = $9, custom_charset_3 = $10, custom_charset_4 = $11,
			increment_mode = $12, increment_minimum = $13, increment_maximum = $14,
			optimized = $15, slow_candidate_generators = $16, workload_profile = $17,
			disable_markov = $18, classic_markov = $19, markov_threshold = $20,
			complexity_value = $21, updated_at = NOW()
		WHERE id = $22
	`
	result, err := r.db.ExecContext(ctx, query,
		attack.Name,
		attack.Mode,
		attack.Position,
		attack.WordListID,
		attack.RuleListID,
		attack.MaskListID,
		attack.Mask,
		attack.CustomCharset1,
		attack.CustomCharset2,
		attack.CustomCharset3,
		attack.CustomCharset4,
		attack.IncrementMode,
		attack.IncrementMinimum,
		attack.IncrementMaximum,
		attack.Optimized,
		attack.SlowCandidateGenerators,
		attack.WorkloadProfile,
		attack.DisableMarkov,
		attack.ClassicMarkov,
		attack.MarkovThreshold,
		attack.ComplexityValue,
		attack.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attack %s: %w", attack.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for attack update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("attack %s not found for update: %w", attack.ID, ErrNotFound)
	}
	return nil
}

// UpdateStatus sets an attack's status without a precondition.
func (r *AttackRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AttackStatus) error {
	query := `UPDATE attacks SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update attack %s status: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for attack status update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("attack %s not found for status update: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateStatusFrom sets an attack's status only when it still holds the
// expected current status. Returns false when the precondition lost.
func (r *AttackRepository) UpdateStatusFrom(ctx context.Context, id uuid.UUID, from, to models.AttackStatus) (bool, error) {
	query := `UPDATE attacks SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	result, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition attack %s from %s to %s: %w", id, from, to, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for attack transition: %w", err)
	}
	return rowsAffected > 0, nil
}

// UpdateStatusFromTx is UpdateStatusFrom inside a caller-owned transaction,
// used when the state change must commit atomically with task destruction.
func (r *AttackRepository) UpdateStatusFromTx(tx *sql.Tx, id uuid.UUID, from, to models.AttackStatus) (bool, error) {
	query := `UPDATE attacks SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	result, err := tx.Exec(query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition attack %s from %s to %s: %w", id, from, to, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected for attack transition: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkStarted stamps start_time on first acceptance; later accepts keep the
// original timestamp.
func (r *AttackRepository) MarkStarted(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE attacks SET start_time = NOW(), updated_at = NOW() WHERE id = $1 AND start_time IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark attack %s started: %w", id, err)
	}
	return nil
}

// MarkEnded stamps end_time when the attack reaches a terminal status.
func (r *AttackRepository) MarkEnded(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE attacks SET end_time = NOW(), updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark attack %s ended: %w", id, err)
	}
	return nil
}

// ClearTimes blanks start_time and end_time when a reset returns the attack
// to pending.
func (r *AttackRepository) ClearTimes(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE attacks SET start_time = NULL, end_time = NULL, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear times on attack %s: %w", id, err)
	}
	return nil
}

// UpdateComplexity writes a freshly estimated complexity value.
func (r *AttackRepository) UpdateComplexity(ctx context.Context, id uuid.UUID, complexity float64) error {
	query := `UPDATE attacks SET complexity_value = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, complexity, id)
	if err != nil {
		return fmt.Errorf("failed to update attack %s complexity: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for attack complexity update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("attack %s not found for complexity update: %w", id, ErrNotFound)
	}
	return nil
}

// CountRemainingByCampaign counts the campaign's attacks that have not
// completed. Zero means the campaign is done by exhaustion of its attacks.
func (r *AttackRepository) CountRemainingByCampaign(ctx context.Context, campaignID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM attacks WHERE campaign_id = $1 AND status != 'completed'`
	var count int
	if err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count remaining attacks for campaign %s: %w", campaignID, err)
	}
	return count, nil
}

// SumComplexityByCampaign returns the campaign's total estimated keyspace
// and the portion still ahead of it (attacks not yet completed). Task-level
// progress refines the remaining figure at the estimator.
func (r *AttackRepository) SumComplexityByCampaign(ctx context.Context, campaignID uuid.UUID) (total, remaining float64, err error) {
	query := `
		SELECT COALESCE(SUM(complexity_value), 0),
		       COALESCE(SUM(complexity_value) FILTER (WHERE status != 'completed'), 0)
		FROM attacks
		WHERE campaign_id = $1
	`
	if err := r.db.QueryRowContext(ctx, query, campaignID).Scan(&total, &remaining); err != nil {
		return 0, 0, fmt.Errorf("failed to sum attack complexity for campaign %s: %w", campaignID, err)
	}
	return total, remaining, nil
}

// Delete removes an attack; its tasks cascade.
func (r *AttackRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM attacks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete attack %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for attack deletion: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("attack %s not found for deletion: %w", id, ErrNotFound)
	}
	return nil
}
