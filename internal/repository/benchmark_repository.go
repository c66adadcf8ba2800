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

// BenchmarkRepository handles database operations for hashcat benchmarks.
type BenchmarkRepository struct {
	db *db.DB
}

// NewBenchmarkRepository creates a new instance of BenchmarkRepository.
func NewBenchmarkRepository(database *db.DB) *BenchmarkRepository {
	return &BenchmarkRepository{db: database}
}

// Upsert records a benchmark sample. One row exists per
// (agent, date, hash type, device); a re-submission for the same key
// replaces the measurement.
func (r *BenchmarkRepository) Upsert(ctx context.Context, benchmark *models.HashcatBenchmark) error {
	query := `
		INSERT INTO hashcat_benchmarks (agent_id, benchmark_date, hash_type, device, hash_speed, runtime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id, benchmark_date, hash_type, device)
		DO UPDATE SET hash_speed = EXCLUDED.hash_speed, runtime = EXCLUDED.runtime, created_at = NOW()
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		benchmark.AgentID,
		benchmark.BenchmarkDate,
		benchmark.HashType,
		benchmark.Device,
		benchmark.HashSpeed,
		benchmark.Runtime,
	).Scan(&benchmark.ID, &benchmark.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert benchmark for agent %d: %w", benchmark.AgentID, err)
	}
	return nil
}

// ListByAgent retrieves an agent's benchmarks, newest date first.
func (r *BenchmarkRepository) ListByAgent(ctx context.Context, agentID int) ([]models.HashcatBenchmark, error) {
	query := `
		SELECT id, agent_id, benchmark_date, hash_type, device, hash_speed, runtime, created_at
		FROM hashcat_benchmarks
		WHERE agent_id = $1
		ORDER BY benchmark_date DESC, hash_type, device
	`
	rows, err := r.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var benchmarks []models.HashcatBenchmark
	for rows.Next() {
		var b models.HashcatBenchmark
		if err := rows.Scan(
			&b.ID,
			&b.AgentID,
			&b.BenchmarkDate,
			&b.HashType,
			&b.Device,
			&b.HashSpeed,
			&b.Runtime,
			&b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan benchmark row for agent %d: %w", agentID, err)
		}
		benchmarks = append(benchmarks, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating benchmark rows for agent %d: %w", agentID, err)
	}
	return benchmarks, nil
}

// LatestDate returns the agent's most recent benchmark date. ok is false
// when the agent has never benchmarked.
func (r *BenchmarkRepository) LatestDate(ctx context.Context, agentID int) (time.Time, bool, error) {
	query := `SELECT MAX(benchmark_date) FROM hashcat_benchmarks WHERE agent_id = $1`
	var latest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, agentID).Scan(&latest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get latest benchmark date for agent %d: %w", agentID, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

// CapabilityForAgent builds the scheduler's view of what the agent can
// crack: supported hash types and the summed speed across devices, taken
// from the agent's most recent benchmark sweep.
func (r *BenchmarkRepository) CapabilityForAgent(ctx context.Context, agentID int) (*models.AgentCapability, error) {
	query := `
		SELECT hash_type, SUM(hash_speed)
		FROM hashcat_benchmarks
		WHERE agent_id = $1
		  AND benchmark_date = (SELECT MAX(benchmark_date) FROM hashcat_benchmarks WHERE agent_id = $1)
		GROUP BY hash_type
	`
	rows, err := r.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query capability for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	capability := &models.AgentCapability{
		HashTypes:   make(map[int]bool),
		SpeedByType: make(map[int]float64),
	}
	for rows.Next() {
		var hashType int
		var speed float64
		if err := rows.Scan(&hashType, &speed); err != nil {
			return nil, fmt.Errorf("failed to scan capability row for agent %d: %w", agentID, err)
		}
		capability.HashTypes[hashType] = true
		capability.SpeedByType[hashType] = speed
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capability rows for agent %d: %w", agentID, err)
	}
	return capability, nil
}

// SpeedsForHashType returns each agent's summed speed for the hash type,
// using each agent's latest benchmark sweep. The estimator sums these to
// get fleet throughput against a campaign.
func (r *BenchmarkRepository) SpeedsForHashType(ctx context.Context, hashType int) ([]models.AgentSpeed, error) {
	query := `
		SELECT b.agent_id, SUM(b.hash_speed)
		FROM hashcat_benchmarks b
		WHERE b.hash_type = $1
		  AND b.benchmark_date = (
			SELECT MAX(benchmark_date) FROM hashcat_benchmarks WHERE agent_id = b.agent_id
		  )
		GROUP BY b.agent_id
	`
	rows, err := r.db.QueryContext(ctx, query, hashType)
	if err != nil {
		return nil, fmt.Errorf("failed to query speeds for hash type %d: %w", hashType, err)
	}
	defer rows.Close()

	var speeds []models.AgentSpeed
	for rows.Next() {
		var speed models.AgentSpeed
		if err := rows.Scan(&speed.AgentID, &speed.HashSpeed); err != nil {
			return nil, fmt.Errorf("failed to scan speed row for hash type %d: %w", hashType, err)
		}
		speeds = append(speeds, speed)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating speed rows for hash type %d: %w", hashType, err)
	}
	return speeds, nil
}

// ActiveSpeedsForHashType is SpeedsForHashType restricted to agents able to
// receive work right now.
func (r *BenchmarkRepository) ActiveSpeedsForHashType(ctx context.Context, hashType int) ([]models.AgentSpeed, error) {
	query := `
		SELECT b.agent_id, SUM(b.hash_speed)
		FROM hashcat_benchmarks b
		JOIN agents ag ON ag.id = b.agent_id
		WHERE b.hash_type = $1
		  AND ag.status = 'active'
		  AND b.benchmark_date = (
			SELECT MAX(benchmark_date) FROM hashcat_benchmarks WHERE agent_id = b.agent_id
		  )
		GROUP BY b.agent_id
	`
	rows, err := r.db.QueryContext(ctx, query, hashType)
	if err != nil {
		return nil, fmt.Errorf("failed to query active speeds for hash type %d: %w", hashType, err)
	}
	defer rows.Close()

	var speeds []models.AgentSpeed
	for rows.Next() {
		var speed models.AgentSpeed
		if err := rows.Scan(&speed.AgentID, &speed.HashSpeed); err != nil {
			return nil, fmt.Errorf("failed to scan active speed row for hash type %d: %w", hashType, err)
		}
		speeds = append(speeds, speed)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active speed rows for hash type %d: %w", hashType, err)
	}
	return speeds, nil
}

// FastestDeviceForHashType returns the single fastest device row for the
// hash type across every agent's latest benchmark sweep. ok is false when
// nobody has benchmarked the hash type.
func (r *BenchmarkRepository) FastestDeviceForHashType(ctx context.Context, hashType int) (*models.DeviceSpeed, bool, error) {
	query := `
		SELECT b.agent_id, b.device, b.hash_speed
		FROM hashcat_benchmarks b
		WHERE b.hash_type = $1
		  AND b.benchmark_date = (
			SELECT MAX(benchmark_date) FROM hashcat_benchmarks WHERE agent_id = b.agent_id
		  )
		ORDER BY b.hash_speed DESC
		LIMIT 1
	`
	var speed models.DeviceSpeed
	err := r.db.QueryRowContext(ctx, query, hashType).Scan(&speed.AgentID, &speed.Device, &speed.HashSpeed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get fastest device for hash type %d: %w", hashType, err)
	}
	return &speed, true, nil
}

// DeleteOlderThan drops benchmark rows past the retention window.
func (r *BenchmarkRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM hashcat_benchmarks WHERE benchmark_date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete benchmarks before %s: %w", cutoff.Format("2006-01-02"), err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected for benchmark deletion: %w", err)
	}
	if rowsAffected > 0 {
		debug.Info("Deleted %d benchmarks past retention", rowsAffected)
	}
	return rowsAffected, nil
}
