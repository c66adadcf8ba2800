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
	"github.com/lib/pq"
)

// AgentRepository handles database operations for agents and their project
// memberships.
type AgentRepository struct {
	db *db.DB
}

// NewAgentRepository creates a new instance of AgentRepository.
func NewAgentRepository(database *db.DB) *AgentRepository {
	return &AgentRepository{db: database}
}

const agentColumns = `id, name, token_digest, status, devices, update_interval, last_seen_at, last_ip, owner_id, created_at, updated_at`

func scanAgent(row *sql.Row) (*models.Agent, error) {
	agent := &models.Agent{}
	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.TokenDigest,
		&agent.Status,
		pq.Array(&agent.Devices),
		&agent.UpdateInterval,
		&agent.LastSeenAt,
		&agent.LastIP,
		&agent.OwnerID,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan agent row: %w", err)
	}
	return agent, nil
}

// Create inserts a new agent and fills in the generated ID and timestamps.
func (r *AgentRepository) Create(ctx context.Context, agent *models.Agent) error {
	query := `
		INSERT INTO agents (name, token_digest, status, devices, update_interval, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		agent.Name,
		agent.TokenDigest,
		agent.Status,
		pq.Array(agent.Devices),
		agent.UpdateInterval,
		agent.OwnerID,
	).Scan(&agent.ID, &agent.CreatedAt, &agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	debug.Info("Registered agent %d (%s)", agent.ID, agent.Name)
	return nil
}

// GetByID retrieves an agent by its ID.
func (r *AgentRepository) GetByID(ctx context.Context, id int) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	agent, err := scanAgent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("agent %d not found: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return agent, nil
}

// List retrieves all agents ordered by ID.
func (r *AgentRepository) List(ctx context.Context) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent := &models.Agent{}
		if err := rows.Scan(
			&agent.ID,
			&agent.Name,
			&agent.TokenDigest,
			&agent.Status,
			pq.Array(&agent.Devices),
			&agent.UpdateInterval,
			&agent.LastSeenAt,
			&agent.LastIP,
			&agent.OwnerID,
			&agent.CreatedAt,
			&agent.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent rows: %w", err)
	}
	return agents, nil
}

// UpdateStatus sets an agent's lifecycle status.
func (r *AgentRepository) UpdateStatus(ctx context.Context, id int, status models.AgentStatus) error {
	query := `UPDATE agents SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update agent %d status: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for agent status update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("agent %d not found for status update: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateHeartbeat records contact from an agent: last seen time and source IP.
func (r *AgentRepository) UpdateHeartbeat(ctx context.Context, id int, ip string) error {
	query := `UPDATE agents SET last_seen_at = NOW(), last_ip = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, ip, id)
	if err != nil {
		return fmt.Errorf("failed to update agent %d heartbeat: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for agent heartbeat: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("agent %d not found for heartbeat: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateDevices replaces the agent's advertised device list.
func (r *AgentRepository) UpdateDevices(ctx context.Context, id int, devices []string) error {
	query := `UPDATE agents SET devices = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, pq.Array(devices), id)
	if err != nil {
		return fmt.Errorf("failed to update agent %d devices: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for agent devices update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("agent %d not found for devices update: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateSettings updates the operator-editable agent fields.
func (r *AgentRepository) UpdateSettings(ctx context.Context, id int, name string, updateInterval int) error {
	query := `UPDATE agents SET name = $1, update_interval = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, name, updateInterval, id)
	if err != nil {
		return fmt.Errorf("failed to update agent %d settings: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for agent settings update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("agent %d not found for settings update: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes an agent. Benchmarks and errors cascade; historical tasks
// keep their agent reference and block deletion while they exist.
func (r *AgentRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for agent deletion: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("agent %d not found for deletion: %w", id, ErrNotFound)
	}
	return nil
}

// GetProjectIDs returns the IDs of the projects the agent belongs to.
func (r *AgentRepository) GetProjectIDs(ctx context.Context, agentID int) ([]int, error) {
	query := `SELECT project_id FROM agent_projects WHERE agent_id = $1 ORDER BY project_id`
	rows, err := r.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get project IDs for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var projectIDs []int
	for rows.Next() {
		var projectID int
		if err := rows.Scan(&projectID); err != nil {
			return nil, fmt.Errorf("failed to scan project ID for agent %d: %w", agentID, err)
		}
		projectIDs = append(projectIDs, projectID)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project IDs for agent %d: %w", agentID, err)
	}
	return projectIDs, nil
}

// SetProjects replaces the agent's project memberships in one transaction.
func (r *AgentRepository) SetProjects(ctx context.Context, agentID int, projectIDs []int) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for agent project update: %w", err)
	}
	defer txn.Rollback()

	if _, err := txn.ExecContext(ctx, `DELETE FROM agent_projects WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("failed to clear agent %d project memberships: %w", agentID, err)
	}

	if len(projectIDs) > 0 {
		query := `INSERT INTO agent_projects (agent_id, project_id) VALUES `
		args := make([]interface{}, 0, len(projectIDs)*2)
		for i, projectID := range projectIDs {
			if i > 0 {
				query += ", "
			}
			baseParam := i * 2
			query += fmt.Sprintf("($%d, $%d)", baseParam+1, baseParam+2)
			args = append(args, agentID, projectID)
		}
		query += " ON CONFLICT (agent_id, project_id) DO NOTHING"
		if _, err := txn.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert agent %d project memberships: %w", agentID, err)
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit agent project update: %w", err)
	}
	return nil
}

// ListNotSeenSince returns agents that have not contacted the server since
// the cutoff and are not already offline. Errored agents are excluded; their
// status is terminal.
func (r *AgentRepository) ListNotSeenSince(ctx context.Context, cutoff time.Time) ([]*models.Agent, error) {
	query := `
		SELECT ` + agentColumns + `
		FROM agents
		WHERE (last_seen_at IS NULL OR last_seen_at < $1)
		  AND status NOT IN ('offline', 'error')
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents not seen since %s: %w", cutoff, err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent := &models.Agent{}
		if err := rows.Scan(
			&agent.ID,
			&agent.Name,
			&agent.TokenDigest,
			&agent.Status,
			pq.Array(&agent.Devices),
			&agent.UpdateInterval,
			&agent.LastSeenAt,
			&agent.LastIP,
			&agent.OwnerID,
			&agent.CreatedAt,
			&agent.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stale agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale agent rows: %w", err)
	}
	return agents, nil
}

// ListByStatus retrieves agents in the given status.
func (r *AgentRepository) ListByStatus(ctx context.Context, status models.AgentStatus) ([]*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE status = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents by status %s: %w", status, err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent := &models.Agent{}
		if err := rows.Scan(
			&agent.ID,
			&agent.Name,
			&agent.TokenDigest,
			&agent.Status,
			pq.Array(&agent.Devices),
			&agent.UpdateInterval,
			&agent.LastSeenAt,
			&agent.LastIP,
			&agent.OwnerID,
			&agent.CreatedAt,
			&agent.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		agents = append(agents, agent)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent rows: %w", err)
	}
	return agents, nil
}
