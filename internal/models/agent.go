package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the connectivity state of an agent
type AgentStatus string

const (
	AgentStatusPending AgentStatus = "pending"
	AgentStatusActive  AgentStatus = "active"
	AgentStatusStopped AgentStatus = "stopped"
	AgentStatusError   AgentStatus = "error"
	AgentStatusOffline AgentStatus = "offline"
)

// AgentEvent represents a lifecycle event applied to an agent
type AgentEvent string

const (
	AgentEventActivate          AgentEvent = "activate"
	AgentEventBenchmarked       AgentEvent = "benchmarked"
	AgentEventDeactivate        AgentEvent = "deactivate"
	AgentEventShutdown          AgentEvent = "shutdown"
	AgentEventCheckOnline       AgentEvent = "check_online"
	AgentEventCheckBenchmarkAge AgentEvent = "check_benchmark_age"
	AgentEventHeartbeat         AgentEvent = "heartbeat"
)

// Agent represents a registered worker process
type Agent struct {
	ID             int          `json:"id"`
	Name           string       `json:"name"`
	TokenDigest    string       `json:"-"`
	Status         AgentStatus  `json:"status"`
	Devices        []string     `json:"devices"`
	UpdateInterval int          `json:"update_interval"`
	LastSeenAt     sql.NullTime `json:"last_seen_at"`
	LastIP         sql.NullString `json:"last_ip"`
	OwnerID        uuid.UUID    `json:"owner_id"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`

	// Populated by joins where the caller needs scoping information
	ProjectIDs []int `json:"project_ids,omitempty"`
}

// AgentContext carries the data guards consulted when resolving conditional
// agent transitions.
type AgentContext struct {
	// BenchmarksStale is true when the agent's newest benchmark is older
	// than the configured maximum age (or it has none).
	BenchmarksStale bool
	// SeenRecently is true when last_seen_at is within the offline threshold.
	SeenRecently bool
}

// NextAgentStatus resolves an agent lifecycle event against the current
// status. ok is false when the event does not apply in the current state;
// callers treat that as a no-op, never an error. The error status is
// terminal: no event leads out of or into it here (it is set directly when
// an unrecoverable agent fault is recorded).
func NextAgentStatus(current AgentStatus, event AgentEvent, actx AgentContext) (AgentStatus, bool) {
	if current == AgentStatusError {
		return current, false
	}

	switch event {
	case AgentEventActivate:
		if current == AgentStatusPending || current == AgentStatusActive {
			return AgentStatusActive, true
		}
	case AgentEventBenchmarked:
		if current == AgentStatusPending {
			return AgentStatusActive, true
		}
	case AgentEventDeactivate:
		if current == AgentStatusActive {
			return AgentStatusStopped, true
		}
	case AgentEventShutdown:
		if current != AgentStatusOffline {
			return AgentStatusOffline, true
		}
	case AgentEventCheckOnline:
		if !actx.SeenRecently && current != AgentStatusOffline {
			return AgentStatusOffline, true
		}
	case AgentEventCheckBenchmarkAge:
		if current == AgentStatusActive && actx.BenchmarksStale {
			return AgentStatusPending, true
		}
	case AgentEventHeartbeat:
		if current == AgentStatusOffline {
			if actx.BenchmarksStale {
				return AgentStatusPending, true
			}
			return AgentStatusActive, true
		}
	}
	return current, false
}

// CanReceiveWork reports whether the scheduler may offer this agent a task.
func (a *Agent) CanReceiveWork() bool {
	return a.Status == AgentStatusActive
}

// MarshalJSON converts the sql.Null* fields to plain nullable JSON values
func (a Agent) MarshalJSON() ([]byte, error) {
	type agentJSON struct {
		ID             int         `json:"id"`
		Name           string      `json:"name"`
		Status         AgentStatus `json:"status"`
		Devices        []string    `json:"devices"`
		UpdateInterval int         `json:"update_interval"`
		LastSeenAt     *time.Time  `json:"last_seen_at"`
		LastIP         *string     `json:"last_ip"`
		OwnerID        uuid.UUID   `json:"owner_id"`
		CreatedAt      time.Time   `json:"created_at"`
		UpdatedAt      time.Time   `json:"updated_at"`
		ProjectIDs     []int       `json:"project_ids,omitempty"`
	}

	out := agentJSON{
		ID:             a.ID,
		Name:           a.Name,
		Status:         a.Status,
		Devices:        a.Devices,
		UpdateInterval: a.UpdateInterval,
		OwnerID:        a.OwnerID,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
		ProjectIDs:     a.ProjectIDs,
	}
	if a.LastSeenAt.Valid {
		out.LastSeenAt = &a.LastSeenAt.Time
	}
	if a.LastIP.Valid {
		out.LastIP = &a.LastIP.String
	}
	return json.Marshal(out)
}
