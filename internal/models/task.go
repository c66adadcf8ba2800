package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusExhausted TaskStatus = "exhausted"
	TaskStatusCompleted TaskStatus = "completed"
)

// TaskEvent represents a state machine event applied to a task
type TaskEvent string

const (
	TaskEventAccept       TaskEvent = "accept"
	TaskEventAcceptStatus TaskEvent = "accept_status"
	TaskEventAcceptCrack  TaskEvent = "accept_crack"
	TaskEventComplete     TaskEvent = "complete"
	TaskEventExhaust      TaskEvent = "exhaust"
	TaskEventPause        TaskEvent = "pause"
	TaskEventResume       TaskEvent = "resume"
	TaskEventError        TaskEvent = "error"
	TaskEventCancel       TaskEvent = "cancel"
	TaskEventRetry        TaskEvent = "retry"
	TaskEventAbandon      TaskEvent = "abandon"
	TaskEventPreempt      TaskEvent = "preempt"
)

// maxPreemptions caps how often a task may be bumped for higher-priority
// work before it must be allowed to finish.
const maxPreemptions = 2

// preemptionProgressCutoff is the progress percentage above which a task is
// too close to done to be worth preempting.
const preemptionProgressCutoff = 90.0

// taskTransitions is the (event, from) -> to table. Pairs absent from the
// table are illegal and no-op at the service layer. Data-dependent guards
// (hash list corroboration, preemption eligibility) sit on top of this
// table, not inside it. accept_status deliberately has no entries for
// paused or the terminal states: a stray heartbeat must not resume a paused
// task nor resurrect a finished one.
var taskTransitions = map[TaskEvent]map[TaskStatus]TaskStatus{
	TaskEventAccept: {
		TaskStatusPending: TaskStatusRunning,
	},
	TaskEventAcceptStatus: {
		TaskStatusPending: TaskStatusRunning,
		TaskStatusRunning: TaskStatusRunning,
		TaskStatusFailed:  TaskStatusRunning,
	},
	TaskEventComplete: {
		TaskStatusRunning: TaskStatusCompleted,
		TaskStatusPending: TaskStatusCompleted, // only when the hash list is already cracked
	},
	TaskEventExhaust: {
		TaskStatusRunning: TaskStatusExhausted,
	},
	TaskEventPause: {
		TaskStatusPending: TaskStatusPaused,
		TaskStatusRunning: TaskStatusPaused,
	},
	TaskEventResume: {
		TaskStatusPaused: TaskStatusPending,
	},
	TaskEventError: {
		TaskStatusRunning: TaskStatusFailed,
	},
	TaskEventCancel: {
		TaskStatusPending: TaskStatusFailed,
		TaskStatusRunning: TaskStatusFailed,
	},
	TaskEventRetry: {
		TaskStatusFailed: TaskStatusPending,
	},
	TaskEventAbandon: {
		TaskStatusRunning: TaskStatusPending,
	},
	TaskEventPreempt: {
		TaskStatusRunning: TaskStatusPending,
	},
}

// NextTaskStatus resolves event against the current status. ok is false for
// illegal pairs; callers no-op rather than error, since heartbeats race
// with state changes in ordinary operation.
func NextTaskStatus(current TaskStatus, event TaskEvent) (TaskStatus, bool) {
	targets, known := taskTransitions[event]
	if !known {
		return current, false
	}
	next, legal := targets[current]
	if !legal {
		return current, false
	}
	return next, true
}

// Task is a claimed, bounded slice of an attack's keyspace assigned to one
// agent. agent_id keeps the historical assignee even after the claim fields
// are cleared by abandon, preempt or agent shutdown.
type Task struct {
	ID                  uuid.UUID    `json:"id"`
	AttackID            uuid.UUID    `json:"attack_id"`
	AgentID             int          `json:"agent_id"`
	Status              TaskStatus   `json:"status"`
	KeyspaceOffset      int64        `json:"keyspace_offset"`
	KeyspaceLimit       int64        `json:"keyspace_limit"`
	RetryCount          int          `json:"retry_count"`
	PreemptionCount     int          `json:"preemption_count"`
	Stale               bool         `json:"stale"`
	ProgressPercentage  float64      `json:"progress_percentage"`
	EstimatedFinishTime sql.NullTime `json:"estimated_finish_time"`
	ClaimedByAgentID    sql.NullInt64 `json:"claimed_by_agent_id"`
	ClaimedAt           sql.NullTime `json:"claimed_at"`
	ExpiresAt           sql.NullTime `json:"expires_at"`
	ActivityTimestamp   sql.NullTime `json:"activity_timestamp"`
	StartDate           time.Time    `json:"start_date"`
	LastError           sql.NullString `json:"last_error"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Incomplete reports whether the task still represents claimable in-flight
// work for its historical agent (the sticky-reassignment set).
func (t *Task) Incomplete() bool {
	switch t.Status {
	case TaskStatusPending, TaskStatusFailed, TaskStatusRunning:
		return true
	}
	return false
}

// Preemptable reports whether the priority controller may bump this task.
// Near-complete work is never preempted, and a task bumped twice runs to
// completion.
func (t *Task) Preemptable() bool {
	if t.ProgressPercentage > preemptionProgressCutoff {
		return false
	}
	if t.PreemptionCount >= maxPreemptions {
		return false
	}
	return true
}

// Claimed reports whether a live claim is attached.
func (t *Task) Claimed() bool {
	return t.ClaimedByAgentID.Valid
}

// MarshalJSON converts the sql.Null* fields to plain nullable JSON values
func (t Task) MarshalJSON() ([]byte, error) {
	type taskJSON struct {
		ID                  uuid.UUID  `json:"id"`
		AttackID            uuid.UUID  `json:"attack_id"`
		AgentID             int        `json:"agent_id"`
		Status              TaskStatus `json:"status"`
		KeyspaceOffset      int64      `json:"keyspace_offset"`
		KeyspaceLimit       int64      `json:"keyspace_limit"`
		RetryCount          int        `json:"retry_count"`
		PreemptionCount     int        `json:"preemption_count"`
		Stale               bool       `json:"stale"`
		ProgressPercentage  float64    `json:"progress_percentage"`
		EstimatedFinishTime *time.Time `json:"estimated_finish_time"`
		ClaimedByAgentID    *int64     `json:"claimed_by_agent_id"`
		ClaimedAt           *time.Time `json:"claimed_at"`
		ExpiresAt           *time.Time `json:"expires_at"`
		ActivityTimestamp   *time.Time `json:"activity_timestamp"`
		StartDate           time.Time  `json:"start_date"`
		LastError           *string    `json:"last_error"`
		CreatedAt           time.Time  `json:"created_at"`
		UpdatedAt           time.Time  `json:"updated_at"`
	}

	out := taskJSON{
		ID:                 t.ID,
		AttackID:           t.AttackID,
		AgentID:            t.AgentID,
		Status:             t.Status,
		KeyspaceOffset:     t.KeyspaceOffset,
		KeyspaceLimit:      t.KeyspaceLimit,
		RetryCount:         t.RetryCount,
		PreemptionCount:    t.PreemptionCount,
		Stale:              t.Stale,
		ProgressPercentage: t.ProgressPercentage,
		StartDate:          t.StartDate,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
	if t.EstimatedFinishTime.Valid {
		out.EstimatedFinishTime = &t.EstimatedFinishTime.Time
	}
	if t.ClaimedByAgentID.Valid {
		out.ClaimedByAgentID = &t.ClaimedByAgentID.Int64
	}
	if t.ClaimedAt.Valid {
		out.ClaimedAt = &t.ClaimedAt.Time
	}
	if t.ExpiresAt.Valid {
		out.ExpiresAt = &t.ExpiresAt.Time
	}
	if t.ActivityTimestamp.Valid {
		out.ActivityTimestamp = &t.ActivityTimestamp.Time
	}
	if t.LastError.Valid {
		out.LastError = &t.LastError.String
	}
	return json.Marshal(out)
}
