package models

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTaskStatusLegalTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current TaskStatus
		event   TaskEvent
		want    TaskStatus
	}{
		{name: "accept claims pending work", current: TaskStatusPending, event: TaskEventAccept, want: TaskStatusRunning},
		{name: "status report keeps task running", current: TaskStatusRunning, event: TaskEventAcceptStatus, want: TaskStatusRunning},
		{name: "status report starts pending task", current: TaskStatusPending, event: TaskEventAcceptStatus, want: TaskStatusRunning},
		{name: "status report revives failed task", current: TaskStatusFailed, event: TaskEventAcceptStatus, want: TaskStatusRunning},
		{name: "complete from running", current: TaskStatusRunning, event: TaskEventComplete, want: TaskStatusCompleted},
		{name: "complete pending task on cracked list", current: TaskStatusPending, event: TaskEventComplete, want: TaskStatusCompleted},
		{name: "exhaust from running", current: TaskStatusRunning, event: TaskEventExhaust, want: TaskStatusExhausted},
		{name: "pause pending task", current: TaskStatusPending, event: TaskEventPause, want: TaskStatusPaused},
		{name: "pause running task", current: TaskStatusRunning, event: TaskEventPause, want: TaskStatusPaused},
		{name: "resume returns to pending", current: TaskStatusPaused, event: TaskEventResume, want: TaskStatusPending},
		{name: "error from running", current: TaskStatusRunning, event: TaskEventError, want: TaskStatusFailed},
		{name: "cancel pending task", current: TaskStatusPending, event: TaskEventCancel, want: TaskStatusFailed},
		{name: "cancel running task", current: TaskStatusRunning, event: TaskEventCancel, want: TaskStatusFailed},
		{name: "retry failed task", current: TaskStatusFailed, event: TaskEventRetry, want: TaskStatusPending},
		{name: "abandon returns work to pool", current: TaskStatusRunning, event: TaskEventAbandon, want: TaskStatusPending},
		{name: "preempt returns work to pool", current: TaskStatusRunning, event: TaskEventPreempt, want: TaskStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := NextTaskStatus(tt.current, tt.event)
			assert.True(t, ok)
			assert.Equal(t, tt.want, next)
		})
	}
}

func TestNextTaskStatusIllegalPairsNoOp(t *testing.T) {
	tests := []struct {
		name    string
		current TaskStatus
		event   TaskEvent
	}{
		{name: "accept while already running", current: TaskStatusRunning, event: TaskEventAccept},
		{name: "stray status report does not resume paused task", current: TaskStatusPaused, event: TaskEventAcceptStatus},
		{name: "stray status report does not resurrect completed task", current: TaskStatusCompleted, event: TaskEventAcceptStatus},
		{name: "stray status report does not resurrect exhausted task", current: TaskStatusExhausted, event: TaskEventAcceptStatus},
		{name: "resume a task that is not paused", current: TaskStatusRunning, event: TaskEventResume},
		{name: "retry a completed task", current: TaskStatusCompleted, event: TaskEventRetry},
		{name: "exhaust before work started", current: TaskStatusPending, event: TaskEventExhaust},
		{name: "cancel a finished task", current: TaskStatusCompleted, event: TaskEventCancel},
		{name: "preempt idle work", current: TaskStatusPending, event: TaskEventPreempt},
		{name: "abandon idle work", current: TaskStatusPending, event: TaskEventAbandon},
		{name: "error against paused task", current: TaskStatusPaused, event: TaskEventError},
		{name: "unknown event", current: TaskStatusRunning, event: TaskEvent("defrag")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := NextTaskStatus(tt.current, tt.event)
			assert.False(t, ok)
			assert.Equal(t, tt.current, next, "illegal pair must leave status untouched")
		})
	}
}

func TestTaskIncomplete(t *testing.T) {
	incomplete := []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusFailed}
	for _, status := range incomplete {
		assert.True(t, (&Task{Status: status}).Incomplete(), string(status))
	}
	finished := []TaskStatus{TaskStatusPaused, TaskStatusExhausted, TaskStatusCompleted}
	for _, status := range finished {
		assert.False(t, (&Task{Status: status}).Incomplete(), string(status))
	}
}

func TestTaskPreemptable(t *testing.T) {
	tests := []struct {
		name     string
		progress float64
		count    int
		want     bool
	}{
		{name: "fresh task", progress: 0, count: 0, want: true},
		{name: "at the progress cutoff", progress: 90, count: 0, want: true},
		{name: "past the progress cutoff", progress: 90.1, count: 0, want: false},
		{name: "bumped once", progress: 50, count: 1, want: true},
		{name: "bumped twice runs to completion", progress: 50, count: 2, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{ProgressPercentage: tt.progress, PreemptionCount: tt.count}
			assert.Equal(t, tt.want, task.Preemptable())
		})
	}
}

func TestTaskClaimed(t *testing.T) {
	task := &Task{}
	assert.False(t, task.Claimed())
	task.ClaimedByAgentID = sql.NullInt64{Int64: 7, Valid: true}
	assert.True(t, task.Claimed())
}

func TestTaskMarshalJSONNullableFields(t *testing.T) {
	claimedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	task := Task{
		Status:           TaskStatusRunning,
		ClaimedByAgentID: sql.NullInt64{Int64: 3, Valid: true},
		ClaimedAt:        sql.NullTime{Time: claimedAt, Valid: true},
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, float64(3), out["claimed_by_agent_id"])
	assert.NotNil(t, out["claimed_at"])
	assert.Nil(t, out["expires_at"], "unset claim fields must render as null, not zero times")
	assert.Nil(t, out["last_error"])
}
