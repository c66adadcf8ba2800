package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ErrorSeverity classifies an agent-reported failure
type ErrorSeverity string

const (
	SeverityInfo     ErrorSeverity = "info"
	SeverityMinor    ErrorSeverity = "minor"
	SeverityMajor    ErrorSeverity = "major"
	SeverityCritical ErrorSeverity = "critical"
	SeverityFatal    ErrorSeverity = "fatal"
)

// Valid reports whether s is a known severity.
func (s ErrorSeverity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical, SeverityFatal:
		return true
	}
	return false
}

// AgentError is an append-only log entry for an agent-reported failure.
// A fatal severity recorded against a task gates that task out of sticky
// reassignment and retry; it does not fail the task by itself.
type AgentError struct {
	ID        int64           `json:"id"`
	AgentID   int             `json:"agent_id"`
	TaskID    *uuid.UUID      `json:"task_id,omitempty"`
	Severity  ErrorSeverity   `json:"severity"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
