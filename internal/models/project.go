package models

import (
	"time"

	"github.com/google/uuid"
)

// Project scopes which campaigns an agent may serve. Agents join zero or
// more projects; the scheduler only offers work from campaigns in the
// agent's projects.
type Project struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User owns agents. Only the identity is modelled here; account policy
// lives outside this system.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// ResourceFile is the shared shape of word list, rule list and mask list
// rows: the estimator only needs line counts (and, for mask lists, the
// precomputed complexity).
type ResourceFile struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	FileName        string    `json:"file_name"`
	LineCount       int64     `json:"line_count"`
	ComplexityValue float64   `json:"complexity_value,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
