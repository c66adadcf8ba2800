package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CampaignPriority is the scheduling tier of a campaign
type CampaignPriority string

const (
	CampaignPriorityDeferred CampaignPriority = "deferred"
	CampaignPriorityNormal   CampaignPriority = "normal"
	CampaignPriorityHigh     CampaignPriority = "high"
)

// Rank orders priorities for scheduling: higher rank schedules first.
func (p CampaignPriority) Rank() int {
	switch p {
	case CampaignPriorityHigh:
		return 2
	case CampaignPriorityNormal:
		return 1
	case CampaignPriorityDeferred:
		return 0
	}
	return -1
}

// Valid reports whether p is one of the known tiers.
func (p CampaignPriority) Valid() bool {
	return p.Rank() >= 0
}

// Campaign is a unit of cracking work against one hash list. Completion is
// a derived predicate (all attacks completed, or the hash list fully
// cracked), never a stored column.
type Campaign struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	ProjectID  int              `json:"project_id"`
	HashListID int64            `json:"hash_list_id"`
	Priority   CampaignPriority `json:"priority"`
	DeletedAt  sql.NullTime     `json:"deleted_at"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`

	// Populated by joins
	HashListName  string `json:"hash_list_name,omitempty"`
	HashType      int    `json:"hash_type,omitempty"`
	UncrackedCount int   `json:"uncracked_count,omitempty"`
}

// Deleted reports the soft-delete state.
func (c *Campaign) Deleted() bool {
	return c.DeletedAt.Valid
}
