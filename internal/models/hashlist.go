package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// HashList is an immutable-once-processed collection of hash items. The
// cracked counter is maintained transactionally with item updates because
// scheduling and ETA logic read it constantly.
type HashList struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ProjectID    int       `json:"project_id"`
	HashType     int       `json:"hash_type"`
	Separator    string    `json:"separator"`
	Processed    bool      `json:"processed"`
	HashCount    int       `json:"hash_count"`
	CrackedCount int       `json:"cracked_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UncrackedCount derives the remaining work on the list.
func (h *HashList) UncrackedCount() int {
	return h.HashCount - h.CrackedCount
}

// FullyCracked reports whether every item on the list has a plain text.
func (h *HashList) FullyCracked() bool {
	return h.HashCount > 0 && h.CrackedCount >= h.HashCount
}

// HashItem is a single hash on a list. plain_text and cracked_time are set
// exactly once; that transition is the terminal signal that propagates
// through task, attack and campaign completion checks.
type HashItem struct {
	ID          int64          `json:"id"`
	HashListID  int64          `json:"hash_list_id"`
	HashValue   string         `json:"hash_value"`
	Salt        string         `json:"salt"`
	PlainText   sql.NullString `json:"plain_text"`
	CrackedTime sql.NullTime   `json:"cracked_time"`
}

// Cracked reports whether the item already has a plain text.
func (i *HashItem) Cracked() bool {
	return i.PlainText.Valid
}

// MarshalJSON converts the sql.Null* fields to plain nullable JSON values
func (i HashItem) MarshalJSON() ([]byte, error) {
	type itemJSON struct {
		ID          int64      `json:"id"`
		HashListID  int64      `json:"hash_list_id"`
		HashValue   string     `json:"hash_value"`
		Salt        string     `json:"salt,omitempty"`
		Cracked     bool       `json:"cracked"`
		PlainText   *string    `json:"plain_text"`
		CrackedTime *time.Time `json:"cracked_time"`
	}

	out := itemJSON{
		ID:         i.ID,
		HashListID: i.HashListID,
		HashValue:  i.HashValue,
		Salt:       i.Salt,
		Cracked:    i.Cracked(),
	}
	if i.PlainText.Valid {
		out.PlainText = &i.PlainText.String
	}
	if i.CrackedTime.Valid {
		out.CrackedTime = &i.CrackedTime.Time
	}
	return json.Marshal(out)
}

// CrackReport is one agent-reported crack result.
type CrackReport struct {
	HashValue string `json:"hash_value"`
	Salt      string `json:"salt"`
	PlainText string `json:"plain_text"`
}
