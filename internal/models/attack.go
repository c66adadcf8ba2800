package models

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttackMode represents the cracking strategy of an attack
type AttackMode string

const (
	AttackModeDictionary       AttackMode = "dictionary"
	AttackModeMask             AttackMode = "mask"
	AttackModeHybridDictionary AttackMode = "hybrid_dictionary"
	AttackModeHybridMask       AttackMode = "hybrid_mask"
)

// HashcatMode returns the hashcat attack-mode number for wire payloads.
func (m AttackMode) HashcatMode() int {
	switch m {
	case AttackModeDictionary:
		return 0
	case AttackModeMask:
		return 3
	case AttackModeHybridDictionary:
		return 6
	case AttackModeHybridMask:
		return 7
	}
	return -1
}

// AttackStatus represents the lifecycle state of an attack
type AttackStatus string

const (
	AttackStatusPending   AttackStatus = "pending"
	AttackStatusRunning   AttackStatus = "running"
	AttackStatusPaused    AttackStatus = "paused"
	AttackStatusFailed    AttackStatus = "failed"
	AttackStatusExhausted AttackStatus = "exhausted"
	AttackStatusCompleted AttackStatus = "completed"
)

// AttackEvent represents a state machine event applied to an attack
type AttackEvent string

const (
	AttackEventAccept  AttackEvent = "accept"
	AttackEventComplete AttackEvent = "complete"
	AttackEventExhaust AttackEvent = "exhaust"
	AttackEventPause   AttackEvent = "pause"
	AttackEventResume  AttackEvent = "resume"
	AttackEventAbandon AttackEvent = "abandon"
	AttackEventCancel  AttackEvent = "cancel"
	AttackEventReset   AttackEvent = "reset"
)

// attackTransitions is the (event, from) -> to table. complete and exhaust
// carry data guards (sibling task states, hash list uncracked count) that
// the service checks before applying the table; exhaust resolves to
// completed because a fully searched keyspace is only meaningful once
// corroborated against the hash list.
var attackTransitions = map[AttackEvent]map[AttackStatus]AttackStatus{
	AttackEventAccept: {
		AttackStatusPending: AttackStatusRunning,
		AttackStatusRunning: AttackStatusRunning,
		AttackStatusPaused:  AttackStatusRunning,
		AttackStatusFailed:  AttackStatusRunning,
	},
	AttackEventComplete: {
		AttackStatusRunning: AttackStatusCompleted,
		AttackStatusPending: AttackStatusCompleted, // only when the hash list is already cracked
	},
	AttackEventExhaust: {
		AttackStatusRunning: AttackStatusCompleted,
	},
	AttackEventPause: {
		AttackStatusPending: AttackStatusPaused,
		AttackStatusRunning: AttackStatusPaused,
	},
	AttackEventResume: {
		AttackStatusPaused: AttackStatusPending,
	},
	AttackEventAbandon: {
		AttackStatusRunning: AttackStatusPending,
	},
	AttackEventCancel: {
		AttackStatusPending: AttackStatusFailed,
		AttackStatusRunning: AttackStatusFailed,
	},
	AttackEventReset: {
		AttackStatusFailed:    AttackStatusPending,
		AttackStatusCompleted: AttackStatusPending,
		AttackStatusExhausted: AttackStatusPending,
	},
}

// NextAttackStatus resolves event against the current status. ok is false
// for illegal pairs; callers no-op.
func NextAttackStatus(current AttackStatus, event AttackEvent) (AttackStatus, bool) {
	targets, known := attackTransitions[event]
	if !known {
		return current, false
	}
	next, legal := targets[current]
	if !legal {
		return current, false
	}
	return next, true
}

// Incomplete reports whether the scheduler should still consider this
// attack for new work.
func (s AttackStatus) Incomplete() bool {
	switch s {
	case AttackStatusCompleted, AttackStatusRunning, AttackStatusExhausted, AttackStatusPaused:
		return false
	}
	return true
}

// Attack is one cracking strategy inside a campaign.
type Attack struct {
	ID         uuid.UUID    `json:"id"`
	CampaignID uuid.UUID    `json:"campaign_id"`
	Name       string       `json:"name"`
	Mode       AttackMode   `json:"mode"`
	Status     AttackStatus `json:"status"`
	Position   int          `json:"position"`

	WordListID sql.NullString `json:"word_list_id"` // uuid when set
	RuleListID sql.NullString `json:"rule_list_id"`
	MaskListID sql.NullString `json:"mask_list_id"`
	Mask       string         `json:"mask"`

	CustomCharset1 string `json:"custom_charset_1"`
	CustomCharset2 string `json:"custom_charset_2"`
	CustomCharset3 string `json:"custom_charset_3"`
	CustomCharset4 string `json:"custom_charset_4"`

	IncrementMode    bool `json:"increment_mode"`
	IncrementMinimum int  `json:"increment_minimum"`
	IncrementMaximum int  `json:"increment_maximum"`

	Optimized               bool `json:"optimized"`
	SlowCandidateGenerators bool `json:"slow_candidate_generators"`
	WorkloadProfile         int  `json:"workload_profile"`
	DisableMarkov           bool `json:"disable_markov"`
	ClassicMarkov           bool `json:"classic_markov"`
	MarkovThreshold         int  `json:"markov_threshold"`

	ComplexityValue float64      `json:"complexity_value"`
	StartTime       sql.NullTime `json:"start_time"`
	EndTime         sql.NullTime `json:"end_time"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`

	// Populated by joins for scheduling and estimation
	WordListLineCount  int64   `json:"-"`
	RuleListLineCount  int64   `json:"-"`
	MaskListComplexity float64 `json:"-"`
}

// CustomCharsets returns the four custom charset slots in order.
func (a *Attack) CustomCharsets() [4]string {
	return [4]string{a.CustomCharset1, a.CustomCharset2, a.CustomCharset3, a.CustomCharset4}
}

// UsesMask reports whether the attack's mode consumes a mask.
func (a *Attack) UsesMask() bool {
	switch a.Mode {
	case AttackModeMask, AttackModeHybridDictionary, AttackModeHybridMask:
		return true
	}
	return false
}

// UsesWordList reports whether the attack's mode consumes a word list.
func (a *Attack) UsesWordList() bool {
	switch a.Mode {
	case AttackModeDictionary, AttackModeHybridDictionary, AttackModeHybridMask:
		return true
	}
	return false
}

// Validate checks the mode-conditional resource requirements. Misconfigured
// attacks are rejected here, before they can reach the scheduler.
func (a *Attack) Validate() error {
	switch a.Mode {
	case AttackModeDictionary:
		if !a.WordListID.Valid {
			return fmt.Errorf("dictionary attack requires a word list")
		}
		if a.Mask != "" || a.MaskListID.Valid {
			return fmt.Errorf("dictionary attack cannot carry a mask")
		}
	case AttackModeMask:
		if a.Mask == "" && !a.MaskListID.Valid {
			return fmt.Errorf("mask attack requires a mask or a mask list")
		}
		if a.WordListID.Valid {
			return fmt.Errorf("mask attack cannot carry a word list")
		}
	case AttackModeHybridDictionary, AttackModeHybridMask:
		if !a.WordListID.Valid {
			return fmt.Errorf("%s attack requires a word list", a.Mode)
		}
		if a.Mask == "" {
			return fmt.Errorf("%s attack requires a mask", a.Mode)
		}
	default:
		return fmt.Errorf("unknown attack mode %q", a.Mode)
	}

	if a.IncrementMode {
		if !a.UsesMask() {
			return fmt.Errorf("increment mode requires a mask-based attack")
		}
		if a.IncrementMinimum < 0 || a.IncrementMaximum < 0 {
			return fmt.Errorf("increment range cannot be negative")
		}
		if a.IncrementMinimum > a.IncrementMaximum {
			return fmt.Errorf("increment minimum %d exceeds maximum %d", a.IncrementMinimum, a.IncrementMaximum)
		}
	}
	return nil
}
