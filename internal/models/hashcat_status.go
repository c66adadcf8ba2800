package models

import (
	"time"

	"github.com/google/uuid"
)

// Hashcat status codes as reported by the tool's machine-readable output.
// Only the codes the coordinator reacts to are named; others pass through
// untouched.
const (
	HashcatStatusInit      = 0
	HashcatStatusAutotune  = 1
	HashcatStatusSelftest  = 2
	HashcatStatusRunning   = 3
	HashcatStatusPaused    = 4
	HashcatStatusExhausted = 5
	HashcatStatusCracked   = 6
	HashcatStatusAborted   = 7
	HashcatStatusQuit      = 8
	HashcatStatusError     = 13
)

// HashcatStatus is one structured progress report for a task, as relayed
// by the agent from the cracking tool. Rows are transient: they are purged
// when the task completes or exhausts.
type HashcatStatus struct {
	ID           int64     `json:"id"`
	TaskID       uuid.UUID `json:"task_id"`
	Session      string    `json:"session"`
	StatusCode   int       `json:"status"`
	TimeReported time.Time `json:"time"`

	ProgressNumerator   int64 `json:"progress_numerator"`
	ProgressDenominator int64 `json:"progress_denominator"`
	RestorePoint        int64 `json:"restore_point"`

	EstimatedStop *time.Time `json:"estimated_stop,omitempty"`

	// Guess-base/guess-mod offsets give dictionary-with-rules progress
	// granularity beyond the raw keyspace pair.
	GuessBase           string  `json:"guess_base"`
	GuessBaseCount      int64   `json:"guess_base_count"`
	GuessBaseOffset     int64   `json:"guess_base_offset"`
	GuessBasePercentage float64 `json:"guess_base_percentage"`
	GuessMod            string  `json:"guess_mod"`
	GuessModCount       int64   `json:"guess_mod_count"`
	GuessModOffset      int64   `json:"guess_mod_offset"`
	GuessModPercentage  float64 `json:"guess_mod_percentage"`

	Devices []DeviceStatus `json:"device_statuses,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ProgressPercentage converts the reported (numerator, denominator) pair
// into a percentage; zero denominator yields zero.
func (s *HashcatStatus) ProgressPercentage() float64 {
	if s.ProgressDenominator <= 0 {
		return 0
	}
	pct := float64(s.ProgressNumerator) / float64(s.ProgressDenominator) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// DeviceStatus is per-device telemetry inside a status report.
type DeviceStatus struct {
	ID              int64  `json:"id"`
	HashcatStatusID int64  `json:"hashcat_status_id"`
	DeviceID        int    `json:"device_id"`
	DeviceName      string `json:"device_name"`
	DeviceType      string `json:"device_type"`
	Speed           int64  `json:"speed"`
	Utilization     int    `json:"utilization"`
	Temperature     int    `json:"temperature"`
}
