package models

import (
	"fmt"
	"time"
)

// HashcatBenchmark is an immutable-per-day throughput sample for one
// (agent, device, hash type) combination. One row may exist per
// (agent, benchmark_date, hash_type, device); re-submissions for the same
// key update the row in place.
type HashcatBenchmark struct {
	ID            int64     `json:"id"`
	AgentID       int       `json:"agent_id"`
	BenchmarkDate time.Time `json:"benchmark_date"`
	HashType      int       `json:"hash_type"`
	Device        int       `json:"device"`
	HashSpeed     float64   `json:"hash_speed"`
	Runtime       int64     `json:"runtime"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate enforces the registry's recording contract.
func (b *HashcatBenchmark) Validate() error {
	if b.HashSpeed <= 0 {
		return fmt.Errorf("benchmark speed must be positive, got %f", b.HashSpeed)
	}
	if b.Runtime <= 0 {
		return fmt.Errorf("benchmark runtime must be positive, got %d", b.Runtime)
	}
	if b.HashType < 0 {
		return fmt.Errorf("hash type cannot be negative, got %d", b.HashType)
	}
	if b.Device < 0 {
		return fmt.Errorf("device cannot be negative, got %d", b.Device)
	}
	return nil
}

// AgentSpeed is an aggregated per-agent throughput for one hash type.
type AgentSpeed struct {
	AgentID   int     `json:"agent_id"`
	HashSpeed float64 `json:"hash_speed"`
}

// DeviceSpeed is a single device's throughput for one hash type.
type DeviceSpeed struct {
	AgentID   int     `json:"agent_id"`
	Device    int     `json:"device"`
	HashSpeed float64 `json:"hash_speed"`
}

// AgentCapability is the scheduler's per-pass view of what an agent can
// crack. Computed once per assignment pass instead of re-queried ad hoc.
type AgentCapability struct {
	HashTypes map[int]bool
	// SpeedByType holds the agent's summed speed per hash type, used for
	// the minimum-performance gate.
	SpeedByType map[int]float64
}

// Supports reports whether the agent has ever benchmarked the hash type.
func (c *AgentCapability) Supports(hashType int) bool {
	return c.HashTypes[hashType]
}

// MeetsThreshold reports whether the agent's summed speed for the hash type
// clears the configured minimum. A zero minimum disables the gate.
func (c *AgentCapability) MeetsThreshold(hashType int, minSpeed float64) bool {
	if minSpeed <= 0 {
		return true
	}
	return c.SpeedByType[hashType] >= minSpeed
}
