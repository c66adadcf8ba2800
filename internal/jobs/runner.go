// Package jobs provides the background job runner used for fire-and-forget
// work such as attack complexity recomputation and campaign ETA refresh.
// Jobs are at-least-once: handlers must tolerate duplicate delivery.
package jobs

import (
	"context"
	"fmt"
	"sync"
)

// Type identifies a kind of background job.
type Type string

const (
	// TypeRecomputeComplexity recomputes and stores an attack's
	// complexity value. Payload is the attack ID.
	TypeRecomputeComplexity Type = "recompute_complexity"

	// TypeRefreshCampaignETA recomputes a campaign's ETA pair and warms
	// the cache. Payload is the campaign ID.
	TypeRefreshCampaignETA Type = "refresh_campaign_eta"

	// TypeSyncHashListCount reconciles a hash list's cracked counter
	// against its items. Payload is the hash list ID.
	TypeSyncHashListCount Type = "sync_hash_list_count"
)

// Job is one unit of background work.
type Job struct {
	Type    Type   `json:"type"`
	Payload string `json:"payload"`
}

// Handler processes a single job. A returned error triggers redelivery.
type Handler func(ctx context.Context, job Job) error

// Runner enqueues jobs for asynchronous execution.
type Runner interface {
	Enqueue(ctx context.Context, jobType Type, payload string) error
}

// Mux routes jobs to their registered handlers.
type Mux struct {
	mu       sync.RWMutex
	handlers map[Type]Handler
}

// NewMux creates an empty handler mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[Type]Handler)}
}

// Handle registers the handler for a job type, replacing any previous one.
func (m *Mux) Handle(jobType Type, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = h
}

// Dispatch runs the handler registered for the job's type.
func (m *Mux) Dispatch(ctx context.Context, job Job) error {
	m.mu.RLock()
	h, ok := m.handlers[job.Type]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for job type %q", job.Type)
	}
	return h(ctx, job)
}
