// Package broadcast pushes attack and campaign progress snapshots to
// external observers. Delivery is fire-and-forget: a failed or slow
// observer must never fail the state transition the snapshot rode on.
package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event kinds pushed to observers.
const (
	KindAttackProgress   = "attack_progress"
	KindCampaignProgress = "campaign_progress"
	KindCrack            = "crack"
	KindAgentStatus      = "agent_status"
)

// Event is one progress snapshot.
type Event struct {
	Kind       string    `json:"kind"`
	CampaignID uuid.UUID `json:"campaign_id,omitempty"`
	AttackID   uuid.UUID `json:"attack_id,omitempty"`
	TaskID     uuid.UUID `json:"task_id,omitempty"`
	AgentID    int       `json:"agent_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Progress   float64   `json:"progress,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives progress events. Implementations swallow their own
// failures; Publish has no error return on purpose.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// Noop is a Sink that discards everything, for tests and headless runs.
type Noop struct{}

// Publish discards the event.
func (Noop) Publish(ctx context.Context, event Event) {}
