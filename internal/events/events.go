package events

import (
	"time"

	"dropship-autopilot/internal/types"
)

// Type identifies a lifecycle or outcome event emitted by the autopilot.
type Type string

const (
	TypeStarted          Type = "started"
	TypeStopped          Type = "stopped"
	TypeCycleStarted     Type = "cycle:started"
	TypeCycleCompleted   Type = "cycle:completed"
	TypeCycleFailed      Type = "cycle:failed"
	TypeProductPublished Type = "product:published"
	TypeProductQueued    Type = "product:queued"
	TypeConfigUpdated    Type = "config:updated"
)

// Event is a single fire-and-forget notification. Exactly one payload field
// is set, matching Type.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	Query       string             `json:"query,omitempty"`
	Result      *types.CycleResult `json:"result,omitempty"`
	Message     string             `json:"message,omitempty"`
	Errors      []string           `json:"errors,omitempty"`
	Opportunity *types.Opportunity `json:"opportunity,omitempty"`
	ListingID   string             `json:"listing_id,omitempty"`
	Config      *types.CycleConfig `json:"config,omitempty"`
}
