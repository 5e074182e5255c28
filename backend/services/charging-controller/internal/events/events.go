// Package events fans controller events out to per-session subscribers.
package events

import (
	"time"

	"evcharge/backend/services/charging-controller/internal/models"
)

// Type names an event kind.
type Type string

const (
	TypeSnapshot         Type = "snapshot"
	TypeDecisionRequired Type = "decision_required"
	TypeNavigate         Type = "navigate"
	TypeNotice           Type = "notice"
	TypeCompleted        Type = "completed"
)

// DecisionPrompt is shown when a reservation deadline is hit mid-charge.
type DecisionPrompt struct {
	Outcome     models.OutcomeKind          `json:"outcome"`
	NewEndTime  *time.Time                  `json:"new_end_time,omitempty"`
	Estimated   float64                     `json:"estimated_amount"`
	Connectors  []models.AlternateConnector `json:"connectors,omitempty"`
	CanContinue bool                        `json:"can_continue"`
}

// Event is one message for the session view. A notice event with an empty
// Notice clears the notice shown.
type Event struct {
	Type      Type                    `json:"type"`
	SessionID string                  `json:"session_id"`
	At        time.Time               `json:"at"`
	Snapshot  *models.SessionSnapshot `json:"snapshot,omitempty"`
	SOC       *float64                `json:"soc,omitempty"`
	Decision  *DecisionPrompt         `json:"decision,omitempty"`
	Location  string                  `json:"location,omitempty"`
	Notice    string                  `json:"notice,omitempty"`
	Stop      *models.StopRecord      `json:"stop,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}
