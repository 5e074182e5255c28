package models

import "time"

// OutcomeKind labels a NegotiationOutcome variant.
type OutcomeKind string

const (
	OutcomeExtended    OutcomeKind = "extended"
	OutcomeSuggestions OutcomeKind = "suggestions"
	OutcomeNone        OutcomeKind = "none"
)

// NegotiationOutcome is the closed set of answers to an adjust-target request:
// Extended, Suggestions or NoAction. No other type implements it.
type NegotiationOutcome interface {
	Kind() OutcomeKind
	sealed()
}

// Extended means the reservation was prolonged in place.
type Extended struct {
	NewEndTime      time.Time `json:"new_end_time"`
	EstimatedAmount float64   `json:"estimated_amount"`
}

// Suggestions lists same-type connectors that could finish the charge.
type Suggestions struct {
	Connectors      []AlternateConnector `json:"connectors"`
	EstimatedAmount float64              `json:"estimated_amount"`
}

// NoAction means there is nothing to negotiate; the session is force-stopped.
type NoAction struct {
	Reason string `json:"reason,omitempty"`
}

// AlternateConnector is a connector offered by the backend during negotiation.
type AlternateConnector struct {
	StationID     string     `json:"station_id"`
	StationName   string     `json:"station_name,omitempty"`
	PillarID      string     `json:"pillar_id,omitempty"`
	ConnectorID   string     `json:"connector_id"`
	ConnectorCode string     `json:"connector_code,omitempty"`
	ConnectorType string     `json:"connector_type,omitempty"`
	AvailableFrom *time.Time `json:"available_from,omitempty"`
}

func (Extended) Kind() OutcomeKind    { return OutcomeExtended }
func (Suggestions) Kind() OutcomeKind { return OutcomeSuggestions }
func (NoAction) Kind() OutcomeKind    { return OutcomeNone }

func (Extended) sealed()    {}
func (Suggestions) sealed() {}
func (NoAction) sealed()    {}
