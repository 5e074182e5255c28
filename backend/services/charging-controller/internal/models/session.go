package models

import "time"

// Session status values reported by the charging backend.
const (
	SessionStatusActive    = "ACTIVE"
	SessionStatusCompleted = "COMPLETED"
)

// Payment methods understood by the settlement flow.
const (
	PaymentMethodWallet     = "WALLET"
	PaymentMethodCashOnSite = "CASH_ON_SITE"
	PaymentMethodCard       = "CARD"
)

// SessionSnapshot is the authoritative state of a charging session as last
// confirmed by the backend.
type SessionSnapshot struct {
	ID            string     `json:"id"`
	StationID     string     `json:"station_id"`
	PillarID      string     `json:"pillar_id,omitempty"`
	ConnectorID   string     `json:"connector_id"`
	VehicleID     string     `json:"vehicle_id"`
	Status        string     `json:"status"`
	EnergyKWh     float64    `json:"energy_kwh"`
	Amount        float64    `json:"amount"`
	RatePerKWh    float64    `json:"rate_per_kwh"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"payment_method"`
	// SOC is the live state of charge when the backend knows it.
	SOC *float64 `json:"soc,omitempty"`
}

// SessionMeta is written once when the session is created, before any
// controller runs.
type SessionMeta struct {
	SessionID     string    `json:"session_id"`
	ReservationID string    `json:"reservation_id"`
	VehicleID     string    `json:"vehicle_id"`
	InitialSOC    *float64  `json:"initial_soc,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StopTrigger names what ended a session.
type StopTrigger string

const (
	StopTriggerBatteryFull StopTrigger = "battery_full"
	StopTriggerDeadline    StopTrigger = "deadline"
	StopTriggerUser        StopTrigger = "user"
)

// SettlementOutcome describes how payment was handed off after stop.
type SettlementOutcome string

const (
	SettlementPaid           SettlementOutcome = "paid"
	SettlementManualRequired SettlementOutcome = "manual_required"
	SettlementDeferred       SettlementOutcome = "deferred"
)

// StopRecord is the final settlement snapshot, written exactly once per session.
type StopRecord struct {
	SessionID     string            `json:"session_id"`
	Snapshot      SessionSnapshot   `json:"snapshot"`
	EnergyKWh     float64           `json:"energy_kwh"`
	Amount        float64           `json:"amount"`
	RatePerKWh    float64           `json:"rate_per_kwh"`
	Currency      string            `json:"currency"`
	PaymentMethod string            `json:"payment_method"`
	Trigger       StopTrigger       `json:"trigger"`
	Settlement    SettlementOutcome `json:"settlement"`
	StoppedAt     time.Time         `json:"stopped_at"`
}

// StopResult is the decoded response of the stop endpoint. Totals are nil
// when the backend did not report them.
type StopResult struct {
	Snapshot   SessionSnapshot
	EnergyKWh  *float64
	Amount     *float64
	RatePerKWh *float64
	Currency   string
}

// SettlementRequest asks the backend to charge an immediate-settlement method.
type SettlementRequest struct {
	SessionID      string  `json:"session_id"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	Method         string  `json:"method"`
	IdempotencyKey string  `json:"idempotency_key"`
}
