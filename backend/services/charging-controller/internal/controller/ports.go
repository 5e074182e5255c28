package controller

import (
	"context"
	"errors"

	"evcharge/backend/services/charging-controller/internal/models"
	"evcharge/backend/services/charging-controller/internal/navguard"
)

var (
	// ErrStopFailed is the only failure surfaced to the user: the backend did
	// not confirm the stop, so there is nothing to bill against yet.
	ErrStopFailed      = errors.New("controller: stop failed")
	ErrStopInProgress  = errors.New("controller: stop already in progress")
	ErrInvalidDecision = errors.New("controller: no decision pending for this action")
	ErrNotStarted      = errors.New("controller: session not started")
	ErrSessionNotFound = errors.New("controller: session not found")
	ErrSessionExists   = errors.New("controller: session already attached")
)

// EnergyUpdater reports cumulative energy.
type EnergyUpdater interface {
	UpdateEnergy(ctx context.Context, sessionID string, energyKWh float64) (*models.SessionSnapshot, error)
}

// TargetAdjuster negotiates a new target when the deadline is reached.
type TargetAdjuster interface {
	AdjustTarget(ctx context.Context, sessionID string, targetSOC float64) (models.NegotiationOutcome, error)
}

// SessionStopper calls the authoritative stop endpoint.
type SessionStopper interface {
	StopSession(ctx context.Context, sessionID string) (*models.StopResult, error)
}

// PaymentSettler charges immediate-settlement methods.
type PaymentSettler interface {
	SettlePayment(ctx context.Context, req models.SettlementRequest) error
}

// Backend is the full charging API consumed by a controller.
type Backend interface {
	EnergyUpdater
	TargetAdjuster
	SessionStopper
	PaymentSettler
}

// Snapshots is the slice of the snapshot store used by a controller.
type Snapshots interface {
	LoadMeta(ctx context.Context, sessionID string) (*models.SessionMeta, error)
	LoadLast(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	SaveLast(ctx context.Context, snap models.SessionSnapshot) error
	SaveStop(ctx context.Context, rec models.StopRecord) (bool, error)
	UpdateStop(ctx context.Context, rec models.StopRecord) error
	LoadStop(ctx context.Context, sessionID string) (*models.StopRecord, error)
}

// Navigator moves the user to another in-app route.
type Navigator interface {
	Navigate(ctx context.Context, sessionID string, route navguard.Route)
}

// Metrics receives controller activity. *metrics.Collector implements it.
type Metrics interface {
	Tick(ok bool)
	Stop(trigger string)
	StopFailed()
	Negotiation(outcome string)
	Settlement(outcome string)
	SessionAttached(delta int)
}

type nopMetrics struct{}

func (nopMetrics) Tick(bool)           {}
func (nopMetrics) Stop(string)         {}
func (nopMetrics) StopFailed()         {}
func (nopMetrics) Negotiation(string)  {}
func (nopMetrics) Settlement(string)   {}
func (nopMetrics) SessionAttached(int) {}
