package controller

import (
	"context"

	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/models"
)

const defaultTargetSOC = 1.0

// NegotiationHandler asks the backend what to do when the deadline hits.
type NegotiationHandler struct {
	backend   TargetAdjuster
	targetSOC float64
	logger    *zap.Logger
	metrics   Metrics
}

func newNegotiationHandler(backend TargetAdjuster, targetSOC float64, logger *zap.Logger, metrics Metrics) *NegotiationHandler {
	if targetSOC <= 0 || targetSOC > 1 {
		targetSOC = defaultTargetSOC
	}
	return &NegotiationHandler{backend: backend, targetSOC: targetSOC, logger: logger, metrics: metrics}
}

// Negotiate always returns an outcome. A failed or empty answer becomes
// NoAction so the session is force-stopped.
func (h *NegotiationHandler) Negotiate(ctx context.Context, sessionID string) models.NegotiationOutcome {
	outcome, err := h.backend.AdjustTarget(ctx, sessionID, h.targetSOC)
	if err != nil {
		h.logger.Info("negotiation failed, stopping session", zap.String("session_id", sessionID), zap.Error(err))
		outcome = models.NoAction{Reason: "negotiation failed"}
	}
	if outcome == nil {
		outcome = models.NoAction{Reason: "empty negotiation response"}
	}
	h.metrics.Negotiation(string(outcome.Kind()))
	return outcome
}
