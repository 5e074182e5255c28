package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"evcharge/backend/services/charging-controller/internal/models"
)

// ErrAlreadyCompleted is returned by StopSession when the backend reports the
// session as already stopped. The accompanying result may still carry totals.
var ErrAlreadyCompleted = errors.New("charging: session already completed")

// StatusError is a non-success response from the charging backend.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("charging %s: status %d: %s", e.Op, e.Status, e.Body)
}

// ChargingClient talks to the charging backend.
type ChargingClient struct {
	base *BaseClient
}

// NewChargingClient returns client. token, when set, is sent as a bearer token.
func NewChargingClient(baseURL, token string, httpClient HTTPDoer) *ChargingClient {
	var headers map[string]string
	if token != "" {
		headers = map[string]string{"Authorization": "Bearer " + token}
	}
	return &ChargingClient{base: NewBaseClient(baseURL, httpClient, headers)}
}

func sessionPath(sessionID, action string) string {
	return fmt.Sprintf("/charging/sessions/%s/%s", url.PathEscape(sessionID), action)
}

// UpdateEnergy reports the cumulative energy and returns the backend's snapshot.
func (c *ChargingClient) UpdateEnergy(ctx context.Context, sessionID string, energyKWh float64) (*models.SessionSnapshot, error) {
	status, body, err := c.base.DoJSON(ctx, http.MethodPost, sessionPath(sessionID, "energy"), map[string]float64{"energy_kwh": energyKWh}, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &StatusError{Op: "update energy", Status: status, Body: trimBody(body)}
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.ID == "" {
		snap.ID = sessionID
	}
	return &snap, nil
}

type stopPayload struct {
	models.SessionSnapshot
	FinalEnergyKWh *float64 `json:"final_energy_kwh"`
	FinalAmount    *float64 `json:"final_amount"`
	FinalRate      *float64 `json:"final_rate_per_kwh"`
	FinalCurrency  string   `json:"final_currency"`
}

// StopSession ends the session. A 409 answer maps to ErrAlreadyCompleted.
func (c *ChargingClient) StopSession(ctx context.Context, sessionID string) (*models.StopResult, error) {
	status, body, err := c.base.Do(ctx, http.MethodPost, sessionPath(sessionID, "stop"), nil, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 && status != http.StatusConflict {
		return nil, &StatusError{Op: "stop", Status: status, Body: trimBody(body)}
	}

	result := &models.StopResult{Snapshot: models.SessionSnapshot{ID: sessionID}}
	if len(strings.TrimSpace(string(body))) > 0 {
		var payload stopPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			if status == http.StatusConflict {
				return result, ErrAlreadyCompleted
			}
			return nil, fmt.Errorf("decode stop: %w", err)
		}
		result = decodeStop(sessionID, payload)
	}
	if status == http.StatusConflict {
		return result, ErrAlreadyCompleted
	}
	return result, nil
}

func decodeStop(sessionID string, p stopPayload) *models.StopResult {
	res := &models.StopResult{
		Snapshot:   p.SessionSnapshot,
		EnergyKWh:  p.FinalEnergyKWh,
		Amount:     p.FinalAmount,
		RatePerKWh: p.FinalRate,
		Currency:   p.FinalCurrency,
	}
	if res.Snapshot.ID == "" {
		res.Snapshot.ID = sessionID
	}
	// A bare snapshot answer carries its totals in the snapshot fields.
	if res.EnergyKWh == nil && p.EnergyKWh > 0 {
		v := p.EnergyKWh
		res.EnergyKWh = &v
	}
	if res.Amount == nil && p.Amount > 0 {
		v := p.Amount
		res.Amount = &v
	}
	if res.RatePerKWh == nil && p.RatePerKWh > 0 {
		v := p.RatePerKWh
		res.RatePerKWh = &v
	}
	if res.Currency == "" {
		res.Currency = p.Currency
	}
	return res
}

type adjustPayload struct {
	Extended        bool                        `json:"extended"`
	NewEndTime      *time.Time                  `json:"new_end_time"`
	EstimatedAmount *float64                    `json:"estimated_amount"`
	Suggestions     []models.AlternateConnector `json:"suggestions"`
}

// AdjustTarget asks the backend to reach targetSOC and decodes its answer
// into one NegotiationOutcome variant. Transport and decoding failures are
// returned as errors; the caller decides how to degrade.
func (c *ChargingClient) AdjustTarget(ctx context.Context, sessionID string, targetSOC float64) (models.NegotiationOutcome, error) {
	status, body, err := c.base.DoJSON(ctx, http.MethodPost, sessionPath(sessionID, "adjust-target"), map[string]float64{"target_soc": targetSOC}, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &StatusError{Op: "adjust target", Status: status, Body: trimBody(body)}
	}
	var payload adjustPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode adjust target: %w", err)
	}
	return decodeOutcome(payload), nil
}

func decodeOutcome(p adjustPayload) models.NegotiationOutcome {
	var estimate float64
	if p.EstimatedAmount != nil {
		estimate = *p.EstimatedAmount
	}
	switch {
	case p.Extended && p.NewEndTime != nil && !p.NewEndTime.IsZero():
		return models.Extended{NewEndTime: p.NewEndTime.UTC(), EstimatedAmount: estimate}
	case len(p.Suggestions) > 0:
		return models.Suggestions{Connectors: p.Suggestions, EstimatedAmount: estimate}
	case p.Extended:
		return models.NoAction{Reason: "extension without end time"}
	default:
		return models.NoAction{Reason: "no alternatives offered"}
	}
}

// SettlePayment charges an immediate-settlement method.
func (c *ChargingClient) SettlePayment(ctx context.Context, req models.SettlementRequest) error {
	headers := map[string]string{}
	if req.IdempotencyKey != "" {
		headers["Idempotency-Key"] = req.IdempotencyKey
	}
	status, body, err := c.base.DoJSON(ctx, http.MethodPost, "/payments/settle", req, headers)
	if err != nil {
		return err
	}
	if status >= 300 {
		return &StatusError{Op: "settle payment", Status: status, Body: trimBody(body)}
	}
	return nil
}

func trimBody(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
