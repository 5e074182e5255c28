package clients

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcharge/backend/services/charging-controller/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *ChargingClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewChargingClient(srv.URL, "svc-token", NewDefaultHTTPClient(time.Second))
}

func TestUpdateEnergy(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/charging/sessions/s-1/energy", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))

		var body map[string]float64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 1.35, body["energy_kwh"], 1e-9)

		_, _ = io.WriteString(w, `{"id":"s-1","status":"ACTIVE","energy_kwh":1.4,"amount":0.56,"rate_per_kwh":0.4,"currency":"EUR"}`)
	})

	snap, err := client.UpdateEnergy(context.Background(), "s-1", 1.35)
	require.NoError(t, err)
	assert.Equal(t, 1.4, snap.EnergyKWh)
	assert.Equal(t, models.SessionStatusActive, snap.Status)
	assert.Nil(t, snap.EndTime)
}

func TestUpdateEnergyNonSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.UpdateEnergy(context.Background(), "s-1", 1)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Status)
}

func TestStopSessionTotals(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charging/sessions/s-1/stop", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"s-1","status":"COMPLETED","energy_kwh":9.5,"amount":3.8,"rate_per_kwh":0.4,"currency":"EUR","final_energy_kwh":10}`)
	})

	res, err := client.StopSession(context.Background(), "s-1")
	require.NoError(t, err)
	require.NotNil(t, res.EnergyKWh)
	assert.Equal(t, 10.0, *res.EnergyKWh)
	require.NotNil(t, res.Amount)
	assert.Equal(t, 3.8, *res.Amount)
	assert.Equal(t, "EUR", res.Currency)
	assert.Equal(t, models.SessionStatusCompleted, res.Snapshot.Status)
}

func TestStopSessionAlreadyCompleted(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":"session already completed"}`)
	})

	res, err := client.StopSession(context.Background(), "s-1")
	assert.True(t, errors.Is(err, ErrAlreadyCompleted))
	require.NotNil(t, res)
	assert.Equal(t, "s-1", res.Snapshot.ID)
	assert.Nil(t, res.EnergyKWh)
}

func TestAdjustTargetDecodesOutcomes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.OutcomeKind
	}{
		{"extended", `{"extended":true,"new_end_time":"2026-03-01T12:00:00Z","estimated_amount":7.5}`, models.OutcomeExtended},
		{"suggestions", `{"extended":false,"suggestions":[{"station_id":"st-2","connector_id":"c-1","connector_type":"CCS2"}],"estimated_amount":6}`, models.OutcomeSuggestions},
		{"extended without time", `{"extended":true}`, models.OutcomeNone},
		{"empty", `{}`, models.OutcomeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]float64
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, 1.0, body["target_soc"])
				_, _ = io.WriteString(w, tt.body)
			})
			outcome, err := client.AdjustTarget(context.Background(), "s-1", 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, outcome.Kind())
		})
	}
}

func TestAdjustTargetExtendedFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"extended":true,"new_end_time":"2026-03-01T12:00:00Z","estimated_amount":7.5}`)
	})
	outcome, err := client.AdjustTarget(context.Background(), "s-1", 1)
	require.NoError(t, err)
	ext, ok := outcome.(models.Extended)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ext.NewEndTime)
	assert.Equal(t, 7.5, ext.EstimatedAmount)
}

func TestSettlePayment(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/payments/settle", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		if calls > 1 {
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	req := models.SettlementRequest{SessionID: "s-1", Amount: 3.2, Method: models.PaymentMethodWallet, IdempotencyKey: "key-1"}
	require.NoError(t, client.SettlePayment(context.Background(), req))
	assert.Error(t, client.SettlePayment(context.Background(), req))
}
