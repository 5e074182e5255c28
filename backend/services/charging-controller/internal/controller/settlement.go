package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/clients"
	"evcharge/backend/services/charging-controller/internal/models"
	"evcharge/backend/services/charging-controller/internal/navguard"
	"evcharge/backend/services/charging-controller/internal/store"
)

const defaultCurrency = "RUB"

// SettlementConfig drives payment hand-off after stop.
type SettlementConfig struct {
	ImmediateMethods []string        `yaml:"immediate_methods" env:"SETTLEMENT_IMMEDIATE_METHODS"`
	ForcedMethod     string          `yaml:"forced_method" env:"SETTLEMENT_FORCED_METHOD"`
	DefaultCurrency  string          `yaml:"default_currency" env:"SETTLEMENT_DEFAULT_CURRENCY"`
	Routes           navguard.Routes `yaml:"-" env:"-"`
}

func (c SettlementConfig) withDefaults() SettlementConfig {
	if len(c.ImmediateMethods) == 0 {
		c.ImmediateMethods = []string{models.PaymentMethodWallet, models.PaymentMethodCashOnSite}
	}
	if strings.TrimSpace(c.ForcedMethod) == "" {
		c.ForcedMethod = models.PaymentMethodCard
	}
	if strings.TrimSpace(c.DefaultCurrency) == "" {
		c.DefaultCurrency = defaultCurrency
	}
	return c
}

func (c SettlementConfig) immediate(method string) bool {
	for _, m := range c.ImmediateMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// SettlementInput is the local state handed over by the stop trigger.
type SettlementInput struct {
	Trigger     models.StopTrigger
	LocalEnergy float64
	Last        *models.SessionSnapshot
}

// SettlementFlow stops a session on the backend, writes the stop record and
// hands the user to payment or receipt. Only one run executes at a time and
// a completed run is returned to every later caller.
type SettlementFlow struct {
	sessionID string
	cfg       SettlementConfig
	backend   interface {
		SessionStopper
		PaymentSettler
	}
	snapshots Snapshots
	navigator Navigator
	flag      navguard.ActiveFlag
	now       func() time.Time
	logger    *zap.Logger
	metrics   Metrics

	mu     sync.Mutex
	result *models.StopRecord
}

// Run executes the flow. It returns ErrStopFailed when the backend did not
// confirm the stop; the caller may retry.
func (f *SettlementFlow) Run(ctx context.Context, in SettlementInput) (*models.StopRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.result != nil {
		rec := *f.result
		return &rec, nil
	}

	rec, err := f.snapshots.LoadStop(ctx, f.sessionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		f.logger.Warn("load stop record failed", zap.String("session_id", f.sessionID), zap.Error(err))
	}
	if rec == nil {
		rec, err = f.stop(ctx, in)
		if err != nil {
			return nil, err
		}
	}

	if rec.Settlement == "" {
		rec.Settlement = f.settle(ctx, rec)
		if err := f.snapshots.UpdateStop(ctx, *rec); err != nil {
			f.logger.Error("persist settlement failed", zap.String("session_id", f.sessionID), zap.Error(err))
		}
	}
	f.metrics.Settlement(string(rec.Settlement))

	f.handOff(ctx, rec)
	f.result = rec
	out := *rec
	return &out, nil
}

func (f *SettlementFlow) stop(ctx context.Context, in SettlementInput) (*models.StopRecord, error) {
	res, err := f.backend.StopSession(ctx, f.sessionID)
	if err != nil && !errors.Is(err, clients.ErrAlreadyCompleted) {
		f.metrics.StopFailed()
		f.logger.Error("stop session failed", zap.String("session_id", f.sessionID), zap.String("trigger", string(in.Trigger)), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStopFailed, err)
	}

	rec := f.reconcile(in, res)
	wrote, err := f.snapshots.SaveStop(ctx, rec)
	if err != nil {
		f.logger.Error("persist stop record failed", zap.String("session_id", f.sessionID), zap.Error(err))
	} else if !wrote {
		if existing, lerr := f.snapshots.LoadStop(ctx, f.sessionID); lerr == nil {
			return existing, nil
		}
	}
	if err := f.snapshots.SaveLast(ctx, rec.Snapshot); err != nil {
		f.logger.Warn("persist final snapshot failed", zap.String("session_id", f.sessionID), zap.Error(err))
	}
	f.logger.Info("session stopped",
		zap.String("session_id", f.sessionID),
		zap.String("trigger", string(in.Trigger)),
		zap.Float64("energy_kwh", rec.EnergyKWh),
		zap.Float64("amount", rec.Amount),
	)
	return &rec, nil
}

// reconcile picks final totals: stop response first, then the speculative
// counter, then the last tick, then zero.
func (f *SettlementFlow) reconcile(in SettlementInput, res *models.StopResult) models.StopRecord {
	var last models.SessionSnapshot
	if in.Last != nil {
		last = *in.Last
	}
	snap := last
	if res != nil {
		snap = mergeSnapshot(res.Snapshot, last)
	}
	if snap.ID == "" {
		snap.ID = f.sessionID
	}

	var server models.StopResult
	if res != nil {
		server = *res
	}

	energy := firstPositive(server.EnergyKWh, positive(in.LocalEnergy), positive(last.EnergyKWh))
	rate := firstPositive(server.RatePerKWh, positive(snap.RatePerKWh), positive(last.RatePerKWh))
	var computed *float64
	if energy > 0 && rate > 0 {
		v := energy * rate
		computed = &v
	}
	amount := firstPositive(server.Amount, computed, positive(last.Amount))
	currency := firstNonEmpty(server.Currency, snap.Currency, last.Currency, f.cfg.DefaultCurrency)

	now := f.now()
	if snap.EndTime == nil {
		snap.EndTime = &now
	}
	snap.Status = models.SessionStatusCompleted
	snap.EnergyKWh = energy
	snap.Amount = amount
	snap.RatePerKWh = rate
	snap.Currency = currency

	return models.StopRecord{
		SessionID:     f.sessionID,
		Snapshot:      snap,
		EnergyKWh:     energy,
		Amount:        amount,
		RatePerKWh:    rate,
		Currency:      currency,
		PaymentMethod: snap.PaymentMethod,
		Trigger:       in.Trigger,
		StoppedAt:     now,
	}
}

func (f *SettlementFlow) settle(ctx context.Context, rec *models.StopRecord) models.SettlementOutcome {
	if !f.cfg.immediate(rec.PaymentMethod) {
		return models.SettlementDeferred
	}
	err := f.backend.SettlePayment(ctx, models.SettlementRequest{
		SessionID:      f.sessionID,
		Amount:         rec.Amount,
		Currency:       rec.Currency,
		Method:         rec.PaymentMethod,
		IdempotencyKey: settlementKey(f.sessionID),
	})
	if err != nil {
		f.logger.Warn("immediate settlement failed, manual payment required",
			zap.String("session_id", f.sessionID),
			zap.String("method", rec.PaymentMethod),
			zap.Error(err),
		)
		return models.SettlementManualRequired
	}
	return models.SettlementPaid
}

func (f *SettlementFlow) handOff(ctx context.Context, rec *models.StopRecord) {
	if rec.Settlement == models.SettlementManualRequired {
		f.navigator.Navigate(ctx, f.sessionID, f.cfg.Routes.PaymentRoute(f.sessionID, rec.Amount, rec.Currency, f.cfg.ForcedMethod))
		return
	}
	if err := f.flag.SetActive(ctx, false); err != nil {
		f.logger.Warn("clear active flag failed", zap.String("session_id", f.sessionID), zap.Error(err))
	}
	f.navigator.Navigate(ctx, f.sessionID, f.cfg.Routes.ReceiptRoute(f.sessionID))
}

// settlementKey is stable per session so a retried settlement is charged once.
func settlementKey(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("charging-settlement:"+sessionID)).String()
}

func mergeSnapshot(primary, fallback models.SessionSnapshot) models.SessionSnapshot {
	out := primary
	out.ID = firstNonEmpty(primary.ID, fallback.ID)
	out.StationID = firstNonEmpty(primary.StationID, fallback.StationID)
	out.PillarID = firstNonEmpty(primary.PillarID, fallback.PillarID)
	out.ConnectorID = firstNonEmpty(primary.ConnectorID, fallback.ConnectorID)
	out.VehicleID = firstNonEmpty(primary.VehicleID, fallback.VehicleID)
	out.PaymentMethod = firstNonEmpty(primary.PaymentMethod, fallback.PaymentMethod)
	out.Currency = firstNonEmpty(primary.Currency, fallback.Currency)
	if out.StartTime.IsZero() {
		out.StartTime = fallback.StartTime
	}
	if out.SOC == nil {
		out.SOC = fallback.SOC
	}
	return out
}

func positive(v float64) *float64 {
	if v > 0 {
		return &v
	}
	return nil
}

func firstPositive(values ...*float64) float64 {
	for _, v := range values {
		if v != nil && *v > 0 {
			return *v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
