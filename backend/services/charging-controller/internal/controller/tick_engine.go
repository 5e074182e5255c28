package controller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/models"
	"evcharge/backend/services/charging-controller/internal/soc"
)

const (
	defaultTickInterval    = time.Second
	defaultEnergyIncrement = 0.45
	defaultFullEpsilon     = 0.001
)

// TickConfig tunes the simulated meter.
type TickConfig struct {
	Interval    time.Duration `yaml:"interval" env:"TICK_INTERVAL"`
	Increment   float64       `yaml:"increment_kwh" env:"TICK_INCREMENT_KWH"`
	FullEpsilon float64       `yaml:"full_epsilon" env:"TICK_FULL_EPSILON"`
}

func (c TickConfig) withDefaults() TickConfig {
	if c.Interval <= 0 {
		c.Interval = defaultTickInterval
	}
	if c.Increment <= 0 {
		c.Increment = defaultEnergyIncrement
	}
	if c.FullEpsilon <= 0 {
		c.FullEpsilon = defaultFullEpsilon
	}
	return c
}

type tickHooks struct {
	estimate func(models.SessionSnapshot) (float64, bool)
	snapshot func(models.SessionSnapshot, *float64)
	full     func()
}

// TickEngine advances the speculative energy counter on every tick and
// reports it to the backend. A tick never waits for the previous request.
type TickEngine struct {
	sessionID string
	cfg       TickConfig
	backend   EnergyUpdater
	snapshots Snapshots
	guard     *StopGuard
	hooks     tickHooks
	logger    *zap.Logger
	metrics   Metrics

	mu       sync.Mutex
	energy   float64
	last     *models.SessionSnapshot
	running  bool
	stopCh   chan struct{}
	loopDone chan struct{}

	inflight sync.WaitGroup
}

func newTickEngine(sessionID string, cfg TickConfig, backend EnergyUpdater, snapshots Snapshots, guard *StopGuard, hooks tickHooks, logger *zap.Logger, metrics Metrics) *TickEngine {
	return &TickEngine{
		sessionID: sessionID,
		cfg:       cfg.withDefaults(),
		backend:   backend,
		snapshots: snapshots,
		guard:     guard,
		hooks:     hooks,
		logger:    logger,
		metrics:   metrics,
	}
}

// Seed sets the authoritative snapshot and the counter baseline.
func (e *TickEngine) Seed(snap models.SessionSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last = &snap
	e.energy = snap.EnergyKWh
}

// Energy returns the current speculative counter.
func (e *TickEngine) Energy() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.energy
}

// Last returns a copy of the last authoritative snapshot, or nil.
func (e *TickEngine) Last() *models.SessionSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	snap := *e.last
	return &snap
}

// Running reports whether the periodic loop is active.
func (e *TickEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start launches the periodic loop. The counter is re-seeded from the last
// authoritative snapshot. It is a no-op when already running or once the stop
// guard is set.
func (e *TickEngine) Start(ctx context.Context) {
	if e.guard.IsSet() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	if e.last != nil {
		e.energy = e.last.EnergyKWh
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.loopDone = make(chan struct{})
	go e.loop(ctx, e.stopCh, e.loopDone)
}

// Stop halts the loop. Requests already in flight keep running; their
// responses are dropped once the stop guard is set.
func (e *TickEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	done := e.loopDone
	e.mu.Unlock()
	<-done
}

// Wait blocks until every in-flight energy update has returned.
func (e *TickEngine) Wait() {
	e.inflight.Wait()
}

// Tick runs one tick synchronously.
func (e *TickEngine) Tick(ctx context.Context) {
	energy, ok := e.advance()
	if !ok {
		return
	}
	e.inflight.Add(1)
	defer e.inflight.Done()
	e.sync(ctx, energy)
}

func (e *TickEngine) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			energy, ok := e.advance()
			if !ok {
				continue
			}
			e.inflight.Add(1)
			go func() {
				defer e.inflight.Done()
				e.sync(ctx, energy)
			}()
		}
	}
}

func (e *TickEngine) advance() (float64, bool) {
	if e.guard.IsSet() {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.energy += e.cfg.Increment
	return e.energy, true
}

func (e *TickEngine) sync(ctx context.Context, energy float64) {
	snap, err := e.backend.UpdateEnergy(ctx, e.sessionID, energy)
	if err != nil {
		e.metrics.Tick(false)
		e.logger.Debug("energy update failed", zap.String("session_id", e.sessionID), zap.Float64("energy_kwh", energy), zap.Error(err))
		return
	}
	e.metrics.Tick(true)

	e.mu.Lock()
	if e.guard.IsSet() {
		e.mu.Unlock()
		return
	}
	e.last = snap
	e.energy = snap.EnergyKWh
	e.mu.Unlock()

	if err := e.snapshots.SaveLast(ctx, *snap); err != nil {
		e.logger.Warn("persist snapshot failed", zap.String("session_id", e.sessionID), zap.Error(err))
	}

	value, known := e.hooks.estimate(*snap)
	var socPtr *float64
	if known {
		socPtr = &value
	}
	if e.hooks.snapshot != nil {
		e.hooks.snapshot(*snap, socPtr)
	}

	if known && soc.Full(value, e.cfg.FullEpsilon) && e.guard.TryAcquire() {
		e.Stop()
		e.hooks.full()
	}
}
