// Package controller drives one charging session from start to settlement:
// the simulated meter, the reservation deadline, negotiation and stop.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/events"
	"evcharge/backend/services/charging-controller/internal/models"
	"evcharge/backend/services/charging-controller/internal/navguard"
	"evcharge/backend/services/charging-controller/internal/soc"
	"evcharge/backend/services/charging-controller/internal/store"
)

// Phase is the externally visible state of a session.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseCharging         Phase = "charging"
	PhasePaused           Phase = "paused"
	PhaseAwaitingDecision Phase = "awaiting_decision"
	PhaseStopping         Phase = "stopping"
	PhaseStopFailed       Phase = "stop_failed"
	PhaseCompleted        Phase = "completed"
)

// Decision is the user's answer to a deadline prompt.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionEnd      Decision = "end"
)

// Config tunes every controller of the process.
type Config struct {
	Tick             TickConfig       `yaml:"tick"`
	TargetSOC        float64          `yaml:"target_soc" env:"TARGET_SOC"`
	MaxDeadlineDelay time.Duration    `yaml:"max_deadline_delay" env:"MAX_DEADLINE_DELAY"`
	Settlement       SettlementConfig `yaml:"settlement"`
	// CompletedRetention is how long a registry keeps a completed session
	// attached before detaching it.
	CompletedRetention time.Duration `yaml:"completed_retention" env:"COMPLETED_RETENTION"`
}

// Deps are the collaborators shared by controllers.
type Deps struct {
	Backend   Backend
	Snapshots Snapshots
	Navigator Navigator
	Flag      navguard.ActiveFlag
	Events    events.Publisher
	Metrics   Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

func (d Deps) validate() error {
	switch {
	case d.Backend == nil:
		return errors.New("controller: backend is required")
	case d.Snapshots == nil:
		return errors.New("controller: snapshot store is required")
	case d.Navigator == nil:
		return errors.New("controller: navigator is required")
	case d.Flag == nil:
		return errors.New("controller: active flag is required")
	}
	return nil
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Options identify the session a controller attaches to.
type Options struct {
	SessionID   string
	Reservation *models.ReservationBrief
	Vehicle     *models.VehicleBrief
}

// View is a point-in-time copy of the session state.
type View struct {
	SessionID     string                   `json:"session_id"`
	Phase         Phase                    `json:"phase"`
	Snapshot      *models.SessionSnapshot  `json:"snapshot,omitempty"`
	EnergyKWh     float64                  `json:"energy_kwh"`
	SOC           *float64                 `json:"soc,omitempty"`
	Reservation   *models.ReservationBrief `json:"reservation,omitempty"`
	Decision      *events.DecisionPrompt   `json:"decision,omitempty"`
	Notice        string                   `json:"notice,omitempty"`
	Stop          *models.StopRecord       `json:"stop,omitempty"`
	Ticking       bool                     `json:"ticking"`
	DeadlineArmed bool                     `json:"deadline_armed"`
}

// Controller owns one session. All methods are safe for concurrent use.
type Controller struct {
	id      string
	deps    Deps
	logger  *zap.Logger
	guard   *StopGuard
	engine  *TickEngine
	dog     *Watchdog
	broker  *NegotiationHandler
	settler *SettlementFlow

	mu          sync.Mutex
	phase       Phase
	reservation *models.ReservationBrief
	vehicle     models.VehicleBrief
	decision    *events.DecisionPrompt
	notice      string
	stop        *models.StopRecord
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
	callbacks   sync.WaitGroup

	// completed is set before Start and called once the session is completed.
	completed func()
}

// New builds a controller. It does nothing until Start.
func New(cfg Config, deps Deps, opts Options) (*Controller, error) {
	if opts.SessionID == "" {
		return nil, errors.New("controller: session id is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	logger := deps.Logger.With(zap.String("session_id", opts.SessionID))

	c := &Controller{
		id:     opts.SessionID,
		deps:   deps,
		logger: logger,
		guard:  &StopGuard{},
		phase:  PhaseIdle,
	}
	if opts.Reservation != nil {
		r := *opts.Reservation
		c.reservation = &r
	}
	if opts.Vehicle != nil {
		c.vehicle = *opts.Vehicle
	}

	c.engine = newTickEngine(c.id, cfg.Tick, deps.Backend, deps.Snapshots, c.guard, tickHooks{
		estimate: c.estimate,
		snapshot: c.publishSnapshot,
		full:     c.onBatteryFull,
	}, logger, deps.Metrics)
	c.dog = NewWatchdog(cfg.MaxDeadlineDelay, deps.Now, c.onDeadline)
	c.broker = newNegotiationHandler(deps.Backend, cfg.TargetSOC, logger, deps.Metrics)
	c.settler = &SettlementFlow{
		sessionID: c.id,
		cfg:       cfg.Settlement.withDefaults(),
		backend:   deps.Backend,
		snapshots: deps.Snapshots,
		navigator: deps.Navigator,
		flag:      deps.Flag,
		now:       deps.Now,
		logger:    logger,
		metrics:   deps.Metrics,
	}
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Start hydrates persisted state and begins ticking. ctx bounds the lifetime
// of the session's background work, not just this call.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.phase != PhaseIdle || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("controller: start in phase %s", c.phase)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	rec, err := c.deps.Snapshots.LoadStop(ctx, c.id)
	switch {
	case err == nil:
		c.guard.TryAcquire()
		c.engine.Seed(rec.Snapshot)
		c.mu.Lock()
		c.phase = PhaseCompleted
		c.stop = rec
		c.mu.Unlock()
		c.logger.Info("session already stopped, ticking disabled")
		c.publish(events.Event{Type: events.TypeCompleted, Stop: rec})
		c.notifyCompleted()
		return nil
	case !errors.Is(err, store.ErrNotFound):
		c.logger.Warn("load stop record failed", zap.Error(err))
	}

	c.hydrate(ctx)

	c.mu.Lock()
	c.phase = PhaseCharging
	res := c.reservation
	c.mu.Unlock()

	c.engine.Start(c.ctx)
	if res.HasDeadline() {
		c.dog.Arm(res.EndTime)
	}
	c.logger.Info("charging controller started", zap.Bool("deadline", res.HasDeadline()))
	return nil
}

func (c *Controller) hydrate(ctx context.Context) {
	meta, err := c.deps.Snapshots.LoadMeta(ctx, c.id)
	switch {
	case err == nil:
		c.mu.Lock()
		if c.vehicle.InitialSOC == nil && meta.InitialSOC != nil {
			v := *meta.InitialSOC
			c.vehicle.InitialSOC = &v
		}
		if c.vehicle.ID == "" {
			c.vehicle.ID = meta.VehicleID
		}
		if c.reservation == nil && meta.ReservationID != "" {
			c.reservation = &models.ReservationBrief{ID: meta.ReservationID}
		}
		c.mu.Unlock()
	case !errors.Is(err, store.ErrNotFound):
		c.logger.Warn("load session meta failed", zap.Error(err))
	}

	last, err := c.deps.Snapshots.LoadLast(ctx, c.id)
	switch {
	case err == nil:
		c.engine.Seed(*last)
	case !errors.Is(err, store.ErrNotFound):
		c.logger.Warn("load last snapshot failed", zap.Error(err))
	}
}

// Pause halts ticking. The deadline watchdog keeps running.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.phase != PhaseCharging {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("controller: pause in phase %s", phase)
	}
	c.phase = PhasePaused
	c.mu.Unlock()
	c.engine.Stop()
	return nil
}

// Resume restarts ticking after Pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.phase != PhasePaused {
		phase := c.phase
		c.mu.Unlock()
		return fmt.Errorf("controller: resume in phase %s", phase)
	}
	if c.guard.IsSet() {
		c.mu.Unlock()
		return ErrStopInProgress
	}
	c.phase = PhaseCharging
	ctx := c.ctx
	c.mu.Unlock()
	c.engine.Start(ctx)
	return nil
}

// DismissNotice clears the notice left by a failed stop. The phase is kept,
// so a stop_failed session can still be ended again.
func (c *Controller) DismissNotice() {
	c.mu.Lock()
	had := c.notice != ""
	c.notice = ""
	c.mu.Unlock()
	if had {
		c.publish(events.Event{Type: events.TypeNotice})
	}
}

// Decide answers a deadline prompt.
func (c *Controller) Decide(ctx context.Context, d Decision) error {
	c.mu.Lock()
	prompt := c.decision
	c.mu.Unlock()
	if prompt == nil {
		return ErrInvalidDecision
	}

	switch d {
	case DecisionContinue:
		if !prompt.CanContinue {
			return ErrInvalidDecision
		}
		c.mu.Lock()
		c.decision = nil
		c.mu.Unlock()
		return nil
	case DecisionEnd:
		return c.EndSession(ctx)
	default:
		return ErrInvalidDecision
	}
}

// EndSession stops the session at the user's request. After a failed stop it
// retries the same flow.
func (c *Controller) EndSession(ctx context.Context) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	switch phase {
	case PhaseIdle:
		return ErrNotStarted
	case PhaseCompleted:
		return nil
	case PhaseStopping:
		return ErrStopInProgress
	}

	if c.guard.TryAcquire() {
		c.engine.Stop()
	} else if phase != PhaseAwaitingDecision && phase != PhaseStopFailed {
		return ErrStopInProgress
	}
	c.dog.Disarm()
	return c.finish(ctx, models.StopTriggerUser)
}

// View returns the current state.
func (c *Controller) View() View {
	last := c.engine.Last()
	v := View{
		SessionID:     c.id,
		Snapshot:      last,
		EnergyKWh:     c.engine.Energy(),
		Ticking:       c.engine.Running(),
		DeadlineArmed: c.dog.Armed(),
	}
	if last != nil {
		if value, ok := c.estimate(*last); ok {
			v.SOC = &value
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	v.Phase = c.phase
	v.Notice = c.notice
	if c.reservation != nil {
		r := *c.reservation
		v.Reservation = &r
	}
	if c.decision != nil {
		d := *c.decision
		v.Decision = &d
	}
	if c.stop != nil {
		s := *c.stop
		v.Stop = &s
	}
	return v
}

// Close stops background work and waits for it. The session stays as it is in
// the store; a later controller resumes it.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.dog.Disarm()
	c.engine.Stop()
	if cancel != nil {
		cancel()
	}
	c.engine.Wait()
	c.callbacks.Wait()
}

func (c *Controller) estimate(snap models.SessionSnapshot) (float64, bool) {
	c.mu.Lock()
	vehicle := c.vehicle
	c.mu.Unlock()
	return soc.Estimate(soc.Input{
		Server:     snap.SOC,
		BatteryKWh: vehicle.BatteryKWh,
		InitialSOC: vehicle.InitialSOC,
		EnergyKWh:  snap.EnergyKWh,
	})
}

func (c *Controller) onBatteryFull() {
	c.dog.Disarm()
	c.logger.Info("battery full, stopping session")
	_ = c.finish(c.ctx, models.StopTriggerBatteryFull)
}

func (c *Controller) onDeadline() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.callbacks.Add(1)
	ctx := c.ctx
	c.mu.Unlock()
	defer c.callbacks.Done()

	if !c.guard.TryAcquire() {
		return
	}
	c.engine.Stop()
	c.logger.Info("reservation deadline reached, negotiating")

	outcome := c.broker.Negotiate(ctx, c.id)
	switch o := outcome.(type) {
	case models.Extended:
		c.extend(o)
	case models.Suggestions:
		prompt := &events.DecisionPrompt{
			Outcome:    o.Kind(),
			Estimated:  o.EstimatedAmount,
			Connectors: o.Connectors,
		}
		c.mu.Lock()
		c.phase = PhaseAwaitingDecision
		c.decision = prompt
		c.mu.Unlock()
		c.publish(events.Event{Type: events.TypeDecisionRequired, Decision: prompt})
	case models.NoAction:
		_ = c.finish(ctx, models.StopTriggerDeadline)
	default:
		c.logger.Error("unknown negotiation outcome, stopping session", zap.String("type", fmt.Sprintf("%T", outcome)))
		_ = c.finish(ctx, models.StopTriggerDeadline)
	}
}

func (c *Controller) extend(o models.Extended) {
	end := o.NewEndTime
	prompt := &events.DecisionPrompt{
		Outcome:     o.Kind(),
		NewEndTime:  &end,
		Estimated:   o.EstimatedAmount,
		CanContinue: true,
	}

	c.mu.Lock()
	if c.reservation == nil {
		c.reservation = &models.ReservationBrief{}
	}
	c.reservation.EndTime = end
	estimated := o.EstimatedAmount
	c.reservation.EstimatedAmount = &estimated
	c.decision = prompt
	paused := c.phase == PhasePaused
	if !paused {
		c.phase = PhaseCharging
	}
	ctx := c.ctx
	c.mu.Unlock()

	// The guard is released before arming so an end time already in the past
	// negotiates again instead of being dropped.
	c.guard.Release()
	if !paused {
		c.engine.Start(ctx)
	}
	c.logger.Info("reservation extended", zap.Time("end_time", end))
	c.publish(events.Event{Type: events.TypeDecisionRequired, Decision: prompt})
	c.dog.Arm(end)
}

func (c *Controller) finish(ctx context.Context, trigger models.StopTrigger) error {
	c.mu.Lock()
	c.phase = PhaseStopping
	c.mu.Unlock()
	c.deps.Metrics.Stop(string(trigger))

	rec, err := c.settler.Run(ctx, SettlementInput{
		Trigger:     trigger,
		LocalEnergy: c.engine.Energy(),
		Last:        c.engine.Last(),
	})
	if err != nil {
		const notice = "Could not stop the session. Try again."
		c.mu.Lock()
		c.phase = PhaseStopFailed
		c.notice = notice
		c.mu.Unlock()
		c.publish(events.Event{Type: events.TypeNotice, Notice: notice})
		return err
	}

	c.engine.Seed(rec.Snapshot)
	c.mu.Lock()
	c.phase = PhaseCompleted
	c.stop = rec
	c.decision = nil
	c.notice = ""
	c.mu.Unlock()
	c.publish(events.Event{Type: events.TypeCompleted, Stop: rec})
	c.notifyCompleted()
	return nil
}

func (c *Controller) notifyCompleted() {
	if c.completed != nil {
		c.completed()
	}
}

func (c *Controller) publishSnapshot(snap models.SessionSnapshot, value *float64) {
	c.publish(events.Event{Type: events.TypeSnapshot, Snapshot: &snap, SOC: value})
}

func (c *Controller) publish(e events.Event) {
	e.SessionID = c.id
	e.At = c.deps.Now()
	c.deps.Events.Publish(e)
}
