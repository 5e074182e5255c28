package controller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCompletedRetention applies when Config.CompletedRetention is unset.
const DefaultCompletedRetention = 5 * time.Minute

// Registry holds the controllers attached in this process, one per session.
// A completed session stays attached for the retention period so late
// requests still see its final view, then it is detached.
type Registry struct {
	cfg       Config
	deps      Deps
	ctx       context.Context
	retention time.Duration

	mu          sync.Mutex
	controllers map[string]*Controller

	timersMu sync.Mutex
	timers   map[string]detachTimer
	closed   bool
	pending  sync.WaitGroup
}

type detachTimer struct {
	timer *time.Timer
	c     *Controller
}

// NewRegistry returns an empty registry. ctx bounds every controller it starts.
func NewRegistry(ctx context.Context, cfg Config, deps Deps) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	retention := cfg.CompletedRetention
	if retention <= 0 {
		retention = DefaultCompletedRetention
	}
	return &Registry{
		cfg:         cfg,
		deps:        deps.withDefaults(),
		ctx:         ctx,
		retention:   retention,
		controllers: make(map[string]*Controller),
		timers:      make(map[string]detachTimer),
	}, nil
}

// Attach starts a controller for the session. A session that is already
// attached returns ErrSessionExists together with the running controller.
func (r *Registry) Attach(opts Options) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.controllers[opts.SessionID]; ok {
		return c, ErrSessionExists
	}

	c, err := New(r.cfg, r.deps, opts)
	if err != nil {
		return nil, err
	}
	c.completed = func() { r.scheduleDetach(opts.SessionID, c) }
	if err := c.Start(r.ctx); err != nil {
		c.Close()
		return nil, err
	}
	r.controllers[opts.SessionID] = c
	r.deps.Metrics.SessionAttached(1)
	return c, nil
}

// Get returns the controller of a session.
func (r *Registry) Get(sessionID string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c, nil
}

// Detach closes and forgets a controller.
func (r *Registry) Detach(sessionID string) error {
	r.mu.Lock()
	c, ok := r.controllers[sessionID]
	delete(r.controllers, sessionID)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	c.Close()
	r.deps.Metrics.SessionAttached(-1)
	r.cancelDetach(sessionID, c)
	return nil
}

func (r *Registry) cancelDetach(sessionID string, c *Controller) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if t, ok := r.timers[sessionID]; ok && t.c == c {
		if t.timer.Stop() {
			r.pending.Done()
		}
		delete(r.timers, sessionID)
	}
}

// Len returns the number of attached controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

func (r *Registry) scheduleDetach(sessionID string, c *Controller) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	if r.closed {
		return
	}
	if prev, ok := r.timers[sessionID]; ok && prev.timer.Stop() {
		r.pending.Done()
	}
	r.pending.Add(1)
	r.timers[sessionID] = detachTimer{c: c, timer: time.AfterFunc(r.retention, func() {
		defer r.pending.Done()
		r.detachCompleted(sessionID, c)
	})}
}

// detachCompleted detaches c unless the session was re-attached meanwhile.
func (r *Registry) detachCompleted(sessionID string, c *Controller) {
	r.timersMu.Lock()
	if t, ok := r.timers[sessionID]; ok && t.c == c {
		delete(r.timers, sessionID)
	}
	r.timersMu.Unlock()

	r.mu.Lock()
	current, ok := r.controllers[sessionID]
	if !ok || current != c {
		r.mu.Unlock()
		return
	}
	delete(r.controllers, sessionID)
	r.mu.Unlock()

	c.Close()
	r.deps.Metrics.SessionAttached(-1)
	r.deps.Logger.Info("completed session detached", zap.String("session_id", sessionID))
}

// Close detaches every controller.
func (r *Registry) Close() {
	r.timersMu.Lock()
	r.closed = true
	for id, t := range r.timers {
		if t.timer.Stop() {
			r.pending.Done()
		}
		delete(r.timers, id)
	}
	r.timersMu.Unlock()
	r.pending.Wait()

	r.mu.Lock()
	all := r.controllers
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	for id, c := range all {
		c.Close()
		r.deps.Metrics.SessionAttached(-1)
		r.deps.Logger.Debug("controller detached", zap.String("session_id", id))
	}
}
