// Package navguard keeps the user inside the charging flow while a session
// is active. It intercepts navigation; it does not define routes.
package navguard

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"evcharge/backend/services/charging-controller/internal/models"
	"evcharge/backend/services/charging-controller/internal/store"
)

// State of the guard.
type State int

const (
	StateIdle State = iota
	StateGuarding
)

func (s State) String() string {
	if s == StateGuarding {
		return "guarding"
	}
	return "idle"
}

// MetaSource lists persisted session init records.
type MetaSource interface {
	ListMeta(ctx context.Context) ([]models.SessionMeta, error)
	LoadStop(ctx context.Context, sessionID string) (*models.StopRecord, error)
}

// Metrics counts redirects.
type Metrics interface {
	GuardRedirect()
}

// Decision is the result of checking one navigation.
type Decision struct {
	Allowed  bool
	Redirect Route
}

// Guard redirects disallowed navigation back to the charging page.
type Guard struct {
	flag    ActiveFlag
	metas   MetaSource
	routes  Routes
	allowed []string
	logger  *zap.Logger
	metrics Metrics

	mu    sync.Mutex
	state State
}

// NewGuard builds a guard. metrics may be nil.
func NewGuard(flag ActiveFlag, metas MetaSource, routes Routes, logger *zap.Logger, metrics Metrics) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	routes = routes.withDefaults()
	return &Guard{
		flag:    flag,
		metas:   metas,
		routes:  routes,
		allowed: routes.Allowed(),
		logger:  logger,
		metrics: metrics,
	}
}

// State returns the state observed at the last check.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) setState(s State) {
	g.mu.Lock()
	prev := g.state
	g.state = s
	g.mu.Unlock()
	if prev != s {
		g.logger.Debug("navigation guard state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Check decides whether navigation to destination may proceed. Flag read
// failures let navigation through.
func (g *Guard) Check(ctx context.Context, destination string) Decision {
	active, err := g.flag.Active(ctx)
	if err != nil {
		g.logger.Warn("read active session flag", zap.Error(err))
		return Decision{Allowed: true}
	}
	if !active {
		g.setState(StateIdle)
		return Decision{Allowed: true}
	}
	g.setState(StateGuarding)

	if g.isAllowed(destinationPath(destination)) {
		return Decision{Allowed: true}
	}

	redirect := g.chargingRoute(ctx)
	if g.metrics != nil {
		g.metrics.GuardRedirect()
	}
	g.logger.Info("navigation blocked during active session",
		zap.String("destination", destination),
		zap.String("redirect", redirect.String()),
	)
	return Decision{Allowed: false, Redirect: redirect}
}

func (g *Guard) isAllowed(path string) bool {
	for _, p := range g.allowed {
		if path == p || strings.HasPrefix(path, strings.TrimRight(p, "/")+"/") {
			return true
		}
	}
	return false
}

// chargingRoute rebuilds the charging page query from the newest meta record
// whose session has no stop record yet.
func (g *Guard) chargingRoute(ctx context.Context) Route {
	metas, err := g.metas.ListMeta(ctx)
	if err != nil {
		g.logger.Warn("scan session meta records", zap.Error(err))
		return g.routes.ChargingRoute("", "", "")
	}

	var open, newest *models.SessionMeta
	for i := range metas {
		m := &metas[i]
		if newest == nil || !m.CreatedAt.Before(newest.CreatedAt) {
			newest = m
		}
		if _, err := g.metas.LoadStop(ctx, m.SessionID); errors.Is(err, store.ErrNotFound) {
			if open == nil || !m.CreatedAt.Before(open.CreatedAt) {
				open = m
			}
		}
	}

	chosen := open
	if chosen == nil {
		chosen = newest
	}
	if chosen == nil {
		return g.routes.ChargingRoute("", "", "")
	}
	return g.routes.ChargingRoute(chosen.SessionID, chosen.ReservationID, chosen.VehicleID)
}

// Middleware applies the guard to page requests, answering disallowed ones
// with a 303 to the charging page. Requests under the assets prefix pass.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.routes.IsAsset(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		decision := g.Check(r.Context(), r.URL.RequestURI())
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		http.Redirect(w, r, decision.Redirect.String(), http.StatusSeeOther)
	})
}

func destinationPath(destination string) string {
	u, err := url.Parse(destination)
	if err != nil || u.Path == "" {
		if i := strings.IndexAny(destination, "?#"); i >= 0 {
			return destination[:i]
		}
		return destination
	}
	return u.Path
}
