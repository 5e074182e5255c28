package app

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libdb "evcharge/backend/libs/db"
	libredis "evcharge/backend/libs/redis"
	"evcharge/backend/services/charging-controller/internal/clients"
	"evcharge/backend/services/charging-controller/internal/config"
	"evcharge/backend/services/charging-controller/internal/controller"
	"evcharge/backend/services/charging-controller/internal/events"
	httpserver "evcharge/backend/services/charging-controller/internal/http"
	"evcharge/backend/services/charging-controller/internal/http/handlers"
	"evcharge/backend/services/charging-controller/internal/http/middleware"
	"evcharge/backend/services/charging-controller/internal/http/ws"
	"evcharge/backend/services/charging-controller/internal/metrics"
	"evcharge/backend/services/charging-controller/internal/navguard"
	"evcharge/backend/services/charging-controller/internal/store"
)

const schemaTimeout = 10 * time.Second

// App wires charging-controller dependencies.
type App struct {
	server      *httpserver.Server
	registry    *controller.Registry
	hub         *events.Hub
	db          *sql.DB
	redisClient *redis.Client
	cancel      context.CancelFunc
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	kv, err := a.openStore(cfg)
	if err != nil {
		return nil, err
	}
	snapshots := store.NewSnapshotStore(kv)
	flag := navguard.NewKVFlag(kv)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	backend := clients.NewChargingClient(cfg.Backend.BaseURL, cfg.Backend.Token, clients.NewDefaultHTTPClient(cfg.Backend.Timeout))

	var ctx context.Context
	ctx, a.cancel = context.WithCancel(context.Background())
	a.hub = events.NewHub()
	a.registry, err = controller.NewRegistry(ctx, cfg.Charging, controller.Deps{
		Backend:   backend,
		Snapshots: snapshots,
		Navigator: controller.EventNavigator{Events: a.hub},
		Flag:      flag,
		Events:    a.hub,
		Metrics:   collector,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	guard := navguard.NewGuard(flag, snapshots, cfg.Routes, logger, collector)
	sessions := handlers.NewSessionsHandler(ctx, a.registry, snapshots, flag, ws.NewServer(a.hub, 0, logger), logger)

	var pages http.Handler = http.NotFoundHandler()
	if cfg.HTTP.WebRoot != "" {
		pages = http.FileServer(http.Dir(cfg.HTTP.WebRoot))
	}

	router := httpserver.NewRouter(httpserver.Routes{
		StartSession:  sessions.Start,
		GetSession:    sessions.Get,
		PauseSession:  sessions.Pause,
		ResumeSession: sessions.Resume,
		EndSession:    sessions.End,
		Decide:        sessions.Decide,
		DismissNotice: sessions.DismissNotice,
		Events:        sessions.Events,
		Health:        handlers.NewHealthHandler(),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Pages:         pages,
		Auth:          middleware.AuthMiddleware(cfg.Auth.JWTSecret),
		Guard:         guard.Middleware,
	})
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	ok = true
	return a, nil
}

func (a *App) openStore(cfg *config.Config) (store.KV, error) {
	clientsCfg := store.Clients{Namespace: cfg.Store.Namespace, TTL: cfg.StoreTTL()}
	switch cfg.Store.Backend {
	case store.BackendRedis:
		client, err := libredis.NewRedisClient(libredis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return nil, err
		}
		a.redisClient = client
		clientsCfg.Redis = client
	case store.BackendPostgres:
		sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		a.db = sqlDB
		clientsCfg.Postgres = sqlDB
	}

	kv, err := store.Open(cfg.Store.Backend, clientsCfg)
	if err != nil {
		return nil, err
	}
	if pg, ok := kv.(*store.PostgresKV); ok {
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	a.logger.Info("snapshot store ready", zap.String("backend", cfg.Store.Backend))
	return kv, nil
}

// Run starts HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
