package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/control"
	"github.com/cory-johannsen/relay/internal/frontend/websocket"
	"github.com/cory-johannsen/relay/internal/history"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/relay"
	"github.com/cory-johannsen/relay/internal/relay/delivery"
	"github.com/cory-johannsen/relay/internal/relay/session"
	"github.com/cory-johannsen/relay/internal/storage/postgres"
	"github.com/cory-johannsen/relay/internal/storage/sqlite"
)

// healthTimeout bounds a single store health probe.
const healthTimeout = 2 * time.Second

// HealthCheck probes the history store. It is nil when no external store is configured.
type HealthCheck func(ctx context.Context) error

// storeBundle is the opened history store plus its probe.
type storeBundle struct {
	store  history.Store
	health HealthCheck
}

// app holds the assembled servers.
type app struct {
	acceptor *websocket.Acceptor
	control  *control.Server
	history  *history.Service
	health   HealthCheck
}

func provideMetrics(sessions *session.Registry) *observability.Metrics {
	m := observability.NewMetrics()
	m.TrackPresence(sessions.Counts)
	return m
}

func provideRegistry() *session.Registry {
	return session.NewRegistry()
}

func provideEngine(logger *zap.Logger, metrics *observability.Metrics) *delivery.Engine {
	return delivery.NewEngine(logger, metrics)
}

// provideStore opens the history store named by cfg.History.Driver.
// The returned cleanup releases it.
func provideStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (storeBundle, func(), error) {
	if !cfg.History.Enabled() {
		logger.Info("chat history disabled")
		return storeBundle{}, func() {}, nil
	}

	switch cfg.History.Driver {
	case config.HistoryDriverMemory:
		logger.Info("chat history enabled", zap.String("driver", cfg.History.Driver))
		return storeBundle{store: history.NewMemoryStore()}, func() {}, nil

	case config.HistoryDriverSQLite:
		s, err := sqlite.Open(ctx, cfg.History.SQLitePath)
		if err != nil {
			return storeBundle{}, nil, fmt.Errorf("opening sqlite history: %w", err)
		}
		logger.Info("chat history enabled",
			zap.String("driver", cfg.History.Driver),
			zap.String("path", cfg.History.SQLitePath),
		)
		cleanup := func() {
			if err := s.Close(); err != nil {
				logger.Warn("closing sqlite history", zap.Error(err))
			}
		}
		health := func(ctx context.Context) error { return s.Health(ctx, healthTimeout) }
		return storeBundle{store: s, health: health}, cleanup, nil

	case config.HistoryDriverPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return storeBundle{}, nil, fmt.Errorf("connecting to database: %w", err)
		}
		logger.Info("chat history enabled",
			zap.String("driver", cfg.History.Driver),
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		health := func(ctx context.Context) error { return pool.Health(ctx, healthTimeout) }
		return storeBundle{store: postgres.NewChatRepository(pool.DB()), health: health}, pool.Close, nil

	default:
		return storeBundle{}, nil, fmt.Errorf("unknown history driver %q", cfg.History.Driver)
	}
}

func provideHistory(cfg config.Config, bundle storeBundle, logger *zap.Logger, metrics *observability.Metrics) *history.Service {
	return history.NewService(bundle.store, logger, metrics, cfg.History.WriteTimeout, cfg.History.DefaultLimit)
}

func provideRouter(
	cfg config.Config,
	sessions *session.Registry,
	engine *delivery.Engine,
	hist *history.Service,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *relay.Router {
	return relay.NewRouter(sessions, engine, hist, logger, metrics, cfg.Server.DuplicateAuth)
}

func provideAcceptor(cfg config.Config, router *relay.Router, logger *zap.Logger, metrics *observability.Metrics) *websocket.Acceptor {
	open := func(conn session.Conn) websocket.FrameHandler {
		return router.NewBridge(conn)
	}
	return websocket.NewAcceptor(cfg.WebSocket, open, logger, metrics)
}

func provideControl(
	cfg config.Config,
	router *relay.Router,
	hist *history.Service,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *control.Server {
	return control.NewServer(cfg.Control, control.NewSurface(router, hist, logger), metrics, logger)
}

func provideApp(acceptor *websocket.Acceptor, ctl *control.Server, hist *history.Service, bundle storeBundle) *app {
	return &app{acceptor: acceptor, control: ctl, history: hist, health: bundle.health}
}
