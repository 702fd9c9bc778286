// Package main provides the relay server binary. It serves client WebSocket
// connections and the HTTP control surface from a single process.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file; empty = defaults and environment only")
	healthInterval := flag.Duration("health-interval", 30*time.Second, "history store health probe interval; 0 disables it")
	stopTimeout := flag.Duration("stop-timeout", server.DefaultStopTimeout, "per-service shutdown timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "relayserver")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("mode", cfg.Server.Mode),
		zap.String("duplicate_auth", cfg.Server.DuplicateAuth),
		zap.String("websocket_addr", cfg.WebSocket.Addr()),
		zap.String("control_addr", cfg.Control.Addr()),
		zap.String("history_driver", cfg.History.Driver),
	)

	ctx := context.Background()
	a, cleanup, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("assembling relay server", zap.Error(err))
	}

	lifecycle := server.NewLifecycle(logger)
	lifecycle.SetStopTimeout(*stopTimeout)
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: a.acceptor.ListenAndServe,
		StopFn:  a.acceptor.Stop,
	})
	lifecycle.Add("control", &server.FuncService{
		StartFn: a.control.ListenAndServe,
		StopFn:  a.control.Stop,
	})
	if a.health != nil && *healthInterval > 0 {
		lifecycle.Add("history-health", &server.PeriodicService{
			Name:     "history",
			Interval: *healthInterval,
			Fn:       a.health,
			Logger:   logger,
		})
	}
	lifecycle.OnShutdown("history-writes", a.history.Wait)
	lifecycle.OnShutdown("history-store", cleanup)

	logger.Info("relay server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Error("relay server exited with error", zap.Error(err))
		logger.Sync()
		log.Fatalf("relay server: %v", err)
	}
}
