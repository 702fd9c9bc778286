//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
)

func initializeApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, func(), error) {
	wire.Build(
		provideRegistry,
		provideMetrics,
		provideEngine,
		provideStore,
		provideHistory,
		provideRouter,
		provideAcceptor,
		provideControl,
		provideApp,
	)
	return nil, nil, nil
}
