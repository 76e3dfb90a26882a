//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/driftsync/driftsync/internal/core/engine"
	"github.com/driftsync/driftsync/internal/core/events/bus"
	"github.com/driftsync/driftsync/internal/core/observability/log"
	"github.com/driftsync/driftsync/internal/core/store"
)

func ProvideLogger() *log.Logger {
	wire.Build(log.Provide)
	return log.New(log.LevelInfo)
}

// ProvideEngine wires an engine from its config: the configured store
// backend, an in-memory event bus and the default logger.
func ProvideEngine(cfg engine.Config) (*engine.Engine, error) {
	wire.Build(
		log.Provide,
		wire.Bind(new(log.Log), new(*log.Logger)),
		bus.New,
		provideStore,
		engine.New,
	)
	return nil, nil
}

func provideStore(cfg engine.Config) (store.Store, error) {
	return cfg.BuildStore()
}
