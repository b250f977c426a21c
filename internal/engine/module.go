// Package engine wires the margin book's components into a single fx
// application: the embedded store, the order book and archive layers,
// the Postgres parameter store, the background sweeper, the NATS event
// publisher, and the HTTP API.
package engine

import (
	"context"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/curvemargin/marginbook/internal/api"
	"github.com/curvemargin/marginbook/internal/archive"
	"github.com/curvemargin/marginbook/internal/config"
	"github.com/curvemargin/marginbook/internal/events"
	"github.com/curvemargin/marginbook/internal/kvstore"
	"github.com/curvemargin/marginbook/internal/maintenance"
	"github.com/curvemargin/marginbook/internal/metrics"
	"github.com/curvemargin/marginbook/internal/orderbook"
	"github.com/curvemargin/marginbook/internal/params"
)

// Module provides every engine component as an fx constructor. main
// supplies only the logger and config; everything else is derived.
var Module = fx.Options(
	metrics.Module,
	fx.Provide(NewKVStore),
	fx.Provide(orderbook.NewStore),
	fx.Provide(NewArchiveStore),
	fx.Provide(NewParamsStore),
	fx.Provide(NewEventPublisher),
	fx.Provide(NewSweeper),
	fx.Provide(NewHTTPServer),
	fx.Invoke(RunSweeper),
	fx.Invoke(RunHTTPServer),
)

// NewKVStore opens the embedded store at the configured path, closing
// it on shutdown.
func NewKVStore(lifecycle fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*kvstore.Store, error) {
	store, err := kvstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			logger.Info("closing kv store")
			return store.Close()
		},
	})
	return store, nil
}

// NewArchiveStore wraps kv for closed-order history.
func NewArchiveStore(kv *kvstore.Store) (*archive.Store, error) {
	return archive.NewStore(kv)
}

// NewParamsStore connects to the admin/partner parameter database.
func NewParamsStore(cfg *config.Config) (*params.Store, error) {
	return params.Open(cfg.Params.DSN, cfg.Params.SchemaVersion)
}

// NewEventPublisher dials NATS for trade-settled fan-out. A dial
// failure is logged and swallowed: event publishing is best-effort and
// must never keep the engine from serving trades.
func NewEventPublisher(lifecycle fx.Lifecycle, cfg *config.Config, logger *zap.Logger) *events.Publisher {
	pub, err := events.NewPublisher(cfg.Events.NatsURL, cfg.Events.Subject, logger)
	if err != nil {
		logger.Warn("trade-settled event publisher unavailable", zap.Error(err))
		return nil
	}
	lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub
}

// NewSweeper builds the background expiry sweeper over every book found
// in the KV store.
func NewSweeper(kv *kvstore.Store, obStore *orderbook.Store, archStore *archive.Store, cfg *config.Config, logger *zap.Logger) (*maintenance.Sweeper, error) {
	return maintenance.NewSweeper(kv, obStore, archStore, logger, maintenance.Config{
		Interval:      secondsToDuration(cfg.Maintenance.SweepIntervalSeconds),
		RatePerSecond: cfg.Maintenance.SweepRatePerSecond,
		Workers:       cfg.Maintenance.Workers,
	})
}

// RunSweeper starts the sweeper's ticking loop for the life of the app.
func RunSweeper(lifecycle fx.Lifecycle, sweeper *maintenance.Sweeper, logger *zap.Logger) {
	var cancel context.CancelFunc
	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go sweeper.Run(ctx)
			logger.Info("maintenance sweeper started")
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

// NewHTTPServer assembles the gin router behind a plain http.Server.
func NewHTTPServer(cfg *config.Config, books *orderbook.Store, arch *archive.Store, em *metrics.EngineMetrics, publisher *events.Publisher, paramsStore *params.Store, logger *zap.Logger) (*http.Server, error) {
	router, err := api.NewRouter(cfg, books, arch, em, publisher, paramsStore, logger)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:    formatAddr(cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}, nil
}

// RunHTTPServer starts and stops server with the fx lifecycle.
func RunHTTPServer(lifecycle fx.Lifecycle, server *http.Server, logger *zap.Logger) {
	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("starting HTTP API", zap.String("addr", server.Addr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("HTTP API server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping HTTP API")
			return server.Shutdown(ctx)
		},
	})
}
