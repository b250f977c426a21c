package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/curvemargin/marginbook/internal/config"
)

// Module provides the Prometheus registry, the engine metrics, and the
// HTTP handler serving them.
var Module = fx.Options(
	fx.Provide(NewPrometheusRegistry),
	fx.Provide(NewEngineMetricsFromParams),
	fx.Invoke(RegisterMetricsHandler),
)

// NewPrometheusRegistry creates a new Prometheus registry.
func NewPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// MetricsParams is the fx.In parameter object for metric constructors.
type MetricsParams struct {
	fx.In

	Registry *prometheus.Registry
	Logger   *zap.Logger
}

// NewEngineMetricsFromParams is the fx-compatible constructor for
// EngineMetrics.
func NewEngineMetricsFromParams(params MetricsParams) *EngineMetrics {
	return NewEngineMetrics(params.Registry, params.Logger)
}

// RegisterMetricsHandler starts (and stops, on shutdown) the Prometheus
// scrape endpoint as an fx-managed lifecycle hook.
func RegisterMetricsHandler(
	lifecycle fx.Lifecycle,
	registry *prometheus.Registry,
	logger *zap.Logger,
	cfg *config.Config,
) {
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort),
		Handler: handler,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping metrics server")
			return server.Shutdown(ctx)
		},
	})
}
