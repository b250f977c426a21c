package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// EngineMetrics collects Prometheus instrumentation for the order book
// and trade engines: plan throughput, liquidation counts, book sizes,
// and archive write volume.
type EngineMetrics struct {
	tradesPlanned    *prometheus.CounterVec
	tradePlanErrors  *prometheus.CounterVec
	tradeLatency     *prometheus.HistogramVec

	liquidationsTotal *prometheus.CounterVec
	liquidateFeeSol   prometheus.Counter

	bookSize *prometheus.GaugeVec

	archiveWrites prometheus.Counter

	sweepRemovals prometheus.Counter

	logger *zap.Logger
}

// NewEngineMetrics registers the engine's metric families against
// registry.
func NewEngineMetrics(registry prometheus.Registerer, logger *zap.Logger) *EngineMetrics {
	m := &EngineMetrics{
		tradesPlanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbook_trades_planned_total",
			Help: "Total settlement plans produced, by side (buy, sell, open_long, open_short, close_long, close_short).",
		}, []string{"side"}),
		tradePlanErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbook_trade_plan_errors_total",
			Help: "Total settlement plan failures, by error code.",
		}, []string{"code"}),
		tradeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marginbook_trade_plan_latency_seconds",
			Help:    "Latency of producing a settlement plan.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"side"}),
		liquidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbook_liquidations_total",
			Help: "Total orders liquidated, by trade side.",
		}, []string{"side"}),
		liquidateFeeSol: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marginbook_liquidate_fee_sol_total",
			Help: "Cumulative liquidation fee collected, in lamports.",
		}),
		bookSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marginbook_book_total_orders",
			Help: "Live order count for a (mint, direction) book.",
		}, []string{"mint", "direction"}),
		archiveWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marginbook_archive_writes_total",
			Help: "Total closed-order records written to the archive.",
		}),
		sweepRemovals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marginbook_maintenance_sweep_removals_total",
			Help: "Total orders closed by the expiry maintenance sweep.",
		}),
		logger: logger,
	}

	registry.MustRegister(
		m.tradesPlanned, m.tradePlanErrors, m.tradeLatency,
		m.liquidationsTotal, m.liquidateFeeSol, m.bookSize,
		m.archiveWrites, m.sweepRemovals,
	)
	return m
}

// ObservePlan records a successful plan's latency and liquidation count.
func (m *EngineMetrics) ObservePlan(side string, seconds float64, liquidations int, liquidateFeeSol uint64) {
	m.tradesPlanned.WithLabelValues(side).Inc()
	m.tradeLatency.WithLabelValues(side).Observe(seconds)
	if liquidations > 0 {
		m.liquidationsTotal.WithLabelValues(side).Add(float64(liquidations))
	}
	if liquidateFeeSol > 0 {
		m.liquidateFeeSol.Add(float64(liquidateFeeSol))
	}
}

// ObservePlanError records a failed plan attempt by error code.
func (m *EngineMetrics) ObservePlanError(code string) {
	m.tradePlanErrors.WithLabelValues(code).Inc()
}

// SetBookSize records the current live order count for a book.
func (m *EngineMetrics) SetBookSize(mint, direction string, total int) {
	m.bookSize.WithLabelValues(mint, direction).Set(float64(total))
}

// IncArchiveWrites records a closed-order archive write.
func (m *EngineMetrics) IncArchiveWrites(n int) {
	m.archiveWrites.Add(float64(n))
}

// IncSweepRemovals records orders closed by the maintenance sweep.
func (m *EngineMetrics) IncSweepRemovals(n int) {
	m.sweepRemovals.Add(float64(n))
}
