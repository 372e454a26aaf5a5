package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the analytics service.
// Every recorder is safe to call on a nil *Metrics.
type Metrics struct {
	// Ingestion
	TicksIngested prometheus.Counter
	TicksRejected *prometheus.CounterVec
	SymbolsActive prometheus.Gauge

	// Refresh cycle
	RefreshLatencyMs prometheus.Histogram
	DataPoints       prometheus.Gauge

	// Side effects
	TicksFlushed    prometheus.Counter
	AlertsTriggered prometheus.Counter
	Listeners       prometheus.Gauge

	// Errors by component and type
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TicksIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairs_ticks_ingested_total",
			Help: "Total number of ticks accepted into buffers",
		}),

		TicksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pairs_ticks_rejected_total",
			Help: "Total number of ticks rejected at ingestion by reason",
		}, []string{"reason"}),

		SymbolsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pairs_symbols_active",
			Help: "Number of symbols with a tick buffer",
		}),

		RefreshLatencyMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pairs_refresh_latency_ms",
			Help:    "Time to compute and publish an analytics snapshot in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		DataPoints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pairs_snapshot_data_points",
			Help: "Total valid data points behind the current snapshot",
		}),

		TicksFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairs_ticks_flushed_total",
			Help: "Total number of ticks written to persistence",
		}),

		AlertsTriggered: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairs_alerts_triggered_total",
			Help: "Total number of alert trigger events emitted",
		}),

		Listeners: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pairs_broadcast_listeners",
			Help: "Number of attached broadcast listeners",
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pairs_errors_total",
			Help: "Total number of errors by component and type",
		}, []string{"component", "error_type"}),
	}
}

// RecordTickIngested increments the accepted tick counter.
func (m *Metrics) RecordTickIngested() {
	if m == nil {
		return
	}
	m.TicksIngested.Inc()
}

// RecordTickRejected increments the rejected tick counter.
func (m *Metrics) RecordTickRejected(reason string) {
	if m == nil {
		return
	}
	m.TicksRejected.WithLabelValues(reason).Inc()
}

// RecordSymbols sets the number of tracked symbols.
func (m *Metrics) RecordSymbols(n int) {
	if m == nil {
		return
	}
	m.SymbolsActive.Set(float64(n))
}

// RecordRefresh records one refresh cycle.
func (m *Metrics) RecordRefresh(latencyMs float64, dataPoints int) {
	if m == nil {
		return
	}
	m.RefreshLatencyMs.Observe(latencyMs)
	m.DataPoints.Set(float64(dataPoints))
}

// RecordFlushed adds n persisted ticks.
func (m *Metrics) RecordFlushed(n int) {
	if m == nil {
		return
	}
	m.TicksFlushed.Add(float64(n))
}

// RecordAlertTriggered increments the trigger counter.
func (m *Metrics) RecordAlertTriggered() {
	if m == nil {
		return
	}
	m.AlertsTriggered.Inc()
}

// RecordListeners sets the attached listener count.
func (m *Metrics) RecordListeners(n int) {
	if m == nil {
		return
	}
	m.Listeners.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
