package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for log
// ingestion, the forecast poller, and alert publishing.
type Metrics struct {
	LogsIngested   *prometheus.CounterVec // labels: mode={direct,derived,forecast}
	IngestErrors   prometheus.Counter
	IngestDuration prometheus.Histogram

	PollerRunning prometheus.Gauge
	PollerTicks   *prometheus.CounterVec // labels: outcome={applied,dry,upstream_error}
	UpstreamFetch prometheus.Histogram

	AlertsPublished prometheus.Counter
	AlertErrors     prometheus.Counter

	LogsArchived  prometheus.Counter
	ArchiveErrors prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.LogsIngested,
		m.IngestErrors,
		m.IngestDuration,
		m.PollerRunning,
		m.PollerTicks,
		m.UpstreamFetch,
		m.AlertsPublished,
		m.AlertErrors,
		m.LogsArchived,
		m.ArchiveErrors,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// call it repeatedly without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		LogsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hydroforecast",
			Name:      "logs_ingested_total",
			Help:      "Tank log entries appended, by ingestion mode.",
		}, []string{"mode"}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydroforecast",
			Name:      "ingest_errors_total",
			Help:      "Failed tank log ingestion attempts.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hydroforecast",
			Name:      "ingest_duration_seconds",
			Help:      "Duration of the atomic log append plus tank update.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		PollerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hydroforecast",
			Name:      "poller_running",
			Help:      "1 when the forecast poller is active, 0 when shut down.",
		}),
		PollerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hydroforecast",
			Name:      "poller_ticks_total",
			Help:      "Forecast poller ticks by outcome.",
		}, []string{"outcome"}),
		UpstreamFetch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hydroforecast",
			Name:      "upstream_fetch_duration_seconds",
			Help:      "Duration of the upstream precipitation fetch.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		AlertsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydroforecast",
			Name:      "alerts_published_total",
			Help:      "Low-level alerts published to the broker.",
		}),
		AlertErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydroforecast",
			Name:      "alert_errors_total",
			Help:      "Failed alert publish attempts.",
		}),
		LogsArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydroforecast",
			Name:      "logs_archived_total",
			Help:      "Cleared tank logs written to the archive store.",
		}),
		ArchiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hydroforecast",
			Name:      "archive_errors_total",
			Help:      "Failed archive writes for cleared tank logs.",
		}),
	}
}
