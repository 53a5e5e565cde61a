package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the storage coordinator
type Metrics struct {
	// Coordinator operations by operation/backend/status
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec

	// Search metrics
	SearchDuration prometheus.Histogram
	SearchResults  prometheus.Histogram

	// Ingest metrics
	UploadSize prometheus.Histogram

	// Backend availability (set by the health aggregator)
	BackendUp *prometheus.GaugeVec

	// Sweep and reconciliation outcomes
	SessionsExpired prometheus.Counter
	OrphansRemoved  *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docman_operations_total",
			Help: "Total coordinator operations by operation, backend and status",
		}, []string{"operation", "backend", "status"}),

		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docman_operation_duration_seconds",
			Help:    "Coordinator operation latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"operation"}),

		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "docman_search_duration_seconds",
			Help:    "Similarity search latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),

		SearchResults: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "docman_search_results",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),

		UploadSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "docman_upload_size_bytes",
			Help:    "Size of ingested documents in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 9), // 1KiB .. 64MiB
		}),

		BackendUp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docman_backend_up",
			Help: "Backend availability: 1 healthy, 0.5 degraded, 0 unreachable",
		}, []string{"backend"}),

		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "docman_sessions_expired_total",
			Help: "Total sessions transitioned to expired by the sweeper",
		}),

		OrphansRemoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "docman_orphans_removed_total",
			Help: "Orphaned physical artifacts removed by reconciliation, by backend",
		}, []string{"backend"}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance (nil until InitMetrics runs)
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordOperation records one coordinator operation outcome
func (m *Metrics) RecordOperation(operation, backend, status string, elapsed time.Duration) {
	m.Operations.WithLabelValues(operation, backend, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveSearch records a search latency and its result count
func (m *Metrics) ObserveSearch(elapsed time.Duration, results int) {
	m.SearchDuration.Observe(elapsed.Seconds())
	m.SearchResults.Observe(float64(results))
}

// ObserveUploadSize records the size of an ingested document
func (m *Metrics) ObserveUploadSize(bytes int) {
	m.UploadSize.Observe(float64(bytes))
}

// SetBackendUp publishes a backend's availability
func (m *Metrics) SetBackendUp(backend string, value float64) {
	m.BackendUp.WithLabelValues(backend).Set(value)
}

// RecordSessionsExpired adds to the expired-session counter
func (m *Metrics) RecordSessionsExpired(count int) {
	m.SessionsExpired.Add(float64(count))
}

// RecordOrphansRemoved adds to the reconciliation orphan counter
func (m *Metrics) RecordOrphansRemoved(backend string, count int) {
	m.OrphansRemoved.WithLabelValues(backend).Add(float64(count))
}
