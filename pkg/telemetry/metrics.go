package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Ladle pipeline runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Batch metrics
	batchesProcessed *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec

	// Row metrics
	rowsRead    *prometheus.CounterVec
	rowsWritten *prometheus.CounterVec
	rowsFiltered *prometheus.CounterVec

	// Transform metrics
	transformDuration *prometheus.HistogramVec

	// Connector metrics
	connectorCalls    *prometheus.CounterVec
	connectorDuration *prometheus.HistogramVec
	connectorErrors   *prometheus.CounterVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of pipeline runs started",
			},
			[]string{"recipe"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs completed",
			},
			[]string{"recipe", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"recipe", "status"},
		),

		batchesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_processed_total",
				Help:      "Total number of batches processed",
			},
			[]string{"recipe", "status"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch processing in seconds",
				Buckets:   buckets,
			},
			[]string{"recipe"},
		),

		rowsRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_read_total",
				Help:      "Total number of rows read from sources",
			},
			[]string{"recipe", "source"},
		),
		rowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Total number of rows written to destinations",
			},
			[]string{"recipe", "destination"},
		),
		rowsFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_filtered_total",
				Help:      "Total number of rows dropped by filter transforms",
			},
			[]string{"recipe"},
		),

		transformDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transform_duration_seconds",
				Help:      "Duration of transform step execution in seconds",
				Buckets:   buckets,
			},
			[]string{"recipe", "transform"},
		),

		connectorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connector_calls_total",
				Help:      "Total number of connector operations",
			},
			[]string{"connector", "operation"},
		),
		connectorDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connector_call_duration_seconds",
				Help:      "Duration of connector operations in seconds",
				Buckets:   buckets,
			},
			[]string{"connector", "operation"},
		),
		connectorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connector_errors_total",
				Help:      "Total number of connector errors",
			},
			[]string{"connector", "operation"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active pipeline runs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.batchesProcessed,
		m.batchDuration,
		m.rowsRead,
		m.rowsWritten,
		m.rowsFiltered,
		m.transformDuration,
		m.connectorCalls,
		m.connectorDuration,
		m.connectorErrors,
		m.errorsByCode,
		m.activeRuns,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(recipe string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(recipe).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(recipe, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(recipe, status).Inc()
	m.runDuration.WithLabelValues(recipe, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Batch Metrics

// RecordBatch records the processing of a single batch.
func (m *Metrics) RecordBatch(recipe, status string, duration time.Duration) {
	if m.batchesProcessed == nil {
		return
	}
	m.batchesProcessed.WithLabelValues(recipe, status).Inc()
	m.batchDuration.WithLabelValues(recipe).Observe(duration.Seconds())
}

// Row Metrics

// RecordRowsRead adds to the rows-read counter for a source.
func (m *Metrics) RecordRowsRead(recipe, source string, count int) {
	if m.rowsRead == nil {
		return
	}
	m.rowsRead.WithLabelValues(recipe, source).Add(float64(count))
}

// RecordRowsWritten adds to the rows-written counter for a destination.
func (m *Metrics) RecordRowsWritten(recipe, destination string, count int) {
	if m.rowsWritten == nil {
		return
	}
	m.rowsWritten.WithLabelValues(recipe, destination).Add(float64(count))
}

// RecordRowsFiltered adds to the rows-filtered counter.
func (m *Metrics) RecordRowsFiltered(recipe string, count int) {
	if m.rowsFiltered == nil {
		return
	}
	m.rowsFiltered.WithLabelValues(recipe).Add(float64(count))
}

// Transform Metrics

// RecordTransform records the execution of a transform step.
func (m *Metrics) RecordTransform(recipe, transform string, duration time.Duration) {
	if m.transformDuration == nil {
		return
	}
	m.transformDuration.WithLabelValues(recipe, transform).Observe(duration.Seconds())
}

// Connector Metrics

// RecordConnectorCall records a connector operation with its duration.
func (m *Metrics) RecordConnectorCall(connector, operation string, duration time.Duration) {
	if m.connectorCalls == nil {
		return
	}
	m.connectorCalls.WithLabelValues(connector, operation).Inc()
	m.connectorDuration.WithLabelValues(connector, operation).Observe(duration.Seconds())
}

// RecordConnectorError records a connector error.
func (m *Metrics) RecordConnectorError(connector, operation string) {
	if m.connectorErrors == nil {
		return
	}
	m.connectorErrors.WithLabelValues(connector, operation).Inc()
}

// Error Metrics

// RecordError records an error by its code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
