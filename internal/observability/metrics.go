// Package observability provides Prometheus instrumentation and the
// correlation ids that stitch one request's log lines across services.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the platform emits. One instance is
// created at wire-up and shared by all components; it carries its own
// registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	SamplesIngested *prometheus.CounterVec // by source
	IngestErrors    *prometheus.CounterVec // by feed

	// Scheduling
	StrategiesEnqueued prometheus.Counter
	SchedulerTicks     prometheus.Counter

	// Evaluation
	EvaluationsTotal *prometheus.CounterVec // by outcome
	DispatchRetries  prometheus.Counter

	// Execution
	ExecutionsTotal   *prometheus.CounterVec // by status
	ExecutionDuration prometheus.Histogram
	OracleChecks      *prometheus.CounterVec // by result
	LockContention    prometheus.Counter
	BreakerOpen       prometheus.Gauge

	// Queue
	QueueJobsProcessed *prometheus.CounterVec // by queue, result
	QueueDepth         *prometheus.GaugeVec   // by queue, state

	// HTTP
	HTTPRequestDuration *prometheus.HistogramVec // by route, status

	// Supplements
	NotificationsSent *prometheus.CounterVec // by channel, result
	ArchiveRuns       *prometheus.CounterVec // by dataset, status
	RowsArchived      *prometheus.CounterVec // by dataset
}

// NewMetrics registers all metrics on a fresh registry under the namespace
// (default "copil") and returns the instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "copil"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		SamplesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "samples_total",
			Help:      "Price samples persisted, by source",
		}, []string{"source"}),
		IngestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "errors_total",
			Help:      "Feed pulls that failed, by feed",
		}, []string{"feed"}),

		StrategiesEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "strategies_enqueued_total",
			Help:      "Evaluation jobs handed to the broker",
		}),
		SchedulerTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler poll ticks completed",
		}),

		EvaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "evaluations_total",
			Help:      "Strategy evaluations, by outcome",
		}, []string{"outcome"}),
		DispatchRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "evaluator",
			Name:      "dispatch_retries_total",
			Help:      "Executor dispatch attempts beyond the first",
		}),

		ExecutionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Execution requests, by final status",
		}, []string{"status"}),
		ExecutionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "duration_seconds",
			Help:      "End-to-end execution latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		OracleChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "checks_total",
			Help:      "Oracle consensus rounds, by result",
		}, []string{"result"}),
		LockContention: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "lock_contention_total",
			Help:      "Session-key lock acquisitions that had to wait or give up",
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "breaker_open",
			Help:      "1 while the signer circuit breaker is open",
		}),

		QueueJobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Jobs finished by workers, by queue and result",
		}, []string{"queue", "result"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs per queue and state at last sample",
		}, []string{"queue", "state"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Server request latency, by route and status class",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),

		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notification deliveries, by channel and result",
		}, []string{"channel", "result"}),
		ArchiveRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "runs_total",
			Help:      "Archive sweeps, by dataset and status",
		}, []string{"dataset", "status"}),
		RowsArchived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "rows_total",
			Help:      "Rows exported to cold storage, by dataset",
		}, []string{"dataset"}),
	}
}

// Handler serves the instance's registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
