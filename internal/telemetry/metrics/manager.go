package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Manager struct {
	// counters
	CounterRequests            *prometheus.CounterVec
	CounterHandleRequestPanic  prometheus.Counter
	CounterRateLimitedRequests prometheus.Counter
	CounterLoadSamples         prometheus.Counter
	CounterCalculations        *prometheus.CounterVec
	CounterMigrationBatches    *prometheus.CounterVec
	CounterValidations         *prometheus.CounterVec
	CounterRollbacks           *prometheus.CounterVec
	CounterRollbackFailures    prometheus.Counter
	CounterMetricsCache        *prometheus.CounterVec

	// gauges
	GaugeRequests          prometheus.Gauge
	GaugeLifeSignal        prometheus.Gauge
	GaugeRunningMigrations prometheus.Gauge

	// histograms
	HistogramRequestDuration *prometheus.HistogramVec
	HistBatchDuration        prometheus.Histogram
	HistValidationDuration   *prometheus.HistogramVec
}

func NewTestManager() *Manager {
	return NewManager("acwr", "test_server", prometheus.NewRegistry())
}

func NewTestManagerAndRegistry() (*Manager, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewManager("acwr", "test_server", reg), reg
}

func NewManager(namespace, subsystem string, reg prometheus.Registerer) *Manager {
	factory := promauto.With(reg)

	counterRequests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request",
		Help:      "The total number of incoming requests",
	}, []string{"method", "status"})
	counterHandleRequestPanic := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "handle_request_panic",
		Help:      "The total number of serve request panics",
	})
	counterRateLimitedRequests := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rate_limited_requests",
		Help:      "The total number of rate limited requests",
	})
	counterLoadSamples := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "load_samples_inserted",
		Help:      "The total number of ingested load samples",
	})
	counterCalculations := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "migration_calculations",
		Help:      "Per-row migration outcomes",
	}, []string{"outcome"})
	counterMigrationBatches := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "migration_batches",
		Help:      "Processed migration batches by result",
	}, []string{"result"})
	counterValidations := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "batch_validations",
		Help:      "Batch validations by level and status",
	}, []string{"level", "status"})
	counterRollbacks := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rollbacks",
		Help:      "Finished rollbacks by final status",
	}, []string{"status"})
	counterRollbackFailures := factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "rollback_failures",
		Help:      "Rollbacks whose verification did not match the checkpoints",
	})
	counterMetricsCache := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "metrics_cache",
		Help:      "Dashboard metrics cache lookups",
	}, []string{"result"})

	gaugeRequests := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_requests",
		Help:      "Current number of requests served",
	})
	gaugeLifeSignal := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "life_signal",
		Help:      "Shows whether the service is alive",
	})
	gaugeRunningMigrations := factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "running_migrations",
		Help:      "Migrations with a live run goroutine",
	})

	histogramRequestDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "request_duration_seconds",
		Help:      "Histogram of response time for requests in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"route", "method", "status_code"})
	histBatchDuration := factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "migration_batch_duration_seconds",
		Help:      "Duration of a checkpoint-write-validate batch unit",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
	histValidationDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "batch_validation_duration_seconds",
		Help:      "Duration of batch validation per level",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"level"})

	return &Manager{
		CounterRequests:            counterRequests,
		CounterHandleRequestPanic:  counterHandleRequestPanic,
		CounterRateLimitedRequests: counterRateLimitedRequests,
		CounterLoadSamples:         counterLoadSamples,
		CounterCalculations:        counterCalculations,
		CounterMigrationBatches:    counterMigrationBatches,
		CounterValidations:         counterValidations,
		CounterRollbacks:           counterRollbacks,
		CounterRollbackFailures:    counterRollbackFailures,
		CounterMetricsCache:        counterMetricsCache,
		GaugeRequests:              gaugeRequests,
		GaugeLifeSignal:            gaugeLifeSignal,
		GaugeRunningMigrations:     gaugeRunningMigrations,
		HistogramRequestDuration:   histogramRequestDuration,
		HistBatchDuration:          histBatchDuration,
		HistValidationDuration:     histValidationDuration,
	}
}
