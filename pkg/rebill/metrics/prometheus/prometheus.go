package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/gorebill/pkg/rebill"
)

// Metrics implements rebill.Metrics using Prometheus.
type Metrics struct {
	chargeAttemptsTotal *prometheus.CounterVec
	chargeAmount        *prometheus.HistogramVec
	integritySkipsTotal prometheus.Counter
	runDuration         prometheus.Histogram
	runProcessed        prometheus.Counter
	runSucceeded        prometheus.Counter
	runFailed           prometheus.Counter
	runChargedTotal     prometheus.Counter
	storageOpsDuration  *prometheus.HistogramVec
	storageOpsErrors    *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		chargeAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charge_attempts_total",
			Help:      "Total number of charge attempts.",
		}, []string{"plan", "cycle", "success"}),

		chargeAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "charge_amount",
			Help:      "Distribution of successfully charged amounts.",
			Buckets:   []float64{9900, 19900, 29900, 83160, 167160, 251160},
		}, []string{"plan", "cycle"}),

		integritySkipsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_skips_total",
			Help:      "Subscriptions skipped for missing billing fields.",
		}),

		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of full billing sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		runProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_processed_total",
			Help:      "Subscriptions processed across sweeps.",
		}),

		runSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_succeeded_total",
			Help:      "Successful charges across sweeps.",
		}),

		runFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failed_total",
			Help:      "Failed charges across sweeps.",
		}),

		runChargedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_charged_amount_total",
			Help:      "Total amount successfully charged across sweeps.",
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordChargeAttempt(_ string, plan rebill.Plan, cycle rebill.Cycle, amount int64, success bool) {
	m.chargeAttemptsTotal.WithLabelValues(string(plan), string(cycle), strconv.FormatBool(success)).Inc()
	if success {
		m.chargeAmount.WithLabelValues(string(plan), string(cycle)).Observe(float64(amount))
	}
}

func (m *Metrics) RecordIntegritySkip(_ string) {
	m.integritySkipsTotal.Inc()
}

func (m *Metrics) RecordRunDuration(duration time.Duration) {
	m.runDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRunOutcome(processed, succeeded, failed int, totalCharged int64) {
	m.runProcessed.Add(float64(processed))
	m.runSucceeded.Add(float64(succeeded))
	m.runFailed.Add(float64(failed))
	m.runChargedTotal.Add(float64(totalCharged))
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
