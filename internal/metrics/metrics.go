package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the payout service.
type Metrics struct {
	PayoutsInitiatedTotal *prometheus.CounterVec
	PayoutsFailedTotal    *prometheus.CounterVec
	PayoutDuration        *prometheus.HistogramVec

	WebhookEventsTotal *prometheus.CounterVec

	BatchInFlight prometheus.Gauge
	BatchSize     prometheus.Histogram

	ReconcileRunsTotal    prometheus.Counter
	ReconcileAppliedTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "payout_service"
	}

	return &Metrics{
		PayoutsInitiatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payouts_initiated_total",
				Help:      "Total number of payout attempts by method and outcome",
			},
			[]string{"method", "outcome"},
		),

		PayoutsFailedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payouts_failed_total",
				Help:      "Total number of failed payout attempts by error code",
			},
			[]string{"code", "retryable"},
		),

		PayoutDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payout_duration_seconds",
				Help:      "Duration of payout initiation in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_events_total",
				Help:      "Total number of webhook deliveries by event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),

		BatchInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "batch_in_flight",
				Help:      "Number of batch payout items currently executing",
			},
		),

		BatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Number of items per batch run",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
			},
		),

		ReconcileRunsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_runs_total",
				Help:      "Total number of reconciliation sweeps",
			},
		),

		ReconcileAppliedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_applied_total",
				Help:      "Total number of transitions applied by the reconciler",
			},
			[]string{"status"},
		),
	}
}

// RecordPayout records one payout initiation attempt.
func (m *Metrics) RecordPayout(method, outcome string, durationSeconds float64) {
	m.PayoutsInitiatedTotal.WithLabelValues(method, outcome).Inc()
	m.PayoutDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordPayoutFailure records a classified payout failure.
func (m *Metrics) RecordPayoutFailure(code string, retryable bool) {
	retryableStr := "false"
	if retryable {
		retryableStr = "true"
	}
	m.PayoutsFailedTotal.WithLabelValues(code, retryableStr).Inc()
}

// RecordWebhookEvent records one webhook delivery.
func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordBatchStart registers a batch run beginning.
func (m *Metrics) RecordBatchStart(size int) {
	m.BatchSize.Observe(float64(size))
}

// RecordReconcile records a reconciliation sweep and its applied transitions.
func (m *Metrics) RecordReconcile(appliedByStatus map[string]int) {
	m.ReconcileRunsTotal.Inc()
	for status, count := range appliedByStatus {
		m.ReconcileAppliedTotal.WithLabelValues(status).Add(float64(count))
	}
}
