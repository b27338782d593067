package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// Metrics implements payment.Metrics using Prometheus.
type Metrics struct {
	intentsCreatedTotal    *prometheus.CounterVec
	verificationsTotal     *prometheus.CounterVec
	verifyDuration         prometheus.Histogram
	subscriptionUpdates    *prometheus.CounterVec
	subscriptionAttempts   *prometheus.HistogramVec
	subscriptionDuration   *prometheus.HistogramVec
	backgroundRetriesTotal *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		intentsCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "intents_created_total",
			Help:      "Total number of payment tokens issued.",
		}, []string{"tier"}),

		verificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "verifications_total",
			Help:      "Total number of payment verifications by outcome.",
		}, []string{"outcome"}),

		verifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "verify_duration_seconds",
			Help:      "Duration of payment verification in seconds.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),

		subscriptionUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "updates_total",
			Help:      "Total number of subscription updates by status.",
		}, []string{"status"}),

		subscriptionAttempts: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "update_attempts",
			Help:      "Number of store attempts per subscription update.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}, []string{"status"}),

		subscriptionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "update_duration_seconds",
			Help:      "Duration of subscription updates including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),

		backgroundRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "background_retries_total",
			Help:      "Background subscription retries by lifecycle status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) RecordIntentCreated(tier payment.Tier) {
	m.intentsCreatedTotal.WithLabelValues(string(tier)).Inc()
}

func (m *Metrics) RecordVerification(outcome string) {
	m.verificationsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordVerifyDuration(duration time.Duration) {
	m.verifyDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordSubscriptionUpdate(status string, attempts int, duration time.Duration) {
	m.subscriptionUpdates.WithLabelValues(status).Inc()
	m.subscriptionAttempts.WithLabelValues(status).Observe(float64(attempts))
	m.subscriptionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordBackgroundRetry(status string) {
	m.backgroundRetriesTotal.WithLabelValues(status).Inc()
}
