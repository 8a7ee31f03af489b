package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/videoflow/notification/internal/retry"
)

// Metrics groups all Prometheus instruments used across the service.
// Registered once at startup via New() on a dedicated registry.
type Metrics struct {
	StoreAttempts  *prometheus.HistogramVec
	StoreRetries   *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
	DeliveryTime   prometheus.Histogram
	BrokerMessages *prometheus.CounterVec
	StreamClients  prometheus.Gauge
}

// New registers all instruments with reg and returns them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StoreAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notification_store_attempt_seconds",
			Help:    "Duration of each repository attempt, by operation and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),

		StoreRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_store_retries_total",
			Help: "Repository attempts that failed with a transient error.",
		}, []string{"op"}),

		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "E-mail gateway calls by outcome.",
		}, []string{"outcome"}),

		DeliveryTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notification_delivery_seconds",
			Help:    "Latency of e-mail gateway calls.",
			Buckets: prometheus.DefBuckets,
		}),

		BrokerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_broker_messages_total",
			Help: "Broker messages handled, by decision (ack, nack, dead_letter).",
		}, []string{"decision"}),

		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_stream_clients",
			Help: "Currently connected SSE clients.",
		}),
	}

	reg.MustRegister(
		m.StoreAttempts,
		m.StoreRetries,
		m.Deliveries,
		m.DeliveryTime,
		m.BrokerMessages,
		m.StreamClients,
	)
	return m
}

// ObserveStore records one retry attempt. Use it as (part of) a retry.Observer.
func (m *Metrics) ObserveStore(a retry.Attempt) {
	outcome := "ok"
	switch {
	case a.Err != nil && a.Transient:
		outcome = "transient"
		m.StoreRetries.WithLabelValues(a.Op).Inc()
	case a.Err != nil:
		outcome = "error"
	}
	m.StoreAttempts.WithLabelValues(a.Op, outcome).Observe(a.Duration.Seconds())
}

// DeliveryHooks returns the callbacks expected by gateway.WithHooks.
func (m *Metrics) DeliveryHooks() (onSent func(time.Duration), onFailed func(time.Duration)) {
	onSent = func(d time.Duration) {
		m.Deliveries.WithLabelValues("sent").Inc()
		m.DeliveryTime.Observe(d.Seconds())
	}
	onFailed = func(d time.Duration) {
		m.Deliveries.WithLabelValues("failed").Inc()
		m.DeliveryTime.Observe(d.Seconds())
	}
	return
}

// ObserveDecision counts one broker message outcome.
func (m *Metrics) ObserveDecision(decision string) {
	m.BrokerMessages.WithLabelValues(decision).Inc()
}
