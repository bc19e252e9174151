package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ordersaga"

// Metrics groups the saga counters. Each service registers its own instance.
type Metrics struct {
	OrdersCreated        *prometheus.CounterVec
	PublishFailures      *prometheus.CounterVec
	EventsConsumed       *prometheus.CounterVec
	DeadLetters          *prometheus.CounterVec
	CompensationFailures prometheus.Counter
	HTTPRequests         *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg skips
// registration, which tests use to avoid global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders persisted by the coordinator, by resulting status.",
		}, []string{"status"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Events that could not be handed to the broker.",
		}, []string{"topic"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Consumed events by topic and outcome.",
		}, []string{"topic", "outcome"}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Dead-lettered orders by handling decision.",
		}, []string{"decision"}),
		CompensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensation_failures_total",
			Help:      "Stock releases that exhausted their retries.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OrdersCreated,
			m.PublishFailures,
			m.EventsConsumed,
			m.DeadLetters,
			m.CompensationFailures,
			m.HTTPRequests,
		)
	}
	return m
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
