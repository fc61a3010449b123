package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "braintheria"

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	EventsPublished    prometheus.Counter
	EventsDropped      prometheus.Counter
	ChainReadFallbacks *prometheus.CounterVec
	ChainTxs           *prometheus.CounterVec
	ContentPins        *prometheus.CounterVec
	ReconcileSweeps    *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Lifecycle events published on the bus.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "dropped_total",
			Help: "Lifecycle events dropped because a subscriber queue was full.",
		}),
		ChainReadFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "read_fallbacks_total",
			Help: "Contract reads that failed and returned a fallback value.",
		}, []string{"op"}),
		ChainTxs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "transactions_total",
			Help: "Contract transactions by method and outcome.",
		}, []string{"method", "outcome"}),
		ContentPins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "content", Name: "pins_total",
			Help: "Content pin attempts by backend and outcome.",
		}, []string{"backend", "outcome"}),
		ReconcileSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "reconcile", Name: "transactions_total",
			Help: "Pending transactions examined by the reconciler, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsPublished,
		m.EventsDropped,
		m.ChainReadFallbacks,
		m.ChainTxs,
		m.ContentPins,
		m.ReconcileSweeps,
	)
	return m
}

// OrNew returns m, or a throwaway set when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New()
}
