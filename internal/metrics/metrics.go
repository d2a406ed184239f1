package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service counters. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry       *prometheus.Registry
	removedMembers *prometheus.CounterVec
	metaMutations  *prometheus.CounterVec
	syncDispatches *prometheus.CounterVec
	activeMatches  prometheus.Gauge
	storeErrors    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		removedMembers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchstate",
			Name:      "reconcile_removed_members_total",
			Help:      "Occupants removed during reconciliation, by reason.",
		}, []string{"reason"}),
		metaMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchstate",
			Name:      "meta_mutations_total",
			Help:      "Session meta mutations applied, by kind.",
		}, []string{"kind"}),
		syncDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchstate",
			Name:      "meta_sync_dispatches_total",
			Help:      "Session meta sync attempts, by result.",
		}, []string{"result"}),
		activeMatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "matchstate",
			Name:      "active_matches",
			Help:      "Matches with a live in-memory session record.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchstate",
			Name:      "store_errors_total",
			Help:      "Persisted store failures, by operation.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.removedMembers,
		m.metaMutations,
		m.syncDispatches,
		m.activeMatches,
		m.storeErrors,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MemberRemoved(reason string) {
	if m != nil {
		m.removedMembers.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) MetaMutated(kind string) {
	if m != nil {
		m.metaMutations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SyncDispatched(result string) {
	if m != nil {
		m.syncDispatches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SetActiveMatches(n int) {
	if m != nil {
		m.activeMatches.Set(float64(n))
	}
}

func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}
