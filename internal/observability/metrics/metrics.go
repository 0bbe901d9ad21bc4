// Package metrics exposes Prometheus instrumentation for the edge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsroom_edge"

// Strategy outcomes.
const (
	OutcomeNetwork     = "network"
	OutcomePreload     = "preload"
	OutcomeDataCache   = "data_cache"
	OutcomeShell       = "shell_fallback"
	OutcomeSynthesized = "synthesized"
	OutcomeCacheHit    = "cache_hit"
	OutcomeRefill      = "refill"
	OutcomeFailed      = "failed"
)

// Metrics holds every collector the edge records into. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups  *prometheus.CounterVec
	cachePuts     *prometheus.CounterVec
	strategy      *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	sweptCaches   prometheus.Counter
	pushEvents    *prometheus.CounterVec
	clients       prometheus.Gauge
	activeVersion *prometheus.GaugeVec
}

// NewMetrics creates a metrics set on its own registry, including Go
// runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Partition lookups by role and result.",
		}, []string{"role", "result"}),
		cachePuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_puts_total",
			Help:      "Partition writes by role, split into stored and rejected.",
		}, []string{"role", "result"}),
		strategy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_outcomes_total",
			Help:      "Fetch strategy outcomes by strategy and source of the returned response.",
		}, []string{"strategy", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_transitions_total",
			Help:      "Worker lifecycle state transitions.",
		}, []string{"state"}),
		sweptCaches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_partitions_total",
			Help:      "Stale partitions deleted during activation.",
		}),
		pushEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Push bridge events by kind.",
		}, []string{"event"}),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Connected client windows.",
		}),
		activeVersion: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_release_info",
			Help:      "Set to 1 for the release currently serving fetches.",
		}, []string{"version"}),
	}

	for _, c := range []prometheus.Collector{
		m.cacheLookups, m.cachePuts, m.strategy, m.transitions, m.sweptCaches,
		m.pushEvents, m.clients, m.activeVersion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordCacheLookup(role string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(role, result).Inc()
}

func (m *Metrics) RecordCachePut(role string, stored bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if stored {
		result = "stored"
	}
	m.cachePuts.WithLabelValues(role, result).Inc()
}

func (m *Metrics) RecordOutcome(strategy, outcome string) {
	if m == nil {
		return
	}
	m.strategy.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptCaches.Add(float64(n))
}

func (m *Metrics) RecordPushEvent(event string) {
	if m == nil {
		return
	}
	m.pushEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

// SetActiveVersion marks version as the serving release.
func (m *Metrics) SetActiveVersion(version string) {
	if m == nil {
		return
	}
	m.activeVersion.Reset()
	m.activeVersion.WithLabelValues(version).Set(1)
}
