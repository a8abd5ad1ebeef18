// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/podwatch/internal/rpc"
)

const namespace = "podwatch"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	CycleDuration       prometheus.Histogram
	Cycles              *prometheus.CounterVec
	VantageFailures     *prometheus.CounterVec
	PodsFallbacks       prometheus.Counter
	MergedPods          prometheus.Gauge
	RawObservations     prometheus.Gauge
	FailedVantages      prometheus.Gauge
	PersistenceFailures *prometheus.CounterVec
	GossipChanges       *prometheus.CounterVec
	RegistryPruned      prometheus.Counter
	HistoryPruned       *prometheus.CounterVec
	LastCycle           prometheus.Gauge
}

// New creates and registers all collectors, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of an aggregation cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30},
		}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Aggregation cycles by outcome.",
		}, []string{"outcome"}),
		VantageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vantage_failures_total",
			Help:      "Failed vantage point calls by method and reason kind.",
		}, []string{"vantage", "method", "kind"}),
		PodsFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pods_fallbacks_total",
			Help:      "Pod listings served by the get-pods fallback.",
		}),
		MergedPods: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "merged_pods",
			Help:      "Unique pods in the latest snapshot.",
		}),
		RawObservations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raw_observations",
			Help:      "Pod observations collected in the latest cycle before merging.",
		}),
		FailedVantages: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_vantages",
			Help:      "Vantage points that returned no pod listing in the latest cycle.",
		}),
		PersistenceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed store writes by target.",
		}, []string{"target"}),
		GossipChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gossip_changes_total",
			Help:      "Addresses appearing in or dropping out of gossip.",
		}, []string{"change"}),
		RegistryPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_pruned_total",
			Help:      "Registry entries removed by prune.",
		}),
		HistoryPruned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_pruned_total",
			Help:      "History rows removed by retention.",
		}, []string{"table"}),
		LastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the latest cycle finished.",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(d time.Duration, merged, raw, failed int, finished time.Time) {
	m.CycleDuration.Observe(d.Seconds())
	m.MergedPods.Set(float64(merged))
	m.RawObservations.Set(float64(raw))
	m.FailedVantages.Set(float64(failed))
	m.LastCycle.Set(float64(finished.Unix()))

	outcome := "complete"
	if failed > 0 {
		outcome = "partial"
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}

// WatchCache exports the result cache counters.
func (m *Metrics) WatchCache(c *rpc.Cache) {
	counter := func(outcome string, load func(rpc.CacheStats) int64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rpc_cache_requests_total",
			Help:        "Result cache lookups by outcome.",
			ConstLabels: prometheus.Labels{"outcome": outcome},
		}, func() float64 { return float64(load(c.Stats())) })
	}
	m.registry.MustRegister(
		counter("hit", func(s rpc.CacheStats) int64 { return s.Hits }),
		counter("miss", func(s rpc.CacheStats) int64 { return s.Misses }),
		counter("shared", func(s rpc.CacheStats) int64 { return s.Shared }),
	)
}
