// Package metrics exposes Prometheus instrumentation for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lectern"

// Metrics owns its registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	rankComputations *prometheus.CounterVec
	rankErrors       *prometheus.CounterVec
	rankPrecision    prometheus.Histogram
	rankConflicts    *prometheus.CounterVec
	rebalances       *prometheus.CounterVec
	mirrorFailures   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rankComputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "computations_total",
			Help:      "Ranks computed, by placement mode.",
		}, []string{"mode"}),
		rankErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "errors_total",
			Help:      "Rank computations that failed, by reason.",
		}, []string{"reason"}),
		rankPrecision: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "precision_digits",
			Help:      "Mantissa length of generated ranks.",
			Buckets:   []float64{6, 8, 12, 16, 24, 32, 48, 64},
		}),
		rankConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "conflicts_total",
			Help:      "Unique rank violations reported by storage, by scope kind.",
		}, []string{"kind"}),
		rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "rebalances_total",
			Help:      "Scopes rewritten into a fresh bucket, by scope kind.",
		}, []string{"kind"}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mirror",
			Name:      "failures_total",
			Help:      "Article mirror operations that failed, by operation.",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		m.rankComputations,
		m.rankErrors,
		m.rankPrecision,
		m.rankConflicts,
		m.rebalances,
		m.mirrorFailures,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// All recorders tolerate a nil receiver so callers can run without metrics.

func (m *Metrics) RankComputed(mode string, precision int) {
	if m == nil {
		return
	}
	m.rankComputations.WithLabelValues(mode).Inc()
	m.rankPrecision.Observe(float64(precision))
}

func (m *Metrics) RankFailed(reason string) {
	if m == nil {
		return
	}
	m.rankErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) RankConflict(kind string) {
	if m == nil {
		return
	}
	m.rankConflicts.WithLabelValues(kind).Inc()
}

func (m *Metrics) Rebalanced(kind string) {
	if m == nil {
		return
	}
	m.rebalances.WithLabelValues(kind).Inc()
}

func (m *Metrics) MirrorFailed(op string) {
	if m == nil {
		return
	}
	m.mirrorFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
