package alerting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the cache's prometheus instrumentation. All methods are
// safe on a nil receiver so tests can pass nil.
type Metrics struct {
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	errors     *prometheus.CounterVec
	recoveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	swept      *prometheus.CounterVec
}

// NewMetrics registers the cache metric families on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semcache_hits_total",
			Help: "Cache hits by layer.",
		}, []string{"layer"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semcache_misses_total",
			Help: "Cache misses by layer.",
		}, []string{"layer"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semcache_errors_total",
			Help: "Operation failures by layer and failure kind.",
		}, []string{"layer", "kind"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semcache_recoveries_total",
			Help: "Recovery attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "semcache_operation_seconds",
			Help:    "Layer operation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"layer", "operation"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "semcache_swept_entries_total",
			Help: "Expired entries removed by the background sweeper.",
		}, []string{"layer"}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.errors, m.recoveries, m.latency, m.swept)
	}
	return m
}

func (m *Metrics) Hit(layer string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(layer).Inc()
}

func (m *Metrics) Miss(layer string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(layer).Inc()
}

func (m *Metrics) Error(layer, kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(layer, kind).Inc()
}

func (m *Metrics) Recovery(method string, successful bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if successful {
		outcome = "recovered"
	}
	m.recoveries.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) Observe(layer, operation string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(layer, operation).Observe(elapsed.Seconds())
}

func (m *Metrics) Swept(layer string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.swept.WithLabelValues(layer).Add(float64(n))
}
