package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instrumentation: how many nodes
// land in each partition, how long levels take, and how the Durable Step
// Wrapper's cache performs. A nil *Metrics is safe to use — every method
// is a no-op in that case, so callers that don't care about metrics
// don't need a sentinel implementation.
type Metrics struct {
	NodesTotal     *prometheus.CounterVec
	LevelDuration  prometheus.Histogram
	StepCacheTotal *prometheus.CounterVec
}

// NewMetrics registers the engine's collectors on reg and returns a
// ready-to-use Metrics. Pass prometheus.NewRegistry() or
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcore",
			Name:      "nodes_total",
			Help:      "Count of node outcomes by partition (completed, error, skipped).",
		}, []string{"outcome"}),
		LevelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flowcore",
			Name:      "level_duration_seconds",
			Help:      "Wall-clock time to run and apply one execution level.",
			Buckets:   prometheus.DefBuckets,
		}),
		StepCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowcore",
			Name:      "durable_step_cache_total",
			Help:      "Durable step memoization outcomes (hit, miss).",
		}, []string{"result"}),
	}
	reg.MustRegister(m.NodesTotal, m.LevelDuration, m.StepCacheTotal)
	return m
}

func (m *Metrics) observeLevel(d time.Duration) {
	if m == nil {
		return
	}
	m.LevelDuration.Observe(d.Seconds())
}

func (m *Metrics) observeNode(outcome string) {
	if m == nil {
		return
	}
	m.NodesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStepCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.StepCacheTotal.WithLabelValues(result).Inc()
}
