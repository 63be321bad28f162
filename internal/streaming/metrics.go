package streaming

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the loader collectors. A nil *Metrics records nothing.
type Metrics struct {
	loads        *prometheus.CounterVec
	retries      *prometheus.CounterVec
	cache        *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	inflight     *prometheus.GaugeVec
	loadDuration *prometheus.HistogramVec
}

// NewMetrics registers the loader collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "streaming",
			Name:      "loads_total",
			Help:      "Object loads finished, by result.",
		}, []string{"controller", "kind", "result"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "streaming",
			Name:      "load_retries_total",
			Help:      "Load attempts repeated after a failure.",
		}, []string{"controller", "kind"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "streaming",
			Name:      "cache_lookups_total",
			Help:      "Object cache lookups, by result.",
		}, []string{"controller", "result"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "streaming",
			Name:      "dropped_completions_total",
			Help:      "Loads finished after their request was cancelled.",
		}, []string{"controller"}),
		inflight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hlod",
			Subsystem: "streaming",
			Name:      "inflight_loads",
			Help:      "Loads started and not yet delivered.",
		}, []string{"controller"}),
		loadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hlod",
			Subsystem: "streaming",
			Name:      "load_duration_seconds",
			Help:      "Time for one successful load attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"controller", "kind"}),
	}
}

func (m *Metrics) loaded(name string, kind Kind, took time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(name, kind.String(), "ok").Inc()
	m.loadDuration.WithLabelValues(name, kind.String()).Observe(took.Seconds())
}

func (m *Metrics) failed(name string, kind Kind) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(name, kind.String(), "failed").Inc()
}

func (m *Metrics) retried(name string, kind Kind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(name, kind.String()).Inc()
}

func (m *Metrics) lookup(name string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(name, result).Inc()
}

func (m *Metrics) droppedCompletion(name string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(name).Inc()
}

func (m *Metrics) setInflight(name string, n int64) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(name).Set(float64(n))
}
