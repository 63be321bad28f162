package hlod

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by every tree. A nil
// *Metrics records nothing.
type Metrics struct {
	nodes          *prometheus.GaugeVec
	commits        *prometheus.CounterVec
	loads          *prometheus.CounterVec
	releases       *prometheus.CounterVec
	stale          *prometheus.CounterVec
	stalls         *prometheus.CounterVec
	updateDuration *prometheus.HistogramVec
}

// NewMetrics registers the tree collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		nodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hlod",
			Subsystem: "tree",
			Name:      "nodes",
			Help:      "Nodes per committed state after the last update.",
		}, []string{"tree", "state"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "tree",
			Name:      "commits_total",
			Help:      "State transitions committed, by entered state.",
		}, []string{"tree", "state"}),
		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "tree",
			Name:      "load_requests_total",
			Help:      "Objects requested from the resource controller.",
		}, []string{"tree", "kind"}),
		releases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "tree",
			Name:      "releases_total",
			Help:      "Objects handed back to the resource controller.",
		}, []string{"tree", "kind"}),
		stale: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "tree",
			Name:      "stale_completions_total",
			Help:      "Load completions that arrived after their request was abandoned.",
		}, []string{"tree", "kind"}),
		stalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hlod",
			Subsystem: "tree",
			Name:      "stalled_transitions_total",
			Help:      "Transitions that stayed pending past the stall threshold.",
		}, []string{"tree"}),
		updateDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hlod",
			Subsystem: "tree",
			Name:      "update_duration_seconds",
			Help:      "Time spent in one UpdateCull call.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025},
		}, []string{"tree"}),
	}
}

func (m *Metrics) commit(tree string, s State) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(tree, s.String()).Inc()
}

func (m *Metrics) loadRequested(tree string, kind objectKind) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(tree, kind.String()).Inc()
}

func (m *Metrics) released(tree string, kind objectKind) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(tree, kind.String()).Inc()
}

func (m *Metrics) staleCompletion(tree string, kind objectKind) {
	if m == nil {
		return
	}
	m.stale.WithLabelValues(tree, kind.String()).Inc()
}

func (m *Metrics) stalled(tree string) {
	if m == nil {
		return
	}
	m.stalls.WithLabelValues(tree).Inc()
}

func (m *Metrics) observeFrame(tree string, stats frameStats, took time.Duration) {
	if m == nil {
		return
	}
	for s := StateRelease; s <= StateHigh; s++ {
		m.nodes.WithLabelValues(tree, s.String()).Set(float64(stats.nodes[s]))
	}
	m.updateDuration.WithLabelValues(tree).Observe(took.Seconds())
}

func (m *Metrics) forget(tree string) {
	if m == nil {
		return
	}
	for s := StateRelease; s <= StateHigh; s++ {
		m.nodes.DeleteLabelValues(tree, s.String())
	}
}

// frameStats counts nodes per committed state during one update.
type frameStats struct {
	nodes [3]int
}

func (s *frameStats) count(n *Node) {
	s.nodes[n.fsm.Current()]++
}

