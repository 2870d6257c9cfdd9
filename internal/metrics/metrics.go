package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Commit results
const (
	CommitApplied   = "applied"
	CommitSuspended = "suspended"
	CommitRejected  = "rejected"
)

// Metrics holds the game engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	Intents     *prometheus.CounterVec
	Suspensions prometheus.Counter
	Commits     *prometheus.CounterVec
	Wins        *prometheus.CounterVec
	QueueLength prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with registerer.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_resolved_total",
			Help:      "Intents resolved by the pipeline, by type and decision",
		}, []string{"type", "decision"}),
		Suspensions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_requested_total",
			Help:      "Resolutions suspended waiting for narrator input",
		}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Transition commits, by result",
		}, []string{"result"}),
		Wins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_won_total",
			Help:      "Finished games, by winning alignment",
		}, []string{"winner"}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "night_queue_remaining",
			Help:      "Night actors still to act this round",
		}),
	}

	registerer.MustRegister(
		m.Intents,
		m.Suspensions,
		m.Commits,
		m.Wins,
		m.QueueLength,
	)

	return m
}

// ObserveIntent counts a resolved intent by type and decision
func (m *Metrics) ObserveIntent(intentType, decision string) {
	if m == nil {
		return
	}
	m.Intents.WithLabelValues(intentType, decision).Inc()
}

// IncSuspensions counts commits parked on a narrator prompt
func (m *Metrics) IncSuspensions() {
	if m == nil {
		return
	}
	m.Suspensions.Inc()
}

// IncCommits counts commits by result
func (m *Metrics) IncCommits(result string) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(result).Inc()
}

// IncWins counts finished games by winning alignment
func (m *Metrics) IncWins(winner string) {
	if m == nil {
		return
	}
	m.Wins.WithLabelValues(winner).Inc()
}

// SetQueueLength records how many night turns are left
func (m *Metrics) SetQueueLength(count int) {
	if m == nil {
		return
	}
	m.QueueLength.Set(float64(count))
}
