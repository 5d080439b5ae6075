package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what the engine does with notifications and edits.
type Metrics struct {
	Enqueued      prometheus.Counter
	Coalesced     prometheus.Counter
	Drained       prometheus.Counter
	Stale         prometheus.Counter
	Failed        prometheus.Counter
	Mismatched    prometheus.Counter
	Vetoed        prometheus.Counter
	UserWrites    prometheus.Counter
	Programmatic  prometheus.Counter
	Unhandled     prometheus.Counter
	DrainDuration prometheus.Histogram
}

// NewMetrics registers the engine counters on reg. A nil reg yields working
// counters that are not exported anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "maidsync",
			Subsystem: "mirror",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		Enqueued:     counter("enqueued_total", "Propagation actions added to a queue"),
		Coalesced:    counter("coalesced_total", "Notifications absorbed by an already pending action"),
		Drained:      counter("drained_total", "Propagation actions executed"),
		Stale:        counter("stale_total", "Actions skipped because their generation was superseded"),
		Failed:       counter("failed_total", "Actions that returned an error or panicked"),
		Mismatched:   counter("admission_mismatch_total", "Notifications discarded because their entity is not selected"),
		Vetoed:       counter("vetoed_total", "Writes blocked by the lock registry"),
		UserWrites:   counter("user_writes_total", "Domain writes issued for user edits"),
		Programmatic: counter("programmatic_changes_total", "Display change events recognised as programmatic refreshes"),
		Unhandled:    counter("unhandled_total", "Notifications dropped for lack of a handler"),
		DrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "maidsync",
			Subsystem: "mirror",
			Name:      "drain_duration_seconds",
			Help:      "Duration of one drain cycle",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}
}
