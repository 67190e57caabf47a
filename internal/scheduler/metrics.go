package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pi314/dpush/internal/types"
)

// Metrics exposes Prometheus collectors that report queue activity.
type Metrics struct {
	submitted  prometheus.Counter
	finished   *prometheus.CounterVec
	queueDepth prometheus.Gauge
	duration   prometheus.Histogram
}

// NewMetrics constructs and registers the collectors. A nil registerer uses
// the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dpush",
			Name:      "tasks_submitted_total",
			Help:      "Tasks appended to the queue.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dpush",
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal status.",
		}, []string{"status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dpush",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the queue.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dpush",
			Name:      "task_duration_seconds",
			Help:      "Wall time spent running a task.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	for _, c := range []prometheus.Collector{m.submitted, m.finished, m.queueDepth, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Watch keeps the queue depth gauge in sync with store.
func (m *Metrics) Watch(store *Store) {
	m.queueDepth.Set(float64(store.Len()))
	store.OnDepthChange(func(delta, depth int) {
		if delta > 0 {
			m.submitted.Add(float64(delta))
		}
		m.queueDepth.Set(float64(depth))
	})
}

// Observe implements Observer.
func (m *Metrics) Observe(task types.Task) {
	if !task.Status.Terminal() {
		return
	}
	m.finished.WithLabelValues(string(task.Status)).Inc()
	if !task.StartedAt.IsZero() && !task.IsQuit() {
		m.duration.Observe(task.UpdatedAt.Sub(task.StartedAt).Seconds())
	}
}
