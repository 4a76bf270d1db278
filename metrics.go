package pipeline

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an optional Prometheus collector attachable to a Stage via
// WithMetrics. Grounded structurally on
// ChuLiYu-raft-recovery/internal/metrics/metrics.go's Collector: per-task
// counters, a queue-depth gauge, and a duration histogram, all guarded by a
// mutex and registered against a prometheus.Registerer.
type Metrics struct {
	mu sync.Mutex

	tasksStarted   prometheus.Counter
	tasksSucceeded prometheus.Counter
	tasksFailed    prometheus.Counter
	queueDepth     prometheus.Gauge
	taskDuration   prometheus.Histogram
}

// NewMetrics constructs a Metrics bound to stageName and registers its
// collectors against reg. reg may be nil, in which case a fresh
// prometheus.NewRegistry() is used so callers always get a usable Metrics
// even without a shared application registry.
func NewMetrics(stageName string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	labels := prometheus.Labels{`stage`: stageName}

	m := &Metrics{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        `pipeline_tasks_started_total`,
			Help:        `Total tasks started by this stage.`,
			ConstLabels: labels,
		}),
		tasksSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        `pipeline_tasks_succeeded_total`,
			Help:        `Total tasks that completed without error or panic.`,
			ConstLabels: labels,
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        `pipeline_tasks_failed_total`,
			Help:        `Total tasks that returned an error or panicked.`,
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        `pipeline_queue_depth`,
			Help:        `Current number of ready tasks queued for this stage.`,
			ConstLabels: labels,
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        `pipeline_task_duration_seconds`,
			Help:        `Per-task execution duration for this stage.`,
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.tasksStarted, m.tasksSucceeded, m.tasksFailed, m.queueDepth, m.taskDuration)

	return m
}

// observeStart records that a task began executing and returns a function
// to call with the task's outcome once it finishes.
func (m *Metrics) observeStart() (finish func(failed bool)) {
	m.mu.Lock()
	m.tasksStarted.Inc()
	m.mu.Unlock()

	start := time.Now()
	return func(failed bool) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.taskDuration.Observe(time.Since(start).Seconds())
		if failed {
			m.tasksFailed.Inc()
		} else {
			m.tasksSucceeded.Inc()
		}
	}
}

func (m *Metrics) setQueueDepth(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth.Set(float64(n))
}
