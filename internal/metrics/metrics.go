package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	tasksEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triagesync",
			Name:      "tasks_enqueued_total",
			Help:      "Sync tasks accepted into the queue, by integration.",
		},
		[]string{"integration"},
	)

	tasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triagesync",
			Name:      "tasks_completed_total",
			Help:      "Sync tasks that reached the completed state.",
		},
		[]string{"integration"},
	)

	tasksRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triagesync",
			Name:      "tasks_retried_total",
			Help:      "Failed attempts returned to the queue with backoff.",
		},
		[]string{"integration"},
	)

	tasksDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triagesync",
			Name:      "tasks_dead_lettered_total",
			Help:      "Sync tasks that exhausted their retry budget.",
		},
		[]string{"integration"},
	)

	tasksInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "triagesync",
			Name:      "tasks_in_flight",
			Help:      "Tasks currently being processed by the dispatcher.",
		},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "triagesync",
			Name:      "task_duration_seconds",
			Help:      "Wall time spent executing a single task attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"integration"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triagesync",
			Name:      "http_requests_total",
			Help:      "Operations API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			tasksEnqueued,
			tasksCompleted,
			tasksRetried,
			tasksDeadLettered,
			tasksInFlight,
			taskDuration,
			httpRequests,
		)
	})
}

func IncEnqueued(integration string) {
	tasksEnqueued.WithLabelValues(integration).Inc()
}

func IncCompleted(integration string) {
	tasksCompleted.WithLabelValues(integration).Inc()
}

func IncRetried(integration string) {
	tasksRetried.WithLabelValues(integration).Inc()
}

func IncDeadLettered(integration string) {
	tasksDeadLettered.WithLabelValues(integration).Inc()
}

func TaskStarted()  { tasksInFlight.Inc() }
func TaskFinished() { tasksInFlight.Dec() }

// ObserveTaskDuration records the wall time of one task attempt.
func ObserveTaskDuration(integration string, d time.Duration) {
	taskDuration.WithLabelValues(integration).Observe(d.Seconds())
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
