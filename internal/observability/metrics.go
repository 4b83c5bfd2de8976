package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scanctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	pendingJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanctl",
			Subsystem: "scheduler",
			Name:      "pending_jobs",
			Help:      "Jobs waiting for admission.",
		},
	)
	runningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scanctl",
			Subsystem: "scheduler",
			Name:      "running_jobs",
			Help:      "Jobs whose tool has been launched and not yet reaped.",
		},
	)
	admittedJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanctl",
			Subsystem: "scheduler",
			Name:      "admitted_total",
			Help:      "Jobs moved from pending to running.",
		},
		[]string{"tool"},
	)
	finishedJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanctl",
			Subsystem: "scheduler",
			Name:      "finished_total",
			Help:      "Jobs reaped after their tool finished, by outcome state.",
		},
		[]string{"tool", "outcome"},
	)
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scanctl",
			Subsystem: "tool",
			Name:      "run_duration_seconds",
			Help:      "Tool wall time from start to terminal outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900},
		},
		[]string{"tool", "outcome"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scanctl",
			Subsystem: "tool",
			Name:      "terminations_total",
			Help:      "Terminate requests against tools.",
		},
		[]string{"tool", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			pendingJobs,
			runningJobs,
			admittedJobs,
			finishedJobs,
			toolDuration,
			terminations,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// SetQueueDepth publishes the scheduler's pending and running counts.
func SetQueueDepth(pending, running int) {
	RegisterMetrics()
	pendingJobs.Set(float64(pending))
	runningJobs.Set(float64(running))
}

func RecordAdmission(tool string) {
	RegisterMetrics()
	admittedJobs.WithLabelValues(tool).Inc()
}

func RecordJobFinished(tool, outcome string, duration time.Duration) {
	RegisterMetrics()
	finishedJobs.WithLabelValues(tool, outcome).Inc()
	toolDuration.WithLabelValues(tool, outcome).Observe(duration.Seconds())
}

func RecordTermination(tool string, success bool) {
	RegisterMetrics()
	terminations.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}
