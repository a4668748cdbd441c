package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the orchestrator core. promauto registers
// everything with the default registry; the API server exposes /metrics.
var (
	// --- Queue metrics ---

	// SubmissionsTotal counts submissions by result (created, duplicate,
	// rejected).
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testhive",
			Subsystem: "queue",
			Name:      "submissions_total",
			Help:      "Total job submissions by result",
		},
		[]string{"result"},
	)

	// QueueDepth tracks jobs waiting for a device (queued + scheduled).
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "testhive",
			Subsystem: "queue",
			Name:      "waiting_jobs",
			Help:      "Number of jobs waiting for a device",
		},
	)

	// RetriesTotal counts explicit retry requests that requeued a job.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testhive",
			Subsystem: "queue",
			Name:      "retries_total",
			Help:      "Total jobs requeued via retry",
		},
	)

	// --- Scheduler metrics ---

	// SchedulerTicks counts scheduler tick cycles.
	SchedulerTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testhive",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total scheduler tick cycles",
		},
	)

	// GroupsProcessed counts groups picked up within ticks.
	GroupsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testhive",
			Subsystem: "scheduler",
			Name:      "groups_processed_total",
			Help:      "Total groups processed by the scheduler",
		},
	)

	// JobsLocked counts queued->scheduled transitions.
	JobsLocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testhive",
			Subsystem: "scheduler",
			Name:      "jobs_locked_total",
			Help:      "Total jobs locked to a device",
		},
	)

	// NoCapacitySkips counts groups skipped for lack of a matching device.
	NoCapacitySkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testhive",
			Subsystem: "scheduler",
			Name:      "no_capacity_skips_total",
			Help:      "Groups skipped because no matching device was available",
		},
	)

	// RecoveredJobs counts jobs demoted to queued by startup recovery.
	RecoveredJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testhive",
			Subsystem: "scheduler",
			Name:      "recovered_jobs_total",
			Help:      "In-flight jobs reset to queued on startup",
		},
	)

	// --- Execution metrics ---

	// ExecutionsTotal counts finished executions by outcome and target.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testhive",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total executions by outcome and target",
		},
		[]string{"outcome", "target"},
	)

	// ExecutionDuration tracks test run duration.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "testhive",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Duration of test executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~7m
		},
		[]string{"target"},
	)

	// --- Pool metrics ---

	// DevicesBusy tracks currently acquired devices.
	DevicesBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "testhive",
			Subsystem: "pool",
			Name:      "devices_busy",
			Help:      "Number of devices currently executing a group",
		},
	)
)

// RecordExecution records metrics for one finished execution.
func RecordExecution(outcome, target string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(outcome, target).Inc()
	ExecutionDuration.WithLabelValues(target).Observe(durationSeconds)
}
