// Prometheus instrumentation for the job lifecycle. Counters are
// intentionally label-free: the interesting dimensions (status, duration)
// are separate collectors, keeping cardinality trivial.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// jobsStarted counts jobs admitted and dispatched.
	jobsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forge_jobs_started_total",
		Help: "Total number of generation jobs dispatched.",
	})

	// jobsCompleted counts jobs that reached the completed state.
	jobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forge_jobs_completed_total",
		Help: "Total number of generation jobs completed successfully.",
	})

	// jobsFailed counts jobs that reached the failed state.
	jobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "forge_jobs_failed_total",
		Help: "Total number of generation jobs that failed.",
	})

	// jobsInflight gauges jobs currently in the processing state.
	jobsInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "forge_jobs_inflight",
		Help: "Current number of generation jobs in flight.",
	})

	// jobDuration records end-to-end time of successful generations.
	// Buckets cover sub-second test renders up to multi-minute model runs.
	jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "forge_job_duration_seconds",
		Help:    "Duration of successful generation jobs in seconds.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	})
)

func init() {
	prometheus.MustRegister(jobsStarted, jobsCompleted, jobsFailed, jobsInflight, jobDuration)
}
