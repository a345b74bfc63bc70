// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

var (
	RetrievalStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nlsql_retrieval_stage_duration_seconds",
			Help:    "Duration of each progressive retrieval stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	RetrievalStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsql_retrieval_stage_failures_total",
			Help: "Retrieval stages that degraded to an empty result",
		},
		[]string{"stage"},
	)

	RetrievalFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nlsql_retrieval_fallback_total",
			Help: "Retrievals that fell back to the full table list",
		},
	)

	QueryCompilations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsql_query_compilations_total",
			Help: "Query spec compilations by outcome",
		},
		[]string{"outcome"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsql_cache_lookups_total",
			Help: "Result cache lookups by namespace and result",
		},
		[]string{"namespace", "result"},
	)

	UnsafeSQLRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nlsql_unsafe_sql_rejections_total",
			Help: "SQL statements rejected by the safety checker",
		},
		[]string{"source"},
	)
)
