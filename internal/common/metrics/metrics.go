// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_notifications_sent_total",
			Help: "Total number of follow-up notifications sent",
		},
		[]string{"stage"},
	)

	NotificationsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_notifications_failed_total",
			Help: "Total number of failed follow-up dispatch attempts",
		},
		[]string{"stage", "error_code"},
	)

	NotificationsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_notifications_deduplicated_total",
			Help: "Sends skipped because the stage was already delivered",
		},
		[]string{"stage"},
	)

	RateLimitPauses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_rate_limit_pauses_total",
			Help: "Number of throttle pauses per stage",
		},
		[]string{"stage"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_runs_total",
			Help: "Total number of dispatch runs by outcome",
		},
		[]string{"campaign", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "followup_run_duration_seconds",
			Help:    "Duration of a dispatch run in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"campaign"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

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
)
