package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	violationsTotal         *prometheus.CounterVec
	warningsTotal           prometheus.Counter
	submissionsTotal        *prometheus.CounterVec
	submissionFailuresTotal prometheus.Counter
	activeSessions          prometheus.Gauge
	queueRequeuesTotal      *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by proctored sessions.
func RegisterMetrics() {
	registerOnce.Do(func() {
		violationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_violations_total",
			Help: "Integrity violations detected, by kind.",
		}, []string{"kind"})

		warningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_warnings_total",
			Help: "Warnings shown to students before the strike limit.",
		})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_submissions_total",
			Help: "Finalized sessions, by trigger and verdict.",
		}, []string{"reason", "verdict"})

		submissionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proctor_submission_failures_total",
			Help: "Submissions the result sink rejected.",
		})

		activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_active_sessions",
			Help: "Sessions currently in the ACTIVE state.",
		})

		queueRequeuesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_queue_requeues_total",
			Help: "Items pushed back onto a persistence queue after a failed write.",
		}, []string{"queue"})

		prometheus.MustRegister(
			violationsTotal,
			warningsTotal,
			submissionsTotal,
			submissionFailuresTotal,
			activeSessions,
			queueRequeuesTotal,
		)
	})
}

// ViolationsTotal exposes the violation counter.
func ViolationsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return violationsTotal
}

// WarningsTotal exposes the warning counter.
func WarningsTotal() prometheus.Counter {
	RegisterMetrics()
	return warningsTotal
}

// SubmissionsTotal exposes the submission counter.
func SubmissionsTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// SubmissionFailuresTotal exposes the sink failure counter.
func SubmissionFailuresTotal() prometheus.Counter {
	RegisterMetrics()
	return submissionFailuresTotal
}

// ActiveSessions exposes the active session gauge.
func ActiveSessions() prometheus.Gauge {
	RegisterMetrics()
	return activeSessions
}

// QueueRequeuesTotal exposes the requeue counter.
func QueueRequeuesTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return queueRequeuesTotal
}
