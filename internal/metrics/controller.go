package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caf_job_outcome_total",
		Help: "Terminal controller outcomes by final state",
	}, []string{"state"})

	attemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caf_job_attempts_total",
		Help: "Worker attempts started across all jobs",
	})

	collaboratorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caf_collaborator_duration_seconds",
		Help:    "Wall time spent in collaborator subprocesses",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"collaborator"})
)

// RecordJobOutcome records the terminal state a controller run ended in.
func RecordJobOutcome(state string) {
	jobOutcomeTotal.WithLabelValues(normalizeStateLabel(state)).Inc()
}

// RecordAttemptStart counts one worker attempt.
func RecordAttemptStart() {
	attemptsTotal.Inc()
}

// ObserveCollaborator records the duration of one collaborator invocation.
func ObserveCollaborator(name string, d time.Duration) {
	collaboratorDuration.WithLabelValues(normalizeCollaboratorLabel(name)).Observe(d.Seconds())
}

func normalizeStateLabel(state string) string {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED",
		"FAIL_VALIDATE", "FAIL_MISSING_INPUTS", "FAIL_WORKER",
		"FAIL_OUTPUTS", "FAIL_VERIFY", "FAIL_QUALITY":
		return strings.ToUpper(strings.TrimSpace(state))
	default:
		return "UNKNOWN"
	}
}

func normalizeCollaboratorLabel(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "validator", "worker", "lineage_verify", "two_pass":
		return strings.ToLower(strings.TrimSpace(name))
	default:
		return "unknown"
	}
}
