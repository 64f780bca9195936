package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	procTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caf_proc_terminate_total",
		Help: "Signals sent to collaborator process groups by signal and outcome",
	}, []string{"signal", "outcome"})

	procWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caf_proc_wait_total",
		Help: "Collaborator wait results after termination",
	}, []string{"outcome"})
)

// IncProcTerminate counts one termination signal attempt.
func IncProcTerminate(signal, outcome string) {
	procTerminateTotal.WithLabelValues(
		normalizeSignalLabel(signal),
		normalizeProcOutcomeLabel(outcome),
	).Inc()
}

// IncProcWait counts the wait result of a terminated process.
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(normalizeProcOutcomeLabel(outcome)).Inc()
}

func normalizeSignalLabel(signal string) string {
	switch strings.ToUpper(strings.TrimSpace(signal)) {
	case "SIGTERM", "SIGKILL":
		return strings.ToUpper(strings.TrimSpace(signal))
	default:
		return "OTHER"
	}
}

func normalizeProcOutcomeLabel(outcome string) string {
	switch strings.ToLower(strings.TrimSpace(outcome)) {
	case "sent", "esrch", "error",
		"exit0", "exit_nonzero", "forced_exit0", "forced_error":
		return strings.ToLower(strings.TrimSpace(outcome))
	default:
		return "other"
	}
}
