package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caf_decision_total",
		Help: "Total number of quality decisions by action, reason, and class",
	}, []string{"action", "reason", "class"})
)

// RecordDecision records one quality decision outcome. Labels are normalized
// to the engine's bounded vocabularies to keep cardinality fixed.
func RecordDecision(action, reason, class string) {
	decisionTotal.WithLabelValues(
		normalizeActionLabel(action),
		normalizeReasonLabel(reason),
		normalizeClassLabel(class),
	).Inc()
}

func normalizeActionLabel(action string) string {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "proceed_finalize", "retry_motion", "retry_recast", "block_for_costume", "escalate_hitl":
		return strings.ToLower(strings.TrimSpace(action))
	default:
		return "unknown"
	}
}

func normalizeReasonLabel(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case "invalid qc target":
		return "invalid_qc_target"
	case "invalid continuity":
		return "invalid_continuity"
	case "identity failed":
		return "identity_failed"
	case "motion failed":
		return "motion_failed"
	case "missing costume gate":
		return "missing_costume_gate"
	case "costume failed":
		return "costume_failed"
	case "metrics":
		return "metrics"
	case "finalize gate blocked":
		return "finalize_gate_blocked"
	case "ok":
		return "ok"
	default:
		return "unknown"
	}
}

func normalizeClassLabel(class string) string {
	switch strings.ToLower(strings.TrimSpace(class)) {
	case "retry", "escalate", "finalize":
		return strings.ToLower(strings.TrimSpace(class))
	default:
		return "unknown"
	}
}
