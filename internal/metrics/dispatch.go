package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caf_dispatch_total",
		Help: "Approvals dispatched by platform and resulting status",
	}, []string{"platform", "status"})

	dispatchSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caf_dispatch_skipped_total",
		Help: "Approvals skipped before dispatch by cause",
	}, []string{"cause"})

	bundleBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caf_bundle_build_duration_seconds",
		Help:    "Wall time to build one platform bundle",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
)

// RecordDispatch records the terminal status of one approval dispatch.
func RecordDispatch(platform, status string) {
	dispatchTotal.WithLabelValues(
		normalizePlatformLabel(platform),
		normalizeDispatchStatusLabel(status),
	).Inc()
}

// RecordDispatchSkip counts an approval that never reached an adapter.
func RecordDispatchSkip(cause string) {
	dispatchSkippedTotal.WithLabelValues(normalizeSkipCauseLabel(cause)).Inc()
}

// ObserveBundleBuild records the duration of one bundle build.
func ObserveBundleBuild(d time.Duration) {
	bundleBuildDuration.Observe(d.Seconds())
}

func normalizePlatformLabel(platform string) string {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "youtube", "tiktok", "instagram", "x":
		return strings.ToLower(strings.TrimSpace(platform))
	default:
		return "unknown"
	}
}

func normalizeDispatchStatusLabel(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "BUNDLE_GENERATED", "POSTED", "SKIPPED", "FAILED":
		return strings.ToUpper(strings.TrimSpace(status))
	default:
		return "UNKNOWN"
	}
}

func normalizeSkipCauseLabel(cause string) string {
	switch strings.ToLower(strings.TrimSpace(cause)) {
	case "not_approved", "already_done", "malformed", "duplicate":
		return strings.ToLower(strings.TrimSpace(cause))
	default:
		return "other"
	}
}
