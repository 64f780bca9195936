// Package decision chooses the post-attempt action for a job from its QC
// artifacts. The engine is a pure function over parsed inputs; reading the
// artifacts from the sandbox and writing the resulting documents live in
// separate files so the rule table stays testable in isolation.
package decision

// Canonical metric names scored by the QC tooling.
const (
	MetricIdentityConsistency = "identity_consistency"
	MetricMaskEdgeBleed       = "mask_edge_bleed"
	MetricTemporalStability   = "temporal_stability"
	MetricLoopSeam            = "loop_seam"
	MetricAudioVideo          = "audio_video"
)

// DefaultThresholds returns the per-metric minimum scores used when the job
// carries no quality_target contract.
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		MetricIdentityConsistency: 0.70,
		MetricMaskEdgeBleed:       0.60,
		MetricTemporalStability:   0.70,
		MetricLoopSeam:            0.70,
		MetricAudioVideo:          0.95,
	}
}

// Artifact wraps an optional input and distinguishes "absent" from "present
// but unparseable". Contract artifacts need that distinction: a malformed
// contract escalates, a missing one falls back to defaults.
type Artifact[T any] struct {
	Present bool
	Invalid bool
	Value   T
}

// QualityReport is the scoring tool's verdict per metric.
type QualityReport struct {
	Metrics map[string]MetricRow `json:"metrics"`
	Overall OverallVerdict       `json:"overall"`
}

type MetricRow struct {
	Available bool    `json:"available"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Pass      bool    `json:"pass"`
}

type OverallVerdict struct {
	Pass          bool     `json:"pass"`
	FailedMetrics []string `json:"failed_metrics"`
}

// CostumeReport carries the wardrobe-continuity verdict.
type CostumeReport struct {
	Pass bool `json:"pass"`
}

// TwoPass is the orchestration summary of the motion and identity passes.
// Status values are "pass", "fail" or "unknown".
type TwoPass struct {
	Passes TwoPassPasses `json:"passes"`
}

type TwoPassPasses struct {
	Motion   PassResult `json:"motion"`
	Identity PassResult `json:"identity"`
}

type PassResult struct {
	Status string `json:"status"`
}

// StitchReport describes how the final video was assembled from segments,
// used to target motion retries at the failing joints.
type StitchReport struct {
	Seams    []Seam          `json:"seams"`
	Segments []StitchSegment `json:"segments"`
}

type Seam struct {
	FromSegment string `json:"from_segment"`
	ToSegment   string `json:"to_segment"`
}

type StitchSegment struct {
	SegmentID string `json:"segment_id"`
}

// TargetContract overrides the default thresholds. A valid contract supplies
// a threshold in (0, 1] for every canonical metric.
type TargetContract struct {
	Thresholds map[string]float64 `json:"thresholds"`
}

// ContinuityPack carries the continuity rules the planner attached to a job.
type ContinuityPack struct {
	Rules ContinuityRules `json:"rules"`
}

type ContinuityRules struct {
	RequireCostumeFidelity     bool `json:"require_costume_fidelity"`
	RequireIdentityConsistency bool `json:"require_identity_consistency"`
}

// Gate is the finalize-gate artifact. When present with AllowFinalize false
// it downgrades a finalize to an escalation, never the other way.
type Gate struct {
	Gate GateVerdict `json:"gate"`
}

type GateVerdict struct {
	AllowFinalize bool     `json:"allow_finalize"`
	Reasons       []string `json:"reasons"`
}

// SegmentRetry is the motion-retry targeting plan embedded in the decision
// document. Mode is one of "seam", "segment" or "retry_all".
type SegmentRetry struct {
	Mode           string   `json:"mode"`
	TargetSegments []string `json:"target_segments"`
	TriggerMetrics []string `json:"trigger_metrics"`
}

// Document is the quality decision record written after every evaluation.
type Document struct {
	Version     string          `json:"version"`
	JobID       string          `json:"job_id"`
	GeneratedAt string          `json:"generated_at"`
	Inputs      DocumentInputs  `json:"inputs"`
	Policy      DocumentPolicy  `json:"policy"`
	SegmentPlan *SegmentRetry   `json:"segment_retry,omitempty"`
	Passes      DocumentPasses  `json:"passes"`
	Decision    DocumentVerdict `json:"decision"`
}

// DocumentInputs records, job-relative, which artifacts fed the decision.
type DocumentInputs struct {
	QualityReport  string   `json:"quality_report,omitempty"`
	CostumeReport  string   `json:"costume_report,omitempty"`
	TwoPass        string   `json:"two_pass_orchestration,omitempty"`
	SegmentStitch  string   `json:"segment_stitch_report,omitempty"`
	QualityTarget  string   `json:"quality_target,omitempty"`
	ContinuityPack string   `json:"continuity_pack,omitempty"`
	PriorDecision  string   `json:"prior_decision,omitempty"`
	FailedMetrics  []string `json:"failed_metrics"`
}

type DocumentPolicy struct {
	MaxRetries     int                `json:"max_retries"`
	RetryAttempt   int                `json:"retry_attempt"`
	QualityTargets map[string]float64 `json:"quality_targets"`
}

type DocumentPasses struct {
	MotionStatus   string `json:"motion_status"`
	IdentityStatus string `json:"identity_status"`
}

type DocumentVerdict struct {
	Action Action `json:"action"`
	Reason Reason `json:"reason"`
}

// RetryPlan is the artifact handed to the next worker attempt. The worker
// receives its path via environment and may ignore it.
type RetryPlan struct {
	Version         string        `json:"version"`
	JobID           string        `json:"job_id"`
	GeneratedAt     string        `json:"generated_at"`
	SourceAttemptID string        `json:"source_attempt_id"`
	Action          Action        `json:"action"`
	Reason          Reason        `json:"reason"`
	RetryType       string        `json:"retry_type"`
	SegmentRetry    *SegmentRetry `json:"segment_retry,omitempty"`
}
