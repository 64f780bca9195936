package decision

import (
	"sort"
	"time"
)

// DocVersion tags every decision document this engine writes.
const DocVersion = "caf.quality_decision.v1"

// RetryPlanVersion tags the retry-plan artifact derived from a retry decision.
const RetryPlanVersion = "caf.retry_plan.v1"

type Action string

const (
	ActionProceedFinalize Action = "proceed_finalize"
	ActionRetryMotion     Action = "retry_motion"
	ActionRetryRecast     Action = "retry_recast"
	ActionBlockForCostume Action = "block_for_costume"
	ActionEscalateHITL    Action = "escalate_hitl"
)

type Reason string

const (
	ReasonInvalidTarget     Reason = "invalid QC target"
	ReasonInvalidContinuity Reason = "invalid continuity"
	ReasonIdentityFailed    Reason = "identity failed"
	ReasonMotionFailed      Reason = "motion failed"
	ReasonMissingCostume    Reason = "missing costume gate"
	ReasonCostumeFailed     Reason = "costume failed"
	ReasonMetrics           Reason = "metrics"
	ReasonGateBlocked       Reason = "finalize gate blocked"
	ReasonOK                Reason = "ok"
)

// Segment plan modes.
const (
	SegmentModeSeam     = "seam"
	SegmentModeSegment  = "segment"
	SegmentModeRetryAll = "retry_all"
)

const (
	statusPass    = "pass"
	statusFail    = "fail"
	statusUnknown = "unknown"
)

// Input collects everything the rule table consumes. All artifacts are
// optional; absence has defined semantics per rule.
type Input struct {
	JobID      string
	MaxRetries int

	Quality *QualityReport
	Costume *CostumeReport
	TwoPass *TwoPass
	Stitch  *StitchReport

	Target     Artifact[TargetContract]
	Continuity Artifact[ContinuityPack]

	Prior *Document
	Gate  *Gate

	// Sources carries the job-relative paths of the artifacts above for the
	// document's inputs block. FailedMetrics is filled by the engine.
	Sources DocumentInputs

	Now time.Time
}

// Decide evaluates the rule table in order; the first matching rule wins.
// The returned document is complete and deterministic for a given input.
func Decide(in Input) Document {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	targets := effectiveTargets(in.Target)
	failed := failedMetrics(in.Quality, targets)

	priorAttempt := 0
	if in.Prior != nil {
		priorAttempt = in.Prior.Policy.RetryAttempt
	}

	doc := Document{
		Version:     DocVersion,
		JobID:       in.JobID,
		GeneratedAt: now.UTC().Format("2006-01-02T15:04:05Z"),
		Inputs:      in.Sources,
		Policy: DocumentPolicy{
			MaxRetries:     in.MaxRetries,
			RetryAttempt:   priorAttempt,
			QualityTargets: targets,
		},
		Passes: DocumentPasses{
			MotionStatus:   passStatus(in.TwoPass, false),
			IdentityStatus: passStatus(in.TwoPass, true),
		},
	}
	doc.Inputs.FailedMetrics = failed

	action, reason, attempt := evaluate(in, failed, priorAttempt)
	doc.Policy.RetryAttempt = attempt
	doc.Decision = DocumentVerdict{Action: action, Reason: reason}

	if action == ActionRetryMotion && in.Stitch != nil {
		doc.SegmentPlan = segmentPlan(in.Stitch, failed)
	}
	return doc
}

func evaluate(in Input, failed []string, priorAttempt int) (Action, Reason, int) {
	// 1. A quality_target contract that is unreadable or incomplete poisons
	// every threshold comparison downstream.
	if in.Target.Present && (in.Target.Invalid || !validTargets(in.Target.Value)) {
		return ActionEscalateHITL, ReasonInvalidTarget, priorAttempt
	}

	// 2. Same for an unreadable continuity pack.
	if in.Continuity.Present && in.Continuity.Invalid {
		return ActionEscalateHITL, ReasonInvalidContinuity, priorAttempt
	}

	// 3. Identity pass failure consumes retry budget.
	if in.TwoPass != nil && in.TwoPass.Passes.Identity.Status == statusFail {
		attempt := priorAttempt + 1
		if attempt <= in.MaxRetries {
			return ActionRetryRecast, ReasonIdentityFailed, attempt
		}
		return ActionEscalateHITL, ReasonIdentityFailed, attempt
	}

	// 4. Motion pass failure consumes retry budget.
	if in.TwoPass != nil && in.TwoPass.Passes.Motion.Status == statusFail {
		attempt := priorAttempt + 1
		if attempt <= in.MaxRetries {
			return ActionRetryMotion, ReasonMotionFailed, attempt
		}
		return ActionEscalateHITL, ReasonMotionFailed, attempt
	}

	// 5, 6. Costume fidelity blocks without consuming budget: a human or a
	// wardrobe re-run resolves it, not another attempt.
	requireCostume := in.Continuity.Present && !in.Continuity.Invalid &&
		in.Continuity.Value.Rules.RequireCostumeFidelity
	if requireCostume && in.Costume == nil {
		return ActionBlockForCostume, ReasonMissingCostume, priorAttempt
	}
	if in.Costume != nil && !in.Costume.Pass {
		return ActionBlockForCostume, ReasonCostumeFailed, priorAttempt
	}

	// 7. Metric failures consume budget; motion-only failures get the
	// cheaper motion retry.
	if in.Quality != nil && (!in.Quality.Overall.Pass || len(failed) > 0) {
		attempt := priorAttempt + 1
		if attempt > in.MaxRetries {
			return ActionEscalateHITL, ReasonMetrics, attempt
		}
		if subsetOfMotion(failed) {
			return ActionRetryMotion, ReasonMetrics, attempt
		}
		return ActionRetryRecast, ReasonMetrics, attempt
	}

	// 8. The finalize gate only ever downgrades a finalize.
	if in.Gate != nil && !in.Gate.Gate.AllowFinalize {
		return ActionEscalateHITL, ReasonGateBlocked, priorAttempt
	}

	// 9.
	return ActionProceedFinalize, ReasonOK, priorAttempt
}

// effectiveTargets returns the thresholds in force: contract values when the
// contract is valid, the defaults otherwise. Rule 1 handles the invalid case
// before any comparison happens.
func effectiveTargets(target Artifact[TargetContract]) map[string]float64 {
	if target.Present && !target.Invalid && validTargets(target.Value) {
		out := make(map[string]float64, len(target.Value.Thresholds))
		for k, v := range target.Value.Thresholds {
			out[k] = v
		}
		return out
	}
	return DefaultThresholds()
}

// validTargets reports whether the contract carries a usable threshold in
// (0, 1] for every canonical metric.
func validTargets(c TargetContract) bool {
	if c.Thresholds == nil {
		return false
	}
	for _, m := range []string{
		MetricIdentityConsistency,
		MetricMaskEdgeBleed,
		MetricTemporalStability,
		MetricLoopSeam,
		MetricAudioVideo,
	} {
		v, ok := c.Thresholds[m]
		if !ok || v <= 0 || v > 1 {
			return false
		}
	}
	return true
}

// failedMetrics unions the report's own failed list with a re-check of every
// available score against the effective thresholds, sorted for determinism.
func failedMetrics(q *QualityReport, targets map[string]float64) []string {
	if q == nil {
		return nil
	}
	seen := map[string]bool{}
	for _, m := range q.Overall.FailedMetrics {
		seen[m] = true
	}
	for name, row := range q.Metrics {
		if !row.Available {
			continue
		}
		threshold, ok := targets[name]
		if !ok {
			threshold = row.Threshold
		}
		if row.Score < threshold {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// subsetOfMotion reports whether every failed metric is repairable by a
// motion-only retry.
func subsetOfMotion(failed []string) bool {
	for _, m := range failed {
		if m != MetricTemporalStability && m != MetricLoopSeam {
			return false
		}
	}
	return true
}

// segmentPlan targets a motion retry at the smallest plausible scope: the
// seams when the loop seam failed, whole segments when temporal stability
// failed, everything otherwise.
func segmentPlan(stitch *StitchReport, failed []string) *SegmentRetry {
	has := func(metric string) bool {
		for _, m := range failed {
			if m == metric {
				return true
			}
		}
		return false
	}

	switch {
	case has(MetricLoopSeam):
		targets := make([]string, 0, len(stitch.Seams)*2)
		seen := map[string]bool{}
		for _, s := range stitch.Seams {
			for _, id := range []string{s.FromSegment, s.ToSegment} {
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				targets = append(targets, id)
			}
		}
		return &SegmentRetry{Mode: SegmentModeSeam, TargetSegments: targets, TriggerMetrics: []string{MetricLoopSeam}}
	case has(MetricTemporalStability):
		targets := make([]string, 0, len(stitch.Segments))
		for _, s := range stitch.Segments {
			if s.SegmentID != "" {
				targets = append(targets, s.SegmentID)
			}
		}
		return &SegmentRetry{Mode: SegmentModeSegment, TargetSegments: targets, TriggerMetrics: []string{MetricTemporalStability}}
	default:
		return &SegmentRetry{Mode: SegmentModeRetryAll, TargetSegments: []string{}, TriggerMetrics: failed}
	}
}

func passStatus(tp *TwoPass, identity bool) string {
	if tp == nil {
		return statusUnknown
	}
	s := tp.Passes.Motion.Status
	if identity {
		s = tp.Passes.Identity.Status
	}
	switch s {
	case statusPass, statusFail:
		return s
	default:
		return statusUnknown
	}
}
