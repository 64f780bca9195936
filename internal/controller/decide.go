package controller

import (
	"github.com/ManuGH/caf/internal/decision"
	"github.com/ManuGH/caf/internal/fsutil"
	"github.com/ManuGH/caf/internal/journal"
	"github.com/ManuGH/caf/internal/lineage"
	"github.com/ManuGH/caf/internal/metrics"
)

type decisionOutcome struct {
	action    decision.Action
	reason    decision.Reason
	class     decision.Class
	retryType string
}

// decide runs the advisory two-pass orchestration, evaluates the quality rule
// table over the sandbox artifacts, persists the decision document plus any
// retry plan, appends the lineage record and journals QUALITY_DECISION.
func (r *run) decide(attemptID, sourceAttemptID string) (*decisionOutcome, error) {
	layout := r.c.opts.Layout

	// The orchestration summarizes motion and identity passes into one
	// artifact. When it breaks, pass statuses flow into the decision as
	// "unknown" rather than failing the attempt.
	if r.c.opts.Orchestrator != nil {
		if oerr := r.c.opts.Orchestrator.Run(r.ctx, r.c.opts.JobPath, layout.TwoPassLogPath(r.jobID), nil); oerr != nil {
			if r.ctx.Err() != nil {
				return nil, r.ctx.Err()
			}
			r.log.Warn().Err(oerr).
				Str("event", "controller.two_pass_failed").
				Str("attempt_id", attemptID).
				Msg("two-pass orchestration failed, continuing without pass statuses")
		}
	}

	in, err := decision.LoadInput(layout, r.jobID, r.c.opts.MaxRetries, decision.SourcePointers{
		QualityTarget:  r.ptrs.qualityTarget,
		ContinuityPack: r.ptrs.continuityPack,
		SegmentStitch:  r.ptrs.segmentStitch,
	}, r.log)
	if err != nil {
		return nil, err
	}
	doc := decision.Decide(in)

	// Re-read the gate right before acting: it may have been flipped while
	// the attempt ran, and the downgrade must win over a stale green.
	gate := decision.LoadGate(layout.GatePath(r.jobID), r.log)
	if decision.ApplyGate(&doc, gate) {
		r.log.Warn().
			Str("event", "controller.gate_downgrade").
			Str("attempt_id", attemptID).
			Msg("finalize gate closed after evaluation, escalating")
	}

	if err := fsutil.WriteJSONAtomic(layout.DecisionPath(r.jobID), doc); err != nil {
		return nil, err
	}

	action := doc.Decision.Action
	reason := doc.Decision.Reason
	class := decision.Classify(action)
	retryType := decision.RetryType(action)

	artifacts := map[string]string{
		"decision": r.rel(layout.DecisionPath(r.jobID)),
	}
	if doc.Inputs.QualityReport != "" {
		artifacts["quality_report"] = doc.Inputs.QualityReport
	}
	if doc.Inputs.CostumeReport != "" {
		artifacts["costume_report"] = doc.Inputs.CostumeReport
	}
	if doc.Inputs.TwoPass != "" {
		artifacts["two_pass_orchestration"] = doc.Inputs.TwoPass
	}

	if class == decision.ClassRetry {
		plan := decision.RetryPlan{
			Version:         decision.RetryPlanVersion,
			JobID:           r.jobID,
			GeneratedAt:     doc.GeneratedAt,
			SourceAttemptID: attemptID,
			Action:          action,
			Reason:          reason,
			RetryType:       retryType,
			SegmentRetry:    doc.SegmentPlan,
		}
		if err := fsutil.WriteJSONAtomic(layout.RetryPlanPath(r.jobID), plan); err != nil {
			return nil, err
		}
		artifacts["retry_plan"] = r.rel(layout.RetryPlanPath(r.jobID))
	}

	entry := lineage.Attempt{
		AttemptID:       attemptID,
		SourceAttemptID: sourceAttemptID,
		DecisionAction:  string(action),
		DecisionReason:  string(reason),
		Resolution:      string(class),
		RetryType:       retryType,
		SegmentRetry:    doc.SegmentPlan,
		Artifacts:       artifacts,
	}
	if err := lineage.AppendAttempt(layout.LineagePath(r.jobID), r.jobID, entry, r.log); err != nil {
		return nil, err
	}

	if err := r.emit(journal.EventQualityDecision, attemptID, string(reason), "", map[string]any{
		"action":        string(action),
		"reason":        string(reason),
		"retry_attempt": doc.Policy.RetryAttempt,
		"max_retries":   doc.Policy.MaxRetries,
	}); err != nil {
		return nil, err
	}

	metrics.RecordDecision(string(action), string(reason), string(class))
	r.log.Info().
		Str("event", "controller.decision").
		Str("attempt_id", attemptID).
		Interface("decision", doc.Summary()).
		Msg("quality decision recorded")

	return &decisionOutcome{
		action:    action,
		reason:    reason,
		class:     class,
		retryType: retryType,
	}, nil
}
