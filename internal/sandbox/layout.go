// Package sandbox centralizes every path derivation under the sandbox root.
// Components never compute sandbox paths ad hoc; they ask the Layout, which
// keeps the directory contract in one reviewable place.
package sandbox

import (
	"fmt"
	"path/filepath"
)

// Layout derives the canonical locations of jobs, logs, outputs, assets and
// distribution artifacts under one sandbox root.
type Layout struct {
	root string
}

// New returns a Layout rooted at root. The root is made absolute so derived
// paths survive working-directory changes; it does not need to exist yet.
func New(root string) (Layout, error) {
	if root == "" {
		return Layout{}, fmt.Errorf("sandbox root must not be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve sandbox root %q: %w", root, err)
	}
	return Layout{root: abs}, nil
}

// Root returns the absolute sandbox root.
func (l Layout) Root() string { return l.root }

// JobsDir holds planner-written job contracts.
func (l Layout) JobsDir() string { return filepath.Join(l.root, "jobs") }

// JobContract is the conventional contract path for a job id.
func (l Layout) JobContract(jobID string) string {
	return filepath.Join(l.JobsDir(), jobID+".job.json")
}

// InboxDir is watched by the distribution runner for approve-*.json files.
func (l Layout) InboxDir() string { return filepath.Join(l.root, "inbox") }

// AssetsDir holds background and identity assets, read-only to the controller.
func (l Layout) AssetsDir() string { return filepath.Join(l.root, "assets") }

// RepoDir holds pointer-resolved contract artifacts ("repo/..." relpaths).
func (l Layout) RepoDir() string { return filepath.Join(l.root, "repo") }

// LogsDir is the per-job control-plane directory.
func (l Layout) LogsDir(jobID string) string {
	return filepath.Join(l.root, "logs", jobID)
}

// EventsPath is the append-only NDJSON event journal.
func (l Layout) EventsPath(jobID string) string {
	return filepath.Join(l.LogsDir(jobID), "events.ndjson")
}

// StatePath is the single current-state document.
func (l Layout) StatePath(jobID string) string {
	return filepath.Join(l.LogsDir(jobID), "state.json")
}

// LockDir is the per-job mutual-exclusion token directory.
func (l Layout) LockDir(jobID string) string {
	return filepath.Join(l.LogsDir(jobID), ".lock")
}

// ValidateLogPath is the canonical validator log location.
func (l Layout) ValidateLogPath(jobID string) string {
	return filepath.Join(l.LogsDir(jobID), "validate_job.log")
}

// LineageVerifyLogPath is the job-level lineage-verify log used on the
// pre-existing-outputs path where no attempt directory exists.
func (l Layout) LineageVerifyLogPath(jobID string) string {
	return filepath.Join(l.LogsDir(jobID), "lineage_verify.log")
}

// AttemptsDir contains one run-NNNN directory per executed attempt.
func (l Layout) AttemptsDir(jobID string) string {
	return filepath.Join(l.LogsDir(jobID), "attempts")
}

// AttemptDir is the directory for one attempt.
func (l Layout) AttemptDir(jobID, runID string) string {
	return filepath.Join(l.AttemptsDir(jobID), runID)
}

// WorkerLogPath captures the worker subprocess output for one attempt.
func (l Layout) WorkerLogPath(jobID, runID string) string {
	return filepath.Join(l.AttemptDir(jobID, runID), "worker.log")
}

// AttemptVerifyLogPath captures the lineage-verify output for one attempt.
func (l Layout) AttemptVerifyLogPath(jobID, runID string) string {
	return filepath.Join(l.AttemptDir(jobID, runID), "lineage_verify.log")
}

// QCDir holds the controller-written quality-control artifacts.
func (l Layout) QCDir(jobID string) string {
	return filepath.Join(l.LogsDir(jobID), "qc")
}

// DecisionPath is the quality decision document.
func (l Layout) DecisionPath(jobID string) string {
	return filepath.Join(l.QCDir(jobID), "quality_decision.v1.json")
}

// TwoPassPath is written by the two-pass orchestration collaborator.
func (l Layout) TwoPassPath(jobID string) string {
	return filepath.Join(l.QCDir(jobID), "two_pass_orchestration.v1.json")
}

// RetryPlanPath is consumed by the next worker invocation via env.
func (l Layout) RetryPlanPath(jobID string) string {
	return filepath.Join(l.QCDir(jobID), "retry_plan.v1.json")
}

// GatePath is the optional finalize gate artifact.
func (l Layout) GatePath(jobID string) string {
	return filepath.Join(l.QCDir(jobID), "finalize_gate.v1.json")
}

// LineagePath is the retry-attempt lineage document.
func (l Layout) LineagePath(jobID string) string {
	return filepath.Join(l.QCDir(jobID), "retry_attempt_lineage.v1.json")
}

// TwoPassLogPath captures the two-pass orchestration subprocess output.
func (l Layout) TwoPassLogPath(jobID string) string {
	return filepath.Join(l.QCDir(jobID), "two_pass_orchestration.log")
}

// OutputDir holds worker-produced artifacts for a job.
func (l Layout) OutputDir(jobID string) string {
	return filepath.Join(l.root, "output", jobID)
}

// FinalVideoPath is the worker's primary deliverable.
func (l Layout) FinalVideoPath(jobID string) string {
	return filepath.Join(l.OutputDir(jobID), "final.mp4")
}

// FinalSubtitlePath is the worker-produced subtitle track.
func (l Layout) FinalSubtitlePath(jobID string) string {
	return filepath.Join(l.OutputDir(jobID), "final.srt")
}

// ResultPath is the worker's machine-readable run summary.
func (l Layout) ResultPath(jobID string) string {
	return filepath.Join(l.OutputDir(jobID), "result.json")
}

// OutputQCDir holds scoring-tool reports for a job.
func (l Layout) OutputQCDir(jobID string) string {
	return filepath.Join(l.OutputDir(jobID), "qc")
}

// QualityReportPath is dropped by the scoring tools.
func (l Layout) QualityReportPath(jobID string) string {
	return filepath.Join(l.OutputQCDir(jobID), "quality_report.v1.json")
}

// CostumeReportPath is dropped by the costume-fidelity scorer.
func (l Layout) CostumeReportPath(jobID string) string {
	return filepath.Join(l.OutputQCDir(jobID), "costume_fidelity.v1.json")
}

// StitchReportPath locates the segment stitch report used for targeted
// motion retries.
func (l Layout) StitchReportPath(jobID string) string {
	return filepath.Join(l.OutputDir(jobID), "segments", "segment_stitch_report.v1.json")
}

// DistRoot is the distribution artifacts root.
func (l Layout) DistRoot() string { return filepath.Join(l.root, "dist_artifacts") }

// DistJobDir holds the publish plan, platform states and bundles for a job.
func (l Layout) DistJobDir(jobID string) string {
	return filepath.Join(l.DistRoot(), jobID)
}

// PublishPlanPath is the cross-platform publishing plan.
func (l Layout) PublishPlanPath(jobID string) string {
	return filepath.Join(l.DistJobDir(jobID), "publish_plan.json")
}

// PlatformStatePath is the per-(job,platform) idempotency record.
func (l Layout) PlatformStatePath(jobID, platform string) string {
	return filepath.Join(l.DistJobDir(jobID), platform+".state.json")
}

// BundlesDir contains the versioned bundle trees for one platform.
func (l Layout) BundlesDir(jobID, platform string) string {
	return filepath.Join(l.DistJobDir(jobID), "bundles", platform)
}

// HistoryDBPath is the default dispatch-history ledger location.
func (l Layout) HistoryDBPath() string {
	return filepath.Join(l.DistRoot(), "history.db")
}
