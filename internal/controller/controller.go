// Package controller drives one job contract through its full lifecycle:
// validation, input checks, worker attempts, lineage verification, quality
// decisions and retries, ending in COMPLETED or a terminal FAIL_* state.
// Every transition is journaled before the state document is rewritten, so
// the events file reconstructs the run after a crash.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/caf/internal/contract"
	"github.com/ManuGH/caf/internal/decision"
	"github.com/ManuGH/caf/internal/fsm"
	"github.com/ManuGH/caf/internal/fsutil"
	"github.com/ManuGH/caf/internal/joblock"
	"github.com/ManuGH/caf/internal/journal"
	"github.com/ManuGH/caf/internal/metrics"
	"github.com/ManuGH/caf/internal/sandbox"
	"github.com/ManuGH/caf/internal/telemetry"
	"github.com/ManuGH/caf/internal/toolexec"
)

// Attempt id used when pre-existing outputs are evaluated without running
// the worker.
const preexistingAttemptID = "preexisting-output"

// The worker must produce all three under output/<job_id>/.
var outputBasenames = [...]string{"final.mp4", "final.srt", "result.json"}

// Options wires one controller invocation.
type Options struct {
	// JobPath is the job contract to process.
	JobPath string
	// MaxRetries bounds quality-driven re-attempts. Negative values clamp
	// to zero.
	MaxRetries int
	Layout     sandbox.Layout

	// Validator, Worker and Verifier are required. Orchestrator is the
	// optional two-pass QC summarizer; its failure never fails the job.
	Validator    toolexec.Tool
	Worker       toolexec.Tool
	Verifier     toolexec.Tool
	Orchestrator toolexec.Tool

	Log zerolog.Logger
}

// RunResult reports how a run ended. ExitCode is the process exit the caller
// should use: 0 for COMPLETED and for a lock held elsewhere, 1 otherwise.
type RunResult struct {
	JobID    string
	State    string
	ExitCode int
	Attempts int
	Busy     bool
}

// Controller executes jobs one at a time.
type Controller struct {
	opts Options
	log  zerolog.Logger
}

// New validates the wiring. The layout root does not need to exist yet.
func New(opts Options) (*Controller, error) {
	if opts.JobPath == "" {
		return nil, fmt.Errorf("controller: job path is required")
	}
	if opts.Validator == nil || opts.Worker == nil || opts.Verifier == nil {
		return nil, fmt.Errorf("controller: validator, worker and verifier tools are required")
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Controller{
		opts: opts,
		log:  opts.Log.With().Str("component", "controller").Logger(),
	}, nil
}

// run carries the per-invocation state.
type run struct {
	c        *Controller
	ctx      context.Context
	contract *contract.Contract
	ptrs     contractPointers
	jobID    string
	journal  *journal.Journal
	machine  *fsm.Machine[string, string]
	pointers journal.Pointers
	log      zerolog.Logger

	attempts      int
	prevAttemptID string
}

// contractPointers holds the five optional contract artifact locations after
// confinement checks. Empty means the contract does not declare the pointer.
type contractPointers struct {
	qualityTarget    string
	continuityPack   string
	motionContract   string
	segmentStitch    string
	generationPolicy string
}

// Run processes the job end to end. A non-nil error means the controller
// itself failed (journal write, path escape, cancellation); domain failures
// come back as a RunResult with ExitCode 1.
func (c *Controller) Run(ctx context.Context) (*RunResult, error) {
	tracer := telemetry.Tracer("caf.controller")
	ctx, span := tracer.Start(ctx, "caf.controller.run", trace.WithAttributes(
		attribute.String("job.path", c.opts.JobPath),
	))
	defer span.End()

	res, err := c.runJob(ctx)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.ExitCode != 0:
		span.SetAttributes(attribute.String("job.state", res.State), attribute.Int("job.attempts", res.Attempts))
		span.SetStatus(codes.Error, res.State)
	default:
		span.SetAttributes(attribute.String("job.state", res.State), attribute.Int("job.attempts", res.Attempts))
		span.SetStatus(codes.Ok, "")
	}
	return res, err
}

func (c *Controller) runJob(ctx context.Context) (*RunResult, error) {
	layout := c.opts.Layout

	// Validation logs to a staging file first: a job that fails validation
	// must not leave a half-built log directory behind.
	staging, err := os.CreateTemp("", "caf-validate-*.log")
	if err != nil {
		return nil, fmt.Errorf("%w: create staging log: %v", fsutil.ErrFs, err)
	}
	stagingPath := staging.Name()
	staging.Close()
	defer os.Remove(stagingPath)

	if verr := c.opts.Validator.Run(ctx, c.opts.JobPath, stagingPath, nil); verr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Error().Err(verr).
			Str("event", "controller.validate_failed").
			Str("job_path", c.opts.JobPath).
			Msg("contract validation failed")
		metrics.RecordJobOutcome(journal.StateFailValidate)
		return &RunResult{State: journal.StateFailValidate, ExitCode: 1}, nil
	}

	ctr, err := contract.Load(c.opts.JobPath)
	if err != nil {
		c.log.Error().Err(err).
			Str("event", "controller.contract_unreadable").
			Str("job_path", c.opts.JobPath).
			Msg("validated contract did not parse")
		metrics.RecordJobOutcome(journal.StateFailValidate)
		return &RunResult{State: journal.StateFailValidate, ExitCode: 1}, nil
	}

	// Pointer escapes are fatal before anything is persisted for the job.
	ptrs, err := resolvePointers(layout, ctr)
	if err != nil {
		return nil, err
	}

	jobID := ctr.JobID
	logger := c.log.With().Str("job_id", jobID).Logger()

	logsDir := layout.LogsDir(jobID)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir %s: %v", fsutil.ErrFs, logsDir, err)
	}

	lock, err := joblock.Acquire(layout.LockDir(jobID), logger)
	if errors.Is(err, joblock.ErrBusy) {
		logger.Info().
			Str("event", "controller.lock_busy").
			Msg("another controller holds the job, exiting cleanly")
		return &RunResult{JobID: jobID, Busy: true, ExitCode: 0}, nil
	}
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	machine, err := newMachine()
	if err != nil {
		return nil, err
	}

	r := &run{
		c:        c,
		ctx:      ctx,
		contract: ctr,
		ptrs:     ptrs,
		jobID:    jobID,
		journal:  journal.New(logsDir, jobID, logger),
		machine:  machine,
		log:      logger,
	}
	return r.execute(stagingPath)
}

func (r *run) execute(stagingLog string) (*RunResult, error) {
	layout := r.c.opts.Layout

	if err := r.emit(journal.EventDiscovered, "", "", "", map[string]any{
		"contract": r.rel(r.c.opts.JobPath),
	}); err != nil {
		return nil, err
	}

	// The canonical validate log lands before VALIDATED so the state
	// document can point at it.
	if err := fsutil.CopyFile(r.ctx, layout.ValidateLogPath(r.jobID), stagingLog); err != nil {
		return nil, err
	}
	r.pointers.ValidateLog = r.rel(layout.ValidateLogPath(r.jobID))

	if err := r.emit(journal.EventValidated, "", "", "", nil); err != nil {
		return nil, err
	}

	if !r.contract.MatchesStem(r.c.opts.JobPath) {
		stem := filepath.Base(r.c.opts.JobPath)
		stem = strings.TrimSuffix(stem, filepath.Ext(stem))
		stem = strings.TrimSuffix(stem, ".job")
		r.log.Warn().
			Str("event", "controller.job_id_mismatch").
			Str("filename_stem", stem).
			Msg("contract job_id differs from filename, contract wins")
		if err := r.emit(journal.EventJobIDMismatch, "", "", "", map[string]any{
			"filename_stem":   stem,
			"contract_job_id": r.jobID,
		}); err != nil {
			return nil, err
		}
	}

	if missing := r.missingOutputs(); len(missing) == 0 {
		res, err := r.reentry()
		if res != nil || err != nil {
			return res, err
		}
		// A retry decision with budget left falls through to a fresh
		// attempt against the existing sandbox.
	} else if len(missing) < len(outputBasenames) {
		present := presentOutputs(missing)
		r.log.Warn().
			Str("event", "controller.outputs_partial").
			Strs("missing", missing).
			Msg("partial outputs from an earlier run, proceeding to attempt")
		if err := r.emit(journal.EventOutputsPartial, "", "", "", map[string]any{
			"present": present,
			"missing": missing,
		}); err != nil {
			return nil, err
		}
	}

	if res, err := r.checkInputs(); res != nil || err != nil {
		return res, err
	}

	return r.attemptLoop()
}

// reentry evaluates pre-existing complete outputs without running the worker.
// It returns (nil, nil) when a retry decision with budget left should enter
// the attempt loop.
func (r *run) reentry() (*RunResult, error) {
	layout := r.c.opts.Layout

	r.pointers.Result = r.rel(layout.ResultPath(r.jobID))
	if err := r.emit(journal.EventOutputsPresent, preexistingAttemptID, "", "", map[string]any{
		"preexisting": true,
	}); err != nil {
		return nil, err
	}
	if err := r.emit(journal.EventLineageReady, preexistingAttemptID, "", "", nil); err != nil {
		return nil, err
	}

	verifyLog := layout.LineageVerifyLogPath(r.jobID)
	verr := r.c.opts.Verifier.Run(r.ctx, r.c.opts.JobPath, verifyLog, nil)
	r.pointers.LineageLog = r.rel(verifyLog)
	if verr != nil {
		if r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}
		if err := r.emit(journal.EventLineageFailed, preexistingAttemptID, "lineage verification failed", verr.Error(), map[string]any{
			"error": verr.Error(),
		}); err != nil {
			return nil, err
		}
		// Verification failures are retryable; fall through to the loop.
		return nil, nil
	}
	if err := r.emit(journal.EventLineageOK, preexistingAttemptID, "", "", nil); err != nil {
		return nil, err
	}

	out, err := r.decide(preexistingAttemptID, "")
	if err != nil {
		return nil, err
	}
	r.prevAttemptID = preexistingAttemptID

	switch out.class {
	case decision.ClassFinalize:
		if err := r.emit(journal.EventCompleted, preexistingAttemptID, string(out.reason), "", nil); err != nil {
			return nil, err
		}
		return r.terminal(0), nil
	case decision.ClassRetry:
		if err := r.emit(journal.EventQualityRetry, preexistingAttemptID, string(out.reason), "", map[string]any{
			"action": string(out.action),
		}); err != nil {
			return nil, err
		}
		if r.c.opts.MaxRetries > 0 {
			return nil, nil
		}
		return r.terminal(1), nil
	default:
		if err := r.emit(journal.EventQualityEscalated, preexistingAttemptID, string(out.reason), "", map[string]any{
			"action": string(out.action),
		}); err != nil {
			return nil, err
		}
		return r.terminal(1), nil
	}
}

// checkInputs verifies the declared background asset exists inside assets/.
// A failure is terminal; nothing a retry could fix.
func (r *run) checkInputs() (*RunResult, error) {
	asset, err := r.contract.ResolveBackgroundAsset(r.c.opts.Layout)
	if err == nil {
		err = fsutil.IsRegularFile(asset)
	}
	if err == nil {
		return nil, nil
	}

	r.log.Error().Err(err).
		Str("event", "controller.inputs_missing").
		Str("asset", r.contract.Render.BackgroundAsset).
		Msg("declared background asset unusable")
	if jerr := r.emit(journal.EventInputsMissing, "", "background asset missing", err.Error(), map[string]any{
		"asset": r.contract.Render.BackgroundAsset,
	}); jerr != nil {
		return nil, jerr
	}
	return r.terminal(1), nil
}

func (r *run) attemptLoop() (*RunResult, error) {
	layout := r.c.opts.Layout
	maxRetries := r.c.opts.MaxRetries

	for i := 0; i <= maxRetries; i++ {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}

		runID, err := NextRunID(layout.AttemptsDir(r.jobID))
		if err != nil {
			return nil, err
		}
		attemptDir := layout.AttemptDir(r.jobID, runID)
		if err := os.MkdirAll(attemptDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: mkdir %s: %v", fsutil.ErrFs, attemptDir, err)
		}

		r.attempts++
		metrics.RecordAttemptStart()
		r.pointers.AttemptDir = r.rel(attemptDir)
		r.pointers.WorkerLog = r.rel(layout.WorkerLogPath(r.jobID, runID))
		if err := r.emit(journal.EventAttemptStart, runID, "", "", map[string]any{
			"run_id":        runID,
			"attempt_index": i,
		}); err != nil {
			return nil, err
		}

		env := []string{toolexec.EnvRetryAttemptID + "=" + runID}
		if fsutil.IsRegularFile(layout.RetryPlanPath(r.jobID)) == nil {
			env = append(env, toolexec.EnvRetryPlanPath+"="+layout.RetryPlanPath(r.jobID))
		}
		werr := r.c.opts.Worker.Run(r.ctx, r.c.opts.JobPath, layout.WorkerLogPath(r.jobID, runID), env)
		if werr != nil {
			if r.ctx.Err() != nil {
				return nil, r.ctx.Err()
			}
			if err := r.emit(journal.EventWorkerFailed, runID, "worker failed", werr.Error(), map[string]any{
				"error": werr.Error(),
			}); err != nil {
				return nil, err
			}
			if i < maxRetries {
				continue
			}
			return r.terminal(1), nil
		}

		if missing := r.missingOutputs(); len(missing) > 0 {
			if err := r.emit(journal.EventOutputsMissing, runID, "worker finished without required outputs", "", map[string]any{
				"missing": missing,
			}); err != nil {
				return nil, err
			}
			if i < maxRetries {
				continue
			}
			return r.terminal(1), nil
		}

		r.pointers.Result = r.rel(layout.ResultPath(r.jobID))
		if err := r.emit(journal.EventOutputsPresent, runID, "", "", nil); err != nil {
			return nil, err
		}
		if err := r.emit(journal.EventLineageReady, runID, "", "", nil); err != nil {
			return nil, err
		}

		verifyLog := layout.AttemptVerifyLogPath(r.jobID, runID)
		verr := r.c.opts.Verifier.Run(r.ctx, r.c.opts.JobPath, verifyLog, nil)
		r.pointers.LineageLog = r.rel(verifyLog)
		if verr != nil {
			if r.ctx.Err() != nil {
				return nil, r.ctx.Err()
			}
			if err := r.emit(journal.EventLineageFailed, runID, "lineage verification failed", verr.Error(), map[string]any{
				"error": verr.Error(),
			}); err != nil {
				return nil, err
			}
			if i < maxRetries {
				continue
			}
			return r.terminal(1), nil
		}
		if err := r.emit(journal.EventLineageOK, runID, "", "", nil); err != nil {
			return nil, err
		}

		out, err := r.decide(runID, r.prevAttemptID)
		if err != nil {
			return nil, err
		}
		r.prevAttemptID = runID

		switch out.class {
		case decision.ClassFinalize:
			if err := r.emit(journal.EventCompleted, runID, string(out.reason), "", nil); err != nil {
				return nil, err
			}
			return r.terminal(0), nil
		case decision.ClassRetry:
			if err := r.emit(journal.EventQualityRetry, runID, string(out.reason), "", map[string]any{
				"action":     string(out.action),
				"retry_type": out.retryType,
			}); err != nil {
				return nil, err
			}
			if i < maxRetries {
				continue
			}
			return r.terminal(1), nil
		default:
			if err := r.emit(journal.EventQualityEscalated, runID, string(out.reason), "", map[string]any{
				"action": string(out.action),
			}); err != nil {
				return nil, err
			}
			return r.terminal(1), nil
		}
	}
	return r.terminal(1), nil
}

// emit fires the event through the state machine, appends it to the journal
// and then rewrites the state document. Journal order is load-bearing.
func (r *run) emit(event, attemptID, reason, errMsg string, details map[string]any) error {
	from, to, err := r.machine.Fire(event)
	if err != nil {
		return fmt.Errorf("job %s: %w", r.jobID, err)
	}
	if err := r.journal.AppendEvent(event, from, to, attemptID, details); err != nil {
		return err
	}
	return r.journal.WriteState(to, attemptID, reason, errMsg, r.pointers)
}

func (r *run) terminal(exitCode int) *RunResult {
	state := r.machine.Current()
	metrics.RecordJobOutcome(state)
	r.log.Info().
		Str("event", "controller.terminal").
		Str("state", state).
		Int("exit_code", exitCode).
		Int("attempts", r.attempts).
		Msg("job finished")
	return &RunResult{
		JobID:    r.jobID,
		State:    state,
		ExitCode: exitCode,
		Attempts: r.attempts,
	}
}

func (r *run) missingOutputs() []string {
	layout := r.c.opts.Layout
	paths := map[string]string{
		"final.mp4":   layout.FinalVideoPath(r.jobID),
		"final.srt":   layout.FinalSubtitlePath(r.jobID),
		"result.json": layout.ResultPath(r.jobID),
	}
	var missing []string
	for _, name := range outputBasenames {
		if fsutil.IsRegularFile(paths[name]) != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func presentOutputs(missing []string) []string {
	gone := make(map[string]bool, len(missing))
	for _, m := range missing {
		gone[m] = true
	}
	var present []string
	for _, name := range outputBasenames {
		if !gone[name] {
			present = append(present, name)
		}
	}
	return present
}

// rel converts an absolute sandbox path to its journal-friendly relative
// form, falling back to the input when it lies outside the root.
func (r *run) rel(path string) string {
	rel, err := fsutil.SafeRelPath(path, r.c.opts.Layout.Root())
	if err != nil {
		return path
	}
	return rel
}

func resolvePointers(layout sandbox.Layout, c *contract.Contract) (contractPointers, error) {
	var p contractPointers
	var err error
	if p.qualityTarget, err = c.QualityTarget.Resolve(layout); err != nil {
		return p, fmt.Errorf("quality_target pointer: %w", err)
	}
	if p.continuityPack, err = c.ContinuityPack.Resolve(layout); err != nil {
		return p, fmt.Errorf("continuity_pack pointer: %w", err)
	}
	if p.motionContract, err = c.MotionContract.Resolve(layout); err != nil {
		return p, fmt.Errorf("motion_contract pointer: %w", err)
	}
	if p.segmentStitch, err = c.SegmentStitch.Resolve(layout); err != nil {
		return p, fmt.Errorf("segment_stitch pointer: %w", err)
	}
	if p.generationPolicy, err = c.GenerationPolicy.Resolve(layout); err != nil {
		return p, fmt.Errorf("generation_policy pointer: %w", err)
	}
	return p, nil
}
