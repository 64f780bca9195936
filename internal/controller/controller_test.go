package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/caf/internal/decision"
	"github.com/ManuGH/caf/internal/fsutil"
	"github.com/ManuGH/caf/internal/joblock"
	"github.com/ManuGH/caf/internal/journal"
	"github.com/ManuGH/caf/internal/lineage"
	"github.com/ManuGH/caf/internal/sandbox"
	"github.com/ManuGH/caf/internal/toolexec"
)

const testJobID = "job-000042"

type testEnv struct {
	layout  sandbox.Layout
	jobPath string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	layout, err := sandbox.New(t.TempDir())
	require.NoError(t, err)

	writeTestFile(t, filepath.Join(layout.AssetsDir(), "bg", "loop.mp4"), "not really video")
	jobPath := writeTestContract(t, layout, testJobID, testJobID+".job.json")
	return &testEnv{layout: layout, jobPath: jobPath}
}

func writeTestContract(t *testing.T, layout sandbox.Layout, jobID, filename string) string {
	t.Helper()
	doc := map[string]any{
		"job_id": jobID,
		"video": map[string]any{
			"length_sec": 30,
			"aspect":     "9:16",
			"fps":        30,
			"resolution": "1080x1920",
		},
		"shots": []map[string]any{
			{"shot_id": "s1", "t": 0, "visual": "neon skyline", "action": "slow pan"},
		},
		"render": map[string]any{"background_asset": "assets/bg/loop.mp4"},
	}
	path := filepath.Join(layout.JobsDir(), filename)
	require.NoError(t, fsutil.WriteJSONAtomic(path, doc))
	return path
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeTestJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, fsutil.WriteJSONAtomic(path, v))
}

// okTool writes a one-line log and succeeds.
func okTool(line string) toolexec.ToolFunc {
	return func(_ context.Context, _, logPath string, _ []string) error {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return err
		}
		return os.WriteFile(logPath, []byte(line+"\n"), 0o644)
	}
}

func writeWorkerOutputs(t *testing.T, layout sandbox.Layout, jobID string) {
	t.Helper()
	writeTestFile(t, layout.FinalVideoPath(jobID), "mp4 bytes")
	writeTestFile(t, layout.FinalSubtitlePath(jobID), "1\n00:00:00,000 --> 00:00:01,000\nhi\n")
	writeTestJSON(t, layout.ResultPath(jobID), map[string]any{"status": "ok"})
}

func failingQualityReport(metric string) map[string]any {
	return map[string]any{
		"metrics": map[string]any{
			metric: map[string]any{"available": true, "score": 0.40, "threshold": 0.70, "pass": false},
		},
		"overall": map[string]any{"pass": false, "failed_metrics": []string{metric}},
	}
}

func passingQualityReport() map[string]any {
	return map[string]any{
		"metrics": map[string]any{
			"temporal_stability": map[string]any{"available": true, "score": 0.92, "threshold": 0.70, "pass": true},
		},
		"overall": map[string]any{"pass": true, "failed_metrics": []string{}},
	}
}

func newController(t *testing.T, env *testEnv, maxRetries int, worker, verifier, orchestrator toolexec.Tool) *Controller {
	t.Helper()
	c, err := New(Options{
		JobPath:      env.jobPath,
		MaxRetries:   maxRetries,
		Layout:       env.layout,
		Validator:    okTool("validated"),
		Worker:       worker,
		Verifier:     verifier,
		Orchestrator: orchestrator,
		Log:          zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func eventNames(t *testing.T, env *testEnv, jobID string) []string {
	t.Helper()
	events, err := journal.ReadEvents(env.layout.EventsPath(jobID))
	require.NoError(t, err)
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Event
	}
	return names
}

func currentState(t *testing.T, env *testEnv, jobID string) *journal.State {
	t.Helper()
	st, err := journal.ReadState(env.layout.StatePath(jobID))
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func TestNew_RequiresTools(t *testing.T) {
	_, err := New(Options{JobPath: "x"})
	require.Error(t, err)
	_, err = New(Options{Validator: okTool("v"), Worker: okTool("w"), Verifier: okTool("l")})
	require.Error(t, err)
}

func TestRun_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeWorkerOutputs(t, env.layout, testJobID)
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})

	c := newController(t, env, 2, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateCompleted, res.State)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, 1, res.Attempts)
	require.Equal(t, testJobID, res.JobID)

	require.Equal(t, []string{
		journal.EventDiscovered,
		journal.EventValidated,
		journal.EventAttemptStart,
		journal.EventOutputsPresent,
		journal.EventLineageReady,
		journal.EventLineageOK,
		journal.EventQualityDecision,
		journal.EventCompleted,
	}, eventNames(t, env, testJobID))

	events, err := journal.ReadEvents(env.layout.EventsPath(testJobID))
	require.NoError(t, err)
	require.Equal(t, "run-0001", events[2].AttemptID)
	require.Equal(t, "run-0001", events[2].Details["run_id"])

	st := currentState(t, env, testJobID)
	require.Equal(t, journal.StateCompleted, st.State)
	require.Equal(t, "logs/"+testJobID+"/validate_job.log", st.Pointers.ValidateLog)
	require.Equal(t, "output/"+testJobID+"/result.json", st.Pointers.Result)

	// Validator output reached the canonical location via the staging copy.
	data, err := os.ReadFile(env.layout.ValidateLogPath(testJobID))
	require.NoError(t, err)
	require.Equal(t, "validated\n", string(data))

	var doc decision.Document
	ok, err := fsutil.ReadJSONIfExists(env.layout.DecisionPath(testJobID), &doc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, decision.ActionProceedFinalize, doc.Decision.Action)

	ldoc, err := lineage.Read(env.layout.LineagePath(testJobID))
	require.NoError(t, err)
	require.NotNil(t, ldoc)
	attempts, err := ldoc.DecodeAttempts()
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, "run-0001", attempts[0].AttemptID)
	require.Empty(t, attempts[0].SourceAttemptID)
	require.Equal(t, "finalize", attempts[0].Resolution)
}

func TestRun_MotionRetryThenComplete(t *testing.T) {
	env := newTestEnv(t)

	var workerEnvs [][]string
	calls := 0
	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, extraEnv []string) error {
		calls++
		workerEnvs = append(workerEnvs, extraEnv)
		writeWorkerOutputs(t, env.layout, testJobID)
		if calls == 1 {
			writeTestJSON(t, env.layout.QualityReportPath(testJobID), failingQualityReport("temporal_stability"))
		} else {
			writeTestJSON(t, env.layout.QualityReportPath(testJobID), passingQualityReport())
		}
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})

	c := newController(t, env, 2, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateCompleted, res.State)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, 2, res.Attempts)

	names := eventNames(t, env, testJobID)
	require.Equal(t, []string{
		journal.EventDiscovered,
		journal.EventValidated,
		journal.EventAttemptStart,
		journal.EventOutputsPresent,
		journal.EventLineageReady,
		journal.EventLineageOK,
		journal.EventQualityDecision,
		journal.EventQualityRetry,
		journal.EventAttemptStart,
		journal.EventOutputsPresent,
		journal.EventLineageReady,
		journal.EventLineageOK,
		journal.EventQualityDecision,
		journal.EventCompleted,
	}, names)

	// First attempt runs without a plan; the retry sees the plan path.
	require.Len(t, workerEnvs, 2)
	require.Equal(t, []string{toolexec.EnvRetryAttemptID + "=run-0001"}, workerEnvs[0])
	require.Contains(t, workerEnvs[1], toolexec.EnvRetryAttemptID+"=run-0002")
	require.Contains(t, workerEnvs[1], toolexec.EnvRetryPlanPath+"="+env.layout.RetryPlanPath(testJobID))

	var plan decision.RetryPlan
	ok, err := fsutil.ReadJSONIfExists(env.layout.RetryPlanPath(testJobID), &plan)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, decision.RetryPlanVersion, plan.Version)
	require.Equal(t, decision.ActionRetryMotion, plan.Action)
	require.Equal(t, "motion", plan.RetryType)
	require.Equal(t, "run-0001", plan.SourceAttemptID)

	ldoc, err := lineage.Read(env.layout.LineagePath(testJobID))
	require.NoError(t, err)
	attempts, err := ldoc.DecodeAttempts()
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "retry", attempts[0].Resolution)
	require.Equal(t, "run-0001", attempts[1].SourceAttemptID)
	require.Equal(t, "finalize", attempts[1].Resolution)
}

func TestRun_IdentityFailureExhaustsBudget(t *testing.T) {
	env := newTestEnv(t)

	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeWorkerOutputs(t, env.layout, testJobID)
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})
	orchestrator := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeTestJSON(t, env.layout.TwoPassPath(testJobID), map[string]any{
			"passes": map[string]any{
				"motion":   map[string]any{"status": "pass"},
				"identity": map[string]any{"status": "fail"},
			},
		})
		return os.WriteFile(logPath, []byte("two-pass done\n"), 0o644)
	})

	c := newController(t, env, 1, worker, okTool("lineage ok"), orchestrator)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateFailQuality, res.State)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, 2, res.Attempts)

	names := eventNames(t, env, testJobID)
	require.Equal(t, journal.EventQualityEscalated, names[len(names)-1])

	ldoc, err := lineage.Read(env.layout.LineagePath(testJobID))
	require.NoError(t, err)
	attempts, err := ldoc.DecodeAttempts()
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, string(decision.ActionRetryRecast), attempts[0].DecisionAction)
	require.Equal(t, "retry", attempts[0].Resolution)
	require.Equal(t, string(decision.ActionEscalateHITL), attempts[1].DecisionAction)
	require.Equal(t, "escalate", attempts[1].Resolution)
}

func TestRun_PreexistingOutputsFinalize(t *testing.T) {
	env := newTestEnv(t)
	writeWorkerOutputs(t, env.layout, testJobID)

	workerCalled := false
	worker := toolexec.ToolFunc(func(_ context.Context, _, _ string, _ []string) error {
		workerCalled = true
		return nil
	})

	c := newController(t, env, 2, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.False(t, workerCalled)
	require.Equal(t, journal.StateCompleted, res.State)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, 0, res.Attempts)

	require.Equal(t, []string{
		journal.EventDiscovered,
		journal.EventValidated,
		journal.EventOutputsPresent,
		journal.EventLineageReady,
		journal.EventLineageOK,
		journal.EventQualityDecision,
		journal.EventCompleted,
	}, eventNames(t, env, testJobID))

	ldoc, err := lineage.Read(env.layout.LineagePath(testJobID))
	require.NoError(t, err)
	attempts, err := ldoc.DecodeAttempts()
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.Equal(t, "preexisting-output", attempts[0].AttemptID)
	require.Empty(t, attempts[0].RetryType)

	// The verify log lands at the job level, not under an attempt.
	_, err = os.Stat(env.layout.LineageVerifyLogPath(testJobID))
	require.NoError(t, err)
	_, err = os.Stat(env.layout.AttemptsDir(testJobID))
	require.True(t, os.IsNotExist(err))
}

func TestRun_PreexistingOutputsRetryReentersLoop(t *testing.T) {
	env := newTestEnv(t)
	writeWorkerOutputs(t, env.layout, testJobID)
	writeTestJSON(t, env.layout.QualityReportPath(testJobID), failingQualityReport("loop_seam"))

	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeWorkerOutputs(t, env.layout, testJobID)
		writeTestJSON(t, env.layout.QualityReportPath(testJobID), passingQualityReport())
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})

	c := newController(t, env, 2, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateCompleted, res.State)
	require.Equal(t, 1, res.Attempts)

	ldoc, err := lineage.Read(env.layout.LineagePath(testJobID))
	require.NoError(t, err)
	attempts, err := ldoc.DecodeAttempts()
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "preexisting-output", attempts[0].AttemptID)
	require.Equal(t, "retry", attempts[0].Resolution)
	require.Equal(t, "run-0001", attempts[1].AttemptID)
	require.Equal(t, "preexisting-output", attempts[1].SourceAttemptID)
}

func TestRun_PreexistingOutputsEscalateWithoutBudget(t *testing.T) {
	env := newTestEnv(t)
	writeWorkerOutputs(t, env.layout, testJobID)
	writeTestJSON(t, env.layout.QualityReportPath(testJobID), failingQualityReport("loop_seam"))

	worker := toolexec.ToolFunc(func(_ context.Context, _, _ string, _ []string) error {
		t.Fatal("worker must not run with max retries 0")
		return nil
	})

	c := newController(t, env, 0, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	// Budget 0 turns the metric failure into an escalation at decision time.
	require.Equal(t, journal.StateFailQuality, res.State)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, 0, res.Attempts)
	names := eventNames(t, env, testJobID)
	require.Equal(t, journal.EventQualityEscalated, names[len(names)-1])
}

func TestRun_ValidationFailureLeavesNoLogs(t *testing.T) {
	env := newTestEnv(t)
	failValidator := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		_ = os.WriteFile(logPath, []byte("error: schema violation\n"), 0o644)
		return os.ErrInvalid
	})

	c, err := New(Options{
		JobPath:   env.jobPath,
		Layout:    env.layout,
		Validator: failValidator,
		Worker:    okTool("w"),
		Verifier:  okTool("l"),
		Log:       zerolog.Nop(),
	})
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, journal.StateFailValidate, res.State)
	require.Equal(t, 1, res.ExitCode)

	_, err = os.Stat(env.layout.LogsDir(testJobID))
	require.True(t, os.IsNotExist(err))
}

func TestRun_WorkerFailureExhaustsBudget(t *testing.T) {
	env := newTestEnv(t)
	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		_ = os.WriteFile(logPath, []byte("boom\n"), 0o644)
		return os.ErrInvalid
	})

	c := newController(t, env, 1, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateFailWorker, res.State)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, 2, res.Attempts)

	require.Equal(t, []string{
		journal.EventDiscovered,
		journal.EventValidated,
		journal.EventAttemptStart,
		journal.EventWorkerFailed,
		journal.EventAttemptStart,
		journal.EventWorkerFailed,
	}, eventNames(t, env, testJobID))

	// No decision ever ran, so no lineage document exists.
	ldoc, err := lineage.Read(env.layout.LineagePath(testJobID))
	require.NoError(t, err)
	require.Nil(t, ldoc)
}

func TestRun_MissingOutputsFails(t *testing.T) {
	env := newTestEnv(t)
	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		// Produces only one of the three artifacts.
		writeTestFile(t, env.layout.FinalVideoPath(testJobID), "mp4")
		return os.WriteFile(logPath, []byte("partial\n"), 0o644)
	})

	c := newController(t, env, 0, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateFailOutputs, res.State)
	require.Equal(t, 1, res.ExitCode)

	events, err := journal.ReadEvents(env.layout.EventsPath(testJobID))
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, journal.EventOutputsMissing, last.Event)
	require.ElementsMatch(t, []any{"final.srt", "result.json"}, last.Details["missing"])
}

func TestRun_PartialOutputsWarnThenProceed(t *testing.T) {
	env := newTestEnv(t)
	writeTestFile(t, env.layout.FinalVideoPath(testJobID), "stale mp4")

	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeWorkerOutputs(t, env.layout, testJobID)
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})

	c := newController(t, env, 0, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, journal.StateCompleted, res.State)

	names := eventNames(t, env, testJobID)
	require.Equal(t, journal.EventOutputsPartial, names[2])

	events, err := journal.ReadEvents(env.layout.EventsPath(testJobID))
	require.NoError(t, err)
	require.ElementsMatch(t, []any{"final.srt", "result.json"}, events[2].Details["missing"])
	require.ElementsMatch(t, []any{"final.mp4"}, events[2].Details["present"])
}

func TestRun_JobIDMismatchWarnsAndContractWins(t *testing.T) {
	env := newTestEnv(t)
	env.jobPath = writeTestContract(t, env.layout, testJobID, "renamed-by-hand.job.json")

	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeWorkerOutputs(t, env.layout, testJobID)
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})

	c := newController(t, env, 0, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, testJobID, res.JobID)
	require.Equal(t, journal.StateCompleted, res.State)

	events, err := journal.ReadEvents(env.layout.EventsPath(testJobID))
	require.NoError(t, err)
	require.Equal(t, journal.EventJobIDMismatch, events[2].Event)
	require.Equal(t, "renamed-by-hand", events[2].Details["filename_stem"])
	require.Equal(t, testJobID, events[2].Details["contract_job_id"])
	require.Equal(t, journal.StateValidated, events[2].ToState)
}

func TestRun_MissingBackgroundAsset(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.Remove(filepath.Join(env.layout.AssetsDir(), "bg", "loop.mp4")))

	c := newController(t, env, 2, okTool("w"), okTool("l"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateFailMissingInputs, res.State)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, 0, res.Attempts)

	names := eventNames(t, env, testJobID)
	require.Equal(t, journal.EventInputsMissing, names[len(names)-1])
}

func TestRun_LockBusyExitsZero(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.layout.LogsDir(testJobID), 0o755))
	held, err := joblock.Acquire(env.layout.LockDir(testJobID), zerolog.Nop())
	require.NoError(t, err)
	defer held.Release()

	c := newController(t, env, 2, okTool("w"), okTool("l"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.True(t, res.Busy)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, testJobID, res.JobID)

	// The holder's journal stays untouched.
	_, err = os.Stat(env.layout.EventsPath(testJobID))
	require.True(t, os.IsNotExist(err))
}

func TestRun_VerifyFailureExhaustsBudget(t *testing.T) {
	env := newTestEnv(t)
	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeWorkerOutputs(t, env.layout, testJobID)
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})
	verifier := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		_ = os.WriteFile(logPath, []byte("hash mismatch\n"), 0o644)
		return os.ErrInvalid
	})

	c := newController(t, env, 1, worker, verifier, nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateFailVerify, res.State)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, 2, res.Attempts)

	names := eventNames(t, env, testJobID)
	require.Equal(t, journal.EventLineageFailed, names[len(names)-1])
}

func TestRun_GateClosedEscalates(t *testing.T) {
	env := newTestEnv(t)
	writeTestJSON(t, env.layout.GatePath(testJobID), map[string]any{
		"gate": map[string]any{"allow_finalize": false, "reasons": []string{"legal hold"}},
	})

	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeWorkerOutputs(t, env.layout, testJobID)
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})

	c := newController(t, env, 2, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, journal.StateFailQuality, res.State)
	require.Equal(t, 1, res.ExitCode)

	var doc decision.Document
	ok, err := fsutil.ReadJSONIfExists(env.layout.DecisionPath(testJobID), &doc)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, decision.ActionEscalateHITL, doc.Decision.Action)
	require.Equal(t, decision.ReasonGateBlocked, doc.Decision.Reason)
}

func TestRun_RunIDsContinuePastLeftovers(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.MkdirAll(env.layout.AttemptDir(testJobID, "run-0003"), 0o755))
	require.NoError(t, os.MkdirAll(env.layout.AttemptDir(testJobID, "run-0007"), 0o755))

	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		writeWorkerOutputs(t, env.layout, testJobID)
		return os.WriteFile(logPath, []byte("rendered\n"), 0o644)
	})

	c := newController(t, env, 0, worker, okTool("lineage ok"), nil)
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, journal.StateCompleted, res.State)

	events, err := journal.ReadEvents(env.layout.EventsPath(testJobID))
	require.NoError(t, err)
	var runID string
	for _, ev := range events {
		if ev.Event == journal.EventAttemptStart {
			runID = ev.AttemptID
		}
	}
	require.Equal(t, "run-0008", runID)
	_, err = os.Stat(env.layout.WorkerLogPath(testJobID, "run-0008"))
	require.NoError(t, err)
}

func TestNextRunID(t *testing.T) {
	dir := t.TempDir()

	id, err := NextRunID(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	require.Equal(t, "run-0001", id)

	attempts := filepath.Join(dir, "attempts")
	require.NoError(t, os.MkdirAll(filepath.Join(attempts, "run-0001"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(attempts, "run-0005"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(attempts, "not-a-run"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(attempts, "run-0009"), []byte("stray file"), 0o644))

	id, err = NextRunID(attempts)
	require.NoError(t, err)
	require.Equal(t, "run-0010", id)

	require.NoError(t, os.MkdirAll(filepath.Join(attempts, "run-9999"), 0o755))
	id, err = NextRunID(attempts)
	require.NoError(t, err)
	require.Equal(t, "run-10000", id)

	require.NoError(t, os.MkdirAll(filepath.Join(attempts, "run-10000"), 0o755))
	id, err = NextRunID(attempts)
	require.NoError(t, err)
	require.Equal(t, "run-10001", id)
}

func TestRun_CancelledContextAborts(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	worker := toolexec.ToolFunc(func(_ context.Context, _, logPath string, _ []string) error {
		cancel()
		_ = os.WriteFile(logPath, []byte("interrupted\n"), 0o644)
		return context.Canceled
	})

	c := newController(t, env, 2, worker, okTool("lineage ok"), nil)
	_, err := c.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The journal keeps the RUNNING state for the interrupted attempt.
	st := currentState(t, env, testJobID)
	require.Equal(t, journal.StateRunning, st.State)
}
