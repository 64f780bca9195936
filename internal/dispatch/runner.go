package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/caf/internal/bundle"
	"github.com/ManuGH/caf/internal/fsutil"
	"github.com/ManuGH/caf/internal/history"
	"github.com/ManuGH/caf/internal/metrics"
	"github.com/ManuGH/caf/internal/sandbox"
	"github.com/ManuGH/caf/internal/telemetry"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultDispatchRate = 4
)

// Options configures a Runner.
type Options struct {
	Layout   sandbox.Layout
	Adapters map[string]Adapter

	// History is the optional dispatch ledger; recording failures are
	// logged warnings, never dispatch failures.
	History *history.Store

	// PollInterval and DispatchRate fall back to the defaults (2s, 4/s)
	// when zero.
	PollInterval time.Duration
	DispatchRate float64

	Log zerolog.Logger
}

// Runner is the single-threaded approval loop: poll the inbox, process
// every approval to completion, repeat. An fsnotify watch on the inbox
// wakes the sweep early; the timer remains the contract.
type Runner struct {
	layout   sandbox.Layout
	adapters map[string]Adapter
	history  *history.Store
	limiter  *rate.Limiter
	log      zerolog.Logger

	mu       sync.Mutex
	interval time.Duration

	// lastOutcome dedupes ledger rows per approval file and nonce, so an
	// approval that keeps failing across sweeps yields one row per
	// distinct outcome instead of one per poll tick.
	lastOutcome map[string]string
}

// New creates a Runner and ensures the inbox directory exists.
func New(opts Options) (*Runner, error) {
	if len(opts.Adapters) == 0 {
		return nil, errors.New("dispatch: at least one adapter is required")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	dispatchRate := opts.DispatchRate
	if dispatchRate <= 0 {
		dispatchRate = defaultDispatchRate
	}
	if err := os.MkdirAll(opts.Layout.InboxDir(), 0o755); err != nil {
		return nil, fmt.Errorf("dispatch: create inbox: %w", err)
	}

	return &Runner{
		layout:      opts.Layout,
		adapters:    opts.Adapters,
		history:     opts.History,
		limiter:     rate.NewLimiter(rate.Limit(dispatchRate), 1),
		log:         opts.Log,
		interval:    interval,
		lastOutcome: make(map[string]string),
	}, nil
}

// ApplyConfig updates the poll interval and dispatch rate. Both take
// effect on the next tick; the sweep in flight is not interrupted.
func (r *Runner) ApplyConfig(pollInterval time.Duration, dispatchRate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pollInterval > 0 {
		r.interval = pollInterval
	}
	if dispatchRate > 0 {
		r.limiter.SetLimit(rate.Limit(dispatchRate))
	}
}

func (r *Runner) pollInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Run loops until ctx is cancelled. A panic anywhere in the loop is
// logged with its stack and surfaces as an error so the process exits 1
// instead of dying silently.
func (r *Runner) Run(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("event", "dispatch.panic").
				Msg("dispatch loop panicked")
			err = fmt.Errorf("dispatch: loop panic: %v", rec)
		}
	}()

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, werr := fsnotify.NewWatcher()
	if werr != nil {
		r.log.Warn().Err(werr).Str("event", "dispatch.watch_unavailable").Msg("inbox notifications unavailable, polling only")
	} else {
		defer watcher.Close()
		if aerr := watcher.Add(r.layout.InboxDir()); aerr != nil {
			r.log.Warn().Err(aerr).Str("event", "dispatch.watch_unavailable").Msg("inbox notifications unavailable, polling only")
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	r.log.Info().
		Str("event", "dispatch.started").
		Str("inbox", r.layout.InboxDir()).
		Dur("poll_interval", r.pollInterval()).
		Msg("dispatch runner started")

	timer := time.NewTimer(r.pollInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Str("event", "dispatch.stopped").Msg("dispatch runner stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
		case werr, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			r.log.Warn().Err(werr).Str("event", "dispatch.watch_error").Msg("inbox watcher error")
			continue
		case <-timer.C:
		}

		r.Sweep(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.pollInterval())
	}
}

// Sweep processes every approval currently in the inbox, in name order.
// It is the unit of work for both the loop and --once mode.
func (r *Runner) Sweep(ctx context.Context) {
	entries, err := os.ReadDir(r.layout.InboxDir())
	if err != nil {
		r.log.Warn().Err(err).Str("event", "dispatch.inbox_unreadable").Msg("cannot list inbox")
		return
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "approve-") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		r.processApproval(ctx, name)
	}
}

// processApproval handles one approval file to completion.
func (r *Runner) processApproval(ctx context.Context, name string) {
	path := filepath.Join(r.layout.InboxDir(), name)
	logger := r.log.With().Str("approval", name).Logger()

	approval, err := parseApproval(path)
	if err != nil {
		logger.Error().Err(err).Str("event", "dispatch.approval_malformed").Msg("skipping malformed approval")
		metrics.RecordDispatchSkip("malformed")
		r.record(ctx, name, Approval{}, "MALFORMED", err.Error())
		return
	}

	logger = logger.With().
		Str("job_id", approval.JobID).
		Str("platform", approval.Platform).
		Str("nonce", approval.Nonce).
		Logger()

	if !approval.Approved {
		logger.Debug().Str("event", "dispatch.not_approved").Msg("approval not granted")
		metrics.RecordDispatchSkip("not_approved")
		return
	}

	statePath := r.layout.PlatformStatePath(approval.JobID, approval.Platform)
	if prior := readState(statePath, logger); prior != nil &&
		prior.Nonce == approval.Nonce &&
		(prior.Status == StatusBundleGenerated || prior.Status == StatusPosted) {
		logger.Debug().Str("event", "dispatch.already_done").Str("status", prior.Status).Msg("idempotent skip")
		metrics.RecordDispatchSkip("already_done")
		return
	}

	adapter, ok := r.adapters[approval.Platform]
	if !ok {
		logger.Error().Str("event", "dispatch.unknown_platform").Msg("no adapter for platform")
		r.finish(ctx, name, *approval, StatusFailed, "unknown platform: "+approval.Platform, logger)
		return
	}

	planPath := r.layout.PublishPlanPath(approval.JobID)
	if err := fsutil.IsRegularFile(planPath); err != nil {
		r.finish(ctx, name, *approval, StatusFailed, "missing plan", logger)
		return
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return
	}

	r.dispatch(ctx, name, *approval, adapter, planPath, logger)
}

// dispatch runs the adapter with a trace span and writes the terminal
// platform state.
func (r *Runner) dispatch(ctx context.Context, name string, approval Approval, adapter Adapter, planPath string, logger zerolog.Logger) {
	dispatchID := uuid.NewString()
	logger = logger.With().Str("dispatch_id", dispatchID).Logger()

	tracer := telemetry.Tracer("caf.dispatch")
	ctx, span := tracer.Start(ctx, "caf.dispatch.approval", trace.WithAttributes(
		telemetry.DispatchAttributes(dispatchID, approval.Platform, approval.Nonce, "")...,
	))
	defer span.End()

	bundlePath, err := adapter.GenerateBundle(ctx, approval.JobID, planPath, r.layout.DistRoot())
	switch {
	case errors.Is(err, bundle.ErrNoPlatformSlice):
		span.SetStatus(codes.Ok, "no platform slice")
		r.finish(ctx, name, approval, StatusSkipped, "", logger)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.finish(ctx, name, approval, StatusFailed, err.Error(), logger)
	default:
		span.SetStatus(codes.Ok, "")
		logger.Info().Str("event", "dispatch.bundle_generated").Str("bundle", bundlePath).Msg("bundle generated")
		r.finish(ctx, name, approval, StatusBundleGenerated, "", logger)
	}
}

// finish writes the platform state, bumps metrics and appends the ledger
// row for one dispatched approval.
func (r *Runner) finish(ctx context.Context, name string, approval Approval, status, detail string, logger zerolog.Logger) {
	state := PlatformState{
		JobID:    approval.JobID,
		Platform: approval.Platform,
		Nonce:    approval.Nonce,
		Status:   status,
	}
	if status == StatusFailed {
		state.Error = detail
	}

	statePath := r.layout.PlatformStatePath(approval.JobID, approval.Platform)
	if err := writeState(statePath, state); err != nil {
		logger.Error().Err(err).Str("event", "dispatch.state_write_failed").Msg("could not write platform state")
	}

	metrics.RecordDispatch(approval.Platform, status)

	evt := logger.Info()
	if status == StatusFailed {
		evt = logger.Error()
	}
	evt.Str("event", "dispatch.finished").Str("status", status).Str("detail", detail).Msg("approval dispatched")

	r.record(ctx, name, approval, status, detail)
}

// record appends a ledger row unless the same (file, nonce) already
// recorded the same outcome.
func (r *Runner) record(ctx context.Context, name string, approval Approval, outcome, detail string) {
	key := name + "|" + approval.Nonce
	r.mu.Lock()
	if r.lastOutcome[key] == outcome {
		r.mu.Unlock()
		return
	}
	r.lastOutcome[key] = outcome
	r.mu.Unlock()

	if r.history == nil {
		return
	}
	row := history.Row{
		ApprovalFile: name,
		JobID:        approval.JobID,
		Platform:     approval.Platform,
		Nonce:        approval.Nonce,
		Outcome:      outcome,
		Detail:       detail,
	}
	if err := r.history.Record(ctx, row); err != nil {
		r.log.Warn().Err(err).Str("event", "dispatch.history_failed").Str("approval", name).
			Msg("ledger row not recorded")
	}
}
