// Package journal persists the per-job audit trail: an append-only NDJSON
// event log and a single atomically overwritten current-state document.
// Callers must append the event before writing state; after a crash the
// events file is the source of truth.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/caf/internal/fsutil"
)

// Timestamps are UTC ISO-8601 at second precision. Consumers (and the tests)
// assume monotone non-decrease, never strict increase.
const timeFormat = "2006-01-02T15:04:05Z"

// Event is one NDJSON line. FromState is empty on the first line of a job.
type Event struct {
	TS        string         `json:"ts"`
	Event     string         `json:"event"`
	FromState string         `json:"from_state"`
	ToState   string         `json:"to_state"`
	AttemptID string         `json:"attempt_id"`
	Details   map[string]any `json:"details"`
}

// Pointers names the latest known artifact locations for operator tooling.
type Pointers struct {
	ValidateLog string `json:"validate_log,omitempty"`
	WorkerLog   string `json:"worker_log,omitempty"`
	Result      string `json:"result,omitempty"`
	AttemptDir  string `json:"attempt_dir,omitempty"`
	LineageLog  string `json:"lineage_log,omitempty"`
}

// State is the current-state document.
type State struct {
	JobID     string   `json:"job_id"`
	State     string   `json:"state"`
	AttemptID string   `json:"attempt_id"`
	UpdatedAt string   `json:"updated_at"`
	Reason    string   `json:"reason"`
	Error     string   `json:"error"`
	Pointers  Pointers `json:"pointers"`
}

// Journal writes the two artifacts for one job.
type Journal struct {
	jobID      string
	eventsPath string
	statePath  string
	log        zerolog.Logger
	now        func() time.Time
}

// Option adjusts Journal construction.
type Option func(*Journal)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// New returns a Journal for jobID rooted at logsDir. The directory must exist
// before the first append.
func New(logsDir, jobID string, logger zerolog.Logger, opts ...Option) *Journal {
	j := &Journal{
		jobID:      jobID,
		eventsPath: filepath.Join(logsDir, "events.ndjson"),
		statePath:  filepath.Join(logsDir, "state.json"),
		log:        logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// AppendEvent writes one event line and syncs it to disk before returning.
func (j *Journal) AppendEvent(event, fromState, toState, attemptID string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	rec := Event{
		TS:        j.now().UTC().Format(timeFormat),
		Event:     event,
		FromState: fromState,
		ToState:   toState,
		AttemptID: attemptID,
		Details:   details,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}

	f, err := os.OpenFile(j.eventsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", fsutil.ErrFs, j.eventsPath, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: append %s: %v", fsutil.ErrFs, j.eventsPath, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", fsutil.ErrFs, j.eventsPath, err)
	}

	eventsTotal.WithLabelValues(event).Inc()
	j.log.Debug().
		Str("event", "journal.append").
		Str("job_id", j.jobID).
		Str("journal_event", event).
		Str("from_state", fromState).
		Str("to_state", toState).
		Str("attempt_id", attemptID).
		Msg("event appended")
	return nil
}

// WriteState atomically overwrites the current-state document. Callers append
// the corresponding event first.
func (j *Journal) WriteState(state, attemptID, reason, errMsg string, pointers Pointers) error {
	doc := State{
		JobID:     j.jobID,
		State:     state,
		AttemptID: attemptID,
		UpdatedAt: j.now().UTC().Format(timeFormat),
		Reason:    reason,
		Error:     errMsg,
		Pointers:  pointers,
	}
	if err := fsutil.WriteJSONAtomic(j.statePath, doc); err != nil {
		return fmt.Errorf("write state for %s: %w", j.jobID, err)
	}
	return nil
}

// EventsPath returns the journal's events file location.
func (j *Journal) EventsPath() string { return j.eventsPath }

// StatePath returns the state document location.
func (j *Journal) StatePath() string { return j.statePath }

// ReadState loads a state document, returning (nil, nil) when absent.
func ReadState(path string) (*State, error) {
	var st State
	ok, err := fsutil.ReadJSONIfExists(path, &st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// ReadEvents loads every event line in order. Used for recovery and tests.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parse event line %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return events, nil
}
