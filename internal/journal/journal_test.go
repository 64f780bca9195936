package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	dir := t.TempDir()
	j := New(dir, "job-abc123", zerolog.Nop())
	return j, dir
}

func TestAppendEventChain(t *testing.T) {
	j, _ := newTestJournal(t)

	require.NoError(t, j.AppendEvent(EventDiscovered, "", StateDiscovered, "", nil))
	require.NoError(t, j.AppendEvent(EventValidated, StateDiscovered, StateValidated, "", nil))
	require.NoError(t, j.AppendEvent(EventAttemptStart, StateValidated, StateRunning, "run-0001", map[string]any{"max_retries": 2}))

	events, err := ReadEvents(j.EventsPath())
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Chain property: from_state of line N equals to_state of line N-1.
	assert.Empty(t, events[0].FromState)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].ToState, events[i].FromState, "line %d", i)
	}

	assert.Equal(t, EventAttemptStart, events[2].Event)
	assert.Equal(t, "run-0001", events[2].AttemptID)
	assert.Equal(t, float64(2), events[2].Details["max_retries"])
}

func TestAppendEventLineShape(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	dir := t.TempDir()
	j := New(dir, "job-abc123", zerolog.Nop(), WithClock(func() time.Time { return fixed }))

	require.NoError(t, j.AppendEvent(EventDiscovered, "", StateDiscovered, "", nil))

	data, err := os.ReadFile(j.EventsPath())
	require.NoError(t, err)
	line := string(data)

	// Second precision, no fractional part.
	assert.Contains(t, line, `"ts":"2026-03-14T09:26:53Z"`)
	for _, key := range []string{`"ts"`, `"event"`, `"from_state"`, `"to_state"`, `"attempt_id"`, `"details"`} {
		assert.Contains(t, line, key)
	}
}

func TestTimestampsMonotoneNonDecreasing(t *testing.T) {
	j, _ := newTestJournal(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.AppendEvent(EventQualityDecision, StateVerified, StateVerified, "", nil))
	}
	events, err := ReadEvents(j.EventsPath())
	require.NoError(t, err)

	prev := ""
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.TS, prev)
		prev = ev.TS
	}
}

func TestWriteAndReadState(t *testing.T) {
	j, dir := newTestJournal(t)

	ptrs := Pointers{
		ValidateLog: "logs/job-abc123/validate_job.log",
		AttemptDir:  "logs/job-abc123/attempts/run-0001",
	}
	require.NoError(t, j.WriteState(StateRunning, "run-0001", "", "", ptrs))

	st, err := ReadState(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "job-abc123", st.JobID)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, "run-0001", st.AttemptID)
	assert.Equal(t, ptrs, st.Pointers)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`, st.UpdatedAt)

	// Overwrite wins wholesale.
	require.NoError(t, j.WriteState(StateFailWorker, "run-0002", "worker exited 3", "exit status 3", Pointers{}))
	st, err = ReadState(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	assert.Equal(t, StateFailWorker, st.State)
	assert.Equal(t, "worker exited 3", st.Reason)
	assert.Empty(t, st.Pointers.ValidateLog)
}

func TestReadStateMissing(t *testing.T) {
	st, err := ReadState(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestAppendSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j1 := New(dir, "job-abc123", zerolog.Nop())
	require.NoError(t, j1.AppendEvent(EventDiscovered, "", StateDiscovered, "", nil))

	// A later controller instance appends to the same file.
	j2 := New(dir, "job-abc123", zerolog.Nop())
	require.NoError(t, j2.AppendEvent(EventValidated, StateDiscovered, StateValidated, "", nil))

	events, err := ReadEvents(filepath.Join(dir, "events.ndjson"))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventDiscovered, events[0].Event)
	assert.Equal(t, EventValidated, events[1].Event)
}
