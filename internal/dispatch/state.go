package dispatch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/caf/internal/fsutil"
)

// Platform-state statuses. POSTED is written by downstream posting tools,
// never by this runner; it still participates in the idempotency check.
const (
	StatusBundleGenerated = "BUNDLE_GENERATED"
	StatusPosted          = "POSTED"
	StatusSkipped         = "SKIPPED"
	StatusFailed          = "FAILED"
)

const timeFormat = "2006-01-02T15:04:05Z"

// PlatformState is the durable outcome of the most recent dispatch for one
// (job, platform) pair.
type PlatformState struct {
	JobID     string `json:"job_id"`
	Platform  string `json:"platform"`
	Nonce     string `json:"nonce"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
	Error     string `json:"error,omitempty"`
}

// readState loads the platform-state document leniently: absent or
// unparseable states read as "never dispatched" so a corrupt state file
// cannot wedge the runner.
func readState(path string, logger zerolog.Logger) *PlatformState {
	var state PlatformState
	ok, err := fsutil.ReadJSONLenient(path, &state, logger)
	if err != nil || !ok {
		return nil
	}
	return &state
}

// writeState persists the new platform state atomically.
func writeState(path string, state PlatformState) error {
	if state.UpdatedAt == "" {
		state.UpdatedAt = time.Now().UTC().Format(timeFormat)
	}
	return fsutil.WriteJSONAtomic(path, state)
}
