// Package joblock provides per-job mutual exclusion using the atomic
// directory-create primitive as the test-and-set. A lock directory's
// existence means a controller instance owns the job.
package joblock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/caf/internal/fsutil"
)

// ErrBusy is returned when another instance already holds the lock. Callers
// exit successfully on it: the job is being handled elsewhere.
var ErrBusy = errors.New("job lock held by another instance")

// Lock is a held job lock. Release must run on every exit path.
type Lock struct {
	dir      string
	owner    string
	log      zerolog.Logger
	released bool
}

type ownerInfo struct {
	Owner      string `json:"owner"`
	PID        int    `json:"pid"`
	AcquiredAt string `json:"acquired_at"`
}

// Acquire creates dir as the lock token. It returns ErrBusy when the token
// already exists and wraps fsutil.ErrFs on any other failure.
func Acquire(dir string, logger zerolog.Logger) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: prepare lock parent: %v", fsutil.ErrFs, err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("%w: create lock %s: %v", fsutil.ErrFs, dir, err)
	}

	l := &Lock{dir: dir, owner: uuid.NewString(), log: logger}

	// Owner metadata is advisory; failing to write it never fails the acquire.
	info := ownerInfo{
		Owner:      l.owner,
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(dir, "owner.json"), info); err != nil {
		logger.Debug().Err(err).Str("event", "joblock.owner_write_failed").Msg("lock owner metadata not written")
	}

	logger.Debug().
		Str("event", "joblock.acquired").
		Str("path", dir).
		Str("owner", l.owner).
		Msg("job lock acquired")
	return l, nil
}

// Release removes the lock token. Removal errors are logged, not returned:
// release is best-effort and a stale token is recovered by the operator.
func (l *Lock) Release() {
	if l == nil || l.released {
		return
	}
	l.released = true
	if err := os.RemoveAll(l.dir); err != nil {
		l.log.Warn().Err(err).
			Str("event", "joblock.release_failed").
			Str("path", l.dir).
			Msg("job lock not released")
		return
	}
	l.log.Debug().
		Str("event", "joblock.released").
		Str("path", l.dir).
		Msg("job lock released")
}

// Owner returns the lock instance identity recorded at acquire time.
func (l *Lock) Owner() string { return l.owner }
