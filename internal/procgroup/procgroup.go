// Package procgroup gives collaborator subprocesses their own process group
// so cancellation reaps the whole tree, not just the direct child. A worker
// that forks ffmpeg must not leave orphans when the controller dies.
package procgroup

import (
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/caf/internal/metrics"
)

var ErrKillFailed = errors.New("kill operation failed")

// Terminate stops a process group: SIGTERM, wait up to grace via waitCh,
// then SIGKILL. It consumes and returns the error from waitCh. The command
// MUST have been started after Set(cmd). Safe on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := Kill(cmd, syscall.SIGTERM); err == nil {
		metrics.IncProcTerminate("SIGTERM", "sent")
	} else if alreadyGone(err) {
		metrics.IncProcTerminate("SIGTERM", "esrch")
	} else {
		metrics.IncProcTerminate("SIGTERM", "error")
	}

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-time.After(grace):
	}

	if err := Kill(cmd, syscall.SIGKILL); err == nil {
		metrics.IncProcTerminate("SIGKILL", "sent")
	} else if alreadyGone(err) {
		metrics.IncProcTerminate("SIGKILL", "esrch")
	} else {
		metrics.IncProcTerminate("SIGKILL", "error")
	}

	// Always drain waitCh; SIGKILL frees a blocked Wait.
	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return err
}

func alreadyGone(err error) bool {
	return strings.Contains(err.Error(), "process already finished") ||
		strings.Contains(err.Error(), "no such process")
}
