// Package toolexec is the subprocess boundary between the controller and its
// collaborator tools (validator, worker, lineage verifier, orchestration).
// Every invocation gets the job contract path as its final argument and has
// its combined output captured to a per-call log file.
package toolexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/caf/internal/metrics"
	"github.com/ManuGH/caf/internal/procgroup"
)

// Environment keys understood by workers.
const (
	// EnvRetryPlanPath points the worker at the current retry-plan artifact.
	EnvRetryPlanPath = "CAF_RETRY_PLAN_PATH"
	// EnvRetryAttemptID carries the run id of the attempt being executed.
	EnvRetryAttemptID = "CAF_RETRY_ATTEMPT_ID"
)

// Tool runs one collaborator invocation against a job contract. extraEnv
// entries are KEY=VALUE pairs appended to the inherited environment.
type Tool interface {
	Run(ctx context.Context, contractPath, logPath string, extraEnv []string) error
}

// ToolFunc adapts a function to Tool.
type ToolFunc func(ctx context.Context, contractPath, logPath string, extraEnv []string) error

func (f ToolFunc) Run(ctx context.Context, contractPath, logPath string, extraEnv []string) error {
	return f(ctx, contractPath, logPath, extraEnv)
}

// Command is a subprocess-backed Tool. The child runs in its own process
// group so a cancelled controller reaps the whole tree.
type Command struct {
	name  string
	argv  []string
	grace time.Duration
	log   zerolog.Logger
}

// NewCommand builds a Command. name labels logs and metrics; argv is the
// program and its fixed arguments.
func NewCommand(name string, argv []string, logger zerolog.Logger) *Command {
	return &Command{
		name:  name,
		argv:  argv,
		grace: 5 * time.Second,
		log:   logger.With().Str("collaborator", name).Logger(),
	}
}

// Run blocks until the tool exits or ctx is cancelled. There is no internal
// timeout: a wedged tool hangs its caller, whose job lock protects everyone
// else. On cancellation the process group is terminated and ctx.Err returned.
func (c *Command) Run(ctx context.Context, contractPath, logPath string, extraEnv []string) error {
	if len(c.argv) == 0 {
		return fmt.Errorf("%s: no command configured", c.name)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("%s: prepare log dir: %w", c.name, err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("%s: create log file: %w", c.name, err)
	}
	defer func() { _ = logFile.Close() }()

	args := append(append([]string{}, c.argv[1:]...), contractPath)
	cmd := exec.Command(c.argv[0], args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), extraEnv...)
	procgroup.Set(cmd)

	start := time.Now()
	c.log.Debug().
		Str("event", "toolexec.start").
		Str("path", contractPath).
		Strs("argv", c.argv).
		Msg("collaborator starting")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: start: %w", c.name, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = procgroup.Terminate(cmd, waitCh, c.grace)
		c.log.Warn().
			Str("event", "toolexec.cancelled").
			Dur("elapsed", time.Since(start)).
			Msg("collaborator cancelled")
		return ctx.Err()
	case err := <-waitCh:
		metrics.ObserveCollaborator(c.name, time.Since(start))
		if err != nil {
			c.log.Warn().Err(err).
				Str("event", "toolexec.failed").
				Dur("elapsed", time.Since(start)).
				Msg("collaborator failed")
			return fmt.Errorf("%s: %w", c.name, err)
		}
		c.log.Debug().
			Str("event", "toolexec.done").
			Dur("elapsed", time.Since(start)).
			Msg("collaborator finished")
		return nil
	}
}
