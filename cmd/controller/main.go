// Command controller drives one job contract through the full pipeline
// lifecycle and exits. Exit code 0 means COMPLETED or the job lock is held
// by another controller, 2 means a usage error; anything else exits 1.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/caf/internal/config"
	"github.com/ManuGH/caf/internal/controller"
	caflog "github.com/ManuGH/caf/internal/log"
	"github.com/ManuGH/caf/internal/sandbox"
	"github.com/ManuGH/caf/internal/telemetry"
	"github.com/ManuGH/caf/internal/toolexec"
	"github.com/ManuGH/caf/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	jobPath := flag.String("job", "", "path to the job contract to process (required)")
	maxRetries := flag.Int("max-retries", config.Defaults().Controller.MaxRetries, "quality-driven re-attempt budget (overrides config)")
	configPath := flag.String("config", "", "path to config file (YAML)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	logFormat := flag.String("log-format", "", "log format: json or console (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}
	if *jobPath == "" {
		fmt.Fprintln(os.Stderr, "controller: --job is required")
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		return 1
	}

	// Explicit flags win over both the file and the environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-retries":
			cfg.Controller.MaxRetries = *maxRetries
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	caflog.Configure(caflog.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "caf-controller",
	})
	logger := caflog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "caf-controller",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).
			Str("event", "main.telemetry_unavailable").
			Msg("continuing without tracing")
	} else {
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				logger.Warn().Err(err).Str("event", "main.telemetry_shutdown_failed").Msg("trace flush incomplete")
			}
		}()
	}

	layout, err := sandbox.New(cfg.SandboxRoot)
	if err != nil {
		logger.Error().Err(err).Str("event", "main.sandbox_invalid").Msg("cannot resolve sandbox root")
		return 1
	}

	logger.Info().
		Str("event", "main.starting").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("sandbox", layout.Root()).
		Str("job", *jobPath).
		Int("max_retries", cfg.Controller.MaxRetries).
		Msg("starting controller run")

	toolLog := caflog.WithComponent("toolexec")

	var validator toolexec.Tool
	if argv := strings.Fields(cfg.Controller.ValidatorCmd); len(argv) > 0 {
		validator = toolexec.NewCommand("validator", argv, toolLog)
	} else {
		validator = toolexec.SchemaValidator{Log: toolLog}
	}

	worker := toolexec.NewCommand("worker", strings.Fields(cfg.Controller.WorkerCmd), toolLog)
	verifier := toolexec.NewCommand("lineage_verify", strings.Fields(cfg.Controller.LineageCmd), toolLog)

	var orchestrator toolexec.Tool
	if argv := strings.Fields(cfg.Controller.TwoPassCmd); len(argv) > 0 {
		orchestrator = toolexec.NewCommand("two_pass", argv, toolLog)
	}

	ctrl, err := controller.New(controller.Options{
		JobPath:      *jobPath,
		MaxRetries:   cfg.Controller.MaxRetries,
		Layout:       layout,
		Validator:    validator,
		Worker:       worker,
		Verifier:     verifier,
		Orchestrator: orchestrator,
		Log:          caflog.Base(),
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "main.wiring_invalid").Msg("controller construction failed")
		return 1
	}

	res, err := ctrl.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Str("event", "main.interrupted").Msg("run cancelled by signal")
			return 1
		}
		logger.Error().Err(err).Str("event", "main.run_failed").Msg("controller run failed")
		return 1
	}
	return res.ExitCode
}

// resolveConfigPath returns the explicit --config path, or caf.yaml beside
// the binary when that file exists, or empty for defaults plus environment.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	auto := filepath.Join(filepath.Dir(exe), "caf.yaml")
	if _, err := os.Stat(auto); err == nil {
		return auto
	}
	return ""
}
