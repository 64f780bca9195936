// Command distributor watches the sandbox inbox for approval artifacts and
// builds a platform bundle for each approved one. It runs until SIGINT or
// SIGTERM; --once performs a single sweep and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/caf/internal/bundle"
	"github.com/ManuGH/caf/internal/config"
	"github.com/ManuGH/caf/internal/dispatch"
	"github.com/ManuGH/caf/internal/history"
	caflog "github.com/ManuGH/caf/internal/log"
	"github.com/ManuGH/caf/internal/sandbox"
	"github.com/ManuGH/caf/internal/telemetry"
	"github.com/ManuGH/caf/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (YAML)")
	once := flag.Bool("once", false, "process the current inbox once and exit")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	logFormat := flag.String("log-format", "", "log format: json or console (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	cfgPath := resolveConfigPath(*configPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "distributor: %v\n", err)
		return 1
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})

	caflog.Configure(caflog.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "caf-distributor",
	})
	logger := caflog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "caf-distributor",
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
		Dur("poll_interval", cfg.Distributor.PollInterval).
		Float64("dispatch_rate", cfg.Distributor.DispatchRate).
		Bool("once", *once).
		Msg("starting distributor")

	// The ledger is advisory: a broken database means the daemon runs
	// without history, not that it refuses to dispatch.
	var store *history.Store
	dbPath := cfg.HistoryDBPath(layout.HistoryDBPath())
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		logger.Warn().Err(err).Str("event", "main.history_unavailable").Str("db", dbPath).
			Msg("running without dispatch history")
	} else if s, serr := history.NewStore(dbPath); serr != nil {
		logger.Warn().Err(serr).Str("event", "main.history_unavailable").Str("db", dbPath).
			Msg("running without dispatch history")
	} else {
		store = s
		defer func() { _ = store.Close() }()
	}

	builder := bundle.NewBuilder(layout, caflog.WithComponent("bundle"))
	checklists := dispatch.NewChecklistSet(cfg.Distributor.ChecklistDir, caflog.WithComponent("dispatch"))

	runner, err := dispatch.New(dispatch.Options{
		Layout:       layout,
		Adapters:     dispatch.NewRegistry(builder, checklists),
		History:      store,
		PollInterval: cfg.Distributor.PollInterval,
		DispatchRate: cfg.Distributor.DispatchRate,
		Log:          caflog.WithComponent("dispatch"),
	})
	if err != nil {
		logger.Error().Err(err).Str("event", "main.wiring_invalid").Msg("runner construction failed")
		return 1
	}

	if *once {
		runner.Sweep(ctx)
		return 0
	}

	holder := config.NewHolder(cfg, cfgPath, caflog.WithComponent("config"))

	g, ctx := errgroup.WithContext(ctx)

	// Hot reload is best-effort: the daemon runs fine without the watcher.
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("config hot reload unavailable")
	}

	applyCh := make(chan config.Config, 1)
	holder.RegisterListener(applyCh)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case next := <-applyCh:
				runner.ApplyConfig(next.Distributor.PollInterval, next.Distributor.DispatchRate)
				logger.Info().
					Str("event", "config.applied").
					Dur("poll_interval", next.Distributor.PollInterval).
					Float64("dispatch_rate", next.Distributor.DispatchRate).
					Msg("runtime settings updated")
			}
		}
	})

	// SIGHUP triggers a manual reload of the same file the watcher covers.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info().Str("event", "config.reload_signal").Msg("received SIGHUP, reloading config")
				if err := holder.Reload(); err != nil {
					logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config reload failed")
				}
			}
		}
	})

	g.Go(func() error { return runner.Run(ctx) })

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Str("event", "main.failed").Msg("distributor failed")
		return 1
	}
	logger.Info().Str("event", "main.stopped").Msg("distributor exiting")
	return 0
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
