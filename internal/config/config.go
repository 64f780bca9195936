// Package config loads and validates runtime configuration for the
// controller and distributor binaries. Precedence per key is explicit:
// defaults < YAML file < CAF_* environment.
package config

import (
	"fmt"
	"time"
)

// Config is the root document shared by both binaries. Each binary reads
// its own section plus the common keys; unknown YAML keys are rejected so
// typos fail loudly instead of silently falling back to defaults.
type Config struct {
	// SandboxRoot is the directory all pipeline artifacts live under.
	// Every path the binaries touch is resolved against it.
	SandboxRoot string `yaml:"sandbox_root"`

	Log         LogConfig         `yaml:"log"`
	Controller  ControllerConfig  `yaml:"controller"`
	Distributor DistributorConfig `yaml:"distributor"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// LogConfig controls the zerolog output of the process.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ControllerConfig holds the per-job driver settings. The *Cmd fields are
// whitespace-split command lines for the external collaborator tools. An
// empty ValidatorCmd selects the built-in schema validator; an empty
// WorkerCmd or LineageCmd yields a collaborator that fails with a
// configuration error when invoked. An empty TwoPassCmd skips the optional
// orchestration (pass statuses flow in as unknown).
type ControllerConfig struct {
	MaxRetries   int    `yaml:"max_retries"`
	ValidatorCmd string `yaml:"validator_cmd"`
	WorkerCmd    string `yaml:"worker_cmd"`
	LineageCmd   string `yaml:"lineage_cmd"`
	TwoPassCmd   string `yaml:"two_pass_cmd"`
}

// DistributorConfig holds the approval-watcher settings.
type DistributorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	DispatchRate float64       `yaml:"dispatch_rate"`
	ChecklistDir string        `yaml:"checklist_dir"`
	HistoryDB    string        `yaml:"history_db"`
}

// TelemetryConfig controls the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	Exporter     string  `yaml:"exporter"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Defaults returns the configuration used when no file and no environment
// overrides are present.
func Defaults() Config {
	return Config{
		SandboxRoot: "./sandbox",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Controller: ControllerConfig{
			MaxRetries: 2,
		},
		Distributor: DistributorConfig{
			PollInterval: 2 * time.Second,
			DispatchRate: 4,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			Endpoint:     "localhost:4317",
			Exporter:     "grpc",
			SamplingRate: 1.0,
		},
	}
}

// Validate rejects values that would misbehave at runtime rather than at
// load time. It never mutates the config.
func (c Config) Validate() error {
	if c.SandboxRoot == "" {
		return fmt.Errorf("config: sandbox_root must not be empty")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q not supported (want json or console)", c.Log.Format)
	}
	if c.Controller.MaxRetries < 0 {
		return fmt.Errorf("config: controller.max_retries must be >= 0, got %d", c.Controller.MaxRetries)
	}
	if c.Distributor.PollInterval <= 0 {
		return fmt.Errorf("config: distributor.poll_interval must be positive, got %s", c.Distributor.PollInterval)
	}
	if c.Distributor.DispatchRate <= 0 {
		return fmt.Errorf("config: distributor.dispatch_rate must be positive, got %g", c.Distributor.DispatchRate)
	}
	switch c.Telemetry.Exporter {
	case "grpc", "http":
	default:
		return fmt.Errorf("config: telemetry.exporter %q not supported (want grpc or http)", c.Telemetry.Exporter)
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		return fmt.Errorf("config: telemetry.sampling_rate must be in [0,1], got %g", c.Telemetry.SamplingRate)
	}
	return nil
}

// HistoryDBPath returns the configured dispatch-history database path, or
// the conventional location under the sandbox when unset.
func (c Config) HistoryDBPath(defaultPath string) string {
	if c.Distributor.HistoryDB != "" {
		return c.Distributor.HistoryDB
	}
	return defaultPath
}
