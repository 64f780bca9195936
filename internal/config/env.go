package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment keys. Every override is prefixed CAF_ so the process
// environment of co-located tools stays untouched.
const (
	EnvSandboxRoot  = "CAF_SANDBOX_ROOT"
	EnvLogLevel     = "CAF_LOG_LEVEL"
	EnvLogFormat    = "CAF_LOG_FORMAT"
	EnvMaxRetries   = "CAF_MAX_RETRIES"
	EnvValidatorCmd = "CAF_VALIDATOR_CMD"
	EnvWorkerCmd    = "CAF_WORKER_CMD"
	EnvLineageCmd   = "CAF_LINEAGE_CMD"
	EnvTwoPassCmd   = "CAF_TWO_PASS_CMD"
	EnvPollInterval = "CAF_POLL_INTERVAL"
	EnvDispatchRate = "CAF_DISPATCH_RATE"
	EnvChecklistDir = "CAF_CHECKLIST_DIR"
	EnvHistoryDB    = "CAF_HISTORY_DB"
	EnvOtelEnabled  = "CAF_OTEL_ENABLED"
	EnvOtelEndpoint = "CAF_OTEL_ENDPOINT"
	EnvOtelExporter = "CAF_OTEL_EXPORTER"
	EnvOtelSampling = "CAF_OTEL_SAMPLING"
)

// applyEnv overlays CAF_* variables onto cfg. A set-but-malformed value is
// an error, not a silent fallback: an operator who exported the key meant
// it to take effect.
func applyEnv(cfg *Config) error {
	parseString(EnvSandboxRoot, &cfg.SandboxRoot)
	parseString(EnvLogLevel, &cfg.Log.Level)
	parseString(EnvLogFormat, &cfg.Log.Format)
	parseString(EnvValidatorCmd, &cfg.Controller.ValidatorCmd)
	parseString(EnvWorkerCmd, &cfg.Controller.WorkerCmd)
	parseString(EnvLineageCmd, &cfg.Controller.LineageCmd)
	parseString(EnvTwoPassCmd, &cfg.Controller.TwoPassCmd)
	parseString(EnvChecklistDir, &cfg.Distributor.ChecklistDir)
	parseString(EnvHistoryDB, &cfg.Distributor.HistoryDB)
	parseString(EnvOtelEndpoint, &cfg.Telemetry.Endpoint)
	parseString(EnvOtelExporter, &cfg.Telemetry.Exporter)

	if err := parseInt(EnvMaxRetries, &cfg.Controller.MaxRetries); err != nil {
		return err
	}
	if err := parseDuration(EnvPollInterval, &cfg.Distributor.PollInterval); err != nil {
		return err
	}
	if err := parseFloat(EnvDispatchRate, &cfg.Distributor.DispatchRate); err != nil {
		return err
	}
	if err := parseBool(EnvOtelEnabled, &cfg.Telemetry.Enabled); err != nil {
		return err
	}
	if err := parseFloat(EnvOtelSampling, &cfg.Telemetry.SamplingRate); err != nil {
		return err
	}
	return nil
}

func parseString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = v
	}
}

func parseInt(key string, target *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q is not an integer: %w", key, v, err)
	}
	*target = n
	return nil
}

func parseFloat(key string, target *float64) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s=%q is not a number: %w", key, v, err)
	}
	*target = f
	return nil
}

func parseBool(key string, target *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q is not a boolean: %w", key, v, err)
	}
	*target = b
	return nil
}

// parseDuration accepts Go duration strings ("2s", "1500ms") and, for
// operator convenience, a bare number of seconds.
func parseDuration(key string, target *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		*target = d
		return nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*target = time.Duration(secs * float64(time.Second))
		return nil
	}
	return fmt.Errorf("config: %s=%q is not a duration", key, v)
}
