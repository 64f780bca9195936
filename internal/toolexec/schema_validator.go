package toolexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/caf/internal/contract"
)

// SchemaValidator validates a contract in-process against the embedded JSON
// Schema. It honors the Tool contract, including the verdict log file, so
// deployments without an external validator behave identically.
type SchemaValidator struct {
	Log zerolog.Logger
}

func (v SchemaValidator) Run(ctx context.Context, contractPath, logPath string, extraEnv []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	verdict := "ok: contract matches schema\n"
	validationErr := contract.ValidateFile(contractPath)
	if validationErr != nil {
		verdict = fmt.Sprintf("error: %v\n", validationErr)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("validator: prepare log dir: %w", err)
	}
	body := fmt.Sprintf("[%s] validate %s\n%s",
		start.UTC().Format("2006-01-02T15:04:05Z"), contractPath, verdict)
	if err := os.WriteFile(logPath, []byte(body), 0o644); err != nil {
		return fmt.Errorf("validator: write log: %w", err)
	}

	if validationErr != nil {
		v.Log.Warn().Err(validationErr).
			Str("event", "toolexec.schema_invalid").
			Str("path", contractPath).
			Msg("contract failed schema validation")
		return validationErr
	}
	return nil
}
