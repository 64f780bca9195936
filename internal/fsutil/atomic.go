package fsutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// ErrFs marks an atomic write, rename or lock operation that failed at the
// OS level. It is fatal for the operation that hit it.
var ErrFs = fmt.Errorf("filesystem operation failed")

// WriteJSONAtomic serializes v (two-space indent, map keys sorted by
// encoding/json) and replaces path atomically. The parent directory is
// created when missing.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// WriteFileAtomic replaces path with data using write-temp-then-rename.
// renameio fsyncs before the rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrFs, path, err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("%w: create pending file for %s: %v", ErrFs, path, err)
	}
	defer func() {
		// renameio removes the temp file when not committed.
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrFs, path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: replace %s: %v", ErrFs, path, err)
	}
	return nil
}

// ReadJSONIfExists decodes path into v. It returns (false, nil) when the file
// is missing and an error when it exists but cannot be read or parsed.
func ReadJSONIfExists(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ReadJSONLenient behaves like ReadJSONIfExists but downgrades an unparseable
// file to a warning on logger, returning (false, nil). Missing stays silent.
func ReadJSONLenient(path string, v any, logger zerolog.Logger) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn().Err(err).Str("path", path).Str("event", "fsutil.unparseable_artifact").Msg("ignoring unparseable artifact")
		return false, nil
	}
	return true, nil
}
