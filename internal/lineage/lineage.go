// Package lineage grows the per-job retry-attempt history document. Every
// quality decision appends one record; prior records are carried verbatim so
// the document never loses history while the schema evolves.
package lineage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/caf/internal/decision"
	"github.com/ManuGH/caf/internal/fsutil"
)

// DocVersion tags the lineage document schema.
const DocVersion = "caf.retry_attempt_lineage.v1"

const timeFormat = "2006-01-02T15:04:05Z"

// Document is the on-disk lineage record. Attempts stay raw so fields written
// by other tool versions survive a rewrite untouched.
type Document struct {
	Version     string            `json:"version"`
	JobID       string            `json:"job_id"`
	GeneratedAt string            `json:"generated_at"`
	UpdatedAt   string            `json:"updated_at"`
	Attempts    []json.RawMessage `json:"attempts"`
}

// Attempt is one lineage record.
type Attempt struct {
	TS              string                 `json:"ts"`
	AttemptID       string                 `json:"attempt_id"`
	SourceAttemptID string                 `json:"source_attempt_id,omitempty"`
	DecisionAction  string                 `json:"decision_action"`
	DecisionReason  string                 `json:"decision_reason"`
	Resolution      string                 `json:"resolution"`
	RetryType       string                 `json:"retry_type,omitempty"`
	SegmentRetry    *decision.SegmentRetry `json:"segment_retry,omitempty"`
	Artifacts       map[string]string      `json:"artifacts"`
}

// AppendAttempt read-modify-writes the document at path. An unreadable file
// or a wrong version starts a fresh document; no merge is attempted. Only
// the job lock holder calls this, so there is no concurrent writer.
func AppendAttempt(path, jobID string, entry Attempt, logger zerolog.Logger) error {
	now := time.Now().UTC().Format(timeFormat)
	if entry.TS == "" {
		entry.TS = now
	}
	if entry.Artifacts == nil {
		entry.Artifacts = map[string]string{}
	}

	doc := load(path, jobID, now, logger)

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal lineage attempt: %w", err)
	}
	doc.Attempts = append(doc.Attempts, raw)
	doc.JobID = jobID
	doc.UpdatedAt = now

	if err := fsutil.WriteJSONAtomic(path, doc); err != nil {
		return err
	}
	logger.Debug().
		Str("event", "lineage.appended").
		Str("attempt_id", entry.AttemptID).
		Str("action", entry.DecisionAction).
		Int("attempts", len(doc.Attempts)).
		Msg("lineage attempt recorded")
	return nil
}

func load(path, jobID, now string, logger zerolog.Logger) Document {
	fresh := Document{Version: DocVersion, JobID: jobID, GeneratedAt: now, Attempts: []json.RawMessage{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("path", path).
				Str("event", "lineage.unreadable").
				Msg("starting fresh lineage document")
		}
		return fresh
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.Warn().Err(err).Str("path", path).
			Str("event", "lineage.unreadable").
			Msg("starting fresh lineage document")
		return fresh
	}
	if doc.Version != DocVersion {
		logger.Warn().
			Str("path", path).
			Str("found_version", doc.Version).
			Str("event", "lineage.version_mismatch").
			Msg("starting fresh lineage document")
		return fresh
	}
	if doc.Attempts == nil {
		doc.Attempts = []json.RawMessage{}
	}
	if doc.GeneratedAt == "" {
		doc.GeneratedAt = now
	}
	return doc
}

// Read loads and returns the document at path, nil when missing.
func Read(path string) (*Document, error) {
	var doc Document
	ok, err := fsutil.ReadJSONIfExists(path, &doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

// DecodeAttempts parses the raw attempt records into typed form.
func (d *Document) DecodeAttempts() ([]Attempt, error) {
	out := make([]Attempt, 0, len(d.Attempts))
	for i, raw := range d.Attempts {
		var a Attempt
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode lineage attempt %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}
