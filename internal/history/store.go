// Package history persists a ledger of every dispatched approval so
// operators can answer "what happened to job X" after the inbox files are
// long gone. The ledger is advisory: recording failures must never block
// or fail a dispatch.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Row is one observed approval dispatch.
type Row struct {
	ID           int64
	ObservedAt   time.Time
	ApprovalFile string
	JobID        string
	Platform     string
	Nonce        string
	Outcome      string
	Detail       string
}

// Store provides SQLite persistence for the dispatch ledger.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the ledger database and runs migrations.
// WAL mode plus a busy timeout keeps concurrent readers from tripping
// over the single writer.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatch_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		observed_at TEXT NOT NULL,
		approval_file TEXT NOT NULL,
		job_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		nonce TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_dispatch_log_job ON dispatch_log(job_id);
	CREATE INDEX IF NOT EXISTS idx_dispatch_log_observed ON dispatch_log(observed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record appends one ledger row. ObservedAt defaults to now when unset.
func (s *Store) Record(ctx context.Context, row Row) error {
	observed := row.ObservedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	query := `
	INSERT INTO dispatch_log (observed_at, approval_file, job_id, platform, nonce, outcome, detail)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		observed.UTC().Format(time.RFC3339),
		row.ApprovalFile,
		row.JobID,
		row.Platform,
		row.Nonce,
		row.Outcome,
		row.Detail,
	)
	return err
}

// ListByJob returns all ledger rows for a job, oldest first.
func (s *Store) ListByJob(ctx context.Context, jobID string) ([]Row, error) {
	query := `
	SELECT id, observed_at, approval_file, job_id, platform, nonce, outcome, detail
	FROM dispatch_log
	WHERE job_id = ?
	ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var r Row
		var observedStr string

		if err := rows.Scan(&r.ID, &observedStr, &r.ApprovalFile, &r.JobID, &r.Platform, &r.Nonce, &r.Outcome, &r.Detail); err != nil {
			return nil, err
		}

		if t, err := time.Parse(time.RFC3339, observedStr); err == nil {
			r.ObservedAt = t
		}

		out = append(out, r)
	}

	return out, rows.Err()
}
