// Package sqlite persists the run history in a local SQLite database,
// using modernc.org/sqlite (pure Go, no CGO).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dfaust/backup-monitor/internal/domain"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const busyTimeoutMillis = 5000

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	job         TEXT NOT NULL,
	kind        TEXT NOT NULL,
	action      TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	output      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_job_finished ON runs(job, finished_at DESC);
`

// HistoryStore records completed runs and serves them back for the status
// API. Safe for concurrent use.
type HistoryStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path.
//
// The database uses WAL mode, a 5 s busy timeout, and a single connection
// (SQLite serialises writes). The schema is migrated automatically.
func Open(path string) (*HistoryStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	// SQLite handles one writer at a time; limit the pool to 1
	// connection so the PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMillis)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate schema: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

// Close closes the underlying database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

// RecordRun inserts one completed run. Inserting the same run ID twice is
// an error.
func (s *HistoryStore) RecordRun(ctx context.Context, record domain.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, job, kind, action, started_at, finished_at, exit_code, output, error, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID.String(),
		record.Job,
		string(record.Kind),
		record.Action,
		record.StartedAt.UTC().Format(time.RFC3339Nano),
		record.FinishedAt.UTC().Format(time.RFC3339Nano),
		record.ExitCode,
		record.Output,
		record.Error,
		string(record.Outcome),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record run %s: %w", record.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs of a job, newest first. A
// non-positive limit defaults to 50.
func (s *HistoryStore) ListRuns(ctx context.Context, job string, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job, kind, action, started_at, finished_at, exit_code, output, error, outcome
		FROM runs
		WHERE job = ?
		ORDER BY finished_at DESC
		LIMIT ?`, job, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs for %s: %w", job, err)
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list runs for %s: %w", job, err)
	}
	return records, nil
}

// PruneRuns deletes all but the newest keep runs of a job. Returns the
// number of rows removed.
func (s *HistoryStore) PruneRuns(ctx context.Context, job string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE job = ? AND id NOT IN (
			SELECT id FROM runs WHERE job = ? ORDER BY finished_at DESC LIMIT ?
		)`, job, job, keep)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune runs for %s: %w", job, err)
	}
	return result.RowsAffected()
}

func scanRun(rows *sql.Rows) (domain.RunRecord, error) {
	var (
		record               domain.RunRecord
		id, kind, outcome    string
		startedAt, finishedAt string
	)
	if err := rows.Scan(&id, &record.Job, &kind, &record.Action,
		&startedAt, &finishedAt, &record.ExitCode, &record.Output,
		&record.Error, &outcome); err != nil {
		return domain.RunRecord{}, fmt.Errorf("sqlite: scan run: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("sqlite: run id %q: %w", id, err)
	}
	record.ID = parsed
	record.Kind = domain.RunKind(kind)
	record.Outcome = domain.Outcome(outcome)

	if record.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return domain.RunRecord{}, fmt.Errorf("sqlite: run %s started_at: %w", id, err)
	}
	if record.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return domain.RunRecord{}, fmt.Errorf("sqlite: run %s finished_at: %w", id, err)
	}
	return record, nil
}
