// Package telemetry records the outcome of indexing runs so status output
// can show when each repository was last indexed.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/vecsync/internal/sqlitedb"
)

// DefaultKeep is the number of runs kept per repository.
const DefaultKeep = 100

// Trigger says what started a run.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerWatch  Trigger = "watch"
	TriggerMCP    Trigger = "mcp"
)

var historySchema = []string{
	`CREATE TABLE IF NOT EXISTS index_runs (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		repository      TEXT    NOT NULL,
		started_at      INTEGER NOT NULL,
		duration_ms     INTEGER NOT NULL,
		source          TEXT    NOT NULL,
		processed_files INTEGER NOT NULL,
		failed_files    INTEGER NOT NULL,
		unchanged_files INTEGER NOT NULL,
		deleted_files   INTEGER NOT NULL,
		total_chunks    INTEGER NOT NULL,
		indexed_chunks  INTEGER NOT NULL,
		full_reindex    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_index_runs_repository ON index_runs(repository, id DESC)`,
}

// Run is one recorded indexing run.
type Run struct {
	Repository     string        `json:"repository"`
	StartedAt      time.Time     `json:"startedAt"`
	Duration       time.Duration `json:"duration"`
	Trigger        Trigger       `json:"trigger"`
	ProcessedFiles int           `json:"processedFiles"`
	FailedFiles    int           `json:"failedFiles"`
	UnchangedFiles int           `json:"unchangedFiles"`
	DeletedFiles   int           `json:"deletedFiles"`
	TotalChunks    int           `json:"totalChunks"`
	IndexedChunks  int           `json:"indexedChunks"`
	FullReindex    bool          `json:"fullReindex,omitempty"`
}

// Degraded reports that some files or chunks were not indexed.
func (r Run) Degraded() bool {
	return r.FailedFiles > 0 || r.IndexedChunks < r.TotalChunks
}

// History stores runs in SQLite. It is safe for concurrent use.
type History struct {
	db   *sql.DB
	keep int
}

// OpenHistory opens or creates the history database at path. The history
// is disposable, so a damaged file is replaced with an empty one.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	db, recovered, err := sqlitedb.OpenOrRecover(ctx, path, historySchema...)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	if recovered {
		slog.Warn("run_history_reset", slog.String("path", path))
	}
	return &History{db: db, keep: DefaultKeep}, nil
}

// Record stores run and drops the oldest runs of its repository beyond
// the retention limit.
func (h *History) Record(ctx context.Context, run Run) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO index_runs (repository, started_at, duration_ms, source,
			processed_files, failed_files, unchanged_files, deleted_files,
			total_chunks, indexed_chunks, full_reindex)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Repository, run.StartedAt.UnixMilli(), run.Duration.Milliseconds(), string(run.Trigger),
		run.ProcessedFiles, run.FailedFiles, run.UnchangedFiles, run.DeletedFiles,
		run.TotalChunks, run.IndexedChunks, run.FullReindex)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM index_runs
		WHERE repository = ? AND id NOT IN (
			SELECT id FROM index_runs WHERE repository = ? ORDER BY id DESC LIMIT ?
		)`, run.Repository, run.Repository, h.keep)
	if err != nil {
		return fmt.Errorf("trim runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Last returns the most recent run of repository, or nil if it never ran.
func (h *History) Last(ctx context.Context, repository string) (*Run, error) {
	runs, err := h.Recent(ctx, repository, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// Recent returns up to limit runs of repository, newest first.
func (h *History) Recent(ctx context.Context, repository string, limit int) ([]Run, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT started_at, duration_ms, source, processed_files, failed_files,
			unchanged_files, deleted_files, total_chunks, indexed_chunks, full_reindex
		FROM index_runs
		WHERE repository = ?
		ORDER BY id DESC
		LIMIT ?`, repository, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run := Run{Repository: repository}
		var startedMs, durationMs int64
		var trigger string
		if err := rows.Scan(&startedMs, &durationMs, &trigger, &run.ProcessedFiles, &run.FailedFiles,
			&run.UnchangedFiles, &run.DeletedFiles, &run.TotalChunks, &run.IndexedChunks, &run.FullReindex); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		run.StartedAt = time.UnixMilli(startedMs)
		run.Duration = time.Duration(durationMs) * time.Millisecond
		run.Trigger = Trigger(trigger)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Forget deletes every run of repository.
func (h *History) Forget(ctx context.Context, repository string) error {
	if _, err := h.db.ExecContext(ctx, `DELETE FROM index_runs WHERE repository = ?`, repository); err != nil {
		return fmt.Errorf("delete runs: %w", err)
	}
	return nil
}

// Close closes the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}
