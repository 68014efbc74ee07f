package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/sqlitedb"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	repository_id TEXT NOT NULL,
	file_id       TEXT NOT NULL,
	file_path     TEXT NOT NULL,
	last_modified INTEGER NOT NULL,
	content_hash  TEXT NOT NULL,
	chunk_count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (repository_id, file_id)
)`

// SQLiteLedger stores one row per fingerprint, so a mutation touches a single
// row instead of rewriting the whole ledger.
type SQLiteLedger struct {
	db        *sql.DB
	path      string
	recovered bool
}

// OpenSQLite opens or creates the ledger database at path. A database that
// cannot be opened is moved aside and replaced with an empty one.
func OpenSQLite(ctx context.Context, path string) (*SQLiteLedger, error) {
	db, recovered, err := sqlitedb.OpenOrRecover(ctx, path, sqliteSchema)
	if err != nil {
		return nil, verrors.LedgerIOError("failed to open ledger database", err)
	}
	if err := addChunkCount(ctx, db); err != nil {
		_ = db.Close()
		return nil, verrors.LedgerIOError("failed to migrate ledger database", err)
	}
	if recovered {
		slog.Warn("ledger_recovered", slog.String("path", path), slog.String("backend", "sqlite"))
	}
	return &SQLiteLedger{db: db, path: path, recovered: recovered}, nil
}

// addChunkCount upgrades ledgers created before chunk_count existed.
func addChunkCount(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info('fingerprints')`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == "chunk_count" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `ALTER TABLE fingerprints ADD COLUMN chunk_count INTEGER NOT NULL DEFAULT 0`)
	return err
}

// Get implements Ledger.
func (l *SQLiteLedger) Get(ctx context.Context, repositoryID, fileID string) (*Fingerprint, error) {
	fp := Fingerprint{RepositoryID: repositoryID, FileID: fileID}
	err := l.db.QueryRowContext(ctx,
		`SELECT file_path, last_modified, content_hash, chunk_count FROM fingerprints
		 WHERE repository_id = ? AND file_id = ?`, repositoryID, fileID).
		Scan(&fp.FilePath, &fp.LastModified, &fp.ContentHash, &fp.ChunkCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, verrors.LedgerIOError("failed to read fingerprint", err)
	}
	return &fp, nil
}

// Set implements Ledger.
func (l *SQLiteLedger) Set(ctx context.Context, fp Fingerprint) error {
	if fp.RepositoryID == "" || fp.FileID == "" {
		return verrors.ValidationError("fingerprint needs repositoryId and fileId", nil)
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO fingerprints (repository_id, file_id, file_path, last_modified, content_hash, chunk_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (repository_id, file_id) DO UPDATE SET
			file_path = excluded.file_path,
			last_modified = excluded.last_modified,
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count`,
		fp.RepositoryID, fp.FileID, fp.FilePath, fp.LastModified, fp.ContentHash, fp.ChunkCount)
	if err != nil {
		return verrors.LedgerIOError("failed to write fingerprint", err)
	}
	return nil
}

// Remove implements Ledger.
func (l *SQLiteLedger) Remove(ctx context.Context, repositoryID, fileID string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE repository_id = ? AND file_id = ?`, repositoryID, fileID)
	if err != nil {
		return verrors.LedgerIOError("failed to remove fingerprint", err)
	}
	return nil
}

// GetAll implements Ledger.
func (l *SQLiteLedger) GetAll(ctx context.Context, repositoryID string) (map[string]Fingerprint, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT file_id, file_path, last_modified, content_hash, chunk_count FROM fingerprints
		 WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return nil, verrors.LedgerIOError("failed to list fingerprints", err)
	}
	defer rows.Close()

	out := make(map[string]Fingerprint)
	for rows.Next() {
		fp := Fingerprint{RepositoryID: repositoryID}
		if err := rows.Scan(&fp.FileID, &fp.FilePath, &fp.LastModified, &fp.ContentHash, &fp.ChunkCount); err != nil {
			return nil, verrors.LedgerIOError("failed to scan fingerprint", err)
		}
		out[fp.FileID] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, verrors.LedgerIOError("failed to list fingerprints", err)
	}
	return out, nil
}

// Reset implements Ledger.
func (l *SQLiteLedger) Reset(ctx context.Context, repositoryID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE repository_id = ?`, repositoryID)
	if err != nil {
		return verrors.LedgerIOError("failed to reset repository", err)
	}
	return nil
}

// Repositories implements Ledger.
func (l *SQLiteLedger) Repositories(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT repository_id FROM fingerprints ORDER BY repository_id`)
	if err != nil {
		return nil, verrors.LedgerIOError("failed to list repositories", err)
	}
	defer rows.Close()

	var repos []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, verrors.LedgerIOError("failed to scan repository", err)
		}
		repos = append(repos, id)
	}
	return repos, rows.Err()
}

// Recovered implements Ledger.
func (l *SQLiteLedger) Recovered() bool {
	return l.recovered
}

// Close implements Ledger.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
