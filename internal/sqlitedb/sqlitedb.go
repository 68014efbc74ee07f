// Package sqlitedb opens SQLite databases for the ledger and the local vector
// store. The driver is chosen at build time: modernc.org/sqlite by default,
// github.com/mattn/go-sqlite3 with the sqlite_cgo tag.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = FULL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA temp_store = MEMORY",
}

// Open opens (creating if needed) the database at path, applies pragmas and
// runs schema. The pool is limited to one connection so writes are serialized.
func Open(ctx context.Context, path string, schema ...string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		_ = db.Close()
		return nil, fmt.Errorf("database corrupted: %s", result)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return db, nil
}

// OpenOrRecover behaves like Open, but if the existing file cannot be opened it
// is moved aside and a fresh database is created. recovered reports whether
// that happened.
func OpenOrRecover(ctx context.Context, path string, schema ...string) (db *sql.DB, recovered bool, err error) {
	db, err = Open(ctx, path, schema...)
	if err == nil {
		return db, false, nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, false, err
	}

	aside := fmt.Sprintf("%s.corrupt-%s", path, time.Now().Format("20060102-150405"))
	slog.Warn("sqlite_database_recovered",
		slog.String("path", path),
		slog.String("moved_to", aside),
		slog.String("error", err.Error()))

	if renameErr := os.Rename(path, aside); renameErr != nil {
		return nil, false, fmt.Errorf("failed to move corrupt database aside: %w", renameErr)
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")

	db, err = Open(ctx, path, schema...)
	if err != nil {
		return nil, false, err
	}
	return db, true, nil
}
