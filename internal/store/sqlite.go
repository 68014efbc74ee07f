package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Aman-CERP/vecsync/internal/sqlitedb"
)

var sqliteVectorSchema = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dims INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS points (
		collection   TEXT NOT NULL,
		id           TEXT NOT NULL,
		file_id      TEXT NOT NULL DEFAULT '',
		repository   TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		payload      TEXT NOT NULL,
		vector       BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_points_file ON points(collection, file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_points_repository ON points(collection, repository)`,
}

// columnFor maps payload keys that have their own column.
var columnFor = map[string]string{
	KeyFileID:      "file_id",
	KeyRepository:  "repository",
	KeyContentHash: "content_hash",
}

// SQLiteStore keeps points in a local SQLite table. Search is a brute-force
// cosine scan over the rows that survive the indexed part of the filter.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates the store at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(ctx, path, sqliteVectorSchema...)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) dims(ctx context.Context, name string) (int, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, `SELECT dims FROM collections WHERE name = ?`, name).Scan(&dims)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return dims, err
}

// EnsureCollection implements VectorStore.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	existing, err := s.dims(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	if existing != 0 {
		if existing != dims {
			return ErrDimensionMismatch{Collection: name, Expected: existing, Got: dims}
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO collections (name, dims) VALUES (?, ?)`, name, dims); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

// Upsert implements VectorStore. The write is one transaction, so Wait is
// always honored.
func (s *SQLiteStore) Upsert(ctx context.Context, name string, points []Point, _ WriteOptions) error {
	if len(points) == 0 {
		return nil
	}
	dims, err := s.dims(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to read collection %s: %w", name, err)
	}
	if dims == 0 {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	for _, p := range points {
		if len(p.Vector) != dims {
			return ErrDimensionMismatch{Collection: name, Expected: dims, Got: len(p.Vector)}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO points (collection, id, file_id, repository, content_hash, payload, vector)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for %s: %w", p.ID, err)
		}
		_, err = stmt.ExecContext(ctx, name, p.ID,
			payloadString(p.Payload, KeyFileID),
			payloadString(p.Payload, KeyRepository),
			payloadString(p.Payload, KeyContentHash),
			string(payload), encodeVector(p.Vector))
		if err != nil {
			return fmt.Errorf("failed to upsert point %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Delete implements VectorStore.
func (s *SQLiteStore) Delete(ctx context.Context, name string, filter Filter, _ WriteOptions) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}
	rows, err := s.scan(ctx, name, filter, false)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.id)
	}
	return s.DeletePoints(ctx, name, ids, WriteOptions{})
}

// DeletePoints implements VectorStore.
func (s *SQLiteStore) DeletePoints(ctx context.Context, name string, ids []string, _ WriteOptions) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM points WHERE collection = ? AND id = ?`, name, id); err != nil {
			return fmt.Errorf("failed to delete point %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Search implements VectorStore.
func (s *SQLiteStore) Search(ctx context.Context, name string, vector []float32, limit int, filter Filter) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.scan(ctx, name, filter, true)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, SearchResult{ID: r.id, Score: cosine(vector, r.vector), Payload: r.payload})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Capabilities implements VectorStore.
func (s *SQLiteStore) Capabilities(context.Context, string) (Capabilities, error) {
	return Capabilities{FileIDFilter: true}, nil
}

// Count implements VectorStore.
func (s *SQLiteStore) Count(ctx context.Context, name string, filter Filter) (int, error) {
	rows, err := s.scan(ctx, name, filter, false)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Close implements VectorStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type pointRow struct {
	id      string
	payload map[string]any
	vector  []float32
}

// scan returns the points matching filter. Conditions on columns are pushed
// into SQL; the rest are checked against the decoded payload.
func (s *SQLiteStore) scan(ctx context.Context, name string, filter Filter, withVector bool) ([]pointRow, error) {
	where := []string{"collection = ?"}
	args := []any{name}
	for k, v := range filter.Must {
		if col, ok := columnFor[k]; ok {
			if str, isStr := v.(string); isStr {
				where = append(where, col+" = ?")
				args = append(args, str)
			}
		}
	}
	for k, v := range filter.MustNot {
		if col, ok := columnFor[k]; ok {
			if str, isStr := v.(string); isStr {
				where = append(where, col+" != ?")
				args = append(args, str)
			}
		}
	}

	cols := "id, payload"
	if withVector {
		cols += ", vector"
	}
	query := "SELECT " + cols + " FROM points WHERE " + strings.Join(where, " AND ") + " ORDER BY id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []pointRow
	for rows.Next() {
		var (
			r       pointRow
			payload string
			blob    []byte
		)
		dest := []any{&r.id, &payload}
		if withVector {
			dest = append(dest, &blob)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &r.payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", r.id, err)
		}
		if !filter.Matches(r.payload) {
			continue
		}
		if withVector {
			r.vector = decodeVector(blob)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func payloadString(p map[string]any, key string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return ""
}

// encodeVector stores float32 values little-endian.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

var _ VectorStore = (*SQLiteStore)(nil)
