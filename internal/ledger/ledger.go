// Package ledger records which files of each repository are already indexed.
//
// A Fingerprint is written only after the file's vectors are durably stored,
// so the ledger is the source of truth for "already indexed". A ledger that
// cannot be read is reset to empty instead of failing the process.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Fingerprint is the last indexed state of one file.
type Fingerprint struct {
	RepositoryID string `json:"repositoryId"`
	FileID       string `json:"fileId"`
	FilePath     string `json:"filePath"`
	// LastModified is the file mtime in Unix milliseconds.
	LastModified int64  `json:"lastModifiedTimestamp"`
	ContentHash  string `json:"contentHash"`
	// ChunkCount is the number of points written for ContentHash. Zero when
	// recorded by an older version.
	ChunkCount int `json:"chunkCount,omitempty"`
}

// ModTime returns LastModified as a time.Time.
func (f Fingerprint) ModTime() time.Time {
	return time.UnixMilli(f.LastModified)
}

// Ledger stores fingerprints per repository.
type Ledger interface {
	// Get returns the fingerprint, or nil when the file is not indexed.
	Get(ctx context.Context, repositoryID, fileID string) (*Fingerprint, error)
	// Set stores fp. It returns once the change is durable.
	Set(ctx context.Context, fp Fingerprint) error
	// Remove deletes one fingerprint. Removing an absent entry is not an error.
	Remove(ctx context.Context, repositoryID, fileID string) error
	// GetAll returns every fingerprint of a repository keyed by file id.
	GetAll(ctx context.Context, repositoryID string) (map[string]Fingerprint, error)
	// Reset drops every fingerprint of a repository.
	Reset(ctx context.Context, repositoryID string) error
	// Repositories lists repository ids with at least one fingerprint.
	Repositories(ctx context.Context) ([]string, error)
	// Recovered reports that an unreadable backing store was discarded.
	Recovered() bool
	Close() error
}

// FileID derives the stable identity of a file within a repository.
func FileID(repositoryID, relativePath string) string {
	return hashString(repositoryID + ":" + relativePath)
}

// HashContent returns the hex sha256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// hashString returns the first 16 hex chars of sha256(s).
func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// Options selects and configures a backend.
type Options struct {
	// Backend is "json" (default) or "sqlite".
	Backend string
	Path    string
}

// Open returns the configured backend.
func Open(ctx context.Context, opts Options) (Ledger, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "json":
		return NewJSONLedger(opts.Path), nil
	case "sqlite":
		l, err := OpenSQLite(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", opts.Backend)
	}
}
