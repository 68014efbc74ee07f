package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
)

// BackendType selects a VectorStore implementation.
type BackendType string

const (
	BackendQdrant BackendType = "qdrant"
	BackendSQLite BackendType = "sqlite"
	BackendHNSW   BackendType = "hnsw"
)

// ValidBackends lists the accepted backend names.
var ValidBackends = []BackendType{BackendQdrant, BackendSQLite, BackendHNSW}

// ParseBackend converts a config value into a BackendType.
func ParseBackend(s string) (BackendType, error) {
	switch BackendType(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendSQLite:
		return BackendSQLite, nil
	case BackendQdrant:
		return BackendQdrant, nil
	case BackendHNSW:
		return BackendHNSW, nil
	}
	return "", verrors.New(verrors.ErrCodeConfigInvalid,
		fmt.Sprintf("unknown vector store backend %q", s), nil).
		WithSuggestion("use one of: qdrant, sqlite, hnsw")
}

// Options configures Open.
type Options struct {
	Backend BackendType
	URL     string
	APIKey  string
	// Path is the database file for sqlite and the directory for hnsw.
	Path    string
	Timeout time.Duration
}

// Open creates the configured backend.
func Open(ctx context.Context, opts Options) (VectorStore, error) {
	switch opts.Backend {
	case BackendQdrant:
		return NewQdrantStore(opts.URL, opts.APIKey, opts.Timeout), nil
	case BackendSQLite, "":
		if opts.Path == "" {
			return nil, verrors.ConfigurationError("sqlite vector store needs a path", nil)
		}
		s, err := NewSQLiteStore(ctx, opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendHNSW:
		s, err := NewHNSWStore(opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, verrors.New(verrors.ErrCodeConfigInvalid,
		fmt.Sprintf("unknown vector store backend %q", opts.Backend), nil)
}
