// Package store persists chunk embeddings in a vector store. Three backends
// share the VectorStore interface: a Qdrant REST client, a local SQLite table
// with brute-force cosine search, and an in-memory HNSW graph saved to disk.
package store

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Payload keys written for every chunk.
const (
	KeyFileID           = "fileId"
	KeyRepositoryID     = "repositoryId"
	KeyText             = "text"
	KeySequenceIndex    = "sequenceIndex"
	KeyTotalChunks      = "totalChunksForFile"
	KeySourcePath       = "sourcePath"
	KeyLanguage         = "language"
	KeyTitle            = "title"
	KeyURL              = "url"
	KeyDomain           = "domain"
	KeyLineStart        = "lineStart"
	KeyLineEnd          = "lineEnd"
	KeyRepository       = "repository"
	KeyIsRepositoryFile = "isRepositoryFile"
	KeyContentHash      = "contentHash"
)

// Point is one stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// SearchResult is a point returned by Search, best match first.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter selects points by exact payload match. Every Must entry has to
// match and no MustNot entry may match. The zero Filter matches everything.
type Filter struct {
	Must    map[string]any
	MustNot map[string]any
}

// IsEmpty reports whether the filter has no conditions.
func (f Filter) IsEmpty() bool {
	return len(f.Must) == 0 && len(f.MustNot) == 0
}

// Matches evaluates the filter against a payload.
func (f Filter) Matches(payload map[string]any) bool {
	for k, want := range f.Must {
		got, ok := payload[k]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	for k, reject := range f.MustNot {
		if got, ok := payload[k]; ok && valueEqual(got, reject) {
			return false
		}
	}
	return true
}

// WriteOptions controls mutating calls.
type WriteOptions struct {
	// Wait blocks until the write is durable and visible to readers.
	Wait bool
}

// Capabilities describes what a collection supports.
type Capabilities struct {
	// FileIDFilter reports that points can be selected by fileId. Without it
	// deletions fall back to the whole repository.
	FileIDFilter bool
}

// VectorStore is the storage interface used by the indexing pipeline.
// A collection that does not exist behaves as empty for reads and deletes.
type VectorStore interface {
	// EnsureCollection creates the collection if missing. An existing
	// collection with a different dimension returns ErrDimensionMismatch.
	EnsureCollection(ctx context.Context, name string, dims int) error

	// Search returns up to limit points nearest to vector that match filter.
	Search(ctx context.Context, name string, vector []float32, limit int, filter Filter) ([]SearchResult, error)

	// Upsert inserts or replaces points by ID.
	Upsert(ctx context.Context, name string, points []Point, opts WriteOptions) error

	// Delete removes every point matching filter. An empty filter is rejected.
	Delete(ctx context.Context, name string, filter Filter, opts WriteOptions) error

	// DeletePoints removes points by ID. Unknown IDs are ignored.
	DeletePoints(ctx context.Context, name string, ids []string, opts WriteOptions) error

	// Capabilities reports what the collection supports.
	Capabilities(ctx context.Context, name string) (Capabilities, error)

	// Count returns the number of points matching filter.
	Count(ctx context.Context, name string, filter Filter) (int, error)

	// Close releases resources.
	Close() error
}

var (
	// ErrEmptyFilter is returned by Delete when no condition is given.
	ErrEmptyFilter = errors.New("refusing to delete with an empty filter")

	// ErrCollectionNotFound is returned by Upsert on a missing collection.
	ErrCollectionNotFound = errors.New("collection not found")
)

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Collection string
	Expected   int
	Got        int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("collection %q has dimension %d, got %d (switching embedding models needs a new collection)",
		e.Collection, e.Expected, e.Got)
}

// valueEqual compares payload values. Numbers compare by value because
// payloads read back from JSON hold float64.
func valueEqual(a, b any) bool {
	if fa, ok := toFloat64(a); ok {
		fb, ok := toFloat64(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// cosine returns the cosine similarity of a and b, or 0 for mismatched or
// zero vectors.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// clonePayload copies a payload map one level deep.
func clonePayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
