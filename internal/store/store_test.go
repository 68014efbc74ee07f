package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localBackends returns a fresh instance of every embedded backend.
func localBackends(t *testing.T) map[string]VectorStore {
	t.Helper()
	ctx := context.Background()

	sq, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	hn, err := NewHNSWStore(filepath.Join(t.TempDir(), "hnsw"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = sq.Close()
		_ = hn.Close()
	})
	return map[string]VectorStore{"sqlite": sq, "hnsw": hn}
}

func chunkPoint(id, fileID, repo, hash string, vec []float32) Point {
	return Point{
		ID:     id,
		Vector: vec,
		Payload: map[string]any{
			KeyFileID:           fileID,
			KeyRepository:       repo,
			KeyContentHash:      hash,
			KeyIsRepositoryFile: true,
			KeyText:             "text of " + id,
		},
	}
}

func TestVectorStore_UpsertSearchCount(t *testing.T) {
	for name, s := range localBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Given: a 4-dimensional collection with three points
			require.NoError(t, s.EnsureCollection(ctx, "c", 4))
			err := s.Upsert(ctx, "c", []Point{
				chunkPoint("a", "f1", "docs", "h1", []float32{1, 0, 0, 0}),
				chunkPoint("b", "f2", "docs", "h1", []float32{0, 1, 0, 0}),
				chunkPoint("c", "f3", "other", "h1", []float32{0.9, 0.1, 0, 0}),
			}, WriteOptions{Wait: true})
			require.NoError(t, err)

			// When: searching for [1,0,0,0]
			results, err := s.Search(ctx, "c", []float32{1, 0, 0, 0}, 2, Filter{})
			require.NoError(t, err)

			// Then: the exact match comes first, then the near one
			require.Len(t, results, 2)
			assert.Equal(t, "a", results[0].ID)
			assert.Equal(t, "c", results[1].ID)
			assert.Greater(t, results[0].Score, float32(0.99))
			assert.Equal(t, "text of a", results[0].Payload[KeyText])

			// And: a repository filter excludes the other repository
			results, err = s.Search(ctx, "c", []float32{1, 0, 0, 0}, 5,
				Filter{Must: map[string]any{KeyRepository: "docs"}})
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, "a", results[0].ID)
			assert.Equal(t, "b", results[1].ID)

			n, err := s.Count(ctx, "c", Filter{})
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			n, err = s.Count(ctx, "c", Filter{Must: map[string]any{KeyRepository: "docs"}})
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestVectorStore_UpsertReplacesByID(t *testing.T) {
	for name, s := range localBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.EnsureCollection(ctx, "c", 2))

			// Given: point "a" written twice with different payloads
			require.NoError(t, s.Upsert(ctx, "c", []Point{chunkPoint("a", "f1", "docs", "h1", []float32{1, 0})}, WriteOptions{Wait: true}))
			require.NoError(t, s.Upsert(ctx, "c", []Point{chunkPoint("a", "f1", "docs", "h2", []float32{0, 1})}, WriteOptions{Wait: true}))

			// Then: one point remains, carrying the second write
			n, err := s.Count(ctx, "c", Filter{})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			results, err := s.Search(ctx, "c", []float32{0, 1}, 1, Filter{})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "h2", results[0].Payload[KeyContentHash])
		})
	}
}

func TestVectorStore_DeleteByFilter(t *testing.T) {
	for name, s := range localBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.EnsureCollection(ctx, "c", 2))
			require.NoError(t, s.Upsert(ctx, "c", []Point{
				chunkPoint("f1-0", "f1", "docs", "old", []float32{1, 0}),
				chunkPoint("f1-1", "f1", "docs", "new", []float32{1, 0.1}),
				chunkPoint("f2-0", "f2", "docs", "old", []float32{0, 1}),
			}, WriteOptions{Wait: true}))

			// When: pruning f1's points whose hash is not "new"
			err := s.Delete(ctx, "c", Filter{
				Must:    map[string]any{KeyFileID: "f1"},
				MustNot: map[string]any{KeyContentHash: "new"},
			}, WriteOptions{Wait: true})
			require.NoError(t, err)

			// Then: only the stale f1 point is gone
			n, err := s.Count(ctx, "c", Filter{Must: map[string]any{KeyFileID: "f1"}})
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			n, err = s.Count(ctx, "c", Filter{Must: map[string]any{KeyFileID: "f2"}})
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			// And: a repository-wide delete empties the collection
			require.NoError(t, s.Delete(ctx, "c", Filter{Must: map[string]any{KeyRepository: "docs"}}, WriteOptions{Wait: true}))
			n, err = s.Count(ctx, "c", Filter{})
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestVectorStore_DeletePoints(t *testing.T) {
	for name, s := range localBackends(t) {
		t.Run(name, func(t *testing.T) {
			// Given: three points of one file
			ctx := context.Background()
			require.NoError(t, s.EnsureCollection(ctx, "c", 2))
			require.NoError(t, s.Upsert(ctx, "c", []Point{
				chunkPoint("f1-0", "f1", "docs", "h", []float32{1, 0}),
				chunkPoint("f1-1", "f1", "docs", "h", []float32{1, 0.1}),
				chunkPoint("f1-2", "f1", "docs", "h", []float32{0, 1}),
			}, WriteOptions{Wait: true}))

			// When: deleting two IDs, one of them unknown
			require.NoError(t, s.DeletePoints(ctx, "c", []string{"f1-2", "nope"}, WriteOptions{Wait: true}))

			// Then: only the named point is gone
			n, err := s.Count(ctx, "c", Filter{Must: map[string]any{KeyFileID: "f1"}})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			// And: a missing collection is a no-op
			assert.NoError(t, s.DeletePoints(ctx, "missing", []string{"f1-0"}, WriteOptions{Wait: true}))
		})
	}
}

func TestVectorStore_EmptyFilterDeleteRejected(t *testing.T) {
	for name, s := range localBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Delete(context.Background(), "c", Filter{}, WriteOptions{Wait: true})
			assert.ErrorIs(t, err, ErrEmptyFilter)
		})
	}
}

func TestVectorStore_MissingCollection(t *testing.T) {
	for name, s := range localBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Reads and deletes treat a missing collection as empty
			results, err := s.Search(ctx, "missing", []float32{1, 0}, 3, Filter{})
			require.NoError(t, err)
			assert.Empty(t, results)

			n, err := s.Count(ctx, "missing", Filter{})
			require.NoError(t, err)
			assert.Zero(t, n)

			err = s.Delete(ctx, "missing", Filter{Must: map[string]any{KeyFileID: "x"}}, WriteOptions{Wait: true})
			assert.NoError(t, err)

			// Writes need the collection
			err = s.Upsert(ctx, "missing", []Point{chunkPoint("a", "f", "r", "h", []float32{1, 0})}, WriteOptions{Wait: true})
			assert.ErrorIs(t, err, ErrCollectionNotFound)
		})
	}
}

func TestVectorStore_DimensionMismatch(t *testing.T) {
	for name, s := range localBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.EnsureCollection(ctx, "c", 3))
			require.NoError(t, s.EnsureCollection(ctx, "c", 3))

			var mismatch ErrDimensionMismatch
			err := s.EnsureCollection(ctx, "c", 4)
			require.ErrorAs(t, err, &mismatch)
			assert.Equal(t, 3, mismatch.Expected)
			assert.Equal(t, 4, mismatch.Got)

			err = s.Upsert(ctx, "c", []Point{chunkPoint("a", "f", "r", "h", []float32{1, 0})}, WriteOptions{Wait: true})
			assert.ErrorAs(t, err, &mismatch)
		})
	}
}

func TestVectorStore_LocalCapabilities(t *testing.T) {
	for name, s := range localBackends(t) {
		t.Run(name, func(t *testing.T) {
			caps, err := s.Capabilities(context.Background(), "c")
			require.NoError(t, err)
			assert.True(t, caps.FileIDFilter)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vectors.db")

	// Given: a store with two points, closed
	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, "c", 2))
	require.NoError(t, s.Upsert(ctx, "c", []Point{
		chunkPoint("a", "f1", "docs", "h", []float32{1, 0}),
		chunkPoint("b", "f2", "docs", "h", []float32{0, 1}),
	}, WriteOptions{Wait: true}))
	require.NoError(t, s.Close())

	// When: reopening
	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// Then: points and dimensions survive
	n, err := s.Count(ctx, "c", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Error(t, s.EnsureCollection(ctx, "c", 5))
}

func TestHNSWStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Given: a store with a named collection and three points
	s, err := NewHNSWStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(ctx, "my docs", 2))
	require.NoError(t, s.Upsert(ctx, "my docs", []Point{
		chunkPoint("a", "f1", "docs", "h", []float32{1, 0}),
		chunkPoint("b", "f2", "docs", "h", []float32{0, 1}),
		chunkPoint("c", "f3", "docs", "h", []float32{0.7, 0.7}),
	}, WriteOptions{Wait: true}))
	require.NoError(t, s.Delete(ctx, "my docs", Filter{Must: map[string]any{KeyFileID: "f3"}}, WriteOptions{Wait: true}))
	require.NoError(t, s.Close())

	// When: reopening the directory
	s, err = NewHNSWStore(dir)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// Then: live points and payloads are back and the deleted one stays gone
	n, err := s.Count(ctx, "my docs", Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := s.Search(ctx, "my docs", []float32{0, 1}, 1, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, "f2", results[0].Payload[KeyFileID])
}

func TestHNSWStore_CompactsOrphans(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.EnsureCollection(ctx, "c", 2))

	// Given: 200 points for one file and 10 for another
	var points []Point
	for i := 0; i < 200; i++ {
		points = append(points, chunkPoint(fmt.Sprintf("old-%d", i), "big", "docs", "h", []float32{1, float32(i) / 200}))
	}
	for i := 0; i < 10; i++ {
		points = append(points, chunkPoint(fmt.Sprintf("keep-%d", i), "small", "docs", "h", []float32{float32(i) / 10, 1}))
	}
	require.NoError(t, s.Upsert(ctx, "c", points, WriteOptions{}))

	// When: deleting the large file
	require.NoError(t, s.Delete(ctx, "c", Filter{Must: map[string]any{KeyFileID: "big"}}, WriteOptions{}))

	// Then: the graph is rebuilt with only live nodes
	stats := s.Stats("c")
	assert.Equal(t, 10, stats.ValidIDs)
	assert.Equal(t, 10, stats.GraphNodes)
	assert.Zero(t, stats.Orphans)

	results, err := s.Search(ctx, "c", []float32{0, 1}, 3, Filter{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestHNSWStore_FilteredSearchFallsBackToScan(t *testing.T) {
	ctx := context.Background()
	s, err := NewHNSWStore("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.EnsureCollection(ctx, "c", 2))

	// Given: many points near the query in one repository, one far away in another
	var points []Point
	for i := 0; i < 100; i++ {
		points = append(points, chunkPoint(fmt.Sprintf("near-%d", i), fmt.Sprintf("f%d", i), "noise", "h", []float32{1, float32(i) / 1000}))
	}
	points = append(points, chunkPoint("far", "target", "wanted", "h", []float32{0, 1}))
	require.NoError(t, s.Upsert(ctx, "c", points, WriteOptions{}))

	// When: searching near the noise but filtered to the other repository
	results, err := s.Search(ctx, "c", []float32{1, 0}, 1, Filter{Must: map[string]any{KeyRepository: "wanted"}})
	require.NoError(t, err)

	// Then: the filtered point is still found
	require.Len(t, results, 1)
	assert.Equal(t, "far", results[0].ID)
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, b)

	b, err = ParseBackend(" Qdrant ")
	require.NoError(t, err)
	assert.Equal(t, BackendQdrant, b)

	_, err = ParseBackend("pinecone")
	assert.Error(t, err)
}

func TestOpen_SQLiteNeedsPath(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: BackendSQLite})
	assert.Error(t, err)
}
