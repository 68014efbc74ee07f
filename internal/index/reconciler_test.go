package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/store"
)

// indexed stores one point per file and seeds the ledger.
func indexed(t *testing.T, s *spyStore, l ledger.Ledger, paths ...string) []FileChange {
	t.Helper()
	var out []FileChange
	var points []store.Point
	for _, p := range paths {
		id := ledger.FileID(testRepo, p)
		seed(t, l, p, p, baseTime)
		points = append(points, store.Point{
			ID:      PointID(id, 0),
			Vector:  []float32{1, 0, 0, 0, 0, 0, 0, 0},
			Payload: map[string]any{store.KeyFileID: id, store.KeyRepository: testRepo},
		})
		out = append(out, FileChange{FileID: id, Path: p})
	}
	require.NoError(t, s.EnsureCollection(context.Background(), testCollection, testDims))
	require.NoError(t, s.VectorStore.Upsert(context.Background(), testCollection, points, store.WriteOptions{Wait: true}))
	return out
}

func TestReconciler_DeletesPointsThenLedger(t *testing.T) {
	// Given: three indexed files, two of them deleted
	s := newSpyStore(t)
	l := newTestLedger(t)
	files := indexed(t, s, l, "a.txt", "b.txt", "c.txt")

	// When: reconciling
	res := NewReconciler(s, l, testCollection, nil).
		Reconcile(context.Background(), testRepo, files[:2], store.Capabilities{FileIDFilter: true}, nil)

	// Then: only those files are gone
	assert.Equal(t, []string{files[0].FileID, files[1].FileID}, res.Deleted)
	assert.False(t, res.Coarse)
	assert.Equal(t, 1, s.countRepo(t))

	entries, err := l.GetAll(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, files[2].FileID)
}

func TestReconciler_FailedDeleteKeepsLedgerEntry(t *testing.T) {
	s := newSpyStore(t)
	l := newTestLedger(t)
	files := indexed(t, s, l, "a.txt")
	s.failDelete = true

	res := NewReconciler(s, l, testCollection, nil).
		Reconcile(context.Background(), testRepo, files, store.Capabilities{FileIDFilter: true}, nil)

	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{files[0].FileID}, res.Failed)
	fp, err := l.Get(context.Background(), testRepo, files[0].FileID)
	require.NoError(t, err)
	assert.NotNil(t, fp, "entry must survive for the next run")
}

func TestReconciler_CoarseFallback(t *testing.T) {
	// Given: a store without fileId filtering
	s := newSpyStore(t)
	l := newTestLedger(t)
	files := indexed(t, s, l, "a.txt", "b.txt")

	// When: one file is deleted
	res := NewReconciler(s, l, testCollection, nil).
		Reconcile(context.Background(), testRepo, files[:1], store.Capabilities{}, nil)

	// Then: the repository is purged and its ledger reset
	assert.True(t, res.Coarse)
	assert.Equal(t, []string{files[0].FileID}, res.Deleted)
	assert.Zero(t, s.countRepo(t))
	entries, err := l.GetAll(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReconciler_CoarseFailureKeepsLedger(t *testing.T) {
	s := newSpyStore(t)
	l := newTestLedger(t)
	files := indexed(t, s, l, "a.txt", "b.txt")
	s.failDelete = true

	res := NewReconciler(s, l, testCollection, nil).
		Reconcile(context.Background(), testRepo, files[:1], store.Capabilities{}, nil)

	assert.False(t, res.Coarse)
	assert.Len(t, res.Failed, 1)
	entries, err := l.GetAll(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReconciler_NothingToDelete(t *testing.T) {
	s := newSpyStore(t)

	res := NewReconciler(s, newTestLedger(t), testCollection, nil).
		Reconcile(context.Background(), testRepo, nil, store.Capabilities{}, nil)

	assert.False(t, res.Coarse)
	assert.Zero(t, s.mutations())
}
