package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/lock"
	"github.com/Aman-CERP/vecsync/internal/progress"
	"github.com/Aman-CERP/vecsync/internal/store"
)

const helloWorld = "Hello world\n\nSecond paragraph"

func TestNewRunner_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := NewRunner(RunnerDependencies{})
	assert.Error(t, err)

	_, err = NewRunner(RunnerDependencies{Config: env.cfg, Ledger: env.ledger, Store: env.store})
	assert.ErrorContains(t, err, "embedder")
}

func TestRunner_Run_IndexesNewFile(t *testing.T) {
	// Given: a repository with one two-paragraph file and an 11 byte chunk size
	env := newTestEnv(t, map[string]string{"notes.txt": helloWorld})

	// When: running the first pass
	summary := env.run(t)

	// Then: the file is split into three chunks, all stored
	assert.Equal(t, 1, summary.ProcessedFiles)
	assert.Equal(t, 3, summary.TotalChunks)
	assert.Equal(t, 3, summary.IndexedChunks)
	assert.False(t, summary.Degraded())
	assert.Empty(t, summary.DeletedFileIDs)

	fileID := ledger.FileID(testRepo, "notes.txt")
	assert.Equal(t, 3, env.store.countFile(t, fileID))

	// And: the ledger records the content hash
	fp, err := env.ledger.Get(context.Background(), testRepo, fileID)
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, ledger.HashContent([]byte(helloWorld)), fp.ContentHash)
	assert.Equal(t, "notes.txt", fp.FilePath)

	// And: the first chunk is "Hello world" at sequence 0 on line 1
	hits, err := env.runner.Search(context.Background(), testRepo, "Hello world", 3)
	require.NoError(t, err)
	var found bool
	for _, h := range hits {
		if h.Text == "Hello world" {
			found = true
			assert.Equal(t, "notes.txt", h.Path)
			assert.Equal(t, 1, h.LineStart)
		}
	}
	assert.True(t, found, "expected a hit for the first chunk")
}

func TestRunner_Run_UnchangedRerunIsNoop(t *testing.T) {
	// Given: an indexed repository
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld, "b.txt": "other words"})
	env.run(t)
	mutations := env.store.mutations()
	calls := env.embedder.Calls()

	// When: running again without changes
	summary := env.run(t)

	// Then: nothing is embedded, written or deleted
	assert.Zero(t, summary.ProcessedFiles)
	assert.Equal(t, 2, summary.UnchangedFiles)
	assert.Zero(t, summary.TotalChunks)
	assert.Equal(t, mutations, env.store.mutations())
	assert.Equal(t, calls, env.embedder.Calls())
}

func TestRunner_Run_MtimeOnlyChangeRefreshesLedger(t *testing.T) {
	// Given: an indexed file
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	env.run(t)
	mutations := env.store.mutations()

	// When: only its mtime changes
	env.touch(t, "a.txt", time.Hour)
	summary := env.run(t)

	// Then: it is unchanged and the ledger carries the new mtime
	assert.Zero(t, summary.ProcessedFiles)
	assert.Equal(t, 1, summary.UnchangedFiles)
	assert.Equal(t, mutations, env.store.mutations())

	info, err := os.Stat(filepath.Join(env.root, "a.txt"))
	require.NoError(t, err)
	fp, err := env.ledger.Get(context.Background(), testRepo, ledger.FileID(testRepo, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().UnixMilli(), fp.LastModified)
}

func TestRunner_Run_ModifiedFileReplacesPoints(t *testing.T) {
	// Given: an indexed three-chunk file
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	env.run(t)
	fileID := ledger.FileID(testRepo, "a.txt")
	require.Equal(t, 3, env.store.countFile(t, fileID))

	// When: its content shrinks to one chunk
	writeFile(t, env.root, "a.txt", "Changed")
	env.touch(t, "a.txt", time.Hour)
	summary := env.run(t)

	// Then: exactly one fresh point set remains
	assert.Equal(t, 1, summary.ProcessedFiles)
	assert.Equal(t, 1, summary.IndexedChunks)
	assert.Equal(t, 1, env.store.countFile(t, fileID))

	fp, err := env.ledger.Get(context.Background(), testRepo, fileID)
	require.NoError(t, err)
	assert.Equal(t, ledger.HashContent([]byte("Changed")), fp.ContentHash)
}

func TestRunner_Run_ShrunkFileWithoutFileIDFilterLeavesNoTrailingPoints(t *testing.T) {
	// Given: a store that cannot filter by fileId and an indexed three-chunk file
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	env.store.noFileIDFilter = true
	env.run(t)
	fileID := ledger.FileID(testRepo, "a.txt")
	require.Equal(t, 3, env.store.countFile(t, fileID))

	// When: its content shrinks to one chunk
	writeFile(t, env.root, "a.txt", "Changed")
	env.touch(t, "a.txt", time.Hour)
	summary := env.run(t)

	// Then: the two trailing points are gone without a full reindex
	assert.False(t, summary.FullReindex)
	assert.Equal(t, 1, summary.IndexedChunks)
	assert.Equal(t, 1, env.store.countFile(t, fileID))

	fp, err := env.ledger.Get(context.Background(), testRepo, fileID)
	require.NoError(t, err)
	assert.Equal(t, 1, fp.ChunkCount)
}

func TestRunner_Run_FailedUpsertKeepsOldHash(t *testing.T) {
	// Given: an indexed file
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	env.run(t)
	fileID := ledger.FileID(testRepo, "a.txt")
	before, err := env.ledger.Get(context.Background(), testRepo, fileID)
	require.NoError(t, err)

	// When: it changes but every upsert fails
	for i := 1; i <= 10; i++ {
		env.store.failUpsertCalls[env.store.upsertCalls+i] = true
	}
	writeFile(t, env.root, "a.txt", "Changed")
	env.touch(t, "a.txt", time.Hour)
	summary := env.run(t)

	// Then: the run is degraded and the ledger still holds the old hash
	assert.Equal(t, 1, summary.FailedFiles)
	assert.True(t, summary.Degraded())
	after, err := env.ledger.Get(context.Background(), testRepo, fileID)
	require.NoError(t, err)
	assert.Equal(t, before.ContentHash, after.ContentHash)

	// And: the next healthy run retries it
	env.store.failUpsertCalls = map[int]bool{}
	summary = env.run(t)
	assert.Equal(t, 1, summary.ProcessedFiles)
	assert.Zero(t, summary.FailedFiles)
}

func TestRunner_Run_DeletedFileRemovesPoints(t *testing.T) {
	// Given: two indexed files
	env := newTestEnv(t, map[string]string{"keep.txt": "keep me", "gone.txt": helloWorld})
	env.run(t)
	goneID := ledger.FileID(testRepo, "gone.txt")

	// When: one is removed from disk
	require.NoError(t, os.Remove(filepath.Join(env.root, "gone.txt")))
	summary := env.run(t)

	// Then: its points and ledger entry are gone
	assert.Equal(t, []string{goneID}, summary.DeletedFileIDs)
	assert.Zero(t, env.store.countFile(t, goneID))
	fp, err := env.ledger.Get(context.Background(), testRepo, goneID)
	require.NoError(t, err)
	assert.Nil(t, fp)

	// And: the other file is untouched
	assert.Equal(t, 1, env.store.countFile(t, ledger.FileID(testRepo, "keep.txt")))
}

func TestRunner_Run_DeleteThenRecreateIsNew(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	env.run(t)

	require.NoError(t, os.Remove(filepath.Join(env.root, "a.txt")))
	env.run(t)

	writeFile(t, env.root, "a.txt", helloWorld)
	summary := env.run(t)

	assert.Equal(t, 1, summary.ProcessedFiles)
	assert.Equal(t, 3, env.store.countFile(t, ledger.FileID(testRepo, "a.txt")))
}

func TestRunner_Run_EmptiedFileIsDeleted(t *testing.T) {
	// Given: an indexed file
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	env.run(t)

	// When: it is emptied to whitespace
	writeFile(t, env.root, "a.txt", "  \n\t")
	env.touch(t, "a.txt", time.Hour)
	summary := env.run(t)

	// Then: it is treated as deleted
	fileID := ledger.FileID(testRepo, "a.txt")
	assert.Equal(t, []string{fileID}, summary.DeletedFileIDs)
	assert.Zero(t, env.store.countFile(t, fileID))
}

func TestRunner_Run_CoarseFallbackReindexesRepository(t *testing.T) {
	// Given: a store that cannot filter by fileId, with two indexed files
	env := newTestEnv(t, map[string]string{"keep.txt": helloWorld, "gone.txt": "bye"})
	env.store.noFileIDFilter = true
	env.run(t)

	// When: one file is deleted
	require.NoError(t, os.Remove(filepath.Join(env.root, "gone.txt")))
	summary := env.run(t)

	// Then: the repository is purged and the remaining file reindexed
	assert.True(t, summary.FullReindex)
	assert.Equal(t, 1, summary.ProcessedFiles)
	assert.Equal(t, 3, env.store.countRepo(t))
	assert.Equal(t, 3, env.store.countFile(t, ledger.FileID(testRepo, "keep.txt")))

	entries, err := env.ledger.GetAll(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunner_Run_SkipIfBusyInProcess(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})

	m := env.runner.repoLock(testRepo)
	m.Lock()
	_, err := env.runner.Run(context.Background(), testRepo, RunOptions{SkipIfBusy: true})
	m.Unlock()

	assert.ErrorIs(t, err, ErrBusy)
	assert.Zero(t, env.store.mutations())
}

func TestRunner_Run_SkipIfBusyOtherProcess(t *testing.T) {
	// Given: the repository lock file held through another descriptor
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	held := lock.New(filepath.Join(env.cfg.LockDir(), testRepo+".lock"))
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	// When: a watcher tick runs
	_, err = env.runner.Run(context.Background(), testRepo, RunOptions{SkipIfBusy: true})

	// Then: it is skipped
	assert.ErrorIs(t, err, ErrBusy)

	// And: once released, runs proceed
	require.NoError(t, held.Unlock())
	summary, err := env.runner.Run(context.Background(), testRepo, RunOptions{SkipIfBusy: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProcessedFiles)
}

func TestRunner_Run_ConcurrentRunsSerialize(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})

	var wg sync.WaitGroup
	summaries := make([]*RunSummary, 2)
	for i := range summaries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := env.runner.Run(context.Background(), testRepo, RunOptions{})
			assert.NoError(t, err)
			summaries[i] = s
		}()
	}
	wg.Wait()

	// One run indexes the file, the other finds it unchanged
	processed := summaries[0].ProcessedFiles + summaries[1].ProcessedFiles
	assert.Equal(t, 1, processed)
	assert.Equal(t, 3, env.store.countRepo(t))
}

func TestRunner_Run_RecoveredLedgerPurgesRepository(t *testing.T) {
	// Given: an indexed repository plus a stale point the ledger never knew
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	env.run(t)
	stale := store.Point{
		ID:     PointID("ghost", 0),
		Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0},
		Payload: map[string]any{
			store.KeyFileID:     "ghost",
			store.KeyRepository: testRepo,
		},
	}
	require.NoError(t, env.store.VectorStore.Upsert(context.Background(), testCollection, []store.Point{stale}, store.WriteOptions{Wait: true}))

	// When: the ledger file is corrupt at startup
	path := filepath.Join(env.cfg.DataDir, "ledger.json")
	require.NoError(t, env.ledger.Close())
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	recovered := ledger.NewJSONLedger(path)
	t.Cleanup(func() { _ = recovered.Close() })
	runner := env.newRunner(t, recovered)

	summary, err := runner.Run(context.Background(), testRepo, RunOptions{})
	require.NoError(t, err)

	// Then: the repository is purged and rebuilt from scratch
	assert.True(t, recovered.Recovered())
	assert.Equal(t, 1, summary.ProcessedFiles)
	assert.Zero(t, env.store.countFile(t, "ghost"))
	assert.Equal(t, 3, env.store.countRepo(t))

	// And: the purge happens once per process
	deletes := env.store.deleteCalls
	_, err = runner.Run(context.Background(), testRepo, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, deletes, env.store.deleteCalls)
}

func TestRunner_Run_ConfigurationErrors(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})

	// Unknown repository
	_, err := env.runner.Run(context.Background(), "missing", RunOptions{})
	assert.Equal(t, verrors.ErrCodeRepositoryNotFound, verrors.GetCode(err))

	// Invalid glob
	env.cfg.Repositories[0].Include = []string{"[unclosed"}
	_, err = env.runner.Run(context.Background(), testRepo, RunOptions{})
	assert.Error(t, err)

	// Unknown chunk strategy
	env.cfg.Repositories[0].Include = nil
	env.cfg.Repositories[0].ChunkStrategy = "sentence"
	_, err = env.runner.Run(context.Background(), testRepo, RunOptions{})
	assert.True(t, verrors.IsConfiguration(err))

	// Root path gone
	env.cfg.Repositories[0].ChunkStrategy = ""
	env.cfg.Repositories[0].Path = filepath.Join(env.root, "nope")
	_, err = env.runner.Run(context.Background(), testRepo, RunOptions{})
	assert.True(t, verrors.IsConfiguration(err))

	assert.Zero(t, env.store.mutations())
}

func TestRunner_Run_ReportsProgress(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld, "b.txt": "more text here"})

	var mu sync.Mutex
	var pcts []int
	sink := progress.SinkFunc(func(_ any, u progress.Update) error {
		mu.Lock()
		defer mu.Unlock()
		pcts = append(pcts, u.Percentage)
		return nil
	})

	_, err := env.runner.Run(context.Background(), testRepo, RunOptions{Reporter: progress.NewReporter(sink, "tok")})
	require.NoError(t, err)

	require.NotEmpty(t, pcts)
	for i := 1; i < len(pcts); i++ {
		assert.GreaterOrEqual(t, pcts[i], pcts[i-1])
	}
	assert.Equal(t, 100, pcts[len(pcts)-1])
}

func TestRunner_Run_CancelledContextStillCompletes(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := env.runner.Run(ctx, testRepo, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.IndexedChunks)
}

func TestRunner_Stats(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld, "b.txt": "b"})
	env.run(t)

	stats, err := env.runner.Stats(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LedgerEntries)
	assert.Equal(t, 4, stats.Vectors)
}

func TestRunner_Search_RejectsEmptyQuery(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.runner.Search(context.Background(), testRepo, "   ", 5)
	assert.Equal(t, verrors.ErrCodeQueryEmpty, verrors.GetCode(err))

	_, err = env.runner.Search(context.Background(), "missing", "hello", 5)
	assert.Equal(t, verrors.ErrCodeRepositoryNotFound, verrors.GetCode(err))
}

func TestRunner_Search_ScopedToRepository(t *testing.T) {
	env := newTestEnv(t, map[string]string{"a.txt": helloWorld})
	env.run(t)
	other := store.Point{
		ID:      PointID("elsewhere", 0),
		Vector:  []float32{1, 1, 1, 1, 1, 1, 1, 1},
		Payload: map[string]any{store.KeyFileID: "elsewhere", store.KeyRepository: "other", store.KeyText: "Hello world"},
	}
	require.NoError(t, env.store.VectorStore.Upsert(context.Background(), testCollection, []store.Point{other}, store.WriteOptions{Wait: true}))

	hits, err := env.runner.Search(context.Background(), testRepo, "Hello world", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, h := range hits {
		assert.Equal(t, "a.txt", h.Path)
	}
}
