package index

import (
	"context"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecsync/internal/config"
	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/store"
)

const (
	testRepo       = "docs"
	testCollection = "test"
	testDims       = 8
)

var errInjected = errors.New("injected failure")

// fakeEmbedder hashes text into a one-hot vector. Texts containing failOn
// fail to embed.
type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failOn != "" && strings.Contains(text, f.failOn)
	f.mu.Unlock()
	if fail {
		return nil, errInjected
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	vec := make([]float32, testDims)
	vec[h.Sum32()%testDims] = 1
	vec[(h.Sum32()/testDims)%testDims] += 0.5
	return vec, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbedder) Dimensions() int                  { return testDims }
func (f *fakeEmbedder) ModelName() string                { return "fake" }
func (f *fakeEmbedder) Available(_ context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                     { return nil }

// spyStore wraps an in-memory HNSW store, counting mutations and injecting
// failures.
type spyStore struct {
	store.VectorStore

	mu              sync.Mutex
	upsertCalls     int
	deleteCalls     int
	deletedIDs      []string
	failUpsertCalls map[int]bool // 1-based call numbers
	failDelete      bool
	noFileIDFilter  bool
}

func newSpyStore(t *testing.T) *spyStore {
	t.Helper()
	s, err := store.NewHNSWStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return &spyStore{VectorStore: s, failUpsertCalls: map[int]bool{}}
}

func (s *spyStore) Upsert(ctx context.Context, name string, points []store.Point, opts store.WriteOptions) error {
	s.mu.Lock()
	s.upsertCalls++
	fail := s.failUpsertCalls[s.upsertCalls]
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.VectorStore.Upsert(ctx, name, points, opts)
}

func (s *spyStore) Delete(ctx context.Context, name string, filter store.Filter, opts store.WriteOptions) error {
	s.mu.Lock()
	s.deleteCalls++
	fail := s.failDelete
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.VectorStore.Delete(ctx, name, filter, opts)
}

func (s *spyStore) DeletePoints(ctx context.Context, name string, ids []string, opts store.WriteOptions) error {
	s.mu.Lock()
	s.deleteCalls++
	s.deletedIDs = append(s.deletedIDs, ids...)
	fail := s.failDelete
	s.mu.Unlock()
	if fail {
		return errInjected
	}
	return s.VectorStore.DeletePoints(ctx, name, ids, opts)
}

func (s *spyStore) Capabilities(ctx context.Context, name string) (store.Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noFileIDFilter {
		return store.Capabilities{}, nil
	}
	return store.Capabilities{FileIDFilter: true}, nil
}

func (s *spyStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls + s.deleteCalls
}

func (s *spyStore) countFile(t *testing.T, fileID string) int {
	t.Helper()
	n, err := s.Count(context.Background(), testCollection, store.Filter{Must: map[string]any{store.KeyFileID: fileID}})
	require.NoError(t, err)
	return n
}

func (s *spyStore) countRepo(t *testing.T) int {
	t.Helper()
	n, err := s.Count(context.Background(), testCollection, store.Filter{Must: map[string]any{store.KeyRepository: testRepo}})
	require.NoError(t, err)
	return n
}

// testEnv is a repository on disk with a runner over fakes.
type testEnv struct {
	root     string
	cfg      *config.Config
	ledger   *ledger.JSONLedger
	store    *spyStore
	embedder *fakeEmbedder
	runner   *Runner
}

func newTestEnv(t *testing.T, files map[string]string) *testEnv {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		writeFile(t, root, path, content)
	}

	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	cfg.VectorStore.Collection = testCollection
	cfg.Embeddings.BatchSize = 4
	cfg.Repositories = []config.Repository{{Name: testRepo, Path: root, ChunkSize: 11}}

	env := &testEnv{
		root:     root,
		cfg:      cfg,
		ledger:   ledger.NewJSONLedger(filepath.Join(cfg.DataDir, "ledger.json")),
		store:    newSpyStore(t),
		embedder: &fakeEmbedder{},
	}
	t.Cleanup(func() { _ = env.ledger.Close() })
	env.runner = env.newRunner(t, env.ledger)
	return env
}

func (e *testEnv) newRunner(t *testing.T, l ledger.Ledger) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerDependencies{
		Config:   e.cfg,
		Ledger:   l,
		Store:    e.store,
		Embedder: e.embedder,
	})
	require.NoError(t, err)
	return r
}

func (e *testEnv) run(t *testing.T) *RunSummary {
	t.Helper()
	summary, err := e.runner.Run(context.Background(), testRepo, RunOptions{})
	require.NoError(t, err)
	return summary
}

// touch moves a file's mtime forward so the next pass hashes it.
func (e *testEnv) touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	abs := filepath.Join(e.root, filepath.FromSlash(path))
	info, err := os.Stat(abs)
	require.NoError(t, err)
	mtime := info.ModTime().Add(offset)
	require.NoError(t, os.Chtimes(abs, mtime, mtime))
}

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}
