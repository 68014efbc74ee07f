package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecsync/internal/scanner"
)

type changeCall struct {
	changed []string
	removed []string
}

// recorder collects ChangeFunc invocations. The first len(fail) calls
// return the queued errors.
type recorder struct {
	mu    sync.Mutex
	calls []changeCall
	fail  []error
	ch    chan changeCall
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan changeCall, 16)}
}

func (r *recorder) onChange(_ context.Context, changed, removed []string) error {
	call := changeCall{changed: changed, removed: removed}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	var err error
	if len(r.fail) > 0 {
		err, r.fail = r.fail[0], r.fail[1:]
	}
	r.mu.Unlock()
	r.ch <- call
	return err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func writeFile(t *testing.T, root, path, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(path))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func touch(t *testing.T, root, path string, offset time.Duration) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(path))
	info, err := os.Stat(abs)
	require.NoError(t, err)
	mtime := info.ModTime().Add(offset)
	require.NoError(t, os.Chtimes(abs, mtime, mtime))
}

func newTestWatcher(t *testing.T, root string, interval time.Duration, rec *recorder) *PollingWatcher {
	t.Helper()
	w, err := NewPollingWatcher(Config{
		Name:     "docs",
		Interval: interval,
		Options:  scanner.EnumerateOptions{RootDir: root},
		OnChange: rec.onChange,
	})
	require.NoError(t, err)
	return w
}

func TestPollingWatcher_DetectsChanges(t *testing.T) {
	// Given: a baseline snapshot of two files
	root := t.TempDir()
	writeFile(t, root, "keep.txt", "keep")
	writeFile(t, root, "edit.txt", "before")
	writeFile(t, root, "gone.txt", "gone")
	w := newTestWatcher(t, root, time.Hour, newRecorder())
	_, err := w.poll(context.Background())
	require.NoError(t, err)

	// When: one file is added, one edited and one removed
	writeFile(t, root, "new.txt", "new")
	writeFile(t, root, "edit.txt", "after!")
	touch(t, root, "edit.txt", time.Minute)
	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))

	events, err := w.poll(context.Background())
	require.NoError(t, err)

	// Then: each difference is reported once
	ops := map[string]Operation{}
	for _, e := range events {
		ops[e.Path] = e.Operation
	}
	changed, removed := splitPending(ops)
	assert.ElementsMatch(t, []string{"new.txt", "edit.txt"}, changed)
	assert.Equal(t, []string{"gone.txt"}, removed)
	assert.Equal(t, OpCreate, ops["new.txt"])
	assert.Equal(t, OpModify, ops["edit.txt"])
	assert.Equal(t, OpDelete, ops["gone.txt"])
}

func TestPollingWatcher_NoChangesNoEvents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	w := newTestWatcher(t, root, time.Hour, newRecorder())

	_, err := w.poll(context.Background())
	require.NoError(t, err)
	events, err := w.poll(context.Background())
	require.NoError(t, err)

	assert.Empty(t, events)
}

func TestPollingWatcher_MtimeOnlyChangeIsReported(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	w := newTestWatcher(t, root, time.Hour, newRecorder())
	_, err := w.poll(context.Background())
	require.NoError(t, err)

	touch(t, root, "a.txt", time.Hour)
	events, err := w.poll(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, OpModify, events[0].Operation)
}

func TestPollingWatcher_SameSizeContentChangeIsReported(t *testing.T) {
	// Given: a file rewritten with same-size content and a restored mtime
	root := t.TempDir()
	writeFile(t, root, "a.txt", "aaaa")
	info, err := os.Stat(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	w := newTestWatcher(t, root, time.Hour, newRecorder())
	_, err = w.poll(context.Background())
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "bbbb")
	later := info.ModTime().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), later, later))

	// When/Then: the new mtime forces a re-hash that differs
	events, err := w.poll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a.txt", events[0].Path)
}

func TestPollingWatcher_StartInvokesCallback(t *testing.T) {
	// Given: a started watcher with a short interval
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	rec := newRecorder()
	w := newTestWatcher(t, root, 50*time.Millisecond, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// When: a file is created
	writeFile(t, root, "b.txt", "b")

	// Then: the callback sees it
	select {
	case call := <-rec.ch:
		assert.Equal(t, []string{"b.txt"}, call.changed)
		assert.Empty(t, call.removed)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change callback")
	}
}

func TestPollingWatcher_FailedCallbackIsRetried(t *testing.T) {
	// Given: a watcher whose first callback fails
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	rec := newRecorder()
	rec.fail = []error{errors.New("repository busy")}
	w := newTestWatcher(t, root, time.Hour, rec)
	_, err := w.poll(context.Background())
	require.NoError(t, err)

	// When: a file changes and two ticks pass
	writeFile(t, root, "a.txt", "changed")
	touch(t, root, "a.txt", time.Minute)
	w.tick(context.Background())
	w.tick(context.Background())
	w.tick(context.Background())

	// Then: the change is offered again after the failure, then dropped
	require.Equal(t, 2, rec.count())
	first, second := <-rec.ch, <-rec.ch
	assert.Equal(t, []string{"a.txt"}, first.changed)
	assert.Equal(t, []string{"a.txt"}, second.changed)
	assert.Empty(t, w.pending)
}

func TestPollingWatcher_PendingMergesLaterChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "b.txt", "b")
	rec := newRecorder()
	rec.fail = []error{errors.New("degraded")}
	w := newTestWatcher(t, root, time.Hour, rec)
	_, err := w.poll(context.Background())
	require.NoError(t, err)

	writeFile(t, root, "new.txt", "new")
	w.tick(context.Background())
	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
	w.tick(context.Background())

	require.Equal(t, 2, rec.count())
	<-rec.ch
	second := <-rec.ch
	assert.Equal(t, []string{"new.txt"}, second.changed)
	assert.Equal(t, []string{"b.txt"}, second.removed)
}

func TestPollingWatcher_StopEndsLoop(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w := newTestWatcher(t, root, 50*time.Millisecond, rec)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}

	writeFile(t, root, "late.txt", "late")
	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestPollingWatcher_ContextCancelEndsLoop(t *testing.T) {
	w := newTestWatcher(t, t.TempDir(), 50*time.Millisecond, newRecorder())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	cancel()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after cancel")
	}
}

func TestPollingWatcher_StartErrors(t *testing.T) {
	_, err := NewPollingWatcher(Config{Name: "docs"})
	assert.Error(t, err, "callback is required")

	// Missing root fails the initial scan
	w := newTestWatcher(t, filepath.Join(t.TempDir(), "missing"), time.Hour, newRecorder())
	assert.Error(t, w.Start(context.Background()))

	// Started twice
	w = newTestWatcher(t, t.TempDir(), time.Hour, newRecorder())
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.Error(t, w.Start(context.Background()))
}

func TestNewPollingWatcher_IntervalBounds(t *testing.T) {
	rec := newRecorder()

	w := newTestWatcher(t, t.TempDir(), 0, rec)
	assert.Equal(t, DefaultInterval, w.Interval())

	w = newTestWatcher(t, t.TempDir(), time.Millisecond, rec)
	assert.Equal(t, MinInterval, w.Interval())
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}
