package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/lock"
)

// document is the on-disk shape: repositoryId -> fileId -> Fingerprint.
type document map[string]map[string]Fingerprint

// JSONLedger keeps the whole ledger in one JSON document. It is loaded on first
// use and rewritten wholesale on every mutation. Writers are serialized by a
// mutex in-process and by a lock file across processes.
type JSONLedger struct {
	path  string
	flock *lock.FileLock

	mu        sync.Mutex
	loaded    bool
	doc       document
	stamp     fileStamp
	recovered bool
}

// fileStamp identifies the file contents last seen by this process.
type fileStamp struct {
	size    int64
	modTime time.Time
}

// NewJSONLedger creates a ledger backed by path. Nothing is read until first use.
func NewJSONLedger(path string) *JSONLedger {
	return &JSONLedger{
		path:  path,
		flock: lock.New(path + ".lock"),
	}
}

// Path returns the backing file.
func (l *JSONLedger) Path() string {
	return l.path
}

// Get implements Ledger.
func (l *JSONLedger) Get(_ context.Context, repositoryID, fileID string) (*Fingerprint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()

	fp, ok := l.doc[repositoryID][fileID]
	if !ok {
		return nil, nil
	}
	return &fp, nil
}

// GetAll implements Ledger.
func (l *JSONLedger) GetAll(_ context.Context, repositoryID string) (map[string]Fingerprint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()

	out := make(map[string]Fingerprint, len(l.doc[repositoryID]))
	for id, fp := range l.doc[repositoryID] {
		out[id] = fp
	}
	return out, nil
}

// Repositories implements Ledger.
func (l *JSONLedger) Repositories(_ context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()

	repos := make([]string, 0, len(l.doc))
	for id, files := range l.doc {
		if len(files) > 0 {
			repos = append(repos, id)
		}
	}
	sort.Strings(repos)
	return repos, nil
}

// Set implements Ledger.
func (l *JSONLedger) Set(ctx context.Context, fp Fingerprint) error {
	if fp.RepositoryID == "" || fp.FileID == "" {
		return verrors.ValidationError("fingerprint needs repositoryId and fileId", nil)
	}
	return l.mutate(ctx, func(doc document) {
		files := doc[fp.RepositoryID]
		if files == nil {
			files = make(map[string]Fingerprint)
			doc[fp.RepositoryID] = files
		}
		files[fp.FileID] = fp
	})
}

// Remove implements Ledger.
func (l *JSONLedger) Remove(ctx context.Context, repositoryID, fileID string) error {
	return l.mutate(ctx, func(doc document) {
		files := doc[repositoryID]
		delete(files, fileID)
		if len(files) == 0 {
			delete(doc, repositoryID)
		}
	})
}

// Reset implements Ledger.
func (l *JSONLedger) Reset(ctx context.Context, repositoryID string) error {
	return l.mutate(ctx, func(doc document) {
		delete(doc, repositoryID)
	})
}

// Recovered implements Ledger.
func (l *JSONLedger) Recovered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLoaded()
	return l.recovered
}

// Close implements Ledger.
func (l *JSONLedger) Close() error {
	return l.flock.Unlock()
}

// mutate applies fn under both locks and persists the result. The file is
// re-read first if another process changed it. On write failure the
// in-memory document is left as it was before fn.
func (l *JSONLedger) mutate(ctx context.Context, fn func(document)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flock.Lock(ctx); err != nil {
		return verrors.LedgerIOError("failed to lock ledger", err)
	}
	defer func() { _ = l.flock.Unlock() }()

	l.ensureLoaded()
	if st, err := stat(l.path); err == nil && st != l.stamp {
		l.load()
	}

	next := cloneDocument(l.doc)
	fn(next)

	if err := l.write(next); err != nil {
		return err
	}
	l.doc = next
	return nil
}

func (l *JSONLedger) ensureLoaded() {
	if !l.loaded {
		l.load()
	}
}

// load replaces the in-memory document with the file contents. Read and parse
// failures reset to empty; a corrupt file is moved aside first.
func (l *JSONLedger) load() {
	l.loaded = true
	l.doc = make(document)

	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.recovered = true
			slog.Warn("ledger_unreadable",
				slog.String("path", l.path),
				slog.String("error", err.Error()))
		}
		l.stamp = fileStamp{}
		return
	}
	l.stamp, _ = stat(l.path)

	if len(data) == 0 {
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		l.recovered = true
		aside := fmt.Sprintf("%s.corrupt-%s", l.path, time.Now().Format("20060102-150405"))
		if renameErr := os.Rename(l.path, aside); renameErr != nil {
			aside = ""
		}
		slog.Warn("ledger_recovered",
			slog.String("path", l.path),
			slog.String("moved_to", aside),
			slog.String("error", err.Error()))
		l.stamp = fileStamp{}
		return
	}

	for repo, files := range doc {
		if files != nil {
			l.doc[repo] = files
		}
	}
}

// write persists doc atomically: temp file, fsync, rename.
func (l *JSONLedger) write(doc document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return verrors.LedgerIOError("failed to encode ledger", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return verrors.LedgerIOError("failed to create ledger directory", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return verrors.LedgerIOError("failed to create temp ledger", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return verrors.LedgerIOError("failed to write ledger", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return verrors.LedgerIOError("failed to sync ledger", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return verrors.LedgerIOError("failed to close ledger", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		_ = os.Remove(tmpName)
		return verrors.LedgerIOError("failed to replace ledger", err)
	}
	syncDir(dir)

	l.stamp, _ = stat(l.path)
	return nil
}

func stat(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{size: info.Size(), modTime: info.ModTime()}, nil
}

// syncDir flushes the directory entry after a rename. Not supported everywhere.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func cloneDocument(doc document) document {
	out := make(document, len(doc))
	for repo, files := range doc {
		copied := make(map[string]Fingerprint, len(files))
		for id, fp := range files {
			copied[id] = fp
		}
		out[repo] = copied
	}
	return out
}
