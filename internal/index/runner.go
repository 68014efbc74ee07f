// Package index runs incremental indexing passes. A Runner enumerates a
// repository, classifies files against the ledger, removes deleted files
// from the vector store, and chunks, embeds and upserts changed files.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/vecsync/internal/chunk"
	"github.com/Aman-CERP/vecsync/internal/config"
	"github.com/Aman-CERP/vecsync/internal/embed"
	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/lock"
	"github.com/Aman-CERP/vecsync/internal/progress"
	"github.com/Aman-CERP/vecsync/internal/scanner"
	"github.com/Aman-CERP/vecsync/internal/store"
	"github.com/Aman-CERP/vecsync/internal/telemetry"
)

// ErrBusy is returned by Run with SkipIfBusy when another run holds the
// repository.
var ErrBusy = errors.New("repository is already being indexed")

// RunSummary is the outcome of one run.
type RunSummary struct {
	Repository     string        `json:"repository"`
	ProcessedFiles int           `json:"processedFiles"`
	SkippedFiles   int           `json:"skippedFiles"`
	FailedFiles    int           `json:"failedFiles"`
	UnchangedFiles int           `json:"unchangedFiles"`
	TotalChunks    int           `json:"totalChunks"`
	IndexedChunks  int           `json:"indexedChunks"`
	DeletedFileIDs []string      `json:"deletedFileIds"`
	FullReindex    bool          `json:"fullReindex,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Degraded reports that some chunks or files did not make it into the index.
func (s *RunSummary) Degraded() bool {
	return s.FailedFiles > 0 || s.IndexedChunks < s.TotalChunks
}

// RunOptions controls one run.
type RunOptions struct {
	// Reporter receives progress. Nil reports nothing.
	Reporter *progress.Reporter

	// SkipIfBusy returns ErrBusy instead of waiting when the repository is
	// already being indexed. Watcher ticks set it.
	SkipIfBusy bool

	// Trigger is recorded in the run history. Defaults to manual.
	Trigger telemetry.Trigger
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Config is the loaded configuration (required).
	Config *config.Config

	// Ledger records indexed fingerprints (required).
	Ledger ledger.Ledger

	// Store holds the vectors (required).
	Store store.VectorStore

	// Embedder generates embeddings (required).
	Embedder embed.Embedder

	// Scanner enumerates files. Defaults to scanner.New().
	Scanner *scanner.Scanner

	// History records completed runs. Nil disables it.
	History *telemetry.History

	Logger *slog.Logger
}

// Runner executes indexing runs. It is safe for concurrent use; runs for the
// same repository are serialized in-process and across processes.
type Runner struct {
	cfg      *config.Config
	ledger   ledger.Ledger
	store    store.VectorStore
	embedder embed.Embedder
	scanner  *scanner.Scanner
	history  *telemetry.History
	logger   *slog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	purged map[string]bool
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sc := deps.Scanner
	if sc == nil {
		var err error
		if sc, err = scanner.New(); err != nil {
			return nil, fmt.Errorf("failed to create scanner: %w", err)
		}
	}

	return &Runner{
		cfg:      deps.Config,
		ledger:   deps.Ledger,
		store:    deps.Store,
		embedder: deps.Embedder,
		scanner:  sc.WithLogger(logger),
		history:  deps.History,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		purged:   make(map[string]bool),
	}, nil
}

// Ledger returns the runner's ledger.
func (r *Runner) Ledger() ledger.Ledger { return r.ledger }

// Store returns the runner's vector store.
func (r *Runner) Store() store.VectorStore { return r.store }

// Embedder returns the runner's embedder.
func (r *Runner) Embedder() embed.Embedder { return r.embedder }

// Collection returns the vector store collection name.
func (r *Runner) Collection() string { return r.cfg.VectorStore.Collection }

func (r *Runner) repoLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[name]
	if !ok {
		m = &sync.Mutex{}
		r.locks[name] = m
	}
	return m
}

// Run performs one indexing pass over the named repository.
//
// Only configuration problems return an error before work starts. Every
// other failure is logged and reflected in the summary. Cancelling ctx does
// not interrupt a run that has started.
func (r *Runner) Run(ctx context.Context, name string, opts RunOptions) (*RunSummary, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	repo, err := r.cfg.Repository(name)
	if err != nil {
		return nil, err
	}
	if err := repo.Validate(); err != nil {
		return nil, err
	}
	if err := validateChunking(repo); err != nil {
		return nil, err
	}
	if err := scanner.ValidatePatterns(append(append([]string(nil), repo.Include...), repo.Exclude...)); err != nil {
		return nil, err
	}

	release, err := r.acquire(ctx, name, opts.SkipIfBusy)
	if err != nil {
		return nil, err
	}
	defer release()

	summary, err := r.run(ctx, repo, opts.Reporter)
	if err != nil {
		return nil, err
	}
	summary.Duration = time.Since(start)

	opts.Reporter.Complete(fmt.Sprintf("Indexed %d/%d chunks from %d files", summary.IndexedChunks, summary.TotalChunks, summary.ProcessedFiles))
	r.logger.Info("index_run_complete",
		slog.String("repository", name),
		slog.Int("processed_files", summary.ProcessedFiles),
		slog.Int("skipped_files", summary.SkippedFiles),
		slog.Int("failed_files", summary.FailedFiles),
		slog.Int("unchanged_files", summary.UnchangedFiles),
		slog.Int("total_chunks", summary.TotalChunks),
		slog.Int("indexed_chunks", summary.IndexedChunks),
		slog.Int("deleted_files", len(summary.DeletedFileIDs)),
		slog.Bool("full_reindex", summary.FullReindex),
		slog.Bool("degraded", summary.Degraded()),
		slog.Int64("duration_ms", summary.Duration.Milliseconds()))
	r.record(ctx, start, summary, opts.Trigger)
	return summary, nil
}

// record appends summary to the run history. Failures are logged only.
func (r *Runner) record(ctx context.Context, start time.Time, s *RunSummary, trigger telemetry.Trigger) {
	if r.history == nil {
		return
	}
	if trigger == "" {
		trigger = telemetry.TriggerManual
	}
	err := r.history.Record(ctx, telemetry.Run{
		Repository:     s.Repository,
		StartedAt:      start,
		Duration:       s.Duration,
		Trigger:        trigger,
		ProcessedFiles: s.ProcessedFiles,
		FailedFiles:    s.FailedFiles,
		UnchangedFiles: s.UnchangedFiles,
		DeletedFiles:   len(s.DeletedFileIDs),
		TotalChunks:    s.TotalChunks,
		IndexedChunks:  s.IndexedChunks,
		FullReindex:    s.FullReindex,
	})
	if err != nil {
		r.logger.Warn("index_history_record_failed",
			slog.String("repository", s.Repository),
			slog.String("error", err.Error()))
	}
}

// History returns the run history, or nil when disabled.
func (r *Runner) History() *telemetry.History { return r.history }

// acquire takes the in-process and cross-process locks for name.
func (r *Runner) acquire(ctx context.Context, name string, skipIfBusy bool) (func(), error) {
	m := r.repoLock(name)
	if skipIfBusy {
		if !m.TryLock() {
			r.logger.Info("index_run_skipped_busy", slog.String("repository", name), slog.String("holder", "process"))
			return nil, ErrBusy
		}
	} else {
		m.Lock()
	}

	fl := lock.New(filepath.Join(r.cfg.LockDir(), name+".lock"))
	if skipIfBusy {
		ok, err := fl.TryLock()
		if err != nil || !ok {
			m.Unlock()
			if err != nil {
				return nil, fmt.Errorf("failed to lock repository %s: %w", name, err)
			}
			r.logger.Info("index_run_skipped_busy", slog.String("repository", name), slog.String("holder", "other_process"))
			return nil, ErrBusy
		}
	} else if err := fl.Lock(ctx); err != nil {
		m.Unlock()
		return nil, verrors.New(verrors.ErrCodeLockHeld, fmt.Sprintf("failed to lock repository %s", name), err)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			r.logger.Warn("index_unlock_failed", slog.String("repository", name), slog.String("error", err.Error()))
		}
		m.Unlock()
	}, nil
}

func (r *Runner) run(ctx context.Context, repo config.Repository, reporter *progress.Reporter) (*RunSummary, error) {
	name := repo.Name
	collection := r.cfg.VectorStore.Collection
	summary := &RunSummary{Repository: name, DeletedFileIDs: []string{}}

	r.purgeAfterRecovery(ctx, name, collection)

	reporter.Phase(progress.PhaseClassify, 0, 1, fmt.Sprintf("Scanning %s", repo.Path))
	files, err := r.scanner.Enumerate(ctx, scanner.OptionsFor(repo))
	if err != nil {
		return nil, err
	}
	r.logger.Debug("index_scan_complete", slog.String("repository", name), slog.Int("files", len(files)))

	caps, err := r.store.Capabilities(ctx, collection)
	if err != nil {
		r.logger.Warn("index_capabilities_failed", slog.String("repository", name), slog.String("error", err.Error()))
		caps = store.Capabilities{FileIDFilter: true}
	}

	classifier := NewClassifier(r.ledger, r.logger)
	cls, err := classifier.Classify(ctx, name, files, reporter)
	if err != nil {
		return nil, err
	}

	reconciler := NewReconciler(r.store, r.ledger, collection, r.logger)
	rec := reconciler.Reconcile(ctx, name, cls.Deleted, caps, reporter)
	summary.DeletedFileIDs = append(summary.DeletedFileIDs, rec.Deleted...)
	if rec.Coarse {
		summary.FullReindex = true
		if cls, err = classifier.Classify(ctx, name, files, nil); err != nil {
			return nil, err
		}
	}

	summary.SkippedFiles = cls.Skipped
	summary.UnchangedFiles = len(cls.Unchanged)
	changed := cls.Changed()
	summary.ProcessedFiles = len(changed)

	r.logger.Info("index_classified",
		slog.String("repository", name),
		slog.Int("new", len(cls.New)),
		slog.Int("modified", len(cls.Modified)),
		slog.Int("unchanged", len(cls.Unchanged)),
		slog.Int("deleted", len(cls.Deleted)),
		slog.Int("skipped", cls.Skipped),
		slog.Int("mtime_refreshed", cls.Refreshed))

	batch := r.chunkFiles(repo, changed, reporter)
	for _, fc := range batch {
		summary.TotalChunks += len(fc.Chunks)
	}
	if len(batch) == 0 {
		return summary, nil
	}

	pipeline := NewPipeline(PipelineConfig{
		Embedder:    r.embedder,
		Store:       r.store,
		Ledger:      r.ledger,
		Collection:  collection,
		Concurrency: r.cfg.Embeddings.Concurrency,
		PruneStale:  caps.FileIDFilter,
		Logger:      r.logger,
	})
	res := pipeline.Index(ctx, name, batch, r.cfg.Embeddings.BatchSize, reporter)
	summary.IndexedChunks = res.Indexed
	summary.FailedFiles = len(res.FailedFiles)
	return summary, nil
}

// purgeAfterRecovery deletes a repository's points once per process after
// the ledger was reset from a corrupt file, since the ledger no longer
// knows which of them are stale.
func (r *Runner) purgeAfterRecovery(ctx context.Context, name, collection string) {
	if !r.ledger.Recovered() {
		return
	}
	r.mu.Lock()
	done := r.purged[name]
	r.mu.Unlock()
	if done {
		return
	}

	filter := store.Filter{Must: map[string]any{store.KeyRepository: name}}
	if err := r.store.Delete(ctx, collection, filter, store.WriteOptions{Wait: true}); err != nil {
		se := verrors.DeleteError(collection, err).WithDetail("repository", name)
		r.logger.Warn("ledger_recovery_purge_failed", append(verrors.LogArgs(se), slog.String("repository", name))...)
		return
	}

	r.mu.Lock()
	r.purged[name] = true
	r.mu.Unlock()
	r.logger.Warn("ledger_recovery_purged", slog.String("repository", name), slog.String("collection", collection))
}

// chunkFiles splits changed files with their per-extension settings.
func (r *Runner) chunkFiles(repo config.Repository, changed []FileChange, reporter *progress.Reporter) []*FileChunks {
	out := make([]*FileChunks, 0, len(changed))
	for i, f := range changed {
		size, strategyName := repo.ChunkSettings(filepath.Ext(f.Path))
		strategy, _ := chunk.ParseStrategy(strategyName) // validated in Run
		chunker := chunk.New(strategy, size)

		chunks := chunker.ChunkFile(chunk.FileInput{
			FileID:       f.FileID,
			RepositoryID: repo.Name,
			Path:         f.Path,
			AbsPath:      f.AbsPath,
			Language:     f.Language,
			Content:      f.Content,
		})
		out = append(out, &FileChunks{File: f, Chunks: chunks})
		reporter.Phase(progress.PhaseChunk, i+1, len(changed), fmt.Sprintf("Chunked %s", f.Path))
	}
	return out
}

// validateChunking checks the repository strategy and every override.
func validateChunking(repo config.Repository) error {
	if _, err := chunk.ParseStrategy(repo.ChunkStrategy); err != nil {
		return err
	}
	for ext, ft := range repo.FileTypeConfig {
		if ft.ChunkStrategy == "" {
			continue
		}
		if _, err := chunk.ParseStrategy(ft.ChunkStrategy); err != nil {
			return fmt.Errorf("file type %s: %w", ext, err)
		}
	}
	return nil
}

// RepositoryStats reports what is indexed for one repository.
type RepositoryStats struct {
	Repository    string `json:"repository"`
	LedgerEntries int    `json:"ledgerEntries"`
	Vectors       int    `json:"vectors"`
}

// Stats counts ledger entries and stored points for name.
func (r *Runner) Stats(ctx context.Context, name string) (*RepositoryStats, error) {
	entries, err := r.ledger.GetAll(ctx, name)
	if err != nil {
		return nil, err
	}
	n, err := r.store.Count(ctx, r.Collection(), store.Filter{Must: map[string]any{store.KeyRepository: name}})
	if err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}
	return &RepositoryStats{Repository: name, LedgerEntries: len(entries), Vectors: n}, nil
}
