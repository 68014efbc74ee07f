package index

import (
	"context"
	"fmt"
	"log/slog"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/progress"
	"github.com/Aman-CERP/vecsync/internal/store"
)

// ReconcileResult summarizes a Reconcile call.
type ReconcileResult struct {
	// Deleted holds the file ids whose points and ledger entry are gone.
	Deleted []string
	// Failed holds file ids that keep their ledger entry for the next run.
	Failed []string
	// Coarse reports that the whole repository was purged and its ledger
	// reset, so every file must be indexed again.
	Coarse bool
}

// Reconciler removes the points and ledger entries of deleted files.
type Reconciler struct {
	store      store.VectorStore
	ledger     ledger.Ledger
	collection string
	logger     *slog.Logger
}

// NewReconciler creates a reconciler for collection.
func NewReconciler(s store.VectorStore, l ledger.Ledger, collection string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: s, ledger: l, collection: collection, logger: logger}
}

// Reconcile deletes the points of each file, then its ledger entry. A file
// whose delete fails keeps its entry so the next run retries it.
//
// When the store cannot filter by fileId, the whole repository is deleted
// and its ledger reset instead.
func (r *Reconciler) Reconcile(ctx context.Context, repo string, deleted []FileChange, caps store.Capabilities, reporter *progress.Reporter) ReconcileResult {
	var result ReconcileResult
	if len(deleted) == 0 {
		reporter.Phase(progress.PhaseReconcile, 0, 0, "Nothing to delete")
		return result
	}

	if !caps.FileIDFilter {
		return r.coarse(ctx, repo, deleted, reporter)
	}

	for i, f := range deleted {
		filter := store.Filter{Must: map[string]any{
			store.KeyFileID:     f.FileID,
			store.KeyRepository: repo,
		}}
		if err := r.store.Delete(ctx, r.collection, filter, store.WriteOptions{Wait: true}); err != nil {
			se := verrors.DeleteError(r.collection, err).WithDetail("file_id", f.FileID)
			r.logger.Warn("reconcile_delete_failed",
				append(verrors.LogArgs(se), slog.String("repository", repo), slog.String("path", f.Path))...)
			result.Failed = append(result.Failed, f.FileID)
			continue
		}
		if err := r.ledger.Remove(ctx, repo, f.FileID); err != nil {
			r.logger.Warn("reconcile_ledger_remove_failed",
				append(verrors.LogArgs(err), slog.String("repository", repo), slog.String("path", f.Path))...)
			result.Failed = append(result.Failed, f.FileID)
			continue
		}
		result.Deleted = append(result.Deleted, f.FileID)
		reporter.Phase(progress.PhaseReconcile, i+1, len(deleted), fmt.Sprintf("Removed %s", f.Path))
	}

	r.logger.Info("reconcile_complete",
		slog.String("repository", repo),
		slog.Int("deleted", len(result.Deleted)),
		slog.Int("failed", len(result.Failed)))
	reporter.Phase(progress.PhaseReconcile, len(deleted), len(deleted),
		fmt.Sprintf("Removed %d files", len(result.Deleted)))
	return result
}

func (r *Reconciler) coarse(ctx context.Context, repo string, deleted []FileChange, reporter *progress.Reporter) ReconcileResult {
	var result ReconcileResult
	ids := make([]string, len(deleted))
	for i, f := range deleted {
		ids[i] = f.FileID
	}

	r.logger.Warn("reconcile_coarse_fallback",
		slog.String("repository", repo),
		slog.String("collection", r.collection),
		slog.Int("deleted_files", len(deleted)))

	filter := store.Filter{Must: map[string]any{store.KeyRepository: repo}}
	if err := r.store.Delete(ctx, r.collection, filter, store.WriteOptions{Wait: true}); err != nil {
		se := verrors.DeleteError(r.collection, err).WithDetail("repository", repo)
		r.logger.Warn("reconcile_delete_failed", append(verrors.LogArgs(se), slog.String("repository", repo))...)
		result.Failed = ids
		return result
	}
	if err := r.ledger.Reset(ctx, repo); err != nil {
		// Points are gone but the entries remain until a consistency repair.
		r.logger.Error("reconcile_ledger_reset_failed",
			append(verrors.LogArgs(err), slog.String("repository", repo))...)
		result.Failed = ids
		return result
	}

	result.Deleted = ids
	result.Coarse = true
	reporter.Phase(progress.PhaseReconcile, 1, 1, "Repository purged for full reindex")
	return result
}
