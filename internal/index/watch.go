package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/telemetry"
)

// ErrDegraded is returned by OnChange callbacks when a run left files or
// chunks unindexed.
var ErrDegraded = errors.New("run left files unindexed")

// OnChange returns a watcher callback that runs an incremental pass over
// name. It returns an error when the repository was busy, the run failed or
// the run was degraded, so the watcher offers the changes again on its next
// tick.
func (r *Runner) OnChange(name string) func(ctx context.Context, changed, removed []string) error {
	return func(ctx context.Context, changed, removed []string) error {
		r.logger.Info("watch_tick_changes",
			slog.String("repository", name),
			slog.Int("changed", len(changed)),
			slog.Int("removed", len(removed)))

		summary, err := r.Run(ctx, name, RunOptions{SkipIfBusy: true, Trigger: telemetry.TriggerWatch})
		switch {
		case errors.Is(err, ErrBusy):
			return err
		case err != nil:
			r.logger.Warn("watch_run_failed", append(verrors.LogArgs(err), slog.String("repository", name))...)
			return err
		case summary.Degraded():
			r.logger.Warn("watch_run_degraded",
				slog.String("repository", name),
				slog.Int("failed_files", summary.FailedFiles),
				slog.Int("indexed_chunks", summary.IndexedChunks),
				slog.Int("total_chunks", summary.TotalChunks))
			return fmt.Errorf("%w: %d of %d chunks indexed", ErrDegraded, summary.IndexedChunks, summary.TotalChunks)
		}
		return nil
	}
}
