package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/index"
	"github.com/Aman-CERP/vecsync/internal/progress"
	"github.com/Aman-CERP/vecsync/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		all          bool
		noTUI        bool
		progressMode string
	)

	cmd := &cobra.Command{
		Use:   "index [name...]",
		Short: "Incrementally index repositories",
		Long: `Bring the vector index of one or more repositories up to date.

Files whose content is unchanged since the last run are skipped. New and
modified files are chunked, embedded and upserted; files that disappeared
are removed from the vector store.

Progress display:
  --progress=auto    Interactive display on a terminal, plain lines otherwise
  --progress=tui     Interactive display
  --progress=bar     Single progress bar
  --progress=plain   One line per update (CI friendly)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mode, err := ui.ParseMode(progressMode)
			if err != nil {
				return err
			}
			if noTUI && (mode == ui.ModeAuto || mode == ui.ModeTUI) {
				mode = ui.ModePlain
			}
			return runIndex(ctx, cmd, args, all, mode)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Index every configured repository")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable the interactive display, use plain text output")
	cmd.Flags().StringVar(&progressMode, "progress", "auto", "Progress display: auto, tui, bar or plain")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, args []string, all bool, mode ui.Mode) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	names, err := resolveNames(cfg, args, all)
	if err != nil {
		return err
	}

	st, err := openStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if len(names) == 1 {
		_, err := indexOne(ctx, cmd, st, names[0], mode)
		return err
	}

	var failed []string
	for _, name := range names {
		if _, err := indexOne(ctx, cmd, st, name, mode); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s", name, verrors.FormatForCLI(err))
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("indexing failed for: %s", strings.Join(failed, ", "))
	}
	return nil
}

// indexOne runs one repository with a progress renderer on the command output.
func indexOne(ctx context.Context, cmd *cobra.Command, st *stack, name string, mode ui.Mode) (*index.RunSummary, error) {
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithMode(mode),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithRepository(name)))
	if err := renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start progress display: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	reporter := progress.NewReporter(renderer, nil).WithLogger(st.logger)
	summary, err := st.runner.Run(ctx, name, index.RunOptions{Reporter: reporter})
	if err != nil {
		return nil, err
	}

	renderer.Complete(completionStats(st, summary))
	return summary, nil
}

// completionStats converts a run summary for the renderers.
func completionStats(st *stack, s *index.RunSummary) ui.CompletionStats {
	provider, model, dims := st.embedderInfo()
	return ui.CompletionStats{
		Repository:  s.Repository,
		Files:       s.ProcessedFiles,
		Skipped:     s.SkippedFiles,
		Unchanged:   s.UnchangedFiles,
		Failed:      s.FailedFiles,
		Deleted:     len(s.DeletedFileIDs),
		Chunks:      s.TotalChunks,
		Indexed:     s.IndexedChunks,
		FullReindex: s.FullReindex,
		Duration:    s.Duration,
		Embedder:    ui.EmbedderInfo{Provider: provider, Model: model, Dimensions: dims},
	}
}
