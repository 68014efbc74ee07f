package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecsync/internal/config"
	"github.com/Aman-CERP/vecsync/internal/index"
	"github.com/Aman-CERP/vecsync/internal/output"
	"github.com/Aman-CERP/vecsync/internal/telemetry"
	"github.com/Aman-CERP/vecsync/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var (
		all     bool
		persist bool
	)

	cmd := &cobra.Command{
		Use:   "watch [name...]",
		Short: "Reindex repositories whenever their files change",
		Long: `Run an initial index of each repository, then poll it for changes at
its watch interval and reindex what changed. Runs until interrupted.

Without arguments, every repository with watch_mode enabled is watched.
Use --persist to enable watch_mode for the named repositories, so that
'vecsync serve' restores their watchers on start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, args, all, persist)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Watch every configured repository")
	cmd.Flags().BoolVar(&persist, "persist", false, "Save watch_mode: true in the config file")

	return cmd
}

func newUnwatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unwatch <name>",
		Short: "Disable watch mode for a repository",
		Long: `Save watch_mode: false for a repository so that its watcher is not
restored on the next start. A watcher running in another process keeps
running until that process exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if err := cfg.SetWatchMode(args[0], false); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("%s will no longer be watched", args[0])
			return nil
		},
	}
}

// watchTargets picks the repositories to watch.
func watchTargets(cfg *config.Config, args []string, all bool) ([]config.Repository, error) {
	var names []string
	if !all && len(args) == 0 {
		for _, r := range cfg.EffectiveRepositories() {
			if r.WatchMode {
				names = append(names, r.Name)
			}
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no repository has watch mode enabled; name one or use --all")
		}
	} else {
		var err error
		if names, err = resolveNames(cfg, args, all); err != nil {
			return nil, err
		}
	}

	repos := make([]config.Repository, 0, len(names))
	for _, name := range names {
		repo, err := cfg.Repository(name)
		if err != nil {
			return nil, err
		}
		if err := repo.Validate(); err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func runWatch(ctx context.Context, cmd *cobra.Command, args []string, all, persist bool) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	repos, err := watchTargets(cfg, args, all)
	if err != nil {
		return err
	}

	st, err := openStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	out := output.New(cmd.OutOrStdout())

	if persist {
		for _, repo := range repos {
			if err := cfg.SetWatchMode(repo.Name, true); err != nil {
				return err
			}
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		out.Successf("Saved watch mode to %s", cfg.Path())
	}

	// Watchers take their baseline first, so edits made during the
	// catch-up pass are still detected on a later tick.
	watchers := watcher.NewManager(st.scanner, st.logger)
	defer watchers.StopAll()

	for _, repo := range repos {
		h, err := watchers.Start(ctx, repo, st.runner.OnChange(repo.Name))
		if err != nil {
			return err
		}
		out.Statusf("→", "Watching %s every %s", repo.Name, h.Interval)
	}

	// Catch up on changes made while nothing was watching.
	for _, repo := range repos {
		summary, err := st.runner.Run(ctx, repo.Name, index.RunOptions{Trigger: telemetry.TriggerWatch})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			out.Warningf("%s: initial index failed: %v", repo.Name, err)
			continue
		}
		out.Successf("%s: %d files indexed, %d unchanged, %d removed",
			repo.Name, summary.ProcessedFiles, summary.UnchangedFiles, len(summary.DeletedFileIDs))
		if summary.Degraded() {
			out.Warningf("%s: %d files failed, %d/%d chunks indexed",
				repo.Name, summary.FailedFiles, summary.IndexedChunks, summary.TotalChunks)
		}
	}
	out.Status("", "Press Ctrl+C to stop")

	<-ctx.Done()
	out.Newline()
	out.Successf("Stopped watching %d repositories", len(repos))
	return nil
}
