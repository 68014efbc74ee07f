package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecsync/internal/config"
	"github.com/Aman-CERP/vecsync/internal/embed"
	"github.com/Aman-CERP/vecsync/internal/index"
	"github.com/Aman-CERP/vecsync/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		verify     bool
		repair     bool
	)

	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show what is indexed",
		Long: `Display information about the index including:
  - Vector store backend, collection and size
  - Ledger backend and embedder availability
  - Ledger entries and vector counts per repository

Use --verify to compare each ledger entry with the vector store, and
--repair to drop ledger entries whose vectors are missing so the next
run reindexes those files.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repair {
				verify = true
			}
			return runStatus(cmd.Context(), cmd, args, jsonOutput, verify, repair)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&verify, "verify", false, "Check that ledger and vector store agree")
	cmd.Flags().BoolVar(&repair, "repair", false, "Fix ledger entries whose vectors are missing (implies --verify)")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, args []string, jsonOutput, verify, repair bool) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	repos := cfg.EffectiveRepositories()
	if len(args) == 1 {
		repo, err := cfg.Repository(args[0])
		if err != nil {
			return err
		}
		repos = []config.Repository{repo}
	}

	st, err := openStack(ctx, cfg, stackOptions{offline: true})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	info := collectStatus(ctx, st, repos, verify, repair)

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, st *stack, repos []config.Repository, verify, repair bool) ui.StatusInfo {
	cfg := st.cfg
	embedInfo := embed.GetInfo(ctx, st.embedder)

	info := ui.StatusInfo{
		ConfigPath:   cfg.Path(),
		Backend:      cfg.VectorStore.Backend,
		Collection:   cfg.VectorStore.Collection,
		Ledger:       fmt.Sprintf("%s (%s)", cfg.Ledger.Backend, cfg.Ledger.Path),
		Embedder:     string(embedInfo.Provider),
		Model:        embedInfo.Model,
		EmbedderUp:   embedInfo.Available,
		Repositories: []ui.RepositoryStatus{},
	}
	if !strings.EqualFold(cfg.VectorStore.Backend, "qdrant") {
		info.StoreSize = pathSize(cfg.VectorStore.Path)
	}

	checker := index.NewConsistencyChecker(st.runner)
	for _, repo := range repos {
		rs := ui.RepositoryStatus{
			Name:          repo.Name,
			Path:          repo.Path,
			WatchMode:     repo.WatchMode,
			WatchInterval: repo.WatchInterval,
		}

		stats, err := st.runner.Stats(ctx, repo.Name)
		if err != nil {
			rs.Error = err.Error()
			info.Repositories = append(info.Repositories, rs)
			continue
		}
		rs.LedgerEntries = stats.LedgerEntries
		rs.Vectors = stats.Vectors
		rs.LastRun = lastRun(ctx, st, repo.Name)

		if verify {
			verifyRepository(ctx, checker, &rs, repair)
		}
		info.Repositories = append(info.Repositories, rs)
	}
	return info
}

// lastRun reads the latest recorded run of name. History errors are not
// fatal to status.
func lastRun(ctx context.Context, st *stack, name string) *ui.LastRun {
	run, err := st.history.Last(ctx, name)
	if err != nil {
		st.logger.Warn("status_history_failed", slog.String("repository", name), slog.String("error", err.Error()))
		return nil
	}
	if run == nil {
		return nil
	}
	return &ui.LastRun{
		At:       run.StartedAt,
		Trigger:  string(run.Trigger),
		Files:    run.ProcessedFiles,
		Deleted:  run.DeletedFiles,
		Degraded: run.Degraded(),
	}
}

// verifyRepository records consistency issues on rs, repairing them when asked.
func verifyRepository(ctx context.Context, checker *index.ConsistencyChecker, rs *ui.RepositoryStatus, repair bool) {
	result, err := checker.Check(ctx, rs.Name)
	if err != nil {
		rs.Error = fmt.Sprintf("verify failed: %v", err)
		return
	}
	rs.Verified = result.Consistent()

	for _, issue := range result.Inconsistencies {
		switch issue.Type {
		case index.InconsistencyMissingVectors:
			rs.Issues = append(rs.Issues, fmt.Sprintf("no vectors for %s", issue.Path))
		case index.InconsistencyOrphanVectors:
			rs.Issues = append(rs.Issues, fmt.Sprintf("%d vectors without a ledger entry", issue.Count))
		}
	}

	if repair && !result.Consistent() {
		fixed, err := checker.Repair(ctx, rs.Name, result.Inconsistencies)
		if err != nil {
			rs.Error = fmt.Sprintf("repair failed: %v", err)
			return
		}
		if fixed > 0 {
			rs.LedgerEntries -= fixed
			rs.Issues = append(rs.Issues, fmt.Sprintf("repaired: %d files will be reindexed on the next run", fixed))
		}
	}
}

// pathSize returns the size of a file, or the total size of a directory.
func pathSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
