package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecsync/internal/config"
	"github.com/Aman-CERP/vecsync/internal/output"
	"github.com/Aman-CERP/vecsync/internal/store"
)

func newRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage configured repositories",
		Long: `Add, remove and list the repositories vecsync indexes.

Changes are written to the config file; the previous version is kept as
a timestamped backup.`,
	}

	cmd.AddCommand(newRepoAddCmd())
	cmd.AddCommand(newRepoRemoveCmd())
	cmd.AddCommand(newRepoListCmd())

	return cmd
}

func newRepoAddCmd() *cobra.Command {
	var (
		include       []string
		exclude       []string
		chunkSize     int
		chunkStrategy string
		watch         bool
		interval      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "add <name> <path>",
		Short: "Add a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			repo := config.Repository{
				Name:          args[0],
				Path:          args[1],
				Include:       include,
				Exclude:       exclude,
				ChunkSize:     chunkSize,
				ChunkStrategy: chunkStrategy,
				WatchMode:     watch,
				WatchInterval: interval,
			}
			if err := cfg.AddRepository(repo); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			added, err := cfg.Repository(repo.Name)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			out.Successf("Added repository %s (%s)", added.Name, added.Path)
			out.Status("", "Index it with: vecsync index "+added.Name)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&include, "include", nil, "Glob patterns of files to index (default: defaults.include)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Glob patterns of files to skip (default: defaults.exclude)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size (default: defaults.chunk_size)")
	cmd.Flags().StringVar(&chunkStrategy, "chunk-strategy", "", "Chunk strategy: word, line or paragraph (default: defaults.chunk_strategy)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Enable watch mode")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Watch polling interval (default: watch.default_interval)")

	return cmd
}

func newRepoRemoveCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a repository",
		Long: `Remove a repository from the config file.

With --purge, its vectors and ledger entries are deleted as well.
Otherwise they stay in place and are reused if the repository is added
again under the same name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			name := args[0]
			if _, err := cfg.Repository(name); err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if purge {
				if err := purgeRepository(cmd, cfg, name); err != nil {
					return err
				}
				out.Successf("Deleted vectors and ledger entries of %s", name)
			}

			if err := cfg.RemoveRepository(name); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			out.Successf("Removed repository %s", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the repository's vectors and ledger entries")

	return cmd
}

// purgeRepository deletes every point of name, then its ledger entries.
func purgeRepository(cmd *cobra.Command, cfg *config.Config, name string) error {
	ctx := cmd.Context()
	st, err := openStack(ctx, cfg, stackOptions{offline: true})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	filter := store.Filter{Must: map[string]any{store.KeyRepository: name}}
	if err := st.store.Delete(ctx, cfg.VectorStore.Collection, filter, store.WriteOptions{Wait: true}); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := st.ledger.Reset(ctx, name); err != nil {
		return err
	}
	return st.history.Forget(ctx, name)
}

func newRepoListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			repos := cfg.EffectiveRepositories()

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(repos)
			}

			out := output.New(cmd.OutOrStdout())
			if len(repos) == 0 {
				out.Status("", "No repositories configured. Add one with: vecsync repo add <name> <path>")
				return nil
			}

			rows := make([][]string, 0, len(repos))
			for _, r := range repos {
				watch := "off"
				if r.WatchMode {
					watch = r.WatchInterval.String()
				}
				rows = append(rows, []string{
					r.Name,
					r.Path,
					strconv.Itoa(r.ChunkSize) + " " + r.ChunkStrategy,
					watch,
					strings.Join(r.Include, ","),
				})
			}
			out.Table([]string{"NAME", "PATH", "CHUNK", "WATCH", "INCLUDE"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
