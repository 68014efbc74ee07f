package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/vecsync/configs"
	"github.com/Aman-CERP/vecsync/internal/config"
	"github.com/Aman-CERP/vecsync/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		Long: `Manage the vecsync configuration file.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/vecsync/config.yaml)
  3. The file given by --config or VECSYNC_CONFIG
  4. Environment variables (VECSYNC_*)`,
		Example: `  # Create the user config from the template
  vecsync config init

  # Show the effective configuration
  vecsync config show

  # Print the user config file path
  vecsync config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Write the commented configuration template to the user config path.
An existing file is only replaced with --force, after a backup is taken.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())
			path := config.GetUserConfigPath()

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warningf("Configuration already exists at %s", path)
					out.Status("", "Use --force to replace it (a backup is kept)")
					return nil
				}
				backup, err := config.BackupFile(path)
				if err != nil {
					return err
				}
				out.Statusf("→", "Backed up to %s", backup)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			out.Successf("Created %s", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing configuration")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long:  `Show the configuration after merging every source. API keys are masked.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			view := maskedConfig(cfg)

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(view); err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			return enc.Close()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Long:  `Print the file that repository changes are saved to.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.GetUserConfigPath()
			if cfg, err := requireConfig(); err == nil {
				path = cfg.Path()
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

// configView is the printable subset of config.Config.
type configView struct {
	DataDir      string                    `yaml:"data_dir" json:"dataDir"`
	Embeddings   config.EmbeddingsConfig   `yaml:"embeddings" json:"embeddings"`
	VectorStore  config.VectorStoreConfig  `yaml:"vector_store" json:"vectorStore"`
	Ledger       config.LedgerConfig       `yaml:"ledger" json:"ledger"`
	Watch        config.WatchConfig        `yaml:"watch" json:"watch"`
	Logging      config.LoggingConfig      `yaml:"logging" json:"logging"`
	Defaults     config.RepositoryDefaults `yaml:"defaults" json:"defaults"`
	Repositories []config.Repository       `yaml:"repositories" json:"repositories"`
}

func maskedConfig(cfg *config.Config) configView {
	v := configView{
		DataDir:      cfg.DataDir,
		Embeddings:   cfg.Embeddings,
		VectorStore:  cfg.VectorStore,
		Ledger:       cfg.Ledger,
		Watch:        cfg.Watch,
		Logging:      cfg.Logging,
		Defaults:     cfg.Defaults,
		Repositories: cfg.EffectiveRepositories(),
	}
	if v.Embeddings.APIKey != "" {
		v.Embeddings.APIKey = "****"
	}
	if v.VectorStore.APIKey != "" {
		v.VectorStore.APIKey = "****"
	}
	return v
}
