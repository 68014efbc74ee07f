// Package cmd provides the CLI commands for vecsync.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecsync/internal/config"
	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/logging"
	"github.com/Aman-CERP/vecsync/internal/profiling"
	"github.com/Aman-CERP/vecsync/pkg/version"
)

// Global flags
var (
	configPath string
	debugMode  bool
	profiles   profiling.Options
)

// Set by startProfilingAndLogging before any subcommand runs.
var (
	loadedConfig   *config.Config
	loadErr        error
	loggingCleanup func()
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the vecsync CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vecsync",
		Short: "Keep vector indexes of local repositories in sync",
		Long: `vecsync keeps a vector index of your repositories up to date.

Only new and modified files are chunked and embedded; deleted files are
removed from the vector store. Repositories can be indexed on demand,
watched for changes, or driven by an MCP client through 'vecsync serve'.

Get started:
  vecsync repo add docs ~/notes
  vecsync index docs`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("vecsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file layered over ~/.config/vecsync/config.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentFlags().StringVar(&profiles.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profiles.Heap, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&profiles.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newUnwatchCmd())
	cmd.AddCommand(newRepoCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging loads the configuration, installs the file
// logger and starts any requested profiles. A configuration error is kept
// for the commands that need it, so 'vecsync version' still works with a
// broken config file.
func startProfilingAndLogging(cmd *cobra.Command, _ []string) error {
	loadedConfig, loadErr = config.Load(configPath)

	logCfg := logging.DefaultConfig()
	if loadedConfig != nil {
		logCfg.Level = loadedConfig.Logging.Level
	}
	if debugMode {
		logCfg.Level = "debug"
	}
	if cmd.Name() == "serve" {
		logCfg = logging.MCPConfig(logCfg.Level)
	}
	if loadedConfig != nil {
		lc := loadedConfig.Logging
		if lc.File != "" {
			logCfg.FilePath = lc.File
		}
		if lc.MaxSizeMB > 0 {
			logCfg.MaxSizeMB = lc.MaxSizeMB
		}
		if lc.MaxFiles > 0 {
			logCfg.MaxFiles = lc.MaxFiles
		}
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup

	slog.Debug("cli_start",
		slog.String("command", cmd.CommandPath()),
		slog.String("version", version.Version),
		slog.String("log_file", logCfg.FilePath))

	if profiles.Enabled() {
		profileSession, err = profiling.Start(profiles)
		if err != nil {
			return err
		}
	}
	return nil
}

// stopProfilingAndLogging writes profiles and closes the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// requireConfig returns the configuration loaded by startProfilingAndLogging.
func requireConfig() (*config.Config, error) {
	if loadErr != nil {
		return nil, loadErr
	}
	if loadedConfig == nil {
		return config.Load(configPath)
	}
	return loadedConfig, nil
}

// Execute runs the root command and prints errors with their hints.
func Execute() error {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), verrors.FormatForCLI(err))
		return err
	}
	return nil
}
