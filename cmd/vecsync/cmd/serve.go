package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/vecsync/internal/mcp"
	"github.com/Aman-CERP/vecsync/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Serve repository indexing over the Model Context Protocol.

Stdout carries JSON-RPC only; logs go to the log file. Repositories with
watch_mode enabled are watched from startup.

Tools: index_repository, watch_repository, unwatch_repository,
list_repositories, search_repository.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport (stdio)")

	return cmd
}

func runServe(ctx context.Context, transport string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	st, err := openStack(ctx, cfg, stackOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	server, err := mcp.NewServer(mcp.ServerDependencies{
		Config:   cfg,
		Runner:   st.runner,
		Watchers: watcher.NewManager(st.scanner, st.logger),
		Logger:   st.logger,
	})
	if err != nil {
		return err
	}
	return server.Serve(ctx, transport)
}
