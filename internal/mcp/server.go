package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/vecsync/internal/config"
	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/index"
	"github.com/Aman-CERP/vecsync/internal/telemetry"
	"github.com/Aman-CERP/vecsync/internal/watcher"
	"github.com/Aman-CERP/vecsync/pkg/version"
)

const (
	serverName = "vecsync"

	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Server is the MCP server for vecsync. Every tool goes through the same
// index.Runner the CLI uses.
type Server struct {
	mcp      *mcp.Server
	cfg      *config.Config
	runner   *index.Runner
	watchers *watcher.Manager
	logger   *slog.Logger

	// save persists configuration changes. Defaults to cfg.Save.
	save func() error

	// ctx outlives requests; watchers and catch-up runs use it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
}

// ServerDependencies contains the injected dependencies for Server.
type ServerDependencies struct {
	Config   *config.Config
	Runner   *index.Runner
	Watchers *watcher.Manager
	Logger   *slog.Logger

	// Save overrides how configuration changes are persisted.
	Save func() error
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var toolInfos = []ToolInfo{
	{
		Name:        ToolIndexRepository,
		Description: "Incrementally index a configured repository. Only new and modified files are embedded; deleted files are removed from the vector store. Returns a summary of the run.",
	},
	{
		Name:        ToolWatchRepository,
		Description: "Start polling a repository for changes and reindex it whenever files change. Set persist to restore the watcher on the next start.",
	},
	{
		Name:        ToolUnwatchRepository,
		Description: "Stop watching a repository and clear its saved watch mode.",
	},
	{
		Name:        ToolListRepositories,
		Description: "List configured repositories with their watch state and how many files and vectors are indexed.",
	},
	{
		Name:        ToolSearchRepository,
		Description: "Semantic search over one indexed repository. Returns the closest chunks with their file path and line range.",
	},
}

// NewServer creates a new MCP server.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Config == nil {
		return nil, errors.New("config is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if deps.Watchers == nil {
		return nil, errors.New("watcher manager is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	save := deps.Save
	if save == nil {
		save = deps.Config.Save
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      deps.Config,
		runner:   deps.Runner,
		watchers: deps.Watchers,
		logger:   logger,
		save:     save,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	s.registerResources()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), toolInfos...)
}

func toolDescription(name string) string {
	for _, t := range toolInfos {
		if t.Name == name {
			return t.Description
		}
	}
	return ""
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolIndexRepository, Description: toolDescription(ToolIndexRepository)}, s.handleIndex)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolWatchRepository, Description: toolDescription(ToolWatchRepository)}, s.handleWatch)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolUnwatchRepository, Description: toolDescription(ToolUnwatchRepository)}, s.handleUnwatch)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolListRepositories, Description: toolDescription(ToolListRepositories)}, s.handleList)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSearchRepository, Description: toolDescription(ToolSearchRepository)}, s.handleSearch)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(toolInfos)))
}

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewInvalidParamsError("name parameter is required")
	}
	return nil
}

// handleIndex runs one indexing pass. Progress is streamed when the request
// carries a progress token.
func (s *Server) handleIndex(ctx context.Context, req *mcp.CallToolRequest, input IndexInput) (
	*mcp.CallToolResult,
	IndexOutput,
	error,
) {
	if err := requireName(input.Name); err != nil {
		return nil, IndexOutput{}, err
	}

	summary, err := s.runner.Run(ctx, input.Name, index.RunOptions{
		Trigger:  telemetry.TriggerMCP,
		Reporter: reporterFor(ctx, req, s.logger),
	})
	if err != nil {
		return nil, IndexOutput{}, MapError(err)
	}
	return nil, IndexOutput{Summary: summary, Degraded: summary.Degraded()}, nil
}

// handleWatch starts a watcher and a catch-up pass for changes made while
// nothing was watching.
func (s *Server) handleWatch(_ context.Context, _ *mcp.CallToolRequest, input WatchInput) (
	*mcp.CallToolResult,
	WatchOutput,
	error,
) {
	if err := requireName(input.Name); err != nil {
		return nil, WatchOutput{}, err
	}

	h, err := s.startWatcher(input.Name)
	if err != nil {
		return nil, WatchOutput{}, MapError(err)
	}

	out := WatchOutput{Repository: input.Name, Watching: true, Interval: h.Interval.String()}
	if input.Persist {
		if err := s.setWatchMode(input.Name, true); err != nil {
			return nil, WatchOutput{}, MapError(err)
		}
	}
	repo, err := s.cfg.Repository(input.Name)
	if err == nil {
		out.Persisted = repo.WatchMode
	}
	return nil, out, nil
}

// handleUnwatch stops the watcher if one is running and clears watch mode.
func (s *Server) handleUnwatch(_ context.Context, _ *mcp.CallToolRequest, input UnwatchInput) (
	*mcp.CallToolResult,
	WatchOutput,
	error,
) {
	if err := requireName(input.Name); err != nil {
		return nil, WatchOutput{}, err
	}

	repo, err := s.cfg.Repository(input.Name)
	if err != nil {
		return nil, WatchOutput{}, MapError(err)
	}

	if err := s.watchers.Stop(input.Name); err != nil && !errors.Is(err, watcher.ErrNotWatching) {
		return nil, WatchOutput{}, MapError(err)
	}
	if repo.WatchMode {
		if err := s.setWatchMode(input.Name, false); err != nil {
			return nil, WatchOutput{}, MapError(err)
		}
	}

	s.logger.Info("mcp_unwatch", slog.String("repository", input.Name))
	return nil, WatchOutput{Repository: input.Name}, nil
}

// handleList reports every configured repository.
func (s *Server) handleList(ctx context.Context, _ *mcp.CallToolRequest, _ ListInput) (
	*mcp.CallToolResult,
	ListOutput,
	error,
) {
	return nil, s.listRepositories(ctx), nil
}

func (s *Server) listRepositories(ctx context.Context) ListOutput {
	repos := s.cfg.EffectiveRepositories()
	out := ListOutput{Repositories: make([]RepositoryInfo, 0, len(repos))}
	for _, r := range repos {
		info := RepositoryInfo{
			Name:          r.Name,
			Path:          r.Path,
			Include:       r.Include,
			Exclude:       r.Exclude,
			ChunkSize:     r.ChunkSize,
			ChunkStrategy: r.ChunkStrategy,
			WatchMode:     r.WatchMode,
			WatchInterval: r.WatchInterval.String(),
			Watching:      s.watchers.Get(r.Name) != nil,
		}
		stats, err := s.runner.Stats(ctx, r.Name)
		if err != nil {
			info.Error = err.Error()
		} else {
			info.LedgerEntries = stats.LedgerEntries
			info.Vectors = stats.Vectors
		}
		out.Repositories = append(out.Repositories, info)
	}
	return out
}

// handleSearch embeds the query and searches one repository.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if err := requireName(input.Name); err != nil {
		return nil, SearchOutput{}, err
	}
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	limit := clampLimit(input.Limit, defaultSearchLimit, 1, maxSearchLimit)
	hits, err := s.runner.Search(ctx, input.Name, input.Query, limit)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	if hits == nil {
		hits = []index.SearchHit{}
	}
	return nil, SearchOutput{Repository: input.Name, Results: hits}, nil
}

// startWatcher registers a watcher for name and schedules a catch-up pass.
func (s *Server) startWatcher(name string) (*watcher.Handle, error) {
	repo, err := s.cfg.Repository(name)
	if err != nil {
		return nil, err
	}
	if err := repo.Validate(); err != nil {
		return nil, err
	}

	h, err := s.watchers.Start(s.ctx, repo, s.runner.OnChange(name))
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runner.Run(s.ctx, name, index.RunOptions{SkipIfBusy: true, Trigger: telemetry.TriggerWatch}); err != nil && !errors.Is(err, index.ErrBusy) {
			s.logger.Warn("watch_initial_run_failed", append(verrors.LogArgs(err), slog.String("repository", name))...)
		}
	}()
	return h, nil
}

// setWatchMode records and persists watch mode for name.
func (s *Server) setWatchMode(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cfg.SetWatchMode(name, enabled); err != nil {
		return err
	}
	if err := s.save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// RestoreWatchers starts a watcher for every repository with watch mode
// enabled. Failures are logged and skipped. It returns the started names.
func (s *Server) RestoreWatchers() []string {
	var started []string
	for _, repo := range s.cfg.EffectiveRepositories() {
		if !repo.WatchMode {
			continue
		}
		if _, err := s.startWatcher(repo.Name); err != nil {
			s.logger.Warn("watch_restore_failed", append(verrors.LogArgs(err), slog.String("repository", repo.Name))...)
			continue
		}
		started = append(started, repo.Name)
	}
	if len(started) > 0 {
		s.logger.Info("watch_restored", slog.Any("repositories", started))
	}
	return started
}

// Serve restores persisted watchers and serves over transport until ctx is
// done. Only stdio is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	if transport != "stdio" {
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}

	s.logger.Info("mcp_server_starting", slog.String("transport", transport))
	s.RestoreWatchers()
	defer s.Close()

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

// Close stops every watcher and waits for background runs to finish.
func (s *Server) Close() error {
	s.cancel()
	s.watchers.StopAll()
	s.wg.Wait()
	return nil
}
