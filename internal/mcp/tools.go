package mcp

import "github.com/Aman-CERP/vecsync/internal/index"

// Tool names.
const (
	ToolIndexRepository   = "index_repository"
	ToolWatchRepository   = "watch_repository"
	ToolUnwatchRepository = "unwatch_repository"
	ToolListRepositories  = "list_repositories"
	ToolSearchRepository  = "search_repository"
)

// IndexInput defines the input schema for the index_repository tool.
type IndexInput struct {
	Name string `json:"name" jsonschema:"name of the configured repository to index"`
}

// IndexOutput defines the output schema for the index_repository tool.
type IndexOutput struct {
	Summary  *index.RunSummary `json:"summary" jsonschema:"counts of processed, failed, unchanged and deleted files"`
	Degraded bool              `json:"degraded" jsonschema:"true if some files or chunks were not indexed"`
}

// WatchInput defines the input schema for the watch_repository tool.
type WatchInput struct {
	Name    string `json:"name" jsonschema:"name of the configured repository to watch"`
	Persist bool   `json:"persist,omitempty" jsonschema:"save watch mode so the watcher is restored on the next start"`
}

// WatchOutput defines the output schema for the watch_repository and
// unwatch_repository tools.
type WatchOutput struct {
	Repository string `json:"repository"`
	Watching   bool   `json:"watching"`
	Interval   string `json:"interval,omitempty"`
	Persisted  bool   `json:"persisted" jsonschema:"whether watch mode is saved in the configuration"`
}

// UnwatchInput defines the input schema for the unwatch_repository tool.
type UnwatchInput struct {
	Name string `json:"name" jsonschema:"name of the repository to stop watching"`
}

// ListInput defines the input schema for the list_repositories tool (no parameters).
type ListInput struct{}

// ListOutput defines the output schema for the list_repositories tool.
type ListOutput struct {
	Repositories []RepositoryInfo `json:"repositories"`
}

// RepositoryInfo describes one configured repository.
type RepositoryInfo struct {
	Name          string   `json:"name"`
	Path          string   `json:"path"`
	Include       []string `json:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"`
	ChunkSize     int      `json:"chunk_size"`
	ChunkStrategy string   `json:"chunk_strategy"`
	WatchMode     bool     `json:"watch_mode"`
	WatchInterval string   `json:"watch_interval"`
	Watching      bool     `json:"watching"`
	LedgerEntries int      `json:"ledger_entries"`
	Vectors       int      `json:"vectors"`
	Error         string   `json:"error,omitempty"`
}

// SearchInput defines the input schema for the search_repository tool.
type SearchInput struct {
	Name  string `json:"name" jsonschema:"name of the repository to search"`
	Query string `json:"query" jsonschema:"the text to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 50"`
}

// SearchOutput defines the output schema for the search_repository tool.
type SearchOutput struct {
	Repository string            `json:"repository"`
	Results    []index.SearchHit `json:"results"`
}

// clampLimit applies the default and bounds to a requested result limit.
func clampLimit(limit, defaultVal, minVal, maxVal int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < minVal {
		return minVal
	}
	if limit > maxVal {
		return maxVal
	}
	return limit
}
