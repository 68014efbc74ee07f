package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
)

// Repository is one indexed directory tree. The indexing core treats every
// field except WatchMode as read-only.
type Repository struct {
	Name          string        `yaml:"name"`
	Path          string        `yaml:"path"`
	Include       []string      `yaml:"include,omitempty"`
	Exclude       []string      `yaml:"exclude,omitempty"`
	ChunkSize     int           `yaml:"chunk_size,omitempty"`
	ChunkStrategy string        `yaml:"chunk_strategy,omitempty"`
	WatchMode     bool          `yaml:"watch_mode"`
	WatchInterval time.Duration `yaml:"watch_interval,omitempty"`

	// FileTypeConfig holds per-extension overrides keyed by extension (".md").
	FileTypeConfig map[string]FileTypeConfig `yaml:"file_type_config,omitempty"`

	RespectGitignore *bool `yaml:"respect_gitignore,omitempty"`
	MaxFileSize      int64 `yaml:"max_file_size,omitempty"`
}

// FileTypeConfig overrides repository settings for one file extension.
type FileTypeConfig struct {
	Exclude       bool   `yaml:"exclude,omitempty"`
	ChunkSize     int    `yaml:"chunk_size,omitempty"`
	ChunkStrategy string `yaml:"chunk_strategy,omitempty"`
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

func invalid(format string, args ...any) error {
	return verrors.New(verrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
}

// ValidateName checks that name is usable as a repository id.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return verrors.ConfigurationError("repository name is empty", nil)
	}
	if !namePattern.MatchString(name) {
		return verrors.ConfigurationError(fmt.Sprintf("invalid repository name %q", name), nil).
			WithSuggestion("use letters, digits, '.', '_' or '-' (max 64 characters)")
	}
	return nil
}

// Validate checks the name and that the root path is an existing directory.
func (r Repository) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if strings.TrimSpace(r.Path) == "" {
		return verrors.ConfigurationError(fmt.Sprintf("repository %q has no path", r.Name), nil)
	}
	info, err := os.Stat(expandHome(r.Path))
	if err != nil {
		return verrors.ConfigurationError(fmt.Sprintf("repository %q path is not accessible", r.Name), err).
			WithDetail("path", r.Path)
	}
	if !info.IsDir() {
		return verrors.ConfigurationError(fmt.Sprintf("repository %q path is not a directory", r.Name), nil).
			WithDetail("path", r.Path)
	}
	return nil
}

// Effective returns a copy with unset fields inherited from the defaults and
// watch settings, and with an absolute root path.
func (r Repository) Effective(defaults RepositoryDefaults, watch WatchConfig) Repository {
	out := r
	out.Path = expandHome(r.Path)
	if abs, err := filepath.Abs(out.Path); err == nil {
		out.Path = abs
	}
	if len(out.Include) == 0 {
		out.Include = append([]string(nil), defaults.Include...)
	}
	if len(out.Exclude) == 0 {
		out.Exclude = append([]string(nil), defaults.Exclude...)
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = defaults.ChunkSize
	}
	if out.ChunkStrategy == "" {
		out.ChunkStrategy = defaults.ChunkStrategy
	}
	if out.WatchInterval <= 0 {
		out.WatchInterval = watch.DefaultInterval
	}
	if out.RespectGitignore == nil {
		v := defaults.RespectGitignore
		out.RespectGitignore = &v
	}
	if out.MaxFileSize <= 0 {
		out.MaxFileSize = defaults.MaxFileSize
	}

	if len(r.FileTypeConfig) > 0 {
		out.FileTypeConfig = make(map[string]FileTypeConfig, len(r.FileTypeConfig))
		for ext, ft := range r.FileTypeConfig {
			out.FileTypeConfig[NormalizeExt(ext)] = ft
		}
	}
	return out
}

// GitignoreEnabled reports whether .gitignore files are honored.
func (r Repository) GitignoreEnabled() bool {
	return r.RespectGitignore != nil && *r.RespectGitignore
}

// ExcludedExtensions lists extensions whose override sets Exclude.
func (r Repository) ExcludedExtensions() []string {
	var exts []string
	for ext, ft := range r.FileTypeConfig {
		if ft.Exclude {
			exts = append(exts, NormalizeExt(ext))
		}
	}
	return exts
}

// ChunkSettings returns the chunk size and strategy for a file extension.
func (r Repository) ChunkSettings(ext string) (int, string) {
	size, strategy := r.ChunkSize, r.ChunkStrategy
	if ft, ok := r.FileTypeConfig[NormalizeExt(ext)]; ok {
		if ft.ChunkSize > 0 {
			size = ft.ChunkSize
		}
		if ft.ChunkStrategy != "" {
			strategy = ft.ChunkStrategy
		}
	}
	return size, strategy
}

// NormalizeExt lowercases ext and ensures a leading dot.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// Repository returns the effective configuration for name.
func (c *Config) Repository(name string) (Repository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.Repositories {
		if r.Name == name {
			return r.Effective(c.Defaults, c.Watch), nil
		}
	}
	return Repository{}, verrors.New(verrors.ErrCodeRepositoryNotFound,
		fmt.Sprintf("repository %q is not configured", name), nil).
		WithSuggestion("add it with: vecsync repo add " + name + " <path>")
}

// EffectiveRepositories returns every configured repository with defaults applied.
func (c *Config) EffectiveRepositories() []Repository {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Repository, 0, len(c.Repositories))
	for _, r := range c.Repositories {
		out = append(out, r.Effective(c.Defaults, c.Watch))
	}
	return out
}

// AddRepository validates r and appends it. Names must be unique.
func (c *Config) AddRepository(r Repository) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if abs, err := filepath.Abs(expandHome(r.Path)); err == nil {
		r.Path = abs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.Repositories {
		if existing.Name == r.Name {
			return verrors.New(verrors.ErrCodeRepositoryExists,
				fmt.Sprintf("repository %q already exists", r.Name), nil)
		}
	}
	c.Repositories = append(c.Repositories, r)
	return nil
}

// RemoveRepository deletes name from the configuration.
func (c *Config) RemoveRepository(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.Repositories {
		if r.Name == name {
			c.Repositories = append(c.Repositories[:i], c.Repositories[i+1:]...)
			return nil
		}
	}
	return verrors.New(verrors.ErrCodeRepositoryNotFound,
		fmt.Sprintf("repository %q is not configured", name), nil)
}

// SetWatchMode records whether name should be watched. It is the only
// repository field the indexing core changes; callers persist with Save.
func (c *Config) SetWatchMode(name string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Repositories {
		if c.Repositories[i].Name == name {
			c.Repositories[i].WatchMode = enabled
			return nil
		}
	}
	return verrors.New(verrors.ErrCodeRepositoryNotFound,
		fmt.Sprintf("repository %q is not configured", name), nil)
}
