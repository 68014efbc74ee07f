// Package config loads and persists vecsync configuration.
//
// Configuration is layered: built-in defaults, then the user config
// (~/.config/vecsync/config.yaml), then an explicit --config file, then
// VECSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
)

// Config is the complete vecsync configuration.
type Config struct {
	Version      int                `yaml:"version"`
	DataDir      string             `yaml:"data_dir"`
	Embeddings   EmbeddingsConfig   `yaml:"embeddings"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Watch        WatchConfig        `yaml:"watch"`
	Logging      LoggingConfig      `yaml:"logging"`
	Defaults     RepositoryDefaults `yaml:"defaults"`
	Repositories []Repository       `yaml:"repositories"`

	// path is where Save writes. Set by Load.
	path string
	mu   sync.Mutex
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of ollama, openai or static.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// Host is the provider base URL. Empty uses the provider default.
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key,omitempty"`
	// Dimensions is only consulted by the static provider.
	Dimensions int `yaml:"dimensions"`
	// BatchSize is the number of chunks per upsert batch.
	BatchSize int `yaml:"batch_size"`
	// Concurrency caps in-flight embedding requests within a batch.
	Concurrency int           `yaml:"concurrency"`
	CacheSize   int           `yaml:"cache_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// VectorStoreConfig configures the vector store backend.
type VectorStoreConfig struct {
	// Backend is one of qdrant, sqlite or hnsw.
	Backend    string `yaml:"backend"`
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key,omitempty"`
	Collection string `yaml:"collection"`
	// Path is the local file for the sqlite and hnsw backends.
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig configures the fingerprint ledger.
type LedgerConfig struct {
	// Backend is json or sqlite.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// WatchConfig configures polling watchers.
type WatchConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// RepositoryDefaults are inherited by repositories that leave a field unset.
type RepositoryDefaults struct {
	Include          []string `yaml:"include"`
	Exclude          []string `yaml:"exclude"`
	ChunkSize        int      `yaml:"chunk_size"`
	ChunkStrategy    string   `yaml:"chunk_strategy"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
	MaxFileSize      int64    `yaml:"max_file_size"`
}

// defaultExcludePatterns are applied to every repository unless overridden.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/go.sum",
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Version: 1,
		DataDir: dataDir,
		Embeddings: EmbeddingsConfig{
			Provider:    "ollama",
			Model:       "nomic-embed-text",
			Dimensions:  256,
			BatchSize:   32,
			Concurrency: 4,
			CacheSize:   2048,
			Timeout:     60 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Backend:    "sqlite",
			URL:        "http://localhost:6333",
			Collection: "vecsync",
			Timeout:    30 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend: "json",
		},
		Watch: WatchConfig{
			DefaultInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Defaults: RepositoryDefaults{
			Include:          []string{"**/*"},
			Exclude:          defaultExcludePatterns,
			ChunkSize:        1000,
			ChunkStrategy:    "word",
			RespectGitignore: true,
			MaxFileSize:      1 << 20,
		},
	}
}

// DefaultDataDir returns ~/.vecsync, or $VECSYNC_DATA_DIR when set.
func DefaultDataDir() string {
	if dir := os.Getenv("VECSYNC_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vecsync")
	}
	return filepath.Join(home, ".vecsync")
}

// GetUserConfigPath returns the user configuration file path.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/vecsync/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/vecsync/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vecsync", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "vecsync", "config.yaml")
	}
	return filepath.Join(home, ".config", "vecsync", "config.yaml")
}

// Load builds the effective configuration. explicit is an optional config file
// that is layered over the user config; it also becomes the Save target.
func Load(explicit string) (*Config, error) {
	cfg := NewConfig()
	cfg.path = GetUserConfigPath()

	if fileExists(cfg.path) {
		if err := cfg.loadYAML(cfg.path); err != nil {
			return nil, err
		}
	}

	if explicit == "" {
		explicit = os.Getenv("VECSYNC_CONFIG")
	}
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		if fileExists(abs) {
			if err := cfg.loadYAML(abs); err != nil {
				return nil, err
			}
		}
		cfg.path = abs
	}

	cfg.applyEnvOverrides()
	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file Save writes to.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes the file Save writes to.
func (c *Config) SetPath(path string) {
	c.path = path
}

// loadYAML decodes path over the current values. Scalars left out of the
// file keep their previous value; lists present in the file replace it.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrPermission) {
		return verrors.ConfigPermissionError(path, err)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies VECSYNC_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VECSYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("VECSYNC_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("VECSYNC_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("VECSYNC_EMBEDDINGS_HOST"); v != "" {
		c.Embeddings.Host = v
	}
	if v := os.Getenv("VECSYNC_EMBEDDINGS_API_KEY"); v != "" {
		c.Embeddings.APIKey = v
	}
	if v := os.Getenv("VECSYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("VECSYNC_VECTOR_STORE"); v != "" {
		c.VectorStore.Backend = v
	}
	if v := os.Getenv("VECSYNC_QDRANT_URL"); v != "" {
		c.VectorStore.URL = v
	}
	if v := os.Getenv("VECSYNC_QDRANT_API_KEY"); v != "" {
		c.VectorStore.APIKey = v
	}
	if v := os.Getenv("VECSYNC_COLLECTION"); v != "" {
		c.VectorStore.Collection = v
	}
	if v := os.Getenv("VECSYNC_LEDGER_BACKEND"); v != "" {
		c.Ledger.Backend = v
	}
	if v := os.Getenv("VECSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// applyDerivedDefaults fills paths that depend on DataDir.
func (c *Config) applyDerivedDefaults() {
	c.DataDir = expandHome(c.DataDir)
	if c.Ledger.Path == "" {
		name := "ledger.json"
		if strings.EqualFold(c.Ledger.Backend, "sqlite") {
			name = "ledger.db"
		}
		c.Ledger.Path = filepath.Join(c.DataDir, name)
	}
	if c.VectorStore.Path == "" {
		name := "vectors.db"
		if strings.EqualFold(c.VectorStore.Backend, "hnsw") {
			name = "vectors.hnsw"
		}
		c.VectorStore.Path = filepath.Join(c.DataDir, name)
	}
	c.Ledger.Path = expandHome(c.Ledger.Path)
	c.VectorStore.Path = expandHome(c.VectorStore.Path)
}

// LockDir returns the directory holding per-repository lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// Validate checks enumerated settings and repository names.
// Repository paths are checked when a repository is used, not here.
func (c *Config) Validate() error {
	validProviders := map[string]bool{"ollama": true, "openai": true, "static": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return invalid("embeddings.provider must be 'ollama', 'openai' or 'static', got %q", c.Embeddings.Provider)
	}
	validBackends := map[string]bool{"qdrant": true, "sqlite": true, "hnsw": true}
	if !validBackends[strings.ToLower(c.VectorStore.Backend)] {
		return invalid("vector_store.backend must be 'qdrant', 'sqlite' or 'hnsw', got %q", c.VectorStore.Backend)
	}
	if c.VectorStore.Collection == "" {
		return invalid("vector_store.collection must not be empty")
	}
	validLedgers := map[string]bool{"json": true, "sqlite": true}
	if !validLedgers[strings.ToLower(c.Ledger.Backend)] {
		return invalid("ledger.backend must be 'json' or 'sqlite', got %q", c.Ledger.Backend)
	}
	if c.Embeddings.BatchSize <= 0 {
		return invalid("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.Concurrency < 0 {
		return invalid("embeddings.concurrency must be non-negative, got %d", c.Embeddings.Concurrency)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid("logging.level must be 'debug', 'info', 'warn' or 'error', got %q", c.Logging.Level)
	}
	if c.Defaults.ChunkSize < 0 {
		return invalid("defaults.chunk_size must be non-negative, got %d", c.Defaults.ChunkSize)
	}

	seen := make(map[string]bool, len(c.Repositories))
	for _, r := range c.Repositories {
		if err := ValidateName(r.Name); err != nil {
			return err
		}
		if seen[r.Name] {
			return invalid("duplicate repository name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// WriteYAML writes the configuration to path atomically.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// Save backs up the current file and writes the configuration to Path().
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		c.path = GetUserConfigPath()
	}
	if _, err := BackupFile(c.path); err != nil {
		return err
	}
	if err := c.WriteYAML(c.path); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return verrors.ConfigPermissionError(c.path, err)
		}
		return err
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the same directory, then renames it.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
