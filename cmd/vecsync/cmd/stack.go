package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Aman-CERP/vecsync/internal/config"
	"github.com/Aman-CERP/vecsync/internal/embed"
	"github.com/Aman-CERP/vecsync/internal/index"
	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/scanner"
	"github.com/Aman-CERP/vecsync/internal/store"
	"github.com/Aman-CERP/vecsync/internal/telemetry"
)

// stack holds the ledger, vector store and embedder of one command
// invocation, wired into a Runner.
type stack struct {
	cfg      *config.Config
	ledger   ledger.Ledger
	store    store.VectorStore
	embedder embed.Embedder
	scanner  *scanner.Scanner
	history  *telemetry.History
	runner   *index.Runner
	logger   *slog.Logger
}

// stackOptions tunes openStack.
type stackOptions struct {
	// offline skips the embedder health probe, for commands that only
	// read the ledger and the store.
	offline bool
}

// openStack opens every backend named by cfg. Call Close when done.
func openStack(ctx context.Context, cfg *config.Config, opts stackOptions) (_ *stack, err error) {
	s := &stack{cfg: cfg, logger: slog.Default()}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.ledger, err = ledger.Open(ctx, ledger.Options{Backend: cfg.Ledger.Backend, Path: cfg.Ledger.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	backend, err := store.ParseBackend(cfg.VectorStore.Backend)
	if err != nil {
		return nil, err
	}
	s.store, err = store.Open(ctx, store.Options{
		Backend: backend,
		URL:     cfg.VectorStore.URL,
		APIKey:  cfg.VectorStore.APIKey,
		Path:    cfg.VectorStore.Path,
		Timeout: cfg.VectorStore.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	s.embedder, err = embed.New(ctx, embed.Options{
		Provider:        cfg.Embeddings.Provider,
		Model:           cfg.Embeddings.Model,
		Host:            cfg.Embeddings.Host,
		APIKey:          cfg.Embeddings.APIKey,
		Dimensions:      cfg.Embeddings.Dimensions,
		Timeout:         cfg.Embeddings.Timeout,
		CacheSize:       cfg.Embeddings.CacheSize,
		SkipHealthCheck: opts.offline,
	})
	if err != nil {
		return nil, err
	}

	s.scanner, err = scanner.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}

	s.history, err = telemetry.OpenHistory(ctx, historyPath(cfg))
	if err != nil {
		return nil, err
	}

	s.runner, err = index.NewRunner(index.RunnerDependencies{
		Config:   cfg,
		Ledger:   s.ledger,
		Store:    s.store,
		Embedder: s.embedder,
		Scanner:  s.scanner,
		History:  s.history,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the embedder, the store and the ledger.
func (s *stack) Close() error {
	var errs []error
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.ledger != nil {
		errs = append(errs, s.ledger.Close())
	}
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	return errors.Join(errs...)
}

// historyPath is the run history database under the data directory.
func historyPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "history.db")
}

// embedderInfo describes the embedder without probing it.
func (s *stack) embedderInfo() (provider, model string, dims int) {
	return s.cfg.Embeddings.Provider, s.embedder.ModelName(), s.embedder.Dimensions()
}

// resolveNames returns args, or every configured repository when all is set.
func resolveNames(cfg *config.Config, args []string, all bool) ([]string, error) {
	switch {
	case all && len(args) > 0:
		return nil, fmt.Errorf("--all cannot be combined with repository names")
	case all:
		var names []string
		for _, r := range cfg.EffectiveRepositories() {
			names = append(names, r.Name)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no repositories configured; add one with: vecsync repo add <name> <path>")
		}
		return names, nil
	case len(args) == 0:
		return nil, fmt.Errorf("name one or more repositories, or use --all")
	}
	return args, nil
}
