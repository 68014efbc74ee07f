package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
	ProviderStatic ProviderType = "static"
)

// String returns the provider name.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns every supported provider name.
func ValidProviders() []string {
	return []string{string(ProviderOllama), string(ProviderOpenAI), string(ProviderStatic)}
}

// ParseProvider resolves a provider name case-insensitively.
func ParseProvider(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOllama, ProviderOpenAI, ProviderStatic:
		return p, nil
	case "":
		return ProviderOllama, nil
	default:
		return "", verrors.New(verrors.ErrCodeConfigInvalid, fmt.Sprintf("unknown embedding provider %q", s), nil).
			WithSuggestion("use one of: " + strings.Join(ValidProviders(), ", "))
	}
}

// Options selects and tunes an embedder.
type Options struct {
	Provider   string
	Model      string
	Host       string
	APIKey     string
	Dimensions int
	Timeout    time.Duration

	// CacheSize enables the LRU cache when positive.
	CacheSize int

	// Retry overrides the default retry policy when MaxRetries is set.
	Retry verrors.RetryConfig

	// SkipHealthCheck skips the startup probe of remote providers.
	SkipHealthCheck bool
}

// New builds the configured embedder. Remote providers are wrapped with
// retry and a circuit breaker; every provider can be cached.
func New(ctx context.Context, opts Options) (Embedder, error) {
	provider, err := ParseProvider(opts.Provider)
	if err != nil {
		return nil, err
	}

	var base Embedder
	switch provider {
	case ProviderStatic:
		base = NewStaticEmbedder(opts.Dimensions)
	case ProviderOpenAI:
		base = NewOpenAIEmbedder(OpenAIConfig{
			Host:       opts.Host,
			Model:      opts.Model,
			APIKey:     opts.APIKey,
			Timeout:    opts.Timeout,
			Dimensions: opts.Dimensions,
		})
	default:
		ollama, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:            opts.Host,
			Model:           opts.Model,
			Timeout:         opts.Timeout,
			SkipHealthCheck: opts.SkipHealthCheck,
		})
		if err != nil {
			return nil, err
		}
		base = ollama
	}

	embedder := base
	if provider != ProviderStatic {
		retry := opts.Retry
		if retry.MaxRetries == 0 {
			retry = verrors.DefaultRetryConfig()
		}
		breaker := verrors.NewCircuitBreaker("embed-" + string(provider))
		embedder = NewResilientEmbedder(base, retry, breaker)
	}
	if opts.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()),
		slog.Int("cache_size", opts.CacheSize))
	return embedder, nil
}

// Info describes an embedder for status output.
type Info struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo inspects an embedder, looking through cache and retry wrappers.
func GetInfo(ctx context.Context, e Embedder) Info {
	info := Info{
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
		Available:  e.Available(ctx),
	}

	inner := e
	for {
		switch w := inner.(type) {
		case *CachedEmbedder:
			inner = w.inner
			continue
		case *ResilientEmbedder:
			inner = w.inner
			continue
		}
		break
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	case *OpenAIEmbedder:
		info.Provider = ProviderOpenAI
	default:
		info.Provider = ProviderStatic
	}
	return info
}
