package embed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is a general purpose text embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// ollamaProbeTimeout bounds the startup model check. Cold model loads
	// can take tens of seconds.
	ollamaProbeTimeout = 2 * time.Minute
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host    string
	Model   string
	Timeout time.Duration

	// Dimensions skips auto-detection when positive.
	Dimensions int

	// SkipHealthCheck skips the model probe at construction.
	SkipHealthCheck bool
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings through Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	client *http.Client
	host   string
	model  string

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set it verifies the model is installed and detects its dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}

	e := &OllamaEmbedder{
		client: newHTTPClient(cfg.Timeout),
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  cfg.Model,
		dims:   cfg.Dimensions,
	}
	if cfg.SkipHealthCheck {
		return e, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()

	if !e.hasModel(probeCtx) {
		e.client.CloseIdleConnections()
		return nil, fmt.Errorf("failed to find ollama model %q at %s (try: ollama pull %s)", e.model, e.host, e.model)
	}
	if e.dims <= 0 {
		vec, err := e.embed(probeCtx, "dimension probe")
		if err != nil {
			e.client.CloseIdleConnections()
			return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
		}
		e.dims = len(vec)
	}
	return e, nil
}

// Embed generates the embedding for one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed, dims := e.closed, e.dims
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, dims), nil
	}

	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.dims == 0 {
		e.dims = len(vec)
	}
	e.mu.Unlock()
	return vec, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	err := doJSON(ctx, e.client, http.MethodPost, e.host+"/api/embed", nil,
		ollamaEmbedRequest{Model: e.model, Input: text}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama returned no embedding")
	}
	return normalizeVector(toFloat32(resp.Embeddings[0])), nil
}

func (e *OllamaEmbedder) hasModel(ctx context.Context) bool {
	var tags ollamaTagsResponse
	if err := doJSON(ctx, e.client, http.MethodGet, e.host+"/api/tags", nil, nil, &tags); err != nil {
		return false
	}
	// "nomic-embed-text" matches any installed tag of that model.
	want := strings.ToLower(e.model)
	untagged := !strings.Contains(want, ":")
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		base, _, _ := strings.Cut(name, ":")
		if name == want || (untagged && base == want) {
			return true
		}
	}
	return false
}

// Dimensions returns the embedding dimension, or 0 before the first call
// when auto-detection was skipped.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// Available reports whether Ollama is reachable and has the model.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	return !closed && e.hasModel(ctx)
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.client.CloseIdleConnections()
	}
	return nil
}
