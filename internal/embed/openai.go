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
	// DefaultOpenAIHost is the OpenAI API base URL. Any server that speaks
	// the /v1/embeddings protocol can be used instead.
	DefaultOpenAIHost = "https://api.openai.com"

	// DefaultOpenAIModel is the default model for the openai provider.
	DefaultOpenAIModel = "text-embedding-3-small"
)

// OpenAIConfig configures an OpenAI-compatible embedder.
type OpenAIConfig struct {
	Host    string
	Model   string
	APIKey  string
	Timeout time.Duration

	// Dimensions, when positive, is sent as the requested output size.
	Dimensions int
}

type openAIEmbedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

// OpenAIEmbedder generates embeddings through a /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	client     *http.Client
	endpoint   string
	model      string
	header     http.Header
	requestDim int

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI-compatible embedder. The dimension is
// learned from the first response unless configured.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOpenAIHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	host := strings.TrimRight(cfg.Host, "/")
	endpoint := host + "/v1/embeddings"
	if strings.HasSuffix(host, "/v1") {
		endpoint = host + "/embeddings"
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	return &OpenAIEmbedder{
		client:     newHTTPClient(cfg.Timeout),
		endpoint:   endpoint,
		model:      cfg.Model,
		header:     header,
		requestDim: cfg.Dimensions,
		dims:       cfg.Dimensions,
	}
}

// Embed generates the embedding for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	closed, dims := e.closed, e.dims
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}
	if strings.TrimSpace(text) == "" && dims > 0 {
		return make([]float32, dims), nil
	}

	var resp openAIEmbedResponse
	req := openAIEmbedRequest{Model: e.model, Input: text, Dimensions: e.requestDim}
	if err := doJSON(ctx, e.client, http.MethodPost, e.endpoint, e.header, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	vec := normalizeVector(toFloat32(resp.Data[0].Embedding))
	e.mu.Lock()
	if e.dims == 0 {
		e.dims = len(vec)
	}
	e.mu.Unlock()
	return vec, nil
}

// Dimensions returns the embedding dimension, or 0 before the first call.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Available embeds a probe string.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	_, err := e.Embed(ctx, "availability probe")
	return err == nil
}

// Close releases idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.client.CloseIdleConnections()
	}
	return nil
}
