package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DefaultQdrantURL is the local Qdrant REST endpoint.
const DefaultQdrantURL = "http://localhost:6333"

// indexedKeys get a keyword payload index when a collection is created.
var indexedKeys = []string{KeyFileID, KeyRepository, KeyContentHash}

// QdrantStore talks to Qdrant over its REST API.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// statusError is a non-2xx Qdrant response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant status %d: %s", e.Code, e.Body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// NewQdrantStore creates a client for the Qdrant server at baseURL.
func NewQdrantStore(baseURL, apiKey string, timeout time.Duration) *QdrantStore {
	if baseURL == "" {
		baseURL = DefaultQdrantURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &QdrantStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func waitQuery(opts WriteOptions) string {
	if opts.Wait {
		return "?wait=true"
	}
	return "?wait=false"
}

// EnsureCollection implements VectorStore.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	data, err := s.doRequest(ctx, http.MethodGet, collectionPath(name), nil)
	if err == nil {
		var info struct {
			Result struct {
				Config struct {
					Params struct {
						Vectors struct {
							Size int `json:"size"`
						} `json:"vectors"`
					} `json:"params"`
				} `json:"config"`
			} `json:"result"`
		}
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("failed to decode collection info: %w", err)
		}
		if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dims {
			return ErrDimensionMismatch{Collection: name, Expected: size, Got: dims}
		}
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to get collection %s: %w", name, err)
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dims,
			"distance": "Cosine",
		},
	}
	if _, err := s.doRequest(ctx, http.MethodPut, collectionPath(name), req); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	for _, key := range indexedKeys {
		idx := map[string]any{"field_name": key, "field_schema": "keyword"}
		if _, err := s.doRequest(ctx, http.MethodPut, collectionPath(name)+"/index?wait=true", idx); err != nil {
			return fmt.Errorf("failed to create payload index %s: %w", key, err)
		}
	}
	return nil
}

// Upsert implements VectorStore.
func (s *QdrantStore) Upsert(ctx context.Context, name string, points []Point, opts WriteOptions) error {
	if len(points) == 0 {
		return nil
	}
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		body = append(body, map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": p.Payload,
		})
	}
	_, err := s.doRequest(ctx, http.MethodPut, collectionPath(name)+"/points"+waitQuery(opts), map[string]any{"points": body})
	return err
}

// Delete implements VectorStore.
func (s *QdrantStore) Delete(ctx context.Context, name string, filter Filter, opts WriteOptions) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}
	req := map[string]any{"filter": qdrantFilter(filter)}
	_, err := s.doRequest(ctx, http.MethodPost, collectionPath(name)+"/points/delete"+waitQuery(opts), req)
	if isNotFound(err) {
		return nil
	}
	return err
}

// DeletePoints implements VectorStore.
func (s *QdrantStore) DeletePoints(ctx context.Context, name string, ids []string, opts WriteOptions) error {
	if len(ids) == 0 {
		return nil
	}
	req := map[string]any{"points": ids}
	_, err := s.doRequest(ctx, http.MethodPost, collectionPath(name)+"/points/delete"+waitQuery(opts), req)
	if isNotFound(err) {
		return nil
	}
	return err
}

// Search implements VectorStore.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, limit int, filter Filter) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if !filter.IsEmpty() {
		req["filter"] = qdrantFilter(filter)
	}
	data, err := s.doRequest(ctx, http.MethodPost, collectionPath(name)+"/points/search", req)
	if isNotFound(err) {
		return []SearchResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	results := make([]SearchResult, 0, len(parsed.Result))
	for _, item := range parsed.Result {
		results = append(results, SearchResult{
			ID:      fmt.Sprintf("%v", item.ID),
			Score:   item.Score,
			Payload: item.Payload,
		})
	}
	return results, nil
}

// Capabilities implements VectorStore. A collection created by this client
// always carries the fileId index; one created elsewhere may not.
func (s *QdrantStore) Capabilities(ctx context.Context, name string) (Capabilities, error) {
	data, err := s.doRequest(ctx, http.MethodGet, collectionPath(name), nil)
	if isNotFound(err) {
		return Capabilities{FileIDFilter: true}, nil
	}
	if err != nil {
		return Capabilities{}, err
	}
	var info struct {
		Result struct {
			PayloadSchema map[string]json.RawMessage `json:"payload_schema"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return Capabilities{}, fmt.Errorf("failed to decode collection info: %w", err)
	}
	_, ok := info.Result.PayloadSchema[KeyFileID]
	return Capabilities{FileIDFilter: ok}, nil
}

// Count implements VectorStore.
func (s *QdrantStore) Count(ctx context.Context, name string, filter Filter) (int, error) {
	req := map[string]any{"exact": true}
	if !filter.IsEmpty() {
		req["filter"] = qdrantFilter(filter)
	}
	data, err := s.doRequest(ctx, http.MethodPost, collectionPath(name)+"/points/count", req)
	if isNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("failed to decode count response: %w", err)
	}
	return parsed.Result.Count, nil
}

// Close implements VectorStore.
func (s *QdrantStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// qdrantFilter renders a Filter as Qdrant must / must_not match conditions.
// Keys are sorted so requests are stable.
func qdrantFilter(f Filter) map[string]any {
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = matchConditions(f.Must)
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = matchConditions(f.MustNot)
	}
	return out
}

func matchConditions(m map[string]any) []map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conds := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		conds = append(conds, map[string]any{
			"key":   k,
			"match": map[string]any{"value": m[k]},
		})
	}
	return conds
}

var _ VectorStore = (*QdrantStore)(nil)
