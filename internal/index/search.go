package index

import (
	"context"
	"fmt"
	"strings"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/store"
)

// DefaultSearchLimit is used when a search asks for no limit.
const DefaultSearchLimit = 10

// SearchHit is one search result in a repository.
type SearchHit struct {
	Score     float32 `json:"score"`
	Path      string  `json:"path"`
	Title     string  `json:"title,omitempty"`
	URL       string  `json:"url,omitempty"`
	LineStart int     `json:"lineStart"`
	LineEnd   int     `json:"lineEnd"`
	Text      string  `json:"text"`
}

// Search embeds query and returns the nearest chunks of repository name.
// Results come back in store order; no re-ranking is applied.
func (r *Runner) Search(ctx context.Context, name, query string, limit int) ([]SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, verrors.New(verrors.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	if _, err := r.cfg.Repository(name); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, verrors.EmbeddingError("failed to embed query", err)
	}
	results, err := r.store.Search(ctx, r.Collection(), vec, limit, store.Filter{
		Must: map[string]any{store.KeyRepository: name},
	})
	if err != nil {
		return nil, verrors.New(verrors.ErrCodeSearchFailed, fmt.Sprintf("search in %s failed", name), err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, SearchHit{
			Score:     res.Score,
			Path:      payloadString(res.Payload, store.KeySourcePath),
			Title:     payloadString(res.Payload, store.KeyTitle),
			URL:       payloadString(res.Payload, store.KeyURL),
			LineStart: payloadInt(res.Payload, store.KeyLineStart),
			LineEnd:   payloadInt(res.Payload, store.KeyLineEnd),
			Text:      payloadString(res.Payload, store.KeyText),
		})
	}
	return hits, nil
}

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

// payloadInt reads a number that may have round-tripped through JSON.
func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
