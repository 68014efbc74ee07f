package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStatus() StatusInfo {
	return StatusInfo{
		ConfigPath: "/home/u/.config/vecsync/config.yaml",
		Backend:    "sqlite",
		Collection: "vecsync",
		StoreSize:  3 * 1024 * 1024,
		Ledger:     "json",
		Embedder:   "ollama",
		Model:      "nomic-embed-text",
		EmbedderUp: true,
		Repositories: []RepositoryStatus{
			{Name: "docs", Path: "/srv/docs", WatchMode: true, WatchInterval: 30 * time.Second, LedgerEntries: 12, Vectors: 40, Verified: true,
				LastRun: &LastRun{At: time.Date(2026, 10, 19, 9, 30, 0, 0, time.Local), Trigger: "watch", Files: 3, Deleted: 1, Degraded: true}},
			{Name: "wiki", Path: "/srv/wiki", LedgerEntries: 2, Vectors: 1, Issues: []string{"missing_vectors: notes.md"}},
			{Name: "gone", Path: "/srv/gone", Error: "path does not exist"},
		},
	}
}

func TestStatusRenderer_Render(t *testing.T) {
	// Given: a status with three repositories
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	// When: rendering
	require.NoError(t, r.Render(sampleStatus()))

	// Then: store, embedder and per-repository details are listed
	out := buf.String()
	assert.Contains(t, out, "sqlite (collection vecsync), 3.0 MB")
	assert.Contains(t, out, "ollama nomic-embed-text [ready]")
	assert.Contains(t, out, "Files: 12  Vectors: 40")
	assert.Contains(t, out, "Watch: every 30s")
	assert.Contains(t, out, "Last run: 2026-10-19 09:30:00 (watch, 3 files, 1 deleted) degraded")
	assert.Contains(t, out, "Never indexed")
	assert.Contains(t, out, "ledger and store agree")
	assert.Contains(t, out, "missing_vectors: notes.md")
	assert.Contains(t, out, "path does not exist")
	assert.NotContains(t, out, "\x1b[")
}

func TestStatusRenderer_EmbedderOffline(t *testing.T) {
	buf := &bytes.Buffer{}
	info := sampleStatus()
	info.EmbedderUp = false

	require.NoError(t, NewStatusRenderer(buf, true).Render(info))

	assert.Contains(t, buf.String(), "[offline]")
}

func TestStatusRenderer_NoRepositories(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, NewStatusRenderer(buf, true).Render(StatusInfo{Backend: "hnsw"}))

	assert.Contains(t, buf.String(), "vecsync repo add")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	// Given: a status
	buf := &bytes.Buffer{}

	// When: rendering JSON
	require.NoError(t, NewStatusRenderer(buf, true).RenderJSON(sampleStatus()))

	// Then: it round-trips through the documented field names
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "sqlite", decoded["backend"])
	repos := decoded["repositories"].([]any)
	require.Len(t, repos, 3)
	assert.Equal(t, "docs", repos[0].(map[string]any)["name"])
	assert.Equal(t, float64(12), repos[0].(map[string]any)["ledgerEntries"])
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.bytes))
	}
}
