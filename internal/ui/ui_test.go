package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecsync/internal/progress"
)

func TestStage_String(t *testing.T) {
	tests := []struct {
		stage Stage
		want  string
		icon  string
	}{
		{StageScanning, "Scanning", "SCAN"},
		{StageCleaning, "Cleaning", "CLEAN"},
		{StageChunking, "Chunking", "CHUNK"},
		{StageEmbedding, "Embedding", "EMBED"},
		{StageComplete, "Complete", "DONE"},
		{Stage(99), "Unknown", "???"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.stage.String())
			assert.Equal(t, tt.icon, tt.stage.Icon())
		})
	}
}

func TestStageFor_FollowsPhaseBands(t *testing.T) {
	assert.Equal(t, StageScanning, StageFor(0))
	assert.Equal(t, StageScanning, StageFor(progress.PhaseReconcile.Start-1))
	assert.Equal(t, StageCleaning, StageFor(progress.PhaseReconcile.Start))
	assert.Equal(t, StageChunking, StageFor(progress.PhaseChunk.Start))
	assert.Equal(t, StageEmbedding, StageFor(progress.PhaseEmbed.Start))
	assert.Equal(t, StageEmbedding, StageFor(99))
	assert.Equal(t, StageComplete, StageFor(100))
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "auto": ModeAuto, " TUI ": ModeTUI, "bar": ModeBar, "plain": ModePlain} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMode("fancy")
	assert.ErrorContains(t, err, "unknown progress mode")
}

func TestIsTTY_NonTerminal(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestNewConfig_WithOptions(t *testing.T) {
	// Given: a buffer and options
	buf := &bytes.Buffer{}

	// When: creating config
	cfg := NewConfig(buf, WithMode(ModeBar), WithNoColor(true), WithRepository("docs"))

	// Then: options are applied over the defaults
	assert.Equal(t, buf, cfg.Output)
	assert.Equal(t, ModeBar, cfg.Mode)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "docs", cfg.Repository)
	assert.Equal(t, ModeAuto, NewConfig(buf).Mode)
}

func TestNewRenderer_SelectsByModeAndTerminal(t *testing.T) {
	buf := &bytes.Buffer{}

	assert.IsType(t, &PlainRenderer{}, NewRenderer(NewConfig(buf)))
	assert.IsType(t, &PlainRenderer{}, NewRenderer(NewConfig(buf, WithMode(ModeTUI))))
	assert.IsType(t, &PlainRenderer{}, NewRenderer(NewConfig(buf, WithMode(ModePlain))))
	assert.IsType(t, &BarRenderer{}, NewRenderer(NewConfig(buf, WithMode(ModeBar))))
}

func TestCompletionStats_Degraded(t *testing.T) {
	assert.False(t, CompletionStats{Chunks: 3, Indexed: 3}.Degraded())
	assert.True(t, CompletionStats{Chunks: 3, Indexed: 2}.Degraded())
	assert.True(t, CompletionStats{Failed: 1}.Degraded())
}

func TestSummaryLine(t *testing.T) {
	line := summaryLine(CompletionStats{
		Files: 4, Chunks: 10, Indexed: 9, Deleted: 2, Failed: 1, Skipped: 3,
		FullReindex: true, Duration: 1500 * time.Millisecond,
	})

	assert.Contains(t, line, "4 files, 9/10 chunks indexed")
	assert.Contains(t, line, "2 deleted")
	assert.Contains(t, line, "1.5s")
	assert.Contains(t, line, "(1 failed, 3 skipped)")
	assert.Contains(t, line, "[full reindex]")

	clean := summaryLine(CompletionStats{Files: 1, Chunks: 1, Indexed: 1})
	assert.NotContains(t, clean, "deleted")
	assert.NotContains(t, clean, "failed")
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestDetectCI(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, DetectCI())
}

func TestRenderers_AreProgressSinks(t *testing.T) {
	var _ progress.Sink = (*PlainRenderer)(nil)
	var _ progress.Sink = (*BarRenderer)(nil)
	var _ progress.Sink = (*TUIRenderer)(nil)
}
