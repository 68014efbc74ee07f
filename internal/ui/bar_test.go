package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vecsync/internal/progress"
)

func TestBarRenderer_DrawsStageAndSummary(t *testing.T) {
	// Given: a bar renderer over a buffer
	buf := &bytes.Buffer{}
	r := NewBarRenderer(NewConfig(buf, WithMode(ModeBar)))

	// When: progressing into the embedding phase and completing
	require.NoError(t, r.SendProgress(nil, progress.Update{Percentage: 50, Message: "Indexed 4/8 chunks"}))
	assert.InDelta(t, 0.5, r.bar.State().CurrentPercent, 1e-9)
	r.Complete(CompletionStats{Files: 2, Chunks: 8, Indexed: 8, Duration: time.Second})

	// Then: the summary is written after the bar
	out := buf.String()
	assert.Contains(t, out, "Complete: 2 files, 8/8 chunks indexed")
	assert.NoError(t, r.Stop())
}

func TestBarWidth_NonTerminal(t *testing.T) {
	assert.Equal(t, defaultBarWidth, barWidth(&bytes.Buffer{}))
}
