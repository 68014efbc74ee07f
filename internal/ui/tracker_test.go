package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_Initial(t *testing.T) {
	stats := NewProgressTracker().Stats()

	assert.Equal(t, StageScanning, stats.Stage)
	assert.Zero(t, stats.Percentage)
	assert.Zero(t, stats.ETA)
}

func TestProgressTracker_ApplyIsMonotonic(t *testing.T) {
	// Given: a tracker at 40%
	tr := NewProgressTracker()
	tr.Apply(ProgressEvent{Stage: StageEmbedding, Percentage: 40, Message: "Indexed 4/10 chunks"})

	// When: a lower percentage arrives without a message
	tr.Apply(ProgressEvent{Stage: StageEmbedding, Percentage: 35})

	// Then: percentage and message are kept
	stats := tr.Stats()
	assert.Equal(t, 40, stats.Percentage)
	assert.InDelta(t, 0.4, stats.Progress, 1e-9)
	assert.Equal(t, "Indexed 4/10 chunks", stats.Message)
	assert.Equal(t, 2, stats.Updates)
}

func TestProgressTracker_ClampsAndCompletes(t *testing.T) {
	tr := NewProgressTracker()
	tr.Apply(ProgressEvent{Stage: StageComplete, Percentage: 140})

	stats := tr.Stats()
	assert.Equal(t, 100, stats.Percentage)
	assert.Equal(t, StageComplete, stats.Stage)
	assert.Zero(t, stats.ETA)
}

func TestProgressTracker_StageChange(t *testing.T) {
	tr := NewProgressTracker()
	tr.Apply(ProgressEvent{Stage: StageCleaning, Percentage: 12})
	tr.Apply(ProgressEvent{Stage: StageChunking, Percentage: 25})

	assert.Equal(t, StageChunking, tr.Stats().Stage)
}
