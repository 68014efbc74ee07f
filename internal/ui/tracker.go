package ui

import (
	"sync"
	"time"
)

// etaSmoothingFactor weights a new ETA estimate against the previous one.
const etaSmoothingFactor = 0.3

// ProgressTracker keeps the latest progress state for the TUI.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	stage      Stage
	percentage int
	message    string
	startTime  time.Time
	stageStart time.Time
	lastETA    time.Duration
	updates    int
}

// ProgressStats is a snapshot of the tracker.
type ProgressStats struct {
	Stage      Stage
	Percentage int
	Progress   float64 // 0.0-1.0
	Message    string
	Elapsed    time.Duration
	ETA        time.Duration
	Updates    int
}

// NewProgressTracker creates a tracker in the scanning stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{stage: StageScanning, startTime: now, stageStart: now}
}

// Apply records an event. Percentages never move backwards.
func (p *ProgressTracker) Apply(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.updates++
	if event.Stage != p.stage {
		p.stage = event.Stage
		p.stageStart = time.Now()
		p.lastETA = 0
	}
	if event.Percentage > p.percentage {
		p.percentage = min(event.Percentage, 100)
	}
	if event.Message != "" {
		p.message = event.Message
	}
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:      p.stage,
		Percentage: p.percentage,
		Progress:   float64(p.percentage) / 100,
		Message:    p.message,
		Elapsed:    time.Since(p.startTime),
		ETA:        p.calculateETA(),
		Updates:    p.updates,
	}
}

// calculateETA extrapolates the remaining time of the run from the overall
// rate, smoothed against the previous estimate. Must be called with the
// lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	if p.percentage <= 0 || p.percentage >= 100 {
		return 0
	}

	elapsed := time.Since(p.startTime)
	progress := float64(p.percentage) / 100
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}

	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	smoothed := time.Duration(etaSmoothingFactor*float64(raw) + (1-etaSmoothingFactor)*float64(p.lastETA))
	p.lastETA = smoothed
	return smoothed
}
