package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Aman-CERP/vecsync/internal/progress"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu   sync.Mutex
	out  io.Writer
	last ProgressEvent
	seen bool
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// SendProgress implements progress.Sink. Repeated identical updates are
// printed once.
func (r *PlainRenderer) SendProgress(_ any, u progress.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := eventFrom(u)
	if r.seen && event == r.last {
		return nil
	}
	r.last, r.seen = event, true

	// Format: [STAGE]  42% message
	_, err := fmt.Fprintf(r.out, "[%s] %3d%% %s\n", event.Stage.Icon(), event.Percentage, event.Message)
	return err
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintln(r.out, summaryLine(stats))
	if stats.Embedder.Provider != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
