package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/Aman-CERP/vecsync/internal/progress"
)

const (
	defaultBarWidth = 32
	maxDescription  = 40
)

// BarRenderer draws a single-line progress bar.
type BarRenderer struct {
	mu  sync.Mutex
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewBarRenderer creates a progress bar renderer over 0-100 percent.
func NewBarRenderer(cfg Config) *BarRenderer {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(cfg.Output),
		progressbar.OptionSetDescription(StageScanning.Icon()),
		progressbar.OptionSetWidth(barWidth(cfg.Output)),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &BarRenderer{out: cfg.Output, bar: bar}
}

// barWidth leaves room for the description on narrow terminals.
func barWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return defaultBarWidth
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 {
		return defaultBarWidth
	}
	return max(10, min(defaultBarWidth, cols-maxDescription-20))
}

// Start implements Renderer.
func (r *BarRenderer) Start(ctx context.Context) error {
	return nil
}

// SendProgress implements progress.Sink.
func (r *BarRenderer) SendProgress(_ any, u progress.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := eventFrom(u)
	r.bar.Describe(fmt.Sprintf("%-5s %s", event.Stage.Icon(), truncateFilePath(event.Message, maxDescription)))
	return r.bar.Set(event.Percentage)
}

// Complete implements Renderer.
func (r *BarRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.bar.Finish()
	_, _ = fmt.Fprintln(r.out, summaryLine(stats))
}

// Stop implements Renderer.
func (r *BarRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bar.Exit()
}

var _ Renderer = (*BarRenderer)(nil)
