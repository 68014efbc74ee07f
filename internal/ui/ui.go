// Package ui renders indexing progress and repository status in a terminal.
//
// Every Renderer is a progress.Sink, so it can be handed to a
// progress.Reporter directly. NewRenderer picks an interactive bubbletea
// view for terminals, a single-line progress bar on request, and plain
// lines for pipes and CI.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/vecsync/internal/progress"
)

// Stage is the part of a run a progress percentage falls into.
type Stage int

const (
	// StageScanning covers enumeration and classification.
	StageScanning Stage = iota
	// StageCleaning covers deletion reconciliation.
	StageCleaning
	// StageChunking covers splitting changed files.
	StageChunking
	// StageEmbedding covers embedding and upserting chunks.
	StageEmbedding
	// StageComplete indicates the run finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageCleaning:
		return "Cleaning"
	case StageChunking:
		return "Chunking"
	case StageEmbedding:
		return "Embedding"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageCleaning:
		return "CLEAN"
	case StageChunking:
		return "CHUNK"
	case StageEmbedding:
		return "EMBED"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// StageFor maps an overall percentage onto the stage whose band contains it.
func StageFor(pct int) Stage {
	switch {
	case pct >= 100:
		return StageComplete
	case pct >= progress.PhaseEmbed.Start:
		return StageEmbedding
	case pct >= progress.PhaseChunk.Start:
		return StageChunking
	case pct >= progress.PhaseReconcile.Start:
		return StageCleaning
	default:
		return StageScanning
	}
}

// ProgressEvent is one progress update with its derived stage.
type ProgressEvent struct {
	Stage      Stage
	Percentage int
	Message    string
}

func eventFrom(u progress.Update) ProgressEvent {
	return ProgressEvent{Stage: StageFor(u.Percentage), Percentage: u.Percentage, Message: u.Message}
}

// EmbedderInfo describes the embedding backend of a run.
type EmbedderInfo struct {
	Provider   string
	Model      string
	Dimensions int
}

// CompletionStats summarizes a finished run.
type CompletionStats struct {
	Repository  string
	Files       int
	Skipped     int
	Unchanged   int
	Failed      int
	Deleted     int
	Chunks      int
	Indexed     int
	FullReindex bool
	Duration    time.Duration
	Embedder    EmbedderInfo
}

// Degraded reports whether some chunks or files were not indexed.
func (s CompletionStats) Degraded() bool {
	return s.Failed > 0 || s.Indexed < s.Chunks
}

// Renderer displays the progress of one run.
type Renderer interface {
	progress.Sink

	// Start initializes the renderer.
	Start(ctx context.Context) error

	// Complete shows the run summary.
	Complete(stats CompletionStats)

	// Stop releases the terminal. Safe to call after Complete.
	Stop() error
}

// Mode selects a renderer.
type Mode string

const (
	// ModeAuto picks the TUI on interactive terminals and plain text otherwise.
	ModeAuto  Mode = "auto"
	ModeTUI   Mode = "tui"
	ModeBar   Mode = "bar"
	ModePlain Mode = "plain"
)

// ParseMode validates a --progress flag value. Empty means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeTUI, ModeBar, ModePlain:
		return m, nil
	default:
		return "", fmt.Errorf("unknown progress mode %q (use auto, tui, bar or plain)", s)
	}
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	Mode       Mode
	NoColor    bool
	Repository string // shown in the TUI header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithMode sets the renderer mode.
func WithMode(mode Mode) ConfigOption {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithRepository sets the repository name shown in the header.
func WithRepository(name string) ConfigOption {
	return func(c *Config) {
		c.Repository = name
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output: output,
		Mode:   ModeAuto,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer creates the renderer for cfg.Mode. Interactive modes fall
// back to plain text when the output is not a terminal.
func NewRenderer(cfg Config) Renderer {
	switch cfg.Mode {
	case ModePlain:
		return NewPlainRenderer(cfg)
	case ModeBar:
		return NewBarRenderer(cfg)
	}

	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}
	if cfg.Mode == ModeAuto && DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// summaryLine is the one-line run summary shared by the text renderers.
func summaryLine(stats CompletionStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Complete: %d files, %d/%d chunks indexed", stats.Files, stats.Indexed, stats.Chunks)
	if stats.Deleted > 0 {
		fmt.Fprintf(&b, ", %d deleted", stats.Deleted)
	}
	fmt.Fprintf(&b, " in %s", stats.Duration.Round(100*time.Millisecond))
	if stats.Failed > 0 || stats.Skipped > 0 {
		fmt.Fprintf(&b, " (%d failed, %d skipped)", stats.Failed, stats.Skipped)
	}
	if stats.FullReindex {
		b.WriteString(" [full reindex]")
	}
	return b.String()
}
