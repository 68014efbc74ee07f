package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/scanner"
)

// PollingWatcher watches one repository by periodically re-enumerating it.
type PollingWatcher struct {
	name     string
	interval time.Duration
	opts     scanner.EnumerateOptions
	scanner  *scanner.Scanner
	onChange ChangeFunc
	logger   *slog.Logger

	mu        sync.Mutex
	fileState map[string]fileSnapshot
	started   bool

	// pending holds paths whose callback has not succeeded yet. Only the
	// loop goroutine touches it.
	pending map[string]Operation

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type fileSnapshot struct {
	hash    string
	modTime time.Time
	size    int64
}

// Config configures a PollingWatcher.
type Config struct {
	// Name identifies the repository in logs.
	Name     string
	Interval time.Duration
	Options  scanner.EnumerateOptions
	Scanner  *scanner.Scanner
	OnChange ChangeFunc
	Logger   *slog.Logger
}

// NewPollingWatcher creates a watcher. It does nothing until Start.
func NewPollingWatcher(cfg Config) (*PollingWatcher, error) {
	if cfg.OnChange == nil {
		return nil, fmt.Errorf("change callback is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	sc := cfg.Scanner
	if sc == nil {
		var err error
		if sc, err = scanner.New(); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PollingWatcher{
		name:      cfg.Name,
		interval:  interval,
		opts:      cfg.Options,
		scanner:   sc,
		onChange:  cfg.OnChange,
		logger:    logger,
		fileState: make(map[string]fileSnapshot),
		pending:   make(map[string]Operation),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Interval returns the effective polling interval.
func (p *PollingWatcher) Interval() time.Duration { return p.interval }

// Start records the baseline snapshot and starts the polling loop in the
// background. The loop ends when ctx is cancelled or Stop is called.
func (p *PollingWatcher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("watcher for %s already started", p.name)
	}
	p.started = true
	p.mu.Unlock()

	if _, err := p.poll(ctx); err != nil {
		close(p.done)
		return fmt.Errorf("perform initial scan: %w", err)
	}

	go p.loop(ctx)
	p.logger.Info("watch_started",
		slog.String("repository", p.name),
		slog.Duration("interval", p.interval),
		slog.Int("files", p.tracked()))
	return nil
}

// Stop ends the polling loop. A tick in progress, including its callback,
// runs to completion. Safe to call multiple times.
func (p *PollingWatcher) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Done is closed when the polling loop has exited.
func (p *PollingWatcher) Done() <-chan struct{} {
	return p.done
}

func (p *PollingWatcher) loop(ctx context.Context) {
	defer close(p.done)
	defer p.logger.Info("watch_stopped", slog.String("repository", p.name))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick compares the repository against the snapshot and runs the callback
// while any change is pending. Changes stay pending until the callback
// returns nil, so a busy or degraded run is retried on the next tick.
func (p *PollingWatcher) tick(ctx context.Context) {
	events, err := p.poll(ctx)
	if err != nil {
		// Non-fatal; the snapshot is kept and the next tick retries.
		p.logger.Warn("watch_scan_failed", slog.String("repository", p.name), slog.String("error", err.Error()))
		return
	}
	for _, e := range events {
		p.pending[e.Path] = e.Operation
	}
	if len(p.pending) == 0 {
		return
	}

	changed, removed := splitPending(p.pending)
	if len(events) > 0 {
		p.logger.Info("watch_changes_detected",
			slog.String("repository", p.name),
			slog.Int("changed", len(changed)),
			slog.Int("removed", len(removed)))
	}
	if err := p.onChange(ctx, changed, removed); err != nil {
		p.logger.Info("watch_changes_pending",
			slog.String("repository", p.name),
			slog.Int("paths", len(p.pending)),
			slog.String("reason", err.Error()))
		return
	}
	clear(p.pending)
}

// poll enumerates the repository, replaces the snapshot and returns the
// differences from the previous one. Hashes are reused when mtime and size
// are unchanged.
func (p *PollingWatcher) poll(ctx context.Context) ([]FileEvent, error) {
	files, err := p.scanner.Enumerate(ctx, p.opts)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	previous := p.fileState
	p.mu.Unlock()

	now := time.Now()
	current := make(map[string]fileSnapshot, len(files))
	var events []FileEvent

	for _, f := range files {
		if f.ExtensionExcluded {
			continue
		}
		snap := fileSnapshot{modTime: f.ModTime, size: f.Size}
		prev, exists := previous[f.Path]
		if exists && prev.modTime.Equal(snap.modTime) && prev.size == snap.size {
			snap.hash = prev.hash
		} else {
			content, err := os.ReadFile(f.AbsPath)
			if err != nil {
				// Unreadable files keep their previous state.
				p.logger.Debug("watch_file_unreadable", slog.String("path", f.Path), slog.String("error", err.Error()))
				if exists {
					current[f.Path] = prev
				}
				continue
			}
			snap.hash = ledger.HashContent(content)
		}
		current[f.Path] = snap

		switch {
		case !exists:
			events = append(events, FileEvent{Path: f.Path, Operation: OpCreate, Timestamp: now})
		case prev.hash != snap.hash || !prev.modTime.Equal(snap.modTime):
			events = append(events, FileEvent{Path: f.Path, Operation: OpModify, Timestamp: now})
		}
	}

	var removed []string
	for path := range previous {
		if _, ok := current[path]; !ok {
			removed = append(removed, path)
		}
	}
	sort.Strings(removed)
	for _, path := range removed {
		events = append(events, FileEvent{Path: path, Operation: OpDelete, Timestamp: now})
	}

	p.mu.Lock()
	p.fileState = current
	p.mu.Unlock()
	return events, nil
}

func (p *PollingWatcher) tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fileState)
}
