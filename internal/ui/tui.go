package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	vprogress "github.com/Aman-CERP/vecsync/internal/progress"
)

// TUIRenderer provides rich terminal UI using bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *indexingModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer.
// Returns an error if the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}

	tracker := NewProgressTracker()
	model := newIndexingModel(tracker, cfg.Repository)
	model.styles = GetStyles(cfg.NoColor)

	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}

	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// SendProgress implements progress.Sink.
func (r *TUIRenderer) SendProgress(_ any, u vprogress.Update) error {
	event := eventFrom(u)
	r.tracker.Apply(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(progressUpdateMsg(event))
	}
	return nil
}

// Complete implements Renderer. The program exits after drawing the summary.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Apply(ProgressEvent{Stage: StageComplete, Percentage: 100})

	r.mu.Lock()
	program := r.program
	r.mu.Unlock()

	if program != nil {
		program.Send(completeMsg(stats))
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
}

// Stop implements Renderer.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.program != nil {
		r.program.Quit()
		// An unresponsive program must not hang shutdown.
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Message types for bubbletea
type progressUpdateMsg ProgressEvent
type completeMsg CompletionStats
type tickMsg time.Time

// indexingModel is the bubbletea model for one run.
type indexingModel struct {
	tracker     *ProgressTracker
	width       int
	quitting    bool
	complete    bool
	stats       CompletionStats
	spinner     spinner.Model
	progressBar progress.Model
	styles      Styles
	repository  string
}

func newIndexingModel(tracker *ProgressTracker, repository string) *indexingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	p := progress.New(
		progress.WithSolidFill(ColorLime),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &indexingModel{
		tracker:     tracker,
		spinner:     s,
		progressBar: p,
		styles:      DefaultStyles(),
		width:       80,
		repository:  repository,
	}
}

// Init implements tea.Model.
func (m *indexingModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// tickCmd refreshes the ETA every 250ms.
func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The run itself continues; only the display goes away.
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progressBar.Width = max(20, msg.Width-20)

	case progressUpdateMsg:
		return m, nil

	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit

	case tickMsg:
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m *indexingModel) View() string {
	if m.quitting {
		return "Display closed; indexing continues in the background.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	contentWidth := max(40, m.width-4)
	stats := m.tracker.Stats()

	sections := []string{
		m.renderStages(stats.Stage),
		m.renderDivider(contentWidth),
		m.renderProgress(stats),
	}
	if stats.Message != "" {
		sections = append(sections, m.renderDivider(contentWidth),
			m.styles.Dim.Render(truncateFilePath(stats.Message, contentWidth-2)))
	}

	title := "vecsync"
	if m.repository != "" {
		title = fmt.Sprintf("vecsync • %s", m.repository)
	}
	panel := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		m.styles.Panel.Width(contentWidth).Render(strings.Join(sections, "\n")),
	)
	return panel + "\n" + m.styles.Dim.Render("q to hide")
}

// renderStages renders the pipeline stage indicators.
func (m *indexingModel) renderStages(current Stage) string {
	stages := []struct {
		stage Stage
		name  string
	}{
		{StageScanning, "Scan"},
		{StageCleaning, "Clean"},
		{StageChunking, "Chunk"},
		{StageEmbedding, "Embed"},
	}

	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		var icon string
		var style lipgloss.Style
		switch {
		case s.stage < current:
			icon, style = "●", m.styles.Success
		case s.stage == current:
			icon, style = m.spinner.View(), m.styles.Active
		default:
			icon, style = "○", m.styles.Dim
		}
		parts = append(parts, style.Render(icon+" "+s.name))
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

// renderProgress renders the bar, percentage and timing line.
func (m *indexingModel) renderProgress(stats ProgressStats) string {
	bar := m.progressBar.ViewAs(stats.Progress)
	pct := m.styles.Active.Render(fmt.Sprintf("%3d%%", stats.Percentage))

	timing := fmt.Sprintf("Elapsed: %s", formatDuration(stats.Elapsed))
	if stats.ETA > 0 {
		timing += fmt.Sprintf("  •  ETA: %s", formatDuration(stats.ETA))
	}
	return fmt.Sprintf("%s  %s\n%s", bar, pct, m.styles.Label.Render(timing))
}

func (m *indexingModel) renderDivider(width int) string {
	return m.styles.Border.Render(strings.Repeat("─", width))
}

// renderComplete renders the run summary.
func (m *indexingModel) renderComplete() string {
	contentWidth := max(40, m.width-4)
	s := m.stats

	header := m.styles.Success.Render("✓ Indexing Complete")
	if s.Degraded() {
		header = m.styles.Warning.Render("⚠ Indexing Complete (degraded)")
	}

	row := func(label string, value any) string {
		return fmt.Sprintf("%s %s", m.styles.Label.Render(fmt.Sprintf("%-10s", label)), m.styles.Active.Render(fmt.Sprint(value)))
	}
	lines := []string{
		header,
		"",
		row("Files:", s.Files),
		row("Chunks:", fmt.Sprintf("%d/%d", s.Indexed, s.Chunks)),
		row("Unchanged:", s.Unchanged),
		row("Deleted:", s.Deleted),
		row("Duration:", formatDuration(s.Duration)),
	}
	if s.FullReindex {
		lines = append(lines, m.styles.Warning.Render("Full reindex: the store cannot delete by file"))
	}
	if s.Failed > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d files failed", s.Failed)))
	}
	if s.Skipped > 0 {
		lines = append(lines, m.styles.Dim.Render(fmt.Sprintf("%d files skipped", s.Skipped)))
	}

	border := ColorLime
	if s.Degraded() {
		border = ColorYellow
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(border)).
		Padding(1, 2).
		Width(contentWidth)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

// truncateFilePath shortens a message or path from the left to fit maxLen.
func truncateFilePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 4 {
		return "..."
	}

	parts := strings.Split(path, "/")
	filename := parts[len(parts)-1]
	if len(parts) == 1 || len(filename)+4 > maxLen {
		return "..." + path[len(path)-maxLen+3:]
	}

	remaining := maxLen - len(filename) - 4
	prefix := strings.Join(parts[:len(parts)-1], "/")
	if remaining <= 0 {
		return ".../" + filename
	}
	return "..." + prefix[len(prefix)-remaining:] + "/" + filename
}

var _ Renderer = (*TUIRenderer)(nil)
