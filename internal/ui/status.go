package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// RepositoryStatus describes one configured repository.
type RepositoryStatus struct {
	Name          string        `json:"name"`
	Path          string        `json:"path"`
	WatchMode     bool          `json:"watchMode"`
	WatchInterval time.Duration `json:"watchInterval"`
	LedgerEntries int           `json:"ledgerEntries"`
	Vectors       int           `json:"vectors"`
	Issues        []string      `json:"issues,omitempty"`
	Verified      bool          `json:"verified,omitempty"`
	LastRun       *LastRun      `json:"lastRun,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// LastRun summarizes the most recent indexing run of a repository.
type LastRun struct {
	At       time.Time `json:"at"`
	Trigger  string    `json:"trigger"`
	Files    int       `json:"files"`
	Deleted  int       `json:"deleted"`
	Degraded bool      `json:"degraded,omitempty"`
}

// StatusInfo contains index health information.
type StatusInfo struct {
	ConfigPath   string             `json:"configPath"`
	Backend      string             `json:"backend"`
	Collection   string             `json:"collection"`
	StoreSize    int64              `json:"storeSize,omitempty"`
	Ledger       string             `json:"ledger"`
	Embedder     string             `json:"embedder"`
	Model        string             `json:"model"`
	EmbedderUp   bool               `json:"embedderAvailable"`
	Repositories []RepositoryStatus `json:"repositories"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("vecsync status"))

	_, _ = fmt.Fprintf(r.out, "  Config:       %s\n", info.ConfigPath)
	store := fmt.Sprintf("%s (collection %s)", info.Backend, info.Collection)
	if info.StoreSize > 0 {
		store += ", " + FormatBytes(info.StoreSize)
	}
	_, _ = fmt.Fprintf(r.out, "  Vector store: %s\n", store)
	_, _ = fmt.Fprintf(r.out, "  Ledger:       %s\n", info.Ledger)

	state := r.styles.Success.Render("ready")
	if !info.EmbedderUp {
		state = r.styles.Warning.Render("offline")
	}
	_, _ = fmt.Fprintf(r.out, "  Embedder:     %s %s [%s]\n\n", info.Embedder, info.Model, state)

	if len(info.Repositories) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Dim.Render("  No repositories configured. Add one with: vecsync repo add <name> <path>"))
		return nil
	}

	for _, repo := range info.Repositories {
		_, _ = fmt.Fprintf(r.out, "  %s  %s\n", r.styles.Active.Render(repo.Name), r.styles.Label.Render(repo.Path))
		if repo.Error != "" {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Error.Render(repo.Error))
			continue
		}
		_, _ = fmt.Fprintf(r.out, "    Files: %d  Vectors: %d\n", repo.LedgerEntries, repo.Vectors)
		if repo.WatchMode {
			_, _ = fmt.Fprintf(r.out, "    Watch: every %s\n", repo.WatchInterval)
		}
		if lr := repo.LastRun; lr != nil {
			line := fmt.Sprintf("    Last run: %s (%s, %d files, %d deleted)",
				lr.At.Local().Format("2006-01-02 15:04:05"), lr.Trigger, lr.Files, lr.Deleted)
			if lr.Degraded {
				line += " " + r.styles.Warning.Render("degraded")
			}
			_, _ = fmt.Fprintln(r.out, line)
		} else {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Dim.Render("Never indexed"))
		}
		switch {
		case len(repo.Issues) > 0:
			for _, issue := range repo.Issues {
				_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Warning.Render("⚠ "+issue))
			}
		case repo.Verified:
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Success.Render("✓ ledger and store agree"))
		}
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
