package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/ledger"
	"github.com/Aman-CERP/vecsync/internal/progress"
	"github.com/Aman-CERP/vecsync/internal/scanner"
)

// FileChange is one file in a Classification. Deleted entries carry only
// FileID and Path.
type FileChange struct {
	FileID   string
	Path     string
	AbsPath  string
	Language string
	Content  string
	Hash     string
	ModTime  time.Time

	// Previous is the ledger entry before this pass, nil for new files.
	Previous *ledger.Fingerprint
}

// Classification partitions one enumeration pass against the ledger.
type Classification struct {
	New       []FileChange
	Modified  []FileChange
	Unchanged []FileChange
	Deleted   []FileChange

	// Skipped counts extension-excluded, unreadable and never-indexed empty files.
	Skipped int
	// Refreshed counts unchanged files whose ledger mtime was updated.
	Refreshed int
}

// Changed returns New followed by Modified.
func (c *Classification) Changed() []FileChange {
	out := make([]FileChange, 0, len(c.New)+len(c.Modified))
	out = append(out, c.New...)
	return append(out, c.Modified...)
}

// Classifier diffs enumerated files against the ledger.
type Classifier struct {
	ledger   ledger.Ledger
	logger   *slog.Logger
	readFile func(string) ([]byte, error)
}

// NewClassifier creates a classifier reading fingerprints from l.
func NewClassifier(l ledger.Ledger, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{ledger: l, logger: logger, readFile: os.ReadFile}
}

// Classify sorts files into new, modified, unchanged and deleted.
//
// A file whose ledger mtime matches is unchanged without being read. Any
// other file is hashed; an unchanged hash refreshes the ledger mtime. Every
// enumerated file counts as observed, including excluded and unreadable
// ones, so only files that vanished from the tree (or became empty) are
// reported as deleted.
func (c *Classifier) Classify(ctx context.Context, repositoryID string, files []*scanner.FileInfo, reporter *progress.Reporter) (*Classification, error) {
	existing, err := c.ledger.GetAll(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger for %s: %w", repositoryID, err)
	}

	result := &Classification{}
	observed := make(map[string]struct{}, len(files))

	for i, f := range files {
		if i%50 == 0 {
			reporter.Phase(progress.PhaseClassify, i, len(files), fmt.Sprintf("Checking %d files", len(files)))
		}

		fileID := ledger.FileID(repositoryID, f.Path)
		observed[fileID] = struct{}{}

		if f.ExtensionExcluded {
			result.Skipped++
			continue
		}

		var prev *ledger.Fingerprint
		if fp, ok := existing[fileID]; ok {
			prev = &fp
		}
		mtime := f.ModTime.UnixMilli()

		change := FileChange{
			FileID:   fileID,
			Path:     f.Path,
			AbsPath:  f.AbsPath,
			Language: f.Language,
			ModTime:  f.ModTime,
			Previous: prev,
		}

		if prev != nil && prev.LastModified == mtime {
			change.Hash = prev.ContentHash
			result.Unchanged = append(result.Unchanged, change)
			continue
		}

		content, err := c.readFile(f.AbsPath)
		if err != nil {
			result.Skipped++
			se := verrors.EnumerationError(f.Path, err)
			c.logger.Warn("classify_file_unreadable", append(verrors.LogArgs(se), slog.String("repository", repositoryID))...)
			continue
		}

		if strings.TrimSpace(string(content)) == "" {
			if prev != nil {
				result.Deleted = append(result.Deleted, FileChange{FileID: fileID, Path: f.Path, Previous: prev})
			} else {
				result.Skipped++
			}
			continue
		}

		change.Content = string(content)
		change.Hash = ledger.HashContent(content)

		switch {
		case prev == nil:
			result.New = append(result.New, change)
		case prev.ContentHash == change.Hash:
			result.Unchanged = append(result.Unchanged, change)
			c.refresh(ctx, *prev, f.Path, mtime)
			result.Refreshed++
		default:
			result.Modified = append(result.Modified, change)
		}
	}

	for id, fp := range existing {
		if _, ok := observed[id]; ok {
			continue
		}
		fp := fp
		result.Deleted = append(result.Deleted, FileChange{FileID: id, Path: fp.FilePath, Previous: &fp})
	}
	sort.Slice(result.Deleted, func(i, j int) bool { return result.Deleted[i].Path < result.Deleted[j].Path })

	reporter.Phase(progress.PhaseClassify, len(files), len(files),
		fmt.Sprintf("%d new, %d modified, %d deleted", len(result.New), len(result.Modified), len(result.Deleted)))
	return result, nil
}

// refresh records a new mtime for a file whose content is unchanged. A
// failure only costs a re-hash on the next pass.
func (c *Classifier) refresh(ctx context.Context, prev ledger.Fingerprint, path string, mtime int64) {
	prev.LastModified = mtime
	prev.FilePath = path
	if err := c.ledger.Set(ctx, prev); err != nil {
		c.logger.Warn("classify_mtime_refresh_failed",
			slog.String("repository", prev.RepositoryID),
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}
