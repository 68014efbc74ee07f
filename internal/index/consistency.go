package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/vecsync/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissingVectors is a ledger entry with no stored points.
	InconsistencyMissingVectors InconsistencyType = iota
	// InconsistencyOrphanVectors is stored points whose file has no ledger entry.
	InconsistencyOrphanVectors
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingVectors:
		return "missing_vectors"
	case InconsistencyOrphanVectors:
		return "orphan_vectors"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected ledger/store mismatch.
type Inconsistency struct {
	Type   InconsistencyType `json:"-"`
	Kind   string            `json:"type"`
	FileID string            `json:"fileId,omitempty"`
	Path   string            `json:"path,omitempty"`
	Count  int               `json:"count,omitempty"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Repository      string          `json:"repository"`
	Checked         int             `json:"checked"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Duration        time.Duration   `json:"duration"`
}

// Consistent reports whether no issue was found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// ConsistencyChecker compares a repository's ledger with the vector store.
// Every ledger entry must have points, and every point must belong to a
// ledger entry.
type ConsistencyChecker struct {
	runner *Runner
}

// NewConsistencyChecker creates a checker using the runner's ledger and store.
func NewConsistencyChecker(r *Runner) *ConsistencyChecker {
	return &ConsistencyChecker{runner: r}
}

// Check counts points per ledger entry. Points are counted per fileId, so
// orphans are detected by total, not individually.
func (c *ConsistencyChecker) Check(ctx context.Context, repo string) (*CheckResult, error) {
	start := time.Now()
	r := c.runner
	collection := r.Collection()

	entries, err := r.ledger.GetAll(ctx, repo)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Repository: repo, Inconsistencies: []Inconsistency{}}
	accounted := 0
	for id, fp := range entries {
		n, err := r.store.Count(ctx, collection, store.Filter{Must: map[string]any{
			store.KeyFileID:     id,
			store.KeyRepository: repo,
		}})
		if err != nil {
			return nil, err
		}
		result.Checked++
		accounted += n
		if n == 0 {
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:   InconsistencyMissingVectors,
				Kind:   InconsistencyMissingVectors.String(),
				FileID: id,
				Path:   fp.FilePath,
			})
		}
	}

	total, err := r.store.Count(ctx, collection, store.Filter{Must: map[string]any{store.KeyRepository: repo}})
	if err != nil {
		return nil, err
	}
	if orphans := total - accounted; orphans > 0 {
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			Type:  InconsistencyOrphanVectors,
			Kind:  InconsistencyOrphanVectors.String(),
			Count: orphans,
		})
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Repair fixes detected inconsistencies.
//   - Missing: the ledger entry is removed so the next run indexes the file.
//   - Orphans: logged; a full reindex is needed to drop them.
func (c *ConsistencyChecker) Repair(ctx context.Context, repo string, issues []Inconsistency) (int, error) {
	r := c.runner
	fixed := 0
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyMissingVectors:
			if err := r.ledger.Remove(ctx, repo, issue.FileID); err != nil {
				return fixed, err
			}
			fixed++
		case InconsistencyOrphanVectors:
			r.logger.Warn("consistency_orphan_vectors",
				slog.String("repository", repo),
				slog.Int("count", issue.Count))
		}
	}
	if fixed > 0 {
		r.logger.Info("consistency_repaired", slog.String("repository", repo), slog.Int("ledger_entries_removed", fixed))
	}
	return fixed, nil
}
