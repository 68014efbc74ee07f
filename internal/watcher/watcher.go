package watcher

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a file appeared.
	OpCreate Operation = iota
	// OpModify indicates a file's hash or mtime changed.
	OpModify
	// OpDelete indicates a file vanished or stopped being eligible.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents one detected difference between two snapshots.
type FileEvent struct {
	// Path is relative to the repository root, slash separated.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// ChangeFunc is called from inside a tick when the snapshot changed.
// changed holds created and modified paths, removed holds vanished ones.
// The next tick does not start until it returns. A non-nil error keeps the
// paths pending, and they are passed again on the next tick.
type ChangeFunc func(ctx context.Context, changed, removed []string) error

const (
	// DefaultInterval is used when no interval is configured.
	DefaultInterval = 30 * time.Second

	// MinInterval is the shortest accepted polling interval.
	MinInterval = 100 * time.Millisecond
)

var (
	// ErrAlreadyWatching is returned when a repository already has a watcher.
	ErrAlreadyWatching = errors.New("repository is already being watched")

	// ErrNotWatching is returned when stopping a repository without a watcher.
	ErrNotWatching = errors.New("repository is not being watched")
)

// splitPending partitions pending operations into sorted changed and
// removed paths.
func splitPending(pending map[string]Operation) (changed, removed []string) {
	for path, op := range pending {
		if op == OpDelete {
			removed = append(removed, path)
		} else {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	sort.Strings(removed)
	return changed, removed
}
