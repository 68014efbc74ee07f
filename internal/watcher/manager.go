package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/vecsync/internal/config"
	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/scanner"
)

// Handle is an active watcher registered with a Manager.
type Handle struct {
	Name      string
	Interval  time.Duration
	StartedAt time.Time

	w *PollingWatcher
}

// Done is closed when the watcher's loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.w.Done() }

// Manager owns at most one watcher per repository name.
type Manager struct {
	scanner *scanner.Scanner
	logger  *slog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager creates a Manager. Watchers share sc, and with it the parsed
// .gitignore cache.
func NewManager(sc *scanner.Scanner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scanner: sc, logger: logger, handles: make(map[string]*Handle)}
}

// Start begins watching repo, an effective repository configuration. The
// watcher stops when ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context, repo config.Repository, onChange ChangeFunc) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handles[repo.Name]; ok {
		return nil, verrors.New(verrors.ErrCodeAlreadyWatching,
			fmt.Sprintf("repository %q is already being watched", repo.Name), ErrAlreadyWatching)
	}

	w, err := NewPollingWatcher(Config{
		Name:     repo.Name,
		Interval: repo.WatchInterval,
		Options:  scanner.OptionsFor(repo),
		Scanner:  m.scanner,
		OnChange: onChange,
		Logger:   m.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}

	h := &Handle{Name: repo.Name, Interval: w.Interval(), StartedAt: time.Now(), w: w}
	m.handles[repo.Name] = h

	go func() {
		<-w.Done()
		m.forget(h)
	}()
	return h, nil
}

// forget removes h if it is still the registered handle for its name.
func (m *Manager) forget(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handles[h.Name] == h {
		delete(m.handles, h.Name)
	}
}

// Stop stops the watcher for name. An in-flight tick finishes first, but
// Stop does not wait for it.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	h, ok := m.handles[name]
	if ok {
		delete(m.handles, name)
	}
	m.mu.Unlock()

	if !ok {
		return verrors.ValidationError(fmt.Sprintf("repository %q is not being watched", name), ErrNotWatching)
	}
	h.w.Stop()
	return nil
}

// Active returns the watched repository names, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.handles))
	for name := range m.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the handle for name, or nil.
func (m *Manager) Get(name string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[name]
}

// StopAll stops every watcher and waits for their loops to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.w.Stop()
	}
	for _, h := range handles {
		<-h.w.Done()
	}
}
