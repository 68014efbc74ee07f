// Package gitignore matches paths against .gitignore rules.
//
// Rules are translated into doublestar globs so that matching shares the same
// glob engine as repository include and exclude patterns. Nested .gitignore
// files are supported by attaching a base directory to each rule.
//
//	m := gitignore.New()
//	m.AddFromFile("/repo/.gitignore", "")
//	m.AddFromFile("/repo/docs/.gitignore", "docs")
//	m.Match("docs/draft.md", false)
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher holds parsed gitignore rules. It is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	glob    string
	base    string
	negate  bool
	dirOnly bool
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// AddPattern adds one gitignore line that applies from the repository root.
func (m *Matcher) AddPattern(line string) bool {
	return m.AddPatternWithBase(line, "")
}

// AddPatternWithBase adds one gitignore line scoped to base, a slash-separated
// directory relative to the repository root. It reports whether the line
// produced a rule; blank lines, comments and malformed globs do not.
func (m *Matcher) AddPatternWithBase(line, base string) bool {
	r, ok := parseRule(line)
	if !ok {
		return false
	}
	r.base = strings.Trim(filepath.ToSlash(base), "/")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
	return true
}

// AddFromFile reads every line of a .gitignore file into the matcher.
func (m *Matcher) AddFromFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open gitignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddPatternWithBase(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read gitignore file: %w", err)
	}
	return nil
}

// Len returns the number of rules held.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether path (relative to the repository root) is ignored.
// The last matching rule wins, so a later negation re-includes a path.
// A path below an ignored directory is ignored as well.
func (m *Matcher) Match(path string, isDir bool) bool {
	path = strings.Trim(filepath.ToSlash(path), "/")
	if path == "" {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for _, r := range m.rules {
		if r.matches(path, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(path string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(path, r.base+"/") {
			return false
		}
		path = path[len(r.base)+1:]
	}

	if (!r.dirOnly || isDir) && globMatch(r.glob, path) {
		return true
	}

	// Ancestors are always directories.
	for i := strings.LastIndexByte(path, '/'); i > 0; i = strings.LastIndexByte(path[:i], '/') {
		if globMatch(r.glob, path[:i]) {
			return true
		}
	}
	return false
}

func globMatch(glob, path string) bool {
	ok, err := doublestar.Match(glob, path)
	return err == nil && ok
}

func parseRule(line string) (rule, bool) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	p := strings.TrimSpace(line)
	if escapedSpace {
		p = strings.TrimSuffix(p, `\`) + " "
	}
	if p == "" || strings.HasPrefix(p, "#") {
		return rule{}, false
	}

	var r rule
	switch {
	case strings.HasPrefix(p, `\#`), strings.HasPrefix(p, `\!`):
		p = p[1:]
	case strings.HasPrefix(p, "!"):
		r.negate = true
		p = p[1:]
	}

	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}

	// A slash anywhere but the end anchors the pattern to its base.
	anchored := strings.Contains(p, "/")
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return rule{}, false
	}
	if !anchored && !strings.HasPrefix(p, "**") {
		p = "**/" + p
	}

	if !doublestar.ValidatePattern(p) {
		return rule{}, false
	}
	r.glob = p
	return r, true
}
