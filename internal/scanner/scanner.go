package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
	"github.com/Aman-CERP/vecsync/internal/gitignore"
)

// ignoreCacheSize bounds the number of parsed .gitignore files kept between
// passes. Watchers re-enumerate on every tick, so reparsing is avoided unless
// a file's size or mtime changes.
const ignoreCacheSize = 1000

// binarySniffLen is how much of a file is inspected for NUL bytes.
const binarySniffLen = 512

// sensitivePatterns are never enumerated, whatever the include globs say.
var sensitivePatterns = []string{
	"**/.env",
	"**/.env.*",
	"**/*.pem",
	"**/*.key",
	"**/*.p12",
	"**/*.pfx",
	"**/*credentials*",
	"**/*secrets*",
	"**/.netrc",
	"**/.npmrc",
	"**/.pypirc",
	"**/id_rsa",
	"**/id_dsa",
	"**/id_ecdsa",
	"**/id_ed25519",
}

// Scanner enumerates repository files. It is safe for concurrent use.
type Scanner struct {
	ignores *lru.Cache[string, ignoreFile]
	logger  *slog.Logger
}

type ignoreFile struct {
	lines   []string
	size    int64
	modTime time.Time
}

// New creates a Scanner.
func New() (*Scanner, error) {
	cache, err := lru.New[string, ignoreFile](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}
	return &Scanner{ignores: cache, logger: slog.Default()}, nil
}

// WithLogger sets the logger used for skipped-file diagnostics.
func (s *Scanner) WithLogger(logger *slog.Logger) *Scanner {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// InvalidateGitignoreCache drops every cached .gitignore file.
func (s *Scanner) InvalidateGitignoreCache() {
	s.ignores.Purge()
}

// Enumerate walks opts.RootDir and returns the eligible files sorted by path.
// Directories are never returned. An invalid glob or a missing root is a
// configuration error; unreadable entries below the root are skipped.
func (s *Scanner) Enumerate(ctx context.Context, opts EnumerateOptions) ([]*FileInfo, error) {
	root, err := resolveRoot(opts.RootDir)
	if err != nil {
		return nil, err
	}
	if err := ValidatePatterns(opts.Include); err != nil {
		return nil, err
	}
	if err := ValidatePatterns(opts.Exclude); err != nil {
		return nil, err
	}

	w := &walk{
		scanner:     s,
		ctx:         ctx,
		root:        root,
		opts:        opts,
		include:     opts.Include,
		excludedExt: extensionSet(opts.ExcludeExtensions),
		maxSize:     opts.MaxFileSize,
	}
	if len(w.include) == 0 {
		w.include = []string{"**"}
	}
	if w.maxSize <= 0 {
		w.maxSize = DefaultMaxFileSize
	}
	if opts.RespectGitignore {
		w.ignore = gitignore.New()
	}

	if err := filepath.WalkDir(root, w.visit); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, verrors.EnumerationError(root, err)
	}

	sort.Slice(w.files, func(i, j int) bool { return w.files[i].Path < w.files[j].Path })
	return w.files, nil
}

// ValidatePatterns returns a pattern error for the first malformed glob.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if p == "" || !doublestar.ValidatePattern(p) {
			return verrors.PatternError(p, nil)
		}
	}
	return nil
}

func resolveRoot(dir string) (string, error) {
	if dir == "" {
		return "", verrors.ConfigurationError("repository root is empty", nil)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", verrors.ConfigurationError(fmt.Sprintf("cannot resolve %s", dir), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", verrors.ConfigurationError(fmt.Sprintf("repository root %s is not accessible", abs), err)
	}
	if !info.IsDir() {
		return "", verrors.ConfigurationError(fmt.Sprintf("repository root %s is not a directory", abs), nil)
	}
	return abs, nil
}

func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return set
}

// walk is the state of one Enumerate call.
type walk struct {
	scanner     *Scanner
	ctx         context.Context
	root        string
	opts        EnumerateOptions
	include     []string
	excludedExt map[string]struct{}
	maxSize     int64
	ignore      *gitignore.Matcher
	files       []*FileInfo
}

func (w *walk) visit(path string, d fs.DirEntry, walkErr error) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if walkErr != nil {
		if path == w.root {
			return walkErr
		}
		w.scanner.logger.Debug("enumerate_entry_skipped", slog.String("path", path), slog.String("error", walkErr.Error()))
		if d != nil && d.IsDir() {
			return fs.SkipDir
		}
		return nil
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return nil
	}
	rel = filepath.ToSlash(rel)

	if d.IsDir() {
		if rel == "." {
			w.loadIgnore(path, "")
			return nil
		}
		if d.Name() == ".git" || w.prunedDir(rel) {
			return fs.SkipDir
		}
		w.loadIgnore(path, rel)
		return nil
	}

	info, ok := w.regularFile(path, d)
	if !ok {
		return nil
	}
	if !matchAny(w.include, rel) || matchAny(w.opts.Exclude, rel) || matchAny(sensitivePatterns, rel) {
		return nil
	}
	if w.ignore != nil && w.ignore.Match(rel, false) {
		return nil
	}
	if info.Size() > w.maxSize {
		w.scanner.logger.Debug("enumerate_file_too_large",
			verrors.LogArgs(verrors.FileTooLargeError(rel, info.Size(), w.maxSize))...)
		return nil
	}

	fi := &FileInfo{
		Path:     rel,
		AbsPath:  path,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: DetectLanguage(rel),
	}

	if _, skip := w.excludedExt[strings.ToLower(filepath.Ext(rel))]; skip {
		fi.ExtensionExcluded = true
	} else if isBinary(path) {
		return nil
	}

	w.files = append(w.files, fi)
	return nil
}

// regularFile resolves d to the file info of a regular file, following a
// symlink only when configured. Symlinked directories are never followed.
func (w *walk) regularFile(path string, d fs.DirEntry) (fs.FileInfo, bool) {
	if d.Type()&fs.ModeSymlink != 0 {
		if !w.opts.FollowSymlinks {
			return nil, false
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil, false
		}
		return info, true
	}
	if !d.Type().IsRegular() {
		return nil, false
	}
	info, err := d.Info()
	if err != nil {
		return nil, false
	}
	return info, true
}

func (w *walk) prunedDir(rel string) bool {
	if w.ignore != nil && w.ignore.Match(rel, true) {
		return true
	}
	for _, p := range w.opts.Exclude {
		if globMatch(p, rel) {
			return true
		}
		if base, ok := strings.CutSuffix(p, "/**"); ok && globMatch(base, rel) {
			return true
		}
	}
	return false
}

// loadIgnore adds dir/.gitignore to the walk's matcher, scoped to rel.
// WalkDir visits parents first, so deeper rules are appended later and win.
func (w *walk) loadIgnore(dir, rel string) {
	if w.ignore == nil {
		return
	}
	if rel == "." {
		rel = ""
	}
	lines, ok := w.scanner.ignoreLines(filepath.Join(dir, ".gitignore"))
	if !ok {
		return
	}
	for _, line := range lines {
		w.ignore.AddPatternWithBase(line, rel)
	}
}

// ignoreLines returns the lines of a .gitignore file through the cache.
func (s *Scanner) ignoreLines(path string) ([]string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		s.ignores.Remove(path)
		return nil, false
	}
	if cached, ok := s.ignores.Get(path); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.lines, true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("gitignore_unreadable", slog.String("path", path), slog.String("error", err.Error()))
		return nil, false
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	s.ignores.Add(path, ignoreFile{lines: lines, size: info.Size(), modTime: info.ModTime()})
	return lines, true
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if globMatch(p, rel) {
			return true
		}
	}
	return false
}

func globMatch(pattern, rel string) bool {
	ok, err := doublestar.Match(pattern, rel)
	return err == nil && ok
}

// isBinary reports whether the first bytes of a file contain a NUL. Read
// errors report false so the file stays observed and the reader surfaces
// the failure later.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, binarySniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
