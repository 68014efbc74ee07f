// Package scanner enumerates the files of a repository that are eligible for
// indexing. Enumeration applies include and exclude globs, .gitignore rules,
// sensitive file patterns, size limits and binary detection, and returns a
// path-sorted list that is stable for a fixed filesystem snapshot.
package scanner

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/vecsync/internal/config"
)

// FileInfo describes one enumerated file.
type FileInfo struct {
	Path     string // slash-separated, relative to the repository root
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string

	// ExtensionExcluded marks a file matched by the include globs whose
	// extension is excluded by a per-extension override. Such files are
	// observed but never indexed.
	ExtensionExcluded bool
}

// EnumerateOptions controls a single enumeration pass.
type EnumerateOptions struct {
	RootDir string

	// Include globs are unioned; empty means every file.
	Include []string

	// Exclude globs are subtracted. Matching directories are not descended.
	Exclude []string

	// ExcludeExtensions lists extensions (".png" or "png") flagged as
	// ExtensionExcluded.
	ExcludeExtensions []string

	RespectGitignore bool
	FollowSymlinks   bool

	// MaxFileSize in bytes; zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// OptionsFor returns the enumeration options of an effective repository.
func OptionsFor(repo config.Repository) EnumerateOptions {
	return EnumerateOptions{
		RootDir:           repo.Path,
		Include:           repo.Include,
		Exclude:           repo.Exclude,
		ExcludeExtensions: repo.ExcludedExtensions(),
		RespectGitignore:  repo.GitignoreEnabled(),
		MaxFileSize:       repo.MaxFileSize,
	}
}

// DefaultMaxFileSize is used when EnumerateOptions.MaxFileSize is zero.
const DefaultMaxFileSize = 1 << 20

// languages groups recognised extensions by the language recorded in each
// chunk's payload. Entries without a dot are exact base names.
var languages = map[string][]string{
	"markdown":   {".md", ".mdx", ".markdown"},
	"rst":        {".rst"},
	"asciidoc":   {".adoc", ".asciidoc"},
	"text":       {".txt"},
	"html":       {".html", ".htm"},
	"css":        {".css", ".scss", ".less"},
	"json":       {".json"},
	"yaml":       {".yaml", ".yml"},
	"toml":       {".toml"},
	"xml":        {".xml"},
	"go":         {".go"},
	"python":     {".py", ".pyi"},
	"javascript": {".js", ".jsx", ".mjs"},
	"typescript": {".ts", ".tsx"},
	"rust":       {".rs"},
	"java":       {".java"},
	"kotlin":     {".kt", ".kts"},
	"c":          {".c", ".h"},
	"cpp":        {".cpp", ".hpp", ".cc"},
	"ruby":       {".rb"},
	"shell":      {".sh", ".bash", ".zsh"},
	"sql":        {".sql"},
	"dockerfile": {"Dockerfile"},
	"makefile":   {"Makefile", "makefile", "GNUmakefile"},
}

var languageByKey = func() map[string]string {
	m := make(map[string]string)
	for lang, keys := range languages {
		for _, k := range keys {
			m[k] = lang
		}
	}
	return m
}()

// DetectLanguage returns the language for a path, or "" when unknown.
// Exact base names such as Dockerfile win over extensions.
func DetectLanguage(path string) string {
	if lang, ok := languageByKey[filepath.Base(path)]; ok {
		return lang
	}
	return languageByKey[strings.ToLower(filepath.Ext(path))]
}
