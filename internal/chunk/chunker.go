package chunk

import (
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Chunk is one embeddable piece of a file.
type Chunk struct {
	FileID        string
	RepositoryID  string
	Text          string
	SequenceIndex int
	TotalChunks   int
	SourcePath    string // relative to the repository root
	Language      string
	Title         string
	URL           string
	Domain        string
	LineStart     int // 1-indexed
	LineEnd       int // inclusive
}

// FileInput is a file to be chunked.
type FileInput struct {
	FileID       string
	RepositoryID string
	Path         string // relative, slash separated
	AbsPath      string
	Language     string
	Content      string
}

// Chunker turns files into chunks using one strategy and size limit.
type Chunker struct {
	strategy Strategy
	maxSize  int
}

// New creates a Chunker. A non-positive maxSize selects DefaultMaxSize.
func New(strategy Strategy, maxSize int) *Chunker {
	if strategy == "" {
		strategy = DefaultStrategy
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Chunker{strategy: strategy, maxSize: maxSize}
}

// Strategy returns the configured strategy.
func (c *Chunker) Strategy() Strategy { return c.strategy }

// MaxSize returns the configured maximum chunk size in bytes.
func (c *Chunker) MaxSize() int { return c.maxSize }

// ChunkFile splits a file and decorates each piece with its position and
// file-level metadata. Whitespace-only pieces are dropped, so an empty file
// yields no chunks.
func (c *Chunker) ChunkFile(f FileInput) []*Chunk {
	pieces := split(f.Content, c.strategy, c.maxSize)
	if len(pieces) == 0 {
		return nil
	}

	lines := lineOffsets(f.Content)
	title := Title(f.Path, f.Language, f.Content)
	uri := FileURL(f.AbsPath)

	chunks := make([]*Chunk, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p.text) == "" {
			continue
		}
		chunks = append(chunks, &Chunk{
			FileID:       f.FileID,
			RepositoryID: f.RepositoryID,
			Text:         p.text,
			SourcePath:   f.Path,
			Language:     f.Language,
			Title:        title,
			URL:          uri,
			Domain:       f.RepositoryID,
			LineStart:    lineAt(lines, p.start),
			LineEnd:      lineAt(lines, max(p.start, p.end-1)),
		})
	}
	for i, ch := range chunks {
		ch.SequenceIndex = i
		ch.TotalChunks = len(chunks)
	}
	return chunks
}

// lineOffsets returns the byte offset at which each line starts.
func lineOffsets(content string) []int {
	offsets := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			offsets = append(offsets, i+1)
		}
	}
	return offsets
}

// lineAt maps a byte offset to its 1-indexed line number.
func lineAt(offsets []int, pos int) int {
	return sort.Search(len(offsets), func(i int) bool { return offsets[i] > pos })
}

// FileURL returns the file:// URI of an absolute path.
func FileURL(abs string) string {
	if abs == "" {
		return ""
	}
	p := filepath.ToSlash(abs)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

var (
	headingPattern     = regexp.MustCompile(`^#{1,6}[ \t]+(.+?)[ \t#]*$`)
	frontmatterPattern = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n`)
)

// Title picks a display title for a file: a frontmatter title or the first
// heading for markdown, otherwise the file's base name.
func Title(relPath, language, content string) string {
	if language == "markdown" {
		if t := markdownTitle(content); t != "" {
			return t
		}
	}
	return path.Base(filepath.ToSlash(relPath))
}

func markdownTitle(content string) string {
	if m := frontmatterPattern.FindStringSubmatch(content); m != nil {
		var fm struct {
			Title string `yaml:"title"`
		}
		if err := yaml.Unmarshal([]byte(m[1]), &fm); err == nil && strings.TrimSpace(fm.Title) != "" {
			return strings.TrimSpace(fm.Title)
		}
		content = content[len(m[0]):]
	}

	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingPattern.FindStringSubmatch(trimmed); m != nil {
			return m[1]
		}
	}
	return ""
}
