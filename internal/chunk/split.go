// Package chunk splits file contents into size-bounded text chunks.
//
// Every strategy is greedy, single pass and order preserving. A chunk never
// exceeds the configured maximum unless it consists of a single unit (line,
// paragraph or word) that is larger than the maximum on its own.
package chunk

import (
	"fmt"
	"strings"
	"unicode"

	verrors "github.com/Aman-CERP/vecsync/internal/errors"
)

// DefaultMaxSize is used when a non-positive maximum is requested.
const DefaultMaxSize = 1000

// Strategy selects the unit that chunks are built from.
type Strategy string

const (
	StrategyLine      Strategy = "line"
	StrategyParagraph Strategy = "paragraph"
	StrategyWord      Strategy = "word"
)

// DefaultStrategy is used when a repository does not name one.
const DefaultStrategy = StrategyWord

// ParseStrategy resolves a configured strategy name. The empty string
// selects DefaultStrategy.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(name))); s {
	case "":
		return DefaultStrategy, nil
	case StrategyLine, StrategyParagraph, StrategyWord:
		return s, nil
	default:
		return "", verrors.ConfigurationError(fmt.Sprintf("unknown chunk strategy %q", name), nil).
			WithSuggestion("use one of: line, paragraph, word")
	}
}

// Separator is the string placed between units of one chunk.
func (s Strategy) Separator() string {
	switch s {
	case StrategyLine:
		return "\n"
	case StrategyParagraph:
		return "\n\n"
	default:
		return " "
	}
}

// unit is one indivisible piece of content with its byte span.
type unit struct {
	text       string
	start, end int
}

// piece is a chunk under construction, spanning content[start:end].
type piece struct {
	text       string
	start, end int
}

// Split breaks content into chunks of at most maxSize bytes.
//
// For the line and paragraph strategies, joining the result with
// Strategy.Separator reproduces content exactly. The word strategy collapses
// runs of whitespace into single spaces.
func Split(content string, strategy Strategy, maxSize int) []string {
	pieces := split(content, strategy, maxSize)
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.text
	}
	return out
}

func split(content string, strategy Strategy, maxSize int) []piece {
	if content == "" {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	var units []unit
	switch strategy {
	case StrategyLine:
		units = splitOn(content, "\n")
	case StrategyParagraph:
		units = splitOn(content, "\n\n")
	default:
		units = words(content)
	}
	return accumulate(units, strategy.Separator(), maxSize)
}

func accumulate(units []unit, sep string, maxSize int) []piece {
	var (
		out  []piece
		buf  strings.Builder
		open bool
		cur  piece
	)
	flush := func() {
		if open {
			cur.text = buf.String()
			out = append(out, cur)
			buf.Reset()
			open = false
		}
	}

	for _, u := range units {
		if open && buf.Len()+len(sep)+len(u.text) > maxSize {
			flush()
		}
		if open {
			buf.WriteString(sep)
		} else {
			cur = piece{start: u.start}
			open = true
		}
		buf.WriteString(u.text)
		cur.end = u.end
	}
	flush()
	return out
}

func splitOn(content, sep string) []unit {
	var units []unit
	offset := 0
	for {
		i := strings.Index(content[offset:], sep)
		if i < 0 {
			units = append(units, unit{text: content[offset:], start: offset, end: len(content)})
			return units
		}
		units = append(units, unit{text: content[offset : offset+i], start: offset, end: offset + i})
		offset += i + len(sep)
	}
}

func words(content string) []unit {
	var units []unit
	start := -1
	for i, r := range content {
		if unicode.IsSpace(r) {
			if start >= 0 {
				units = append(units, unit{text: content[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		units = append(units, unit{text: content[start:], start: start, end: len(content)})
	}
	return units
}
