package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"ragchat/internal/domain"
)

// splitLevel cuts text into pieces that keep their trailing separator, so
// joining the pieces gives back the input.
type splitLevel struct {
	name  string
	split func(text string) []string
}

// RecursiveChunker splits documents into overlapping chunks of at most
// chunkSize characters, preferring paragraph, then line, then sentence,
// then word boundaries and cutting raw characters only as a last resort.
type RecursiveChunker struct {
	chunkSize int
	overlap   int
	levels    []splitLevel
}

func NewRecursiveChunker(chunkSize, overlap int) (*RecursiveChunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, overlap)
	}

	return &RecursiveChunker{
		chunkSize: chunkSize,
		overlap:   overlap,
		levels: []splitLevel{
			{"paragraph", splitAfter("\n\n")},
			{"line", splitAfter("\n")},
			{"sentence", splitSentences},
			{"word", splitWords},
			{"char", splitChars},
		},
	}, nil
}

// Split chunks every document in order. Chunks inherit a copy of their
// document's metadata and carry no ID yet.
func (c *RecursiveChunker) Split(docs []domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	for _, doc := range docs {
		for _, text := range c.SplitText(doc.Content) {
			chunks = append(chunks, domain.Chunk{
				Text:     text,
				Metadata: domain.CloneMetadata(doc.Metadata),
			})
		}
	}
	return chunks
}

// SplitText chunks a single text. Blank input yields no chunks.
func (c *RecursiveChunker) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.splitFrom(text, 0)
}

func (c *RecursiveChunker) splitFrom(text string, level int) []string {
	var pieces []string
	next := len(c.levels)
	for i := level; i < len(c.levels); i++ {
		p := c.levels[i].split(text)
		if len(p) > 1 || i == len(c.levels)-1 {
			pieces = p
			next = i + 1
			break
		}
	}

	var out, fitting []string
	for _, p := range pieces {
		if runeLen(p) <= c.chunkSize {
			fitting = append(fitting, p)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, c.merge(fitting)...)
			fitting = nil
		}
		if next < len(c.levels) {
			out = append(out, c.splitFrom(p, next)...)
		} else if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(fitting) > 0 {
		out = append(out, c.merge(fitting)...)
	}
	return out
}

// merge packs pieces greedily into chunks of at most chunkSize characters.
// When a chunk is emitted, its trailing pieces totalling no more than the
// overlap are carried into the next one.
func (c *RecursiveChunker) merge(pieces []string) []string {
	var out, current []string
	total := 0

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > c.chunkSize && len(current) > 0 {
			if s := strings.TrimSpace(strings.Join(current, "")); s != "" {
				out = append(out, s)
			}
			for total > c.overlap || (total+n > c.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}

	if s := strings.TrimSpace(strings.Join(current, "")); s != "" {
		out = append(out, s)
	}
	return out
}

func splitAfter(sep string) func(string) []string {
	return func(text string) []string {
		parts := strings.SplitAfter(text, sep)
		out := parts[:0]
		for _, p := range parts {
			if p != "" {
				out = append(out, p)
			}
		}
		return out
	}
}

// splitSentences cuts after '.', '!' or '?' followed by whitespace; the
// whitespace stays with the sentence it ends.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r2) {
				break
			}
			j += s2
		}
		if j == i || j == len(text) {
			continue
		}
		out = append(out, text[start:j])
		start = j
		i = j
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// splitWords cuts after every run of whitespace.
func splitWords(text string) []string {
	var out []string
	start := 0
	inSpace := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace {
			out = append(out, text[start:i])
			start = i
			inSpace = false
		}
	}
	return append(out, text[start:])
}

func splitChars(text string) []string {
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
