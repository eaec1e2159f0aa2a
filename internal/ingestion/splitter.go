package ingestion

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters, measured in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// separators are tried in order: paragraphs, lines, words, characters.
var separators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into chunks of at most Size characters, preferring
// paragraph, then line, then word boundaries. Consecutive chunks share up to
// Overlap characters so context at a boundary is not lost.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter returns a Splitter with defaults applied. An overlap that is
// not smaller than size is reduced to size/10.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &Splitter{Size: size, Overlap: overlap}
}

// Split returns the chunks of text in document order. Chunks are trimmed of
// surrounding whitespace and never empty.
func (s *Splitter) Split(text string) []string {
	return s.split(text, separators)
}

func (s *Splitter) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, c := range seps {
		if c == "" || strings.Contains(text, c) {
			sep, rest = c, seps[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range strings.Split(text, sep) {
		if piece == "" {
			continue
		}
		if utf8.RuneCountInString(piece) < s.Size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, s.merge(small, sep)...)
			small = nil
		}
		if len(rest) == 0 {
			if c := strings.TrimSpace(piece); c != "" {
				out = append(out, c)
			}
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(small) > 0 {
		out = append(out, s.merge(small, sep)...)
	}
	return out
}

// merge packs pieces joined by sep into chunks no longer than Size, carrying
// up to Overlap characters of trailing pieces into the next chunk.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	joinCost := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}

	var chunks, window []string
	total := 0
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n+joinCost(len(window)) > s.Size && len(window) > 0 {
			if c := strings.TrimSpace(strings.Join(window, sep)); c != "" {
				chunks = append(chunks, c)
			}
			for total > s.Overlap || (total > 0 && total+n+joinCost(len(window)) > s.Size) {
				total -= utf8.RuneCountInString(window[0]) + joinCost(len(window)-1)
				window = window[1:]
			}
		}
		total += n + joinCost(len(window))
		window = append(window, p)
	}
	if c := strings.TrimSpace(strings.Join(window, sep)); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}
