package ingestion

import (
	"strings"
	"unicode"
)

// Chunk is one passage cut from a document. Start and End are rune offsets
// into the loaded text, so Text == string([]rune(text)[Start:End]).
type Chunk struct {
	// Text is the exact passage text, untrimmed.
	Text string
	// Start is the rune offset of the first character.
	Start int
	// End is the rune offset one past the last character.
	End int
}

// Splitter cuts text into overlapping passages of at most Size runes.
//
// A cut is placed at the latest paragraph break inside the window, falling
// back to a sentence end, a line break, a space and finally a hard cut. The
// next passage starts Overlap runes before the cut, moved forward to the
// start of a word. Because every passage is an exact substring, stitching
// them together with the overlap removed reproduces the input.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter returns a Splitter. A non-positive size defaults to 1000; an
// overlap outside [0, size) is reset to size/5.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Splitter{size: size, overlap: overlap}
}

// Split returns the passages of text in order. Empty or whitespace-only text
// has no passages.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var chunks []Chunk
	start := 0
	for {
		limit := start + s.size
		if limit >= n {
			chunks = append(chunks, Chunk{Text: string(runes[start:n]), Start: start, End: n})
			return chunks
		}

		end := s.cut(runes, start, limit)
		chunks = append(chunks, Chunk{Text: string(runes[start:end]), Start: start, End: end})
		start = s.nextStart(runes, start, end)
	}
}

// cut picks the end offset for the passage starting at start. The result is
// always in (start+overlap, limit] so the following passage makes progress.
func (s *Splitter) cut(runes []rune, start, limit int) int {
	minEnd := start + max(s.overlap+1, s.size/2)
	if minEnd > limit {
		minEnd = limit
	}

	for _, isBoundary := range boundaryTiers {
		for p := limit; p >= minEnd; p-- {
			if isBoundary(runes, p) {
				return p
			}
		}
	}
	return limit
}

// nextStart returns where the passage after [start, end) begins.
func (s *Splitter) nextStart(runes []rune, start, end int) int {
	if s.overlap == 0 {
		return end
	}
	candidate := max(end-s.overlap, start+1)
	for q := candidate; q < end; q++ {
		if unicode.IsSpace(runes[q-1]) && !unicode.IsSpace(runes[q]) {
			return q
		}
	}
	return candidate
}

// boundaryTiers lists cut-point tests from most to least preferred. Each
// reports whether a passage may end just before runes[p].
var boundaryTiers = []func(runes []rune, p int) bool{
	// blank line
	func(r []rune, p int) bool {
		return p >= 2 && r[p-1] == '\n' && r[p-2] == '\n'
	},
	// sentence end followed by whitespace, or a Bangla danda
	func(r []rune, p int) bool {
		if p >= 1 && r[p-1] == '।' {
			return true
		}
		return p >= 2 && unicode.IsSpace(r[p-1]) && strings.ContainsRune(".!?।", r[p-2])
	},
	// line break
	func(r []rune, p int) bool {
		return p >= 1 && r[p-1] == '\n'
	},
	// word break
	func(r []rune, p int) bool {
		return p >= 1 && unicode.IsSpace(r[p-1])
	},
}
