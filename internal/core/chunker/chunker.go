// Package chunker splits page text into overlapping, size-bounded fragments.
//
// Lengths are measured in runes. A window opens at some offset s and may
// extend to s+Size; it is closed at the coarsest natural separator found in
// the window (paragraph, then sentence or line, then whitespace) and only
// hard-cut at the size boundary when the window holds no separator at all.
// The next window opens Overlap runes before the previous cut, so adjacent
// fragments of one page always share exactly Overlap runes.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"unicode"

	"github.com/markdave123-py/pdfindex/internal/core"
	"github.com/markdave123-py/pdfindex/internal/models"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// separator classes, coarsest first
var separatorClasses = [][][]rune{
	runesOf("\n\n"),
	runesOf(". ", "! ", "? ", "\n"),
	runesOf(" ", "\t"),
}

// Settings configures fragment size and overlap.
type Settings struct {
	Size    int
	Overlap int
}

func DefaultSettings() Settings {
	return Settings{Size: DefaultSize, Overlap: DefaultOverlap}
}

func (s Settings) Validate() error {
	if s.Size <= 0 {
		return fmt.Errorf("%w: chunk size %d must be greater than zero", core.ErrInvalidChunkConfig, s.Size)
	}
	if s.Overlap < 0 {
		return fmt.Errorf("%w: overlap %d cannot be negative", core.ErrInvalidChunkConfig, s.Overlap)
	}
	if s.Overlap >= s.Size {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", core.ErrInvalidChunkConfig, s.Overlap, s.Size)
	}
	return nil
}

// Splitter is a validated, reusable chunking policy.
type Splitter struct {
	settings Settings
}

func New(settings Settings) (*Splitter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Splitter{settings: settings}, nil
}

// Split chunks pages with the given parameters.
func Split(pages []models.PageUnit, chunkSize, overlap int) ([]models.Fragment, error) {
	s, err := New(Settings{Size: chunkSize, Overlap: overlap})
	if err != nil {
		return nil, err
	}
	return s.Split(pages), nil
}

func (s *Splitter) Settings() Settings {
	return s.settings
}

// Split returns the fragments of all pages in page order. Fragments never
// cross a page boundary.
func (s *Splitter) Split(pages []models.PageUnit) []models.Fragment {
	fragments := make([]models.Fragment, 0, len(pages))
	for pi := range pages {
		page := &pages[pi]
		text := []rune(page.Text)
		for _, span := range s.windows(text) {
			chunkText := string(text[span[0]:span[1]])
			fragments = append(fragments, models.Fragment{
				Index:      len(fragments),
				Text:       chunkText,
				CharStart:  span[0],
				SourcePage: page.PageIndex,
				Hash:       hashText(chunkText),
				Metadata:   maps.Clone(page.Metadata),
			})
		}
	}
	return fragments
}

// windows returns the [start, end) rune spans of the fragments of one page.
func (s *Splitter) windows(text []rune) [][2]int {
	lo, hi := 0, len(text)
	for lo < hi && unicode.IsSpace(text[lo]) {
		lo++
	}
	for hi > lo && unicode.IsSpace(text[hi-1]) {
		hi--
	}
	if lo == hi {
		return nil
	}

	var spans [][2]int
	start := lo
	for {
		limit := start + s.settings.Size
		if limit >= hi {
			return append(spans, [2]int{start, hi})
		}
		end := s.cut(text, start, limit)
		spans = append(spans, [2]int{start, end})
		start = end - s.settings.Overlap
	}
}

// cut picks the end of the window opened at start. The result lies in
// (start+Overlap, limit] so the following window always advances.
func (s *Splitter) cut(text []rune, start, limit int) int {
	minCut := start + s.settings.Overlap + 1
	preferred := max(minCut, start+s.settings.Size/2)

	fallback := -1
	for _, class := range separatorClasses {
		c := lastCut(text, start, minCut, limit, class)
		if c < 0 {
			continue
		}
		if c >= preferred {
			return c
		}
		fallback = max(fallback, c)
	}
	if fallback >= 0 {
		return fallback
	}
	return limit
}

// lastCut returns the largest p in [minCut, limit] such that one of seps ends
// exactly at p and starts at or after start, or -1.
func lastCut(text []rune, start, minCut, limit int, seps [][]rune) int {
	for p := limit; p >= minCut; p-- {
		for _, sep := range seps {
			if p-len(sep) >= start && hasSuffixAt(text, p, sep) {
				return p
			}
		}
	}
	return -1
}

func hasSuffixAt(text []rune, end int, sep []rune) bool {
	off := end - len(sep)
	for i, r := range sep {
		if text[off+i] != r {
			return false
		}
	}
	return true
}

func runesOf(seps ...string) [][]rune {
	out := make([][]rune, len(seps))
	for i, s := range seps {
		out[i] = []rune(s)
	}
	return out
}

func hashText(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}
