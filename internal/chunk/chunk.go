// Package chunk splits extracted page text into bounded, heading-aligned
// retrieval units.
package chunk

import (
	"strings"
)

// NoHeading is how a section without any tracked heading renders its context.
// It is a display detail of the empty heading path, not a value the chunking
// logic branches on.
const NoHeading = "No heading"

// Heading is one tracked page heading in document order. Level is 1 or 2;
// deeper levels are not collected by the extractor.
type Heading struct {
	Level int
	Text  string
}

// Section is a span of page text governed by one heading path. An empty
// HeadingPath means the page (or span) had no tracked headings.
type Section struct {
	HeadingPath []string
	Text        string
}

// HeadingContext renders the heading path for storage and display.
func (s Section) HeadingContext() string {
	if len(s.HeadingPath) == 0 {
		return NoHeading
	}
	return strings.Join(s.HeadingPath, " > ")
}

// Chunk is one retrieval unit. IDs are assigned sequentially across the whole
// run in processing order; PositionInPage restarts at 0 per document.
type Chunk struct {
	ID             int64
	SourceURL      string
	PageTitle      string
	HeadingContext string
	Text           string
	TokenCount     int
	PositionInPage int
}

// sectionize partitions text at heading boundaries.
//
// The heading path tracks the active H1 and nearest H2: an H1 resets the
// path, an H2 sets or replaces its second element. Heading occurrences are
// located by forward search through the text, so a page missing a heading's
// text (stale extraction, decorative heading) simply skips that boundary.
// Text before the first located heading belongs to no section.
func sectionize(text string, headings []Heading) []Section {
	if len(headings) == 0 {
		return []Section{{Text: text}}
	}

	type boundary struct {
		pos     int
		textLen int
		path    []string
	}

	var path []string
	var bounds []boundary
	searchFrom := 0

	for _, h := range headings {
		switch h.Level {
		case 1:
			path = []string{h.Text}
		case 2:
			switch len(path) {
			case 0:
				path = []string{h.Text}
			case 1:
				path = append(path, h.Text)
			default:
				path[1] = h.Text
			}
		default:
			continue
		}

		idx := strings.Index(text[searchFrom:], h.Text)
		if idx < 0 {
			continue
		}
		pos := searchFrom + idx

		bounds = append(bounds, boundary{
			pos:     pos,
			textLen: len(h.Text),
			path:    append([]string(nil), path...),
		})
		searchFrom = pos + len(h.Text)
	}

	if len(bounds) == 0 {
		// Headings were reported but none located in the text; treat the
		// page as a single untracked section rather than dropping it.
		return []Section{{Text: text}}
	}

	sections := make([]Section, 0, len(bounds))
	for i, b := range bounds {
		start := b.pos + b.textLen
		end := len(text)
		if i+1 < len(bounds) {
			end = bounds[i+1].pos
		}
		body := strings.TrimSpace(text[start:end])
		if body == "" {
			continue
		}
		sections = append(sections, Section{HeadingPath: b.path, Text: body})
	}

	return sections
}
