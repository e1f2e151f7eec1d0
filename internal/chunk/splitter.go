package chunk

import (
	"errors"
	"fmt"

	"github.com/docpipe/docpipe/internal/log"
)

var (
	ErrInvalidMaxTokens = errors.New("chunk: max tokens must be positive")
	ErrInvalidOverlap   = errors.New("chunk: overlap must be non-negative and smaller than max tokens")
)

// Document is an extracted page ready for chunking.
type Document struct {
	SourceURL string
	Title     string
	Text      string
	Headings  []Heading
}

// Splitter turns documents into chunks. It carries the run-wide chunk ID
// counter, so one Splitter serves one ingestion run.
type Splitter struct {
	maxTokens int
	overlap   int
	nextID    int64
	logger    log.Logger
}

func NewSplitter(maxTokens, overlap int, logger log.Logger) (*Splitter, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxTokens, maxTokens)
	}
	if overlap < 0 || overlap >= maxTokens {
		return nil, fmt.Errorf("%w: got %d with max %d", ErrInvalidOverlap, overlap, maxTokens)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Splitter{maxTokens: maxTokens, overlap: overlap, logger: logger}, nil
}

// Split chunks one document. Sections at or under the token budget become a
// single chunk with their text untouched; longer sections are windowed with
// the configured overlap. Empty documents yield no chunks.
func (s *Splitter) Split(doc Document) []Chunk {
	sections := sectionize(doc.Text, doc.Headings)

	var chunks []Chunk
	position := 0

	for _, sec := range sections {
		tokens := Tokenize(sec.Text)
		if len(tokens) == 0 {
			continue
		}

		if len(tokens) <= s.maxTokens {
			chunks = append(chunks, s.emit(doc, sec, sec.Text, len(tokens), &position))
			continue
		}

		step := s.maxTokens - s.overlap
		for start := 0; start < len(tokens); start += step {
			end := start + s.maxTokens
			if end > len(tokens) {
				end = len(tokens)
			}
			window := tokens[start:end]
			chunks = append(chunks, s.emit(doc, sec, Detokenize(window), len(window), &position))
			if end == len(tokens) {
				break
			}
		}
	}

	if len(chunks) > 0 {
		s.logger.Debug("chunked page",
			"url", doc.SourceURL,
			"sections", len(sections),
			"chunks", len(chunks))
	}
	return chunks
}

func (s *Splitter) emit(doc Document, sec Section, text string, tokenCount int, position *int) Chunk {
	c := Chunk{
		ID:             s.nextID,
		SourceURL:      doc.SourceURL,
		PageTitle:      doc.Title,
		HeadingContext: sec.HeadingContext(),
		Text:           text,
		TokenCount:     tokenCount,
		PositionInPage: *position,
	}
	s.nextID++
	*position++
	return c
}
