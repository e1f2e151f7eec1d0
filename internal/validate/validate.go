// Package validate runs a battery of natural-language queries against the
// vector index and scores retrieval quality with precision@k.
package validate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docpipe/docpipe/internal/log"
	"github.com/docpipe/docpipe/internal/vecstore"
)

// Thresholds for the pass/fail gate.
const (
	// LowConfidenceScore flags a query whose best hit scores below it.
	LowConfidenceScore = 0.4
	// RelevanceFloor is the top-1 score a query must reach to count as
	// answered.
	RelevanceFloor = 0.5
	// RelevancePassPercent of queries must clear the floor.
	RelevancePassPercent = 80.0
	// PrecisionPassMean is the minimum mean precision@3 across queries
	// with ground truth.
	PrecisionPassMean = 0.70
)

// precisionDepth is how many results are fetched per query so precision@5
// can be computed regardless of the display top-k.
const precisionDepth = 5

var (
	ErrEmptyIndex  = errors.New("validate: index is empty, run ingestion first")
	ErrNoQueries   = errors.New("validate: query battery is empty")
	ErrNilDeps     = errors.New("validate: embedder and index are required")
	ErrInvalidTopK = errors.New("validate: top-k must be positive")
)

// QueryEmbedder embeds query text in the provider's query mode.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index is the read-only search surface the validator consumes.
type Index interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]vecstore.Result, error)
	Count(ctx context.Context) (int64, error)
	Collection() string
}

// QueryResult holds one query's retrieval outcome. Precision fields are only
// meaningful when HasGroundTruth is set.
type QueryResult struct {
	Query         Query
	Results       []vecstore.Result
	LowConfidence bool

	HasGroundTruth bool
	PrecisionAt3   float64
	PrecisionAt5   float64
}

// Report aggregates a whole validation run.
type Report struct {
	Collection  string
	GeneratedAt time.Time
	TopK        int
	Queries     []QueryResult

	AvgTop1Score      float64
	QueriesAboveFloor int
	RelevancePercent  float64

	GroundTruthCount int
	AvgPrecisionAt3  float64
	AvgPrecisionAt5  float64

	RelevancePass bool
	PrecisionPass bool
	Passed        bool
}

// Validator runs the battery. Output goes to out, which is the process
// stdout in production so the report stays pipeable.
type Validator struct {
	embedder QueryEmbedder
	index    Index
	topK     int
	out      io.Writer
	logger   log.Logger
}

func New(embedder QueryEmbedder, index Index, topK int, out io.Writer, logger log.Logger) (*Validator, error) {
	if embedder == nil || index == nil {
		return nil, ErrNilDeps
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Validator{embedder: embedder, index: index, topK: topK, out: out, logger: logger}, nil
}

// Run executes every query and renders the report. The returned Report's
// Passed field drives the process exit status; an error means the run itself
// could not complete, not that quality was poor.
func (v *Validator) Run(ctx context.Context, queries []Query) (*Report, error) {
	if len(queries) == 0 {
		return nil, ErrNoQueries
	}

	count, err := v.index.Count(ctx)
	if err != nil {
		// A fresh database has no collection table yet; that is the same
		// operator mistake as an empty one.
		if vecstore.IsMissing(err) {
			return nil, fmt.Errorf("%w (collection %q)", ErrEmptyIndex, v.index.Collection())
		}
		return nil, fmt.Errorf("check index: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w (collection %q)", ErrEmptyIndex, v.index.Collection())
	}

	report := &Report{
		Collection:  v.index.Collection(),
		GeneratedAt: time.Now(),
		TopK:        v.topK,
	}
	v.renderHeader(report, count, len(queries))

	fetchK := v.topK
	if fetchK < precisionDepth {
		fetchK = precisionDepth
	}

	for i, q := range queries {
		embedding, err := v.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query %q: %w", q.Text, err)
		}
		results, err := v.index.Search(ctx, embedding, fetchK)
		if err != nil {
			return nil, fmt.Errorf("search for query %q: %w", q.Text, err)
		}

		qr := QueryResult{Query: q, Results: results}
		if len(results) > 0 && results[0].Similarity < LowConfidenceScore {
			qr.LowConfidence = true
		}
		if len(q.RelevantURLs) > 0 {
			urls := make([]string, len(results))
			for j, r := range results {
				urls[j] = r.SourceURL
			}
			qr.HasGroundTruth = true
			qr.PrecisionAt3 = precisionAtK(urls, q.RelevantURLs, 3)
			qr.PrecisionAt5 = precisionAtK(urls, q.RelevantURLs, precisionDepth)
		}
		report.Queries = append(report.Queries, qr)

		v.renderQuery(qr, i+1, len(queries))
	}

	summarize(report)
	v.renderSummary(report)
	return report, nil
}

// precisionAtK is the fraction of the top-k retrieved URLs that appear in
// the relevant set.
func precisionAtK(retrieved, relevant []string, k int) float64 {
	if k <= 0 {
		return 0
	}
	if len(retrieved) > k {
		retrieved = retrieved[:k]
	}
	relevantSet := make(map[string]struct{}, len(relevant))
	for _, u := range relevant {
		relevantSet[u] = struct{}{}
	}
	hits := make(map[string]struct{})
	for _, u := range retrieved {
		if _, ok := relevantSet[u]; ok {
			hits[u] = struct{}{}
		}
	}
	return float64(len(hits)) / float64(k)
}

func summarize(r *Report) {
	var top1Sum float64
	var scored int
	for _, qr := range r.Queries {
		if len(qr.Results) == 0 {
			continue
		}
		scored++
		top1 := qr.Results[0].Similarity
		top1Sum += top1
		if top1 >= RelevanceFloor {
			r.QueriesAboveFloor++
		}
	}
	if scored > 0 {
		r.AvgTop1Score = top1Sum / float64(scored)
	}
	if len(r.Queries) > 0 {
		r.RelevancePercent = float64(r.QueriesAboveFloor) / float64(len(r.Queries)) * 100
	}

	var p3Sum, p5Sum float64
	for _, qr := range r.Queries {
		if !qr.HasGroundTruth {
			continue
		}
		r.GroundTruthCount++
		p3Sum += qr.PrecisionAt3
		p5Sum += qr.PrecisionAt5
	}
	if r.GroundTruthCount > 0 {
		r.AvgPrecisionAt3 = p3Sum / float64(r.GroundTruthCount)
		r.AvgPrecisionAt5 = p5Sum / float64(r.GroundTruthCount)
	}

	r.RelevancePass = r.RelevancePercent >= RelevancePassPercent
	// Without ground truth there is nothing to hold precision against.
	r.PrecisionPass = r.GroundTruthCount == 0 || r.AvgPrecisionAt3 >= PrecisionPassMean
	r.Passed = r.RelevancePass && r.PrecisionPass
}
