// Package pipeline orchestrates an ingestion run: discover pages, extract
// and chunk their content, embed the chunks, and write them to the index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/crawler"
	"github.com/docpipe/docpipe/internal/log"
	"github.com/docpipe/docpipe/internal/retry"
	"github.com/docpipe/docpipe/internal/vecstore"
)

var ErrNoChunks = errors.New("pipeline: corpus produced no chunks")

// Locator discovers the corpus page URLs.
type Locator interface {
	Discover(ctx context.Context) ([]string, error)
}

// Extractor fetches one page and pulls out its text.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (*crawler.Page, error)
}

// Chunker splits an extracted document into chunks.
type Chunker interface {
	Split(doc chunk.Document) []chunk.Chunk
}

// Embedder embeds chunk texts in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector store surface the pipeline writes through.
type Index interface {
	EnsureSchema(ctx context.Context) error
	Truncate(ctx context.Context) error
	Upsert(ctx context.Context, records []vecstore.Record) error
}

// PageFailure is one skipped unit of work. URL names the unit: a page URL,
// or a chunk ID range for a failed embed or store batch.
type PageFailure struct {
	URL   string    `json:"url"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

// Stats summarizes one ingestion run.
type Stats struct {
	RunID           uuid.UUID
	BaseURL         string
	Collection      string
	PagesDiscovered int
	PagesProcessed  int
	PagesFailed     int
	BatchesFailed   int
	ChunksCreated   int
	VectorsStored   int
	StartedAt       time.Time
	FinishedAt      time.Time
	Failures        []PageFailure
}

// Options configures a Pipeline.
type Options struct {
	BaseURL    string
	Collection string
	BatchSize  int
	Reset      bool

	// StorageRetry overrides the index-write retry policy. The zero value
	// selects a fixed-delay policy of three attempts.
	StorageRetry retry.Policy
}

// storageRetryPolicy covers brief connection blips on the upsert path. No
// breaker: writes run sequentially, and fatal SQLSTATEs abort regardless.
func storageRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Second,
		Multiplier:     1.0,
	}
}

// Pipeline wires the ingestion stages together. Failed pages and exhausted
// embed or store batches are recorded and skipped; storage capacity
// exhaustion aborts the run.
type Pipeline struct {
	locator   Locator
	extractor Extractor
	chunker   Chunker
	embedder  Embedder
	index     Index
	recorder  RunRecorder
	exec      *retry.Executor
	opts      Options
	logger    log.Logger
}

func New(locator Locator, extractor Extractor, chunker Chunker, embedder Embedder, index Index, recorder RunRecorder, opts Options, logger log.Logger) (*Pipeline, error) {
	if locator == nil || extractor == nil || chunker == nil || embedder == nil || index == nil {
		return nil, errors.New("pipeline: all stages are required")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("pipeline: batch size must be positive, got %d", opts.BatchSize)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	storagePolicy := opts.StorageRetry
	if storagePolicy == (retry.Policy{}) {
		storagePolicy = storageRetryPolicy()
	}
	return &Pipeline{
		locator:   locator,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		recorder:  recorder,
		exec:      retry.NewExecutor(storagePolicy, logger),
		opts:      opts,
		logger:    logger,
	}, nil
}

// Run executes one full ingestion. The returned Stats are valid even when an
// error is returned; they describe how far the run got.
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		RunID:      uuid.New(),
		BaseURL:    p.opts.BaseURL,
		Collection: p.opts.Collection,
		StartedAt:  time.Now(),
	}
	defer func() { stats.FinishedAt = time.Now() }()

	p.logger.Info("ingestion run starting",
		"run_id", stats.RunID,
		"base_url", stats.BaseURL,
		"collection", stats.Collection)

	if err := p.index.EnsureSchema(ctx); err != nil {
		return stats, fmt.Errorf("ensure index schema: %w", err)
	}
	if p.opts.Reset {
		if err := p.index.Truncate(ctx); err != nil {
			return stats, fmt.Errorf("reset collection: %w", err)
		}
	}

	urls, err := p.locator.Discover(ctx)
	if err != nil {
		return stats, fmt.Errorf("discover pages: %w", err)
	}
	stats.PagesDiscovered = len(urls)
	p.recordStart(ctx, stats)

	chunks, err := p.extractAndChunk(ctx, urls, stats)
	if err != nil {
		return stats, err
	}
	stats.ChunksCreated = len(chunks)
	if len(chunks) == 0 {
		p.recordFinish(ctx, stats)
		return stats, ErrNoChunks
	}

	if err := p.embedAndStore(ctx, chunks, stats); err != nil {
		p.recordFinish(ctx, stats)
		return stats, err
	}
	p.recordFinish(ctx, stats)

	p.logger.Info("ingestion run completed",
		"run_id", stats.RunID,
		"pages_discovered", stats.PagesDiscovered,
		"pages_processed", stats.PagesProcessed,
		"pages_failed", stats.PagesFailed,
		"batches_failed", stats.BatchesFailed,
		"chunks_created", stats.ChunksCreated,
		"vectors_stored", stats.VectorsStored,
		"duration", stats.FinishedAt.Sub(stats.StartedAt).String())
	return stats, nil
}

func (p *Pipeline) extractAndChunk(ctx context.Context, urls []string, stats *Stats) ([]chunk.Chunk, error) {
	var chunks []chunk.Chunk
	for i, pageURL := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.logger.Info("processing page",
			"progress", fmt.Sprintf("%d/%d", i+1, len(urls)),
			"url", pageURL)

		page, err := p.extractor.Extract(ctx, pageURL)
		if err != nil {
			p.logger.Warn("page extraction failed, skipping",
				"url", pageURL,
				"error", err)
			stats.PagesFailed++
			stats.Failures = append(stats.Failures, PageFailure{
				URL:   pageURL,
				Error: err.Error(),
				At:    time.Now(),
			})
			continue
		}

		pageChunks := p.chunker.Split(chunk.Document{
			SourceURL: page.URL,
			Title:     page.Title,
			Text:      page.Text,
			Headings:  page.Headings,
		})
		if len(pageChunks) == 0 {
			p.logger.Info("page yielded no chunks, skipping", "url", pageURL)
			stats.PagesFailed++
			stats.Failures = append(stats.Failures, PageFailure{
				URL:   pageURL,
				Error: "no textual content after chunking",
				At:    time.Now(),
			})
			continue
		}

		chunks = append(chunks, pageChunks...)
		stats.PagesProcessed++
	}
	return chunks, nil
}

func (p *Pipeline) embedAndStore(ctx context.Context, chunks []chunk.Chunk, stats *Stats) error {
	batches := (len(chunks) + p.opts.BatchSize - 1) / p.opts.BatchSize

	for i := 0; i < len(chunks); i += p.opts.BatchSize {
		end := i + p.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		vectors, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.recordBatchFailure(stats, batch, err, "embedding batch failed, skipping")
			continue
		}

		records := make([]vecstore.Record, len(batch))
		for j, c := range batch {
			records[j] = vecstore.Record{
				ID:             c.ID,
				SourceURL:      c.SourceURL,
				PageTitle:      c.PageTitle,
				HeadingContext: c.HeadingContext,
				Text:           c.Text,
				TokenCount:     c.TokenCount,
				PositionInPage: c.PositionInPage,
				Embedding:      vectors[j],
			}
		}

		err = p.exec.Do(ctx, "index.upsert", func(ctx context.Context) error {
			return p.index.Upsert(ctx, records)
		}, vecstore.Classify)
		if err != nil {
			if vecstore.IsFatal(err) {
				return fmt.Errorf("index storage exhausted: %w", err)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.recordBatchFailure(stats, batch, err, "storing batch failed, skipping")
			continue
		}
		stats.VectorsStored += len(records)

		p.logger.Info("stored batch",
			"batch", i/p.opts.BatchSize+1,
			"batches", batches,
			"vectors_stored", stats.VectorsStored)
	}
	return nil
}

// recordBatchFailure logs a skipped batch and files it in Stats.Failures
// alongside the page-level entries, named by its chunk ID range.
func (p *Pipeline) recordBatchFailure(stats *Stats, batch []chunk.Chunk, err error, msg string) {
	unit := fmt.Sprintf("chunks %d-%d", batch[0].ID, batch[len(batch)-1].ID)
	p.logger.Warn(msg, "chunks", unit, "error", err)
	stats.BatchesFailed++
	stats.Failures = append(stats.Failures, PageFailure{
		URL:   unit,
		Error: err.Error(),
		At:    time.Now(),
	})
}

func (p *Pipeline) recordStart(ctx context.Context, stats *Stats) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordStart(ctx, stats); err != nil {
		p.logger.Warn("recording run start failed", "run_id", stats.RunID, "error", err)
	}
}

func (p *Pipeline) recordFinish(ctx context.Context, stats *Stats) {
	if p.recorder == nil {
		return
	}
	stats.FinishedAt = time.Now()
	if err := p.recorder.RecordFinish(ctx, stats); err != nil {
		p.logger.Warn("recording run finish failed", "run_id", stats.RunID, "error", err)
	}
}
