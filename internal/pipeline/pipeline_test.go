package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/goleak"

	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/crawler"
	"github.com/docpipe/docpipe/internal/retry"
	"github.com/docpipe/docpipe/internal/vecstore"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================
// Mocks
// ============================================================

type mockLocator struct {
	urls []string
	err  error
}

func (m *mockLocator) Discover(context.Context) ([]string, error) {
	return m.urls, m.err
}

type mockExtractor struct {
	pages map[string]*crawler.Page
	errs  map[string]error
}

func (m *mockExtractor) Extract(_ context.Context, pageURL string) (*crawler.Page, error) {
	if err, ok := m.errs[pageURL]; ok {
		return nil, err
	}
	page, ok := m.pages[pageURL]
	if !ok {
		return nil, fmt.Errorf("unexpected URL %q", pageURL)
	}
	return page, nil
}

type mockEmbedder struct {
	calls   int
	failErr error
}

func (m *mockEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.failErr != nil {
		return nil, m.failErr
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, vecstore.Dimension)
		v[0] = float32(len(texts[i]))
		vectors[i] = v
	}
	return vectors, nil
}

type mockIndex struct {
	records     []vecstore.Record
	truncated   bool
	upsertErr   error
	upsertCalls int
}

func (m *mockIndex) EnsureSchema(context.Context) error { return nil }
func (m *mockIndex) Truncate(context.Context) error {
	m.truncated = true
	return nil
}
func (m *mockIndex) Upsert(_ context.Context, records []vecstore.Record) error {
	m.upsertCalls++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.records = append(m.records, records...)
	return nil
}

type mockRecorder struct {
	started  int
	finished int
}

func (m *mockRecorder) RecordStart(context.Context, *Stats) error  { m.started++; return nil }
func (m *mockRecorder) RecordFinish(context.Context, *Stats) error { m.finished++; return nil }

// ============================================================
// Fixtures
// ============================================================

func testPages() (*mockLocator, *mockExtractor) {
	locator := &mockLocator{urls: []string{
		"https://docs.example.com/config",
		"https://docs.example.com/install",
		"https://docs.example.com/usage",
	}}
	extractor := &mockExtractor{
		pages: map[string]*crawler.Page{
			"https://docs.example.com/config": {
				URL:   "https://docs.example.com/config",
				Title: "Configuration",
				Text:  "Configuration settings live in a YAML file in the home directory.",
				Headings: []chunk.Heading{
					{Level: 1, Text: "Configuration"},
				},
			},
			"https://docs.example.com/install": {
				URL:   "https://docs.example.com/install",
				Title: "Install",
				Text:  "Install download the binary and place it on your PATH.",
				Headings: []chunk.Heading{
					{Level: 1, Text: "Install"},
				},
			},
			"https://docs.example.com/usage": {
				URL:   "https://docs.example.com/usage",
				Title: "Usage",
				Text:  "Usage run the binary with a subcommand to get started.",
				Headings: []chunk.Heading{
					{Level: 1, Text: "Usage"},
				},
			},
		},
	}
	return locator, extractor
}

func newTestPipeline(t *testing.T, locator Locator, extractor Extractor, embedder Embedder, index Index, recorder RunRecorder, reset bool) *Pipeline {
	t.Helper()
	chunker, err := chunk.NewSplitter(512, 50, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(locator, extractor, chunker, embedder, index, recorder, Options{
		BaseURL:    "https://docs.example.com",
		Collection: "doc_chunks",
		BatchSize:  2,
		Reset:      reset,
		StorageRetry: retry.Policy{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1.0,
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// ============================================================
// Tests
// ============================================================

func TestRunFreshIngestion(t *testing.T) {
	locator, extractor := testPages()
	embedder := &mockEmbedder{}
	index := &mockIndex{}
	recorder := &mockRecorder{}

	p := newTestPipeline(t, locator, extractor, embedder, index, recorder, false)
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.PagesDiscovered != 3 || stats.PagesProcessed != 3 || stats.PagesFailed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ChunksCreated != 3 {
		t.Errorf("chunks created = %d, want 3", stats.ChunksCreated)
	}
	if stats.VectorsStored != stats.ChunksCreated {
		t.Errorf("vectors stored = %d, want %d", stats.VectorsStored, stats.ChunksCreated)
	}
	if len(index.records) != 3 {
		t.Fatalf("index holds %d records", len(index.records))
	}

	// Run-wide sequential IDs in processing order.
	for i, r := range index.records {
		if r.ID != int64(i) {
			t.Errorf("record %d ID = %d", i, r.ID)
		}
		if len(r.Embedding) != vecstore.Dimension {
			t.Errorf("record %d embedding dimension = %d", i, len(r.Embedding))
		}
	}
	if index.records[0].HeadingContext != "Configuration" {
		t.Errorf("first record heading = %q", index.records[0].HeadingContext)
	}

	if index.truncated {
		t.Error("collection truncated without --reset")
	}
	if recorder.started != 1 || recorder.finished != 1 {
		t.Errorf("recorder calls = %+v", recorder)
	}
	if stats.FinishedAt.Before(stats.StartedAt) {
		t.Error("finished before started")
	}
}

func TestRunSkipsFailedPages(t *testing.T) {
	locator, extractor := testPages()
	extractor.errs = map[string]error{
		"https://docs.example.com/install": &crawler.FetchError{URL: "https://docs.example.com/install", StatusCode: 404},
	}
	index := &mockIndex{}

	p := newTestPipeline(t, locator, extractor, &mockEmbedder{}, index, nil, false)
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.PagesProcessed != 2 || stats.PagesFailed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.Failures) != 1 {
		t.Fatalf("failures = %+v", stats.Failures)
	}
	f := stats.Failures[0]
	if f.URL != "https://docs.example.com/install" || f.Error == "" || f.At.IsZero() {
		t.Errorf("failure = %+v", f)
	}
	if len(index.records) != 2 {
		t.Errorf("index holds %d records, want 2", len(index.records))
	}
}

func TestRunResetTruncatesFirst(t *testing.T) {
	locator, extractor := testPages()
	index := &mockIndex{}

	p := newTestPipeline(t, locator, extractor, &mockEmbedder{}, index, nil, true)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !index.truncated {
		t.Error("reset run did not truncate the collection")
	}
}

func TestRunDiscoveryFailureIsFatal(t *testing.T) {
	locator := &mockLocator{err: errors.New("connection refused")}

	p := newTestPipeline(t, locator, &mockExtractor{}, &mockEmbedder{}, &mockIndex{}, nil, false)
	if _, err := p.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with failed discovery")
	}
}

func TestRunEmbeddingFailureSkipsBatch(t *testing.T) {
	locator, extractor := testPages()
	embedder := &mockEmbedder{failErr: errors.New("invalid argument")}
	index := &mockIndex{}

	p := newTestPipeline(t, locator, extractor, embedder, index, nil, false)
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// 3 chunks at batch size 2 make 2 batches, both skipped.
	if stats.BatchesFailed != 2 {
		t.Errorf("batches failed = %d, want 2", stats.BatchesFailed)
	}
	if stats.VectorsStored != 0 || len(index.records) != 0 {
		t.Errorf("vectors stored from failed batches: %+v", stats)
	}
	if stats.ChunksCreated != 3 {
		t.Errorf("chunks created = %d, want 3", stats.ChunksCreated)
	}
	if len(stats.Failures) != 2 {
		t.Fatalf("failures = %+v, want one per batch", stats.Failures)
	}
	if stats.Failures[0].URL != "chunks 0-1" || stats.Failures[1].URL != "chunks 2-2" {
		t.Errorf("failure units = %q, %q", stats.Failures[0].URL, stats.Failures[1].URL)
	}
	for _, f := range stats.Failures {
		if f.Error == "" || f.At.IsZero() {
			t.Errorf("failure record incomplete: %+v", f)
		}
	}
}

func TestRunStorageFailureRetriesThenSkipsBatch(t *testing.T) {
	locator, extractor := testPages()
	index := &mockIndex{upsertErr: errors.New("connection reset")}

	p := newTestPipeline(t, locator, extractor, &mockEmbedder{}, index, nil, false)
	stats, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if stats.BatchesFailed != 2 {
		t.Errorf("batches failed = %d, want 2", stats.BatchesFailed)
	}
	// Transport errors are retried before the batch is given up.
	if index.upsertCalls != 4 {
		t.Errorf("upsert calls = %d, want 4 (2 batches x 2 attempts)", index.upsertCalls)
	}
	if stats.VectorsStored != 0 {
		t.Errorf("vectors stored = %d, want 0", stats.VectorsStored)
	}
	if len(stats.Failures) != 2 {
		t.Errorf("failures = %+v, want one per batch", stats.Failures)
	}
}

func TestRunStorageQuotaIsFatal(t *testing.T) {
	locator, extractor := testPages()
	index := &mockIndex{upsertErr: &pgconn.PgError{Code: "53100", Message: "disk full"}}

	p := newTestPipeline(t, locator, extractor, &mockEmbedder{}, index, nil, false)
	stats, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("Run() succeeded despite exhausted storage")
	}
	if index.upsertCalls != 1 {
		t.Errorf("upsert calls = %d, want 1 (no retry on fatal)", index.upsertCalls)
	}
	if stats.VectorsStored != 0 {
		t.Errorf("vectors stored = %d, want 0", stats.VectorsStored)
	}
}

func TestRunAllPagesFailed(t *testing.T) {
	locator, extractor := testPages()
	extractor.errs = map[string]error{
		"https://docs.example.com/config":  errors.New("timeout"),
		"https://docs.example.com/install": errors.New("timeout"),
		"https://docs.example.com/usage":   errors.New("timeout"),
	}

	p := newTestPipeline(t, locator, extractor, &mockEmbedder{}, &mockIndex{}, nil, false)
	stats, err := p.Run(context.Background())
	if !errors.Is(err, ErrNoChunks) {
		t.Fatalf("Run() error = %v, want ErrNoChunks", err)
	}
	if stats.PagesFailed != 3 {
		t.Errorf("pages failed = %d", stats.PagesFailed)
	}
}

func TestRunContextCancellation(t *testing.T) {
	locator, extractor := testPages()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, locator, extractor, &mockEmbedder{}, &mockIndex{}, nil, false)
	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}
