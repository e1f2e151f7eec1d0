// Package embed turns chunk text and queries into fixed-dimension vectors
// through the Gemini embedding API.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/docpipe/docpipe/internal/log"
	"github.com/docpipe/docpipe/internal/retry"
)

// Mode selects the embedding task type. Documents and queries are embedded
// asymmetrically; mixing the modes silently degrades retrieval quality.
type Mode string

const (
	ModeDocument Mode = "RETRIEVAL_DOCUMENT"
	ModeQuery    Mode = "RETRIEVAL_QUERY"
)

// Dimension is the vector width requested from the model. The index schema
// depends on it, so it is fixed rather than configurable.
const Dimension = 768

// MaxBatchSize is the provider's per-request input ceiling.
const MaxBatchSize = 96

var (
	ErrEmptyInput    = errors.New("embed: no texts to embed")
	ErrBatchTooLarge = errors.New("embed: batch size exceeds provider limit")
	ErrCountMismatch = errors.New("embed: response vector count does not match input count")
	ErrBadDimension  = errors.New("embed: response vector has wrong dimension")
	ErrMissingAPIKey = errors.New("embed: API key is required")
	ErrMissingModel  = errors.New("embed: model name is required")
)

// contentEmbedder is the slice of the genai surface the client depends on.
// *genai.Models satisfies it.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Options configures a Client.
type Options struct {
	APIKey            string
	Model             string
	BatchSize         int
	RequestsPerMinute int
	Executor          *retry.Executor
	Logger            log.Logger
}

// Client embeds texts in batches with per-attempt rate limiting and retry.
type Client struct {
	models    contentEmbedder
	model     string
	batchSize int
	limiter   *rate.Limiter
	exec      *retry.Executor
	logger    log.Logger
}

func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if opts.Model == "" {
		return nil, ErrMissingModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClient(client.Models, opts)
}

func newClient(models contentEmbedder, opts Options) (*Client, error) {
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrBatchTooLarge, opts.BatchSize, MaxBatchSize)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	exec := opts.Executor
	if exec == nil {
		exec = retry.NewExecutor(retry.DefaultPolicy(), logger)
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}

	return &Client{
		models:    models,
		model:     opts.Model,
		batchSize: opts.BatchSize,
		limiter:   limiter,
		exec:      exec,
		logger:    logger,
	}, nil
}

// EmbedDocuments embeds texts in input order, splitting them into
// provider-sized batches. A batch that still fails after retries fails the
// whole call; partial results are never returned.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors := make([][]float32, 0, len(texts))
	batches := (len(texts) + c.batchSize - 1) / c.batchSize

	for i := 0; i < len(texts); i += c.batchSize {
		end := i + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		got, err := c.embedBatch(ctx, batch, ModeDocument)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d/%d: %w", i/c.batchSize+1, batches, err)
		}
		vectors = append(vectors, got...)

		c.logger.Debug("embedded batch",
			"batch", i/c.batchSize+1,
			"batches", batches,
			"size", len(batch))
	}
	return vectors, nil
}

// EmbedQuery embeds a single search query with the query task type.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	vectors, err := c.embedBatch(ctx, []string{text}, ModeQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}
	dim := int32(Dimension)
	config := &genai.EmbedContentConfig{
		TaskType:             string(mode),
		OutputDimensionality: &dim,
	}

	var resp *genai.EmbedContentResponse
	err := c.exec.Do(ctx, "embed."+strings.ToLower(string(mode)), func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
		}
		var callErr error
		resp, callErr = c.models.EmbedContent(ctx, c.model, contents, config)
		return callErr
	}, Classify)
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrCountMismatch, len(resp.Embeddings), len(texts))
	}
	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) != Dimension {
			got := 0
			if e != nil {
				got = len(e.Values)
			}
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrBadDimension, i, got, Dimension)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// retryablePatterns groups transient error substrings by category, matched
// case-insensitively. The provider SDK does not expose typed errors for
// these failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "resource_exhausted", "429"},
	{"500", "502", "503", "504", "unavailable", "internal error", "overloaded"},
	{"connection reset", "timeout", "deadline exceeded", "temporary", "eof"},
}

// Classify reports whether an embedding error is worth retrying. Context
// cancellation stops immediately and is not held against the circuit breaker.
func Classify(err error) retry.Classification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Classification{Retryable: false, RecordFailure: false}
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return retry.Classification{Retryable: true, RecordFailure: true}
			}
		}
	}
	return retry.Classification{Retryable: false, RecordFailure: true}
}
