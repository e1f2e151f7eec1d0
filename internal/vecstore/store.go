// Package vecstore persists chunk embeddings in PostgreSQL with pgvector and
// serves cosine-similarity search over them.
package vecstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/docpipe/docpipe/internal/log"
	"github.com/docpipe/docpipe/internal/retry"
)

// Dimension must match the embedder's output width; the column type is fixed
// at schema creation.
const Dimension = 768

var (
	ErrInvalidCollection = errors.New("vecstore: collection name must be a lowercase identifier")
	ErrNilQuerier        = errors.New("vecstore: database querier is required")
)

// collectionRe guards the table name interpolated into SQL. The config layer
// validates the same shape; this is the last line of defense.
var collectionRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Record is one chunk with its embedding, ready for the index.
type Record struct {
	ID             int64
	SourceURL      string
	PageTitle      string
	HeadingContext string
	Text           string
	TokenCount     int
	PositionInPage int
	Embedding      []float32
}

// Result is one search hit. Similarity is cosine similarity in [-1, 1],
// higher is closer.
type Result struct {
	ID             int64
	SourceURL      string
	PageTitle      string
	HeadingContext string
	Text           string
	Similarity     float64
}

// Store manages one collection (one table) of chunk vectors.
type Store struct {
	db         querier
	collection string
	logger     log.Logger
}

func New(db querier, collection string, logger log.Logger) (*Store, error) {
	if db == nil {
		return nil, ErrNilQuerier
	}
	if !collectionRe.MatchString(collection) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, collection: collection, logger: logger}, nil
}

// Collection reports the table name the store writes to.
func (s *Store) Collection() string { return s.collection }

// EnsureSchema creates the collection table and its vector index if they do
// not exist. Safe to call on every run.
func (s *Store) EnsureSchema(ctx context.Context) error {
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id bigint PRIMARY KEY,
	source_url text NOT NULL,
	page_title text NOT NULL,
	heading_context text NOT NULL,
	content text NOT NULL,
	token_count integer NOT NULL,
	position_in_page integer NOT NULL,
	embedding vector(%d) NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`, s.collection, Dimension)

	if _, err := s.db.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}

	createIndex := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`,
		s.collection, s.collection)
	if _, err := s.db.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("create vector index on %s: %w", s.collection, err)
	}
	return nil
}

// Upsert writes records in one batch round trip. Existing IDs are
// overwritten, so re-ingesting a corpus replaces stale chunk content.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	upsertSQL := fmt.Sprintf(`INSERT INTO %s
	(id, source_url, page_title, heading_context, content, token_count, position_in_page, embedding, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	ON CONFLICT (id) DO UPDATE SET
	source_url = EXCLUDED.source_url,
	page_title = EXCLUDED.page_title,
	heading_context = EXCLUDED.heading_context,
	content = EXCLUDED.content,
	token_count = EXCLUDED.token_count,
	position_in_page = EXCLUDED.position_in_page,
	embedding = EXCLUDED.embedding,
	updated_at = now()`, s.collection)

	batch := &pgx.Batch{}
	for _, r := range records {
		if len(r.Embedding) != Dimension {
			return fmt.Errorf("vecstore: record %d embedding has %d values, want %d", r.ID, len(r.Embedding), Dimension)
		}
		batch.Queue(upsertSQL,
			r.ID, r.SourceURL, r.PageTitle, r.HeadingContext, r.Text,
			r.TokenCount, r.PositionInPage, pgvector.NewVector(r.Embedding))
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert into %s: %w", s.collection, err)
		}
	}

	s.logger.Debug("upserted records", "collection", s.collection, "count", len(records))
	return nil
}

// Search returns the topK nearest records by cosine distance.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]Result, error) {
	if len(embedding) != Dimension {
		return nil, fmt.Errorf("vecstore: query embedding has %d values, want %d", len(embedding), Dimension)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("vecstore: topK must be positive, got %d", topK)
	}

	searchSQL := fmt.Sprintf(`SELECT id, source_url, page_title, heading_context, content,
	1 - (embedding <=> $1) AS similarity
	FROM %s
	ORDER BY embedding <=> $1
	LIMIT $2`, s.collection)

	rows, err := s.db.Query(ctx, searchSQL, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.collection, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.SourceURL, &r.PageTitle, &r.HeadingContext, &r.Text, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}

// Sample returns the first n records by ID, without similarity scores. Used
// by the verify command to show what the index holds.
func (s *Store) Sample(ctx context.Context, n int) ([]Result, error) {
	if n <= 0 {
		return nil, fmt.Errorf("vecstore: sample size must be positive, got %d", n)
	}
	sampleSQL := fmt.Sprintf(
		`SELECT id, source_url, page_title, heading_context, content FROM %s ORDER BY id LIMIT $1`,
		s.collection)

	rows, err := s.db.Query(ctx, sampleSQL, n)
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", s.collection, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.SourceURL, &r.PageTitle, &r.HeadingContext, &r.Text); err != nil {
			return nil, fmt.Errorf("scan sample row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample rows: %w", err)
	}
	return results, nil
}

// Count reports how many records the collection holds.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	countSQL := fmt.Sprintf(`SELECT count(*) FROM %s`, s.collection)
	if err := s.db.QueryRow(ctx, countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", s.collection, err)
	}
	return n, nil
}

// Truncate removes every record. Used by ingest --reset so a shrunken corpus
// does not leave stale chunks behind.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, s.collection)); err != nil {
		return fmt.Errorf("truncate %s: %w", s.collection, err)
	}
	s.logger.Info("collection truncated", "collection", s.collection)
	return nil
}

// Fatal storage conditions that retrying cannot fix: disk full, server out
// of memory, configuration limits.
var fatalSQLStates = map[string]struct{}{
	"53100": {},
	"53200": {},
	"53400": {},
}

// Classify maps storage errors for the retry executor. Connection-class
// failures are retryable; capacity exhaustion and constraint errors are not.
func Classify(err error) retry.Classification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Classification{Retryable: false, RecordFailure: false}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, fatal := fatalSQLStates[pgErr.Code]; fatal {
			return retry.Classification{Retryable: false, RecordFailure: true}
		}
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "57": // connection failures, operator shutdown
				return retry.Classification{Retryable: true, RecordFailure: true}
			}
		}
		return retry.Classification{Retryable: false, RecordFailure: true}
	}

	// Errors without a SQLSTATE are transport-level; worth another try.
	return retry.Classification{Retryable: true, RecordFailure: true}
}

// IsFatal reports whether err is a storage-capacity condition that must
// abort the run rather than skip the unit of work.
func IsFatal(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	_, fatal := fatalSQLStates[pgErr.Code]
	return fatal
}

// IsMissing reports whether err means the collection table does not exist
// yet, which is what a read against a never-ingested database produces.
func IsMissing(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
