package pipeline

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RunRecorder persists run progress so interrupted or failed runs stay
// inspectable. Recording failures never fail the run itself.
type RunRecorder interface {
	RecordStart(ctx context.Context, stats *Stats) error
	RecordFinish(ctx context.Context, stats *Stats) error
}

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const insertRunSQL = `INSERT INTO pipeline_runs
	(id, base_url, collection, pages_discovered, started_at)
	VALUES ($1, $2, $3, $4, $5)`

const finishRunSQL = `UPDATE pipeline_runs SET
	pages_discovered = $2,
	pages_processed = $3,
	pages_failed = $4,
	chunks_created = $5,
	vectors_stored = $6,
	finished_at = $7
	WHERE id = $1`

// RunLog records runs in the pipeline_runs table.
type RunLog struct {
	db querier
}

func NewRunLog(db querier) *RunLog {
	return &RunLog{db: db}
}

func (l *RunLog) RecordStart(ctx context.Context, stats *Stats) error {
	_, err := l.db.Exec(ctx, insertRunSQL,
		stats.RunID, stats.BaseURL, stats.Collection, stats.PagesDiscovered, stats.StartedAt)
	if err != nil {
		return fmt.Errorf("insert pipeline run: %w", err)
	}
	return nil
}

func (l *RunLog) RecordFinish(ctx context.Context, stats *Stats) error {
	_, err := l.db.Exec(ctx, finishRunSQL,
		stats.RunID, stats.PagesDiscovered, stats.PagesProcessed, stats.PagesFailed,
		stats.ChunksCreated, stats.VectorsStored, stats.FinishedAt)
	if err != nil {
		return fmt.Errorf("update pipeline run: %w", err)
	}
	return nil
}
