// Package cmd wires the docpipe CLI: ingest, validate, query, verify and
// version commands over the shared configuration and storage layers.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/db"
	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/embed"
	"github.com/docpipe/docpipe/internal/log"
	"github.com/docpipe/docpipe/internal/vecstore"
)

var (
	flagLogLevel string
	flagLogJSON  bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docpipe",
		Short: "Ingest a documentation corpus into a vector index and validate retrieval quality",
		Long: `docpipe crawls a documentation site, splits pages into heading-aligned
chunks, embeds them, and stores the vectors in PostgreSQL with pgvector.
A separate validation run issues natural-language queries against the index
and gates on precision@k retrieval metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit logs as JSON")

	root.AddCommand(newIngestCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newQueryCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the CLI. Returned errors have already been scoped to a
// command; main only needs to print them and choose the exit status.
func Execute() error {
	return newRootCmd().Execute()
}

func newLogger() log.Logger {
	return log.New(log.Config{Level: log.ParseLevel(flagLogLevel), JSON: flagLogJSON})
}

// app bundles the dependencies shared by every database-backed command.
type app struct {
	cfg    *config.Config
	logger log.Logger
	pool   *pgxpool.Pool
	store  *vecstore.Store
}

// newApp loads and validates configuration, connects to PostgreSQL, applies
// migrations, and opens the collection store. Close the returned app when
// done.
func newApp(ctx context.Context) (*app, error) {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to postgres at %s:%d: %w", cfg.PostgresHost, cfg.PostgresPort, err)
	}

	store, err := vecstore.New(pool, cfg.Collection, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, pool: pool, store: store}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func (a *app) embedClient(ctx context.Context) (*embed.Client, error) {
	return embed.New(ctx, embed.Options{
		APIKey:            os.Getenv("GEMINI_API_KEY"),
		Model:             a.cfg.EmbedderModel,
		BatchSize:         a.cfg.EmbedBatchSize,
		RequestsPerMinute: a.cfg.EmbedRPM,
		Logger:            a.logger,
	})
}
