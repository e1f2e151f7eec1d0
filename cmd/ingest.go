package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/chunk"
	"github.com/docpipe/docpipe/internal/crawler"
	"github.com/docpipe/docpipe/internal/pipeline"
)

func newIngestCmd() *cobra.Command {
	var (
		reset   bool
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Crawl the documentation corpus and index its chunks",
		Long: `Discovers pages under the configured base URL (sitemap first, crawl
fallback), extracts and chunks their content, embeds the chunks, and upserts
the vectors into the collection. Chunk IDs are ordinal per run; pass --reset
when the corpus shrank so stale chunks do not linger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, reset, baseURL)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "truncate the collection before ingesting")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "override the configured corpus base URL")
	return cmd
}

func runIngest(cmd *cobra.Command, reset bool, baseURL string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if baseURL != "" {
		app.cfg.BaseURL = baseURL
	}
	if err := app.cfg.RequireBaseURL(); err != nil {
		return err
	}

	fetchTimeout := time.Duration(app.cfg.FetchTimeoutMs) * time.Millisecond

	locator, err := crawler.NewLocator(app.cfg.BaseURL, fetchTimeout, app.logger)
	if err != nil {
		return err
	}
	extractor := crawler.NewExtractor(fetchTimeout, app.logger)

	splitter, err := chunk.NewSplitter(app.cfg.ChunkMaxTokens, app.cfg.ChunkOverlapTokens, app.logger)
	if err != nil {
		return err
	}

	embedder, err := app.embedClient(ctx)
	if err != nil {
		return err
	}

	p, err := pipeline.New(locator, extractor, splitter, embedder, app.store,
		pipeline.NewRunLog(app.pool),
		pipeline.Options{
			BaseURL:    app.cfg.BaseURL,
			Collection: app.cfg.Collection,
			BatchSize:  app.cfg.EmbedBatchSize,
			Reset:      reset,
		}, app.logger)
	if err != nil {
		return err
	}

	stats, err := p.Run(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s finished in %s\n", stats.RunID, stats.FinishedAt.Sub(stats.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(out, "  pages discovered: %d\n", stats.PagesDiscovered)
	fmt.Fprintf(out, "  pages processed:  %d\n", stats.PagesProcessed)
	fmt.Fprintf(out, "  pages failed:     %d\n", stats.PagesFailed)
	fmt.Fprintf(out, "  batches failed:   %d\n", stats.BatchesFailed)
	fmt.Fprintf(out, "  chunks created:   %d\n", stats.ChunksCreated)
	fmt.Fprintf(out, "  vectors stored:   %d\n", stats.VectorsStored)
	for _, f := range stats.Failures {
		fmt.Fprintf(out, "  failed: %s (%s)\n", f.URL, f.Error)
	}
	return nil
}
