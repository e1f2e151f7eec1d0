package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/vecstore"
)

func newQueryCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Search the index with a single ad-hoc query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], topK)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "number of results (default from configuration)")
	return cmd
}

func runQuery(cmd *cobra.Command, text string, topK int) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if topK <= 0 {
		topK = app.cfg.SearchTopK
	}

	embedder, err := app.embedClient(ctx)
	if err != nil {
		return err
	}

	embedding, err := embedder.EmbedQuery(ctx, text)
	if err != nil {
		return err
	}
	results, err := app.store.Search(ctx, embedding, topK)
	if err != nil {
		if vecstore.IsMissing(err) {
			return fmt.Errorf("collection %q does not exist; run 'docpipe ingest' first", app.cfg.Collection)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%d. Score: %.4f\n", i+1, r.Similarity)
		fmt.Fprintf(out, "   Title: %s\n", r.PageTitle)
		fmt.Fprintf(out, "   Heading: %s\n", r.HeadingContext)
		fmt.Fprintf(out, "   URL: %s\n", r.SourceURL)
		fmt.Fprintf(out, "   Text: %s\n\n", r.Text)
	}
	return nil
}
