package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/vecstore"
)

const verifySampleSize = 3

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check database connectivity and show what the collection holds",
		Args:  cobra.NoArgs,
		RunE:  runVerify,
	}
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	count, err := app.store.Count(ctx)
	if err != nil {
		if vecstore.IsMissing(err) {
			return fmt.Errorf("collection %q does not exist; run 'docpipe ingest' first", app.cfg.Collection)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Collection %q: %d vectors\n", app.cfg.Collection, count)
	if count == 0 {
		fmt.Fprintln(out, "Collection is empty; run 'docpipe ingest' first.")
		return nil
	}

	sample, err := app.store.Sample(ctx, verifySampleSize)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Sample records:")
	for _, r := range sample {
		text := truncate(r.Text, 100)
		fmt.Fprintf(out, "  [%d] %s\n", r.ID, r.SourceURL)
		fmt.Fprintf(out, "      %s | %s\n", r.PageTitle, r.HeadingContext)
		fmt.Fprintf(out, "      %s\n", text)
	}
	return nil
}

// truncate shortens s to at most n runes, never splitting a multi-byte
// character.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
