package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/docpipe/docpipe/internal/validate"
)

// ErrQualityGate reports a completed validation run whose metrics missed the
// acceptance thresholds. The report has already been printed when it is
// returned.
var ErrQualityGate = errors.New("retrieval quality below acceptance thresholds")

func newValidateCmd() *cobra.Command {
	var (
		topK    int
		battery string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the retrieval quality battery against the index",
		Long: `Embeds each test query in query mode, searches the collection, and
scores the results: average top-1 similarity, the share of queries clearing
the relevance floor, and precision@3/@5 for queries with curated ground
truth. Exits non-zero when the quality gate fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, topK, battery)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "results shown per query (default from configuration)")
	cmd.Flags().StringVar(&battery, "battery", "", "YAML file with test queries and ground truth (default: built-in battery)")
	return cmd
}

func runValidate(cmd *cobra.Command, topK int, batteryPath string) error {
	ctx := cmd.Context()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	queries := validate.DefaultBattery()
	if batteryPath != "" {
		queries, err = validate.LoadBattery(batteryPath)
		if err != nil {
			return err
		}
	}

	if topK <= 0 {
		topK = app.cfg.SearchTopK
	}

	embedder, err := app.embedClient(ctx)
	if err != nil {
		return err
	}

	v, err := validate.New(embedder, app.store, topK, cmd.OutOrStdout(), app.logger)
	if err != nil {
		return err
	}

	report, err := v.Run(ctx, queries)
	if err != nil {
		return err
	}
	if !report.Passed {
		return ErrQualityGate
	}
	return nil
}
