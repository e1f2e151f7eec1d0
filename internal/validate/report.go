package validate

import (
	"fmt"
	"strings"
)

const (
	headerRule  = "============================================================"
	sectionRule = "------------------------------------------------------------"
	previewLen  = 150
)

func (v *Validator) renderHeader(r *Report, vectorCount int64, queryCount int) {
	fmt.Fprintln(v.out, headerRule)
	fmt.Fprintln(v.out, "Retrieval Validation Report")
	fmt.Fprintln(v.out, headerRule)
	fmt.Fprintf(v.out, "Collection: %s (%d vectors)\n", r.Collection, vectorCount)
	fmt.Fprintf(v.out, "Date: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(v.out, "Queries: %d\n", queryCount)
	fmt.Fprintln(v.out, headerRule)
	fmt.Fprintln(v.out)
}

func (v *Validator) renderQuery(qr QueryResult, rank, total int) {
	fmt.Fprintln(v.out, sectionRule)
	fmt.Fprintf(v.out, "Query %d/%d: %q\n", rank, total, qr.Query.Text)
	if qr.Query.Category != "" {
		fmt.Fprintf(v.out, "Category: %s\n", qr.Query.Category)
	}
	fmt.Fprintln(v.out, sectionRule)

	if len(qr.Results) == 0 {
		fmt.Fprintln(v.out, "No results found; the collection may not cover this query.")
		fmt.Fprintln(v.out)
		return
	}

	shown := qr.Results
	if len(shown) > v.topK {
		shown = shown[:v.topK]
	}
	for i, res := range shown {
		fmt.Fprintf(v.out, "%d. Score: %.4f\n", i+1, res.Similarity)
		fmt.Fprintf(v.out, "   Title: %s\n", res.PageTitle)
		fmt.Fprintf(v.out, "   Heading: %s\n", res.HeadingContext)
		fmt.Fprintf(v.out, "   URL: %s\n", res.SourceURL)
		fmt.Fprintf(v.out, "   Text: %s\n", preview(res.Text))
	}

	if qr.LowConfidence {
		fmt.Fprintf(v.out, "WARNING: low confidence (top score < %.1f); consider rephrasing the query or adding content\n", LowConfidenceScore)
	}
	if qr.HasGroundTruth {
		fmt.Fprintf(v.out, "precision@3: %.2f  precision@5: %.2f\n", qr.PrecisionAt3, qr.PrecisionAt5)
	}
	fmt.Fprintln(v.out)
}

func (v *Validator) renderSummary(r *Report) {
	fmt.Fprintln(v.out, headerRule)
	fmt.Fprintln(v.out, "Summary")
	fmt.Fprintln(v.out, headerRule)
	fmt.Fprintf(v.out, "Total queries: %d\n", len(r.Queries))
	fmt.Fprintf(v.out, "Average top-1 score: %.2f\n", r.AvgTop1Score)
	fmt.Fprintf(v.out, "Queries with top-1 score >= %.1f: %d/%d (%.0f%%)\n",
		RelevanceFloor, r.QueriesAboveFloor, len(r.Queries), r.RelevancePercent)
	if r.GroundTruthCount > 0 {
		fmt.Fprintf(v.out, "Mean precision@3 (%d ground-truth queries): %.2f\n", r.GroundTruthCount, r.AvgPrecisionAt3)
		fmt.Fprintf(v.out, "Mean precision@5 (%d ground-truth queries): %.2f\n", r.GroundTruthCount, r.AvgPrecisionAt5)
	} else {
		fmt.Fprintln(v.out, "No ground truth defined; precision gate waived")
	}
	fmt.Fprintln(v.out)

	if r.Passed {
		fmt.Fprintln(v.out, "PASS: retrieval quality meets success criteria")
	} else {
		fmt.Fprintln(v.out, "FAIL: retrieval quality does not meet success criteria")
	}
	if r.RelevancePass {
		fmt.Fprintf(v.out, "  relevance: %.0f%% >= %.0f%%\n", r.RelevancePercent, RelevancePassPercent)
	} else {
		fmt.Fprintf(v.out, "  relevance: %.0f%% < %.0f%%\n", r.RelevancePercent, RelevancePassPercent)
	}
	if r.GroundTruthCount > 0 {
		if r.PrecisionPass {
			fmt.Fprintf(v.out, "  precision@3: %.2f >= %.2f\n", r.AvgPrecisionAt3, PrecisionPassMean)
		} else {
			fmt.Fprintf(v.out, "  precision@3: %.2f < %.2f\n", r.AvgPrecisionAt3, PrecisionPassMean)
		}
	}
	fmt.Fprintln(v.out, headerRule)
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= previewLen {
		return text
	}
	return string(runes[:previewLen]) + "..."
}
