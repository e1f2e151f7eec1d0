package vecstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/testutil"
)

func unitVector(hot int) []float32 {
	v := make([]float32, Dimension)
	v[hot] = 1
	return v
}

func TestStoreRoundTrip_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := testutil.SetupTestDB(t)

	store, err := New(pool, "doc_chunks", nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	records := []Record{
		{
			ID:             0,
			SourceURL:      "https://docs.example.com/install",
			PageTitle:      "Install",
			HeadingContext: "Install > From Binary",
			Text:           "Download the binary and place it on your PATH.",
			TokenCount:     9,
			PositionInPage: 0,
			Embedding:      unitVector(0),
		},
		{
			ID:             1,
			SourceURL:      "https://docs.example.com/config",
			PageTitle:      "Configuration",
			HeadingContext: "Configuration",
			Text:           "Settings live in a YAML file in the home directory.",
			TokenCount:     11,
			PositionInPage: 0,
			Embedding:      unitVector(1),
		},
	}
	require.NoError(t, store.Upsert(ctx, records))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Nearest to the first basis vector must be record 0 with similarity 1.
	results, err := store.Search(ctx, unitVector(0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(0), results[0].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "Install > From Binary", results[0].HeadingContext)
	assert.Less(t, results[1].Similarity, results[0].Similarity)
}

func TestStoreUpsertOverwrites_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := testutil.SetupTestDB(t)

	store, err := New(pool, "doc_chunks", nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	rec := Record{ID: 5, SourceURL: "u", PageTitle: "t", HeadingContext: "h", Text: "old text", TokenCount: 2, Embedding: unitVector(3)}
	require.NoError(t, store.Upsert(ctx, []Record{rec}))

	rec.Text = "new text"
	require.NoError(t, store.Upsert(ctx, []Record{rec}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	results, err := store.Search(ctx, unitVector(3), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new text", results[0].Text)
}

func TestStoreTruncate_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := testutil.SetupTestDB(t)

	store, err := New(pool, "doc_chunks", nil)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(ctx))

	require.NoError(t, store.Upsert(ctx, []Record{
		{ID: 0, SourceURL: "u", PageTitle: "t", HeadingContext: "h", Text: "x", TokenCount: 1, Embedding: unitVector(0)},
	}))
	require.NoError(t, store.Truncate(ctx))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
