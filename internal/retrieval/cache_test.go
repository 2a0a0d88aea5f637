package retrieval

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.agent/internal/embedder"
)

type countingIndex struct {
	snippets []Snippet
	queries  int
}

func (c *countingIndex) Query(ctx context.Context, embedding []float64, k int) ([]Snippet, error) {
	c.queries++
	return c.snippets, nil
}

func TestLookupServesSecondQueryFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	index := &countingIndex{snippets: []Snippet{
		{Text: "qatar labor force survey", SourceID: "psa", Score: 0.9},
	}}
	svc := embedder.NewService(func() (embedder.Embedder, error) { return stubEmbedder{}, nil })

	r := New(index, svc, cache, DefaultConfig(), nil)

	ctx := context.Background()
	first, warnings := r.Run(ctx, "unemployment in qatar")
	require.Empty(t, warnings)
	require.Equal(t, 1, first.SnippetCount)
	require.Equal(t, 1, index.queries)

	second, warnings := r.Run(ctx, "unemployment in qatar")
	require.Empty(t, warnings)
	assert.Equal(t, first.SourceIDs, second.SourceIDs)
	assert.Equal(t, 1, index.queries, "identical query should be served from the cache")

	_, _ = r.Run(ctx, "a different question entirely")
	assert.Equal(t, 2, index.queries)
}
