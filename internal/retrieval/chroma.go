package retrieval

import (
	"context"
	"fmt"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

// ChromaIndex adapts a Chroma collection to the VectorIndex interface,
// wiring the amikos-tech/chroma-go client into the
// Retrieval stage's vector-index collaborator.
type ChromaIndex struct {
	client     chroma.Client
	collection chroma.Collection
}

// NewChromaIndex connects to url and resolves (or creates) the named
// collection used as the pre-indexed document corpus.
func NewChromaIndex(ctx context.Context, url, collectionName string) (*ChromaIndex, error) {
	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(url))
	if err != nil {
		return nil, fmt.Errorf("chroma: connect: %w", err)
	}
	collection, err := client.GetOrCreateCollection(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("chroma: get or create collection %q: %w", collectionName, err)
	}
	return &ChromaIndex{client: client, collection: collection}, nil
}

// Query performs a nearest-neighbor search against the collection and maps
// results into retrieval.Snippet, exposing only stable ids and similarity
// scores, never raw vectors, to the caller.
func (c *ChromaIndex) Query(ctx context.Context, embedding []float64, k int) ([]Snippet, error) {
	result, err := c.collection.Query(ctx,
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat64(embedding)),
		chroma.WithNResults(k),
	)
	if err != nil {
		return nil, fmt.Errorf("chroma: query: %w", err)
	}

	var docs chroma.Documents
	if groups := result.GetDocumentsGroups(); len(groups) > 0 {
		docs = groups[0]
	}
	var distances embeddings.Distances
	if groups := result.GetDistancesGroups(); len(groups) > 0 {
		distances = groups[0]
	}
	var ids chroma.DocumentIDs
	if groups := result.GetIDGroups(); len(groups) > 0 {
		ids = groups[0]
	}

	snippets := make([]Snippet, 0, k)
	for i, doc := range docs {
		var distance float64
		if i < len(distances) {
			distance = float64(distances[i])
		}
		var id string
		if i < len(ids) {
			id = string(ids[i])
		}
		snippets = append(snippets, Snippet{
			SourceID: id,
			Text:     doc.ContentString(),
			Score:    1 - distance,
		})
	}
	return snippets, nil
}
