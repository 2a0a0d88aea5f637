// Package retrieval looks up snippets in a pre-indexed corpus by semantic
// similarity to the query. The vector index and embedder are
// external collaborators; this package only tracks provenance in the
// RetrievalContext it hands back to the workflow driver.
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.helix.agent/internal/embedder"
	"dev.helix.agent/internal/models"
)

// Snippet is one retrieved passage. The narrative content never enters
// AnalysisState; it is exposed to the Agent Invoker only through the
// opaque Handle on RetrievalContext.
type Snippet struct {
	SourceID string
	Text     string
	Score    float64
}

// VectorIndex is the external collaborator performing similarity search.
type VectorIndex interface {
	Query(ctx context.Context, embedding []float64, k int) ([]Snippet, error)
}

// Config controls the retrieval stage.
type Config struct {
	TopK           int
	SimilarityFloor float64
	CacheTTL       time.Duration
}

// DefaultConfig returns the stock limits (K=20, similarity floor 0.35).
func DefaultConfig() Config {
	return Config{TopK: 20, SimilarityFloor: 0.35, CacheTTL: 10 * time.Minute}
}

// Retriever runs the Retrieval stage.
type Retriever struct {
	index    VectorIndex
	embedSvc *embedder.Service
	cache    *redis.Client
	cfg      Config
	log      *logrus.Logger
}

func New(index VectorIndex, embedSvc *embedder.Service, cache *redis.Client, cfg Config, log *logrus.Logger) *Retriever {
	if log == nil {
		log = logrus.New()
	}
	return &Retriever{index: index, embedSvc: embedSvc, cache: cache, cfg: cfg, log: log}
}

// Run returns a RetrievalContext for query. Any failure is non-fatal: an
// empty context with a warning is returned instead of an error.
func (r *Retriever) Run(ctx context.Context, queryText string) (*models.RetrievalContext, []string) {
	snippets, err := r.lookup(ctx, queryText)
	if err != nil {
		r.log.WithError(err).Warn("retrieval: lookup failed, returning empty context")
		return &models.RetrievalContext{}, []string{"retrieval unavailable: " + err.Error()}
	}

	filtered := make([]Snippet, 0, len(snippets))
	for _, s := range snippets {
		if s.Score >= r.cfg.SimilarityFloor {
			filtered = append(filtered, s)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > r.cfg.TopK {
		filtered = filtered[:r.cfg.TopK]
	}

	sourceIDs := make([]string, 0, len(filtered))
	seen := map[string]bool{}
	for _, s := range filtered {
		if !seen[s.SourceID] {
			sourceIDs = append(sourceIDs, s.SourceID)
			seen[s.SourceID] = true
		}
	}
	sort.Strings(sourceIDs)

	return &models.RetrievalContext{
		SnippetCount: len(filtered),
		SourceIDs:    sourceIDs,
		Handle:       filtered,
	}, nil
}

func (r *Retriever) lookup(ctx context.Context, queryText string) ([]Snippet, error) {
	cacheKey := "retrieval:" + hashQuery(queryText)

	if r.cache != nil {
		if cached, err := r.cache.Get(ctx, cacheKey).Result(); err == nil {
			var snippets []Snippet
			if jsonErr := json.Unmarshal([]byte(cached), &snippets); jsonErr == nil {
				return snippets, nil
			}
		}
	}

	emb, err := r.embedSvc.Get()
	if err != nil {
		return nil, err
	}
	vec, err := emb.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	snippets, err := r.index.Query(ctx, vec, r.cfg.TopK)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if data, err := json.Marshal(snippets); err == nil {
			r.cache.Set(ctx, cacheKey, data, r.cfg.CacheTTL)
		}
	}
	return snippets, nil
}

func hashQuery(q string) string {
	sum := sha256.Sum256([]byte(q))
	return hex.EncodeToString(sum[:])
}
