// Package prefetch issues bounded-parallel requests to external data
// sources and extracts PrefetchFacts from their responses.
package prefetch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.helix.agent/internal/concurrency"
	"dev.helix.agent/internal/models"
)

// Source is an external data connector, identified by a stable id.
type Source interface {
	ID() string
	Fetch(ctx context.Context, entityKind, entityValue string) (rawSnippet string, err error)
}

// Extractor turns a source's raw response into zero or more PrefetchFacts.
type Extractor func(sourceID, entityKind, entityValue, raw string) []models.PrefetchFact

// PlanEntry maps one (intent, entity-kind) pair to the sources that should
// be queried for it.
type PlanEntry struct {
	Intent     models.Intent
	EntityKind string
	Sources    []Source
}

// Plan is the per-intent fetch plan.
type Plan []PlanEntry

// Config controls fan-out concurrency and per-source timeout.
type Config struct {
	MaxConcurrency int
	SourceTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{MaxConcurrency: 8, SourceTimeout: 10 * time.Second}
}

// Fetcher runs the Prefetch Fan-out stage.
type Fetcher struct {
	plan    Plan
	extract Extractor
	cfg     Config
	cache   *redis.Client
	log     *logrus.Logger
}

// New builds a Fetcher. cache may be nil to disable caching.
func New(plan Plan, extract Extractor, cfg Config, cache *redis.Client, log *logrus.Logger) *Fetcher {
	if log == nil {
		log = logrus.New()
	}
	return &Fetcher{plan: plan, extract: extract, cfg: cfg, cache: cache, log: log}
}

// Run executes every planned (intent, entity) × source fetch concurrently,
// bounded by cfg.MaxConcurrency, and returns the ordered facts plus any
// non-fatal fetch errors. Results for one source are cached briefly so a
// burst of similar requests does not repeat identical external calls.
func (f *Fetcher) Run(ctx context.Context, classification models.Classification) ([]models.PrefetchFact, []string) {
	var tasks []concurrency.Task
	sourceByTaskID := map[string]string{}

	for _, entry := range f.plan {
		if entry.Intent != classification.Intent {
			continue
		}
		for _, value := range classification.Entities[entry.EntityKind] {
			for _, src := range entry.Sources {
				source := src
				entityKind := entry.EntityKind
				entityValue := value
				taskID := fmt.Sprintf("%s|%s|%s", source.ID(), entityKind, entityValue)
				sourceByTaskID[taskID] = source.ID()
				tasks = append(tasks, concurrency.Task{
					ID: taskID,
					Run: func(taskCtx context.Context) (any, error) {
						cacheKey := "prefetch:" + taskID
						if f.cache != nil {
							if cached, err := f.cache.Get(taskCtx, cacheKey).Result(); err == nil {
								return f.extract(source.ID(), entityKind, entityValue, cached), nil
							}
						}
						raw, err := source.Fetch(taskCtx, entityKind, entityValue)
						if err != nil {
							return nil, err
						}
						if f.cache != nil {
							f.cache.Set(taskCtx, cacheKey, raw, f.cfg.SourceTimeout)
						}
						return f.extract(source.ID(), entityKind, entityValue, raw), nil
					},
				})
			}
		}
	}

	if len(tasks) == 0 {
		// Plan declared no sources for this intent: the stage completes
		// with an empty but non-erroneous result.
		return nil, nil
	}

	fan := concurrency.NewFanOut(f.cfg.MaxConcurrency, f.cfg.SourceTimeout)
	results := fan.RunBatch(ctx, tasks)

	var facts []models.PrefetchFact
	var errs []string
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", sourceByTaskID[r.TaskID], r.Err))
			f.log.WithError(r.Err).WithField("source", sourceByTaskID[r.TaskID]).Warn("prefetch: source fetch failed")
			continue
		}
		if batch, ok := r.Value.([]models.PrefetchFact); ok {
			facts = append(facts, batch...)
		}
	}

	// Order by source id, extraction order within a source preserved, so a
	// second run over identical inputs returns identically ordered facts.
	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].SourceID < facts[j].SourceID
	})

	return facts, errs
}
