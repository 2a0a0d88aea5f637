// Package embedder provides the process-wide embedder singleton: lazily
// initialized, pre-warmed at startup, and safe under concurrent first use.
package embedder

import (
	"context"
	"math"

	"dev.helix.agent/internal/concurrency"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Service owns the shared embedder lifecycle (init, get, teardown) with
// single-flight initialization, injected into the stages that embed text
// rather than fetched from a package global.
type Service struct {
	loader *concurrency.Lazy[Embedder]
}

// NewService builds a Service around factory, which constructs the real
// embedder client (e.g. a chroma-go embedding function) on first use.
func NewService(factory func() (Embedder, error)) *Service {
	return &Service{loader: concurrency.NewLazy(factory)}
}

// Warm triggers initialization eagerly; safe to call from multiple
// goroutines at process startup.
func (s *Service) Warm() error {
	_, err := s.loader.Get()
	return err
}

// Get returns the underlying Embedder, initializing it on first call.
func (s *Service) Get() (Embedder, error) {
	return s.loader.Get()
}

// Ready reports whether the embedder has completed initialization.
func (s *Service) Ready() bool {
	return s.loader.Loaded()
}

// CosineSimilarity returns cosine similarity between a and b normalized to
// [0,1], the scale the clustering threshold is compared on.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (cos + 1) / 2
}
