package embedder

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0, 0}, nil
}

func TestWarmIsIdempotentUnderConcurrency(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	svc := NewService(func() (Embedder, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return fakeEmbedder{}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Warm()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	assert.True(t, svc.Ready())
}

func TestGetPropagatesFactoryError(t *testing.T) {
	svc := NewService(func() (Embedder, error) { return nil, errors.New("unavailable") })
	_, err := svc.Get()
	require.Error(t, err)
}

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	sim := CosineSimilarity([]float64{1, 2, 3}, []float64{1, 2, 3})
	assert.InDelta(t, 1.0, sim, 0.0001)
}

func TestCosineSimilarityOrthogonalIsHalf(t *testing.T) {
	sim := CosineSimilarity([]float64{1, 0}, []float64{0, 1})
	assert.InDelta(t, 0.5, sim, 0.0001)
}

func TestCosineSimilarityMismatchedLengthIsZero(t *testing.T) {
	sim := CosineSimilarity([]float64{1, 2}, []float64{1})
	assert.Equal(t, 0.0, sim)
}
