package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazySingleFlight(t *testing.T) {
	var calls int64
	l := NewLazy(func() (int, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(5 * time.Millisecond)
		return 42, nil
	})

	assert.False(t, l.Loaded())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Get()
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.True(t, l.Loaded())
}

func TestLazyStickyError(t *testing.T) {
	var calls int
	l := NewLazy(func() (string, error) {
		calls++
		return "", errors.New("init failed")
	})

	_, err := l.Get()
	require.Error(t, err)
	_, err = l.Get()
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, l.Loaded())
}

func TestBackgroundStartStop(t *testing.T) {
	started := make(chan struct{})
	bg := NewBackground(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	bg.Start()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("background task never started")
	}

	bg.Stop()
	select {
	case <-bg.Done():
	case <-time.After(time.Second):
		t.Fatal("background task never finished")
	}
}
