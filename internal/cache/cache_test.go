package cache

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

func TestMemoryExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	val, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	now = now.Add(time.Minute)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoaderCachesAndCollapsesConcurrentMisses(t *testing.T) {
	loader := NewLoader(NewMemory(), time.Minute)
	var loads atomic.Int32
	release := make(chan struct{})

	load := func(ctx context.Context) ([]byte, error) {
		loads.Add(1)
		<-release
		return []byte("prices"), nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			val, err := loader.GetOrLoad(context.Background(), "eth", load)
			assert.NoError(t, err)
			results[i] = val
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, r := range results {
		assert.Equal(t, []byte("prices"), r)
	}

	val, err := loader.GetOrLoad(context.Background(), "eth", load)
	require.NoError(t, err)
	assert.Equal(t, []byte("prices"), val)
	assert.Equal(t, int32(1), loads.Load())
}

func TestLoaderDoesNotCacheErrors(t *testing.T) {
	loader := NewLoader(NewMemory(), time.Minute)
	calls := 0
	boom := errors.New("upstream down")

	_, err := loader.GetOrLoad(context.Background(), "k", func(context.Context) ([]byte, error) {
		calls++
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	val, err := loader.GetOrLoad(context.Background(), "k", func(context.Context) ([]byte, error) {
		calls++
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), val)
	assert.Equal(t, 2, calls)
}

func TestLoaderSharedLoadSurvivesFirstCallerCancel(t *testing.T) {
	loader := NewLoader(NewMemory(), time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})
	load := func(ctx context.Context) ([]byte, error) {
		close(started)
		select {
		case <-release:
			return []byte("prices"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := loader.GetOrLoad(firstCtx, "eth", load)
		firstErr <- err
	}()
	<-started

	second := make(chan []byte, 1)
	go func() {
		val, err := loader.GetOrLoad(context.Background(), "eth", load)
		assert.NoError(t, err)
		second <- val
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	assert.Equal(t, []byte("prices"), <-second)
}

func TestLoaderLoadTimeout(t *testing.T) {
	loader := NewLoader(NewMemory(), time.Minute).WithLoadTimeout(20 * time.Millisecond)
	_, err := loader.GetOrLoad(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
