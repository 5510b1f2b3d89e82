package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetRoundTrips(t *testing.T) {
	c := New[string, int](time.Minute, 10, EvictLRU)
	defer c.Stop()

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestGetMissingKey(t *testing.T) {
	c := New[string, int](time.Minute, 10, EvictLRU)
	defer c.Stop()

	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New[string, int](20*time.Millisecond, 10, EvictLRU)
	defer c.Stop()

	c.Set("a", 1)
	time.Sleep(40 * time.Millisecond)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](time.Minute, 2, EvictLRU)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // touch a, making b the LRU victim
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestFIFOEvictsInsertionOrder(t *testing.T) {
	c := New[string, int](time.Minute, 2, EvictFIFO)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // access should not matter for FIFO
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
}

func TestLFUEvictsLeastFrequentlyUsed(t *testing.T) {
	c := New[string, int](time.Minute, 2, EvictLFU)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Get("a")
	c.Get("b")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := New[string, int](time.Minute, 10, EvictLRU)
	defer c.Stop()

	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestGetOrLoadDedupesConcurrentLoaders(t *testing.T) {
	c := New[string, int](time.Minute, 10, EvictLRU)
	defer c.Stop()

	var loadCount int64
	loader := func(ctx context.Context) (int, error) {
		atomic.AddInt64(&loadCount, 1)
		time.Sleep(20 * time.Millisecond)
		return 42, nil
	}

	done := make(chan int, 5)
	for i := 0; i < 5; i++ {
		go func() {
			v, err := c.GetOrLoad(context.Background(), "key", loader)
			require.NoError(t, err)
			done <- v
		}()
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, 42, <-done)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&loadCount))
}

func TestGetOrLoadPropagatesLoaderError(t *testing.T) {
	c := New[string, int](time.Minute, 10, EvictLRU)
	defer c.Stop()

	_, err := c.GetOrLoad(context.Background(), "key", func(ctx context.Context) (int, error) {
		return 0, errors.New("load failed")
	})
	assert.Error(t, err)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := New[string, int](time.Minute, 10, EvictLRU)
	defer c.Stop()

	c.Set("a", 1)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestPredictivePrefetchWarmsPredictedFollowupKey(t *testing.T) {
	var loadCalls atomic.Int32
	loader := func(ctx context.Context, key string) (int, error) {
		loadCalls.Add(1)
		return 99, nil
	}

	c := New[string, int](time.Minute, 10, EvictLRU, WithPredictivePrefetch[string, int](loader))
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)

	// teach the prefetcher that "b" reliably follows "a"
	c.Get("a")
	c.Get("b")
	c.Get("a")
	c.Get("b")
	c.Delete("b")

	c.Get("a") // should predict and warm "b" in the background

	require.Eventually(t, func() bool {
		v, ok := c.Get("b")
		return ok && v == 99
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, loadCalls.Load(), int32(1))
}

func TestPredictivePrefetchSkipsWhenFollowupAlreadyFresh(t *testing.T) {
	var loadCalls atomic.Int32
	loader := func(ctx context.Context, key string) (int, error) {
		loadCalls.Add(1)
		return 99, nil
	}

	c := New[string, int](time.Minute, 10, EvictLRU, WithPredictivePrefetch[string, int](loader))
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Get("b")
	c.Get("a")
	c.Get("b") // "b" already cached and fresh

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), loadCalls.Load())
}
