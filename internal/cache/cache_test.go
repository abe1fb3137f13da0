package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "risk:0xabc:aave-v3:500", Key("risk", "0xABC", "aave-v3", "500"))
}

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	type payload struct {
		APY float64 `json:"apy"`
	}

	require.NoError(t, c.Set(ctx, "k", payload{APY: 0.05}, time.Minute))

	var got payload
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 0.05, got.APY)

	found, err = c.Get(ctx, "absent", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	var got string
	found, _ := c.Get(ctx, "k", &got)
	assert.True(t, found)

	now = now.Add(2 * time.Minute)
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found, "expired entry must read as a miss")
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", map[string]int{"n": 7}, time.Minute))

	var got map[string]int
	found, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 7, got["n"])

	require.NoError(t, c.Delete(ctx, "k"))
	found, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSelectFallsBackToMemory(t *testing.T) {
	c := Select("127.0.0.1:1", "", 0) // nothing listening
	_, isMemory := c.(*MemoryCache)
	assert.True(t, isMemory, "unreachable Redis must degrade to the in-memory cache")
}

func TestMemoizerDeduplicatesConcurrentMisses(t *testing.T) {
	m := NewMemoizer(NewMemoryCache())
	ctx := context.Background()

	var computations atomic.Int64
	var wg sync.WaitGroup
	results := make([]int, 50)
	errs := make([]error, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Do(ctx, "hot-key", time.Minute, &results[i], func(context.Context) (interface{}, error) {
				computations.Add(1)
				time.Sleep(20 * time.Millisecond) // hold the call open so all waiters pile up
				return 42, nil
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), computations.Load(), "cold cache with 50 concurrent callers must compute once")
	for i := 0; i < 50; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, 42, results[i])
	}
}

func TestMemoizerFailureIsRetriable(t *testing.T) {
	m := NewMemoizer(NewMemoryCache())
	ctx := context.Background()

	boom := errors.New("upstream down")
	var out int
	err := m.Do(ctx, "k", time.Minute, &out, func(context.Context) (interface{}, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	// The failed call must be gone from the in-flight table.
	err = m.Do(ctx, "k", time.Minute, &out, func(context.Context) (interface{}, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}

func TestMemoizerServesCacheHit(t *testing.T) {
	m := NewMemoizer(NewMemoryCache())
	ctx := context.Background()

	var out int
	require.NoError(t, m.Do(ctx, "k", time.Minute, &out, func(context.Context) (interface{}, error) {
		return 1, nil
	}))

	err := m.Do(ctx, "k", time.Minute, &out, func(context.Context) (interface{}, error) {
		t.Fatal("compute must not run on a warm cache")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out)

	hits, misses := m.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
