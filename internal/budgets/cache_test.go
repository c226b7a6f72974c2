package budgets

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-quotes/internal/pricing"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SummaryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSummaryCache(client, ttl, discardLogger()), mr
}

func TestSummaryCacheMissThenHit(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	var loads int32
	loader := func(context.Context) (*pricing.BudgetSummary, error) {
		atomic.AddInt32(&loads, 1)
		return &pricing.BudgetSummary{GrandTotal: 242, VATPercentage: 21}, nil
	}

	s, err := cache.Fetch(context.Background(), 1, loader)
	require.NoError(t, err)
	assert.Equal(t, 242.0, s.GrandTotal)
	assert.True(t, mr.Exists("quotes:summary:1"))
	assert.Equal(t, time.Minute, mr.TTL("quotes:summary:1"))

	s, err = cache.Fetch(context.Background(), 1, loader)
	require.NoError(t, err)
	assert.Equal(t, 21.0, s.VATPercentage)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestSummaryCacheStoreAndInvalidate(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, 7, pricing.BudgetSummary{GrandTotal: 10}))
	s, err := cache.Fetch(ctx, 7, func(context.Context) (*pricing.BudgetSummary, error) {
		return nil, errors.New("loader must not run")
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.GrandTotal)

	require.NoError(t, cache.Invalidate(ctx, 7))
	assert.False(t, mr.Exists("quotes:summary:7"))
}

func TestSummaryCacheExpires(t *testing.T) {
	cache, mr := newTestCache(t, time.Second)
	ctx := context.Background()
	require.NoError(t, cache.Store(ctx, 3, pricing.BudgetSummary{GrandTotal: 1}))

	mr.FastForward(2 * time.Second)
	s, err := cache.Fetch(ctx, 3, func(context.Context) (*pricing.BudgetSummary, error) {
		return &pricing.BudgetSummary{GrandTotal: 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.GrandTotal)
}

func TestSummaryCacheDiscardsCorruptEntries(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	require.NoError(t, mr.Set("quotes:summary:5", "{not json"))

	s, err := cache.Fetch(context.Background(), 5, func(context.Context) (*pricing.BudgetSummary, error) {
		return &pricing.BudgetSummary{GrandTotal: 5}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, s.GrandTotal)
}

func TestSummaryCacheRedisDownFallsBack(t *testing.T) {
	cache, mr := newTestCache(t, time.Minute)
	mr.Close()

	s, err := cache.Fetch(context.Background(), 1, func(context.Context) (*pricing.BudgetSummary, error) {
		return &pricing.BudgetSummary{GrandTotal: 8}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 8.0, s.GrandTotal)
}

func TestSummaryCacheSharesConcurrentLoads(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)
	var loads int32
	release := make(chan struct{})
	loader := func(context.Context) (*pricing.BudgetSummary, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return &pricing.BudgetSummary{GrandTotal: 1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Fetch(context.Background(), 9, loader)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&loads), int32(2))
}

func TestSummaryCacheLoaderErrors(t *testing.T) {
	cache, _ := newTestCache(t, time.Minute)

	_, err := cache.Fetch(context.Background(), 1, func(context.Context) (*pricing.BudgetSummary, error) {
		return nil, ErrNotFound
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = cache.Fetch(context.Background(), 1, nil)
	assert.Error(t, err)
}

func TestSummaryCacheWithoutClient(t *testing.T) {
	cache := NewSummaryCache(nil, time.Minute, nil)
	s, err := cache.Fetch(context.Background(), 1, func(context.Context) (*pricing.BudgetSummary, error) {
		return &pricing.BudgetSummary{GrandTotal: 4}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, s.GrandTotal)
	assert.NoError(t, cache.Store(context.Background(), 1, *s))
	assert.NoError(t, cache.Invalidate(context.Background(), 1))
}
