package core

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

func TestTTLCacheRefreshAndStaleFallback(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	c := NewTTLCache(time.Minute, func(context.Context) (int, error) {
		n := calls.Add(1)
		if fail.Load() {
			return 0, errors.New("down")
		}
		return int(n), nil
	})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	v, stale, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.False(t, stale)

	v, _, _ = c.Get(ctx)
	assert.Equal(t, 1, v, "served from cache within ttl")

	now = now.Add(2 * time.Minute)
	fail.Store(true)
	v, stale, err = c.Get(ctx)
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, 1, v)

	fail.Store(false)
	c.Invalidate()
	v, stale, _ = c.Get(ctx)
	assert.False(t, stale)
	assert.Equal(t, 3, v)
}

func TestTTLCacheErrorWithoutValue(t *testing.T) {
	c := NewTTLCache(time.Minute, func(context.Context) ([]string, error) {
		return nil, errors.New("down")
	})
	_, _, err := c.Get(context.Background())
	assert.EqualError(t, err, "down")
}

func TestTTLCacheCoalescesConcurrentRefresh(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := NewTTLCache(time.Minute, func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}
