package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TTLCache 单值缓存：过期后刷新，并发刷新合并为一次，刷新失败时返回旧值
type TTLCache[T any] struct {
	ttl   time.Duration
	fetch func(ctx context.Context) (T, error)
	now   func() time.Time

	mu        sync.RWMutex
	value     T
	fetchedAt time.Time
	valid     bool

	group singleflight.Group
}

func NewTTLCache[T any](ttl time.Duration, fetch func(ctx context.Context) (T, error)) *TTLCache[T] {
	return &TTLCache[T]{ttl: ttl, fetch: fetch, now: time.Now}
}

// Get 返回缓存值；stale=true 表示刷新失败后返回的是过期值
func (c *TTLCache[T]) Get(ctx context.Context) (value T, stale bool, err error) {
	c.mu.RLock()
	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		v := c.value
		c.mu.RUnlock()
		return v, false, nil
	}
	c.mu.RUnlock()
	return c.refresh(ctx)
}

// Invalidate 强制下一次 Get 重新拉取 (保留旧值作为兜底)
func (c *TTLCache[T]) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

func (c *TTLCache[T]) refresh(ctx context.Context) (T, bool, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		fresh, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.value = fresh
		c.fetchedAt = c.now()
		c.valid = true
		c.mu.Unlock()
		return fresh, nil
	})
	if err == nil {
		return v.(T), false, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.valid {
		return c.value, true, nil
	}
	var zero T
	return zero, false, err
}
