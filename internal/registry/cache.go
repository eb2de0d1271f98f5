package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// CacheStats 描述缓存使用情况。Misses 为实际执行的查询次数。
type CacheStats struct {
	Size   int
	Hits   int64
	Misses int64
}

// Cache 是按 ISIN 写入一次、此后只读的结果缓存。
// 同一 ISIN 的并发未命中通过 singleflight 合并为一次查询。
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Result
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache 创建空缓存。
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Result)}
}

// Get 读取缓存，不触发查询。
func (c *Cache) Get(isin string) (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[isin]
	return r, ok
}

// Resolve 返回缓存结果；未命中时调用 fetch 并写入缓存。第二个返回值表示是否命中。
func (c *Cache) Resolve(ctx context.Context, isin string, fetch func(context.Context, string) *Result) (*Result, bool) {
	if r, ok := c.Get(isin); ok {
		c.hits.Add(1)
		return r, true
	}

	v, _, _ := c.group.Do(isin, func() (interface{}, error) {
		if r, ok := c.Get(isin); ok {
			return r, nil
		}
		c.misses.Add(1)
		return c.Store(isin, fetch(ctx, isin)), nil
	})

	return v.(*Result), false
}

// Store 在键不存在时写入结果，并返回最终保存的结果。已存在的结果不会被覆盖。
func (c *Cache) Store(isin string, r *Result) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[isin]; ok {
		return existing
	}
	c.entries[isin] = r
	return r
}

// Stats 返回缓存统计。
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Size:   size,
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}
