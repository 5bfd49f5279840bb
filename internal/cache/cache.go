// Package cache provides a bounded in-memory cache with single-flight
// get-or-compute semantics.
//
// Example usage:
//
//	c, _ := cache.New("prompt", 1024, logger)
//	text, hit, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (string, error) {
//		return generate(ctx)
//	})
package cache

import (
	"context"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a missing key.
type ComputeFunc func(ctx context.Context) (string, error)

// Cache is a string cache keyed by opaque strings.
type Cache interface {
	// Get returns the cached value for key.
	Get(key string) (string, bool)

	// GetOrCompute returns the cached value for key or runs compute once for
	// all concurrent callers of the same key. Only successful results are
	// stored. hit reports whether the value came from the cache.
	GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (value string, hit bool, err error)

	// Delete removes key.
	Delete(key string)

	// Len returns the number of cached entries.
	Len() int
}

// LRU is a Cache bounded by entry count. Entries never expire; the least
// recently used one is evicted when the bound is reached.
type LRU struct {
	name    string
	entries *lru.Cache[string, string]
	group   singleflight.Group
	metrics *Metrics
	logger  *zap.Logger
}

// New creates an LRU cache. size <= 0 means unbounded.
func New(name string, size int, logger *zap.Logger) (*LRU, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = math.MaxInt32
	}

	c := &LRU{
		name:    name,
		metrics: NewMetrics(),
		logger:  logger,
	}
	entries, err := lru.NewWithEvict(size, func(key string, _ string) {
		c.metrics.EvictionsTotal.WithLabelValues(name).Inc()
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s cache: %w", name, err)
	}
	c.entries = entries
	return c, nil
}

// Get implements Cache.
func (c *LRU) Get(key string) (string, bool) {
	v, ok := c.entries.Get(key)
	if ok {
		c.metrics.HitsTotal.WithLabelValues(c.name).Inc()
	} else {
		c.metrics.MissesTotal.WithLabelValues(c.name).Inc()
	}
	return v, ok
}

// GetOrCompute implements Cache.
//
// A caller whose context ends while waiting returns ctx.Err(); the shared
// computation keeps running for the remaining callers.
func (c *LRU) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (string, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// A previous flight may have filled the key since our lookup.
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		v, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		c.entries.Add(key, v)
		c.metrics.Size.WithLabelValues(c.name).Set(float64(c.entries.Len()))
		c.logger.Debug("cache entry computed", zap.String("cache", c.name), zap.String("key", key))
		return v, nil
	})

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), false, nil
	}
}

// Delete implements Cache.
func (c *LRU) Delete(key string) {
	c.entries.Remove(key)
	c.metrics.Size.WithLabelValues(c.name).Set(float64(c.entries.Len()))
}

// Purge removes every entry.
func (c *LRU) Purge() {
	c.entries.Purge()
	c.metrics.Size.WithLabelValues(c.name).Set(0)
}

// Len implements Cache.
func (c *LRU) Len() int {
	return c.entries.Len()
}

var _ Cache = (*LRU)(nil)
