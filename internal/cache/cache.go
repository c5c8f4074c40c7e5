// Package cache provides the read-through TTL cache in front of external
// data sources. Entries live in memory; an optional persistent backend
// survives process restarts.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Backend persists cache entries across restarts. The store's kv table
// implements this; a nil backend keeps the cache memory-only.
type Backend interface {
	GetCacheEntry(ctx context.Context, key string) (value []byte, expiresAt time.Time, err error)
	PutCacheEntry(ctx context.Context, key string, value []byte, expiresAt time.Time) error
}

// missError is what a Backend returns when the key is absent.
type missError struct{ key string }

func (e *missError) Error() string { return "cache miss: " + e.key }

// NewMissError builds the sentinel backends return for absent keys.
func NewMissError(key string) error { return &missError{key: key} }

// IsMiss reports whether err is a cache miss rather than a backend failure.
func IsMiss(err error) bool {
	_, ok := err.(*missError)
	return ok
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Stats counts cache activity for the monitoring endpoint.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Loads  int64 `json:"loads"`
}

// Cache is a read-through TTL cache. Concurrent GetOrLoad calls for the same
// key share one loader invocation, so a source is hit at most once per key
// per TTL window under normal operation.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
	flight  singleflight.Group
	backend Backend

	hits   atomic.Int64
	misses atomic.Int64
	loads  atomic.Int64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a memory-only cache.
func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]entry[T]),
		nowFunc: time.Now,
	}
}

// NewWithBackend creates a cache that also reads and writes a persistent
// backend. Backend failures are logged and otherwise ignored; the loader is
// the fallback either way.
func NewWithBackend[T any](backend Backend) *Cache[T] {
	c := New[T]()
	c.backend = backend
	return c
}

// GetOrLoad returns the cached value for key, loading it if absent or
// expired. The loader runs at most once per key across concurrent callers.
// A loader error is returned to every waiting caller and nothing is cached.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := c.get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check under the flight: another caller may have already loaded.
		if v, ok := c.get(key); ok {
			return v, nil
		}

		if c.backend != nil {
			if v, ok := c.fromBackend(ctx, key); ok {
				c.put(key, v, ttl)
				return v, nil
			}
		}

		c.loads.Add(1)
		loaded, err := loader(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		c.put(key, loaded, ttl)
		if c.backend != nil {
			c.toBackend(ctx, key, loaded, ttl)
		}
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Peek returns the cached value without triggering a load.
func (c *Cache[T]) Peek(key string) (T, bool) {
	return c.get(key)
}

// Invalidate drops the key from memory. The backend entry is left to expire
// on its own.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Stats returns a snapshot of hit/miss/load counters.
func (c *Cache[T]) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Loads:  c.loads.Load(),
	}
}

func (c *Cache[T]) get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.nowFunc().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *Cache[T]) put(key string, v T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{value: v, expiresAt: c.nowFunc().Add(ttl)}
}

func (c *Cache[T]) fromBackend(ctx context.Context, key string) (T, bool) {
	var zero T
	raw, expiresAt, err := c.backend.GetCacheEntry(ctx, key)
	if err != nil {
		if !IsMiss(err) {
			zap.L().Warn("cache backend read failed", zap.String("key", key), zap.Error(err))
		}
		return zero, false
	}
	if c.nowFunc().After(expiresAt) {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		zap.L().Warn("cache backend entry corrupt", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	return v, true
}

func (c *Cache[T]) toBackend(ctx context.Context, key string, v T, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("cache backend encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.backend.PutCacheEntry(ctx, key, raw, c.nowFunc().Add(ttl)); err != nil {
		zap.L().Warn("cache backend write failed", zap.String("key", key), zap.Error(err))
	}
}
