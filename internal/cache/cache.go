// Package cache implements the optional read-through embedding cache: a
// Redis-backed Cache interface plus a CachingEmbedder decorator following
// the cache-aside pattern (Get/Set/Delete/Clear behind a narrow interface,
// a decorator wrapping the real provider rather than the provider knowing
// about caching).
package cache

import (
	"context"
	"time"
)

// Cache abstracts the caching backend so a future in-memory or Memcached
// implementation can swap in without touching CachingEmbedder.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, pattern string) error
}
