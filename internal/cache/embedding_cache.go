package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/providers/embedding"
)

// DefaultTTL matches DefaultCachingConfig.DefaultTTL; embedded
// vectors are immutable for a given (model, text) pair so a generous TTL is
// safe, invalidated naturally by the cache key changing when
// EmbeddingProvider.Reload swaps the active model.
const DefaultTTL = 1 * time.Hour

// CachingEmbedder decorates an embedding.Provider with a read-through cache
// keyed by (provider, model, role, text hash), the cache-aside pattern of
// CachingNodeRepository applied to EmbeddingProvider.Embed
// instead of repository reads.
type CachingEmbedder struct {
	inner embedding.Provider
	cache Cache
	ttl   time.Duration
}

func NewCachingEmbedder(inner embedding.Provider, cache Cache) *CachingEmbedder {
	return &CachingEmbedder{inner: inner, cache: cache, ttl: DefaultTTL}
}

func (c *CachingEmbedder) cacheKey(role embedding.Role, text string) string {
	provider, model, _ := c.inner.Config()
	sum := sha256.Sum256([]byte(text))
	return "kgraph:embed:" + provider + ":" + model + ":" + string(role) + ":" + hex.EncodeToString(sum[:])
}

func (c *CachingEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	out, err := c.EmbedBatch(ctx, []string{text}, embedding.RoleDocument)
	if err != nil {
		return domain.Embedding{}, err
	}
	return out[0], nil
}

// EmbedBatch checks the cache per-text, forwarding only misses to the
// underlying provider; decorator takes the same
// check-then-populate shape for FindNodeByID.
func (c *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string, role embedding.Role) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		key := c.cacheKey(role, t)
		if raw, found, err := c.cache.Get(ctx, key); err == nil && found {
			var emb domain.Embedding
			if json.Unmarshal(raw, &emb) == nil {
				out[i] = emb
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fetched, err := c.inner.EmbedBatch(ctx, missTexts, role)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = fetched[j]
		if raw, err := json.Marshal(fetched[j]); err == nil {
			_ = c.cache.Set(ctx, c.cacheKey(role, missTexts[j]), raw, c.ttl)
		}
	}
	return out, nil
}

func (c *CachingEmbedder) Config() (provider, model string, dimension int) {
	return c.inner.Config()
}

// Reload forwards to the inner provider; cache entries naturally age out,
// and the key already embeds provider/model so stale entries from a prior
// configuration are never served to the new one.
func (c *CachingEmbedder) Reload(cfg embedding.ProviderConfig) {
	c.inner.Reload(cfg)
}
