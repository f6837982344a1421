package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/providers/embedding"
	"kgraph-backend/internal/providers/extraction"
)

// EmbeddingProvider wraps an embedding.Provider in a circuit breaker, per
// "Transient provider failure" row.
type EmbeddingProvider struct {
	inner   embedding.Provider
	breaker *Breaker
}

func WrapEmbedding(inner embedding.Provider, maxAttempts int, log *zap.Logger) *EmbeddingProvider {
	return &EmbeddingProvider{
		inner:   inner,
		breaker: New("embedding_provider", 0.6, 3, 30*time.Second, DefaultRetryConfig(maxAttempts), log),
	}
}

func (p *EmbeddingProvider) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	var out domain.Embedding
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = p.inner.Embed(ctx, text)
		return innerErr
	})
	return out, err
}

func (p *EmbeddingProvider) EmbedBatch(ctx context.Context, texts []string, role embedding.Role) ([]domain.Embedding, error) {
	var out []domain.Embedding
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = p.inner.EmbedBatch(ctx, texts, role)
		return innerErr
	})
	return out, err
}

func (p *EmbeddingProvider) Config() (provider, model string, dimension int) { return p.inner.Config() }
func (p *EmbeddingProvider) Reload(cfg embedding.ProviderConfig) { p.inner.Reload(cfg) }

// ExtractionProvider wraps an extraction.Provider the same way.
type ExtractionProvider struct {
	inner   extraction.Provider
	breaker *Breaker
}

func WrapExtraction(inner extraction.Provider, maxAttempts int, log *zap.Logger) *ExtractionProvider {
	return &ExtractionProvider{
		inner:   inner,
		breaker: New("extraction_provider", 0.6, 3, 30*time.Second, DefaultRetryConfig(maxAttempts), log),
	}
}

func (p *ExtractionProvider) Extract(ctx context.Context, chunkText string, context []domain.ContextConcept) (domain.ExtractionResult, error) {
	var out domain.ExtractionResult
	err := p.breaker.Do(ctx, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = p.inner.Extract(ctx, chunkText, context)
		return innerErr
	})
	return out, err
}
