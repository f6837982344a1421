// Package embedding implements the EmbeddingProvider abstraction: a
// pluggable, hot-reloadable text-to-vector backend. The production
// implementation calls the OpenAI Embeddings API; a MockProvider backs
// tests with a deterministic hash-based fake.
package embedding

import (
	"context"
	"crypto/sha256"
	"sync/atomic"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
)

// Role selects the prefix applied to text before embedding: some models
// embed queries and documents differently.
type Role string

const (
	RoleDocument Role = "document"
	RoleQuery    Role = "query"
)

// Provider is the EmbeddingProvider interface every caller (VocabRegistry,
// UpsertEngine, ExtractionWorker) depends on.
type Provider interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
	EmbedBatch(ctx context.Context, texts []string, role Role) ([]domain.Embedding, error)
	Config() (provider, model string, dimension int)
	Reload(cfg ProviderConfig)
}

// ProviderConfig is the swappable state behind Provider.Reload: an
// atomic.Pointer reference swap, so Reload never blocks an in-flight
// Embed/EmbedBatch call.
type ProviderConfig struct {
	Provider       string
	Model          string
	Dimension      int
	APIKey         string
	QueryPrefix    string
	DocumentPrefix string
}

// OpenAIProvider embeds text via the OpenAI Embeddings API. Reload is
// atomic: in-flight Embed/EmbedBatch calls complete against the config
// they started with; the next call picks up the new one.
type OpenAIProvider struct {
	cfg atomic.Pointer[ProviderConfig]
}

func NewOpenAIProvider(initial ProviderConfig) *OpenAIProvider {
	p := &OpenAIProvider{}
	p.cfg.Store(&initial)
	return p
}

func (p *OpenAIProvider) Reload(cfg ProviderConfig) {
	p.cfg.Store(&cfg)
}

func (p *OpenAIProvider) Config() (string, string, int) {
	cfg := p.cfg.Load()
	return cfg.Provider, cfg.Model, cfg.Dimension
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	out, err := p.EmbedBatch(ctx, []string{text}, RoleDocument)
	if err != nil {
		return domain.Embedding{}, err
	}
	return out[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string, role Role) ([]domain.Embedding, error) {
	cfg := p.cfg.Load()
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))

	prefixed := make([]string, len(texts))
	prefix := cfg.DocumentPrefix
	if role == RoleQuery {
		prefix = cfg.QueryPrefix
	}
	for i, t := range texts {
		prefixed[i] = prefix + t
	}

	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: cfg.Model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: prefixed},
	})
	if err != nil {
		return nil, kgerrors.ProviderUnavailable("openai embeddings request failed", err)
	}

	out := make([]domain.Embedding, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, f := range d.Embedding {
			vec[j] = float32(f)
		}
		if len(vec) != cfg.Dimension {
			return nil, kgerrors.DimensionMismatch("openai returned embedding dimension that does not match configured dimension")
		}
		out[i] = domain.Embedding{Vector: vec, Model: cfg.Model, Dimension: cfg.Dimension}
	}
	return out, nil
}

// MockProvider is a deterministic, hash-based embedder used in tests and in
// environments with no OpenAI credentials.
type MockProvider struct {
	Dim int
}

func (m MockProvider) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	return domain.Embedding{Vector: hashVector(text, m.Dim), Model: "mock", Dimension: m.Dim}, nil
}

func (m MockProvider) EmbedBatch(ctx context.Context, texts []string, role Role) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	for i, t := range texts {
		out[i] = domain.Embedding{Vector: hashVector(t, m.Dim), Model: "mock", Dimension: m.Dim}
	}
	return out, nil
}

func (m MockProvider) Config() (string, string, int) { return "mock", "mock", m.Dim }
func (m MockProvider) Reload(ProviderConfig) {}

// hashVector derives a deterministic pseudo-embedding from text so
// repeated runs of tests against the same input produce the same
// similarity relationships.
func hashVector(text string, dim int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(sum[i%len(sum)]) / 255.0
	}
	return vec
}
