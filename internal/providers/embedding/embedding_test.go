package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProviderIsDeterministic(t *testing.T) {
	m := MockProvider{Dim: 16}
	a, err := m.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, a.Vector, b.Vector)
	assert.Len(t, a.Vector, 16)
}

func TestMockProviderDiffersByInput(t *testing.T) {
	m := MockProvider{Dim: 16}
	a, _ := m.Embed(context.Background(), "alpha")
	b, _ := m.Embed(context.Background(), "beta")
	assert.NotEqual(t, a.Vector, b.Vector)
}

func TestMockProviderEmbedBatchMatchesEmbed(t *testing.T) {
	m := MockProvider{Dim: 8}
	batch, err := m.EmbedBatch(context.Background(), []string{"x", "y"}, RoleDocument)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	single, _ := m.Embed(context.Background(), "x")
	assert.Equal(t, single.Vector, batch[0].Vector)
}

func TestOpenAIProviderReloadIsAtomic(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536})
	_, model, dim := p.Config()
	assert.Equal(t, "text-embedding-3-small", model)
	assert.Equal(t, 1536, dim)

	p.Reload(ProviderConfig{Provider: "openai", Model: "text-embedding-3-large", Dimension: 3072})
	_, model, dim = p.Config()
	assert.Equal(t, "text-embedding-3-large", model)
	assert.Equal(t, 3072, dim)
}
