package embeddingadmin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
	"kgraph-backend/internal/providers/embedding"
	"kgraph-backend/internal/store/graph"
)

type fakeStore struct {
	configs map[string]domain.EmbeddingConfig
}

func newFakeStore() *fakeStore { return &fakeStore{configs: map[string]domain.EmbeddingConfig{}} }

func (s *fakeStore) ListEmbeddingConfigs(ctx context.Context) ([]domain.EmbeddingConfig, error) {
	var out []domain.EmbeddingConfig
	for _, c := range s.configs {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeStore) GetEmbeddingConfig(ctx context.Context, id string) (domain.EmbeddingConfig, error) {
	c, ok := s.configs[id]
	if !ok {
		return domain.EmbeddingConfig{}, kgerrors.NotFound("not found")
	}
	return c, nil
}

func (s *fakeStore) GetActiveEmbeddingConfig(ctx context.Context) (domain.EmbeddingConfig, error) {
	for _, c := range s.configs {
		if c.Active {
			return c, nil
		}
	}
	return domain.EmbeddingConfig{}, kgerrors.NotFound("no active config")
}

func (s *fakeStore) CreateEmbeddingConfig(ctx context.Context, cfg domain.EmbeddingConfig) error {
	s.configs[cfg.ID] = cfg
	return nil
}

func (s *fakeStore) ActivateEmbeddingConfig(ctx context.Context, id string) error {
	if _, ok := s.configs[id]; !ok {
		return kgerrors.NotFound("not found")
	}
	for k, c := range s.configs {
		c.Active = k == id
		s.configs[k] = c
	}
	return nil
}

func (s *fakeStore) DeactivateEmbeddingConfig(ctx context.Context, id string) error {
	c := s.configs[id]
	c.Active = false
	s.configs[id] = c
	return nil
}

func (s *fakeStore) SetProtection(ctx context.Context, id string, deleteProtected, changeProtected bool) error {
	c := s.configs[id]
	c.DeleteProtected, c.ChangeProtected = deleteProtected, changeProtected
	s.configs[id] = c
	return nil
}

func (s *fakeStore) DeleteEmbeddingConfig(ctx context.Context, id string) error {
	delete(s.configs, id)
	return nil
}

type fakeGraphStore struct {
	concepts     []graph.OntologyConcept
	incompatible map[string]bool
	updated      map[string]domain.Embedding
}

func newFakeGraphStore(concepts []graph.OntologyConcept) *fakeGraphStore {
	return &fakeGraphStore{concepts: concepts, incompatible: map[string]bool{}, updated: map[string]domain.Embedding{}}
}

func (g *fakeGraphStore) ScanConcepts(ctx context.Context) ([]graph.OntologyConcept, error) {
	return g.concepts, nil
}

func (g *fakeGraphStore) MarkEmbeddingIncompatible(ctx context.Context, ontology, conceptID string) error {
	g.incompatible[conceptID] = true
	return nil
}

func (g *fakeGraphStore) UpdateConceptEmbedding(ctx context.Context, ontology, conceptID string, emb domain.Embedding) error {
	g.updated[conceptID] = emb
	delete(g.incompatible, conceptID)
	return nil
}

type fakeVectorIndex struct{ recreated int }

func (v *fakeVectorIndex) RecreateCollection(ctx context.Context, dimension int) error {
	v.recreated = dimension
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Reload(cfg embedding.ProviderConfig) {}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, role embedding.Role) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	for i := range texts {
		out[i] = domain.Embedding{Vector: []float32{1, 2, 3}, Dimension: 3}
	}
	return out, nil
}

type fakeVocab struct{ calls int }

func (v *fakeVocab) ReloadEmbeddings(ctx context.Context) (int, error) {
	v.calls++
	return 0, nil
}

func TestActivateWithoutDimensionChangeDoesNotTouchConcepts(t *testing.T) {
	store := newFakeStore()
	store.configs["a"] = domain.EmbeddingConfig{ID: "a", Dimensions: 768, Active: true}
	store.configs["b"] = domain.EmbeddingConfig{ID: "b", Dimensions: 768}

	graphStore := newFakeGraphStore(nil)
	index := &fakeVectorIndex{}
	admin := New(store, graphStore, index, fakeEmbedder{}, &fakeVocab{}, nil)

	err := admin.Activate(context.Background(), "b", false)
	require.NoError(t, err)
	assert.Equal(t, 0, index.recreated)
}

func TestActivateWithDimensionChangeRequiresForce(t *testing.T) {
	store := newFakeStore()
	store.configs["a"] = domain.EmbeddingConfig{ID: "a", Dimensions: 768, Active: true}
	store.configs["b"] = domain.EmbeddingConfig{ID: "b", Dimensions: 1536}

	admin := New(store, newFakeGraphStore(nil), &fakeVectorIndex{}, fakeEmbedder{}, &fakeVocab{}, nil)

	_, err := store.GetActiveEmbeddingConfig(context.Background())
	require.NoError(t, err)

	err = admin.Activate(context.Background(), "b", false)
	assert.Error(t, err)
}

func TestActivateWithForceMarksConceptsIncompatible(t *testing.T) {
	store := newFakeStore()
	store.configs["a"] = domain.EmbeddingConfig{ID: "a", Dimensions: 768, Active: true}
	store.configs["b"] = domain.EmbeddingConfig{ID: "b", Dimensions: 1536}

	graphStore := newFakeGraphStore([]graph.OntologyConcept{
		{Ontology: "t", Concept: domain.Concept{ID: "c1"}},
	})
	index := &fakeVectorIndex{}
	admin := New(store, graphStore, index, fakeEmbedder{}, &fakeVocab{}, nil)

	err := admin.Activate(context.Background(), "b", true)
	require.NoError(t, err)
	assert.Equal(t, 1536, index.recreated)
	assert.True(t, graphStore.incompatible["c1"])
}

func TestRegenerateEmbeddingsOnlyTouchesIncompatibleByDefault(t *testing.T) {
	graphStore := newFakeGraphStore([]graph.OntologyConcept{
		{Ontology: "t", Concept: domain.Concept{ID: "c1", Label: "A", IncompatibleEmbedding: true}},
		{Ontology: "t", Concept: domain.Concept{ID: "c2", Label: "B", IncompatibleEmbedding: false}},
	})
	admin := New(newFakeStore(), graphStore, &fakeVectorIndex{}, fakeEmbedder{}, &fakeVocab{}, nil)

	n, err := admin.RegenerateEmbeddings(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, touched := graphStore.updated["c1"]
	assert.True(t, touched)
	_, touched = graphStore.updated["c2"]
	assert.False(t, touched)
}
