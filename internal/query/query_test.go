package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/domainservices"
	"kgraph-backend/internal/providers/embedding"
)

type fakeGraphStore struct {
	concepts      map[string]domain.Concept
	instances     map[string][]domain.Instance
	relationships map[string][]domain.Relationship
	searchHits    []domainservices.ScoredConcept
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{
		concepts:      map[string]domain.Concept{},
		instances:     map[string][]domain.Instance{},
		relationships: map[string][]domain.Relationship{},
	}
}

func (s *fakeGraphStore) VectorSearch(ctx context.Context, ontology string, vec []float32, k int, minSimilarity float64) ([]domainservices.ScoredConcept, error) {
	return s.searchHits, nil
}

func (s *fakeGraphStore) GetConcept(ctx context.Context, ontology, conceptID string) (domain.Concept, bool, error) {
	c, ok := s.concepts[conceptID]
	return c, ok, nil
}

func (s *fakeGraphStore) InstancesForConcept(ctx context.Context, conceptID string) ([]domain.Instance, error) {
	return s.instances[conceptID], nil
}

func (s *fakeGraphStore) RelationshipsTouching(ctx context.Context, conceptID string) ([]domain.Relationship, error) {
	return s.relationships[conceptID], nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, role embedding.Role) ([]domain.Embedding, error) {
	out := make([]domain.Embedding, len(texts))
	for i := range texts {
		out[i] = domain.Embedding{Vector: []float32{1, 0, 0}, Dimension: 3}
	}
	return out, nil
}

type fakeDimensionGate struct{ pending bool }

func (g fakeDimensionGate) DimensionPending() bool { return g.pending }

func TestSearchConceptsFailsWithDimensionMismatchWhilePending(t *testing.T) {
	store := newFakeGraphStore()
	store.concepts["c1"] = domain.Concept{ID: "c1", Label: "Linear Thinking"}
	store.searchHits = []domainservices.ScoredConcept{{ConceptID: "c1", Similarity: 0.9}}

	svc := New(store, fakeEmbedder{}, fakeDimensionGate{pending: true}, nil)
	_, err := svc.SearchConcepts(context.Background(), "t", "linear thinking", 10, 0.5)
	require.Error(t, err)
}

func TestSearchConceptsReturnsEvidenceCount(t *testing.T) {
	store := newFakeGraphStore()
	store.concepts["c1"] = domain.Concept{ID: "c1", Label: "Linear Thinking"}
	store.instances["c1"] = []domain.Instance{{ID: "i1", Quote: "linear thinking is..."}}
	store.searchHits = []domainservices.ScoredConcept{{ConceptID: "c1", Similarity: 0.9}}

	svc := New(store, fakeEmbedder{}, nil, nil)
	hits, err := svc.SearchConcepts(context.Background(), "t", "linear thinking", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].ConceptID)
	assert.Equal(t, 1, hits[0].EvidenceCount)
	assert.Equal(t, "linear thinking is...", hits[0].SampleEvidence)
}

func TestGetConceptNotFound(t *testing.T) {
	svc := New(newFakeGraphStore(), fakeEmbedder{}, nil, nil)
	_, err := svc.GetConcept(context.Background(), "t", "missing")
	assert.Error(t, err)
}

func TestFindConnectionReturnsShortestPath(t *testing.T) {
	store := newFakeGraphStore()
	store.concepts["a"] = domain.Concept{ID: "a"}
	store.relationships["a"] = []domain.Relationship{{FromConceptID: "a", ToConceptID: "b", Type: "RELATES_TO"}}
	store.relationships["b"] = []domain.Relationship{{FromConceptID: "b", ToConceptID: "c", Type: "SUPPORTS"}}

	svc := New(store, fakeEmbedder{}, nil, nil)
	paths, err := svc.FindConnection(context.Background(), "t", "a", "c", 5)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, 2, paths[0].Hops)
	assert.Equal(t, []string{"a", "b", "c"}, paths[0].Nodes)
}

func TestFindConnectionRespectsMaxHops(t *testing.T) {
	store := newFakeGraphStore()
	store.concepts["a"] = domain.Concept{ID: "a"}
	store.relationships["a"] = []domain.Relationship{{FromConceptID: "a", ToConceptID: "b", Type: "RELATES_TO"}}
	store.relationships["b"] = []domain.Relationship{{FromConceptID: "b", ToConceptID: "c", Type: "SUPPORTS"}}

	svc := New(store, fakeEmbedder{}, nil, nil)
	paths, err := svc.FindConnection(context.Background(), "t", "a", "c", 1)
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestFindRelatedOrdersByDistance(t *testing.T) {
	store := newFakeGraphStore()
	store.concepts["a"] = domain.Concept{ID: "a"}
	store.concepts["b"] = domain.Concept{ID: "b", Label: "B"}
	store.concepts["c"] = domain.Concept{ID: "c", Label: "C"}
	store.relationships["a"] = []domain.Relationship{{FromConceptID: "a", ToConceptID: "b", Type: "RELATES_TO"}}
	store.relationships["b"] = []domain.Relationship{{FromConceptID: "b", ToConceptID: "c", Type: "SUPPORTS"}}

	svc := New(store, fakeEmbedder{}, nil, nil)
	related, err := svc.FindRelated(context.Background(), "t", "a", 2)
	require.NoError(t, err)
	require.Len(t, related, 2)
	assert.Equal(t, "b", related[0].ConceptID)
	assert.Equal(t, 1, related[0].Distance)
	assert.Equal(t, "c", related[1].ConceptID)
	assert.Equal(t, 2, related[1].Distance)
	assert.Equal(t, []string{"RELATES_TO", "SUPPORTS"}, related[1].PathTypes)
}
