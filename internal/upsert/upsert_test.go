package upsert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/domainservices"
)

type fakeGraphStore struct {
	concepts      map[string]domain.Concept
	relationships map[domain.RelationshipKey]domain.Relationship
	instances     []domain.Instance
	sourceLinks   map[string]bool
	grounded      map[string]*float64
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{
		concepts:      map[string]domain.Concept{},
		relationships: map[domain.RelationshipKey]domain.Relationship{},
		sourceLinks:   map[string]bool{},
		grounded:      map[string]*float64{},
	}
}

func (s *fakeGraphStore) WithTx(ctx context.Context, ontology string, fn func(tx Tx) error) error {
	return fn(s)
}

func (s *fakeGraphStore) VectorSearch(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]domainservices.ScoredConcept, error) {
	var out []domainservices.ScoredConcept
	for id, c := range s.concepts {
		sim, err := domainservices.CosineSimilarity(vec, c.Embedding.Vector)
		if err != nil || sim < minSimilarity {
			continue
		}
		out = append(out, domainservices.ScoredConcept{ConceptID: id, Similarity: sim})
	}
	return out, nil
}

func (s *fakeGraphStore) GetConcept(ctx context.Context, id string) (domain.Concept, bool, error) {
	c, ok := s.concepts[id]
	return c, ok, nil
}

func (s *fakeGraphStore) UpsertConcept(ctx context.Context, c domain.Concept) error {
	s.concepts[c.ID] = c
	return nil
}

func (s *fakeGraphStore) LinkSource(ctx context.Context, conceptID, sourceID string) error {
	s.sourceLinks[conceptID+"|"+sourceID] = true
	return nil
}

func (s *fakeGraphStore) GetSource(ctx context.Context, sourceID string) (domain.Source, error) {
	return domain.Source{}, nil
}

func (s *fakeGraphStore) PutSource(ctx context.Context, src domain.Source) error {
	return nil
}

func (s *fakeGraphStore) CreateInstance(ctx context.Context, inst domain.Instance) error {
	s.instances = append(s.instances, inst)
	return nil
}

func (s *fakeGraphStore) GetRelationship(ctx context.Context, key domain.RelationshipKey) (domain.Relationship, bool, error) {
	r, ok := s.relationships[key]
	return r, ok, nil
}

func (s *fakeGraphStore) UpsertRelationship(ctx context.Context, r domain.Relationship) error {
	s.relationships[r.Key()] = r
	return nil
}

func (s *fakeGraphStore) RelationshipsTouching(ctx context.Context, conceptID string) ([]domain.Relationship, error) {
	var out []domain.Relationship
	for _, r := range s.relationships {
		if r.FromConceptID == conceptID || r.ToConceptID == conceptID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeGraphStore) SetGrounding(ctx context.Context, conceptID string, score *float64) error {
	s.grounded[conceptID] = score
	return nil
}

type fakeVocab struct{}

func (fakeVocab) Resolve(ctx context.Context, suggestion string, embedding domain.Embedding, category string) (string, error) {
	return "RELATES_TO", nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	v := make([]float32, 4)
	for i, c := range text {
		v[i%4] += float32(c % 7)
	}
	return domain.Embedding{Vector: v, Model: "fake", Dimension: 4}, nil
}

func newTestEngine(store GraphStore) *Engine {
	calc := &domainservices.GroundingCalculator{Vocab: testWeights{}}
	return New(store, fakeVocab{}, fakeEmbedder{}, calc, 0.9, nil)
}

type testWeights struct{}

func (testWeights) SupportWeightOf(t string) domain.SupportWeight { return domain.SupportWeightNeutral }

func TestApplyCreatesNewConceptsAndInstances(t *testing.T) {
	store := newFakeGraphStore()
	engine := newTestEngine(store)

	source := domain.Source{ID: "src1", FullText: "Gravity pulls objects toward mass."}
	extraction := domain.ExtractionResult{
		Concepts: []domain.ConceptCandidate{
			{ConceptIDSuggestion: "", Label: "Gravity", SearchTerms: []string{"gravity"}},
		},
		Instances: []domain.InstanceCandidate{
			{ConceptIDSuggestion: "", Quote: "Gravity pulls objects"},
		},
	}
	// Instance references the candidate's own empty suggestion key, which
	// UpsertEngine resolves to the newly created concept id.
	report, err := engine.Apply(context.Background(), extraction, source, "physics")
	require.NoError(t, err)
	assert.Equal(t, 1, report.ConceptsCreated)
	assert.Equal(t, 1, report.InstancesCreated)
	assert.Len(t, store.concepts, 1)
}

func TestApplyDropsRelationshipWithDanglingEndpoint(t *testing.T) {
	store := newFakeGraphStore()
	engine := newTestEngine(store)

	source := domain.Source{ID: "src1", FullText: "text"}
	extraction := domain.ExtractionResult{
		Relationships: []domain.RelationshipCandidate{
			{From: "missing_from", To: "missing_to", RelationshipType: "causes", Confidence: 0.7},
		},
	}
	report, err := engine.Apply(context.Background(), extraction, source, "physics")
	require.NoError(t, err)
	assert.Equal(t, 0, report.RelationshipsCreated)
	assert.Contains(t, report.Warnings[0], "dangling endpoint")
}

func TestApplySkipsInstanceWithQuoteNotInSource(t *testing.T) {
	store := newFakeGraphStore()
	engine := newTestEngine(store)

	source := domain.Source{ID: "src1", FullText: "Mass curves spacetime."}
	extraction := domain.ExtractionResult{
		Concepts:  []domain.ConceptCandidate{{ConceptIDSuggestion: "", Label: "Mass"}},
		Instances: []domain.InstanceCandidate{
			{ConceptIDSuggestion: "", Quote: "this text never appears"},
		},
	}
	report, err := engine.Apply(context.Background(), extraction, source, "physics")
	require.NoError(t, err)
	assert.Equal(t, 0, report.InstancesCreated)
	assert.NotEmpty(t, report.Warnings)
}

func TestApplyAveragesConfidenceOnDuplicateRelationship(t *testing.T) {
	store := newFakeGraphStore()
	store.concepts["a"] = domain.Concept{ID: "a", Label: "A"}
	store.concepts["b"] = domain.Concept{ID: "b", Label: "B"}
	store.relationships[domain.RelationshipKey{From: "a", To: "b", Type: "RELATES_TO"}] = domain.Relationship{
		FromConceptID: "a", ToConceptID: "b", Type: "RELATES_TO", Confidence: 0.4,
	}
	engine := newTestEngine(store)

	source := domain.Source{ID: "src1", FullText: "text"}
	extraction := domain.ExtractionResult{
		Concepts: []domain.ConceptCandidate{
			{ConceptIDSuggestion: "a", Label: "A"},
			{ConceptIDSuggestion: "b", Label: "B"},
		},
		Relationships: []domain.RelationshipCandidate{
			{From: "a", To: "b", RelationshipType: "relates to", Confidence: 0.8},
		},
	}
	_, err := engine.Apply(context.Background(), extraction, source, "physics")
	require.NoError(t, err)

	r := store.relationships[domain.RelationshipKey{From: "a", To: "b", Type: "RELATES_TO"}]
	assert.InDelta(t, 0.6, r.Confidence, 1e-9)
}
