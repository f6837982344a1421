package vocab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/config"
	"kgraph-backend/internal/domain"
)

type fakeStore struct {
	types map[string]domain.VocabType
}

func newFakeStore(seed []domain.VocabType) *fakeStore {
	s := &fakeStore{types: map[string]domain.VocabType{}}
	for _, t := range seed {
		s.types[t.Name] = t
	}
	return s
}

func (s *fakeStore) LoadVocabTypes(ctx context.Context) ([]domain.VocabType, error) {
	out := make([]domain.VocabType, 0, len(s.types))
	for _, t := range s.types {
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) SaveVocabType(ctx context.Context, t domain.VocabType) error {
	s.types[t.Name] = t
	return nil
}

func (s *fakeStore) DeleteVocabType(ctx context.Context, name string) error {
	delete(s.types, name)
	return nil
}

func (s *fakeStore) RetypeRelationships(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	return domain.Embedding{Vector: []float32{1, 0, 0}, Model: "fake", Dimension: 3}, nil
}

func testConfig() config.VocabConfig {
	return config.VocabConfig{MinComfort: 3, SoftMax: 6, HardMax: 10, MergeThreshold: 0.92, CreationThreshold: 0.75}
}

func TestResolveExactMatchReturnsCanonical(t *testing.T) {
	seed := []domain.VocabType{{Name: "SUPPORTS", Embedding: domain.Embedding{Vector: []float32{1, 0, 0}}}}
	r := New(testConfig(), newFakeStore(seed), fakeEmbedder{}, nil)
	require.NoError(t, r.Load(context.Background()))

	name, err := r.Resolve(context.Background(), "supports", domain.Embedding{Vector: []float32{1, 0, 0}}, "")
	require.NoError(t, err)
	assert.Equal(t, "SUPPORTS", name)
}

func TestResolveCreatesNovelTypeInComfortZone(t *testing.T) {
	seed := []domain.VocabType{{Name: "SUPPORTS", Embedding: domain.Embedding{Vector: []float32{1, 0, 0}}}}
	r := New(testConfig(), newFakeStore(seed), fakeEmbedder{}, nil)
	require.NoError(t, r.Load(context.Background()))

	name, err := r.Resolve(context.Background(), "brand new relation", domain.Embedding{Vector: []float32{0, 1, 0}}, "")
	require.NoError(t, err)
	assert.Equal(t, "BRAND_NEW_RELATION", name)
	assert.Equal(t, 2, r.Status().Size)
}

func TestResolveEmergencyZoneForcesMerge(t *testing.T) {
	cfg := config.VocabConfig{MinComfort: 1, SoftMax: 2, HardMax: 2, MergeThreshold: 0.92, CreationThreshold: 0.75}
	seed := []domain.VocabType{
		{Name: "SUPPORTS", Embedding: domain.Embedding{Vector: []float32{1, 0, 0}}},
		{Name: "CONTRADICTS", Embedding: domain.Embedding{Vector: []float32{0, 1, 0}}},
		{Name: "RELATES_TO", Embedding: domain.Embedding{Vector: []float32{0, 0, 1}}},
	}
	r := New(cfg, newFakeStore(seed), fakeEmbedder{}, nil)
	require.NoError(t, r.Load(context.Background()))
	require.Equal(t, domain.ZoneEmergency, r.Zone())

	name, err := r.Resolve(context.Background(), "causes", domain.Embedding{Vector: []float32{0.9, 0.1, 0}}, "")
	require.NoError(t, err)
	assert.Equal(t, "SUPPORTS", name)
	assert.Equal(t, 3, r.Status().Size)
}

func TestMergeRedirectsAndDeletes(t *testing.T) {
	seed := []domain.VocabType{
		{Name: "A", Embedding: domain.Embedding{Vector: []float32{1, 0, 0}}},
		{Name: "B", Embedding: domain.Embedding{Vector: []float32{0, 1, 0}}, Synonyms: []string{"B_SYN"}},
	}
	r := New(testConfig(), newFakeStore(seed), fakeEmbedder{}, nil)
	require.NoError(t, r.Load(context.Background()))

	require.NoError(t, r.Merge(context.Background(), "A", "B", "duplicate concept"))

	types := r.ListTypes()
	names := map[string]domain.VocabType{}
	for _, tp := range types {
		names[tp.Name] = tp
	}
	_, aStillExists := names["A"]
	assert.False(t, aStillExists)
	assert.True(t, names["B"].HasSynonym("A"))
}

func TestSupportWeightOfUnknownTypeIsNeutral(t *testing.T) {
	r := New(testConfig(), newFakeStore(nil), fakeEmbedder{}, nil)
	assert.Equal(t, domain.SupportWeightNeutral, r.SupportWeightOf("NOT_REGISTERED"))
}
