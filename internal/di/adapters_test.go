package di

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/store/graph"
	"kgraph-backend/internal/upsert"
)

type fakeWithTxer struct {
	gotOntology string
	called      bool
}

func (f *fakeWithTxer) WithTx(ctx context.Context, ontology string, fn func(tx graph.Tx) error) error {
	f.gotOntology = ontology
	return fn(nil)
}

func TestGraphStoreAdapterRetypesCallback(t *testing.T) {
	fake := &fakeWithTxer{}
	adapter := graphStoreAdapter{store: fake}

	var calledWithUpsertTx bool
	err := adapter.WithTx(context.Background(), "ontology-1", func(tx upsert.Tx) error {
		calledWithUpsertTx = true
		assert.Nil(t, tx)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, calledWithUpsertTx)
	assert.Equal(t, "ontology-1", fake.gotOntology)
}

type fakeRelationalVocabStore struct {
	types map[string]domain.VocabType
}

func (f *fakeRelationalVocabStore) LoadVocabTypes(ctx context.Context) ([]domain.VocabType, error) {
	out := make([]domain.VocabType, 0, len(f.types))
	for _, t := range f.types {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeRelationalVocabStore) SaveVocabType(ctx context.Context, t domain.VocabType) error {
	f.types[t.Name] = t
	return nil
}

func (f *fakeRelationalVocabStore) DeleteVocabType(ctx context.Context, name string) error {
	delete(f.types, name)
	return nil
}

type fakeGraphRetyper struct {
	from, to string
	count int64
}

func (f *fakeGraphRetyper) RetypeRelationships(ctx context.Context, from, to string) (int64, error) {
	f.from, f.to = from, to
	return f.count, nil
}

func TestVocabStoreAdapterDelegatesPerBackend(t *testing.T) {
	rel := &fakeRelationalVocabStore{types: map[string]domain.VocabType{}}
	ret := &fakeGraphRetyper{count: 3}
	adapter := vocabStoreAdapter{relational: rel, graph: ret}

	require.NoError(t, adapter.SaveVocabType(context.Background(), domain.VocabType{Name: "CAUSES"}))
	loaded, err := adapter.LoadVocabTypes(context.Background())
	require.NoError(t, err)
	assert.Len(t, loaded, 1)

	n, err := adapter.RetypeRelationships(context.Background(), "CAUSES", "LEADS_TO")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "CAUSES", ret.from)
	assert.Equal(t, "LEADS_TO", ret.to)

	require.NoError(t, adapter.DeleteVocabType(context.Background(), "CAUSES"))
}

func TestVocabStoreAdapterMissingGraphBackend(t *testing.T) {
	adapter := vocabStoreAdapter{relational: &fakeRelationalVocabStore{types: map[string]domain.VocabType{}}}
	_, err := adapter.RetypeRelationships(context.Background(), "A", "B")
	assert.Error(t, err)
}
