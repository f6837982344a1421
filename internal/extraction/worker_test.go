package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/config"
	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/upsert"
)

type fakeProvider struct {
	result domain.ExtractionResult
	err    error
}

func (f fakeProvider) Extract(ctx context.Context, chunkText string, context []domain.ContextConcept) (domain.ExtractionResult, error) {
	return f.result, f.err
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) (domain.Embedding, error) {
	return domain.Embedding{Vector: []float32{1, 2, 3}, Dimension: 3}, nil
}

type fakeIndex struct{}

func (fakeIndex) TopSimilar(ctx context.Context, ontology string, vec []float32, k int) ([]domain.Concept, error) {
	return nil, nil
}

type fakeApplier struct {
	calls int
}

func (f *fakeApplier) Apply(ctx context.Context, extraction domain.ExtractionResult, source domain.Source, ontology string) (upsert.Report, error) {
	f.calls++
	return upsert.Report{ConceptsCreated: len(extraction.Concepts)}, nil
}

func testChunkerConfig() config.ChunkerConfig {
	return config.ChunkerConfig{TargetWords: 10, MinWords: 2, MaxWords: 20, OverlapWords: 0}
}

func TestAnalyzeDoesNotCallApplier(t *testing.T) {
	applier := &fakeApplier{}
	w := New(fakeProvider{}, fakeEmbedder{}, fakeIndex{}, applier, testChunkerConfig(), nil)

	result := w.Analyze("one two three four five six seven eight nine ten eleven twelve")
	assert.Greater(t, result.ChunksTotal, 0)
	assert.Equal(t, 0, applier.calls)
}

func TestExecuteAppliesEveryChunk(t *testing.T) {
	applier := &fakeApplier{}
	w := New(fakeProvider{result: domain.ExtractionResult{Concepts: []domain.ConceptCandidate{{Label: "X"}}}}, fakeEmbedder{}, fakeIndex{}, applier, testChunkerConfig(), nil)

	text := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen"
	var results []ChunkResult
	err := w.Execute(context.Background(), text, domain.Source{ID: "s1"}, "physics", 0, func() bool { return false }, func(r ChunkResult) {
		results = append(results, r)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.Equal(t, len(results), applier.calls)
}

func TestExecuteStopsOnCancelBeforeFirstChunk(t *testing.T) {
	applier := &fakeApplier{}
	w := New(fakeProvider{}, fakeEmbedder{}, fakeIndex{}, applier, testChunkerConfig(), nil)

	err := w.Execute(context.Background(), "one two three four five six seven eight nine ten eleven twelve", domain.Source{ID: "s1"}, "physics", 0, func() bool { return true }, func(r ChunkResult) {})
	assert.Error(t, err)
	assert.Equal(t, 0, applier.calls)
}

func TestExecuteResumesFromStartIndex(t *testing.T) {
	applier := &fakeApplier{}
	w := New(fakeProvider{result: domain.ExtractionResult{}}, fakeEmbedder{}, fakeIndex{}, applier, testChunkerConfig(), nil)

	text := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty"
	var seen []int
	err := w.Execute(context.Background(), text, domain.Source{ID: "s1"}, "physics", 1, func() bool { return false }, func(r ChunkResult) {
		seen = append(seen, r.ChunkIndex)
	})
	require.NoError(t, err)
	for _, idx := range seen {
		assert.GreaterOrEqual(t, idx, 1)
	}
}
