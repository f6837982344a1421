package domainservices

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
)

func TestCosineSimilarityIdenticalVectorsIsOne(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarityMismatchedDimensionsErrors(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestMostSimilarPicksClosestCandidate(t *testing.T) {
	idx, score := MostSimilar([]float32{1, 0}, [][]float32{{0, 1}, {0.9, 0.1}, {-1, 0}})
	assert.Equal(t, 1, idx)
	assert.Greater(t, score, 0.9)
}

type fakeWeights struct{}

func (fakeWeights) SupportWeightOf(t string) domain.SupportWeight {
	switch t {
	case "SUPPORTS":
		return domain.SupportWeightSupports
	case "CONTRADICTS":
		return domain.SupportWeightContradicts
	default:
		return domain.SupportWeightNeutral
	}
}

func TestGroundingCalculatorBalancedEdgesScoreHalf(t *testing.T) {
	calc := &GroundingCalculator{Vocab: fakeWeights{}}
	rels := []domain.Relationship{
		{Type: "SUPPORTS", Confidence: 0.8},
		{Type: "CONTRADICTS", Confidence: 0.8},
	}
	score := calc.Score(rels)
	require.NotNil(t, score)
	assert.InDelta(t, 0.5, *score, 1e-9)
}

func TestGroundingCalculatorNoScorableEdgesIsNil(t *testing.T) {
	calc := &GroundingCalculator{Vocab: fakeWeights{}}
	rels := []domain.Relationship{{Type: "RELATES_TO", Confidence: 0.9}}
	assert.Nil(t, calc.Score(rels))
}

func TestGroundingCalculatorUnanimousSupportIsOne(t *testing.T) {
	calc := &GroundingCalculator{Vocab: fakeWeights{}}
	rels := []domain.Relationship{
		{Type: "SUPPORTS", Confidence: 0.5},
		{Type: "SUPPORTS", Confidence: 0.9},
	}
	score := calc.Score(rels)
	require.NotNil(t, score)
	assert.InDelta(t, 1.0, *score, 1e-9)
}
