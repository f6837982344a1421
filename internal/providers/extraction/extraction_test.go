package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
)

func TestParseResultHandlesWellFormedJSON(t *testing.T) {
	raw := `{"concepts":[{"concept_id_suggestion":"c1","label":"Gravity","confidence":0.9,"search_terms":["gravity"]}],"instances":[],"relationships":[]}`
	result, err := parseResult(raw)
	require.NoError(t, err)
	require.Len(t, result.Concepts, 1)
	assert.Equal(t, "Gravity", result.Concepts[0].Label)
}

func TestParseResultErrorsOnSyntacticallyInvalidJSON(t *testing.T) {
	raw := `{"concepts":[{"concept_id_suggestion":"c1","label":"Gravity","confidence":0.9}],"instances": NOT_JSON,"relationships":[]}`
	// malformed instances field makes the whole document invalid JSON, so
	// both the top-level Unmarshal and the gojq recovery pass fail and
	// parseResult reports a malformed-extraction error.
	_, err := parseResult(raw)
	assert.Error(t, err)
}

func TestParseResultRecoversWhenOneFieldHasWrongShape(t *testing.T) {
	raw := `{"concepts":[{"concept_id_suggestion":"c1","label":"Gravity","confidence":0.9}],"instances":[{"concept_id_suggestion":"c1","quote":"stuff falls"}],"relationships":"oops"}`
	result, err := parseResult(raw)
	require.NoError(t, err)
	assert.Len(t, result.Concepts, 1)
	assert.Len(t, result.Instances, 1)
	assert.Empty(t, result.Relationships)
}

func TestFilterInvalidQuotesDropsNonSubstringInstances(t *testing.T) {
	result := domain.ExtractionResult{
		Instances: []domain.InstanceCandidate{
			{ConceptIDSuggestion: "c1", Quote: "this is in the text"},
			{ConceptIDSuggestion: "c2", Quote: "this was never said"},
		},
	}
	filtered := filterInvalidQuotes(result, "prefix this is in the text suffix")
	require.Len(t, filtered.Instances, 1)
	assert.Equal(t, "c1", filtered.Instances[0].ConceptIDSuggestion)
}

func TestMockProviderReturnsConfiguredResult(t *testing.T) {
	want := domain.ExtractionResult{Concepts: []domain.ConceptCandidate{{Label: "X"}}}
	m := MockProvider{Result: want}
	got, err := m.Extract(nil, "text", nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
