package domain

// ContextConcept is one entry of the ≤50 concepts ExtractionWorker hands the
// ExtractionProvider as rolling context for a chunk.
type ContextConcept struct {
	ConceptID   string   `json:"concept_id"`
	Label       string   `json:"label"`
	SearchTerms []string `json:"search_terms"`
}

// ConceptCandidate is one concept an extraction proposes. ConceptIDSuggestion
// may or may not match an existing concept id; UpsertEngine resolves it
// either way.
type ConceptCandidate struct {
	ConceptIDSuggestion string   `json:"concept_id_suggestion"`
	Label               string   `json:"label"`
	Confidence          float64  `json:"confidence"`
	SearchTerms         []string `json:"search_terms"`
}

// InstanceCandidate is one evidence quote an extraction proposes. Quote must
// be a verbatim substring of the chunk text; UpsertEngine validates this and
// drops the instance (with a warning) if it isn't.
type InstanceCandidate struct {
	ConceptIDSuggestion string `json:"concept_id_suggestion"`
	Quote               string `json:"quote"`
}

// RelationshipCandidate is one directed edge an extraction proposes, before
// its endpoints are resolved to concept ids and its type is resolved through
// the vocabulary registry.
type RelationshipCandidate struct {
	From             string  `json:"from"`
	To               string  `json:"to"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
}

// ExtractionResult is the strictly-typed output of a single
// ExtractionProvider.Extract call.
type ExtractionResult struct {
	Concepts      []ConceptCandidate      `json:"concepts"`
	Instances     []InstanceCandidate     `json:"instances"`
	Relationships []RelationshipCandidate `json:"relationships"`
}
