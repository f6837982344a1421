// Package domain contains the core entities of the knowledge graph: concepts,
// their evidence, the sources they were extracted from, the relationships
// that connect them, and the vocabulary and job bookkeeping types that sit
// alongside them. It has no dependency on any storage or AI provider.
package domain

import "time"

// Embedding is a fixed-dimension vector tagged with the model that produced
// it, so a stored vector can be recognized as stale once the active
// EmbeddingConfig changes model or dimension.
type Embedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
}

// Concept is a deduplicated idea-node in the knowledge graph. It is created
// the first time extraction produces no similarity match against the active
// embedding space, and mutated (search terms unioned, embedding refreshed,
// grounding recomputed) every time a later extraction matches it instead.
type Concept struct {
	ID                string    `json:"concept_id"`
	Label             string    `json:"label"`
	SearchTerms       []string  `json:"search_terms"`
	Embedding         Embedding `json:"embedding"`
	GroundingStrength *float64  `json:"grounding_strength"`
	// IncompatibleEmbedding is set when Embedding.Dimension no longer
	// matches the active EmbeddingConfig's dimension. The concept remains
	// queryable but is excluded from vector search until re-embedded.
	IncompatibleEmbedding bool      `json:"incompatible_embedding"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Source is an immutable ingested chunk of a document, scoped to exactly one
// ontology.
type Source struct {
	ID            string    `json:"source_id"`
	Ontology      string    `json:"ontology"`
	DocumentLabel string    `json:"document_label"`
	ChunkIndex    int       `json:"chunk_index"`
	FullText      string    `json:"full_text"`
	ContentHash   string    `json:"content_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// Instance is a verbatim quote linking a Concept to the Source it was
// extracted from. It is immutable and deleted when either endpoint is
// deleted.
type Instance struct {
	ID            string `json:"id"`
	Quote         string `json:"quote"`
	FromConceptID string `json:"from_concept_id"`
	FromSourceID  string `json:"from_source_id"`
}

// Relationship is a directed, typed edge between two concepts. Multiple
// edges of different types between the same pair are allowed; duplicate
// (from, to, type) edges are merged by averaging their confidences.
type Relationship struct {
	FromConceptID string    `json:"from_concept_id"`
	ToConceptID   string    `json:"to_concept_id"`
	Type          string    `json:"type"`
	Confidence    float64   `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Key identifies a relationship by its (from, to, type) triple, the unit of
// merge-by-averaging.
func (r Relationship) Key() RelationshipKey {
	return RelationshipKey{From: r.FromConceptID, To: r.ToConceptID, Type: r.Type}
}

// RelationshipKey is the natural key of a Relationship.
type RelationshipKey struct {
	From string
	To   string
	Type string
}
