// Package query implements the read-only query surface: searchConcepts,
// getConcept, findConnection, findRelated. findConnection and findRelated
// run a BFS over Concept/Relationship edges, bounded by max_hops/max_depth
// rather than walking the graph unbounded.
package query

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/domainservices"
	kgerrors "kgraph-backend/internal/errors"
	"kgraph-backend/internal/providers/embedding"
)

// GraphStore is the narrow read surface Service needs, implemented by
// internal/store/graph.Store.
type GraphStore interface {
	VectorSearch(ctx context.Context, ontology string, vec []float32, k int, minSimilarity float64) ([]domainservices.ScoredConcept, error)
	GetConcept(ctx context.Context, ontology, conceptID string) (domain.Concept, bool, error)
	InstancesForConcept(ctx context.Context, conceptID string) ([]domain.Instance, error)
	RelationshipsTouching(ctx context.Context, conceptID string) ([]domain.Relationship, error)
}

// Embedder is the narrow EmbeddingProvider surface needed to turn query
// text into a query-role vector.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, role embedding.Role) ([]domain.Embedding, error)
}

// DimensionGate reports whether a forced embedding dimension change has
// recreated the vector index but bulk re-embed has not yet finished
// repopulating it, implemented by internal/embeddingadmin.Admin.
type DimensionGate interface {
	DimensionPending() bool
}

// Service answers read-only graph queries: concept search, lookup, shortest
// connection, and related-concept traversal.
type Service struct {
	store    GraphStore
	embedder Embedder
	gate     DimensionGate
	log      *zap.Logger
}

func New(store GraphStore, embedder Embedder, gate DimensionGate, log *zap.Logger) *Service {
	return &Service{store: store, embedder: embedder, gate: gate, log: log}
}

// ConceptHit is one searchConcepts result.
type ConceptHit struct {
	ConceptID         string
	Label             string
	Similarity        float64
	GroundingStrength *float64
	EvidenceCount     int
	SampleEvidence    string
}

// SearchConcepts implements `searchConcepts(query_text, limit, min_similarity, ontology?)`.
func (s *Service) SearchConcepts(ctx context.Context, ontology, queryText string, limit int, minSimilarity float64) ([]ConceptHit, error) {
	if s.gate != nil && s.gate.DimensionPending() {
		return nil, kgerrors.DimensionMismatch("vector index is mid bulk re-embed after a forced dimension change")
	}
	vecs, err := s.embedder.EmbedBatch(ctx, []string{queryText}, embedding.RoleQuery)
	if err != nil {
		return nil, kgerrors.Wrap(err, "embed search query")
	}
	if len(vecs) == 0 {
		return nil, kgerrors.New(kgerrors.KindInternal, "empty_embed_result", "embedder returned no vectors for search query")
	}

	scored, err := s.store.VectorSearch(ctx, ontology, vecs[0].Vector, limit, minSimilarity)
	if err != nil {
		return nil, kgerrors.Wrap(err, "vector search concepts")
	}

	hits := make([]ConceptHit, 0, len(scored))
	for _, sc := range scored {
		concept, ok, err := s.store.GetConcept(ctx, ontology, sc.ConceptID)
		if err != nil {
			return nil, kgerrors.Wrap(err, "load concept for search hit")
		}
		if !ok {
			continue
		}
		instances, err := s.store.InstancesForConcept(ctx, concept.ID)
		if err != nil {
			return nil, kgerrors.Wrap(err, "load instances for search hit")
		}
		hit := ConceptHit{
			ConceptID:         concept.ID, Label: concept.Label, Similarity: sc.Similarity,
			GroundingStrength: concept.GroundingStrength, EvidenceCount: len(instances),
		}
		if len(instances) > 0 {
			hit.SampleEvidence = instances[0].Quote
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// ConceptDetail is getConcept's `{…, instances[], relationships[]}` result.
type ConceptDetail struct {
	Concept       domain.Concept
	Instances     []domain.Instance
	Relationships []domain.Relationship
}

// GetConcept implements `getConcept(concept_id)`.
func (s *Service) GetConcept(ctx context.Context, ontology, conceptID string) (ConceptDetail, error) {
	concept, ok, err := s.store.GetConcept(ctx, ontology, conceptID)
	if err != nil {
		return ConceptDetail{}, kgerrors.Wrap(err, "get concept")
	}
	if !ok {
		return ConceptDetail{}, kgerrors.NotFound("concept not found: " + conceptID)
	}
	instances, err := s.store.InstancesForConcept(ctx, conceptID)
	if err != nil {
		return ConceptDetail{}, kgerrors.Wrap(err, "load concept instances")
	}
	rels, err := s.store.RelationshipsTouching(ctx, conceptID)
	if err != nil {
		return ConceptDetail{}, kgerrors.Wrap(err, "load concept relationships")
	}
	return ConceptDetail{Concept: concept, Instances: instances, Relationships: rels}, nil
}

// Path is one findConnection result: the node ids walked, the relationship
// edges used, and the hop count.
type Path struct {
	Nodes         []string
	Relationships []domain.Relationship
	Hops          int
}

type pathEntry struct {
	nodeID string
	edges  []domain.Relationship
}

// FindConnection implements `findConnection(from_concept_id, to_concept_id, max_hops)`:
// a breadth-first search over outgoing relationship edges, returning the
// shortest path found (if any) within max_hops.
func (s *Service) FindConnection(ctx context.Context, ontology, fromID, toID string, maxHops int) ([]Path, error) {
	if fromID == toID {
		return []Path{{Nodes: []string{fromID}, Hops: 0}}, nil
	}
	if _, ok, err := s.store.GetConcept(ctx, ontology, fromID); err != nil {
		return nil, kgerrors.Wrap(err, "load from-concept")
	} else if !ok {
		return nil, kgerrors.NotFound("concept not found: " + fromID)
	}

	visited := map[string]bool{fromID: true}
	queue := []pathEntry{{nodeID: fromID}}

	for hop := 0; hop < maxHops && len(queue) > 0; hop++ {
		var next []pathEntry
		for _, entry := range queue {
			rels, err := s.store.RelationshipsTouching(ctx, entry.nodeID)
			if err != nil {
				return nil, kgerrors.Wrap(err, "traverse relationships")
			}
			for _, r := range rels {
				if visited[r.ToConceptID] {
					continue
				}
				edges := append(append([]domain.Relationship{}, entry.edges...), r)
				if r.ToConceptID == toID {
					nodes := make([]string, 0, len(edges)+1)
					nodes = append(nodes, fromID)
					for _, e := range edges {
						nodes = append(nodes, e.ToConceptID)
					}
					return []Path{{Nodes: nodes, Relationships: edges, Hops: len(edges)}}, nil
				}
				visited[r.ToConceptID] = true
				next = append(next, pathEntry{nodeID: r.ToConceptID, edges: edges})
			}
		}
		queue = next
	}
	return nil, nil
}

// RelatedConcept is one findRelated result.
type RelatedConcept struct {
	ConceptID string
	Label     string
	Distance  int
	PathTypes []string
}

// FindRelated implements `findRelated(concept_id, max_depth)`: breadth-first
// expansion outward, returning every concept reached within max_depth along
// with the relationship-type path taken to reach it.
func (s *Service) FindRelated(ctx context.Context, ontology, conceptID string, maxDepth int) ([]RelatedConcept, error) {
	if _, ok, err := s.store.GetConcept(ctx, ontology, conceptID); err != nil {
		return nil, kgerrors.Wrap(err, "load concept")
	} else if !ok {
		return nil, kgerrors.NotFound("concept not found: " + conceptID)
	}

	visited := map[string]bool{conceptID: true}
	queue := []pathEntry{{nodeID: conceptID}}
	var related []RelatedConcept

	for depth := 1; depth <= maxDepth && len(queue) > 0; depth++ {
		var next []pathEntry
		for _, entry := range queue {
			rels, err := s.store.RelationshipsTouching(ctx, entry.nodeID)
			if err != nil {
				return nil, kgerrors.Wrap(err, "traverse relationships")
			}
			for _, r := range rels {
				if visited[r.ToConceptID] {
					continue
				}
				visited[r.ToConceptID] = true
				types := make([]string, 0, len(entry.edges)+1)
				for _, e := range entry.edges {
					types = append(types, e.Type)
				}
				types = append(types, r.Type)

				concept, ok, err := s.store.GetConcept(ctx, ontology, r.ToConceptID)
				if err != nil {
					return nil, kgerrors.Wrap(err, "load related concept")
				}
				label := r.ToConceptID
				if ok {
					label = concept.Label
				}
				related = append(related, RelatedConcept{ConceptID: r.ToConceptID, Label: label, Distance: depth, PathTypes: types})
				next = append(next, pathEntry{nodeID: r.ToConceptID, edges: append(append([]domain.Relationship{}, entry.edges...), r)})
			}
		}
		queue = next
	}

	sort.Slice(related, func(i, j int) bool {
		if related[i].Distance != related[j].Distance {
			return related[i].Distance < related[j].Distance
		}
		return related[i].ConceptID < related[j].ConceptID
	})
	return related, nil
}
