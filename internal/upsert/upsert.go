// Package upsert implements the UpsertEngine: applying one
// ExtractionResult to the Store transactionally — resolving concepts by
// exact-id match or vector similarity, linking sources and instances,
// upserting relationships through the vocabulary registry, and
// recomputing grounding for every concept whose edges changed. Directly
// grounded on internal/service/memory/service.go
// CreateNodeWithEdges: extract-features → find-related-by-overlap →
// single transactional write, generalized from keyword overlap to cosine
// similarity and from always-create to create-or-merge by threshold.
package upsert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/domainservices"
	kgerrors "kgraph-backend/internal/errors"
)

// GraphStore is the narrow property-graph surface UpsertEngine needs;
// implemented by internal/store/graph, wrapped in a transaction per Apply
// call.
type GraphStore interface {
	// WithTx runs fn inside a single transactional scope scoped to
	// ontology, guaranteed commit-or-rollback on every exit path.
	WithTx(ctx context.Context, ontology string, fn func(tx Tx) error) error
}

// Tx is the set of graph operations available inside a GraphStore
// transaction.
type Tx interface {
	VectorSearch(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]domainservices.ScoredConcept, error)
	GetConcept(ctx context.Context, id string) (domain.Concept, bool, error)
	UpsertConcept(ctx context.Context, c domain.Concept) error
	LinkSource(ctx context.Context, conceptID, sourceID string) error
	GetSource(ctx context.Context, sourceID string) (domain.Source, error)
	PutSource(ctx context.Context, src domain.Source) error
	CreateInstance(ctx context.Context, inst domain.Instance) error
	GetRelationship(ctx context.Context, key domain.RelationshipKey) (domain.Relationship, bool, error)
	UpsertRelationship(ctx context.Context, r domain.Relationship) error
	RelationshipsTouching(ctx context.Context, conceptID string) ([]domain.Relationship, error)
	SetGrounding(ctx context.Context, conceptID string, score *float64) error
}

// VocabResolver is the narrow vocab surface UpsertEngine needs.
type VocabResolver interface {
	Resolve(ctx context.Context, suggestion string, embedding domain.Embedding, category string) (string, error)
}

// Embedder is the narrow embedding surface UpsertEngine needs.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
}

// Report summarizes the effects of one Apply call, feeding Job.Progress
// counters.
type Report struct {
	ConceptsCreated      int
	ConceptsUpdated      int
	InstancesCreated     int
	RelationshipsCreated int
	Warnings             []string
}

// Engine resolves extracted concepts and relationships against the existing
// graph and commits the result.
type Engine struct {
	store     GraphStore
	vocab     VocabResolver
	embedder  Embedder
	grounding *domainservices.GroundingCalculator
	log       *zap.Logger

	// MatchThreshold is the cosine-similarity floor above which a candidate
	// concept is merged instead of created. It is fixed at construction
	// (the container passes Config.Upsert.MatchThreshold) and applies to
	// every ontology; EmbeddingConfig.MatchThreshold is not read here.
	MatchThreshold float64
}

// ontologyLocks holds one *sync.Mutex per ontology, serializing Apply calls
// that target the same ontology.
var ontologyLocks sync.Map

func New(store GraphStore, vocab VocabResolver, embedder Embedder, grounding *domainservices.GroundingCalculator, matchThreshold float64, log *zap.Logger) *Engine {
	return &Engine{store: store, vocab: vocab, embedder: embedder, grounding: grounding, MatchThreshold: matchThreshold, log: log}
}

// Apply applies a single chunk's ExtractionResult transactionally, running
// the five-step resolve/create/link/embed/ground algorithm below.
func (e *Engine) Apply(ctx context.Context, extraction domain.ExtractionResult, source domain.Source, ontology string) (Report, error) {
	var report Report

	// Concept dedup is serialized per ontology so two chunks applied
	// concurrently cannot each create a concept the other should merge into.
	mu, _ := ontologyLocks.LoadOrStore(ontology, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	err := e.store.WithTx(ctx, ontology, func(tx Tx) error {
		resolved := map[string]string{} // concept_id_suggestion -> resolved concept id
		touched := map[string]bool{}

		if err := tx.PutSource(ctx, source); err != nil {
			return kgerrors.Wrap(err, "persist source chunk")
		}

		// Step 1: resolve concepts.
		for _, cand := range extraction.Concepts {
			id, created, err := e.resolveConcept(ctx, tx, cand, ontology)
			if err != nil {
				return err
			}
			resolved[cand.ConceptIDSuggestion] = id
			touched[id] = true
			if created {
				report.ConceptsCreated++
			} else {
				report.ConceptsUpdated++
			}
			// Step 2: link source -> concept.
			if err := tx.LinkSource(ctx, id, source.ID); err != nil {
				return kgerrors.Wrap(err, "link source to concept")
			}
		}

		// Step 3: create instances, verifying quote substrings.
		for _, inst := range extraction.Instances {
			conceptID, ok := resolved[inst.ConceptIDSuggestion]
			if !ok {
				report.Warnings = append(report.Warnings, "instance references unresolved concept "+inst.ConceptIDSuggestion)
				continue
			}
			if !strings.Contains(source.FullText, inst.Quote) {
				report.Warnings = append(report.Warnings, "instance quote is not a substring of source text, skipped")
				continue
			}
			err := tx.CreateInstance(ctx, domain.Instance{
				ID:            instanceID(source.ID, conceptID, inst.Quote),
				Quote:         inst.Quote,
				FromConceptID: conceptID,
				FromSourceID:  source.ID,
			})
			if err != nil {
				return kgerrors.Wrap(err, "create instance")
			}
			report.InstancesCreated++
		}

		// Step 4: upsert relationships.
		for _, rel := range extraction.Relationships {
			fromID, fromOK := resolved[rel.From]
			toID, toOK := resolved[rel.To]
			if !fromOK || !toOK {
				report.Warnings = append(report.Warnings, "relationship has a dangling endpoint, dropped")
				continue
			}

			typeEmbedding, err := e.embedder.Embed(ctx, rel.RelationshipType)
			if err != nil {
				return kgerrors.Wrap(err, "embed relationship type suggestion")
			}
			canonicalType, err := e.vocab.Resolve(ctx, rel.RelationshipType, typeEmbedding, "")
			if err != nil {
				return kgerrors.Wrap(err, "resolve relationship type")
			}

			if fromID == toID && (canonicalType == "SUPPORTS" || canonicalType == "CONTRADICTS") {
				report.Warnings = append(report.Warnings, "self-loop relationship of type "+canonicalType+" is not permitted, dropped")
				continue
			}

			key := domain.RelationshipKey{From: fromID, To: toID, Type: canonicalType}
			existing, found, err := tx.GetRelationship(ctx, key)
			if err != nil {
				return kgerrors.Wrap(err, "lookup existing relationship")
			}
			confidence := rel.Confidence
			if found {
				confidence = (existing.Confidence + rel.Confidence) / 2
			} else {
				report.RelationshipsCreated++
			}
			now := time.Now()
			r := domain.Relationship{FromConceptID: fromID, ToConceptID: toID, Type: canonicalType, Confidence: confidence, UpdatedAt: now}
			if !found {
				r.CreatedAt = now
			} else {
				r.CreatedAt = existing.CreatedAt
			}
			if err := tx.UpsertRelationship(ctx, r); err != nil {
				return kgerrors.Wrap(err, "upsert relationship")
			}
			touched[fromID] = true
			touched[toID] = true
		}

		// Step 5: recompute grounding for every touched concept.
		ids := make([]string, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rels, err := tx.RelationshipsTouching(ctx, id)
			if err != nil {
				return kgerrors.Wrap(err, "load relationships for grounding recompute")
			}
			score := e.grounding.Score(rels)
			if err := tx.SetGrounding(ctx, id, score); err != nil {
				return kgerrors.Wrap(err, "persist grounding score")
			}
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

// resolveConcept implements step 1: exact-id promotion, then
// vector-similarity merge, then create. Tie-breaking on equal similarity
// uses lexicographic minimum concept id, per tie-breaking rule.
func (e *Engine) resolveConcept(ctx context.Context, tx Tx, cand domain.ConceptCandidate, ontology string) (id string, created bool, err error) {
	if cand.ConceptIDSuggestion != "" {
		if existing, ok, err := tx.GetConcept(ctx, cand.ConceptIDSuggestion); err != nil {
			return "", false, kgerrors.Wrap(err, "lookup concept by suggested id")
		} else if ok {
			merged := mergeConcept(existing, cand)
			emb, err := e.embedder.Embed(ctx, merged.Label+" "+strings.Join(merged.SearchTerms, " "))
			if err != nil {
				return "", false, kgerrors.Wrap(err, "re-embed merged concept")
			}
			merged.Embedding = emb
			merged.UpdatedAt = time.Now()
			if err := tx.UpsertConcept(ctx, merged); err != nil {
				return "", false, kgerrors.Wrap(err, "persist promoted concept")
			}
			return merged.ID, false, nil
		}
	}

	queryText := cand.Label + " " + strings.Join(cand.SearchTerms, " ")
	emb, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		return "", false, kgerrors.Wrap(err, "embed concept candidate")
	}

	matches, err := tx.VectorSearch(ctx, emb.Vector, 5, e.MatchThreshold)
	if err != nil {
		return "", false, kgerrors.Wrap(err, "vector search for concept dedup")
	}
	if len(matches) > 0 {
		best := bestMatch(matches)
		existing, ok, err := tx.GetConcept(ctx, best.ConceptID)
		if err != nil {
			return "", false, kgerrors.Wrap(err, "load matched concept")
		}
		if ok {
			merged := mergeConcept(existing, cand)
			merged.Embedding = emb
			merged.UpdatedAt = time.Now()
			if err := tx.UpsertConcept(ctx, merged); err != nil {
				return "", false, kgerrors.Wrap(err, "persist merged concept")
			}
			return merged.ID, false, nil
		}
	}

	now := time.Now()
	newConcept := domain.Concept{
		ID:          generateConceptID(ontology, cand.Label),
		Label:       cand.Label,
		SearchTerms: dedupeCaseInsensitive(cand.SearchTerms),
		Embedding:   emb,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.UpsertConcept(ctx, newConcept); err != nil {
		return "", false, kgerrors.Wrap(err, "create concept")
	}
	return newConcept.ID, true, nil
}

// bestMatch applies the lexicographic-minimum tie-break among equally
// similar candidates.
func bestMatch(matches []domainservices.ScoredConcept) domainservices.ScoredConcept {
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Similarity > best.Similarity || (m.Similarity == best.Similarity && m.ConceptID < best.ConceptID) {
			best = m
		}
	}
	return best
}

// mergeConcept unions search terms (case-insensitive, insertion-order
// preserving) onto an existing concept; embedding refresh happens by the
// caller since it needs an Embed round-trip.
func mergeConcept(existing domain.Concept, cand domain.ConceptCandidate) domain.Concept {
	existing.SearchTerms = dedupeCaseInsensitive(append(existing.SearchTerms, cand.SearchTerms...))
	return existing
}

func dedupeCaseInsensitive(terms []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// generateConceptID builds a new concept id as {ontology}_{slug(label)}_{hash6}.
func generateConceptID(ontology, label string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(label), "_"), "_")
	sum := sha256.Sum256([]byte(ontology + "|" + label + "|" + time.Now().String()))
	return fmt.Sprintf("%s_%s_%s", ontology, slug, hex.EncodeToString(sum[:])[:6])
}

func instanceID(sourceID, conceptID, quote string) string {
	sum := sha256.Sum256([]byte(sourceID + "|" + conceptID + "|" + quote))
	return hex.EncodeToString(sum[:])[:16]
}
