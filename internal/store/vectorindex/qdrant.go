// Package vectorindex implements the VectorIndex the graph store needs for
// cosine-similarity concept/vocabulary search, backed by Qdrant. Grounded
// on the retrieved pack's internal/persistence/databases/qdrant_vector.go
// (DSN parsing, ensureCollection, deterministic UUID point ids with the
// original id carried in the payload), generalized here from a single flat
// collection to one scoped per ontology via a payload filter, matching
// "embeddings are compared only within the same ontology"
// partitioning rule.
package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"kgraph-backend/internal/domainservices"
	kgerrors "kgraph-backend/internal/errors"
)

// originalIDField stores the caller-supplied concept id in the point
// payload, since Qdrant point ids must be a UUID or unsigned integer.
const originalIDField = "_concept_id"
const ontologyField = "_ontology"

// Index is a single Qdrant collection holding every ontology's concept (or
// vocabulary-type) embeddings, partitioned by an ontology payload field
// rather than one collection per ontology, avoiding an unbounded collection
// count as ontologies are created.
type Index struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// Open parses dsn (host[:port] with an optional api_key query parameter,
// scheme https enabling TLS, matching DSN convention), then
// ensures collection exists with the given vector dimension and cosine
// distance metric.
func Open(ctx context.Context, dsn, collection string, dimension int) (*Index, error) {
	if collection == "" {
		return nil, kgerrors.Validation("qdrant collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, kgerrors.Wrap(err, "parse qdrant dsn")
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, kgerrors.Wrap(err, "invalid port in qdrant dsn")
	}

	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, kgerrors.StoreUnavailable("create qdrant client", err)
	}

	idx := &Index{client: client, collection: collection, dimension: dimension}
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureCollection(ctx context.Context) error {
	exists, err := idx.client.CollectionExists(ctx, idx.collection)
	if err != nil {
		return kgerrors.StoreUnavailable("check qdrant collection exists", err)
	}
	if exists {
		return nil
	}
	if idx.dimension <= 0 {
		return kgerrors.Validation("qdrant collection requires a positive vector dimension")
	}
	err = idx.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: idx.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(idx.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return kgerrors.StoreUnavailable("create qdrant collection", err)
	}
	return nil
}

// RecreateCollection drops and recreates the collection against a new
// dimension, used by internal/embeddingadmin when an EmbeddingConfig
// activation changes the active model's dimension ("dimension
// change requires coordinated re-embed").
func (idx *Index) RecreateCollection(ctx context.Context, dimension int) error {
	if err := idx.client.DeleteCollection(ctx, idx.collection); err != nil {
		return kgerrors.StoreUnavailable("drop qdrant collection for dimension change", err)
	}
	idx.dimension = dimension
	return idx.ensureCollection(ctx)
}

func pointID(ontology, conceptID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(ontology+"/"+conceptID)).String())
}

// Upsert implements graph.VectorIndex.
func (idx *Index) Upsert(ctx context.Context, ontology, conceptID string, vec []float32) error {
	if len(vec) != idx.dimension {
		return kgerrors.DimensionMismatch(fmt.Sprintf("qdrant upsert: vector dimension %d does not match collection dimension %d", len(vec), idx.dimension))
	}
	payload := qdrant.NewValueMap(map[string]any{
		originalIDField: conceptID,
		ontologyField:   ontology,
	})
	point := &qdrant.PointStruct{
		Id:      pointID(ontology, conceptID),
		Vectors: qdrant.NewVectorsDense(append([]float32(nil), vec...)),
		Payload: payload,
	}
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: idx.collection, Points: []*qdrant.PointStruct{point}})
	if err != nil {
		return kgerrors.StoreUnavailable("qdrant upsert point", err)
	}
	return nil
}

// Delete implements graph.VectorIndex.
func (idx *Index) Delete(ctx context.Context, ontology, conceptID string) error {
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelector(pointID(ontology, conceptID)),
	})
	if err != nil {
		return kgerrors.StoreUnavailable("qdrant delete point", err)
	}
	return nil
}

// Search implements graph.VectorIndex, "search(vector,
// k, min_similarity, ontology)". The cosine distance metric makes Qdrant's
// returned score directly comparable to minSimilarity.
func (idx *Index) Search(ctx context.Context, ontology string, vec []float32, k int, minSimilarity float64) ([]domainservices.ScoredConcept, error) {
	if len(vec) != idx.dimension {
		return nil, kgerrors.DimensionMismatch(fmt.Sprintf("qdrant search: query vector dimension %d does not match collection dimension %d", len(vec), idx.dimension))
	}
	if k <= 0 {
		k = 10
	}
	limit := uint64(k)
	results, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQueryDense(append([]float32(nil), vec...)),
		Limit:          &limit,
		Filter:         &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(ontologyField, ontology)}},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, kgerrors.StoreUnavailable("qdrant query", err)
	}

	out := make([]domainservices.ScoredConcept, 0, len(results))
	for _, hit := range results {
		score := float64(hit.Score)
		if score < minSimilarity {
			continue
		}
		conceptID := ""
		if hit.Payload != nil {
			if v, ok := hit.Payload[originalIDField]; ok {
				conceptID = v.GetStringValue()
			}
		}
		if conceptID == "" {
			continue
		}
		out = append(out, domainservices.ScoredConcept{ConceptID: conceptID, Similarity: score})
	}
	return out, nil
}

// Close releases the underlying gRPC connection.
func (idx *Index) Close() error {
	return idx.client.Close()
}
