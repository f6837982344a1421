// Package graph implements the property-graph slice (the
// Concept/Source/Instance/Relationship namespace) against DynamoDB, using a
// single-table item design: composite PK/SK keys distinguishing item kinds
// within one table, and TransactWriteItems for atomic multi-item writes.
// Partitions follow an ONTOLOGY#{ontology}#CONCEPT#{concept_id} /
// SOURCE#{source_id} scheme; instances are items keyed
// PK=CONCEPT#{concept_id}, SK=INSTANCE#{id}. Relationship edges are stored
// twice: a forward adjacency item under the source concept's partition
// (PK=CONCEPT#{from}, SK=REL#{type}#{to}) and a reverse adjacency item under
// the target concept's partition (PK=CONCEPT#{to}, SK=RELIN#{type}#{from}),
// so both endpoints can list their incident edges with a plain Query and no
// secondary index.
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/domainservices"
	kgerrors "kgraph-backend/internal/errors"
)

// ddbConcept is a concept item's on-wire shape, carrying an embedding
// vector and grounding score alongside its core attributes.
type ddbConcept struct {
	PK                    string    `dynamodbav:"PK"`
	SK                    string    `dynamodbav:"SK"`
	ConceptID             string    `dynamodbav:"ConceptID"`
	Ontology              string    `dynamodbav:"Ontology"`
	Label                 string    `dynamodbav:"Label"`
	SearchTerms           []string  `dynamodbav:"SearchTerms"`
	EmbeddingVector       []float64 `dynamodbav:"EmbeddingVector"`
	EmbeddingModel        string    `dynamodbav:"EmbeddingModel"`
	EmbeddingDimension    int       `dynamodbav:"EmbeddingDimension"`
	GroundingStrength     *float64  `dynamodbav:"GroundingStrength,omitempty"`
	IncompatibleEmbedding bool      `dynamodbav:"IncompatibleEmbedding"`
	CreatedAt             string    `dynamodbav:"CreatedAt"`
	UpdatedAt             string    `dynamodbav:"UpdatedAt"`
}

// ddbSourceLink is a secondary item recording that a concept appears in a
// source ("APPEARS_IN" edge).
type ddbSourceLink struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	SourceID string `dynamodbav:"SourceID"`
}

// ddbRelationship is the adjacency-item shape for a typed edge between two
// concepts.
type ddbRelationship struct {
	PK         string  `dynamodbav:"PK"`
	SK         string  `dynamodbav:"SK"`
	FromID     string  `dynamodbav:"FromID"`
	ToID       string  `dynamodbav:"ToID"`
	Type       string  `dynamodbav:"Type"`
	Confidence float64 `dynamodbav:"Confidence"`
	CreatedAt  string  `dynamodbav:"CreatedAt"`
	UpdatedAt  string  `dynamodbav:"UpdatedAt"`
}

// ddbSource stores the full chunk text and provenance a concept or
// instance was extracted from.
type ddbSource struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	SourceID      string `dynamodbav:"SourceID"`
	Ontology      string `dynamodbav:"Ontology"`
	DocumentLabel string `dynamodbav:"DocumentLabel"`
	ChunkIndex    int    `dynamodbav:"ChunkIndex"`
	FullText      string `dynamodbav:"FullText"`
	ContentHash   string `dynamodbav:"ContentHash"`
	CreatedAt     string `dynamodbav:"CreatedAt"`
}

func sourcePK(sourceID string) string { return fmt.Sprintf("SOURCE#%s", sourceID) }

type ddbInstance struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	InstanceID    string `dynamodbav:"InstanceID"`
	Quote         string `dynamodbav:"Quote"`
	FromConceptID string `dynamodbav:"FromConceptID"`
	FromSourceID  string `dynamodbav:"FromSourceID"`
}

// Store is the DynamoDB-backed graph namespace. It also proxies to an
// external vector index (VectorIndex) for similarity search, since
// DynamoDB has no native vector search primitive.
type Store struct {
	client    *dynamodb.Client
	table     string
	vectorIdx VectorIndex
}

// VectorIndex is the narrow surface Store needs from
// internal/store/vectorindex to resolve cosine-similarity queries.
type VectorIndex interface {
	Upsert(ctx context.Context, ontology, conceptID string, vec []float32) error
	Delete(ctx context.Context, ontology, conceptID string) error
	Search(ctx context.Context, ontology string, vec []float32, k int, minSimilarity float64) ([]domainservices.ScoredConcept, error)
}

func New(client *dynamodb.Client, table string, vectorIdx VectorIndex) *Store {
	return &Store{client: client, table: table, vectorIdx: vectorIdx}
}

// Tx mirrors upsert.Tx's method set. Declared locally so WithTx's callback
// signature doesn't import the upsert package, keeping the dependency
// direction storage -> domain rather than storage -> application.
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

func conceptPK(ontology, conceptID string) string {
	return fmt.Sprintf("ONTOLOGY#%s#CONCEPT#%s", ontology, conceptID)
}

const metaSK = "METADATA"

// WithTx runs fn against an ontology-scoped transaction handle. DynamoDB has
// no multi-statement transaction handle to hand back, so ddbTx batches
// TransactWriteItems entries for every write call and flushes them when fn
// returns without error, in TransactWriteItems calls of at most 100 items
// each. Each call is all-or-nothing; when more than 100 items are queued,
// an error in a later call leaves the earlier calls committed. Reads made
// through the handle go straight to DynamoDB (read committed, not
// snapshot-isolated): acceptable here because concept writes are
// additionally serialized per-ontology by upsert.Engine.Apply.
func (s *Store) WithTx(ctx context.Context, ontology string, fn func(tx Tx) error) error {
	tx := &ddbTx{store: s, ontology: ontology}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.items) == 0 {
		return nil
	}
	// DynamoDB limits a single transaction to 100 items; chunk defensively.
	for i := 0; i < len(tx.items); i += 100 {
		end := i + 100
		if end > len(tx.items) {
			end = len(tx.items)
		}
		_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx.items[i:end]})
		if err != nil {
			return kgerrors.StoreUnavailable("dynamodb transact write failed", err)
		}
	}
	// Vector index writes happen after the DynamoDB transaction commits (see
	// DESIGN.md "Store transactionality"); a failed vector write returns an
	// error but does not roll back or compensate the committed graph writes.
	for _, write := range tx.vectorWrites {
		if err := write(ctx); err != nil {
			return kgerrors.Wrap(err, "vector index write after graph commit")
		}
	}
	return nil
}

// ddbTx accumulates TransactWriteItems entries and queues vector-index
// writes to run after the DynamoDB transaction commits. It implements
// upsert.Tx directly: reads delegate to the enclosing Store, writes are
// batched here.
type ddbTx struct {
	store        *Store
	ontology     string
	items        []types.TransactWriteItem
	vectorWrites []func(ctx context.Context) error
}

func (t *ddbTx) put(item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return kgerrors.Wrap(err, "marshal dynamodb item")
	}
	t.items = append(t.items, types.TransactWriteItem{
		Put: &types.Put{TableName: aws.String(t.store.table), Item: av},
	})
	return nil
}

func (t *ddbTx) VectorSearch(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]domainservices.ScoredConcept, error) {
	return t.store.VectorSearch(ctx, t.ontology, vec, k, minSimilarity)
}

func (t *ddbTx) GetConcept(ctx context.Context, id string) (domain.Concept, bool, error) {
	return t.store.GetConcept(ctx, t.ontology, id)
}

func (t *ddbTx) UpsertConcept(ctx context.Context, c domain.Concept) error {
	vec64 := make([]float64, len(c.Embedding.Vector))
	for i, f := range c.Embedding.Vector {
		vec64[i] = float64(f)
	}
	item := ddbConcept{
		PK:                conceptPK(t.ontology, c.ID), SK: metaSK, ConceptID: c.ID, Ontology: t.ontology,
		Label:             c.Label, SearchTerms: c.SearchTerms,
		EmbeddingVector:   vec64, EmbeddingModel: c.Embedding.Model, EmbeddingDimension: c.Embedding.Dimension,
		GroundingStrength: c.GroundingStrength, IncompatibleEmbedding: c.IncompatibleEmbedding,
		CreatedAt:         c.CreatedAt.Format(time.RFC3339), UpdatedAt: c.UpdatedAt.Format(time.RFC3339),
	}
	if err := t.put(item); err != nil {
		return err
	}
	ontology, vec := t.ontology, c.Embedding.Vector
	t.vectorWrites = append(t.vectorWrites, func(ctx context.Context) error {
		return t.store.vectorIdx.Upsert(ctx, ontology, c.ID, vec)
	})
	return nil
}

func (t *ddbTx) LinkSource(ctx context.Context, conceptID, sourceID string) error {
	item := ddbSourceLink{PK: conceptPK(t.ontology, conceptID), SK: fmt.Sprintf("APPEARS_IN#%s", sourceID), SourceID: sourceID}
	return t.put(item)
}

func (t *ddbTx) GetSource(ctx context.Context, sourceID string) (domain.Source, error) {
	return t.store.GetSource(ctx, sourceID)
}

// PutSource writes a source's chunk text and provenance, batched into the
// enclosing transaction the same as concept and relationship writes.
func (t *ddbTx) PutSource(ctx context.Context, src domain.Source) error {
	item := ddbSource{
		PK:            sourcePK(src.ID), SK: metaSK, SourceID: src.ID, Ontology: src.Ontology,
		DocumentLabel: src.DocumentLabel, ChunkIndex: src.ChunkIndex, FullText: src.FullText,
		ContentHash:   src.ContentHash, CreatedAt: src.CreatedAt.Format(time.RFC3339),
	}
	return t.put(item)
}

func (t *ddbTx) CreateInstance(ctx context.Context, inst domain.Instance) error {
	item := ddbInstance{
		PK:         fmt.Sprintf("CONCEPT#%s", inst.FromConceptID), SK: fmt.Sprintf("INSTANCE#%s", inst.ID),
		InstanceID: inst.ID, Quote: inst.Quote, FromConceptID: inst.FromConceptID, FromSourceID: inst.FromSourceID,
	}
	return t.put(item)
}

func (t *ddbTx) GetRelationship(ctx context.Context, key domain.RelationshipKey) (domain.Relationship, bool, error) {
	return t.store.GetRelationship(ctx, key)
}

func (t *ddbTx) UpsertRelationship(ctx context.Context, r domain.Relationship) error {
	fwd := ddbRelationship{
		PK:        fmt.Sprintf("CONCEPT#%s", r.FromConceptID), SK: fmt.Sprintf("REL#%s#%s", r.Type, r.ToConceptID),
		FromID:    r.FromConceptID, ToID: r.ToConceptID, Type: r.Type, Confidence: r.Confidence,
		CreatedAt: r.CreatedAt.Format(time.RFC3339), UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
	if err := t.put(fwd); err != nil {
		return err
	}
	// Reverse adjacency item: lets RelationshipsTouching(to) find this edge
	// by a plain Query against the target concept's own partition, without
	// a GSI keyed by ToID.
	rev := ddbRelationship{
		PK:        fmt.Sprintf("CONCEPT#%s", r.ToConceptID), SK: fmt.Sprintf("RELIN#%s#%s", r.Type, r.FromConceptID),
		FromID:    r.FromConceptID, ToID: r.ToConceptID, Type: r.Type, Confidence: r.Confidence,
		CreatedAt: r.CreatedAt.Format(time.RFC3339), UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
	return t.put(rev)
}

func (t *ddbTx) RelationshipsTouching(ctx context.Context, conceptID string) ([]domain.Relationship, error) {
	return t.store.RelationshipsTouching(ctx, conceptID)
}

func (t *ddbTx) SetGrounding(ctx context.Context, conceptID string, score *float64) error {
	return t.store.SetGrounding(ctx, t.ontology, conceptID, score)
}

// GetConcept fetches a single concept by id within an ontology.
func (s *Store) GetConcept(ctx context.Context, ontology, conceptID string) (domain.Concept, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conceptPK(ontology, conceptID)},
			"SK": &types.AttributeValueMemberS{Value: metaSK},
		},
	})
	if err != nil {
		return domain.Concept{}, false, kgerrors.StoreUnavailable("get concept item", err)
	}
	if out.Item == nil {
		return domain.Concept{}, false, nil
	}
	var item ddbConcept
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.Concept{}, false, kgerrors.Wrap(err, "unmarshal concept item")
	}
	return toDomainConcept(item), true, nil
}

func toDomainConcept(item ddbConcept) domain.Concept {
	vec := make([]float32, len(item.EmbeddingVector))
	for i, f := range item.EmbeddingVector {
		vec[i] = float32(f)
	}
	createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, item.UpdatedAt)
	return domain.Concept{
		ID:                    item.ConceptID, Label: item.Label, SearchTerms: item.SearchTerms,
		Embedding:             domain.Embedding{Vector: vec, Model: item.EmbeddingModel, Dimension: item.EmbeddingDimension},
		GroundingStrength:     item.GroundingStrength,
		IncompatibleEmbedding: item.IncompatibleEmbedding,
		CreatedAt:             createdAt, UpdatedAt: updatedAt,
	}
}

// GetSource fetches a source's stored chunk text by id.
func (s *Store) GetSource(ctx context.Context, sourceID string) (domain.Source, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sourcePK(sourceID)},
			"SK": &types.AttributeValueMemberS{Value: metaSK},
		},
	})
	if err != nil {
		return domain.Source{}, kgerrors.StoreUnavailable("get source item", err)
	}
	if out.Item == nil {
		return domain.Source{}, kgerrors.NotFound("source not found: " + sourceID)
	}
	var item ddbSource
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.Source{}, kgerrors.Wrap(err, "unmarshal source item")
	}
	createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
	return domain.Source{
		ID:         item.SourceID, Ontology: item.Ontology, DocumentLabel: item.DocumentLabel,
		ChunkIndex: item.ChunkIndex, FullText: item.FullText, ContentHash: item.ContentHash, CreatedAt: createdAt,
	}, nil
}

// VectorSearch proxies to the vector index, filtering to active-dimension
// embeddings by construction: the index only ever holds vectors of the
// currently active dimension.
func (s *Store) VectorSearch(ctx context.Context, ontology string, vec []float32, k int, minSimilarity float64) ([]domainservices.ScoredConcept, error) {
	results, err := s.vectorIdx.Search(ctx, ontology, vec, k, minSimilarity)
	if err != nil {
		return nil, kgerrors.Wrap(err, "vector search")
	}
	return results, nil
}

// TopSimilar returns the k concepts most similar to vec, for
// extraction.Worker's rolling extraction context. It reuses VectorSearch
// with no similarity floor and resolves each hit to its full Concept.
func (s *Store) TopSimilar(ctx context.Context, ontology string, vec []float32, k int) ([]domain.Concept, error) {
	scored, err := s.VectorSearch(ctx, ontology, vec, k, 0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Concept, 0, len(scored))
	for _, sc := range scored {
		concept, ok, err := s.GetConcept(ctx, ontology, sc.ConceptID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, concept)
		}
	}
	return out, nil
}

// OntologyConcept pairs a concept with the ontology partition it was
// scanned from, since domain.Concept itself carries no ontology field.
type OntologyConcept struct {
	Ontology string
	Concept  domain.Concept
}

// ScanConcepts returns every concept item in the table, for
// embeddingadmin.Admin's bulk re-embed after an EmbeddingConfig switch.
// Items are distinguished from Source/Instance/relationship items by the
// presence of the ConceptID attribute.
func (s *Store) ScanConcepts(ctx context.Context) ([]OntologyConcept, error) {
	var out []OntologyConcept
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          aws.String("attribute_exists(ConceptID) AND SK = :meta"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":meta": &types.AttributeValueMemberS{Value: metaSK},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, kgerrors.StoreUnavailable("scan concepts", err)
		}
		for _, rawItem := range page.Items {
			var item ddbConcept
			if err := attributevalue.UnmarshalMap(rawItem, &item); err != nil {
				continue
			}
			out = append(out, OntologyConcept{Ontology: item.Ontology, Concept: toDomainConcept(item)})
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}
	return out, nil
}

// RelationshipsTouching returns every relationship with conceptID as either
// endpoint, by querying the concept's own partition for both the forward
// adjacency prefix (REL#, edges it originates) and the reverse adjacency
// prefix (RELIN#, edges it terminates). Grounding (domainservices.
// GroundingCalculator) needs both directions to score a concept that is
// only ever an edge target.
func (s *Store) RelationshipsTouching(ctx context.Context, conceptID string) ([]domain.Relationship, error) {
	pk := fmt.Sprintf("CONCEPT#%s", conceptID)
	seen := make(map[domain.RelationshipKey]struct{})
	var rels []domain.Relationship
	for _, prefix := range []string{"REL#", "RELIN#"} {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
		})
		if err != nil {
			return nil, kgerrors.StoreUnavailable("query relationships touching concept", err)
		}
		for _, rawItem := range out.Items {
			var item ddbRelationship
			if err := attributevalue.UnmarshalMap(rawItem, &item); err != nil {
				continue
			}
			rel := toDomainRelationship(item)
			key := rel.Key()
			if _, ok := seen[key]; ok {
				// A self-loop stores its forward and reverse items in the
				// same partition; dedupe so it isn't counted twice.
				continue
			}
			seen[key] = struct{}{}
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

func toDomainRelationship(item ddbRelationship) domain.Relationship {
	createdAt, _ := time.Parse(time.RFC3339, item.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, item.UpdatedAt)
	return domain.Relationship{FromConceptID: item.FromID, ToConceptID: item.ToID, Type: item.Type, Confidence: item.Confidence, CreatedAt: createdAt, UpdatedAt: updatedAt}
}

// InstancesForConcept fetches every evidence instance anchored to a
// concept, for query.Service's getConcept(concept_id).
func (s *Store) InstancesForConcept(ctx context.Context, conceptID string) ([]domain.Instance, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("CONCEPT#%s", conceptID)},
			":prefix": &types.AttributeValueMemberS{Value: "INSTANCE#"},
		},
	})
	if err != nil {
		return nil, kgerrors.StoreUnavailable("query instances for concept", err)
	}
	instances := make([]domain.Instance, 0, len(out.Items))
	for _, rawItem := range out.Items {
		var item ddbInstance
		if err := attributevalue.UnmarshalMap(rawItem, &item); err != nil {
			continue
		}
		instances = append(instances, domain.Instance{
			ID: item.InstanceID, Quote: item.Quote, FromConceptID: item.FromConceptID, FromSourceID: item.FromSourceID,
		})
	}
	return instances, nil
}

// GetRelationship fetches a single relationship by its natural key.
func (s *Store) GetRelationship(ctx context.Context, key domain.RelationshipKey) (domain.Relationship, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("CONCEPT#%s", key.From)},
			"SK": &types.AttributeValueMemberS{Value: fmt.Sprintf("REL#%s#%s", key.Type, key.To)},
		},
	})
	if err != nil {
		return domain.Relationship{}, false, kgerrors.StoreUnavailable("get relationship item", err)
	}
	if out.Item == nil {
		return domain.Relationship{}, false, nil
	}
	var item ddbRelationship
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return domain.Relationship{}, false, kgerrors.Wrap(err, "unmarshal relationship item")
	}
	return toDomainRelationship(item), true, nil
}

// SetGrounding updates only the GroundingStrength attribute of a concept
// item, avoiding a full item rewrite for what is otherwise a hot path
// (every upsert touching a concept recomputes its grounding).
func (s *Store) SetGrounding(ctx context.Context, ontology, conceptID string, score *float64) error {
	update := "SET GroundingStrength = :g"
	values := map[string]types.AttributeValue{}
	if score == nil {
		update = "REMOVE GroundingStrength"
	} else {
		values[":g"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%v", *score)}
	}
	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conceptPK(ontology, conceptID)},
			"SK": &types.AttributeValueMemberS{Value: metaSK},
		},
		UpdateExpression: aws.String(update),
	}
	if len(values) > 0 {
		input.ExpressionAttributeValues = values
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return kgerrors.StoreUnavailable("update concept grounding", err)
	}
	return nil
}

// MarkEmbeddingIncompatible flags a concept's stored embedding as stale
// relative to the now-active EmbeddingConfig: embeddingadmin.Activate calls
// it for every existing concept when a forced activation changes the
// dimension, and the flag stays until the concept is re-embedded. The concept
// stays queryable by id/relationship traversal; only vector search
// excludes it until re-embedded.
func (s *Store) MarkEmbeddingIncompatible(ctx context.Context, ontology, conceptID string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conceptPK(ontology, conceptID)},
			"SK": &types.AttributeValueMemberS{Value: metaSK},
		},
		UpdateExpression:          aws.String("SET IncompatibleEmbedding = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return kgerrors.StoreUnavailable("mark concept embedding incompatible", err)
	}
	return nil
}

// UpdateConceptEmbedding re-embeds a single concept in place: the
// EmbeddingAdmin bulk-regenerate operation's per-concept unit of work. It
// clears IncompatibleEmbedding and upserts the refreshed vector into the
// vector index, so the concept is immediately searchable again.
func (s *Store) UpdateConceptEmbedding(ctx context.Context, ontology, conceptID string, emb domain.Embedding) error {
	vec64 := make([]float64, len(emb.Vector))
	for i, f := range emb.Vector {
		vec64[i] = float64(f)
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conceptPK(ontology, conceptID)},
			"SK": &types.AttributeValueMemberS{Value: metaSK},
		},
		UpdateExpression:          aws.String("SET EmbeddingVector = :v, EmbeddingModel = :m, EmbeddingDimension = :d, IncompatibleEmbedding = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberL{Value: float64ListAV(vec64)},
			":m": &types.AttributeValueMemberS{Value: emb.Model},
			":d": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", emb.Dimension)},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if err != nil {
		return kgerrors.StoreUnavailable("update concept embedding", err)
	}
	if err := s.vectorIdx.Upsert(ctx, ontology, conceptID, emb.Vector); err != nil {
		return kgerrors.Wrap(err, "upsert refreshed concept vector")
	}
	return nil
}

func float64ListAV(vec []float64) []types.AttributeValue {
	out := make([]types.AttributeValue, len(vec))
	for i, f := range vec {
		out[i] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%v", f)}
	}
	return out
}

// RetypeRelationships redirects every relationship adjacency item of type
// `from` onto type `to`, the graph-side half of vocab.Registry.Merge: the
// relational store (internal/store/relational) holds VocabType rows but
// the relationship edges themselves live here. Since DynamoDB has no
// cross-partition UPDATE, each matching item is read, rewritten under the
// new SK, and the old item deleted.
func (s *Store) RetypeRelationships(ctx context.Context, from, to string) (int64, error) {
	var scanned []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		page, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(s.table),
			FilterExpression:          aws.String("#t = :from"),
			ExpressionAttributeNames:  map[string]string{"#t": "Type"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":from": &types.AttributeValueMemberS{Value: from},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, kgerrors.StoreUnavailable("scan relationships for retype", err)
		}
		scanned = append(scanned, page.Items...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		startKey = page.LastEvaluatedKey
	}

	var count int64
	for _, rawItem := range scanned {
		var item ddbRelationship
		if err := attributevalue.UnmarshalMap(rawItem, &item); err != nil {
			continue
		}
		oldPK, oldSK := item.PK, item.SK
		var newPK, newSK string
		switch {
		case strings.HasPrefix(oldSK, "REL#"):
			newPK = fmt.Sprintf("CONCEPT#%s", item.FromID)
			newSK = fmt.Sprintf("REL#%s#%s", to, item.ToID)
		case strings.HasPrefix(oldSK, "RELIN#"):
			newPK = fmt.Sprintf("CONCEPT#%s", item.ToID)
			newSK = fmt.Sprintf("RELIN#%s#%s", to, item.FromID)
		default:
			continue
		}
		item.Type = to
		item.PK = newPK
		item.SK = newSK
		writes := []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName: aws.String(s.table),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: oldPK},
					"SK": &types.AttributeValueMemberS{Value: oldSK},
				},
			}},
		}
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			continue
		}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(s.table), Item: av}})
		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
			return count, kgerrors.StoreUnavailable("retype relationship item", err)
		}
		// Forward and reverse items retype independently since the scan
		// matches both; count only forward edges so callers see "N edges
		// merged" rather than double the true number.
		if strings.HasPrefix(oldSK, "REL#") {
			count++
		}
	}
	return count, nil
}

// DeleteConceptCascade removes a concept and every instance/relationship
// item that references it: instances and relationships are deleted when
// their endpoint concept is deleted. Items live under two different
// partitions for this concept id: the ontology-scoped partition
// (Concept META + SourceLink items) and the bare CONCEPT#{id} partition
// (Instance items plus forward REL# and reverse RELIN# adjacency items).
// Each relationship item also has a mirror copy under the OTHER concept's
// partition, which must be deleted too so a dangling half-edge doesn't
// survive the delete.
func (s *Store) DeleteConceptCascade(ctx context.Context, ontology, conceptID string) error {
	seen := make(map[string]struct{})
	var writes []types.TransactWriteItem

	addDelete := func(pk, sk string) {
		dedupeKey := pk + "\x00" + sk
		if _, ok := seen[dedupeKey]; ok {
			return
		}
		seen[dedupeKey] = struct{}{}
		writes = append(writes, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.table),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: pk},
					"SK": &types.AttributeValueMemberS{Value: sk},
				},
			},
		})
	}

	scopedOut, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: conceptPK(ontology, conceptID)},
		},
	})
	if err != nil {
		return kgerrors.StoreUnavailable("query concept partition for cascade delete", err)
	}
	for _, rawItem := range scopedOut.Items {
		sk := ""
		if skAttr, ok := rawItem["SK"].(*types.AttributeValueMemberS); ok {
			sk = skAttr.Value
		}
		addDelete(conceptPK(ontology, conceptID), sk)
	}

	barePK := fmt.Sprintf("CONCEPT#%s", conceptID)
	bareOut, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: barePK},
		},
	})
	if err != nil {
		return kgerrors.StoreUnavailable("query bare concept partition for cascade delete", err)
	}
	for _, rawItem := range bareOut.Items {
		sk := ""
		if skAttr, ok := rawItem["SK"].(*types.AttributeValueMemberS); ok {
			sk = skAttr.Value
		}
		addDelete(barePK, sk)

		switch {
		case strings.HasPrefix(sk, "REL#"):
			var item ddbRelationship
			if err := attributevalue.UnmarshalMap(rawItem, &item); err == nil {
				addDelete(fmt.Sprintf("CONCEPT#%s", item.ToID), fmt.Sprintf("RELIN#%s#%s", item.Type, item.FromID))
			}
		case strings.HasPrefix(sk, "RELIN#"):
			var item ddbRelationship
			if err := attributevalue.UnmarshalMap(rawItem, &item); err == nil {
				addDelete(fmt.Sprintf("CONCEPT#%s", item.FromID), fmt.Sprintf("REL#%s#%s", item.Type, item.ToID))
			}
		}
	}

	if len(writes) == 0 {
		return nil
	}
	// DynamoDB limits a single transaction to 100 items; chunk defensively,
	// same as WithTx.
	for i := 0; i < len(writes); i += 100 {
		end := i + 100
		if end > len(writes) {
			end = len(writes)
		}
		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes[i:end]}); err != nil {
			return kgerrors.StoreUnavailable("cascade delete transaction", err)
		}
	}
	if err := s.vectorIdx.Delete(ctx, ontology, conceptID); err != nil {
		return kgerrors.Wrap(err, "compensating vector index delete")
	}
	return nil
}
