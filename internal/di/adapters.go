package di

import (
	"context"
	"time"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
	"kgraph-backend/internal/events"
	"kgraph-backend/internal/store/graph"
	"kgraph-backend/internal/upsert"
)

// graphWithTxer is the narrow surface graphStoreAdapter needs from
// internal/store/graph.Store, named as an interface (rather than holding
// the concrete *graph.Store) so the adapter itself stays unit-testable
// against a fake.
type graphWithTxer interface {
	WithTx(ctx context.Context, ontology string, fn func(tx graph.Tx) error) error
}

// graphStoreAdapter bridges internal/store/graph.Store's WithTx (callback
// typed func(graph.Tx) error) to upsert.GraphStore's WithTx (callback typed
// func(upsert.Tx) error). graph.Tx and upsert.Tx share an identical method
// set but are distinct named interface types, so a function value typed
// over one does not satisfy a parameter typed over the other — Go requires
// exact type identity for function-typed parameters, not just a matching
// method set. This adapter is the entire fix: it exists only to re-type the
// callback at the call boundary.
type graphStoreAdapter struct{ store graphWithTxer }

func (g graphStoreAdapter) WithTx(ctx context.Context, ontology string, fn func(tx upsert.Tx) error) error {
	return g.store.WithTx(ctx, ontology, func(tx graph.Tx) error { return fn(tx) })
}

// graphRetyper is the narrow graph.Store surface vocabStoreAdapter needs
// for RetypeRelationships.
type graphRetyper interface {
	RetypeRelationships(ctx context.Context, from, to string) (int64, error)
}

// vocabStoreAdapter composes the relational store's vocab_types CRUD with
// the graph store's RetypeRelationships, satisfying vocab.Store from two
// backends: vocabulary rows live in PostgreSQL, but the relationship edges
// a retype touches live in the property graph. See
// internal/store/relational/vocab.go's RetypeRelationships stub for why
// this can't be satisfied by the relational store alone.
type vocabStoreAdapter struct {
	relational relationalVocabStore
	graph      graphRetyper
}

// relationalVocabStore is the narrow relational.Store surface this adapter
// needs, named locally to avoid an import cycle back to internal/store/relational
// from this file's doc comment reasoning alone (the concrete type is passed
// in from container.go).
type relationalVocabStore interface {
	LoadVocabTypes(ctx context.Context) ([]domain.VocabType, error)
	SaveVocabType(ctx context.Context, t domain.VocabType) error
	DeleteVocabType(ctx context.Context, name string) error
}

func (a vocabStoreAdapter) LoadVocabTypes(ctx context.Context) ([]domain.VocabType, error) {
	return a.relational.LoadVocabTypes(ctx)
}

func (a vocabStoreAdapter) SaveVocabType(ctx context.Context, t domain.VocabType) error {
	return a.relational.SaveVocabType(ctx, t)
}

func (a vocabStoreAdapter) DeleteVocabType(ctx context.Context, name string) error {
	return a.relational.DeleteVocabType(ctx, name)
}

func (a vocabStoreAdapter) RetypeRelationships(ctx context.Context, from, to string) (int64, error) {
	if a.graph == nil {
		return 0, kgerrors.New(kgerrors.KindInternal, "not_wired", "vocab store adapter has no graph backend")
	}
	return a.graph.RetypeRelationships(ctx, from, to)
}

// lifecycleEventAdapter bridges internal/events.Publisher's batch-oriented
// Publish([]JobLifecycleEvent) to scheduler.LifecyclePublisher's
// single-event Publish(jobID, ontology, state), letting the scheduler stay
// unaware of EventBridge's batching API.
type lifecycleEventAdapter struct {
	publisher *events.Publisher
}

func (a lifecycleEventAdapter) Publish(ctx context.Context, jobID, ontology string, state domain.JobState) error {
	return a.publisher.Publish(ctx, []events.JobLifecycleEvent{{
		JobID:     jobID,
		Ontology:  ontology,
		State:     state,
		Timestamp: time.Now(),
	}})
}
