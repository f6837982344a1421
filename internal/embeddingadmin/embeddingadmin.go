// Package embeddingadmin implements the embedding-config administration
// surface: list/create/activate/deactivate/protect/unprotect/hotReload, plus
// the bulk re-embed that an activation changing dimensions requires.
// Activation swaps a live provider reference in place rather than
// restarting the process, coordinating three things at once: the
// relational config row, the vocab registry's embeddings, and the
// embedding provider itself.
package embeddingadmin

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
	"kgraph-backend/internal/providers/embedding"
	"kgraph-backend/internal/store/graph"
)

// Store is the narrow relational surface Admin needs, implemented by
// internal/store/relational.
type Store interface {
	ListEmbeddingConfigs(ctx context.Context) ([]domain.EmbeddingConfig, error)
	GetEmbeddingConfig(ctx context.Context, id string) (domain.EmbeddingConfig, error)
	GetActiveEmbeddingConfig(ctx context.Context) (domain.EmbeddingConfig, error)
	CreateEmbeddingConfig(ctx context.Context, cfg domain.EmbeddingConfig) error
	ActivateEmbeddingConfig(ctx context.Context, id string) error
	DeactivateEmbeddingConfig(ctx context.Context, id string) error
	SetProtection(ctx context.Context, id string, deleteProtected, changeProtected bool) error
	DeleteEmbeddingConfig(ctx context.Context, id string) error
}

// GraphStore is the narrow property-graph surface Admin needs for the bulk
// re-embed, implemented by internal/store/graph.Store.
type GraphStore interface {
	ScanConcepts(ctx context.Context) ([]graph.OntologyConcept, error)
	MarkEmbeddingIncompatible(ctx context.Context, ontology, conceptID string) error
	UpdateConceptEmbedding(ctx context.Context, ontology, conceptID string, emb domain.Embedding) error
}

// VectorIndex is the narrow vector-index surface Admin needs to rebuild the
// collection when a dimension change is forced through.
type VectorIndex interface {
	RecreateCollection(ctx context.Context, dimension int) error
}

// Embedder is the narrow EmbeddingProvider surface Admin needs: reload the
// live config and re-embed concepts in bulk.
type Embedder interface {
	Reload(cfg embedding.ProviderConfig)
	EmbedBatch(ctx context.Context, texts []string, role embedding.Role) ([]domain.Embedding, error)
}

// VocabReloader is the narrow VocabRegistry surface Admin needs after an
// activation changes the embedding space.
type VocabReloader interface {
	ReloadEmbeddings(ctx context.Context) (int, error)
}

// Admin manages embedding provider configuration, including switching the
// active config and re-embedding the vector index after a dimension change.
type Admin struct {
	store    Store
	graph    GraphStore
	index    VectorIndex
	embedder Embedder
	vocab    VocabReloader
	log      *zap.Logger

	// dimensionPending is set while a forced dimension change has recreated
	// the vector index collection but RegenerateEmbeddings has not yet
	// finished repopulating it, the window scenario 3 describes as
	// searchConcepts returning dimension_mismatch rather than empty hits.
	dimensionPending atomic.Bool
}

func New(store Store, graphStore GraphStore, index VectorIndex, embedder Embedder, vocab VocabReloader, log *zap.Logger) *Admin {
	return &Admin{store: store, graph: graphStore, index: index, embedder: embedder, vocab: vocab, log: log}
}

// List implements `list`.
func (a *Admin) List(ctx context.Context) ([]domain.EmbeddingConfig, error) {
	return a.store.ListEmbeddingConfigs(ctx)
}

// Create implements `create`.
func (a *Admin) Create(ctx context.Context, cfg domain.EmbeddingConfig) error {
	if cfg.Dimensions <= 0 {
		return kgerrors.Validation("embedding config dimensions must be positive")
	}
	return a.store.CreateEmbeddingConfig(ctx, cfg)
}

// Activate implements `activate`: a config whose dimensions differ from the
// currently active one is refused unless force is set. On a forced
// dimension change, every stored concept embedding is tagged incompatible
// and the vector index collection is recreated at the new dimension; a
// subsequent RegenerateEmbeddings call re-embeds them.
func (a *Admin) Activate(ctx context.Context, id string, force bool) error {
	next, err := a.store.GetEmbeddingConfig(ctx, id)
	if err != nil {
		return err
	}

	dimensionChanged := false
	if current, err := a.store.GetActiveEmbeddingConfig(ctx); err == nil {
		dimensionChanged = current.Dimensions != next.Dimensions
	}
	if dimensionChanged && !force {
		return kgerrors.New(kgerrors.KindConflict, "dimension_change_requires_force",
			"activating a config with different dimensions requires force=true")
	}

	if err := a.store.ActivateEmbeddingConfig(ctx, id); err != nil {
		return kgerrors.Wrap(err, "activate embedding config")
	}

	a.embedder.Reload(embedding.ProviderConfig{
		Provider: next.Provider, Model: next.ModelName, Dimension: next.Dimensions,
	})

	if _, err := a.vocab.ReloadEmbeddings(ctx); err != nil && a.log != nil {
		a.log.Warn("vocab re-embed after activation failed", zap.Error(err))
	}

	if !dimensionChanged {
		return nil
	}

	a.dimensionPending.Store(true)
	if err := a.index.RecreateCollection(ctx, next.Dimensions); err != nil {
		return kgerrors.Wrap(err, "recreate vector index collection for new dimension")
	}
	if err := a.markAllIncompatible(ctx); err != nil {
		return kgerrors.Wrap(err, "mark concepts incompatible after dimension change")
	}
	return nil
}

// DimensionPending reports whether a forced dimension change is between the
// collection recreate and a completed bulk re-embed. query.Service consults
// this to return dimension_mismatch instead of querying an index that holds
// fewer vectors than the store's concept count.
func (a *Admin) DimensionPending() bool {
	return a.dimensionPending.Load()
}

func (a *Admin) markAllIncompatible(ctx context.Context) error {
	concepts, err := a.graph.ScanConcepts(ctx)
	if err != nil {
		return err
	}
	for _, oc := range concepts {
		if err := a.graph.MarkEmbeddingIncompatible(ctx, oc.Ontology, oc.Concept.ID); err != nil {
			return err
		}
	}
	return nil
}

// Deactivate implements `deactivate`.
func (a *Admin) Deactivate(ctx context.Context, id string) error {
	return a.store.DeactivateEmbeddingConfig(ctx, id)
}

// Protect implements `protect`.
func (a *Admin) Protect(ctx context.Context, id string, deleteProtected, changeProtected bool) error {
	return a.store.SetProtection(ctx, id, deleteProtected, changeProtected)
}

// Unprotect implements `unprotect`.
func (a *Admin) Unprotect(ctx context.Context, id string) error {
	return a.store.SetProtection(ctx, id, false, false)
}

// Delete removes a config, refused when delete-protected or active (see
// internal/store/relational.DeleteEmbeddingConfig).
func (a *Admin) Delete(ctx context.Context, id string) error {
	return a.store.DeleteEmbeddingConfig(ctx, id)
}

// HotReload implements `hotReload`: re-point the live EmbeddingProvider at
// the currently active config without changing which config is active, for
// picking up a rotated API key.
func (a *Admin) HotReload(ctx context.Context) error {
	active, err := a.store.GetActiveEmbeddingConfig(ctx)
	if err != nil {
		return err
	}
	a.embedder.Reload(embedding.ProviderConfig{
		Provider: active.Provider, Model: active.ModelName, Dimension: active.Dimensions,
	})
	return nil
}

// RegenerateEmbeddings implements vocabulary admin's `regenerateEmbeddings`
// counterpart for concepts: re-embeds every concept tagged incompatible (or
// every concept, when force is set) against the currently active config.
func (a *Admin) RegenerateEmbeddings(ctx context.Context, force bool) (int, error) {
	concepts, err := a.graph.ScanConcepts(ctx)
	if err != nil {
		return 0, err
	}
	var regenerated int
	var remainingIncompatible int
	for _, oc := range concepts {
		if !force && !oc.Concept.IncompatibleEmbedding {
			continue
		}
		embs, err := a.embedder.EmbedBatch(ctx, []string{oc.Concept.Label}, embedding.RoleDocument)
		if err != nil {
			if a.log != nil {
				a.log.Warn("concept re-embed failed, leaving incompatible", zap.String("concept_id", oc.Concept.ID), zap.Error(err))
			}
			remainingIncompatible++
			continue
		}
		if err := a.graph.UpdateConceptEmbedding(ctx, oc.Ontology, oc.Concept.ID, embs[0]); err != nil {
			return regenerated, kgerrors.Wrap(err, "persist regenerated concept embedding")
		}
		regenerated++
	}
	if remainingIncompatible == 0 {
		a.dimensionPending.Store(false)
	}
	return regenerated, nil
}
