// Package vocab implements the self-extending controlled vocabulary of
// relationship types: Registry, its zone-based aggressiveness policy, and
// the embedding-backed resolve/merge operations. Resolution follows a
// similarity-gated category match, generalized from a flat threshold to a
// zone-scaled aggressiveness curve as the registry fills up.

package vocab

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kgraph-backend/internal/config"
	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/domainservices"
	kgerrors "kgraph-backend/internal/errors"
)

// Store is the narrow persistence surface Registry needs; implemented by
// internal/di's vocabStoreAdapter over internal/store/relational (vocab_types
// rows) and internal/store/graph (RetypeRelationships).
type Store interface {
	LoadVocabTypes(ctx context.Context) ([]domain.VocabType, error)
	SaveVocabType(ctx context.Context, t domain.VocabType) error
	DeleteVocabType(ctx context.Context, name string) error
	RetypeRelationships(ctx context.Context, from, to string) (int64, error)
}

// Embedder is the narrow provider surface Registry needs to embed type
// names; implemented by internal/providers/embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.Embedding, error)
}

// Status is the snapshot returned by Registry.Status for admin surfaces.
type Status struct {
	Size           int
	Zone           domain.Zone
	Aggressiveness float64
	Categories     map[string]int
}

// Registry is the in-memory map of type_name → VocabType, backed by Store
// for durability. Reads take the shared read lock of mu and writes take its
// exclusive lock; reads are not lock-free.
type Registry struct {
	cfg config.VocabConfig
	log *zap.Logger

	store    Store
	embedder Embedder

	mu    sync.RWMutex
	types map[string]domain.VocabType
}

var normalizeRe = regexp.MustCompile(`[^A-Z0-9]+`)

// Normalize uppercases and snake-cases a suggested type name, per resolve
// step 1.
func Normalize(s string) string {
	upper := strings.ToUpper(strings.TrimSpace(s))
	snake := normalizeRe.ReplaceAllString(upper, "_")
	return strings.Trim(snake, "_")
}

func New(cfg config.VocabConfig, store Store, embedder Embedder, log *zap.Logger) *Registry {
	return &Registry{cfg: cfg, store: store, embedder: embedder, log: log, types: map[string]domain.VocabType{}}
}

// Load seeds the registry from Store, falling back to BuiltinVocabTypes if
// the store is empty (fresh ontology).
func (r *Registry) Load(ctx context.Context) error {
	existing, err := r.store.LoadVocabTypes(ctx)
	if err != nil {
		return kgerrors.Wrap(err, "load vocab types")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(existing) == 0 {
		for _, t := range domain.BuiltinVocabTypes() {
			r.types[t.Name] = t
		}
		return nil
	}
	for _, t := range existing {
		r.types[t.Name] = t
	}
	return nil
}

// Zone derives the growth regime purely from registry size, per the
// table.
func (r *Registry) Zone() domain.Zone {
	r.mu.RLock()
	size := len(r.types)
	r.mu.RUnlock()
	return zoneFor(size, r.cfg)
}

func zoneFor(size int, cfg config.VocabConfig) domain.Zone {
	switch {
	case size <= cfg.MinComfort:
		return domain.ZoneComfort
	case size <= cfg.SoftMax:
		return domain.ZoneNormal
	case size <= cfg.HardMax:
		return domain.ZonePressure
	default:
		return domain.ZoneEmergency
	}
}

// aggressiveness returns the scalar in [0,1] for the given zone and size,
// per the table: 0% in COMFORT, scaled 0→66% across NORMAL,
// scaled 66→100% across PRESSURE, 100% in EMERGENCY.
func aggressiveness(size int, cfg config.VocabConfig) float64 {
	switch zoneFor(size, cfg) {
	case domain.ZoneComfort:
		return 0
	case domain.ZoneNormal:
		span := float64(cfg.SoftMax - cfg.MinComfort)
		if span <= 0 {
			return 0.66
		}
		frac := float64(size-cfg.MinComfort) / span
		return clamp01(frac) * 0.66
	case domain.ZonePressure:
		span := float64(cfg.HardMax - cfg.SoftMax)
		if span <= 0 {
			return 1.0
		}
		frac := float64(size-cfg.SoftMax) / span
		return 0.66 + clamp01(frac)*0.34
	default:
		return 1.0
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Status reports the current zone/size/aggressiveness/categories snapshot.
func (r *Registry) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := len(r.types)
	cats := map[string]int{}
	for _, t := range r.types {
		cats[t.Category]++
	}
	return Status{
		Size:           size,
		Zone:           zoneFor(size, r.cfg),
		Aggressiveness: aggressiveness(size, r.cfg),
		Categories:     cats,
	}
}

// SupportWeightOf implements domainservices.VocabWeightLookup.
func (r *Registry) SupportWeightOf(typeName string) domain.SupportWeight {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.types[typeName]; ok {
		return t.SupportWeight
	}
	return domain.SupportWeightNeutral
}

// Resolve implements resolve algorithm exactly: exact match,
// then best cosine match against merge_threshold (raised by
// aggressiveness), then zone-gated creation, then degraded forced merge.
func (r *Registry) Resolve(ctx context.Context, suggestion string, embedding domain.Embedding, category string) (string, error) {
	name := Normalize(suggestion)
	if name == "" {
		return "", kgerrors.Validation("empty relationship type suggestion")
	}

	r.mu.RLock()
	if _, ok := r.types[name]; ok {
		r.mu.RUnlock()
		return name, nil
	}
	candidates := make([]string, 0, len(r.types))
	vectors := make([][]float32, 0, len(r.types))
	for n, t := range r.types {
		candidates = append(candidates, n)
		vectors = append(vectors, t.Embedding.Vector)
	}
	size := len(r.types)
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return r.create(ctx, name, embedding, category)
	}

	idx, sim := domainservices.MostSimilar(embedding.Vector, vectors)
	agg := aggressiveness(size, r.cfg)
	effectiveMergeThreshold := r.cfg.MergeThreshold + (1-r.cfg.MergeThreshold)*agg*0.5

	if idx >= 0 && sim >= effectiveMergeThreshold {
		matched := candidates[idx]
		r.addSynonym(ctx, matched, name)
		return matched, nil
	}

	zone := zoneFor(size, r.cfg)
	// With no comparable candidate (idx < 0) there is nothing to merge into.
	canCreate := idx < 0 || zone == domain.ZoneComfort ||
		(zone == domain.ZoneNormal) ||
		(zone == domain.ZonePressure && (idx < 0 || sim < r.cfg.CreationThreshold))

	if canCreate {
		return r.create(ctx, name, embedding, category)
	}

	if r.log != nil {
		r.log.Warn("vocab degraded merge: zone refuses new type",
			zap.String("suggestion", name), zap.String("matched", candidates[idx]),
			zap.Float64("similarity", sim), zap.String("zone", string(zone)))
	}
	matched := candidates[idx]
	r.addSynonym(ctx, matched, name)
	return matched, nil
}

func (r *Registry) create(ctx context.Context, name string, embedding domain.Embedding, category string) (string, error) {
	if category == "" {
		category = "uncategorized"
	}
	t := domain.VocabType{
		Name:          name,
		Category:      category,
		SupportWeight: domain.SupportWeightNeutral,
		Embedding:     embedding,
		IsBuiltin:     false,
		CreatedAt:     time.Now(),
	}
	if err := r.store.SaveVocabType(ctx, t); err != nil {
		return "", kgerrors.Wrap(err, "create vocab type "+name)
	}
	r.mu.Lock()
	r.types[name] = t
	r.mu.Unlock()
	return name, nil
}

func (r *Registry) addSynonym(ctx context.Context, canonical, synonym string) {
	r.mu.Lock()
	t, ok := r.types[canonical]
	if !ok {
		r.mu.Unlock()
		return
	}
	if !t.HasSynonym(synonym) {
		t.Synonyms = append(t.Synonyms, synonym)
		t.UsageCount++
		r.types[canonical] = t
	}
	r.mu.Unlock()
	if err := r.store.SaveVocabType(ctx, t); err != nil && r.log != nil {
		r.log.Warn("failed to persist vocab synonym", zap.String("type", canonical), zap.Error(err))
	}
}

// Merge redirects every edge of type a to type b, copies a's synonyms onto
// b, and deletes a. The retype, save and delete are three separate Store
// calls with no enclosing transaction; a failure part-way returns an error
// and leaves the earlier steps applied.
func (r *Registry) Merge(ctx context.Context, a, b, reason string) error {
	a, b = Normalize(a), Normalize(b)
	if a == b {
		return kgerrors.Validation("cannot merge a vocab type into itself")
	}
	r.mu.Lock()
	typeA, okA := r.types[a]
	typeB, okB := r.types[b]
	r.mu.Unlock()
	if !okA || !okB {
		return kgerrors.NotFound("merge: one of the two vocab types does not exist")
	}

	if _, err := r.store.RetypeRelationships(ctx, a, b); err != nil {
		return kgerrors.Wrap(err, "retype relationships during vocab merge")
	}

	r.mu.Lock()
	merged := typeB
	for _, syn := range append(typeA.Synonyms, a) {
		if !merged.HasSynonym(syn) {
			merged.Synonyms = append(merged.Synonyms, syn)
		}
	}
	merged.UsageCount += typeA.UsageCount
	r.types[b] = merged
	delete(r.types, a)
	r.mu.Unlock()

	if err := r.store.SaveVocabType(ctx, merged); err != nil {
		return kgerrors.Wrap(err, "persist merged vocab type")
	}
	if err := r.store.DeleteVocabType(ctx, a); err != nil {
		return kgerrors.Wrap(err, "delete merged-away vocab type")
	}
	if r.log != nil {
		r.log.Info("vocab types merged", zap.String("from", a), zap.String("into", b), zap.String("reason", reason))
	}
	return nil
}

// ReloadEmbeddings re-embeds every registered type against the currently
// active EmbeddingProvider. Must be invoked after an EmbeddingConfig
// activation changes model or dimension.
func (r *Registry) ReloadEmbeddings(ctx context.Context) (int, error) {
	r.mu.Lock()
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, n)
	}
	r.mu.Unlock()

	var reembedded int
	for _, n := range names {
		emb, err := r.embedder.Embed(ctx, n)
		if err != nil {
			if r.log != nil {
				r.log.Warn("vocab re-embed failed, leaving prior embedding in place", zap.String("type", n), zap.Error(err))
			}
			continue
		}
		r.mu.Lock()
		t := r.types[n]
		t.Embedding = emb
		r.types[n] = t
		r.mu.Unlock()
		if err := r.store.SaveVocabType(ctx, t); err != nil {
			return reembedded, kgerrors.Wrap(err, "persist re-embedded vocab type "+n)
		}
		reembedded++
	}
	return reembedded, nil
}

// ListTypes returns a snapshot copy of every registered vocab type.
func (r *Registry) ListTypes() []domain.VocabType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VocabType, 0, len(r.types))
	for _, t := range r.types {
		out = append(out, t)
	}
	return out
}
