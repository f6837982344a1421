package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
)

type vocabRow struct {
	TypeName      string         `db:"type_name"`
	Category      string         `db:"category"`
	SupportWeight float64        `db:"support_weight"`
	Embedding     sql.NullString `db:"embedding"`
	IsBuiltin     bool           `db:"is_builtin"`
	Synonyms      string         `db:"synonyms"`
	UsageCount    int64          `db:"usage_count"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r vocabRow) toDomain() (domain.VocabType, error) {
	t := domain.VocabType{
		Name:      r.TypeName, Category: r.Category, SupportWeight: domain.SupportWeight(r.SupportWeight),
		IsBuiltin: r.IsBuiltin, UsageCount: r.UsageCount, CreatedAt: r.CreatedAt,
	}
	if r.Embedding.Valid && r.Embedding.String != "" {
		if err := json.Unmarshal([]byte(r.Embedding.String), &t.Embedding); err != nil {
			return domain.VocabType{}, err
		}
	}
	if r.Synonyms != "" {
		if err := json.Unmarshal([]byte(r.Synonyms), &t.Synonyms); err != nil {
			return domain.VocabType{}, err
		}
	}
	return t, nil
}

// LoadVocabTypes implements vocab.Store.
func (s *Store) LoadVocabTypes(ctx context.Context) ([]domain.VocabType, error) {
	var rows []vocabRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM vocab_types`); err != nil {
		return nil, kgerrors.StoreUnavailable("load vocab types", err)
	}
	out := make([]domain.VocabType, 0, len(rows))
	for _, r := range rows {
		t, err := r.toDomain()
		if err != nil {
			return nil, kgerrors.Wrap(err, "unmarshal vocab type row")
		}
		out = append(out, t)
	}
	return out, nil
}

// SaveVocabType implements vocab.Store, upserting by type_name.
func (s *Store) SaveVocabType(ctx context.Context, t domain.VocabType) error {
	embJSON, err := json.Marshal(t.Embedding)
	if err != nil {
		return kgerrors.Wrap(err, "marshal vocab type embedding")
	}
	synJSON, err := json.Marshal(t.Synonyms)
	if err != nil {
		return kgerrors.Wrap(err, "marshal vocab type synonyms")
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO vocab_types (type_name, category, support_weight, embedding, is_builtin, synonyms, usage_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (type_name) DO UPDATE SET
 category = EXCLUDED.category, support_weight = EXCLUDED.support_weight,
 embedding = EXCLUDED.embedding, synonyms = EXCLUDED.synonyms, usage_count = EXCLUDED.usage_count
`, t.Name, t.Category, float64(t.SupportWeight), string(embJSON), t.IsBuiltin, string(synJSON), t.UsageCount, createdAt)
	if err != nil {
		return kgerrors.StoreUnavailable("save vocab type", err)
	}
	return nil
}

// DeleteVocabType implements vocab.Store.
func (s *Store) DeleteVocabType(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vocab_types WHERE type_name = $1`, name)
	if err != nil {
		return kgerrors.StoreUnavailable("delete vocab type", err)
	}
	return nil
}

// RetypeRelationships satisfies vocab.Store's interface shape for
// completeness, but relationship rows live in the graph store
// (internal/store/graph), not here. Real wiring passes a composite that
// routes this call to the graph store's RetypeRelationships instead of
// this relational stub — see internal/di's vocabStore adapter.
func (s *Store) RetypeRelationships(ctx context.Context, from, to string) (int64, error) {
	return 0, kgerrors.New(kgerrors.KindInternal, "not_implemented",
		"RetypeRelationships must be routed to the graph store, not the relational store")
}
