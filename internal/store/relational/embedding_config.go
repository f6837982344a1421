package relational

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"kgraph-backend/internal/domain"
	kgerrors "kgraph-backend/internal/errors"
)

type embeddingConfigRow struct {
	ID              string    `db:"id"`
	Provider        string    `db:"provider"`
	ModelName       string    `db:"model_name"`
	Dimensions      int       `db:"dimensions"`
	Active          bool      `db:"active"`
	DeleteProtected bool      `db:"delete_protected"`
	ChangeProtected bool      `db:"change_protected"`
	MatchThreshold  float64   `db:"match_threshold"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r embeddingConfigRow) toDomain() domain.EmbeddingConfig {
	return domain.EmbeddingConfig{
		ID:             r.ID, Provider: r.Provider, ModelName: r.ModelName, Dimensions: r.Dimensions,
		Active:         r.Active, DeleteProtected: r.DeleteProtected, ChangeProtected: r.ChangeProtected,
		MatchThreshold: r.MatchThreshold, CreatedAt: r.CreatedAt,
	}
}

// ListEmbeddingConfigs implements embeddingadmin.Store.
func (s *Store) ListEmbeddingConfigs(ctx context.Context) ([]domain.EmbeddingConfig, error) {
	var rows []embeddingConfigRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM embedding_configs ORDER BY created_at ASC`); err != nil {
		return nil, kgerrors.StoreUnavailable("list embedding configs", err)
	}
	out := make([]domain.EmbeddingConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// GetEmbeddingConfig implements embeddingadmin.Store.
func (s *Store) GetEmbeddingConfig(ctx context.Context, id string) (domain.EmbeddingConfig, error) {
	var row embeddingConfigRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM embedding_configs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EmbeddingConfig{}, kgerrors.NotFound("embedding config not found: " + id)
	}
	if err != nil {
		return domain.EmbeddingConfig{}, kgerrors.StoreUnavailable("get embedding config", err)
	}
	return row.toDomain(), nil
}

// GetActiveEmbeddingConfig implements embeddingadmin.Store, relying on the
// partial unique index to guarantee at most one active row (// "exactly one EmbeddingConfig has active = true" invariant).
func (s *Store) GetActiveEmbeddingConfig(ctx context.Context) (domain.EmbeddingConfig, error) {
	var row embeddingConfigRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM embedding_configs WHERE active = TRUE`)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EmbeddingConfig{}, kgerrors.NotFound("no active embedding config")
	}
	if err != nil {
		return domain.EmbeddingConfig{}, kgerrors.StoreUnavailable("get active embedding config", err)
	}
	return row.toDomain(), nil
}

// CreateEmbeddingConfig implements embeddingadmin.Store.
func (s *Store) CreateEmbeddingConfig(ctx context.Context, cfg domain.EmbeddingConfig) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO embedding_configs (id, provider, model_name, dimensions, active, delete_protected, change_protected, match_threshold, created_at)
VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7, $8)
`, cfg.ID, cfg.Provider, cfg.ModelName, cfg.Dimensions, cfg.DeleteProtected, cfg.ChangeProtected, cfg.MatchThreshold, cfg.CreatedAt)
	if err != nil {
		return kgerrors.StoreUnavailable("create embedding config", err)
	}
	return nil
}

// ActivateEmbeddingConfig implements embeddingadmin.Store's transactional
// swap: deactivate every other config, activate this one. The partial
// unique index on (active) WHERE active makes the intermediate
// all-inactive state transient within the transaction rather than visible
// to other sessions.
func (s *Store) ActivateEmbeddingConfig(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE embedding_configs SET active = FALSE WHERE active = TRUE`); err != nil {
			return kgerrors.StoreUnavailable("deactivate current embedding config", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE embedding_configs SET active = TRUE WHERE id = $1`, id)
		if err != nil {
			return kgerrors.StoreUnavailable("activate embedding config", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return kgerrors.NotFound("embedding config not found: " + id)
		}
		return nil
	})
}

// DeactivateEmbeddingConfig implements embeddingadmin.Store, for the rare
// operational case of running with no active config (e.g. during a guided
// migration). Does not enforce "exactly one active" on its own; callers
// typically pair it with an immediate ActivateEmbeddingConfig of another
// config.
func (s *Store) DeactivateEmbeddingConfig(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE embedding_configs SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return kgerrors.StoreUnavailable("deactivate embedding config", err)
	}
	return nil
}

// SetProtection implements embeddingadmin.Store's protect/unprotect
// operations.
func (s *Store) SetProtection(ctx context.Context, id string, deleteProtected, changeProtected bool) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE embedding_configs SET delete_protected = $2, change_protected = $3 WHERE id = $1
`, id, deleteProtected, changeProtected)
	if err != nil {
		return kgerrors.StoreUnavailable("set embedding config protection", err)
	}
	return nil
}

// DeleteEmbeddingConfig implements embeddingadmin.Store, refusing a
// delete-protected config.
func (s *Store) DeleteEmbeddingConfig(ctx context.Context, id string) error {
	cfg, err := s.GetEmbeddingConfig(ctx, id)
	if err != nil {
		return err
	}
	if cfg.DeleteProtected {
		return kgerrors.New(kgerrors.KindConflict, "delete_protected", "embedding config "+id+" is delete-protected")
	}
	if cfg.Active {
		return kgerrors.New(kgerrors.KindConflict, "active_config", "cannot delete the active embedding config")
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM embedding_configs WHERE id = $1`, id)
	if err != nil {
		return kgerrors.StoreUnavailable("delete embedding config", err)
	}
	return nil
}
