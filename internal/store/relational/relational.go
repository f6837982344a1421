// Package relational implements the PostgreSQL-backed slice of Store: the
// `jobs`, `embedding_configs`, `vocab_types`, and `schema_migrations`
// tables. A single long-lived client is wrapped by narrow per-concern
// stores, following the same pgxpool usage pattern applied elsewhere in
// this module. Struct scanning goes through jmoiron/sqlx; the pool itself
// is a pgx/v5 stdlib *sql.DB so sqlx can drive it directly.
package relational

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	kgerrors "kgraph-backend/internal/errors"
)

// Store is the PostgreSQL-backed relational slice of the durable state.
// Jobs, vocabulary, and embedding-config persistence all live here; the
// property graph and vector index are separate backends (internal/store/graph,
// internal/store/vectorindex) composed alongside this one.
type Store struct {
	db *sqlx.DB
}

// Open connects to PostgreSQL via the pgx stdlib driver and wraps the
// resulting *sql.DB with sqlx for struct scanning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, kgerrors.StoreUnavailable("open relational store", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, kgerrors.StoreUnavailable("ping relational store", err)
	}
	return &Store{db: sqlx.NewDb(sqlDB, "pgx")}, nil
}

// OpenFromDB wraps an already-open *sql.DB, used by tests to point at a
// fake/stub driver registered under the pgx stdlib name.
func OpenFromDB(sqlDB *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(sqlDB, "pgx")}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for migrations (goose operates on a
// *sql.DB, not sqlx's wrapper).
func (s *Store) DB() *sql.DB { return s.db.DB }

// WithTx runs fn inside a single relational transaction, committing or
// rolling back on every exit path. Jobs, vocab, and embedding configs never
// need to transact jointly with the graph store (see DESIGN.md for why the
// graph+vector write path uses its own WithTx instead).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return kgerrors.StoreUnavailable("begin relational transaction", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return kgerrors.Wrap(err, "relational transaction failed and rollback also failed: "+rbErr.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return kgerrors.StoreUnavailable("commit relational transaction", err)
	}
	return nil
}

// registered so database/sql recognizes the "pgx" driver name used above.
var _ = stdlib.GetDefaultDriver
