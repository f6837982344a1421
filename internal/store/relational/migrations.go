package relational

import (
	"context"
	"embed"

	"github.com/pressly/goose/v3"

	kgerrors "kgraph-backend/internal/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending migration in ascending version order,
// recording each in the schema_migrations ledger exactly once, per
// "startup sweep applies pending migrations before opening
// for traffic". Grounded on pressly/goose/v3 (the only migration runner in
// the example pack, used by jordigilh-kubernaut's datastorage test suite).
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetTableName("schema_migrations")

	if err := goose.SetDialect("postgres"); err != nil {
		return kgerrors.Wrap(err, "set goose dialect")
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return kgerrors.StoreUnavailable("apply schema migrations", err)
	}
	return nil
}

// SchemaVersion reports the highest applied migration version, per
// schemaVersion() operation.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	goose.SetTableName("schema_migrations")
	v, err := goose.GetDBVersionContext(ctx, s.db.DB)
	if err != nil {
		return 0, kgerrors.Wrap(err, "read schema version")
	}
	return v, nil
}
