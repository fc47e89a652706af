package adapters

import (
	"database/sql"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// OpenMigrationPool opens a single-connection pool whose search_path is
// fixed as a connection startup parameter. Session-level SET on a shared
// pool does not stick to the connections goose checks out, so migrations
// get their own pinned pool instead.
func OpenMigrationPool(dsn string, schemaName string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithConnParams(map[string]interface{}{
			"search_path": schemaName,
		}),
	))
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, pgdialect.New())
}

// gooseUp applies pending migrations. goose keeps package-level state, so
// callers hold their migration mutex across this.
func gooseUp(db *bun.DB, fsys fs.FS, dir string) error {
	goose.SetBaseFS(fsys)
	goose.SetTableName("database_changelog")
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db.DB, dir, goose.WithAllowMissing())
}
