package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xtxerr/nrcsync/internal/cache"
)

// Migration is one idempotent schema statement.
type Migration struct {
	Name string
	SQL  string
}

// rowTable is shared by both cache collections.
const rowTable = `(
	id         VARCHAR PRIMARY KEY,
	type       VARCHAR NOT NULL,
	rundown_id VARCHAR NOT NULL,
	segment_id VARCHAR NOT NULL DEFAULT '',
	part_id    VARCHAR NOT NULL DEFAULT '',
	modified   BIGINT  NOT NULL,
	hash       BIGINT  NOT NULL,
	data       VARCHAR NOT NULL
)`

var cacheMigrations = []Migration{
	{
		Name: string(cache.CollectionNrcs),
		SQL:  `CREATE TABLE IF NOT EXISTS ` + string(cache.CollectionNrcs) + ` ` + rowTable,
	},
	{
		Name: string(cache.CollectionSofie),
		SQL:  `CREATE TABLE IF NOT EXISTS ` + string(cache.CollectionSofie) + ` ` + rowTable,
	},
}

// Migrate creates the cache tables.
//
// This is idempotent - safe to run multiple times.
func (s *Store) Migrate(ctx context.Context) error {
	return Apply(ctx, s.db, cacheMigrations)
}

// Apply runs migrations in order. Other packages owning tables in the
// same database use it for their own schema.
func Apply(ctx context.Context, db *sql.DB, migrations []Migration) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return nil
}
