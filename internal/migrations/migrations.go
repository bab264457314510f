// Package migrations embeds the SQL that provisions the store's schema
// (§3): first_block, last_processed_block, pending_chain_blocks,
// pending_chain_reorgs, and ingestion_queue, one row set per chain_id,
// plus the ingestion_outcomes log.
package migrations

import (
	_ "embed"

	"github.com/gateway-validator/ingestion-core/internal/db"
)

//go:embed 001_core_schema.sql
var mig001 string

// RunMigrations applies all pending migrations against the database at
// dbPath.
func RunMigrations(dbPath string) error {
	migrations := []db.Migration{
		{
			ID:  "001_core_schema.sql",
			SQL: mig001,
		},
	}

	return db.RunMigrations(dbPath, migrations)
}
