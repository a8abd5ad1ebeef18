package store

import (
	"context"
	"database/sql"
	"fmt"
)

// =============================================================================
// Schema Migration
// =============================================================================

// Migrate creates the podwatch tables.
//
// This is idempotent - safe to run multiple times.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "registry",
			sql: `CREATE TABLE IF NOT EXISTS registry (
				address VARCHAR PRIMARY KEY,
				pubkey VARCHAR,
				first_seen TIMESTAMP NOT NULL,
				last_seen TIMESTAMP NOT NULL,
				last_checked TIMESTAMP NOT NULL,
				created_at TIMESTAMP NOT NULL,
				source_ips VARCHAR NOT NULL DEFAULT '[]',
				last_ip VARCHAR,
				rpc_port INTEGER,
				is_public BOOLEAN,
				status VARCHAR NOT NULL DEFAULT 'unknown',
				storage_committed BIGINT DEFAULT 0,
				storage_used BIGINT DEFAULT 0,
				storage_usage_percent DOUBLE DEFAULT 0,
				uptime BIGINT DEFAULT 0,
				version VARCHAR,
				gossip_appearances BIGINT NOT NULL DEFAULT 0,
				gossip_disappearances BIGINT NOT NULL DEFAULT 0,
				last_gossip_appearance TIMESTAMP,
				last_gossip_drop TIMESTAMP,
				consistency_score DOUBLE NOT NULL DEFAULT 1.0
			)`,
		},

		// Append-only network summary, one row per cycle
		{
			name: "history",
			sql: `CREATE TABLE IF NOT EXISTS history (
				ts TIMESTAMP PRIMARY KEY,
				run_id VARCHAR,
				total_pnodes INTEGER NOT NULL,
				public_pnodes INTEGER NOT NULL,
				private_pnodes INTEGER NOT NULL,
				vantages_total INTEGER NOT NULL,
				vantages_failed INTEGER NOT NULL,
				total_storage_committed BIGINT NOT NULL,
				total_storage_used BIGINT NOT NULL,
				avg_storage_usage_percent DOUBLE NOT NULL,
				avg_uptime DOUBLE NOT NULL,
				avg_peer_count DOUBLE NOT NULL,
				uptime_p50 DOUBLE,
				uptime_p90 DOUBLE,
				uptime_p99 DOUBLE,
				usage_p50 DOUBLE,
				usage_p90 DOUBLE,
				usage_p99 DOUBLE,
				version_distribution VARCHAR NOT NULL DEFAULT '{}',
				appeared INTEGER NOT NULL DEFAULT 0,
				dropped INTEGER NOT NULL DEFAULT 0
			)`,
		},

		// Per-address samples feeding the flapping window
		{
			name: "node_history",
			sql: `CREATE TABLE IF NOT EXISTS node_history (
				address VARCHAR NOT NULL,
				ts TIMESTAMP NOT NULL,
				online BOOLEAN NOT NULL,
				uptime BIGINT,
				storage_usage_percent DOUBLE,
				peer_count INTEGER,
				PRIMARY KEY (address, ts)
			)`,
		},

		// Current snapshot (singleton)
		{
			name: "snapshot",
			sql: `CREATE TABLE IF NOT EXISTS snapshot (
				id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
				run_id VARCHAR,
				updated_at TIMESTAMP NOT NULL,
				body VARCHAR NOT NULL
			)`,
		},
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		log.Debug("migration applied", "name", m.name)
	}

	log.Debug("schema migration completed", "migrations", len(migrations))
	return nil
}
