package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// Checksum identifies the migration body so edits to applied migrations
// can be spotted.
func (m *Migration) Checksum() string {
	return crypto.Keccak256Hash([]byte(m.SQL)).Hex()
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					scan_id TEXT NOT NULL,
					block_number INTEGER NOT NULL,
					block_hash TEXT NOT NULL,
					tx_hash TEXT NOT NULL,
					tx_index INTEGER NOT NULL,
					log_index INTEGER NOT NULL,
					address TEXT NOT NULL,
					event_name TEXT NOT NULL,
					event_signature TEXT NOT NULL,
					data TEXT NOT NULL, -- JSON
					created_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_events_block_number ON events(block_number);
				CREATE INDEX IF NOT EXISTS idx_events_address ON events(address);
				CREATE INDEX IF NOT EXISTS idx_events_event_name ON events(event_name);
				CREATE INDEX IF NOT EXISTS idx_events_scan_id ON events(scan_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_unique ON events(block_hash, tx_hash, log_index);
			`,
		},
		{
			Version:     "002",
			Description: "Create scan_runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS scan_runs (
					id TEXT PRIMARY KEY,
					contract TEXT NOT NULL,
					from_block INTEGER NOT NULL,
					to_block INTEGER NOT NULL,
					ranges INTEGER NOT NULL DEFAULT 0,
					requests INTEGER NOT NULL DEFAULT 0,
					events_found INTEGER NOT NULL DEFAULT 0,
					outcome TEXT NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					started_at DATETIME NOT NULL,
					completed_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_scan_runs_started_at ON scan_runs(started_at);
				CREATE INDEX IF NOT EXISTS idx_scan_runs_outcome ON scan_runs(outcome);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					scan_id TEXT NOT NULL,
					block_number BIGINT NOT NULL,
					block_hash TEXT NOT NULL,
					tx_hash TEXT NOT NULL,
					tx_index INTEGER NOT NULL,
					log_index INTEGER NOT NULL,
					address TEXT NOT NULL,
					event_name TEXT NOT NULL,
					event_signature TEXT NOT NULL,
					data JSONB NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_events_block_number ON events(block_number);
				CREATE INDEX IF NOT EXISTS idx_events_address ON events(address);
				CREATE INDEX IF NOT EXISTS idx_events_event_name ON events(event_name);
				CREATE INDEX IF NOT EXISTS idx_events_scan_id ON events(scan_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_events_unique ON events(block_hash, tx_hash, log_index);
				CREATE INDEX IF NOT EXISTS idx_events_data_gin ON events USING GIN(data);
			`,
		},
		{
			Version:     "002",
			Description: "Create scan_runs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS scan_runs (
					id TEXT PRIMARY KEY,
					contract TEXT NOT NULL,
					from_block BIGINT NOT NULL,
					to_block BIGINT NOT NULL,
					ranges INTEGER NOT NULL DEFAULT 0,
					requests INTEGER NOT NULL DEFAULT 0,
					events_found INTEGER NOT NULL DEFAULT 0,
					outcome TEXT NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					started_at TIMESTAMP WITH TIME ZONE NOT NULL,
					completed_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_scan_runs_started_at ON scan_runs(started_at);
				CREATE INDEX IF NOT EXISTS idx_scan_runs_outcome ON scan_runs(outcome);
			`,
		},
	}
}

const createMigrationsTable = `
	CREATE TABLE IF NOT EXISTS migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`

// applyMigrations runs every migration not yet recorded in the migrations
// table, each in its own transaction. rebind converts $n placeholders for
// the target driver.
func applyMigrations(ctx context.Context, db *sql.DB, migrations []*Migration, rebind func(string) string) (int, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, "SELECT version FROM migrations")
	if err != nil {
		return 0, fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return count, err
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return count, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		_, err = tx.ExecContext(ctx,
			rebind("INSERT INTO migrations (version, description, checksum, applied_at) VALUES ($1, $2, $3, $4)"),
			m.Version, m.Description, m.Checksum(), time.Now().UTC())
		if err != nil {
			tx.Rollback()
			return count, fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}
