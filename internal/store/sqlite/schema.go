package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/prinzana/sellyticsOffline-sub004/internal/store"
)

const tableTemplate = `
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	store_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

func applySchema(ctx context.Context, db *sqlx.DB) error {
	for _, c := range store.Collections {
		if c == store.Inventory {
			continue
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf(tableTemplate, c)); err != nil {
			return fmt.Errorf("create %s: %w", c, err)
		}
	}
	if _, err := db.ExecContext(ctx, inventoryTable); err != nil {
		return fmt.Errorf("create inventory: %w", err)
	}
	return runMigrations(ctx, db)
}

// The cache may never hold negative stock, whatever path wrote it.
const inventoryTable = `
CREATE TABLE IF NOT EXISTS inventory (
	id TEXT PRIMARY KEY,
	store_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	CHECK (json_extract(payload, '$.available_qty') IS NULL OR json_extract(payload, '$.available_qty') >= 0)
)`

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	var version int
	if err := db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// migrateToV1 indexes the store partition used by every GetAll.
func migrateToV1(ctx context.Context, db *sqlx.DB) error {
	for _, c := range store.Collections {
		stmt := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_store ON %s(store_id)`, c, c)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// migrateToV2 adds the creation-time index the sync loop orders by.
func migrateToV2(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_pending_queue_created
		ON pending_queue(store_id, json_extract(payload, '$.created_at'))
	`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}
