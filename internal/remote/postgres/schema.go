package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		name TEXT NOT NULL,
		barcode TEXT,
		is_unique BOOLEAN NOT NULL DEFAULT false,
		selling_price_cents BIGINT NOT NULL DEFAULT 0,
		device_identifiers JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		available_qty BIGINT NOT NULL CHECK (available_qty >= 0),
		quantity_sold BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (store_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		name TEXT NOT NULL,
		phone TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS sale_groups (
		id TEXT PRIMARY KEY,
		client_ref TEXT NOT NULL UNIQUE,
		store_id TEXT NOT NULL,
		total_amount_cents BIGINT NOT NULL,
		payment_method TEXT NOT NULL,
		customer_id TEXT,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS sale_lines (
		id TEXT PRIMARY KEY,
		client_line_ref TEXT NOT NULL UNIQUE,
		sale_group_id TEXT NOT NULL REFERENCES sale_groups(id),
		store_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		unit_price_cents BIGINT NOT NULL,
		amount_cents BIGINT NOT NULL,
		device_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
		device_sizes JSONB,
		created_by TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_lines_store_devices ON sale_lines USING GIN (device_ids)`,
	`CREATE INDEX IF NOT EXISTS idx_sale_groups_store_created ON sale_groups (store_id, created_at)`,
}

// Migrate creates the back-office tables when they are missing.
func (c *Client) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
