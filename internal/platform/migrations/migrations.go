// Package migrations applies the database schema. Statements are embedded
// and idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS app_price_cache (
		id UUID PRIMARY KEY,
		symbol TEXT NOT NULL,
		asset_class TEXT NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL,
		source TEXT NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_cache_lookup
		ON app_price_cache (symbol, asset_class, fetched_at DESC)`,
	`CREATE TABLE IF NOT EXISTS app_conversion_cache (
		id UUID PRIMARY KEY,
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		rate DOUBLE PRECISION NOT NULL,
		source TEXT NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversion_cache_lookup
		ON app_conversion_cache (from_currency, to_currency, fetched_at DESC)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		id UUID PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_assets (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		identifier TEXT NOT NULL,
		asset_class TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		quantity DOUBLE PRECISION NOT NULL,
		purchase_price DOUBLE PRECISION NOT NULL,
		currency TEXT NOT NULL,
		purchased_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assets_user
		ON app_assets (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS app_sessions (
		token TEXT PRIMARY KEY,
		user_id UUID NOT NULL,
		username TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_expiry
		ON app_sessions (expires_at)`,
}

// Apply executes every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
