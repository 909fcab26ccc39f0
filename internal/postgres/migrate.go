package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	version string
	up      []string
}

var migrations = []migration{
	{
		version: "1.0.0",
		up: []string{
			`CREATE TABLE IF NOT EXISTS customers (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS products (
				id BIGSERIAL PRIMARY KEY,
				name TEXT NOT NULL,
				price NUMERIC(12,2) NOT NULL CHECK (price >= 0),
				stock INT NOT NULL CHECK (stock >= 0),
				version INT NOT NULL DEFAULT 0,
				updated_by BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS carts (
				id BIGSERIAL PRIMARY KEY,
				customer_id BIGINT NOT NULL REFERENCES customers(id),
				order_id BIGINT NOT NULL DEFAULT 0,
				updated_by BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS cart_items (
				cart_id BIGINT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
				position INT NOT NULL,
				product_id BIGINT NOT NULL REFERENCES products(id),
				quantity INT NOT NULL CHECK (quantity > 0),
				PRIMARY KEY (cart_id, product_id)
			)`,
			`CREATE TABLE IF NOT EXISTS orders (
				id BIGSERIAL PRIMARY KEY,
				customer_id BIGINT NOT NULL REFERENCES customers(id),
				cart_id BIGINT NOT NULL,
				total NUMERIC(14,2) NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('PENDING','FINALIZED','CANCELLED')),
				version INT NOT NULL DEFAULT 0,
				updated_by BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS order_lines (
				order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
				position INT NOT NULL,
				product_id BIGINT NOT NULL,
				quantity INT NOT NULL CHECK (quantity > 0),
				unit_price NUMERIC(12,2) NOT NULL,
				PRIMARY KEY (order_id, position)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_carts_customer ON carts(customer_id)`,
			`CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id)`,
		},
	},
}

// Migrate applies every migration newer than the recorded schema version.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	rows, err := db.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return err
	}
	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return err
		}
		if v, err := semver.NewVersion(raw); err == nil && current.LessThan(v) {
			current = v
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		v := semver.MustParse(m.version)
		if !current.LessThan(v) {
			continue
		}
		tx, err := db.Begin(ctx)
		if err != nil {
			return err
		}
		for _, stmt := range m.up {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("apply migration %s: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.version); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		current = v
	}
	return nil
}
