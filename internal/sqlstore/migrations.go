package sqlstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/Masterminds/semver/v3"
)

// Migration is one schema step. Up holds one statement per entry because the
// MySQL driver rejects multi-statement Exec by default.
type Migration struct {
	Version string
	Up      map[string][]string
}

var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up: map[string][]string{
			DriverSQLite: {
				`CREATE TABLE IF NOT EXISTS customers (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					email TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS products (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					price TEXT NOT NULL,
					stock INTEGER NOT NULL CHECK (stock >= 0),
					version INTEGER NOT NULL DEFAULT 0,
					updated_by INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS carts (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					customer_id INTEGER NOT NULL REFERENCES customers(id),
					order_id INTEGER NOT NULL DEFAULT 0,
					updated_by INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS cart_items (
					cart_id INTEGER NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					product_id INTEGER NOT NULL REFERENCES products(id),
					quantity INTEGER NOT NULL CHECK (quantity > 0),
					PRIMARY KEY (cart_id, product_id)
				)`,
				`CREATE TABLE IF NOT EXISTS orders (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					customer_id INTEGER NOT NULL REFERENCES customers(id),
					cart_id INTEGER NOT NULL,
					total TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('PENDING','FINALIZED','CANCELLED')),
					version INTEGER NOT NULL DEFAULT 0,
					updated_by INTEGER NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS order_lines (
					order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					product_id INTEGER NOT NULL,
					quantity INTEGER NOT NULL CHECK (quantity > 0),
					unit_price TEXT NOT NULL,
					PRIMARY KEY (order_id, position)
				)`,
			},
			DriverMySQL: {
				`CREATE TABLE IF NOT EXISTS customers (
					id BIGINT AUTO_INCREMENT PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255) NOT NULL DEFAULT '',
					created_at DATETIME(6) NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS products (
					id BIGINT AUTO_INCREMENT PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					price DECIMAL(12,2) NOT NULL,
					stock INT NOT NULL,
					version INT NOT NULL DEFAULT 0,
					updated_by BIGINT NOT NULL DEFAULT 0,
					created_at DATETIME(6) NOT NULL,
					updated_at DATETIME(6) NOT NULL,
					CONSTRAINT products_stock_non_negative CHECK (stock >= 0)
				)`,
				`CREATE TABLE IF NOT EXISTS carts (
					id BIGINT AUTO_INCREMENT PRIMARY KEY,
					customer_id BIGINT NOT NULL,
					order_id BIGINT NOT NULL DEFAULT 0,
					updated_by BIGINT NOT NULL DEFAULT 0,
					created_at DATETIME(6) NOT NULL,
					updated_at DATETIME(6) NOT NULL,
					FOREIGN KEY (customer_id) REFERENCES customers(id)
				)`,
				`CREATE TABLE IF NOT EXISTS cart_items (
					cart_id BIGINT NOT NULL,
					position INT NOT NULL,
					product_id BIGINT NOT NULL,
					quantity INT NOT NULL,
					PRIMARY KEY (cart_id, product_id),
					FOREIGN KEY (cart_id) REFERENCES carts(id) ON DELETE CASCADE,
					FOREIGN KEY (product_id) REFERENCES products(id),
					CONSTRAINT cart_items_quantity_positive CHECK (quantity > 0)
				)`,
				`CREATE TABLE IF NOT EXISTS orders (
					id BIGINT AUTO_INCREMENT PRIMARY KEY,
					customer_id BIGINT NOT NULL,
					cart_id BIGINT NOT NULL,
					total DECIMAL(14,2) NOT NULL,
					status VARCHAR(16) NOT NULL,
					version INT NOT NULL DEFAULT 0,
					updated_by BIGINT NOT NULL DEFAULT 0,
					created_at DATETIME(6) NOT NULL,
					updated_at DATETIME(6) NOT NULL,
					FOREIGN KEY (customer_id) REFERENCES customers(id),
					CONSTRAINT orders_status_known CHECK (status IN ('PENDING','FINALIZED','CANCELLED'))
				)`,
				`CREATE TABLE IF NOT EXISTS order_lines (
					order_id BIGINT NOT NULL,
					position INT NOT NULL,
					product_id BIGINT NOT NULL,
					quantity INT NOT NULL,
					unit_price DECIMAL(12,2) NOT NULL,
					PRIMARY KEY (order_id, position),
					FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
				)`,
			},
		},
	},
	{
		Version: "1.1.0",
		Up: map[string][]string{
			DriverSQLite: {
				`CREATE INDEX IF NOT EXISTS idx_carts_customer ON carts(customer_id)`,
				`CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id)`,
			},
			DriverMySQL: {
				`CREATE INDEX idx_orders_status ON orders(status)`,
			},
		},
	},
}

const createSchemaVersion = `CREATE TABLE IF NOT EXISTS schema_version (
	version VARCHAR(32) PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// Migrate applies, in semver order, every migration newer than the highest
// recorded schema version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createSchemaVersion); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	pending := make([]*semver.Version, 0, len(AllMigrations))
	byVersion := make(map[string]Migration, len(AllMigrations))
	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if current.LessThan(v) {
			pending = append(pending, v)
			byVersion[v.String()] = m
		}
	}
	slices.SortFunc(pending, func(a, b *semver.Version) int { return a.Compare(b) })

	for _, v := range pending {
		m := byVersion[v.String()]
		for _, stmt := range m.Up[s.driver] {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied version, or 0.0.0.
func (s *Store) SchemaVersion(ctx context.Context) (*semver.Version, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer rows.Close()

	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if current.LessThan(v) {
			current = v
		}
	}
	return current, rows.Err()
}
