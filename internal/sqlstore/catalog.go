package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

func (s *Store) CreateCustomer(ctx context.Context, c orders.Customer) (orders.Customer, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (name, email, created_at) VALUES (?, ?, ?)`,
		c.Name, c.Email, c.CreatedAt)
	if err != nil {
		return orders.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return orders.Customer{}, err
	}
	return c, nil
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (orders.Customer, error) {
	var c orders.Customer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at FROM customers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Email, ts(&c.CreatedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Customer{}, fmt.Errorf("customer %d: %w", id, orders.ErrNotFound)
	}
	if err != nil {
		return orders.Customer{}, fmt.Errorf("query customer: %w", err)
	}
	return c, nil
}

func (s *Store) CreateProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
		p.UpdatedAt = p.CreatedAt
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (name, price, stock, version, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?)`,
		p.Name, p.Price.StringFixed(2), p.Stock, p.UpdatedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return orders.Product{}, fmt.Errorf("insert product: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return orders.Product{}, err
	}
	p.Version = 0
	return p, nil
}

const productColumns = `id, name, price, stock, version, updated_by, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Version, &p.UpdatedBy,
		ts(&p.CreatedAt), ts(&p.UpdatedAt))
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Product{}, fmt.Errorf("product %d: %w", id, orders.ErrNotFound)
	}
	if err != nil {
		return orders.Product{}, fmt.Errorf("query product: %w", err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProduct writes p if the stored version still equals p.Version.
func (s *Store) UpdateProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = ?, price = ?, stock = ?, version = version + 1, updated_by = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Name, p.Price.StringFixed(2), p.Stock, p.UpdatedBy, p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return orders.Product{}, fmt.Errorf("update product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orders.Product{}, s.missingOrConflict(ctx, s.db, "products", "product", p.ID)
	}
	p.Version++
	return p, nil
}

// missingOrConflict explains a zero-row versioned update.
func (s *Store) missingOrConflict(ctx context.Context, q querier, table, entity string, id int64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, orders.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %d: %w", entity, id, orders.ErrConflict)
}
