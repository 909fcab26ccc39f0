package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

const cartColumns = `id, customer_id, order_id, updated_by, created_at, updated_at`

func scanCart(row interface{ Scan(...any) error }) (orders.Cart, error) {
	var c orders.Cart
	err := row.Scan(&c.ID, &c.CustomerID, &c.OrderID, &c.UpdatedBy, ts(&c.CreatedAt), ts(&c.UpdatedAt))
	return c, err
}

func (s *Store) GetCart(ctx context.Context, id int64) (orders.Cart, error) {
	c, err := scanCart(s.db.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Cart{}, fmt.Errorf("cart %d: %w", id, orders.ErrNotFound)
	}
	if err != nil {
		return orders.Cart{}, fmt.Errorf("query cart: %w", err)
	}
	if c.Items, err = loadCartItems(ctx, s.db, id); err != nil {
		return orders.Cart{}, err
	}
	return c, nil
}

func (s *Store) ListCartsByCustomer(ctx context.Context, customerID int64) ([]orders.Cart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE customer_id = ? ORDER BY id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query carts: %w", err)
	}
	var out []orders.Cart
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// release the connection before loading items; SQLite runs on one
	rows.Close()

	for i := range out {
		if out[i].Items, err = loadCartItems(ctx, s.db, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadCartItems(ctx context.Context, q querier, cartID int64) ([]orders.LineItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT product_id, quantity FROM cart_items WHERE cart_id = ? ORDER BY position`, cartID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	items := []orders.LineItem{}
	for rows.Next() {
		var it orders.LineItem
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func writeCartItems(ctx context.Context, tx *sql.Tx, cartID int64, items []orders.LineItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	for i, it := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cart_items (cart_id, position, product_id, quantity) VALUES (?, ?, ?, ?)`,
			cartID, i, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("insert cart item: %w", err)
		}
	}
	return nil
}

func (s *Store) SaveCart(ctx context.Context, c orders.Cart) (orders.Cart, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO carts (customer_id, order_id, updated_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			c.CustomerID, c.OrderID, c.UpdatedBy, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert cart: %w", err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		return writeCartItems(ctx, tx, c.ID, c.Items)
	})
	if err != nil {
		return orders.Cart{}, err
	}
	if c.Items == nil {
		c.Items = []orders.LineItem{}
	}
	return c, nil
}

// UpdateCart replaces the cart row and its full item list.
func (s *Store) UpdateCart(ctx context.Context, c orders.Cart) (orders.Cart, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM carts WHERE id = ?`, c.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cart %d: %w", c.ID, orders.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE carts SET order_id = ?, updated_by = ?, updated_at = ? WHERE id = ?`,
			c.OrderID, c.UpdatedBy, c.UpdatedAt, c.ID); err != nil {
			return fmt.Errorf("update cart: %w", err)
		}
		return writeCartItems(ctx, tx, c.ID, c.Items)
	})
	if err != nil {
		return orders.Cart{}, err
	}
	return c, nil
}

func (s *Store) DeleteCart(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, id); err != nil {
			return fmt.Errorf("delete cart items: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM carts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete cart: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("cart %d: %w", id, orders.ErrNotFound)
		}
		return nil
	})
}
