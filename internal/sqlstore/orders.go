package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

const orderColumns = `id, customer_id, cart_id, total, status, version, updated_by, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.CartID, &o.Total, &status, &o.Version, &o.UpdatedBy,
		ts(&o.CreatedAt), ts(&o.UpdatedAt))
	if err != nil {
		return orders.Order{}, err
	}
	if o.Status, err = orders.ParseStatus(status); err != nil {
		return orders.Order{}, fmt.Errorf("order %d: %w", o.ID, err)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("order %d: %w", id, orders.ErrNotFound)
	}
	if err != nil {
		return orders.Order{}, fmt.Errorf("query order: %w", err)
	}
	if o.Lines, err = loadOrderLines(ctx, s.db, id); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (s *Store) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]orders.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = ? ORDER BY id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].Lines, err = loadOrderLines(ctx, s.db, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func loadOrderLines(ctx context.Context, q querier, orderID int64) ([]orders.OrderLine, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT product_id, quantity, unit_price FROM order_lines WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	lines := []orders.OrderLine{}
	for rows.Next() {
		var l orders.OrderLine
		if err := rows.Scan(&l.ProductID, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SaveOrder inserts the order row and its line records in one transaction.
func (s *Store) SaveOrder(ctx context.Context, o orders.Order) (orders.Order, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orders (customer_id, cart_id, total, status, version, updated_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			o.CustomerID, o.CartID, o.Total.StringFixed(2), string(o.Status), o.UpdatedBy, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if o.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		for i, l := range o.Lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_lines (order_id, position, product_id, quantity, unit_price)
				VALUES (?, ?, ?, ?, ?)`,
				o.ID, i, l.ProductID, l.Quantity, l.UnitPrice.StringFixed(2)); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	o.Version = 0
	return o, nil
}

// UpdateOrder writes status, total and audit fields if the stored version
// still equals o.Version. Lines are never rewritten.
func (s *Store) UpdateOrder(ctx context.Context, o orders.Order) (orders.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, total = ?, version = version + 1, updated_by = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(o.Status), o.Total.StringFixed(2), o.UpdatedBy, o.UpdatedAt, o.ID, o.Version)
	if err != nil {
		return orders.Order{}, fmt.Errorf("update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return orders.Order{}, s.missingOrConflict(ctx, s.db, "orders", "order", o.ID)
	}
	return s.GetOrder(ctx, o.ID)
}

func (s *Store) DeleteOrder(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM order_lines WHERE order_id = ?`, id); err != nil {
			return fmt.Errorf("delete order lines: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete order: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("order %d: %w", id, orders.ErrNotFound)
		}
		return nil
	})
}
