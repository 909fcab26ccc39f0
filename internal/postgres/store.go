package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

// Store implements the order workflow stores on PostgreSQL. Numeric columns
// travel as text so decimal.Decimal keeps its exact value.
type Store struct{ DB *pgxpool.Pool }

var (
	_ orders.CatalogStore  = (*Store)(nil)
	_ orders.CustomerStore = (*Store)(nil)
	_ orders.CartStore     = (*Store)(nil)
	_ orders.OrderStore    = (*Store)(nil)
)

func notFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, orders.ErrNotFound)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

// ---- customers ----

func (s *Store) CreateCustomer(ctx context.Context, c orders.Customer) (orders.Customer, error) {
	err := s.DB.QueryRow(ctx,
		`INSERT INTO customers (name, email) VALUES ($1, $2) RETURNING id, created_at`,
		c.Name, c.Email,
	).Scan(&c.ID, &c.CreatedAt)
	return c, err
}

func (s *Store) GetCustomer(ctx context.Context, id int64) (orders.Customer, error) {
	var c orders.Customer
	err := s.DB.QueryRow(ctx, `SELECT id, name, email, created_at FROM customers WHERE id=$1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Customer{}, notFound("customer", id)
	}
	return c, err
}

// ---- products ----

const productColumns = `id, name, price::text, stock, version, updated_by, created_at, updated_at`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Stock, &p.Version, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return orders.Product{}, err
	}
	var err error
	p.Price, err = parseDecimal(price)
	return p, err
}

func (s *Store) CreateProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	err := s.DB.QueryRow(ctx, `
		INSERT INTO products (name, price, stock, updated_by)
		VALUES ($1, CAST($2::text AS NUMERIC), $3, $4)
		RETURNING id, version, created_at, updated_at`,
		p.Name, p.Price.String(), p.Stock, p.UpdatedBy,
	).Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, notFound("product", id)
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, err
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

func (s *Store) UpdateProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	err := s.DB.QueryRow(ctx, `
		UPDATE products
		SET name=$2, price=CAST($3::text AS NUMERIC), stock=$4, version=version+1, updated_by=$5, updated_at=$6
		WHERE id=$1 AND version=$7
		RETURNING version`,
		p.ID, p.Name, p.Price.String(), p.Stock, p.UpdatedBy, orNow(p.UpdatedAt), p.Version,
	).Scan(&p.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, s.missingOrConflict(ctx, "products", "product", p.ID)
	}
	return p, err
}

func (s *Store) missingOrConflict(ctx context.Context, table, entity string, id int64) error {
	var exists bool
	if err := s.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return notFound(entity, id)
	}
	return fmt.Errorf("%s %d: %w", entity, id, orders.ErrConflict)
}

// ---- carts ----

const cartColumns = `id, customer_id, order_id, updated_by, created_at, updated_at`

func scanCart(row pgx.Row) (orders.Cart, error) {
	var c orders.Cart
	err := row.Scan(&c.ID, &c.CustomerID, &c.OrderID, &c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func cartItems(ctx context.Context, q queryer, cartID int64) ([]orders.LineItem, error) {
	rows, err := q.Query(ctx, `SELECT product_id, quantity FROM cart_items WHERE cart_id=$1 ORDER BY position`, cartID)
	if err != nil {
		return nil, err
	}
	items, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.LineItem, error) {
		var it orders.LineItem
		err := r.Scan(&it.ProductID, &it.Quantity)
		return it, err
	})
	if items == nil && err == nil {
		items = []orders.LineItem{}
	}
	return items, err
}

func (s *Store) GetCart(ctx context.Context, id int64) (orders.Cart, error) {
	c, err := scanCart(s.DB.QueryRow(ctx, `SELECT `+cartColumns+` FROM carts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Cart{}, notFound("cart", id)
	}
	if err != nil {
		return orders.Cart{}, err
	}
	c.Items, err = cartItems(ctx, s.DB, id)
	return c, err
}

func (s *Store) ListCartsByCustomer(ctx context.Context, customerID int64) ([]orders.Cart, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+cartColumns+` FROM carts WHERE customer_id=$1 ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.Cart, error) { return scanCart(r) })
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = cartItems(ctx, s.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeCartItems(ctx context.Context, tx pgx.Tx, cartID int64, items []orders.LineItem) error {
	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID); err != nil {
		return err
	}
	for i, it := range items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO cart_items (cart_id, position, product_id, quantity) VALUES ($1,$2,$3,$4)`,
			cartID, i, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SaveCart(ctx context.Context, c orders.Cart) (orders.Cart, error) {
	err := pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO carts (customer_id, order_id, updated_by, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			c.CustomerID, c.OrderID, c.UpdatedBy, orNow(c.CreatedAt), orNow(c.UpdatedAt),
		).Scan(&c.ID); err != nil {
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

func (s *Store) UpdateCart(ctx context.Context, c orders.Cart) (orders.Cart, error) {
	err := pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		ct, err := tx.Exec(ctx, `UPDATE carts SET order_id=$2, updated_by=$3, updated_at=$4 WHERE id=$1`,
			c.ID, c.OrderID, c.UpdatedBy, orNow(c.UpdatedAt))
		if err != nil {
			return err
		}
		if ct.RowsAffected() != 1 {
			return notFound("cart", c.ID)
		}
		return writeCartItems(ctx, tx, c.ID, c.Items)
	})
	if err != nil {
		return orders.Cart{}, err
	}
	return c, nil
}

func (s *Store) DeleteCart(ctx context.Context, id int64) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM carts WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("cart", id)
	}
	return nil
}

// ---- orders ----

const orderColumns = `id, customer_id, cart_id, total::text, status, version, updated_by, created_at, updated_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o             orders.Order
		total, status string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &o.CartID, &total, &status, &o.Version, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return orders.Order{}, err
	}
	var err error
	if o.Total, err = parseDecimal(total); err != nil {
		return orders.Order{}, err
	}
	if o.Status, err = orders.ParseStatus(status); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func orderLines(ctx context.Context, q queryer, orderID int64) ([]orders.OrderLine, error) {
	rows, err := q.Query(ctx,
		`SELECT product_id, quantity, unit_price::text FROM order_lines WHERE order_id=$1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	lines, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.OrderLine, error) {
		var (
			l     orders.OrderLine
			price string
		)
		if err := r.Scan(&l.ProductID, &l.Quantity, &price); err != nil {
			return l, err
		}
		var err error
		l.UnitPrice, err = parseDecimal(price)
		return l, err
	})
	if lines == nil && err == nil {
		lines = []orders.OrderLine{}
	}
	return lines, err
}

func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	o, err := scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, notFound("order", id)
	}
	if err != nil {
		return orders.Order{}, err
	}
	o.Lines, err = orderLines(ctx, s.DB, id)
	return o, err
}

func (s *Store) ListOrdersByCustomer(ctx context.Context, customerID int64) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id=$1 ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (orders.Order, error) { return scanOrder(r) })
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = orderLines(ctx, s.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) SaveOrder(ctx context.Context, o orders.Order) (orders.Order, error) {
	err := pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO orders (customer_id, cart_id, total, status, updated_by, created_at, updated_at)
			VALUES ($1, $2, CAST($3::text AS NUMERIC), $4, $5, $6, $7)
			RETURNING id, version`,
			o.CustomerID, o.CartID, o.Total.String(), string(o.Status), o.UpdatedBy, orNow(o.CreatedAt), orNow(o.UpdatedAt),
		).Scan(&o.ID, &o.Version); err != nil {
			return err
		}
		for i, l := range o.Lines {
			if _, err := tx.Exec(ctx, `
				INSERT INTO order_lines (order_id, position, product_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4, CAST($5::text AS NUMERIC))`,
				o.ID, i, l.ProductID, l.Quantity, l.UnitPrice.String()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o orders.Order) (orders.Order, error) {
	ct, err := s.DB.Exec(ctx, `
		UPDATE orders
		SET status=$2, total=CAST($3::text AS NUMERIC), version=version+1, updated_by=$4, updated_at=$5
		WHERE id=$1 AND version=$6`,
		o.ID, string(o.Status), o.Total.String(), o.UpdatedBy, orNow(o.UpdatedAt), o.Version)
	if err != nil {
		return orders.Order{}, err
	}
	if ct.RowsAffected() == 0 {
		return orders.Order{}, s.missingOrConflict(ctx, "orders", "order", o.ID)
	}
	return s.GetOrder(ctx, o.ID)
}

func (s *Store) DeleteOrder(ctx context.Context, id int64) error {
	ct, err := s.DB.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFound("order", id)
	}
	return nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
