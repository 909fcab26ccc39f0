// Package sqlstore implements the order workflow stores on database/sql for
// the embedded SQLite driver and for MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Store implements orders.CatalogStore, CustomerStore, CartStore and
// OrderStore. Both dialects accept "?" placeholders, so queries are shared;
// only the schema differs.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects, applies pending migrations and returns the store.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := openDatabase(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	s := New(db, driver)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// New wraps an already configured handle. The schema is not touched.
func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func openDatabase(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// single writer; also keeps a :memory: database alive on one connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if !strings.Contains(dsn, ":memory:") {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("enable WAL mode: %w", err)
			}
		}
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
		return db, nil
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Driver() string { return s.driver }

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// sqlTime scans the timestamp representations both drivers produce: a
// time.Time when the driver parses it, text otherwise.
type sqlTime struct{ t *time.Time }

func (st sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*st.t = time.Time{}
		return nil
	case time.Time:
		*st.t = v.UTC()
		return nil
	case []byte:
		return st.parse(string(v))
	case string:
		return st.parse(v)
	case int64:
		*st.t = time.Unix(0, v).UTC()
		return nil
	}
	return fmt.Errorf("sqlstore: cannot scan %T into time", src)
}

func (st sqlTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*st.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unrecognised timestamp %q", s)
}

func ts(t *time.Time) sqlTime { return sqlTime{t: t} }

var (
	_ orders.CatalogStore  = (*Store)(nil)
	_ orders.CustomerStore = (*Store)(nil)
	_ orders.CartStore     = (*Store)(nil)
	_ orders.OrderStore    = (*Store)(nil)
)
