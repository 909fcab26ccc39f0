package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int             `json:"stock"`
	Version   int             `json:"version"` // optimistic locking
	UpdatedBy int64           `json:"updated_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LineItem is one (product, quantity) pair of a cart.
type LineItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type Cart struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	Items      []LineItem `json:"items"`
	OrderID    int64      `json:"order_id,omitempty"` // 0 until an order is created from the cart
	UpdatedBy  int64      `json:"updated_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// OrderLine is a frozen line of an order, priced when the order was created.
type OrderLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Order struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	CartID     int64           `json:"cart_id"`
	Lines      []OrderLine     `json:"lines"`
	Total      decimal.Decimal `json:"total"`
	Status     Status          `json:"status"`
	Version    int             `json:"version"`
	UpdatedBy  int64           `json:"updated_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CartSummary is a cart priced against the current catalog.
type CartSummary struct {
	Cart  Cart            `json:"cart"`
	Lines []OrderLine     `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// OrderUpdate carries the fields UpdateOrder may change. Nil fields are left alone.
type OrderUpdate struct {
	Total *decimal.Decimal `json:"total,omitempty"`
}
