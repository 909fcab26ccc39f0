package orders

import "context"

// CatalogStore holds products. UpdateProduct must compare Version and return
// ErrConflict when the stored row moved on; on success the returned product
// carries the bumped version.
type CatalogStore interface {
	GetProduct(ctx context.Context, id int64) (Product, error)
	UpdateProduct(ctx context.Context, p Product) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

type CustomerStore interface {
	GetCustomer(ctx context.Context, id int64) (Customer, error)
}

type CartStore interface {
	GetCart(ctx context.Context, id int64) (Cart, error)
	ListCartsByCustomer(ctx context.Context, customerID int64) ([]Cart, error)
	SaveCart(ctx context.Context, c Cart) (Cart, error)
	UpdateCart(ctx context.Context, c Cart) (Cart, error)
	DeleteCart(ctx context.Context, id int64) error
}

// OrderStore persists orders with their order-line records. UpdateOrder only
// writes status, total and audit fields; lines are immutable once saved.
type OrderStore interface {
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID int64) ([]Order, error)
	SaveOrder(ctx context.Context, o Order) (Order, error)
	UpdateOrder(ctx context.Context, o Order) (Order, error)
	DeleteOrder(ctx context.Context, id int64) error
}

// EventPublisher delivers lifecycle events. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, ev Envelope) error
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, string, []byte, Envelope) error { return nil }
