package orders

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
)

// memStore is a mutex-guarded fake of every store port.
type memStore struct {
	mu        sync.Mutex
	customers map[int64]Customer
	products  map[int64]Product
	carts     map[int64]Cart
	orders    map[int64]Order
	nextID    int64

	// productUpdates records product ids in the order UpdateProduct succeeded.
	productUpdates []int64
	// conflicts makes the next n UpdateProduct calls return ErrConflict.
	conflicts int
	// failUpdateProduct, when set, is returned by UpdateProduct for that id.
	failUpdateProduct map[int64]error
	// orderConflicts makes the next n UpdateOrder calls return ErrConflict.
	orderConflicts    int
	failSaveOrder     error
	panicOnGetOrder   bool
}

func newMemStore() *memStore {
	return &memStore{
		customers:         map[int64]Customer{},
		products:          map[int64]Product{},
		carts:             map[int64]Cart{},
		orders:            map[int64]Order{},
		failUpdateProduct: map[int64]error{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addCustomer(name string) Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Customer{ID: m.id(), Name: name}
	m.customers[c.ID] = c
	return c
}

func (m *memStore) addProduct(name, price string, stock int) Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Product{ID: m.id(), Name: name, Price: decimal.RequireFromString(price), Stock: stock}
	m.products[p.ID] = p
	return p
}

func (m *memStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) setStock(id int64, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Stock = stock
	m.products[id] = p
}

func (m *memStore) GetCustomer(_ context.Context, id int64) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (m *memStore) GetProduct(_ context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) UpdateProduct(_ context.Context, p Product) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpdateProduct[p.ID]; err != nil {
		return Product{}, err
	}
	if m.conflicts > 0 {
		m.conflicts--
		return Product{}, ErrConflict
	}
	cur, ok := m.products[p.ID]
	if !ok {
		return Product{}, ErrNotFound
	}
	if cur.Version != p.Version {
		return Product{}, ErrConflict
	}
	if p.Stock < 0 {
		return Product{}, errors.New("stock check constraint violated")
	}
	p.Version++
	m.products[p.ID] = p
	m.productUpdates = append(m.productUpdates, p.ID)
	return p, nil
}

func (m *memStore) ListProducts(context.Context) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Product) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *memStore) GetCart(_ context.Context, id int64) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[id]
	if !ok {
		return Cart{}, ErrNotFound
	}
	c.Items = slices.Clone(c.Items)
	return c, nil
}

func (m *memStore) ListCartsByCustomer(_ context.Context, customerID int64) ([]Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Cart
	for _, c := range m.carts {
		if c.CustomerID == customerID {
			c.Items = slices.Clone(c.Items)
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Cart) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *memStore) SaveCart(_ context.Context, c Cart) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.id()
	c.Items = slices.Clone(c.Items)
	m.carts[c.ID] = c
	return c, nil
}

func (m *memStore) UpdateCart(_ context.Context, c Cart) (Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[c.ID]; !ok {
		return Cart{}, ErrNotFound
	}
	c.Items = slices.Clone(c.Items)
	m.carts[c.ID] = c
	return c, nil
}

func (m *memStore) DeleteCart(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[id]; !ok {
		return ErrNotFound
	}
	delete(m.carts, id)
	return nil
}

func (m *memStore) GetOrder(_ context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOnGetOrder {
		panic("boom")
	}
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return o, nil
}

func (m *memStore) ListOrdersByCustomer(_ context.Context, customerID int64) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			o.Lines = slices.Clone(o.Lines)
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b Order) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *memStore) SaveOrder(_ context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaveOrder != nil {
		return Order{}, m.failSaveOrder
	}
	o.ID = m.id()
	o.Lines = slices.Clone(o.Lines)
	m.orders[o.ID] = o
	return o, nil
}

func (m *memStore) UpdateOrder(_ context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return Order{}, ErrNotFound
	}
	if m.orderConflicts > 0 {
		m.orderConflicts--
		return Order{}, ErrConflict
	}
	if cur.Version != o.Version {
		return Order{}, ErrConflict
	}
	cur.Status = o.Status
	cur.Total = o.Total
	cur.UpdatedBy = o.UpdatedBy
	cur.UpdatedAt = o.UpdatedAt
	cur.Version++
	m.orders[o.ID] = cur
	cur.Lines = slices.Clone(cur.Lines)
	return cur, nil
}

func (m *memStore) DeleteOrder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return ErrNotFound
	}
	delete(m.orders, id)
	return nil
}

type published struct {
	topic string
	key   string
	ev    Envelope
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, key []byte, ev Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, key: string(key), ev: ev})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.ev.EventType)
	}
	return out
}

type fixture struct {
	store  *memStore
	events *recordingPublisher
	carts  *CartService
	engine *Engine
}

func newFixture() *fixture {
	store := newMemStore()
	events := &recordingPublisher{}
	carts, engine := NewWorkflow(Deps{
		Catalog:   store,
		Customers: store,
		Carts:     store,
		Orders:    store,
		Events:    events,
	})
	return &fixture{store: store, events: events, carts: carts, engine: engine}
}
