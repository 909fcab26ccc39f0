package orders

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// CartService mutates carts. Its stock check at add-time is advisory: nothing
// is reserved, and the authoritative check happens when an order finalizes.
type CartService struct {
	base
	carts     CartStore
	catalog   CatalogStore
	customers CustomerStore
}

func NewCartService(d Deps, opts ...Option) *CartService {
	return &CartService{
		base:      newBase(d, opts),
		carts:     d.Carts,
		catalog:   d.Catalog,
		customers: d.Customers,
	}
}

// NewWorkflow builds a CartService and an Engine that share one lock table,
// so cart edits and order creation from the same cart never interleave.
func NewWorkflow(d Deps, opts ...Option) (*CartService, *Engine) {
	cs := NewCartService(d, opts...)
	e := NewEngine(d, opts...)
	e.locks = cs.locks
	return cs, e
}

func (s *CartService) CreateCart(ctx context.Context, actorID, customerID int64) (res Result[Cart]) {
	ctx, span := s.start(ctx, "CartService.CreateCart", attribute.Int64("customer.id", customerID))
	defer finish(&s.base, span, "CreateCart", &res)

	var customer Customer
	if err := Validate(ctx,
		ReferenceIsPositive("customer id", customerID),
		EntityExists("customer", customerID, s.customers.GetCustomer, &customer),
	); err != nil {
		return Fail[Cart](err)
	}

	now := s.now()
	saved, err := s.carts.SaveCart(ctx, Cart{
		CustomerID: customer.ID,
		Items:      []LineItem{},
		UpdatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Fail[Cart](StoreFailure(err))
	}
	span.SetAttributes(attribute.Int64("cart.id", saved.ID))
	return Ok(saved, "cart created")
}

func (s *CartService) AddLineItem(ctx context.Context, actorID, cartID, productID int64, quantity int) (res Result[Cart]) {
	ctx, span := s.start(ctx, "CartService.AddLineItem",
		attribute.Int64("cart.id", cartID),
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
	)
	defer finish(&s.base, span, "AddLineItem", &res)

	if err := Validate(ctx,
		QuantityIsPositive(quantity),
		IDIsPositive("cart id", cartID),
		IDIsPositive("product id", productID),
	); err != nil {
		return Fail[Cart](err)
	}

	unlock := s.locks.Lock(cartKey(cartID))
	defer unlock()

	var (
		cart    Cart
		product Product
	)
	if err := Validate(ctx,
		EntityExists("cart", cartID, s.carts.GetCart, &cart),
		CartIsOpen(&cart),
		QuantityFits(&cart, productID, quantity),
		EntityExists("product", productID, s.catalog.GetProduct, &product),
		StockCovers(&product, quantity),
	); err != nil {
		return Fail[Cart](err)
	}

	cart.Add(productID, quantity)
	cart.UpdatedBy = actorID
	cart.UpdatedAt = s.now()
	saved, err := s.carts.UpdateCart(ctx, cart)
	if err != nil {
		return Fail[Cart](fromStore("cart", cartID, err))
	}
	return Ok(saved, "line item added")
}

func (s *CartService) RemoveLineItem(ctx context.Context, actorID, cartID, productID int64) (res Result[Cart]) {
	ctx, span := s.start(ctx, "CartService.RemoveLineItem",
		attribute.Int64("cart.id", cartID),
		attribute.Int64("product.id", productID),
	)
	defer finish(&s.base, span, "RemoveLineItem", &res)

	if err := Validate(ctx,
		IDIsPositive("cart id", cartID),
		IDIsPositive("product id", productID),
	); err != nil {
		return Fail[Cart](err)
	}

	unlock := s.locks.Lock(cartKey(cartID))
	defer unlock()

	var cart Cart
	if err := Validate(ctx,
		EntityExists("cart", cartID, s.carts.GetCart, &cart),
		CartIsOpen(&cart),
	); err != nil {
		return Fail[Cart](err)
	}

	if !cart.Remove(productID) {
		return Ok(cart, "product not in cart")
	}
	cart.UpdatedBy = actorID
	cart.UpdatedAt = s.now()
	saved, err := s.carts.UpdateCart(ctx, cart)
	if err != nil {
		return Fail[Cart](fromStore("cart", cartID, err))
	}
	return Ok(saved, "line item removed")
}

// GetCarts lists a customer's carts. Ownership is the caller's concern.
func (s *CartService) GetCarts(ctx context.Context, customerID int64) (res Result[[]Cart]) {
	ctx, span := s.start(ctx, "CartService.GetCarts", attribute.Int64("customer.id", customerID))
	defer finish(&s.base, span, "GetCarts", &res)

	if err := Validate(ctx, IDIsPositive("customer id", customerID)); err != nil {
		return Fail[[]Cart](err)
	}
	carts, err := s.carts.ListCartsByCustomer(ctx, customerID)
	if err != nil {
		return Fail[[]Cart](StoreFailure(err))
	}
	return Ok(carts, "")
}

func (s *CartService) GetCartByID(ctx context.Context, cartID int64) (res Result[Cart]) {
	ctx, span := s.start(ctx, "CartService.GetCartByID", attribute.Int64("cart.id", cartID))
	defer finish(&s.base, span, "GetCartByID", &res)

	var cart Cart
	if err := Validate(ctx,
		IDIsPositive("cart id", cartID),
		EntityExists("cart", cartID, s.carts.GetCart, &cart),
	); err != nil {
		return Fail[Cart](err)
	}
	return Ok(cart, "")
}

// DeleteCart removes a cart and returns it as it was before deletion. Orders
// created from it keep their own line snapshot.
func (s *CartService) DeleteCart(ctx context.Context, actorID, cartID int64) (res Result[Cart]) {
	ctx, span := s.start(ctx, "CartService.DeleteCart",
		attribute.Int64("cart.id", cartID),
		attribute.Int64("actor.id", actorID),
	)
	defer finish(&s.base, span, "DeleteCart", &res)

	if err := Validate(ctx, IDIsPositive("cart id", cartID)); err != nil {
		return Fail[Cart](err)
	}

	unlock := s.locks.Lock(cartKey(cartID))
	defer unlock()

	var cart Cart
	if err := Validate(ctx, EntityExists("cart", cartID, s.carts.GetCart, &cart)); err != nil {
		return Fail[Cart](err)
	}
	if err := s.carts.DeleteCart(ctx, cartID); err != nil {
		return Fail[Cart](fromStore("cart", cartID, err))
	}
	return Ok(cart, "cart deleted")
}

// PriceCart prices the cart with current catalog prices.
func (s *CartService) PriceCart(ctx context.Context, cartID int64) (res Result[CartSummary]) {
	ctx, span := s.start(ctx, "CartService.PriceCart", attribute.Int64("cart.id", cartID))
	defer finish(&s.base, span, "PriceCart", &res)

	var cart Cart
	if err := Validate(ctx,
		IDIsPositive("cart id", cartID),
		EntityExists("cart", cartID, s.carts.GetCart, &cart),
	); err != nil {
		return Fail[CartSummary](err)
	}

	products, verr := loadProducts(ctx, s.catalog, cart.Items)
	if verr != nil {
		return Fail[CartSummary](verr)
	}
	lines := PriceLines(cart.Items, products)
	return Ok(CartSummary{Cart: cart, Lines: lines, Total: Total(lines)}, "")
}

// loadProducts fetches every product referenced by items, in item order,
// stopping at the first missing one.
func loadProducts(ctx context.Context, catalog CatalogStore, items []LineItem) (map[int64]Product, *Error) {
	out := make(map[int64]Product, len(items))
	for _, it := range items {
		p, err := catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			return nil, fromStore("product", it.ProductID, err)
		}
		out[it.ProductID] = p
	}
	return out, nil
}
