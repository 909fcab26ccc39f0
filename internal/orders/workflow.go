package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Engine drives the order lifecycle: creation from a cart, then
// PENDING -> FINALIZED (stock reconciled) or PENDING -> CANCELLED.
type Engine struct {
	base
	carts     CartStore
	orders    OrderStore
	catalog   CatalogStore
	customers CustomerStore
}

func NewEngine(d Deps, opts ...Option) *Engine {
	return &Engine{
		base:      newBase(d, opts),
		carts:     d.Carts,
		orders:    d.Orders,
		catalog:   d.Catalog,
		customers: d.Customers,
	}
}

// CreateOrder snapshots the cart's line items at current catalog prices into a
// new PENDING order. The cart is kept as is but marked as ordered.
func (e *Engine) CreateOrder(ctx context.Context, actorID, customerID, cartID int64) (res Result[Order]) {
	ctx, span := e.start(ctx, "Engine.CreateOrder",
		attribute.Int64("customer.id", customerID),
		attribute.Int64("cart.id", cartID),
	)
	defer finish(&e.base, span, "CreateOrder", &res)

	if err := Validate(ctx,
		IDIsPositive("customer id", customerID),
		IDIsPositive("cart id", cartID),
	); err != nil {
		return Fail[Order](err)
	}

	unlock := e.locks.Lock(cartKey(cartID))
	defer unlock()

	var (
		customer Customer
		cart     Cart
	)
	if err := Validate(ctx,
		EntityExists("customer", customerID, e.customers.GetCustomer, &customer),
		EntityExists("cart", cartID, e.carts.GetCart, &cart),
		CartBelongsTo(&cart, customerID),
		CartIsOpen(&cart),
		CartHasLineItems(&cart),
	); err != nil {
		return Fail[Order](err)
	}

	items := cart.Snapshot()
	products, verr := loadProducts(ctx, e.catalog, items)
	if verr != nil {
		return Fail[Order](verr)
	}
	lines := PriceLines(items, products)

	now := e.now()
	saved, err := e.orders.SaveOrder(ctx, Order{
		CustomerID: customer.ID,
		CartID:     cart.ID,
		Lines:      lines,
		Total:      Total(lines),
		Status:     StatusPending,
		UpdatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Fail[Order](StoreFailure(err))
	}
	span.SetAttributes(attribute.Int64("order.id", saved.ID))

	cart.OrderID = saved.ID
	cart.UpdatedBy = actorID
	cart.UpdatedAt = now
	if _, err := e.carts.UpdateCart(ctx, cart); err != nil {
		// The order is durable; only the single-use marker is missing.
		e.log.Warn("mark cart as ordered",
			zap.Int64("cart_id", cart.ID),
			zap.Int64("order_id", saved.ID),
			zap.Error(err),
		)
	}

	e.emit(ctx, TopicOrderCreated, EventOrderCreated, saved.ID, OrderCreatedPayload{
		OrderRef: refOf(saved),
		CartID:   saved.CartID,
		Items:    itemPrices(saved.Lines),
		Total:    saved.Total,
	})
	return Ok(saved, "order created")
}

// FinalizeOrder decrements stock for every order line, in line order, and
// then marks the order FINALIZED. Each decrement is committed on its own; if a
// later line fails, earlier decrements stay and are listed in Err.Committed.
func (e *Engine) FinalizeOrder(ctx context.Context, actorID, orderID int64) (res Result[Order]) {
	ctx, span := e.start(ctx, "Engine.FinalizeOrder", attribute.Int64("order.id", orderID))
	defer finish(&e.base, span, "FinalizeOrder", &res)

	if err := Validate(ctx, IDIsPositive("order id", orderID)); err != nil {
		return Fail[Order](err)
	}

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	var order Order
	if err := Validate(ctx,
		EntityExists("order", orderID, e.orders.GetOrder, &order),
		StatusAllows(&order, StatusFinalized),
	); err != nil {
		return Fail[Order](err)
	}

	// Claim the order with a versioned write before any stock moves, so a
	// finalize that read the same version elsewhere loses before decrementing.
	order.UpdatedBy = actorID
	order.UpdatedAt = e.now()
	claimed, err := e.orders.UpdateOrder(ctx, order)
	if err != nil {
		return Fail[Order](fromStore("order", orderID, err))
	}
	order = claimed

	committed := make([]int64, 0, len(order.Lines))
	for _, line := range order.Lines {
		if err := e.decrementStock(ctx, actorID, line); err != nil {
			err.Committed = slices.Clone(committed)
			if len(committed) > 0 {
				e.log.Warn("finalize stopped after partial stock decrement",
					zap.Int64("order_id", orderID),
					zap.Int64s("committed_products", committed),
					zap.Int64("failed_product", line.ProductID),
				)
			}
			return Fail[Order](err)
		}
		committed = append(committed, line.ProductID)
	}

	order.Status = StatusFinalized
	order.UpdatedAt = e.now()
	saved, err := e.orders.UpdateOrder(ctx, order)
	if err != nil {
		ferr := fromStore("order", orderID, err)
		ferr.Committed = committed
		return Fail[Order](ferr)
	}

	e.emit(ctx, TopicOrderFinalized, EventOrderFinalized, saved.ID, OrderFinalizedPayload{
		OrderRef: refOf(saved),
		Items:    itemQtys(saved.Lines),
	})
	return Ok(saved, "order finalized")
}

// decrementStock is "decrement if sufficient, else fail" for one product,
// retried on optimistic version conflicts.
func (e *Engine) decrementStock(ctx context.Context, actorID int64, line OrderLine) *Error {
	unlock := e.locks.Lock(productKey(line.ProductID))
	defer unlock()

	for attempt := 1; attempt <= e.stockRetries; attempt++ {
		var product Product
		if err := Validate(ctx,
			EntityExists("product", line.ProductID, e.catalog.GetProduct, &product),
			StockCovers(&product, line.Quantity),
		); err != nil {
			return err
		}

		product.Stock -= line.Quantity
		product.UpdatedBy = actorID
		product.UpdatedAt = e.now()
		_, err := e.catalog.UpdateProduct(ctx, product)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fromStore("product", line.ProductID, err)
		}
		e.log.Debug("stock update conflict, retrying",
			zap.Int64("product_id", line.ProductID),
			zap.Int("attempt", attempt),
		)
	}
	return StoreFailure(fmt.Errorf("product %d: stock update retries exhausted: %w", line.ProductID, ErrConflict))
}

// CancelOrder moves a PENDING order to CANCELLED. Stock is not touched.
func (e *Engine) CancelOrder(ctx context.Context, actorID, orderID int64) (res Result[Order]) {
	ctx, span := e.start(ctx, "Engine.CancelOrder", attribute.Int64("order.id", orderID))
	defer finish(&e.base, span, "CancelOrder", &res)

	if err := Validate(ctx, IDIsPositive("order id", orderID)); err != nil {
		return Fail[Order](err)
	}

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	var order Order
	if err := Validate(ctx,
		EntityExists("order", orderID, e.orders.GetOrder, &order),
		StatusAllows(&order, StatusCancelled),
	); err != nil {
		return Fail[Order](err)
	}

	order.Status = StatusCancelled
	order.UpdatedBy = actorID
	order.UpdatedAt = e.now()
	saved, err := e.orders.UpdateOrder(ctx, order)
	if err != nil {
		return Fail[Order](fromStore("order", orderID, err))
	}

	e.emit(ctx, TopicOrderCancelled, EventOrderCancelled, saved.ID, OrderCancelledPayload{OrderRef: refOf(saved)})
	return Ok(saved, "order cancelled")
}

// UpdateOrder applies an explicit total override to a PENDING order.
func (e *Engine) UpdateOrder(ctx context.Context, actorID, orderID int64, upd OrderUpdate) (res Result[Order]) {
	ctx, span := e.start(ctx, "Engine.UpdateOrder", attribute.Int64("order.id", orderID))
	defer finish(&e.base, span, "UpdateOrder", &res)

	if err := Validate(ctx, IDIsPositive("order id", orderID)); err != nil {
		return Fail[Order](err)
	}
	if upd.Total != nil && upd.Total.IsNegative() {
		return Fail[Order](InvalidArgument("%s, got %s", ErrMsgTotalNegative, upd.Total.String()))
	}

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	var order Order
	if err := Validate(ctx,
		EntityExists("order", orderID, e.orders.GetOrder, &order),
		OrderIsPending(&order),
	); err != nil {
		return Fail[Order](err)
	}

	if upd.Total != nil {
		order.Total = *upd.Total
	}
	order.UpdatedBy = actorID
	order.UpdatedAt = e.now()
	saved, err := e.orders.UpdateOrder(ctx, order)
	if err != nil {
		return Fail[Order](fromStore("order", orderID, err))
	}

	e.emit(ctx, TopicOrderUpdated, EventOrderUpdated, saved.ID, OrderUpdatedPayload{
		OrderRef: refOf(saved),
		Total:    saved.Total,
	})
	return Ok(saved, "order updated")
}

// RemoveOrder deletes a PENDING or CANCELLED order and releases its cart for
// editing and re-ordering. FINALIZED orders record a stock change and are kept.
func (e *Engine) RemoveOrder(ctx context.Context, actorID, orderID int64) (res Result[Order]) {
	ctx, span := e.start(ctx, "Engine.RemoveOrder", attribute.Int64("order.id", orderID))
	defer finish(&e.base, span, "RemoveOrder", &res)

	if err := Validate(ctx, IDIsPositive("order id", orderID)); err != nil {
		return Fail[Order](err)
	}

	unlock := e.locks.Lock(orderKey(orderID))
	defer unlock()

	var order Order
	if err := Validate(ctx,
		EntityExists("order", orderID, e.orders.GetOrder, &order),
		OrderIsNotFinalized(&order),
	); err != nil {
		return Fail[Order](err)
	}
	if err := e.orders.DeleteOrder(ctx, orderID); err != nil {
		return Fail[Order](fromStore("order", orderID, err))
	}
	e.releaseCart(ctx, actorID, order)

	order.UpdatedBy = actorID
	order.UpdatedAt = e.now()
	e.emit(ctx, TopicOrderRemoved, EventOrderRemoved, order.ID, OrderRemovedPayload{OrderRef: refOf(order)})
	return Ok(order, "order removed")
}

// releaseCart clears the ordered marker of the cart the removed order came
// from. The order is already gone, so failures are logged only.
func (e *Engine) releaseCart(ctx context.Context, actorID int64, order Order) {
	unlock := e.locks.Lock(cartKey(order.CartID))
	defer unlock()

	cart, err := e.carts.GetCart(ctx, order.CartID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.log.Warn("load cart of removed order",
				zap.Int64("cart_id", order.CartID),
				zap.Int64("order_id", order.ID),
				zap.Error(err),
			)
		}
		return
	}
	if cart.OrderID != order.ID {
		return
	}
	cart.OrderID = 0
	cart.UpdatedBy = actorID
	cart.UpdatedAt = e.now()
	if _, err := e.carts.UpdateCart(ctx, cart); err != nil {
		e.log.Warn("release cart of removed order",
			zap.Int64("cart_id", cart.ID),
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) GetOrder(ctx context.Context, orderID int64) (res Result[Order]) {
	ctx, span := e.start(ctx, "Engine.GetOrder", attribute.Int64("order.id", orderID))
	defer finish(&e.base, span, "GetOrder", &res)

	var order Order
	if err := Validate(ctx,
		IDIsPositive("order id", orderID),
		EntityExists("order", orderID, e.orders.GetOrder, &order),
	); err != nil {
		return Fail[Order](err)
	}
	return Ok(order, "")
}

func (e *Engine) ListOrdersByCustomer(ctx context.Context, customerID int64) (res Result[[]Order]) {
	ctx, span := e.start(ctx, "Engine.ListOrdersByCustomer", attribute.Int64("customer.id", customerID))
	defer finish(&e.base, span, "ListOrdersByCustomer", &res)

	if err := Validate(ctx, IDIsPositive("customer id", customerID)); err != nil {
		return Fail[[]Order](err)
	}
	list, err := e.orders.ListOrdersByCustomer(ctx, customerID)
	if err != nil {
		return Fail[[]Order](StoreFailure(err))
	}
	return Ok(list, "")
}
