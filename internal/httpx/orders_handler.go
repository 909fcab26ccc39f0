package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
	"github.com/ariefcatur/go-cart-orders/internal/redisx"
)

// StatusCache is the read side of the projected order status.
type StatusCache interface {
	Get(ctx context.Context, orderID int64) (redisx.OrderStatus, bool, error)
	Put(ctx context.Context, s redisx.OrderStatus) (bool, error)
	Delete(ctx context.Context, orderID int64) error
}

type Idempotency interface {
	Claim(ctx context.Context, key string) (orderID int64, claimed bool, err error)
	Complete(ctx context.Context, key string, orderID int64) error
	Release(ctx context.Context, key string) error
}

// Handler serves the cart and order API. Status and Idem are optional.
type Handler struct {
	Carts   *orders.CartService
	Orders  *orders.Engine
	Catalog orders.CatalogStore
	Status  StatusCache
	Idem    Idempotency
	Log     *zap.Logger
}

type createOrderReq struct {
	CustomerID int64 `json:"customer_id"`
	CartID     int64 `json:"cart_id"`
}

type statusResp struct {
	OrderID int64         `json:"order_id"`
	Status  orders.Status `json:"status"`
	Version int           `json:"version"`
	Cached  bool          `json:"cached"`
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)

	r.Post("/carts", h.createCart)
	r.Get("/carts/{id}", h.getCart)
	r.Delete("/carts/{id}", h.deleteCart)
	r.Post("/carts/{id}/items", h.addItem)
	r.Delete("/carts/{id}/items/{productID}", h.removeItem)
	r.Get("/carts/{id}/total", h.cartTotal)
	r.Get("/customers/{id}/carts", h.listCarts)

	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Patch("/orders/{id}", h.updateOrder)
	r.Delete("/orders/{id}", h.removeOrder)
	r.Post("/orders/{id}/finalize", h.finalizeOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/customers/{id}/orders", h.listOrders)
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeError(w, orders.StoreFailure(err))
		return
	}
	writeResult(w, http.StatusOK, orders.Ok(ps, ""))
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, perr := actorID(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	var req createOrderReq
	if perr := decodeBody(r, &req); perr != nil {
		writeError(w, perr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	key := r.Header.Get(HeaderIdempotencyKey)
	if key != "" && h.Idem != nil {
		orderID, claimed, err := h.Idem.Claim(ctx, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeError(w, orders.InvalidTransition("a request with this idempotency key is in progress"))
			return
		case err != nil:
			// Redis is an accelerator; the cart's single-use rule still guards duplicates
			h.logger().Warn("idempotency claim", zap.String("key", key), zap.Error(err))
			key = ""
		case !claimed:
			writeResult(w, http.StatusOK, h.Orders.GetOrder(ctx, orderID))
			return
		}
	}

	res := h.Orders.CreateOrder(ctx, actor, req.CustomerID, req.CartID)
	if key != "" && h.Idem != nil {
		var err error
		if res.Success {
			err = h.Idem.Complete(ctx, key, res.Data.ID)
		} else {
			err = h.Idem.Release(ctx, key)
		}
		if err != nil {
			h.logger().Warn("idempotency settle", zap.String("key", key), zap.Error(err))
		}
	}
	if res.Success {
		h.cacheStatus(ctx, res.Data)
	}
	writeResult(w, http.StatusCreated, res)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, perr := pathID(r, "id")
	if perr != nil {
		writeError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	writeResult(w, http.StatusOK, h.Orders.GetOrder(ctx, id))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	id, perr := pathID(r, "id")
	if perr != nil {
		writeError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	writeResult(w, http.StatusOK, h.Orders.ListOrdersByCustomer(ctx, id))
}

func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	id, perr := pathID(r, "id")
	if perr != nil {
		writeError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Status != nil {
		s, ok, err := h.Status.Get(ctx, id)
		if err != nil {
			h.logger().Warn("status cache read", zap.Int64("order_id", id), zap.Error(err))
		}
		if ok {
			writeResult(w, http.StatusOK, orders.Ok(statusResp{OrderID: id, Status: s.Status, Version: s.Version, Cached: true}, ""))
			return
		}
	}

	// 2) fallback to the store
	res := h.Orders.GetOrder(ctx, id)
	if !res.Success {
		writeResult(w, http.StatusOK, res)
		return
	}
	h.cacheStatus(ctx, res.Data)
	writeResult(w, http.StatusOK, orders.Ok(statusResp{OrderID: id, Status: res.Data.Status, Version: res.Data.Version}, ""))
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	h.mutateOrder(w, r, func(ctx context.Context, actor, id int64) orders.Result[orders.Order] {
		var upd orders.OrderUpdate
		if perr := decodeBody(r, &upd); perr != nil {
			return orders.Fail[orders.Order](perr)
		}
		return h.Orders.UpdateOrder(ctx, actor, id, upd)
	})
}

func (h *Handler) removeOrder(w http.ResponseWriter, r *http.Request) {
	h.mutateOrder(w, r, func(ctx context.Context, actor, id int64) orders.Result[orders.Order] {
		res := h.Orders.RemoveOrder(ctx, actor, id)
		if res.Success && h.Status != nil {
			if err := h.Status.Delete(ctx, id); err != nil {
				h.logger().Warn("status cache evict", zap.Int64("order_id", id), zap.Error(err))
			}
		}
		return res
	})
}

func (h *Handler) finalizeOrder(w http.ResponseWriter, r *http.Request) {
	h.mutateOrder(w, r, h.Orders.FinalizeOrder)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.mutateOrder(w, r, h.Orders.CancelOrder)
}

func (h *Handler) mutateOrder(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor, id int64) orders.Result[orders.Order]) {
	actor, perr := actorID(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	id, perr := pathID(r, "id")
	if perr != nil {
		writeError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res := op(ctx, actor, id)
	if res.Success && r.Method != http.MethodDelete {
		h.cacheStatus(ctx, res.Data)
	}
	writeResult(w, http.StatusOK, res)
}

// cacheStatus warms the status cache; the projector is the authoritative writer.
func (h *Handler) cacheStatus(ctx context.Context, o orders.Order) {
	if h.Status == nil {
		return
	}
	_, err := h.Status.Put(ctx, redisx.OrderStatus{
		OrderID:   o.ID,
		Status:    o.Status,
		Version:   o.Version,
		UpdatedAt: o.UpdatedAt,
	})
	if err != nil {
		h.logger().Warn("status cache write", zap.Int64("order_id", o.ID), zap.Error(err))
	}
}
