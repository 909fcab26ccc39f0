package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

type createCartReq struct {
	CustomerID int64 `json:"customer_id"`
}

type addItemReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	actor, perr := actorID(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	var req createCartReq
	if perr := decodeBody(r, &req); perr != nil {
		writeError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeResult(w, http.StatusCreated, h.Carts.CreateCart(ctx, actor, req.CustomerID))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	id, perr := pathID(r, "id")
	if perr != nil {
		writeError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	writeResult(w, http.StatusOK, h.Carts.GetCartByID(ctx, id))
}

func (h *Handler) listCarts(w http.ResponseWriter, r *http.Request) {
	id, perr := pathID(r, "id")
	if perr != nil {
		writeError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	writeResult(w, http.StatusOK, h.Carts.GetCarts(ctx, id))
}

func (h *Handler) cartTotal(w http.ResponseWriter, r *http.Request) {
	id, perr := pathID(r, "id")
	if perr != nil {
		writeError(w, perr)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	writeResult(w, http.StatusOK, h.Carts.PriceCart(ctx, id))
}

func (h *Handler) deleteCart(w http.ResponseWriter, r *http.Request) {
	h.mutateCart(w, r, h.Carts.DeleteCart)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	h.mutateCart(w, r, func(ctx context.Context, actor, cartID int64) orders.Result[orders.Cart] {
		var req addItemReq
		if perr := decodeBody(r, &req); perr != nil {
			return orders.Fail[orders.Cart](perr)
		}
		return h.Carts.AddLineItem(ctx, actor, cartID, req.ProductID, req.Quantity)
	})
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	h.mutateCart(w, r, func(ctx context.Context, actor, cartID int64) orders.Result[orders.Cart] {
		productID, perr := pathID(r, "productID")
		if perr != nil {
			return orders.Fail[orders.Cart](perr)
		}
		return h.Carts.RemoveLineItem(ctx, actor, cartID, productID)
	})
}

func (h *Handler) mutateCart(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actor, cartID int64) orders.Result[orders.Cart]) {
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
	writeResult(w, http.StatusOK, op(ctx, actor, id))
}
