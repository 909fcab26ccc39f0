package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

// HeaderUserID carries the acting user for every mutating request.
const HeaderUserID = "X-User-Id"

// HeaderIdempotencyKey makes POST /orders safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeResult sends the envelope as-is; only the status code depends on it.
func writeResult[T any](w http.ResponseWriter, okCode int, res orders.Result[T]) {
	if res.Success {
		writeJSON(w, okCode, res)
		return
	}
	writeJSON(w, statusFor(res.Kind()), res)
}

func writeError(w http.ResponseWriter, err *orders.Error) {
	writeResult(w, http.StatusOK, orders.Fail[any](err))
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindInvalidArgument, orders.KindInvalidReference:
		return http.StatusBadRequest
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindInvalidTransition:
		return http.StatusConflict
	case orders.KindEmptyCart, orders.KindInsufficientStock:
		return http.StatusUnprocessableEntity
	case orders.KindStoreFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func actorID(r *http.Request) (int64, *orders.Error) {
	id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
	if err != nil || id <= 0 {
		return 0, orders.InvalidArgument("%s header must be a positive integer", HeaderUserID)
	}
	return id, nil
}

func pathID(r *http.Request, name string) (int64, *orders.Error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, orders.InvalidArgument("%s must be an integer", name)
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) *orders.Error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return orders.InvalidArgument("invalid json: %v", err)
	}
	return nil
}
