package orders

import (
	"errors"
	"fmt"
)

// Store sentinels. Adapters wrap these so callers can use errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("version conflict")
)

type Kind int

const (
	KindInvalidArgument Kind = iota + 1
	KindInvalidReference
	KindNotFound
	KindEmptyCart
	KindInsufficientStock
	KindInvalidTransition
	KindStoreFailure
	KindUnexpected
)

var kindNames = map[Kind]string{
	KindInvalidArgument:   "INVALID_ARGUMENT",
	KindInvalidReference:  "INVALID_REFERENCE",
	KindNotFound:          "NOT_FOUND",
	KindEmptyCart:         "EMPTY_CART",
	KindInsufficientStock: "INSUFFICIENT_STOCK",
	KindInvalidTransition: "INVALID_TRANSITION",
	KindStoreFailure:      "STORE_FAILURE",
	KindUnexpected:        "UNEXPECTED_ERROR",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Business reports whether k is an expected, caller-recoverable outcome.
func (k Kind) Business() bool {
	switch k {
	case KindEmptyCart, KindInsufficientStock, KindInvalidTransition:
		return true
	}
	return false
}

const (
	ErrMsgQuantityPositive   = "quantity must be positive"
	ErrMsgQuantityTooLarge   = "line item quantity too large"
	ErrMsgCartEmpty          = "cart has no line items"
	ErrMsgCartOrdered        = "cart has already been ordered"
	ErrMsgCartNotOwned       = "cart does not belong to customer"
	ErrMsgAlreadyFinalized   = "order already finalized"
	ErrMsgAlreadyCancelled   = "order already cancelled"
	ErrMsgCannotCancelDone   = "cannot cancel a finalized order"
	ErrMsgCannotFinalizeVoid = "cannot finalize a cancelled order"
	ErrMsgOrderNotPending    = "order is not pending"
	ErrMsgFinalizedImmutable = "finalized orders cannot be removed"
	ErrMsgTotalNegative      = "total cannot be negative"
	ErrMsgUnexpected         = "an unexpected error occurred"
)

// Shortage describes a stock check that failed.
type Shortage struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Requested int   `json:"requested"`
}

type Error struct {
	Kind     Kind      `json:"kind"`
	Message  string    `json:"message"`
	Shortage *Shortage `json:"shortage,omitempty"`
	// Committed lists products whose stock was already decremented when a
	// finalize failed part way.
	Committed []int64 `json:"committed,omitempty"`
	cause     error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidArgument(format string, args ...any) *Error {
	return newError(KindInvalidArgument, format, args...)
}

func InvalidReference(format string, args ...any) *Error {
	return newError(KindInvalidReference, format, args...)
}

func NotFound(entity string, id int64) *Error {
	return newError(KindNotFound, "%s %d not found", entity, id)
}

func InvalidTransition(msg string) *Error {
	return newError(KindInvalidTransition, "%s", msg)
}

func InsufficientStock(productID int64, available, requested int) *Error {
	e := newError(KindInsufficientStock, "insufficient stock for product %d: available %d, requested %d",
		productID, available, requested)
	e.Shortage = &Shortage{ProductID: productID, Available: available, Requested: requested}
	return e
}

// StoreFailure surfaces a persistence error verbatim.
func StoreFailure(err error) *Error {
	return &Error{Kind: KindStoreFailure, Message: err.Error(), cause: err}
}

func unexpected(cause error) *Error {
	return &Error{Kind: KindUnexpected, Message: ErrMsgUnexpected, cause: cause}
}

// fromStore converts a store error for entity/id into NotFound or StoreFailure.
func fromStore(entity string, id int64, err error) *Error {
	if errors.Is(err, ErrNotFound) {
		e := NotFound(entity, id)
		e.cause = err
		return e
	}
	return StoreFailure(err)
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
