package orders

import (
	"context"
	"math"
)

// Rule is a single precondition. It returns nil when satisfied.
type Rule func(ctx context.Context) *Error

// Validate runs rules in order and returns the first failure. Later rules are
// never evaluated once one fails, so a rule may rely on entities loaded by an
// earlier EntityExists.
func Validate(ctx context.Context, rules ...Rule) *Error {
	for _, r := range rules {
		if err := r(ctx); err != nil {
			return err
		}
	}
	return nil
}

func IDIsPositive(field string, id int64) Rule {
	return func(context.Context) *Error {
		if id <= 0 {
			return InvalidArgument("%s must be a positive integer, got %d", field, id)
		}
		return nil
	}
}

func ReferenceIsPositive(field string, id int64) Rule {
	return func(context.Context) *Error {
		if id <= 0 {
			return InvalidReference("%s must reference a positive id, got %d", field, id)
		}
		return nil
	}
}

func QuantityIsPositive(qty int) Rule {
	return func(context.Context) *Error {
		if qty <= 0 {
			return InvalidArgument("%s, got %d", ErrMsgQuantityPositive, qty)
		}
		return nil
	}
}

// QuantityFits rejects an add whose merge into the existing line for
// productID would overflow int.
func QuantityFits(c *Cart, productID int64, qty int) Rule {
	return func(context.Context) *Error {
		if have := c.Quantity(productID); have > math.MaxInt-qty {
			return InvalidArgument("%s: product %d has %d, adding %d", ErrMsgQuantityTooLarge, productID, have, qty)
		}
		return nil
	}
}

// EntityExists loads entity id with load and stores it in dst.
func EntityExists[T any](entity string, id int64, load func(context.Context, int64) (T, error), dst *T) Rule {
	return func(ctx context.Context) *Error {
		v, err := load(ctx, id)
		if err != nil {
			return fromStore(entity, id, err)
		}
		*dst = v
		return nil
	}
}

func CartHasLineItems(c *Cart) Rule {
	return func(context.Context) *Error {
		if c.Empty() {
			return newError(KindEmptyCart, "cart %d: %s", c.ID, ErrMsgCartEmpty)
		}
		return nil
	}
}

func CartIsOpen(c *Cart) Rule {
	return func(context.Context) *Error {
		if c.Ordered() {
			return InvalidTransition(ErrMsgCartOrdered)
		}
		return nil
	}
}

func CartBelongsTo(c *Cart, customerID int64) Rule {
	return func(context.Context) *Error {
		if c.CustomerID != customerID {
			return InvalidReference("cart %d: %s %d", c.ID, ErrMsgCartNotOwned, customerID)
		}
		return nil
	}
}

func OrderIsPending(o *Order) Rule {
	return func(context.Context) *Error {
		if o.Status != StatusPending {
			return InvalidTransition(ErrMsgOrderNotPending)
		}
		return nil
	}
}

func OrderIsNotFinalized(o *Order) Rule {
	return func(context.Context) *Error {
		if o.Status == StatusFinalized {
			return InvalidTransition(ErrMsgFinalizedImmutable)
		}
		return nil
	}
}

// StatusAllows rejects a transition of o to the target status.
func StatusAllows(o *Order, to Status) Rule {
	return func(context.Context) *Error {
		if CanTransition(o.Status, to) {
			return nil
		}
		switch {
		case o.Status == to && to == StatusFinalized:
			return InvalidTransition(ErrMsgAlreadyFinalized)
		case o.Status == to && to == StatusCancelled:
			return InvalidTransition(ErrMsgAlreadyCancelled)
		case o.Status == StatusFinalized && to == StatusCancelled:
			return InvalidTransition(ErrMsgCannotCancelDone)
		case o.Status == StatusCancelled && to == StatusFinalized:
			return InvalidTransition(ErrMsgCannotFinalizeVoid)
		}
		return InvalidTransition("cannot move order from " + string(o.Status) + " to " + string(to))
	}
}

func StockCovers(p *Product, requested int) Rule {
	return func(context.Context) *Error {
		if p.Stock < requested {
			return InsufficientStock(p.ID, p.Stock, requested)
		}
		return nil
	}
}
