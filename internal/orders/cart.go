package orders

import (
	"slices"

	"github.com/shopspring/decimal"
)

func (c *Cart) Quantity(productID int64) int {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

// Add merges qty into the existing line for productID or appends a new line.
func (c *Cart) Add(productID int64, qty int) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += qty
			return
		}
	}
	c.Items = append(c.Items, LineItem{ProductID: productID, Quantity: qty})
}

// Remove deletes the line for productID and reports whether it was present.
func (c *Cart) Remove(productID int64) bool {
	i := slices.IndexFunc(c.Items, func(it LineItem) bool { return it.ProductID == productID })
	if i < 0 {
		return false
	}
	c.Items = slices.Delete(c.Items, i, i+1)
	return true
}

func (c *Cart) Ordered() bool { return c.OrderID != 0 }

func (c *Cart) Empty() bool { return len(c.Items) == 0 }

// Snapshot returns a copy of the line items that does not alias the cart.
func (c *Cart) Snapshot() []LineItem {
	return slices.Clone(c.Items)
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total is Σ(unit price × quantity) over lines.
func Total(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// PriceLines prices items with the given products, keyed by id. Callers load
// every referenced product first; a missing one would price at zero.
func PriceLines(items []LineItem, products map[int64]Product) []OrderLine {
	out := make([]OrderLine, 0, len(items))
	for _, it := range items {
		out = append(out, OrderLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: products[it.ProductID].Price,
		})
	}
	return out
}
