package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated   = "OrderCreated"
	EventOrderFinalized = "OrderFinalized"
	EventOrderCancelled = "OrderCancelled"
	EventOrderUpdated   = "OrderUpdated"
	EventOrderRemoved   = "OrderRemoved"

	EventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the Event* constants
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // the order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type ItemQty struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type ItemPrice struct {
	ProductID int64           `json:"product_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderRef is embedded in every lifecycle payload so consumers can read the
// order's identity and status without knowing the event type.
type OrderRef struct {
	OrderID    int64     `json:"order_id"`
	CustomerID int64     `json:"customer_id"`
	Status     Status    `json:"status"`
	Version    int       `json:"version"`
	ActorID    int64     `json:"actor_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type OrderCreatedPayload struct {
	OrderRef
	CartID int64           `json:"cart_id"`
	Items  []ItemPrice     `json:"items"`
	Total  decimal.Decimal `json:"total"`
}

type OrderFinalizedPayload struct {
	OrderRef
	Items []ItemQty `json:"items"`
}

type OrderCancelledPayload struct {
	OrderRef
}

type OrderUpdatedPayload struct {
	OrderRef
	Total decimal.Decimal `json:"total"`
}

type OrderRemovedPayload struct {
	OrderRef
}

func refOf(o Order) OrderRef {
	return OrderRef{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Version:    o.Version,
		ActorID:    o.UpdatedBy,
		UpdatedAt:  o.UpdatedAt,
	}
}

func itemPrices(lines []OrderLine) []ItemPrice {
	out := make([]ItemPrice, 0, len(lines))
	for _, l := range lines {
		out = append(out, ItemPrice{ProductID: l.ProductID, Qty: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return out
}

func itemQtys(lines []OrderLine) []ItemQty {
	out := make([]ItemQty, 0, len(lines))
	for _, l := range lines {
		out = append(out, ItemQty{ProductID: l.ProductID, Qty: l.Quantity})
	}
	return out
}

func marshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
