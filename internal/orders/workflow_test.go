package orders

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkout builds the cart from the walkthrough: P1 (10.00, stock 5) x2 and
// P2 (5.00, stock 1) x1.
func checkout(t *testing.T, f *fixture) (Customer, Product, Product, Cart) {
	t.Helper()
	ctx := context.Background()
	cust := f.store.addCustomer("ana")
	p1 := f.store.addProduct("P1", "10.00", 5)
	p2 := f.store.addProduct("P2", "5.00", 1)
	cart := f.carts.CreateCart(ctx, actor, cust.ID).Data
	require.True(t, f.carts.AddLineItem(ctx, actor, cart.ID, p1.ID, 2).Success)
	res := f.carts.AddLineItem(ctx, actor, cart.ID, p2.ID, 1)
	require.True(t, res.Success)
	return cust, p1, p2, res.Data
}

func TestCreateOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)

	res := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID)
	require.True(t, res.Success, res.Message)

	o := res.Data
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, "25.00", o.Total.StringFixed(2))
	assert.Equal(t, cart.ID, o.CartID)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, p1.ID, o.Lines[0].ProductID)
	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, p2.ID, o.Lines[1].ProductID)

	// cart is kept, with its items, and marked as ordered
	stored, err := f.store.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 2)
	assert.Equal(t, o.ID, stored.OrderID)

	assert.Equal(t, []string{EventOrderCreated}, f.events.types())
}

func TestCreateOrder_UsesCurrentCatalogPrice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, _, cart := checkout(t, f)

	f.store.mu.Lock()
	p := f.store.products[p1.ID]
	p.Price = decimal.RequireFromString("12.50")
	f.store.products[p1.ID] = p
	f.store.mu.Unlock()

	res := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID)
	require.True(t, res.Success)
	assert.Equal(t, "30.00", res.Data.Total.StringFixed(2))
}

func TestCreateOrder_Failures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	other := f.store.addCustomer("bo")
	empty := f.carts.CreateCart(ctx, actor, cust.ID).Data

	assert.Equal(t, KindInvalidArgument, f.engine.CreateOrder(ctx, actor, 0, cart.ID).Kind())
	assert.Equal(t, KindInvalidArgument, f.engine.CreateOrder(ctx, actor, cust.ID, -1).Kind())
	assert.Equal(t, KindNotFound, f.engine.CreateOrder(ctx, actor, 999, cart.ID).Kind())
	assert.Equal(t, KindNotFound, f.engine.CreateOrder(ctx, actor, cust.ID, 999).Kind())
	assert.Equal(t, KindInvalidReference, f.engine.CreateOrder(ctx, actor, other.ID, cart.ID).Kind())
	assert.Equal(t, KindEmptyCart, f.engine.CreateOrder(ctx, actor, cust.ID, empty.ID).Kind())
	assert.Empty(t, f.events.types())
}

func TestCreateOrder_CartIsSingleUse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, _, cart := checkout(t, f)

	require.True(t, f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Success)

	res := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID)
	assert.Equal(t, KindInvalidTransition, res.Kind())
	assert.Equal(t, ErrMsgCartOrdered, res.Message)
	assert.Equal(t, KindInvalidTransition, f.carts.AddLineItem(ctx, actor, cart.ID, p1.ID, 1).Kind())
	assert.Equal(t, KindInvalidTransition, f.carts.RemoveLineItem(ctx, actor, cart.ID, p1.ID).Kind())
}

func TestCreateOrder_StoreFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	f.store.failSaveOrder = errors.New("disk full")

	res := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID)
	assert.Equal(t, KindStoreFailure, res.Kind())
	assert.Equal(t, "disk full", res.Message)

	stored, _ := f.store.GetCart(ctx, cart.ID)
	assert.Zero(t, stored.OrderID)
}

func TestSnapshotSurvivesCartEdits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data

	// edit the cart behind the service's back
	edited, _ := f.store.GetCart(ctx, cart.ID)
	edited.Items = []LineItem{{ProductID: p1.ID, Quantity: 5}}
	_, err := f.store.UpdateCart(ctx, edited)
	require.NoError(t, err)

	got := f.engine.GetOrder(ctx, order.ID)
	require.True(t, got.Success)
	assert.Equal(t, order.Lines, got.Data.Lines)
	assert.Equal(t, "25.00", got.Data.Total.StringFixed(2))

	// finalize works on the snapshot, not the edited cart
	fin := f.engine.FinalizeOrder(ctx, actor, order.ID)
	require.True(t, fin.Success, fin.Message)
	assert.Equal(t, 3, f.store.stock(p1.ID))
	assert.Equal(t, 0, f.store.stock(p2.ID))
}

func TestFinalizeOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data

	res := f.engine.FinalizeOrder(ctx, actor, order.ID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, StatusFinalized, res.Data.Status)
	assert.Equal(t, actor, res.Data.UpdatedBy)
	assert.Equal(t, 3, f.store.stock(p1.ID))
	assert.Equal(t, 0, f.store.stock(p2.ID))
	assert.Equal(t, []int64{p1.ID, p2.ID}, f.store.productUpdates)

	p, _ := f.store.GetProduct(ctx, p1.ID)
	assert.Equal(t, actor, p.UpdatedBy)

	assert.Equal(t, []string{EventOrderCreated, EventOrderFinalized}, f.events.types())
}

func TestFinalizeOrder_Twice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	require.True(t, f.engine.FinalizeOrder(ctx, actor, order.ID).Success)

	res := f.engine.FinalizeOrder(ctx, actor, order.ID)
	assert.Equal(t, KindInvalidTransition, res.Kind())
	assert.Equal(t, ErrMsgAlreadyFinalized, res.Message)
	assert.Equal(t, 3, f.store.stock(p1.ID))
	assert.Equal(t, 0, f.store.stock(p2.ID))
}

func TestFinalizeOrder_InsufficientStockMidway(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	f.store.setStock(p2.ID, 0)

	res := f.engine.FinalizeOrder(ctx, actor, order.ID)
	require.False(t, res.Success)
	assert.Equal(t, KindInsufficientStock, res.Kind())
	assert.Equal(t, &Shortage{ProductID: p2.ID, Available: 0, Requested: 1}, res.Err.Shortage)
	assert.Equal(t, []int64{p1.ID}, res.Err.Committed)

	// no compensation for the line that already went through
	assert.Equal(t, 3, f.store.stock(p1.ID))
	assert.Equal(t, 0, f.store.stock(p2.ID))

	got := f.engine.GetOrder(ctx, order.ID).Data
	assert.Equal(t, StatusPending, got.Status)
}

func TestFinalizeOrder_FirstLineShortLeavesStockAlone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	f.store.setStock(p1.ID, 1)

	res := f.engine.FinalizeOrder(ctx, actor, order.ID)
	assert.Equal(t, KindInsufficientStock, res.Kind())
	assert.Empty(t, res.Err.Committed)
	assert.Equal(t, 1, f.store.stock(p1.ID))
	assert.Equal(t, 1, f.store.stock(p2.ID))
}

func TestFinalizeOrder_RetriesVersionConflict(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	f.store.conflicts = 2

	res := f.engine.FinalizeOrder(ctx, actor, order.ID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 3, f.store.stock(p1.ID))
}

func TestFinalizeOrder_RetriesExhausted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	f.store.conflicts = defaultStockRetries

	res := f.engine.FinalizeOrder(ctx, actor, order.ID)
	assert.Equal(t, KindStoreFailure, res.Kind())
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Equal(t, 5, f.store.stock(p1.ID))
}

func TestFinalizeOrder_LosingOrderClaimLeavesStockAlone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	// another process finalized from the same PENDING read first
	f.store.orderConflicts = 1

	res := f.engine.FinalizeOrder(ctx, actor, order.ID)
	assert.Equal(t, KindStoreFailure, res.Kind())
	assert.ErrorIs(t, res.Err, ErrConflict)
	assert.Empty(t, f.store.productUpdates)
	assert.Equal(t, 5, f.store.stock(p1.ID))
	assert.Equal(t, 1, f.store.stock(p2.ID))
	assert.Equal(t, StatusPending, f.engine.GetOrder(ctx, order.ID).Data.Status)
}

func TestFinalizeOrder_StoreFailureSurfacedVerbatim(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	f.store.failUpdateProduct[p2.ID] = errors.New("write rejected")

	res := f.engine.FinalizeOrder(ctx, actor, order.ID)
	assert.Equal(t, KindStoreFailure, res.Kind())
	assert.Equal(t, "write rejected", res.Message)
	assert.Len(t, res.Err.Committed, 1)
}

func TestFinalizeOrder_Concurrent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data

	var ok, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.engine.FinalizeOrder(ctx, actor, order.ID)
			if res.Success {
				ok.Add(1)
			} else if res.Kind() == KindInvalidTransition {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(19), rejected.Load())
	assert.Equal(t, 3, f.store.stock(p1.ID))
	assert.Equal(t, 0, f.store.stock(p2.ID))
}

func TestStockNeverNegativeAcrossOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := f.store.addProduct("mug", "3.00", 4)

	var ids []int64
	for i := 0; i < 3; i++ {
		cust := f.store.addCustomer("c")
		cart := f.carts.CreateCart(ctx, actor, cust.ID).Data
		require.True(t, f.carts.AddLineItem(ctx, actor, cart.ID, p.ID, 2).Success)
		ids = append(ids, f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data.ID)
	}

	var wg sync.WaitGroup
	results := make([]Result[Order], len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			results[i] = f.engine.FinalizeOrder(ctx, actor, id)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			assert.Equal(t, KindInsufficientStock, r.Kind())
		}
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 0, f.store.stock(p.ID))
}

func TestCancelOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data

	res := f.engine.CancelOrder(ctx, actor, order.ID)
	require.True(t, res.Success)
	assert.Equal(t, StatusCancelled, res.Data.Status)
	assert.Equal(t, 5, f.store.stock(p1.ID))

	again := f.engine.CancelOrder(ctx, actor, order.ID)
	assert.Equal(t, KindInvalidTransition, again.Kind())
	assert.Equal(t, ErrMsgAlreadyCancelled, again.Message)

	fin := f.engine.FinalizeOrder(ctx, actor, order.ID)
	assert.Equal(t, KindInvalidTransition, fin.Kind())
	assert.Equal(t, 5, f.store.stock(p1.ID))
}

func TestCancelFinalizedOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, p1, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	require.True(t, f.engine.FinalizeOrder(ctx, actor, order.ID).Success)

	res := f.engine.CancelOrder(ctx, actor, order.ID)
	assert.Equal(t, KindInvalidTransition, res.Kind())
	assert.Equal(t, ErrMsgCannotCancelDone, res.Message)
	assert.Equal(t, 3, f.store.stock(p1.ID))
	assert.Equal(t, 0, f.store.stock(p2.ID))
	assert.Equal(t, StatusFinalized, f.engine.GetOrder(ctx, order.ID).Data.Status)
}

func TestTransitionsOnMissingOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.Equal(t, KindNotFound, f.engine.FinalizeOrder(ctx, actor, 77).Kind())
	assert.Equal(t, KindNotFound, f.engine.CancelOrder(ctx, actor, 77).Kind())
	assert.Equal(t, KindNotFound, f.engine.GetOrder(ctx, 77).Kind())
	assert.Equal(t, KindInvalidArgument, f.engine.FinalizeOrder(ctx, actor, 0).Kind())
}

func TestUpdateOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data

	total := decimal.RequireFromString("20.00")
	res := f.engine.UpdateOrder(ctx, actor, order.ID, OrderUpdate{Total: &total})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "20.00", res.Data.Total.StringFixed(2))
	assert.Equal(t, order.Lines, res.Data.Lines)

	neg := decimal.RequireFromString("-1")
	assert.Equal(t, KindInvalidArgument, f.engine.UpdateOrder(ctx, actor, order.ID, OrderUpdate{Total: &neg}).Kind())

	require.True(t, f.engine.CancelOrder(ctx, actor, order.ID).Success)
	assert.Equal(t, KindInvalidTransition, f.engine.UpdateOrder(ctx, actor, order.ID, OrderUpdate{Total: &total}).Kind())
}

func TestRemoveOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data

	res := f.engine.RemoveOrder(ctx, actor, order.ID)
	require.True(t, res.Success)
	assert.Equal(t, KindNotFound, f.engine.GetOrder(ctx, order.ID).Kind())
	assert.Equal(t, KindNotFound, f.engine.RemoveOrder(ctx, actor, order.ID).Kind())
}

func TestRemoveOrder_ReleasesCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, p2, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	require.True(t, f.engine.RemoveOrder(ctx, actor+1, order.ID).Success)

	stored, err := f.store.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.OrderID)
	assert.Equal(t, actor+1, stored.UpdatedBy)
	assert.Len(t, stored.Items, 2)

	// editable again, then ordered again
	edit := f.carts.RemoveLineItem(ctx, actor, cart.ID, p2.ID)
	require.True(t, edit.Success, edit.Message)
	again := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID)
	require.True(t, again.Success, again.Message)
	assert.NotEqual(t, order.ID, again.Data.ID)
	assert.Equal(t, "20.00", again.Data.Total.StringFixed(2))
}

func TestRemoveCancelledOrder_ReleasesCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	require.True(t, f.engine.CancelOrder(ctx, actor, order.ID).Success)
	require.True(t, f.engine.RemoveOrder(ctx, actor, order.ID).Success)

	assert.True(t, f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Success)
}

func TestRemoveOrder_CartAlreadyDeleted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	require.NoError(t, f.store.DeleteCart(ctx, cart.ID))

	res := f.engine.RemoveOrder(ctx, actor, order.ID)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, KindNotFound, f.engine.GetOrder(ctx, order.ID).Kind())
}

func TestRemoveFinalizedOrderRefused(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data
	require.True(t, f.engine.FinalizeOrder(ctx, actor, order.ID).Success)

	res := f.engine.RemoveOrder(ctx, actor, order.ID)
	assert.Equal(t, KindInvalidTransition, res.Kind())
	assert.True(t, f.engine.GetOrder(ctx, order.ID).Success)
}

func TestListOrdersByCustomer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data

	res := f.engine.ListOrdersByCustomer(ctx, cust.ID)
	require.True(t, res.Success)
	require.Len(t, res.Data, 1)
	assert.Equal(t, order.ID, res.Data[0].ID)
}

func TestPanicBecomesUnexpectedError(t *testing.T) {
	f := newFixture()
	f.store.panicOnGetOrder = true

	res := f.engine.FinalizeOrder(context.Background(), actor, 1)
	require.False(t, res.Success)
	assert.Equal(t, KindUnexpected, res.Kind())
	assert.Equal(t, ErrMsgUnexpected, res.Message)
	assert.NotContains(t, res.Message, "boom")
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	f.events.err = errors.New("broker down")

	res := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID)
	assert.True(t, res.Success)
}

func TestEventEnvelope(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	cust, _, _, cart := checkout(t, f)
	order := f.engine.CreateOrder(ctx, actor, cust.ID, cart.ID).Data

	require.Len(t, f.events.events, 1)
	got := f.events.events[0]
	assert.Equal(t, TopicOrderCreated, got.topic)
	assert.Equal(t, string(PartitionKey(order.ID)), got.key)
	assert.Equal(t, EventVersion, got.ev.EventVersion)
	assert.NotEmpty(t, got.ev.EventID)

	var p OrderCreatedPayload
	require.NoError(t, json.Unmarshal(got.ev.Payload, &p))
	assert.Equal(t, order.ID, p.OrderID)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, cart.ID, p.CartID)
	assert.Len(t, p.Items, 2)
	assert.True(t, order.Total.Equal(p.Total))
}
