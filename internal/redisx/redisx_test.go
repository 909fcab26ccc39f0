package redisx

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := New(addr)
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// uniqueID keeps parallel runs against a shared Redis apart.
func uniqueID() int64 { return time.Now().UnixNano() }

func TestStatusCache_KeepsNewestVersion(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	cache := NewStatusCache(client)
	id := uniqueID()
	t.Cleanup(func() { _ = cache.Delete(ctx, id) })

	_, ok, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	wrote, err := cache.Put(ctx, OrderStatus{OrderID: id, Status: orders.StatusFinalized, Version: 1})
	require.NoError(t, err)
	assert.True(t, wrote)

	// a late OrderCreated must not roll the status back
	wrote, err = cache.Put(ctx, OrderStatus{OrderID: id, Status: orders.StatusPending, Version: 0})
	require.NoError(t, err)
	assert.False(t, wrote)

	got, ok, err := cache.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orders.StatusFinalized, got.Status)

	require.NoError(t, cache.Delete(ctx, id))
	_, ok, _ = cache.Get(ctx, id)
	assert.False(t, ok)
}

func TestDeduper(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	d := NewDeduper(client, "test")
	ev := strconv.FormatInt(uniqueID(), 10)
	t.Cleanup(func() { _ = d.Forget(ctx, ev) })

	first, err := d.MarkSeen(ctx, ev)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.MarkSeen(ctx, ev)
	require.NoError(t, err)
	assert.False(t, first)

	require.NoError(t, d.Forget(ctx, ev))
	first, _ = d.MarkSeen(ctx, ev)
	assert.True(t, first)
}

func TestIdempotency(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	idem := NewIdempotency(client)
	key := strconv.FormatInt(uniqueID(), 10)
	t.Cleanup(func() { _ = idem.Release(ctx, key) })

	_, claimed, err := idem.Claim(ctx, key)
	require.NoError(t, err)
	assert.True(t, claimed)

	_, _, err = idem.Claim(ctx, key)
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, idem.Complete(ctx, key, 77))
	id, claimed, err := idem.Claim(ctx, key)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(77), id)
}
