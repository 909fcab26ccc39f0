package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-cart-orders/internal/orders"
)

// OrderStatus is the cached view of an order's lifecycle position.
type OrderStatus struct {
	OrderID   int64         `json:"order_id"`
	Status    orders.Status `json:"status"`
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// putIfNewer keeps the entry with the highest order version, so lifecycle
// events arriving out of order never roll a status back.
var putIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, doc = pcall(cjson.decode, cur)
	if ok and type(doc) == 'table' and tonumber(doc.version) and tonumber(doc.version) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func statusKey(orderID int64) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

// Put stores s unless a newer version is already cached. It reports whether
// the entry was written.
func (c *StatusCache) Put(ctx context.Context, s OrderStatus) (bool, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return false, err
	}
	n, err := putIfNewer.Run(ctx, c.rdb, []string{statusKey(s.OrderID)}, b, s.Version, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns the cached status; ok is false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID int64) (OrderStatus, bool, error) {
	raw, err := c.rdb.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return OrderStatus{}, false, nil
	}
	if err != nil {
		return OrderStatus{}, false, err
	}
	var s OrderStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		return OrderStatus{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return s, true, nil
}

func (c *StatusCache) Delete(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, statusKey(orderID)).Err()
}
