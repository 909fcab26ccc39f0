package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight means another request holding the same key has not finished.
var ErrInFlight = errors.New("request with this idempotency key is in flight")

const inFlight = "0"

// Idempotency maps client-supplied keys onto the order they created.
type Idempotency struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotency(rdb *redis.Client) *Idempotency {
	return &Idempotency{rdb: rdb, ttl: TTLIdempotency}
}

func idemKey(key string) string { return fmt.Sprintf(KeyIdemOrderCreate, key) }

// Claim reserves key for the caller. When the key already completed it
// returns the stored order id and claimed=false.
func (i *Idempotency) Claim(ctx context.Context, key string) (orderID int64, claimed bool, err error) {
	ok, err := i.rdb.SetNX(ctx, idemKey(key), inFlight, i.ttl).Result()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}
	v, err := i.rdb.Get(ctx, idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return i.Claim(ctx, key)
	}
	if err != nil {
		return 0, false, err
	}
	if v == inFlight {
		return 0, false, ErrInFlight
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency key %s: %w", key, err)
	}
	return id, false, nil
}

func (i *Idempotency) Complete(ctx context.Context, key string, orderID int64) error {
	return i.rdb.Set(ctx, idemKey(key), strconv.FormatInt(orderID, 10), i.ttl).Err()
}

// Release frees a claimed key after a failed attempt.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	return i.rdb.Del(ctx, idemKey(key)).Err()
}
