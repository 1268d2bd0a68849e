package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LoanCache is an optional read cache for loan lookups, keyed by loan id.
// Mutating handlers invalidate the entry; a miss is never an error.
type LoanCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLoanCache(addr string, ttl time.Duration) *LoanCache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &LoanCache{client: rdb, ttl: ttl}
}

func key(id uuid.UUID) string {
	return "loan:" + id.String()
}

// Get returns the cached loan payload, if present.
func (c *LoanCache) Get(ctx context.Context, id uuid.UUID) ([]byte, bool) {
	val, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

// Set stores the loan payload for the configured TTL.
func (c *LoanCache) Set(ctx context.Context, id uuid.UUID, payload []byte) error {
	return c.client.Set(ctx, key(id), payload, c.ttl).Err()
}

// Invalidate drops the cached entry after a mutation.
func (c *LoanCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, key(id)).Err()
}

func (c *LoanCache) Close() error {
	return c.client.Close()
}
