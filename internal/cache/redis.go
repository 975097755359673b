package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/xenking/tillpoint/internal/domain/catalog"
)

var _ catalog.Cache = (*ProductCache)(nil)

// ProductCache keeps catalog reads in Redis. Stock truth stays in the
// database; entries here only shorten the hot product-lookup path, so a
// stale quantity is harmless and short TTLs plus invalidation on write keep
// staleness bounded.
type ProductCache struct {
	client *redis.Client
}

// NewProductCache connects a ProductCache to the Redis at addr.
func NewProductCache(addr, password string, db int) *ProductCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &ProductCache{client: client}
}

func (c *ProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ProductCache) Close() error {
	return c.client.Close()
}

func (c *ProductCache) Get(ctx context.Context, storeID, code string) (*catalog.Product, bool, error) {
	val, err := c.client.Get(ctx, productKey(storeID, code)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var p catalog.Product
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *ProductCache) Set(ctx context.Context, p *catalog.Product, ttl time.Duration) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, productKey(p.StoreID, p.Code), payload, ttl).Err()
}

func (c *ProductCache) Invalidate(ctx context.Context, storeID string, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = productKey(storeID, code)
	}
	return c.client.Del(ctx, keys...).Err()
}

func productKey(storeID, code string) string {
	return "product:" + storeID + ":" + code
}
