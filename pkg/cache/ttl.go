package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// TTL keeps entries in a ttlcache with a per-entry expiry. Reads do not
// extend an entry's lifetime.
type TTL struct {
	cache *ttlcache.Cache[string, []byte]
}

func NewTTL(maxEntries int64) *TTL {
	opts := []ttlcache.Option[string, []byte]{
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	}
	if maxEntries > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](uint64(maxEntries)))
	}
	return &TTL{cache: ttlcache.New(opts...)}
}

func (c *TTL) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := c.cache.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (c *TTL) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	c.cache.Set(key, value, ttl)
	return nil
}

func (c *TTL) Clear(context.Context) error {
	c.cache.DeleteAll()
	return nil
}
