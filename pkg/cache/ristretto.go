package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

const defaultRistrettoEntries = 10_000

// Ristretto is an admission-controlled in-process cache. Each entry has a
// cost of one, so MaxCost is the entry capacity. Sets are applied
// asynchronously; Set waits for the buffer to drain so a following Get
// observes the value.
type Ristretto struct {
	cache *ristretto.Cache
}

func NewRistretto(maxEntries int64) (*Ristretto, error) {
	if maxEntries <= 0 {
		maxEntries = defaultRistrettoEntries
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Without this, ristretto adds its own per-item overhead to the cost
		// and MaxCost stops being an entry count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &Ristretto{cache: c}, nil
}

func (c *Ristretto) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (c *Ristretto) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	c.cache.SetWithTTL(key, value, 1, ttl)
	c.cache.Wait()
	return nil
}

func (c *Ristretto) Clear(context.Context) error {
	c.cache.Clear()
	return nil
}

func (c *Ristretto) Close() {
	c.cache.Close()
}
