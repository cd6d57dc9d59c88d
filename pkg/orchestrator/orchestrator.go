// Package orchestrator runs executors behind a result cache and counts hits,
// misses, executions and errors.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/malbeclabs/retail-insights/pkg/cache"
	"github.com/malbeclabs/retail-insights/pkg/metrics"
)

const DefaultTTL = time.Hour

// Executor produces the value for a query on a cache miss.
type Executor func(ctx context.Context, query string) ([]byte, error)

type Config struct {
	Logger *slog.Logger
	Cache  cache.Backend
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory()
	}
	return nil
}

type Orchestrator struct {
	log   *slog.Logger
	cache cache.Backend

	mu       sync.Mutex
	executed int64
	hits     int64
	misses   int64
	errors   int64
}

func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{log: cfg.Logger, cache: cfg.Cache}, nil
}

// ExecuteWithCache returns the cached value for query when present. On a miss
// it runs exec, stores a successful result for ttl and returns it. Executor
// errors are counted and returned unchanged; nothing is stored for them.
// Cache backend failures are logged and treated as misses.
func (o *Orchestrator) ExecuteWithCache(ctx context.Context, query string, exec Executor, ttl time.Duration) ([]byte, error) {
	key := cache.Fingerprint(query)

	value, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.log.Warn("orchestrator: cache read failed", "error", err)
		ok = false
	}
	if ok {
		o.count(&o.hits)
		metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
		o.log.Info("orchestrator: cache hit", "query", truncate(query, 50))
		return value, nil
	}

	o.mu.Lock()
	o.misses++
	o.executed++
	o.mu.Unlock()
	metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	o.log.Info("orchestrator: cache miss, executing", "query", truncate(query, 50))

	value, err = exec(ctx, query)
	if err != nil {
		o.count(&o.errors)
		o.log.Error("orchestrator: execution failed", "error", err)
		return nil, err
	}

	if err := o.cache.Set(ctx, key, value, ttl); err != nil {
		o.log.Warn("orchestrator: cache write failed", "error", err)
	}
	return value, nil
}

// Execute is ExecuteWithCache for values that round-trip through JSON.
func Execute[T any](ctx context.Context, o *Orchestrator, query string, exec func(context.Context, string) (T, error), ttl time.Duration) (T, error) {
	var zero T
	raw, err := o.ExecuteWithCache(ctx, query, func(ctx context.Context, q string) ([]byte, error) {
		v, err := exec(ctx, q)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	}, ttl)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("failed to decode cached value: %w", err)
	}
	return out, nil
}

// Clear drops every cached entry. Counters are kept.
func (o *Orchestrator) Clear(ctx context.Context) error {
	return o.cache.Clear(ctx)
}

type Metrics struct {
	QueriesExecuted int64   `json:"queries_executed"`
	CacheHits       int64   `json:"cache_hits"`
	CacheMisses     int64   `json:"cache_misses"`
	Errors          int64   `json:"errors"`
	TotalRequests   int64   `json:"total_requests"`
	HitRate         float64 `json:"-"`
}

// HitRateString formats the hit rate as a percentage with one decimal.
func (m Metrics) HitRateString() string {
	return fmt.Sprintf("%.1f%%", m.HitRate*100)
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	type plain Metrics
	return json.Marshal(struct {
		plain
		CacheHitRate string `json:"cache_hit_rate"`
	}{plain(m), m.HitRateString()})
}

func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := Metrics{
		QueriesExecuted: o.executed,
		CacheHits:       o.hits,
		CacheMisses:     o.misses,
		Errors:          o.errors,
		TotalRequests:   o.hits + o.misses,
	}
	if m.TotalRequests > 0 {
		m.HitRate = float64(m.CacheHits) / float64(m.TotalRequests)
	}
	return m
}

func (o *Orchestrator) count(c *int64) {
	o.mu.Lock()
	*c++
	o.mu.Unlock()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
