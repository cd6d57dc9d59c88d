package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/malbeclabs/retail-insights/pkg/cache"
	"github.com/malbeclabs/retail-insights/pkg/orchestrator"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type countingExecutor struct {
	calls atomic.Int64
	err   error
}

func (c *countingExecutor) exec(_ context.Context, query string) ([]byte, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return []byte("result for " + query), nil
}

// failingBackend fails every operation.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func (failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend down")
}

func (failingBackend) Clear(context.Context) error { return errors.New("backend down") }

func newOrchestrator(t *testing.T, b cache.Backend) *orchestrator.Orchestrator {
	t.Helper()
	o, err := orchestrator.New(orchestrator.Config{Logger: newTestLogger(), Cache: b})
	require.NoError(t, err)
	return o
}

func TestOrchestrator_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := orchestrator.Config{}
	require.ErrorContains(t, cfg.Validate(), "logger is required")

	cfg = orchestrator.Config{Logger: newTestLogger()}
	require.NoError(t, cfg.Validate())
	require.IsType(t, &cache.Memory{}, cfg.Cache)
}

func TestOrchestrator_ExecuteWithCache_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	o := newOrchestrator(t, cache.NewMemory())
	ex := &countingExecutor{}

	first, err := o.ExecuteWithCache(ctx, "top states", ex.exec, time.Hour)
	require.NoError(t, err)
	second, err := o.ExecuteWithCache(ctx, "top states", ex.exec, time.Hour)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(1), ex.calls.Load())

	m := o.Metrics()
	require.Equal(t, orchestrator.Metrics{
		QueriesExecuted: 1,
		CacheHits:       1,
		CacheMisses:     1,
		TotalRequests:   2,
		HitRate:         0.5,
	}, m)
	require.Equal(t, "50.0%", m.HitRateString())
}

func TestOrchestrator_ExecuteWithCache_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	o := newOrchestrator(t, cache.NewMemory())
	boom := errors.New("boom")
	ex := &countingExecutor{err: boom}

	_, err := o.ExecuteWithCache(ctx, "q", ex.exec, time.Hour)
	require.ErrorIs(t, err, boom)
	_, err = o.ExecuteWithCache(ctx, "q", ex.exec, time.Hour)
	require.ErrorIs(t, err, boom)

	require.Equal(t, int64(2), ex.calls.Load(), "errors are not cached")
	m := o.Metrics()
	require.Equal(t, int64(2), m.QueriesExecuted)
	require.Equal(t, int64(2), m.CacheMisses)
	require.Equal(t, int64(2), m.Errors)
	require.Equal(t, int64(0), m.CacheHits)
	require.Equal(t, "0.0%", m.HitRateString())
}

func TestOrchestrator_ExecuteWithCache_BackendFailureIsMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	o := newOrchestrator(t, failingBackend{})
	ex := &countingExecutor{}

	v, err := o.ExecuteWithCache(ctx, "q", ex.exec, time.Hour)
	require.NoError(t, err)
	require.Equal(t, []byte("result for q"), v)
	_, err = o.ExecuteWithCache(ctx, "q", ex.exec, time.Hour)
	require.NoError(t, err)

	require.Equal(t, int64(2), ex.calls.Load())
	require.Equal(t, int64(0), o.Metrics().Errors)
}

func TestOrchestrator_CountersIndependentOfBackend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ttl := cache.NewTTL(0)
	rist, err := cache.NewRistretto(100)
	require.NoError(t, err)
	t.Cleanup(rist.Close)

	backends := map[string]cache.Backend{
		"memory":    cache.NewMemory(),
		"ttl":       ttl,
		"ristretto": rist,
	}

	sequence := []string{"a", "b", "a", "c", "a", "b", "fail", "fail"}
	results := map[string]orchestrator.Metrics{}
	for name, b := range backends {
		o := newOrchestrator(t, b)
		ex := &countingExecutor{}
		for _, q := range sequence {
			exec := ex.exec
			if q == "fail" {
				exec = func(context.Context, string) ([]byte, error) { return nil, errors.New("fail") }
			}
			_, _ = o.ExecuteWithCache(ctx, q, exec, time.Hour)
		}
		results[name] = o.Metrics()
	}

	want := orchestrator.Metrics{
		QueriesExecuted: 5,
		CacheHits:       3,
		CacheMisses:     5,
		Errors:          2,
		TotalRequests:   8,
		HitRate:         3.0 / 8.0,
	}
	for name, got := range results {
		require.Equal(t, want, got, name)
		require.Equal(t, "37.5%", got.HitRateString(), name)
	}
}

func TestOrchestrator_Clear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	o := newOrchestrator(t, cache.NewMemory())
	ex := &countingExecutor{}

	_, err := o.ExecuteWithCache(ctx, "q", ex.exec, time.Hour)
	require.NoError(t, err)
	require.NoError(t, o.Clear(ctx))
	_, err = o.ExecuteWithCache(ctx, "q", ex.exec, time.Hour)
	require.NoError(t, err)

	require.Equal(t, int64(2), ex.calls.Load())
	require.Equal(t, int64(2), o.Metrics().CacheMisses)
}

func TestOrchestrator_Concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	o := newOrchestrator(t, cache.NewMemory())
	ex := &countingExecutor{}

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.ExecuteWithCache(ctx, "same", ex.exec, time.Hour)
		}()
	}
	wg.Wait()

	m := o.Metrics()
	require.Equal(t, int64(50), m.TotalRequests)
	require.Equal(t, m.CacheMisses, m.QueriesExecuted)
	require.Equal(t, ex.calls.Load(), m.QueriesExecuted)
}

func TestOrchestrator_Execute_Typed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	o := newOrchestrator(t, cache.NewMemory())

	type answer struct {
		Text  string `json:"text"`
		Count int    `json:"count"`
	}
	calls := 0
	exec := func(_ context.Context, q string) (answer, error) {
		calls++
		return answer{Text: q, Count: calls}, nil
	}

	a, err := orchestrator.Execute(ctx, o, "q", exec, time.Hour)
	require.NoError(t, err)
	b, err := orchestrator.Execute(ctx, o, "q", exec, time.Hour)
	require.NoError(t, err)
	require.Equal(t, answer{Text: "q", Count: 1}, a)
	require.Equal(t, a, b)
	require.Equal(t, 1, calls)
}

func TestOrchestrator_Metrics_JSON(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(orchestrator.Metrics{
		QueriesExecuted: 3,
		CacheHits:       1,
		CacheMisses:     3,
		TotalRequests:   4,
		HitRate:         0.25,
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"queries_executed": 3,
		"cache_hits": 1,
		"cache_misses": 3,
		"errors": 0,
		"total_requests": 4,
		"cache_hit_rate": "25.0%"
	}`, string(out))
}
