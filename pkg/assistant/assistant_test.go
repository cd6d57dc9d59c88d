package assistant_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/retail-insights/pkg/assistant"
	"github.com/malbeclabs/retail-insights/pkg/cache"
	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/duck"
	"github.com/malbeclabs/retail-insights/pkg/llm"
	"github.com/malbeclabs/retail-insights/pkg/monitor"
	"github.com/malbeclabs/retail-insights/pkg/orchestrator"
	"github.com/malbeclabs/retail-insights/pkg/stats"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticLLM struct{ text string }

func (s staticLLM) Complete(context.Context, string, string, llm.Options) (string, error) {
	return s.text, nil
}

// fakeWorkflow answers every query after spending one metered model call and
// advancing the clock by delay.
type fakeWorkflow struct {
	clock *clockwork.FakeClock
	delay time.Duration
	err   error
	llm   llm.Client

	mu    sync.Mutex
	calls []string
	modes []workflow.Mode
}

func (f *fakeWorkflow) Run(ctx context.Context, query string, mode workflow.Mode) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	f.modes = append(f.modes, mode)
	f.mu.Unlock()

	resp, err := f.llm.Complete(ctx, "", query, llm.Short)
	if err != nil {
		return "", err
	}
	if f.clock != nil {
		f.clock.Advance(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return "answer: " + resp, nil
}

func (f *fakeWorkflow) RunState(ctx context.Context, query string, mode workflow.Mode) (*workflow.State, error) {
	resp, err := f.Run(ctx, query, mode)
	if err != nil {
		return nil, err
	}
	st := workflow.NewState(query, mode)
	st.FinalResponse = resp
	return st, nil
}

type stubCatalog struct {
	result  *catalog.Result
	queries []string
}

func (c *stubCatalog) Schema(context.Context) (catalog.Schema, error) {
	return catalog.Schema{"amazon_sales": {"Amount"}}, nil
}

func (c *stubCatalog) Execute(_ context.Context, sql string) (*catalog.Result, error) {
	c.queries = append(c.queries, sql)
	return c.result, nil
}

func newFakeWorkflow(clock *clockwork.FakeClock) *fakeWorkflow {
	return &fakeWorkflow{
		clock: clock,
		delay: time.Second,
		llm:   llm.NewMetered(staticLLM{text: strings.Repeat("x", 4000)}),
	}
}

func newTestAssistant(t *testing.T, wf assistant.Workflow, withOrchestrator bool, clock clockwork.Clock) (*assistant.Assistant, *monitor.Monitor) {
	t.Helper()
	mon, err := monitor.New(monitor.Config{Logger: testLogger(), Clock: clock})
	require.NoError(t, err)

	cfg := assistant.Config{
		Logger:   testLogger(),
		Workflow: wf,
		Catalog:  &stubCatalog{},
		Monitor:  mon,
		Model:    "gpt-4",
		Clock:    clock,
	}
	if withOrchestrator {
		o, err := orchestrator.New(orchestrator.Config{Logger: testLogger(), Cache: cache.NewMemory()})
		require.NoError(t, err)
		cfg.Orchestrator = o
	}
	a, err := assistant.New(cfg)
	require.NoError(t, err)
	return a, mon
}

func TestAssistant_Config_Validate(t *testing.T) {
	t.Parallel()

	cfg := assistant.Config{}
	require.ErrorContains(t, cfg.Validate(), "logger is required")

	cfg = assistant.Config{Logger: testLogger()}
	require.ErrorContains(t, cfg.Validate(), "workflow is required")

	cfg = assistant.Config{Logger: testLogger(), Workflow: &fakeWorkflow{}}
	require.ErrorContains(t, cfg.Validate(), "catalog is required")

	cfg = assistant.Config{Logger: testLogger(), Workflow: &fakeWorkflow{}, Catalog: &stubCatalog{}}
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Monitor)
	require.NotNil(t, cfg.Clock)
	require.Equal(t, "unknown", cfg.Model)
	require.Equal(t, orchestrator.DefaultTTL, cfg.CacheTTL)
}

func TestAssistant_ProcessQuery_Cached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	wf := newFakeWorkflow(clock)
	a, mon := newTestAssistant(t, wf, true, clock)

	first, err := a.ProcessQuery(ctx, "How many orders?", workflow.ModeQA)
	require.NoError(t, err)
	second, err := a.ProcessQuery(ctx, "How many orders?", workflow.ModeQA)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, wf.calls, 1)

	m := a.GetPerformanceMetrics()
	require.NotNil(t, m)
	require.Equal(t, int64(1), m.CacheHits)
	require.Equal(t, int64(1), m.CacheMisses)
	require.Equal(t, "50.0%", m.HitRateString())

	recs := mon.Records()
	require.Len(t, recs, 2)
	require.Equal(t, time.Second, recs[0].ExecutionTime)
	require.Greater(t, recs[0].Tokens, 1000)
	require.Greater(t, recs[0].EstimatedCost, 0.0)
	require.Zero(t, recs[1].Tokens, "cache hits make no model calls")
	require.Zero(t, recs[1].ExecutionTime)
}

func TestAssistant_ProcessQuery_CacheSeparatesModes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	wf := newFakeWorkflow(clock)
	a, _ := newTestAssistant(t, wf, true, clock)

	_, err := a.ProcessQuery(ctx, "Sales overview", workflow.ModeQA)
	require.NoError(t, err)
	_, err = a.ProcessQuery(ctx, "Sales overview", workflow.ModeSummary)
	require.NoError(t, err)
	_, err = a.ProcessQuery(ctx, "Sales overview", workflow.ModeSummary)
	require.NoError(t, err)

	require.Equal(t, []string{"Sales overview", "Sales overview"}, wf.calls)
	require.Equal(t, []workflow.Mode{workflow.ModeQA, workflow.ModeSummary}, wf.modes)

	m := a.GetPerformanceMetrics()
	require.Equal(t, int64(1), m.CacheHits)
	require.Equal(t, int64(2), m.CacheMisses)
}

func TestAssistant_ProcessQuery_NoOrchestrator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	wf := newFakeWorkflow(clock)
	a, _ := newTestAssistant(t, wf, false, clock)

	for range 2 {
		_, err := a.ProcessQuery(ctx, "q", workflow.ModeQA)
		require.NoError(t, err)
	}
	require.Len(t, wf.calls, 2)
	require.Nil(t, a.GetPerformanceMetrics())
	require.NoError(t, a.ClearCache(ctx))
}

func TestAssistant_ProcessQuery_Error(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	wf := newFakeWorkflow(clock)
	wf.err = fmt.Errorf("failed to synthesize: %w", workflow.ErrLLMUnavailable)
	a, mon := newTestAssistant(t, wf, true, clock)

	_, err := a.ProcessQuery(ctx, "q", workflow.ModeQA)
	require.ErrorIs(t, err, workflow.ErrLLMUnavailable)

	m := a.GetPerformanceMetrics()
	require.Equal(t, int64(1), m.Errors)
	require.Equal(t, int64(1), m.QueriesExecuted)
	require.Len(t, mon.Records(), 1)
}

func TestAssistant_GetSummary(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	wf := newFakeWorkflow(clock)
	a, _ := newTestAssistant(t, wf, true, clock)

	_, err := a.GetSummary(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{assistant.SummaryPrompt}, wf.calls)
	require.Equal(t, []workflow.Mode{workflow.ModeSummary}, wf.modes)
}

func TestAssistant_GetAlerts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	wf := newFakeWorkflow(clock)
	wf.delay = 12 * time.Second
	a, _ := newTestAssistant(t, wf, false, clock)

	require.Empty(t, a.GetAlerts(0, 0))
	_, err := a.ProcessQuery(ctx, "slow question", workflow.ModeQA)
	require.NoError(t, err)

	require.Equal(t, []string{"ALERT: 1 slow queries (>10.0s)"}, a.GetAlerts(0, 0))
	require.Len(t, a.GetAlerts(0.00001, time.Minute), 1)
	require.Equal(t, 1, a.CostSummary().TotalQueries)
}

func TestAssistant_Trace(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	wf := newFakeWorkflow(clock)
	a, mon := newTestAssistant(t, wf, true, clock)

	st, err := a.Trace(context.Background(), "q", workflow.ModeQA)
	require.NoError(t, err)
	require.Equal(t, "q", st.UserQuery)
	require.Equal(t, int64(0), a.GetPerformanceMetrics().TotalRequests, "trace bypasses the cache")
	require.Len(t, mon.Records(), 1)
}

func TestAssistant_Query(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cat := &stubCatalog{result: &catalog.Result{
		Columns: []string{"n"},
		Rows:    []map[string]any{{"n": float64(3)}},
		Count:   1,
	}}
	o, err := orchestrator.New(orchestrator.Config{Logger: testLogger()})
	require.NoError(t, err)
	a, err := assistant.New(assistant.Config{
		Logger:       testLogger(),
		Workflow:     &fakeWorkflow{},
		Catalog:      cat,
		Orchestrator: o,
	})
	require.NoError(t, err)

	// Aggregations are cached.
	for range 2 {
		res, err := a.Query(ctx, "SELECT COUNT(*) AS n FROM amazon_sales")
		require.NoError(t, err)
		require.Equal(t, 1, res.Count)
		require.Equal(t, float64(3), res.Rows[0]["n"])
	}
	require.Equal(t, []string{"SELECT COUNT(*) AS n FROM amazon_sales LIMIT 10000"}, cat.queries)

	// Small bounded scans are not.
	for range 2 {
		_, err := a.Query(ctx, "SELECT * FROM amazon_sales LIMIT 5")
		require.NoError(t, err)
	}
	require.Len(t, cat.queries, 3)
	require.Equal(t, int64(1), o.Metrics().CacheHits)
}

type scriptedLLM struct {
	resolve string
	answer  string
	err     error
}

func (s scriptedLLM) Complete(_ context.Context, system, _ string, _ llm.Options) (string, error) {
	if strings.HasPrefix(system, "You are the query resolution step") {
		return s.resolve, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

func TestAssistant_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := duck.NewDB(ctx, "", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE amazon_sales ("Order ID" VARCHAR, Status VARCHAR, Category VARCHAR, Amount DOUBLE, "ship-state" VARCHAR)`,
		`INSERT INTO amazon_sales VALUES
			('o1', 'Shipped', 'Set', 1000, 'MAHARASHTRA'),
			('o2', 'Shipped', 'Set', 500, 'KARNATAKA'),
			('o3', 'Cancelled', 'kurta', 200, 'MAHARASHTRA')`,
	} {
		_, err := conn.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	require.NoError(t, conn.Close())

	cat, err := catalog.New(catalog.Config{Logger: testLogger(), DB: db})
	require.NoError(t, err)
	sp, err := stats.NewProvider(stats.ProviderConfig{Logger: testLogger(), DB: db})
	require.NoError(t, err)
	t.Cleanup(sp.Close)

	model := llm.NewMetered(scriptedLLM{
		resolve: "```json\n{\"intent\": \"count\", \"query_type\": \"qa\", \"reasoning\": \"count orders\", \"sql_query\": \"SELECT COUNT(*) AS order_count FROM amazon_sales\", \"tables_used\": [\"amazon_sales\"]}\n```",
		err:     errors.New("synthesis should not be needed"),
	})
	wf, err := workflow.New(workflow.Config{Logger: testLogger(), LLM: model, Catalog: cat, Stats: sp})
	require.NoError(t, err)

	o, err := orchestrator.New(orchestrator.Config{Logger: testLogger()})
	require.NoError(t, err)
	a, err := assistant.New(assistant.Config{
		Logger:       testLogger(),
		Workflow:     wf,
		Catalog:      cat,
		Orchestrator: o,
		Model:        "claude-sonnet-4-5-20250929",
	})
	require.NoError(t, err)

	resp, err := a.ProcessQuery(ctx, "How many orders are there?", workflow.ModeQA)
	require.NoError(t, err)
	require.Equal(t, "**order_count:** 3", resp)

	again, err := a.ProcessQuery(ctx, "How many orders are there?", workflow.ModeQA)
	require.NoError(t, err)
	require.Equal(t, resp, again)
	require.Equal(t, int64(1), a.GetPerformanceMetrics().CacheHits)

	schema, err := a.Schema(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"amazon_sales"}, schema.Tables())

	st, err := a.Trace(ctx, "How many orders are there?", workflow.ModeQA)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusPassed, st.Status)
	require.Equal(t, "SELECT COUNT(*) AS order_count FROM amazon_sales", st.SQL)
}
