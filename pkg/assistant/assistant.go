// Package assistant is the caller-facing entry point. It runs the workflow
// behind the result cache and records every processed query with the
// performance monitor.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/llm"
	"github.com/malbeclabs/retail-insights/pkg/metrics"
	"github.com/malbeclabs/retail-insights/pkg/monitor"
	"github.com/malbeclabs/retail-insights/pkg/orchestrator"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
)

// SummaryPrompt is the query GetSummary runs in summary mode.
const SummaryPrompt = "Generate a comprehensive summary of retail performance across all datasets"

const rawQueryPrefix = "sql:"

type Workflow interface {
	Run(ctx context.Context, query string, mode workflow.Mode) (string, error)
	RunState(ctx context.Context, query string, mode workflow.Mode) (*workflow.State, error)
}

type Config struct {
	Logger   *slog.Logger
	Workflow Workflow
	Catalog  workflow.Catalog

	// Orchestrator is optional. Without one every query runs the workflow
	// and GetPerformanceMetrics returns nil.
	Orchestrator *orchestrator.Orchestrator
	Monitor      *monitor.Monitor

	// Model names the model for cost estimation.
	Model    string
	CacheTTL time.Duration
	Clock    clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Workflow == nil {
		return fmt.Errorf("workflow is required")
	}
	if cfg.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Monitor == nil {
		m, err := monitor.New(monitor.Config{Logger: cfg.Logger, Clock: cfg.Clock})
		if err != nil {
			return err
		}
		cfg.Monitor = m
	}
	if cfg.Model == "" {
		cfg.Model = "unknown"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = orchestrator.DefaultTTL
	}
	return nil
}

type Assistant struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Assistant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assistant{cfg: cfg, log: cfg.Logger}, nil
}

// ProcessQuery answers text in the given mode. Identical text in the same
// mode is served from the cache when an orchestrator is configured.
func (a *Assistant) ProcessQuery(ctx context.Context, text string, mode workflow.Mode) (string, error) {
	ctx, usage := llm.WithUsage(ctx)
	start := a.cfg.Clock.Now()

	exec := func(ctx context.Context, _ string) ([]byte, error) {
		resp, err := a.cfg.Workflow.Run(ctx, text, mode)
		if err != nil {
			return nil, err
		}
		return []byte(resp), nil
	}

	var (
		out []byte
		err error
	)
	if a.cfg.Orchestrator != nil {
		out, err = a.cfg.Orchestrator.ExecuteWithCache(ctx, cacheKey(mode, text), exec, a.cfg.CacheTTL)
	} else {
		out, err = exec(ctx, text)
	}

	a.record(text, a.cfg.Clock.Since(start), usage)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// cacheKey namespaces workflow answers by mode. Modes never equal the raw
// SQL prefix, so the two paths cannot share entries.
func cacheKey(mode workflow.Mode, text string) string {
	return string(mode) + ":" + text
}

// GetSummary produces an executive summary across every dataset.
func (a *Assistant) GetSummary(ctx context.Context) (string, error) {
	return a.ProcessQuery(ctx, SummaryPrompt, workflow.ModeSummary)
}

// Trace runs the workflow without the cache and returns the final state.
func (a *Assistant) Trace(ctx context.Context, text string, mode workflow.Mode) (*workflow.State, error) {
	ctx, usage := llm.WithUsage(ctx)
	start := a.cfg.Clock.Now()
	st, err := a.cfg.Workflow.RunState(ctx, text, mode)
	a.record(text, a.cfg.Clock.Since(start), usage)
	return st, err
}

// GetPerformanceMetrics returns the orchestrator counters, or nil when no
// orchestrator is configured.
func (a *Assistant) GetPerformanceMetrics() *orchestrator.Metrics {
	if a.cfg.Orchestrator == nil {
		return nil
	}
	m := a.cfg.Orchestrator.Metrics()
	return &m
}

// GetAlerts checks the recent query log against the thresholds.
// Non-positive values select the monitor defaults.
func (a *Assistant) GetAlerts(maxCost float64, maxLatency time.Duration) []string {
	return a.cfg.Monitor.CheckAlerts(maxCost, maxLatency)
}

func (a *Assistant) CostSummary() monitor.CostSummary {
	return a.cfg.Monitor.CostSummary()
}

func (a *Assistant) Schema(ctx context.Context) (catalog.Schema, error) {
	return a.cfg.Catalog.Schema(ctx)
}

// Query runs read-only SQL directly against the catalog. Unbounded scans are
// limited first, and results worth keeping are cached.
func (a *Assistant) Query(ctx context.Context, sql string) (*catalog.Result, error) {
	sql = orchestrator.RewriteForPerformance(sql)
	if a.cfg.Orchestrator == nil || !orchestrator.ShouldCache(sql, orchestrator.EstimateRows(sql, 0)) {
		return a.cfg.Catalog.Execute(ctx, sql)
	}
	return orchestrator.Execute(ctx, a.cfg.Orchestrator, rawQueryPrefix+sql,
		func(ctx context.Context, q string) (*catalog.Result, error) {
			return a.cfg.Catalog.Execute(ctx, q[len(rawQueryPrefix):])
		}, a.cfg.CacheTTL)
}

// ClearCache drops cached results.
func (a *Assistant) ClearCache(ctx context.Context) error {
	if a.cfg.Orchestrator == nil {
		return nil
	}
	return a.cfg.Orchestrator.Clear(ctx)
}

func (a *Assistant) record(text string, elapsed time.Duration, usage *llm.Usage) {
	rec := a.cfg.Monitor.Log(text, elapsed, int(usage.Tokens()), a.cfg.Model)
	metrics.QueryCostDollars.Add(rec.EstimatedCost)
}
