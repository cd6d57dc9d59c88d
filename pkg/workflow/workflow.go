// Package workflow answers retail questions in four stages: resolution of
// the question into SQL, data extraction, validation and synthesis.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/llm"
	"github.com/malbeclabs/retail-insights/pkg/metrics"
	"github.com/malbeclabs/retail-insights/pkg/stats"
)

// FallbackResponse is returned when synthesis produced no text.
const FallbackResponse = "I apologize, but I couldn't generate a response."

// ErrLLMUnavailable wraps model call failures that end an invocation.
var ErrLLMUnavailable = errors.New("language model unavailable")

// Catalog lists the available tables and executes read-only SQL.
type Catalog interface {
	Schema(ctx context.Context) (catalog.Schema, error)
	Execute(ctx context.Context, sql string) (*catalog.Result, error)
}

// StatsProvider returns the aggregate statistics.
type StatsProvider interface {
	GetSummary(ctx context.Context) (*stats.Summary, error)
}

type Config struct {
	Logger  *slog.Logger
	LLM     llm.Client
	Catalog Catalog
	Stats   StatsProvider
	Prompts *Prompts
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.LLM == nil {
		return fmt.Errorf("LLM client is required")
	}
	if cfg.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if cfg.Stats == nil {
		return fmt.Errorf("stats provider is required")
	}
	if cfg.Prompts == nil {
		prompts, err := LoadPrompts()
		if err != nil {
			return err
		}
		cfg.Prompts = prompts
	}
	return nil
}

type Workflow struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) (*Workflow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Workflow{cfg: cfg, log: cfg.Logger}, nil
}

type stage struct {
	name string
	run  func(context.Context, *State) error
}

// Run answers query and returns the final response. Recoverable conditions
// are absorbed by the stages; any error returned here ends the invocation.
func (w *Workflow) Run(ctx context.Context, query string, mode Mode) (string, error) {
	st, err := w.RunState(ctx, query, mode)
	if err != nil {
		return "", err
	}
	return st.FinalResponse, nil
}

// RunState runs the workflow and returns the final state.
func (w *Workflow) RunState(ctx context.Context, query string, mode Mode) (*State, error) {
	start := time.Now()
	st := NewState(query, mode)
	w.log.Info("workflow: processing query", "mode", mode, "query", query)

	if mode == ModeSummary {
		summary, err := w.cfg.Stats.GetSummary(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get summary statistics: %w", err)
		}
		st.Data = &Statistics{Summary: summary}
	}

	for _, s := range []stage{
		{"resolve", w.Resolve},
		{"extract", w.Extract},
		{"validate", w.Validate},
		{"synthesize", w.Synthesize},
	} {
		stageStart := time.Now()
		err := s.run(ctx, st)
		metrics.WorkflowStageDuration.WithLabelValues(s.name).Observe(time.Since(stageStart).Seconds())
		if err != nil {
			w.log.Error("workflow: stage failed", "stage", s.name, "error", err)
			metrics.WorkflowRunsTotal.WithLabelValues(string(mode), "error").Inc()
			return nil, fmt.Errorf("failed to %s: %w", s.name, err)
		}
		w.log.Debug("workflow: stage complete", "stage", s.name, "duration", time.Since(stageStart))
	}

	if st.FinalResponse == "" {
		st.FinalResponse = FallbackResponse
	}
	metrics.WorkflowRunsTotal.WithLabelValues(string(mode), string(st.Status)).Inc()
	w.log.Info("workflow: query complete", "status", st.Status, "duration", time.Since(start))
	return st, nil
}
