package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/retail-insights/pkg/metrics"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type AskInput struct {
	Query string `json:"query" jsonschema:"the question about the retail datasets"`
	Mode  string `json:"mode,omitempty" jsonschema:"qa (default) or summary"`
}

type AskOutput struct {
	Response string `json:"response"`
}

type EmptyInput struct{}

type QueryInput struct {
	SQL string `json:"sql" jsonschema:"a read-only DuckDB SQL statement"`
}

type QueryOutput struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

// MetricsOutput flattens the cache counters and cost summary into the
// string forms used in reports.
type MetricsOutput struct {
	QueriesExecuted  int64    `json:"queries_executed"`
	CacheHits        int64    `json:"cache_hits"`
	CacheMisses      int64    `json:"cache_misses"`
	CacheHitRate     string   `json:"cache_hit_rate"`
	TotalQueries     int      `json:"total_queries"`
	TotalCost        string   `json:"total_cost_usd"`
	AvgExecutionTime string   `json:"avg_execution_time"`
	AvgCostPerQuery  string   `json:"avg_cost_per_query"`
	Alerts           []string `json:"alerts"`
}

func (s *Server) newMCPServer() (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "Retail Insights",
		Version: s.cfg.Version,
	}, nil)

	if err := addTool(s, server, "ask", `
		Answer a natural-language question about the retail sales, inventory and
		international datasets. Use mode "summary" for an executive summary.
	`, func(ctx context.Context, in AskInput) (AskOutput, error) {
		if strings.TrimSpace(in.Query) == "" {
			return AskOutput{}, errors.New("query is required")
		}
		mode, err := workflow.ParseMode(in.Mode)
		if err != nil {
			return AskOutput{}, err
		}
		text, err := s.assistant.ProcessQuery(ctx, in.Query, mode)
		if err != nil {
			return AskOutput{}, fmt.Errorf("failed to answer question: %w", err)
		}
		return AskOutput{Response: text}, nil
	}); err != nil {
		return nil, err
	}

	if err := addTool(s, server, "summary", "Generate an executive summary of retail performance across all datasets.",
		func(ctx context.Context, _ EmptyInput) (AskOutput, error) {
			text, err := s.assistant.GetSummary(ctx)
			if err != nil {
				return AskOutput{}, fmt.Errorf("failed to generate summary: %w", err)
			}
			return AskOutput{Response: text}, nil
		}); err != nil {
		return nil, err
	}

	if err := addTool(s, server, "schema", "List the dataset tables and their columns. Consult this before writing SQL.",
		func(ctx context.Context, _ EmptyInput) (SchemaResponse, error) {
			schema, err := s.assistant.Schema(ctx)
			if err != nil {
				return SchemaResponse{}, fmt.Errorf("failed to get schema: %w", err)
			}
			return schemaTables(schema), nil
		}); err != nil {
		return nil, err
	}

	if err := addTool(s, server, "query", `
		Execute a read-only DuckDB SQL query over the datasets. Unbounded scans
		are limited to 10000 rows; prefer aggregations.
	`, func(ctx context.Context, in QueryInput) (QueryOutput, error) {
		if strings.TrimSpace(in.SQL) == "" {
			return QueryOutput{}, errors.New("sql is required")
		}
		res, err := s.assistant.Query(ctx, in.SQL)
		if err != nil {
			return QueryOutput{}, fmt.Errorf("failed to execute query: %w", err)
		}
		return QueryOutput{Columns: res.Columns, Rows: res.Rows, Count: res.Count}, nil
	}); err != nil {
		return nil, err
	}

	if err := addTool(s, server, "metrics", "Report cache counters, query cost and active alerts.",
		func(context.Context, EmptyInput) (MetricsOutput, error) {
			cost := s.assistant.CostSummary()
			out := MetricsOutput{
				TotalQueries:     cost.TotalQueries,
				TotalCost:        cost.TotalCostString(),
				AvgExecutionTime: cost.AvgExecutionTimeString(),
				AvgCostPerQuery:  cost.AvgCostPerQueryString(),
				Alerts:           s.assistant.GetAlerts(0, 0),
			}
			if m := s.assistant.GetPerformanceMetrics(); m != nil {
				out.QueriesExecuted = m.QueriesExecuted
				out.CacheHits = m.CacheHits
				out.CacheMisses = m.CacheMisses
				out.CacheHitRate = m.HitRateString()
			}
			return out, nil
		}); err != nil {
		return nil, err
	}

	return server, nil
}

func addTool[In, Out any](s *Server, server *mcp.Server, name, description string, fn func(context.Context, In) (Out, error)) error {
	inSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", name, err)
	}
	outSchema, err := jsonschema.For[Out](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s output schema: %w", name, err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:         name,
		Description:  description,
		InputSchema:  inSchema,
		OutputSchema: outSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.log.Debug("mcp/tool: handling call", "tool", name)

		ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
		out, err := fn(ctx, in)

		metrics.ToolCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
			s.log.Warn("mcp/tool: call failed", "tool", name, "error", err)
			var zero Out
			return nil, zero, err
		}
		metrics.ToolCallsTotal.WithLabelValues(name, "success").Inc()
		return nil, out, nil
	})
	return nil
}
