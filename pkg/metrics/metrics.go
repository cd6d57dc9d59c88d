package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retail_insights_build_info",
			Help: "Build information of the retail insights assistant",
		},
		[]string{"version", "commit", "date"},
	)

	WorkflowRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_insights_workflow_runs_total",
			Help: "Total number of workflow invocations by mode and final validation status",
		},
		[]string{"mode", "status"},
	)

	WorkflowStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retail_insights_workflow_stage_duration_seconds",
			Help:    "Duration of workflow stages in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	DirectAnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_insights_direct_answers_total",
			Help: "Total number of answers produced without a model call, by rule",
		},
		[]string{"rule"},
	)

	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_insights_llm_calls_total",
			Help: "Total number of language model calls by synthesis path and outcome",
		},
		[]string{"path", "status"},
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_insights_cache_requests_total",
			Help: "Total number of result cache lookups",
		},
		[]string{"result"},
	)

	QueryCostDollars = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retail_insights_query_cost_dollars_total",
			Help: "Estimated model cost of processed queries in dollars",
		},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_insights_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls",
		},
		[]string{"tool", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retail_insights_mcp_tool_call_duration_seconds",
			Help:    "Duration of MCP tool calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	SlackCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_insights_slack_commands_total",
			Help: "Total number of Slack slash commands by subcommand",
		},
		[]string{"subcommand"},
	)

	PostgresQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_insights_postgres_queries_total",
			Help: "Total number of queries received over the PostgreSQL wire protocol",
		},
		[]string{"kind", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retail_insights_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retail_insights_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retail_insights_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
