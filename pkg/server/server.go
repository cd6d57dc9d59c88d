// Package server exposes the assistant over HTTP (JSON API, MCP and a Slack
// slash command) and over the PostgreSQL wire protocol.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	wire "github.com/jeroenrinzema/psql-wire"
	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/metrics"
	"github.com/malbeclabs/retail-insights/pkg/monitor"
	"github.com/malbeclabs/retail-insights/pkg/orchestrator"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Assistant is the surface the server exposes.
type Assistant interface {
	ProcessQuery(ctx context.Context, text string, mode workflow.Mode) (string, error)
	GetSummary(ctx context.Context) (string, error)
	Trace(ctx context.Context, text string, mode workflow.Mode) (*workflow.State, error)
	GetPerformanceMetrics() *orchestrator.Metrics
	GetAlerts(maxCost float64, maxLatency time.Duration) []string
	CostSummary() monitor.CostSummary
	Schema(ctx context.Context) (catalog.Schema, error)
	Query(ctx context.Context, sql string) (*catalog.Result, error)
}

type Server struct {
	log              *slog.Logger
	cfg              Config
	assistant        Assistant
	httpSrv          *http.Server
	httpListener     net.Listener
	mcp              *mcp.Server
	psqlSrv          *wire.Server
	postgresListener net.Listener

	// background tracks Slack responses still being generated.
	background sync.WaitGroup
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:          cfg.Logger,
		cfg:          cfg,
		assistant:    cfg.Assistant,
		httpListener: cfg.HTTPListener,
	}

	mcpServer, err := s.newMCPServer()
	if err != nil {
		return nil, err
	}
	s.mcp = mcpServer

	s.httpSrv = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	if cfg.PostgresListener != nil {
		if len(cfg.PostgresAccounts) > 0 {
			s.log.Info("server: postgres authentication enabled", "account_count", len(cfg.PostgresAccounts))
		} else {
			s.log.Info("server: postgres authentication disabled (no accounts configured)")
		}
		psqlSrv, err := wire.NewServer(
			s.queryHandler,
			wire.Logger(s.log),
			wire.SessionAuthStrategy(createAuthStrategy(s.log, cfg.PostgresAccounts)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL wire server: %w", err)
		}
		s.psqlSrv = psqlSrv
		s.postgresListener = cfg.PostgresListener
	}

	return s, nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})
	r.Get("/readyz", s.readyzHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requestID)
		r.Post("/ask", s.handleAsk)
		r.Get("/summary", s.handleSummary)
		r.Get("/schema", s.handleSchema)
		r.Post("/query", s.handleQuery)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/alerts", s.handleAlerts)
	})

	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{Stateless: true}))

	if s.cfg.SlackSigningSecret != "" {
		r.Post("/slack/command", s.handleSlackCommand)
	}
	return r
}

func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 2)

	go func() {
		if err := s.httpSrv.Serve(s.httpListener); err != nil && err != http.ErrServerClosed {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()
	s.log.Info("server: http listening", "address", s.httpListener.Addr())

	if s.psqlSrv != nil {
		go func() {
			if err := s.psqlSrv.Serve(s.postgresListener); err != nil {
				s.log.Error("server: postgres wire server error", "error", err)
				serveErrCh <- fmt.Errorf("failed to serve PostgreSQL: %w", err)
			}
		}()
		s.log.Info("server: postgres wire protocol listening", "address", s.postgresListener.Addr())
	}

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")

		if s.psqlSrv != nil {
			if err := s.psqlSrv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to shutdown PostgreSQL wire server: %w", err)
			}
			s.log.Info("server: postgres wire server shutdown complete")
		}

		done := make(chan struct{})
		go func() {
			s.background.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.log.Warn("server: background responses still running at shutdown")
		}
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: server error causing shutdown", "error", err)
		return err
	}
}

// readyzHandler reports ready once at least one dataset table is loaded.
func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	schema, err := s.assistant.Schema(r.Context())
	if err != nil || len(schema) == 0 {
		s.log.Debug("readyz: no datasets loaded", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("no datasets loaded\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}
