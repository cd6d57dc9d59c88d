package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/monitor"
	"github.com/malbeclabs/retail-insights/pkg/orchestrator"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
)

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestID tags each request with an ID, reusing the caller's when present.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type AskRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	Trace bool   `json:"trace,omitempty"`
}

type AskResponse struct {
	RequestID string `json:"request_id"`
	Mode      string `json:"mode"`
	Response  string `json:"response"`
	Trace     *Trace `json:"trace,omitempty"`
}

// Trace is the final workflow state of a traced question.
type Trace struct {
	SQL       string             `json:"sql"`
	Status    string             `json:"status"`
	Iteration int                `json:"iteration"`
	Messages  []workflow.Message `json:"messages"`
	Data      workflow.Result    `json:"data,omitempty"`
}

type QueryRequest struct {
	SQL string `json:"sql"`
}

type MetricsResponse struct {
	Orchestrator *orchestrator.Metrics `json:"orchestrator"`
	Cost         monitor.CostSummary   `json:"cost"`
}

type errorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		s.writeError(w, r, http.StatusBadRequest, "query is required")
		return
	}
	mode, err := workflow.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	resp := AskResponse{RequestID: requestIDFrom(ctx), Mode: string(mode)}
	if req.Trace {
		st, err := s.assistant.Trace(ctx, req.Query, mode)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		resp.Response = st.FinalResponse
		resp.Trace = &Trace{
			SQL:       st.SQL,
			Status:    string(st.Status),
			Iteration: st.Iteration,
			Messages:  st.Messages,
			Data:      st.Data,
		}
	} else {
		text, err := s.assistant.ProcessQuery(ctx, req.Query, mode)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		resp.Response = text
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	text, err := s.assistant.GetSummary(ctx)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, AskResponse{
		RequestID: requestIDFrom(ctx),
		Mode:      string(workflow.ModeSummary),
		Response:  text,
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := s.assistant.Schema(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schemaTables(schema))
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		s.writeError(w, r, http.StatusBadRequest, "sql is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	res, err := s.assistant.Query(ctx, req.SQL)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, MetricsResponse{
		Orchestrator: s.assistant.GetPerformanceMetrics(),
		Cost:         s.assistant.CostSummary(),
	})
}

// handleAlerts reads max_cost (dollars) and max_latency (seconds) from the
// query string; missing values select the monitor defaults.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	maxCost, err := parseFloatParam(r, "max_cost")
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid max_cost")
		return
	}
	maxLatency, err := parseFloatParam(r, "max_latency")
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid max_latency")
		return
	}
	alerts := s.assistant.GetAlerts(maxCost, time.Duration(maxLatency*float64(time.Second)))
	s.writeJSON(w, http.StatusOK, map[string][]string{"alerts": alerts})
}

func parseFloatParam(r *http.Request, name string) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, errors.New("invalid value")
	}
	return f, nil
}

type SchemaTable struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type SchemaResponse struct {
	Tables []SchemaTable `json:"tables"`
}

func schemaTables(schema catalog.Schema) SchemaResponse {
	resp := SchemaResponse{Tables: make([]SchemaTable, 0, len(schema))}
	for _, name := range schema.Tables() {
		resp.Tables = append(resp.Tables, SchemaTable{Name: name, Columns: schema[name]})
	}
	return resp
}

// writeFailure maps an assistant error to a status code. Query errors are
// the caller's and are reported verbatim; everything else is logged and
// reported generically.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var qerr *catalog.QueryError
	switch {
	case errors.As(err, &qerr), errors.Is(err, catalog.ErrNotReadOnly):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, workflow.ErrLLMUnavailable):
		s.writeError(w, r, http.StatusServiceUnavailable, "language model unavailable")
	default:
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
	s.log.Error("server: request failed", "path", r.URL.Path, "request_id", requestIDFrom(r.Context()), "error", err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{RequestID: requestIDFrom(r.Context()), Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("server: failed to write response", "error", err)
	}
}
