// Package monitor records per-query latency and token usage and derives cost
// summaries and threshold alerts from them.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultMaxCost    = 100.0
	DefaultMaxLatency = 10 * time.Second

	// alertWindow is the number of most recent records CheckAlerts examines.
	alertWindow = 100
)

// DefaultRates are dollars per 1000 tokens.
var DefaultRates = map[string]float64{
	"gpt-4":             0.03,
	"gpt-3.5-turbo":     0.0015,
	"gemini-pro":        0.00025,
	"claude-sonnet-4-5": 0.003,
	"claude-opus-4-1":   0.015,
	"claude-haiku-4-5":  0.001,
	"claude-3-5-haiku":  0.0008,
}

type Record struct {
	Query         string        `json:"query"`
	ExecutionTime time.Duration `json:"execution_time"`
	Tokens        int           `json:"tokens"`
	Model         string        `json:"model"`
	EstimatedCost float64       `json:"estimated_cost"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// Rates overrides DefaultRates.
	Rates map[string]float64

	// MaxRecords bounds the log; the oldest records are dropped first. Zero
	// keeps every record.
	MaxRecords int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rates == nil {
		cfg.Rates = DefaultRates
	}
	if cfg.MaxRecords < 0 {
		return fmt.Errorf("max records must be non-negative")
	}
	return nil
}

type Monitor struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	records []Record
}

func New(cfg Config) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{cfg: cfg, log: cfg.Logger}, nil
}

// Rate returns the dollars per 1000 tokens for model. Versioned model names
// such as claude-sonnet-4-5-20250929 match their family entry; unknown
// models cost nothing.
func (m *Monitor) Rate(model string) float64 {
	if r, ok := m.cfg.Rates[model]; ok {
		return r
	}
	best, rate := 0, 0.0
	for name, r := range m.cfg.Rates {
		if strings.HasPrefix(model, name+"-") && len(name) > best {
			best, rate = len(name), r
		}
	}
	return rate
}

// Log appends a record for one processed query.
func (m *Monitor) Log(query string, executionTime time.Duration, tokens int, model string) Record {
	rec := Record{
		Query:         query,
		ExecutionTime: executionTime,
		Tokens:        tokens,
		Model:         model,
		EstimatedCost: float64(tokens) / 1000 * m.Rate(model),
		RecordedAt:    m.cfg.Clock.Now(),
	}

	m.mu.Lock()
	m.records = append(m.records, rec)
	if m.cfg.MaxRecords > 0 && len(m.records) > m.cfg.MaxRecords {
		m.records = append(m.records[:0:0], m.records[len(m.records)-m.cfg.MaxRecords:]...)
	}
	m.mu.Unlock()

	m.log.Debug("monitor: query logged", "model", model, "tokens", tokens, "duration", executionTime, "cost", rec.EstimatedCost)
	return rec
}

// Records returns a copy of the log, oldest first.
func (m *Monitor) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

type CostSummary struct {
	TotalQueries     int
	TotalCost        float64
	AvgExecutionTime time.Duration
	AvgCostPerQuery  float64
}

func (s CostSummary) TotalCostString() string {
	return fmt.Sprintf("$%.4f", s.TotalCost)
}

func (s CostSummary) AvgExecutionTimeString() string {
	return fmt.Sprintf("%.2fs", s.AvgExecutionTime.Seconds())
}

// AvgCostPerQueryString is "$0" when nothing has been logged.
func (s CostSummary) AvgCostPerQueryString() string {
	if s.TotalQueries == 0 {
		return "$0"
	}
	return fmt.Sprintf("$%.4f", s.AvgCostPerQuery)
}

func (s CostSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"total_queries":      s.TotalQueries,
		"total_cost_usd":     s.TotalCostString(),
		"avg_execution_time": s.AvgExecutionTimeString(),
		"avg_cost_per_query": s.AvgCostPerQueryString(),
	})
}

func (m *Monitor) CostSummary() CostSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := CostSummary{TotalQueries: len(m.records)}
	var totalTime time.Duration
	for _, r := range m.records {
		s.TotalCost += r.EstimatedCost
		totalTime += r.ExecutionTime
	}
	if s.TotalQueries > 0 {
		s.AvgExecutionTime = totalTime / time.Duration(s.TotalQueries)
		s.AvgCostPerQuery = s.TotalCost / float64(s.TotalQueries)
	}
	return s
}

// CheckAlerts examines the most recent records and returns one message when
// their summed cost exceeds maxCost and one when any of them took longer than
// maxLatency. Non-positive thresholds select the defaults.
func (m *Monitor) CheckAlerts(maxCost float64, maxLatency time.Duration) []string {
	if maxCost <= 0 {
		maxCost = DefaultMaxCost
	}
	if maxLatency <= 0 {
		maxLatency = DefaultMaxLatency
	}

	m.mu.Lock()
	recent := m.records
	if len(recent) > alertWindow {
		recent = recent[len(recent)-alertWindow:]
	}
	var (
		cost float64
		slow int
	)
	for _, r := range recent {
		cost += r.EstimatedCost
		if r.ExecutionTime > maxLatency {
			slow++
		}
	}
	m.mu.Unlock()

	alerts := []string{}
	if cost > maxCost {
		alerts = append(alerts, fmt.Sprintf("ALERT: Cost threshold exceeded: $%.2f > $%s", cost, formatThreshold(maxCost)))
	}
	if slow > 0 {
		alerts = append(alerts, fmt.Sprintf("ALERT: %d slow queries (>%ss)", slow, formatThreshold(maxLatency.Seconds())))
	}
	for _, a := range alerts {
		m.log.Warn("monitor: " + a)
	}
	return alerts
}

// formatThreshold prints the shortest exact representation of v, keeping a
// ".0" on whole numbers (100 prints as 100.0).
func formatThreshold(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
