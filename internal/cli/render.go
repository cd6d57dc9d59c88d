package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/ingest"
	"github.com/malbeclabs/retail-insights/pkg/monitor"
	"github.com/malbeclabs/retail-insights/pkg/orchestrator"
	"github.com/olekukonko/tablewriter"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}

type cacheView struct {
	QueriesExecuted int64  `json:"queries_executed"`
	CacheHits       int64  `json:"cache_hits"`
	CacheMisses     int64  `json:"cache_misses"`
	Errors          int64  `json:"errors"`
	CacheHitRate    string `json:"cache_hit_rate"`
}

type costView struct {
	TotalQueries     int    `json:"total_queries"`
	TotalCost        string `json:"total_cost_usd"`
	AvgExecutionTime string `json:"avg_execution_time"`
	AvgCostPerQuery  string `json:"avg_cost_per_query"`
}

// metricsView is the printable form of the cache counters and cost summary,
// filled either in process or from a running server's /v1/metrics.
type metricsView struct {
	Orchestrator *cacheView `json:"orchestrator"`
	Cost         costView   `json:"cost"`
}

func newMetricsView(m *orchestrator.Metrics, cost monitor.CostSummary) metricsView {
	v := metricsView{Cost: costView{
		TotalQueries:     cost.TotalQueries,
		TotalCost:        cost.TotalCostString(),
		AvgExecutionTime: cost.AvgExecutionTimeString(),
		AvgCostPerQuery:  cost.AvgCostPerQueryString(),
	}}
	if m != nil {
		v.Orchestrator = &cacheView{
			QueriesExecuted: m.QueriesExecuted,
			CacheHits:       m.CacheHits,
			CacheMisses:     m.CacheMisses,
			Errors:          m.Errors,
			CacheHitRate:    m.HitRateString(),
		}
	}
	return v
}

func renderMetrics(w io.Writer, v metricsView) {
	table := newTable(w, []string{"Metric", "Value"})
	if o := v.Orchestrator; o != nil {
		table.Append([]string{"Queries executed", fmt.Sprint(o.QueriesExecuted)})
		table.Append([]string{"Cache hits", fmt.Sprint(o.CacheHits)})
		table.Append([]string{"Cache misses", fmt.Sprint(o.CacheMisses)})
		table.Append([]string{"Errors", fmt.Sprint(o.Errors)})
		table.Append([]string{"Cache hit rate", o.CacheHitRate})
	}
	table.Append([]string{"Total queries", fmt.Sprint(v.Cost.TotalQueries)})
	table.Append([]string{"Total cost", v.Cost.TotalCost})
	table.Append([]string{"Avg execution time", v.Cost.AvgExecutionTime})
	table.Append([]string{"Avg cost per query", v.Cost.AvgCostPerQuery})
	table.Render()
}

func renderAlerts(w io.Writer, alerts []string) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No active alerts")
		return
	}
	for _, a := range alerts {
		fmt.Fprintln(w, a)
	}
}

func renderSchema(w io.Writer, tables []catalog.Table) {
	table := newTable(w, []string{"Table", "Column", "Type"})
	table.SetAutoMergeCells(true)
	table.SetRowLine(true)
	for _, t := range tables {
		for _, c := range t.Columns {
			table.Append([]string{t.Name, c.Name, c.Type})
		}
	}
	table.Render()
}

func renderResult(w io.Writer, res *catalog.Result) {
	table := newTable(w, res.Columns)
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			if v := row[col]; v != nil {
				cells[i] = fmt.Sprint(v)
			} else {
				cells[i] = "NULL"
			}
		}
		table.Append(cells)
	}
	table.SetFooter(footer(len(res.Columns), fmt.Sprintf("%d rows", res.Count)))
	table.Render()
}

func renderIngest(w io.Writer, stats []ingest.TableStats) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].Table < stats[j].Table })
	table := newTable(w, []string{"Table", "Rows", "Status"})
	for _, s := range stats {
		status := "loaded"
		if s.Skipped {
			status = "skipped (file not found)"
		}
		table.Append([]string{s.Table, fmt.Sprint(s.Rows), status})
	}
	table.Render()
}

func footer(n int, text string) []string {
	if n == 0 {
		return nil
	}
	f := make([]string, n)
	f[n-1] = text
	return f
}

func renderMessages(w io.Writer, sql, status string, iteration int) {
	fmt.Fprintf(w, "\n--- trace ---\nstatus: %s  iterations: %d\n", status, iteration)
	if sql != "" {
		fmt.Fprintf(w, "sql:\n%s\n", strings.TrimSpace(sql))
	}
}
