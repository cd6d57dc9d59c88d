package workflow

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/retail-insights/pkg/stats"
)

const llmContextRows = 20

// formatThousands renders v with comma thousands separators and the given
// number of decimals.
func formatThousands(v float64, decimals int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	b.WriteString(sign)
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	b.WriteString(frac)
	return b.String()
}

func formatCount(n int64) string {
	return formatThousands(float64(n), 0)
}

func formatRupees(v float64) string {
	return "₹" + formatThousands(v, 0)
}

// formatPercent keeps one decimal for whole percentages, so 20 renders as 20.0.
func formatPercent(p float64) string {
	s := strconv.FormatFloat(p, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

type float64er interface {
	Float64() float64
}

// toFloat converts the numeric types returned by the engine.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	case float64er:
		return n.Float64(), true
	default:
		return 0, false
	}
}

// formatValue renders a cell for a direct answer.
func formatValue(v any) string {
	if v == nil {
		return "n/a"
	}
	if f, ok := toFloat(v); ok {
		if f == math.Trunc(f) {
			return formatThousands(f, 0)
		}
		return formatThousands(f, 2)
	}
	switch t := v.(type) {
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.DateTime)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatValueForLLM renders a cell for a prompt. Long values are truncated.
func formatValueForLLM(v any) string {
	if f, ok := toFloat(v); ok {
		if f == math.Trunc(f) {
			return strconv.FormatFloat(f, 'f', 0, 64)
		}
		return strconv.FormatFloat(f, 'f', 2, 64)
	}
	if v == nil {
		return ""
	}
	s := formatValue(v)
	if len(s) > 100 {
		s = s[:97] + "..."
	}
	return s
}

// FormatRows renders up to limit rows of a tabular result for a prompt.
func FormatRows(t *Tabular, limit int) string {
	if t.RowCount == 0 {
		return "Query returned no results."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Columns: %s\n", strings.Join(t.Columns, ", ")))
	sb.WriteString(fmt.Sprintf("Rows (%d total):\n", t.RowCount))
	for i := 0; i < limit && i < len(t.Rows); i++ {
		values := make([]string, len(t.Columns))
		for j, col := range t.Columns {
			values[j] = formatValueForLLM(t.Rows[i][col])
		}
		sb.WriteString(strings.Join(values, " | ") + "\n")
	}
	if t.RowCount > limit {
		sb.WriteString(fmt.Sprintf("... and %d more rows\n", t.RowCount-limit))
	}
	return sb.String()
}

// ConciseStatistics projects the statistics onto the parts a question
// mentions, for the short answer prompt.
func ConciseStatistics(query string, s *stats.Summary) string {
	q := strings.ToLower(query)
	parts := []string{
		fmt.Sprintf("Sales: %s orders, %s revenue, %s avg order",
			formatCount(s.AmazonSales.TotalOrders),
			formatRupees(s.AmazonSales.TotalRevenue),
			formatRupees(s.AmazonSales.AvgOrderValue)),
	}

	if containsAny(q, "categor", "product", "selling", "top") {
		parts = append(parts, "Top Categories: "+categoryList(s.TopCategories, 5))
	}
	if containsAny(q, "state", "region", "where", "location") {
		parts = append(parts, "Top States: "+stateList(s.TopStates, 5))
	}
	if containsAny(q, "status", "cancel", "deliver", "ship") {
		statuses := make([]string, 0, 5)
		for i, st := range s.StatusDistribution {
			if i == 5 {
				break
			}
			statuses = append(statuses, fmt.Sprintf("%s: %s (%s%%)", st.Status, formatCount(st.Count), formatPercent(st.Percentage)))
		}
		parts = append(parts, "Order Status: "+strings.Join(statuses, ", "))
	}
	if containsAny(q, "inventory", "stock", "sku") {
		parts = append(parts, fmt.Sprintf("Inventory: %s SKUs, %s units",
			formatCount(s.Inventory.TotalSKUs), formatThousands(s.Inventory.TotalStock, 0)))
	}

	if len(parts) <= 1 {
		parts = append(parts,
			"Top Categories: "+categoryList(s.TopCategories, 5),
			"Top States: "+stateList(s.TopStates, 3))
	}
	return strings.Join(parts, " | ")
}

func categoryList(cats []stats.CategoryRevenue, n int) string {
	out := make([]string, 0, n)
	for i, c := range cats {
		if i == n {
			break
		}
		out = append(out, fmt.Sprintf("%s: %s", c.Category, formatRupees(c.Revenue)))
	}
	return strings.Join(out, ", ")
}

func stateList(states []stats.StateRevenue, n int) string {
	out := make([]string, 0, n)
	for i, s := range states {
		if i == n {
			break
		}
		out = append(out, fmt.Sprintf("%s: %s", s.State, formatRupees(s.Revenue)))
	}
	return strings.Join(out, ", ")
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
