package workflow

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/retail-insights/pkg/stats"
)

// A rule answers a question straight from the data. format returns false
// when the data lacks what the answer needs, and evaluation moves on.
type rule[T any] struct {
	name   string
	match  func(q string) bool
	format func(q string, data T) (string, bool)
}

var tabularRules = []rule[*Tabular]{
	{
		name:  "single_value",
		match: func(string) bool { return true },
		format: func(_ string, t *Tabular) (string, bool) {
			if t.RowCount != 1 || len(t.Columns) != 1 {
				return "", false
			}
			col := t.Columns[0]
			return fmt.Sprintf("**%s:** %s", col, formatValue(t.Rows[0][col])), true
		},
	},
	{
		name:  "single_row",
		match: func(string) bool { return true },
		format: func(_ string, t *Tabular) (string, bool) {
			if t.RowCount != 1 || len(t.Columns) < 2 {
				return "", false
			}
			lines := []string{"**Result:**"}
			for _, col := range t.Columns {
				lines = append(lines, fmt.Sprintf("• %s: %s", col, formatValue(t.Rows[0][col])))
			}
			return strings.Join(lines, "\n"), true
		},
	},
	{
		name:  "ranked_list",
		match: func(string) bool { return true },
		format: func(_ string, t *Tabular) (string, bool) {
			if t.RowCount < 2 || len(t.Columns) != 2 || !isLabelColumn(t, 0) || !isNumericColumn(t, 1) {
				return "", false
			}
			key, val := t.Columns[0], t.Columns[1]
			lines := []string{fmt.Sprintf("**Top %d by %s:**", t.RowCount, val)}
			for i, row := range t.Rows {
				lines = append(lines, fmt.Sprintf("%d. %s - %s", i+1, formatValue(row[key]), formatValue(row[val])))
			}
			return strings.Join(lines, "\n"), true
		},
	},
	{
		name:  "key_value",
		match: func(string) bool { return true },
		format: func(_ string, t *Tabular) (string, bool) {
			if t.RowCount < 2 || len(t.Columns) != 2 {
				return "", false
			}
			key, val := t.Columns[0], t.Columns[1]
			lines := make([]string, 0, len(t.Rows))
			for _, row := range t.Rows {
				lines = append(lines, fmt.Sprintf("• %s: %s", formatValue(row[key]), formatValue(row[val])))
			}
			return strings.Join(lines, "\n"), true
		},
	},
}

var statisticsRules = []rule[*stats.Summary]{
	{
		name: "top_categories",
		match: func(q string) bool {
			return containsAny(q, "categor", "product", "selling") && containsAny(q, "top", "best", "highest", "5", "five")
		},
		format: func(_ string, s *stats.Summary) (string, bool) {
			if len(s.TopCategories) == 0 {
				return "", false
			}
			lines := []string{"**Top 5 Categories by Revenue:**"}
			for i, c := range s.TopCategories {
				if i == 5 {
					break
				}
				lines = append(lines, fmt.Sprintf("%d. %s - %s (%s orders)", i+1, c.Category, formatRupees(c.Revenue), formatCount(c.OrderCount)))
			}
			return strings.Join(lines, "\n"), true
		},
	},
	{
		name: "top_states",
		match: func(q string) bool {
			return containsAny(q, "top", "best", "highest") && strings.Contains(q, "state")
		},
		format: func(_ string, s *stats.Summary) (string, bool) {
			if len(s.TopStates) == 0 {
				return "", false
			}
			lines := []string{"**Top 5 States by Revenue:**"}
			for i, st := range s.TopStates {
				if i == 5 {
					break
				}
				lines = append(lines, fmt.Sprintf("%d. %s - %s (%s orders)", i+1, st.State, formatRupees(st.Revenue), formatCount(st.OrderCount)))
			}
			return strings.Join(lines, "\n"), true
		},
	},
	{
		name: "highest_state",
		match: func(q string) bool {
			return strings.Contains(q, "which state") && containsAny(q, "highest", "most", "top")
		},
		format: func(_ string, s *stats.Summary) (string, bool) {
			if len(s.TopStates) == 0 {
				return "", false
			}
			st := s.TopStates[0]
			return fmt.Sprintf("**%s** has the highest revenue at %s from %s orders.", st.State, formatRupees(st.Revenue), formatCount(st.OrderCount)), true
		},
	},
	{
		name:  "cancelled_orders",
		match: func(q string) bool { return strings.Contains(q, "cancel") },
		format: func(_ string, s *stats.Summary) (string, bool) {
			st, ok := s.CancelledStatus()
			if !ok {
				return "", false
			}
			return fmt.Sprintf("**%s orders were cancelled** (%s%% of total).", formatCount(st.Count), formatPercent(st.Percentage)), true
		},
	},
	{
		name:  "total_revenue",
		match: func(q string) bool { return containsAny(q, "total revenue", "total sales") },
		format: func(_ string, s *stats.Summary) (string, bool) {
			return fmt.Sprintf("**Total Revenue:** %s from %s orders.", formatRupees(s.AmazonSales.TotalRevenue), formatCount(s.AmazonSales.TotalOrders)), true
		},
	},
	{
		name:  "average_order_value",
		match: func(q string) bool { return strings.Contains(q, "average") && strings.Contains(q, "order") },
		format: func(_ string, s *stats.Summary) (string, bool) {
			return fmt.Sprintf("**Average Order Value:** ₹%s", formatThousands(s.AmazonSales.AvgOrderValue, 2)), true
		},
	},
	{
		name:  "order_count",
		match: func(q string) bool { return strings.Contains(q, "how many") && strings.Contains(q, "order") },
		format: func(_ string, s *stats.Summary) (string, bool) {
			return fmt.Sprintf("**Total Orders:** %s", formatCount(s.AmazonSales.TotalOrders)), true
		},
	},
	{
		name:  "status_distribution",
		match: func(q string) bool { return strings.Contains(q, "status") && strings.Contains(q, "distribution") },
		format: func(_ string, s *stats.Summary) (string, bool) {
			if len(s.StatusDistribution) == 0 {
				return "", false
			}
			lines := []string{"**Order Status Distribution:**"}
			for i, st := range s.StatusDistribution {
				if i == 5 {
					break
				}
				lines = append(lines, fmt.Sprintf("• %s - %s (%s%%)", st.Status, formatCount(st.Count), formatPercent(st.Percentage)))
			}
			return strings.Join(lines, "\n"), true
		},
	},
	{
		name:  "inventory",
		match: func(q string) bool { return containsAny(q, "inventory", "stock") },
		format: func(_ string, s *stats.Summary) (string, bool) {
			inv := s.Inventory
			return fmt.Sprintf("**Inventory:** %s SKUs with %s total units across %d categories.",
				formatCount(inv.TotalSKUs), formatThousands(inv.TotalStock, 0), inv.UniqueCategories), true
		},
	},
}

func applyRules[T any](rules []rule[T], q string, data T) (answer, name string, ok bool) {
	for _, r := range rules {
		if !r.match(q) {
			continue
		}
		if answer, ok := r.format(q, data); ok {
			return answer, r.name, true
		}
	}
	return "", "", false
}

// DirectAnswer formats an answer from the data without a model call. It
// reports false when no rule applies.
func DirectAnswer(query string, data Result) (string, bool) {
	answer, _, ok := directAnswer(query, data)
	return answer, ok
}

func directAnswer(query string, data Result) (answer, rule string, ok bool) {
	q := strings.ToLower(query)
	switch d := data.(type) {
	case *Tabular:
		if answer, name, ok := applyRules(tabularRules, q, d); ok {
			return answer, name, true
		}
	case *Statistics:
		if d.Summary != nil {
			return applyRules(statisticsRules, q, d.Summary)
		}
	}
	return "", "", false
}

func isNumericColumn(t *Tabular, idx int) bool {
	col := t.Columns[idx]
	for _, row := range t.Rows {
		if _, ok := toFloat(row[col]); !ok {
			return false
		}
	}
	return true
}

func isLabelColumn(t *Tabular, idx int) bool {
	col := t.Columns[idx]
	for _, row := range t.Rows {
		if _, ok := row[col].(string); !ok {
			return false
		}
	}
	return true
}
