package workflow

import (
	"math/big"
	"testing"

	"github.com/malbeclabs/retail-insights/pkg/stats"
	"github.com/stretchr/testify/require"
)

func TestWorkflow_DirectAnswer_Statistics(t *testing.T) {
	t.Parallel()

	data := &Statistics{Summary: sampleSummary()}
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "top categories",
			query: "Show me the best selling categories",
			want:  "**Top 5 Categories by Revenue:**\n1. Set - ₹39,204,124 (45,289 orders)\n2. kurta - ₹21,299,547 (45,045 orders)",
		},
		{
			name:  "top states",
			query: "Top states by revenue",
			want:  "**Top 5 States by Revenue:**\n1. MAHARASHTRA - ₹13,335,534 (20,305 orders)\n2. KARNATAKA - ₹10,481,114 (15,815 orders)",
		},
		{
			name:  "which state",
			query: "Which state brings in the most money?",
			want:  "**MAHARASHTRA** has the highest revenue at ₹13,335,534 from 20,305 orders.",
		},
		{
			name:  "cancellations",
			query: "How many orders got cancelled?",
			want:  "**18,332 orders were cancelled** (14.21% of total).",
		},
		{
			name:  "total sales",
			query: "what were total sales",
			want:  "**Total Revenue:** ₹78,592,678 from 128,975 orders.",
		},
		{
			name:  "average order value",
			query: "What's the average order value?",
			want:  "**Average Order Value:** ₹648.56",
		},
		{
			name:  "order count",
			query: "How many orders do we have?",
			want:  "**Total Orders:** 128,975",
		},
		{
			name:  "status distribution",
			query: "order status distribution",
			want:  "**Order Status Distribution:**\n• Shipped - 77,804 (60.33%)\n• Cancelled - 18,332 (14.21%)",
		},
		{
			name:  "inventory",
			query: "How much stock is on hand?",
			want:  "**Inventory:** 9,271 SKUs with 254,686 total units across 9 categories.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DirectAnswer(tt.query, data)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestWorkflow_DirectAnswer_RulesNeedTheirData(t *testing.T) {
	t.Parallel()

	empty := &Statistics{Summary: &stats.Summary{}}

	// The category rule matches but has no data, so evaluation continues
	// and nothing else matches.
	_, ok := DirectAnswer("top 5 products", empty)
	require.False(t, ok)

	// The cancellation rule has no cancelled status; the order count rule is next.
	got, ok := DirectAnswer("how many orders were cancelled", empty)
	require.True(t, ok)
	require.Equal(t, "**Total Orders:** 0", got)

	_, ok = DirectAnswer("why did sales dip in april", &Statistics{Summary: sampleSummary()})
	require.False(t, ok)

	_, ok = DirectAnswer("total revenue", &Failed{Error: "x"})
	require.False(t, ok)
}

func TestWorkflow_DirectAnswer_Tabular(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data *Tabular
		want string
		ok   bool
	}{
		{
			name: "single value",
			data: &Tabular{Columns: []string{"total_revenue"}, RowCount: 1, Rows: []map[string]any{{"total_revenue": 1234567.0}}},
			want: "**total_revenue:** 1,234,567",
			ok:   true,
		},
		{
			name: "single row",
			data: &Tabular{Columns: []string{"orders", "avg"}, RowCount: 1, Rows: []map[string]any{{"orders": int64(222), "avg": 648.556}}},
			want: "**Result:**\n• orders: 222\n• avg: 648.56",
			ok:   true,
		},
		{
			name: "ranked list",
			data: &Tabular{Columns: []string{"Category", "revenue"}, RowCount: 2, Rows: []map[string]any{
				{"Category": "Set", "revenue": big.NewInt(39204124)},
				{"Category": "kurta", "revenue": 21299546.7},
			}},
			want: "**Top 2 by revenue:**\n1. Set - 39,204,124\n2. kurta - 21,299,546.70",
			ok:   true,
		},
		{
			name: "key value",
			data: &Tabular{Columns: []string{"Status", "B2B"}, RowCount: 2, Rows: []map[string]any{
				{"Status": "Shipped", "B2B": true},
				{"Status": "Pending", "B2B": nil},
			}},
			want: "• Shipped: true\n• Pending: n/a",
			ok:   true,
		},
		{
			name: "wide result goes to the model",
			data: &Tabular{Columns: []string{"a", "b", "c"}, RowCount: 2, Rows: []map[string]any{{"a": 1}, {"a": 2}}},
			ok:   false,
		},
		{
			name: "empty result",
			data: &Tabular{Columns: []string{}, Rows: []map[string]any{}},
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := DirectAnswer("total revenue", tt.data)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestWorkflow_DirectAnswer_TabularSkipsStatisticsRules(t *testing.T) {
	t.Parallel()

	wide := &Tabular{
		Columns:  []string{"Category", "State", "revenue"},
		RowCount: 2,
		Rows: []map[string]any{
			{"Category": "Set", "State": "KERALA", "revenue": 10.0},
			{"Category": "kurta", "State": "GOA", "revenue": 5.0},
		},
	}
	for _, q := range []string{
		"total revenue by category and state",
		"how many orders per state",
		"average order value by state",
		"inventory by category",
		"top 5 categories in each state",
	} {
		got, rule, ok := directAnswer(q, wide)
		require.False(t, ok, q)
		require.Empty(t, rule, q)
		require.Empty(t, got, q)
	}
}

func TestWorkflow_FormatThousands(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0", formatThousands(0, 0))
	require.Equal(t, "999", formatThousands(999, 0))
	require.Equal(t, "1,000", formatThousands(1000, 0))
	require.Equal(t, "1,234,567", formatThousands(1234567.4, 0))
	require.Equal(t, "-12,345.50", formatThousands(-12345.5, 2))
	require.Equal(t, "648.56", formatThousands(648.555555, 2))
	require.Equal(t, "20.0", formatPercent(20))
	require.Equal(t, "14.21", formatPercent(14.21))
}

func TestWorkflow_ConciseStatistics(t *testing.T) {
	t.Parallel()

	s := sampleSummary()

	got := ConciseStatistics("Which region ships the most?", s)
	require.Equal(t,
		"Sales: 128,975 orders, ₹78,592,678 revenue, ₹649 avg order"+
			" | Top States: MAHARASHTRA: ₹13,335,534, KARNATAKA: ₹10,481,114"+
			" | Order Status: Shipped: 77,804 (60.33%), Cancelled: 18,332 (14.21%)",
		got)

	got = ConciseStatistics("anything else?", s)
	require.Equal(t,
		"Sales: 128,975 orders, ₹78,592,678 revenue, ₹649 avg order"+
			" | Top Categories: Set: ₹39,204,124, kurta: ₹21,299,547"+
			" | Top States: MAHARASHTRA: ₹13,335,534, KARNATAKA: ₹10,481,114",
		got)

	got = ConciseStatistics("sku inventory levels", s)
	require.Contains(t, got, "Inventory: 9,271 SKUs, 254,686 units")
}

func TestWorkflow_ParseResolution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantSQL string
		wantErr bool
	}{
		{"raw object", `{"sql_query": "SELECT 1", "reasoning": "r"}`, "SELECT 1", false},
		{"json fence", "Here you go:\n```json\n{\"sql_query\": \" SELECT 2 \"}\n```", "SELECT 2", false},
		{"bare fence", "```\n{\"sql_query\": \"SELECT 3\"}\n```", "SELECT 3", false},
		{"prose around object", `Sure! {"sql_query": "SELECT '}' AS brace"} hope that helps`, "SELECT '}' AS brace", false},
		{"no object", "I don't know", "", true},
		{"truncated", `{"sql_query": "SELECT`, "", true},
		{"wrong types", `{"sql_query": 42}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := ParseResolution(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantSQL, res.SQL)
		})
	}
}
