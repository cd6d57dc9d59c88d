// Package stats computes the fixed-shape aggregate statistics used as the
// default dataset for summaries and as the fallback context for questions.
package stats

type SalesTotals struct {
	TotalOrders      int64   `json:"total_orders"`
	UniqueOrders     int64   `json:"unique_orders"`
	TotalRevenue     float64 `json:"total_revenue"`
	AvgOrderValue    float64 `json:"avg_order_value"`
	UniqueCategories int64   `json:"unique_categories"`
	UniqueStates     int64   `json:"unique_states"`
}

type CategoryRevenue struct {
	Category   string  `json:"Category"`
	OrderCount int64   `json:"order_count"`
	Revenue    float64 `json:"revenue"`
}

type StateRevenue struct {
	State      string  `json:"state"`
	OrderCount int64   `json:"order_count"`
	Revenue    float64 `json:"revenue"`
}

type StatusShare struct {
	Status     string  `json:"Status"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type InternationalTotals struct {
	TotalTransactions int64   `json:"total_transactions"`
	TotalPieces       float64 `json:"total_pieces"`
	TotalRevenue      float64 `json:"total_revenue"`
	UniqueCustomers   int64   `json:"unique_customers"`
}

type InventoryTotals struct {
	TotalSKUs        int64   `json:"total_skus"`
	TotalStock       float64 `json:"total_stock"`
	UniqueCategories int64   `json:"unique_categories"`
	UniqueColors     int64   `json:"unique_colors"`
}

// Summary is the aggregate statistics record. Sections that could not be
// computed hold zero values.
type Summary struct {
	AmazonSales        SalesTotals         `json:"amazon_sales"`
	TopCategories      []CategoryRevenue   `json:"top_categories"`
	TopStates          []StateRevenue      `json:"top_states"`
	StatusDistribution []StatusShare       `json:"status_distribution"`
	InternationalSales InternationalTotals `json:"international_sales"`
	Inventory          InventoryTotals     `json:"inventory"`
}

// CancelledStatus returns the first status whose name mentions cancellation.
func (s *Summary) CancelledStatus() (StatusShare, bool) {
	for _, st := range s.StatusDistribution {
		if containsFold(st.Status, "cancel") {
			return st, true
		}
	}
	return StatusShare{}, false
}
