package orchestrator

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultTableRows is assumed when no row count is known for a scan.
	DefaultTableRows int64 = 1_000_000

	// CacheRowThreshold is the estimated scan size above which results are
	// worth caching.
	CacheRowThreshold int64 = 10_000

	// ScanLimit is appended to unbounded, ungrouped queries.
	ScanLimit = 10_000
)

var limitRe = regexp.MustCompile(`(?i)LIMIT\s+(\d+)`)

var aggregateKeywords = []string{"SUM", "AVG", "COUNT", "GROUP BY"}

// EstimateRows estimates how many rows sql touches: the value of its LIMIT
// clause when present, otherwise tableRows (or DefaultTableRows when
// tableRows is not positive).
func EstimateRows(sql string, tableRows int64) int64 {
	if m := limitRe.FindStringSubmatch(sql); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return n
		}
	}
	if tableRows <= 0 {
		return DefaultTableRows
	}
	return tableRows
}

// ShouldCache reports whether the result of sql is worth caching: large
// scans and aggregations are.
func ShouldCache(sql string, estimatedRows int64) bool {
	if estimatedRows > CacheRowThreshold {
		return true
	}
	upper := strings.ToUpper(sql)
	for _, kw := range aggregateKeywords {
		if strings.Contains(upper, kw) {
			return true
		}
	}
	return false
}

// RewriteForPerformance bounds queries that have neither a LIMIT nor a
// GROUP BY clause.
func RewriteForPerformance(sql string) string {
	upper := strings.ToUpper(sql)
	if strings.Contains(upper, "LIMIT") || strings.Contains(upper, "GROUP BY") {
		return sql
	}
	sql = strings.TrimRight(strings.TrimSpace(sql), ";")
	return sql + " LIMIT " + strconv.Itoa(ScanLimit)
}
