package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jellydator/ttlcache/v3"
	"github.com/malbeclabs/retail-insights/pkg/duck"
)

const (
	defaultCacheTTL       = 5 * time.Minute
	defaultMaxConcurrency = 4

	summaryCacheKey = "summary"

	topCategoriesLimit = 5
	topStatesLimit     = 10
)

type ProviderConfig struct {
	Logger *slog.Logger
	DB     duck.DB

	// CacheTTL bounds how long a computed summary is reused. Negative disables caching.
	CacheTTL       time.Duration
	MaxConcurrency int
}

func (cfg *ProviderConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	return nil
}

type Provider struct {
	log   *slog.Logger
	cfg   ProviderConfig
	pool  pond.Pool
	cache *ttlcache.Cache[string, *Summary]

	computeMu sync.Mutex
}

func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Provider{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewPool(cfg.MaxConcurrency),
	}
	if cfg.CacheTTL > 0 {
		p.cache = ttlcache.New(
			ttlcache.WithTTL[string, *Summary](cfg.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *Summary](),
		)
	}
	return p, nil
}

// GetSummary returns the aggregate statistics, computing them when no cached
// copy is available. Each section is computed independently; a failing
// section is logged and left at its zero value. An error is returned only
// when no section could be computed.
func (p *Provider) GetSummary(ctx context.Context) (*Summary, error) {
	if s := p.cached(); s != nil {
		return s, nil
	}

	p.computeMu.Lock()
	defer p.computeMu.Unlock()
	if s := p.cached(); s != nil {
		return s, nil
	}

	start := time.Now()
	summary, err := p.compute(ctx)
	if err != nil {
		return nil, err
	}
	p.log.Debug("stats: summary computed", "duration", time.Since(start))

	if p.cache != nil {
		p.cache.Set(summaryCacheKey, summary, ttlcache.DefaultTTL)
	}
	return summary, nil
}

// Invalidate drops the cached summary, e.g. after datasets are reloaded.
func (p *Provider) Invalidate() {
	if p.cache != nil {
		p.cache.Delete(summaryCacheKey)
	}
}

func (p *Provider) Close() {
	p.pool.StopAndWait()
}

func (p *Provider) cached() *Summary {
	if p.cache == nil {
		return nil
	}
	item := p.cache.Get(summaryCacheKey)
	if item == nil {
		return nil
	}
	return item.Value()
}

type section struct {
	name string
	fn   func(ctx context.Context, conn duck.Connection, s *Summary) error
}

var sections = []section{
	{"amazon_sales", querySalesTotals},
	{"top_categories", queryTopCategories},
	{"top_states", queryTopStates},
	{"status_distribution", queryStatusDistribution},
	{"international_sales", queryInternational},
	{"inventory", queryInventory},
}

func (p *Provider) compute(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		TopCategories:      []CategoryRevenue{},
		TopStates:          []StateRevenue{},
		StatusDistribution: []StatusShare{},
	}

	var (
		mu       sync.Mutex
		failures []error
	)
	group := p.pool.NewGroupContext(ctx)
	for _, sec := range sections {
		group.Submit(func() {
			// Sections write disjoint fields of a private copy, merged under mu.
			var partial Summary
			err := p.runSection(ctx, sec, &partial)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				p.log.Warn("stats: section failed", "section", sec.name, "error", err)
				failures = append(failures, fmt.Errorf("%s: %w", sec.name, err))
				return
			}
			merge(summary, &partial, sec.name)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute summary: %w", err)
	}

	if len(failures) == len(sections) {
		return nil, fmt.Errorf("failed to compute summary: %w", errors.Join(failures...))
	}
	return summary, nil
}

func (p *Provider) runSection(ctx context.Context, sec section, s *Summary) error {
	conn, err := p.cfg.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()
	return sec.fn(ctx, conn, s)
}

func merge(dst, src *Summary, name string) {
	switch name {
	case "amazon_sales":
		dst.AmazonSales = src.AmazonSales
	case "top_categories":
		dst.TopCategories = src.TopCategories
	case "top_states":
		dst.TopStates = src.TopStates
	case "status_distribution":
		dst.StatusDistribution = src.StatusDistribution
	case "international_sales":
		dst.InternationalSales = src.InternationalSales
	case "inventory":
		dst.Inventory = src.Inventory
	}
}

func querySalesTotals(ctx context.Context, conn duck.Connection, s *Summary) error {
	row := conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT "Order ID"),
			COALESCE(SUM(Amount), 0),
			COALESCE(AVG(Amount), 0),
			COUNT(DISTINCT Category),
			COUNT(DISTINCT "ship-state")
		FROM amazon_sales
		WHERE Amount IS NOT NULL`)
	t := &s.AmazonSales
	var revenue, avg sql.NullFloat64
	if err := row.Scan(&t.TotalOrders, &t.UniqueOrders, &revenue, &avg, &t.UniqueCategories, &t.UniqueStates); err != nil {
		return err
	}
	t.TotalRevenue = revenue.Float64
	t.AvgOrderValue = avg.Float64
	return nil
}

func queryTopCategories(ctx context.Context, conn duck.Connection, s *Summary) error {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT Category, COUNT(*) AS order_count, COALESCE(SUM(Amount), 0) AS revenue
		FROM amazon_sales
		WHERE Amount IS NOT NULL AND Category IS NOT NULL
		GROUP BY Category
		ORDER BY revenue DESC
		LIMIT %d`, topCategoriesLimit))
	if err != nil {
		return err
	}
	defer rows.Close()

	s.TopCategories = []CategoryRevenue{}
	for rows.Next() {
		var c CategoryRevenue
		if err := rows.Scan(&c.Category, &c.OrderCount, &c.Revenue); err != nil {
			return err
		}
		s.TopCategories = append(s.TopCategories, c)
	}
	return rows.Err()
}

func queryTopStates(ctx context.Context, conn duck.Connection, s *Summary) error {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT "ship-state" AS state, COUNT(*) AS order_count, COALESCE(SUM(Amount), 0) AS revenue
		FROM amazon_sales
		WHERE Amount IS NOT NULL AND "ship-state" IS NOT NULL
		GROUP BY "ship-state"
		ORDER BY revenue DESC
		LIMIT %d`, topStatesLimit))
	if err != nil {
		return err
	}
	defer rows.Close()

	s.TopStates = []StateRevenue{}
	for rows.Next() {
		var st StateRevenue
		if err := rows.Scan(&st.State, &st.OrderCount, &st.Revenue); err != nil {
			return err
		}
		s.TopStates = append(s.TopStates, st)
	}
	return rows.Err()
}

func queryStatusDistribution(ctx context.Context, conn duck.Connection, s *Summary) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT Status, COUNT(*) AS count,
			ROUND(COUNT(*) * 100.0 / (SELECT COUNT(*) FROM amazon_sales), 2)::DOUBLE AS percentage
		FROM amazon_sales
		WHERE Status IS NOT NULL
		GROUP BY Status
		ORDER BY count DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.StatusDistribution = []StatusShare{}
	for rows.Next() {
		var st StatusShare
		if err := rows.Scan(&st.Status, &st.Count, &st.Percentage); err != nil {
			return err
		}
		s.StatusDistribution = append(s.StatusDistribution, st)
	}
	return rows.Err()
}

func queryInternational(ctx context.Context, conn duck.Connection, s *Summary) error {
	row := conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(TRY_CAST(PCS AS DOUBLE)), 0),
			COALESCE(SUM(TRY_CAST("GROSS AMT" AS DOUBLE)), 0),
			COUNT(DISTINCT CUSTOMER)
		FROM international_sales`)
	t := &s.InternationalSales
	return row.Scan(&t.TotalTransactions, &t.TotalPieces, &t.TotalRevenue, &t.UniqueCustomers)
}

func queryInventory(ctx context.Context, conn duck.Connection, s *Summary) error {
	row := conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(TRY_CAST(Stock AS DOUBLE)), 0),
			COUNT(DISTINCT Category),
			COUNT(DISTINCT Color)
		FROM inventory`)
	t := &s.Inventory
	return row.Scan(&t.TotalSKUs, &t.TotalStock, &t.UniqueCategories, &t.UniqueColors)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
