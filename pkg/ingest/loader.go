// Package ingest loads the retail CSV datasets into DuckDB tables.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/malbeclabs/retail-insights/pkg/duck"
)

const defaultMaxConcurrency = 4

type LoaderConfig struct {
	Logger   *slog.Logger
	DB       duck.DB
	Source   Source
	Manifest *Manifest

	MaxConcurrency int
}

func (cfg *LoaderConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	if cfg.Source == nil {
		return fmt.Errorf("source is required")
	}
	if cfg.Manifest == nil {
		cfg.Manifest = DefaultManifest()
	}
	if err := cfg.Manifest.Validate(); err != nil {
		return err
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	return nil
}

type Loader struct {
	log *slog.Logger
	cfg LoaderConfig
}

func NewLoader(cfg LoaderConfig) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loader{log: cfg.Logger, cfg: cfg}, nil
}

// TableStats is the outcome of loading one dataset.
type TableStats struct {
	Table   string
	Rows    int64
	Skipped bool
}

// Load fetches every dataset in the manifest and replaces its table. Datasets
// whose file is missing are skipped with a warning; any other failure fails
// the load after the remaining datasets finish.
func (l *Loader) Load(ctx context.Context) ([]TableStats, error) {
	start := time.Now()
	pool := pond.NewPool(l.cfg.MaxConcurrency)
	defer pool.StopAndWait()
	group := pool.NewGroupContext(ctx)

	var (
		mu      sync.Mutex
		results []TableStats
		errs    []error
	)
	for _, ds := range l.cfg.Manifest.Datasets {
		group.Submit(func() {
			st, err := l.loadDataset(ctx, ds)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to load %s: %w", ds.Table, err))
				return
			}
			results = append(results, st)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Table < results[j].Table })
	if err := errors.Join(errs...); err != nil {
		return results, err
	}

	l.log.Info("ingest: datasets loaded", "tables", len(results), "duration", time.Since(start))
	return results, nil
}

func (l *Loader) loadDataset(ctx context.Context, ds Dataset) (TableStats, error) {
	path, err := l.cfg.Source.Fetch(ctx, ds)
	if errors.Is(err, ErrNotFound) {
		l.log.Warn("ingest: dataset file missing, skipping", "table", ds.Table, "file", ds.File)
		return TableStats{Table: ds.Table, Skipped: true}, nil
	}
	if err != nil {
		return TableStats{}, err
	}

	conn, err := l.cfg.DB.Conn(ctx)
	if err != nil {
		return TableStats{}, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	l.log.Info("ingest: loading dataset", "table", ds.Table, "path", path)
	table := duck.QuoteIdent(ds.Table)
	query := fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s AS SELECT * FROM read_csv_auto(%s, header=true, ignore_errors=true)",
		table, duck.QuoteString(path),
	)
	if _, err := conn.ExecContext(ctx, query); err != nil {
		return TableStats{}, fmt.Errorf("failed to create table: %w", err)
	}

	var rows int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&rows); err != nil {
		return TableStats{}, fmt.Errorf("failed to count rows: %w", err)
	}
	l.log.Debug("ingest: dataset loaded", "table", ds.Table, "rows", rows)
	return TableStats{Table: ds.Table, Rows: rows}, nil
}
