package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

const defaultPostgresTable = "query_cache"

type PostgresConfig struct {
	Logger *slog.Logger
	DSN    string
	Table  string
	Clock  clockwork.Clock

	// Pool, when set, is used instead of dialing DSN. The backend does not
	// close a pool it did not create.
	Pool *pgxpool.Pool
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DSN == "" && cfg.Pool == nil {
		return fmt.Errorf("DSN or pool is required")
	}
	if cfg.Table == "" {
		cfg.Table = defaultPostgresTable
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Postgres stores entries in a key/value table shared by every process that
// points at the same database. Expired rows are ignored on read and replaced
// on the next write; there is no background sweep.
type Postgres struct {
	log      *slog.Logger
	pool     *pgxpool.Pool
	table    string
	clock    clockwork.Clock
	ownsPool bool
}

func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool := cfg.Pool
	ownsPool := false
	if pool == nil {
		poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse postgres config: %w", err)
		}
		poolConfig.MaxConns = 10
		poolConfig.MaxConnIdleTime = 30 * time.Minute

		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		ownsPool = true
	}

	p := &Postgres{
		log:      cfg.Logger,
		pool:     pool,
		table:    pgx.Identifier{cfg.Table}.Sanitize(),
		clock:    cfg.Clock,
		ownsPool: ownsPool,
	}

	if err := pool.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := p.migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			expires_at TIMESTAMPTZ
		)`, p.table))
	if err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt *time.Time
	)
	err := p.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT value, expires_at FROM %s WHERE key = $1", p.table), key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if expiresAt != nil && !p.clock.Now().Before(*expiresAt) {
		return nil, false, nil
	}
	return value, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := p.clock.Now().Add(ttl).UTC()
		expiresAt = &t
	}
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, p.table),
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

func (p *Postgres) Clear(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", p.table)); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	if p.ownsPool {
		p.pool.Close()
	}
}
