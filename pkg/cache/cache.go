// Package cache stores query results keyed by a fingerprint of the query
// text. Several backends are available; they differ only in where entries
// live and how expiry is enforced.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Backend is a key/value store for cached results.
type Backend interface {
	// Get returns the value for key. ok is false when the key is absent or
	// the entry has expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Clear(ctx context.Context) error
}

const (
	BackendMemory    = "memory"
	BackendTTL       = "ttl"
	BackendRistretto = "ristretto"
	BackendPostgres  = "postgres"
)

// Fingerprint returns the cache key for a query: the lowercase hex MD5 of the
// raw text. No normalization is applied, so queries that differ only in case
// or whitespace get different keys.
func Fingerprint(query string) string {
	sum := md5.Sum([]byte(query))
	return hex.EncodeToString(sum[:])
}

type Config struct {
	Logger *slog.Logger

	// Backend selects the implementation. Defaults to memory.
	Backend string

	// PostgresDSN is required for the postgres backend.
	PostgresDSN string

	// MaxEntries bounds the ttl and ristretto backends. Zero means the
	// backend default.
	MaxEntries int64

	Clock clockwork.Clock
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendMemory
	}
	switch cfg.Backend {
	case BackendMemory, BackendTTL, BackendRistretto:
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("postgres DSN is required for the postgres cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if cfg.MaxEntries < 0 {
		return fmt.Errorf("max entries must be non-negative")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// New builds the backend selected by cfg.
func New(ctx context.Context, cfg Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Logger.Debug("cache: creating backend", "backend", cfg.Backend)

	switch cfg.Backend {
	case BackendTTL:
		return NewTTL(cfg.MaxEntries), nil
	case BackendRistretto:
		return NewRistretto(cfg.MaxEntries)
	case BackendPostgres:
		return NewPostgres(ctx, PostgresConfig{
			Logger: cfg.Logger,
			DSN:    cfg.PostgresDSN,
			Clock:  cfg.Clock,
		})
	default:
		return NewMemory(), nil
	}
}
