package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/retail-insights/pkg/cache"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to cleanup postgres container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestCache_Postgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	b, err := cache.NewPostgres(ctx, cache.PostgresConfig{
		Logger: newTestLogger(),
		DSN:    dsn,
		Clock:  clock,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	t.Run("shared behavior", func(t *testing.T) {
		exerciseBackend(t, b)
	})

	t.Run("expires lazily", func(t *testing.T) {
		require.NoError(t, b.Set(ctx, "short", []byte("x"), time.Minute))
		require.NoError(t, b.Set(ctx, "forever", []byte("y"), 0))

		_, ok, err := b.Get(ctx, "short")
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(2 * time.Minute)

		_, ok, err = b.Get(ctx, "short")
		require.NoError(t, err)
		require.False(t, ok)

		v, ok, err := b.Get(ctx, "forever")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("y"), v)

		// Rewriting an expired key revives it.
		require.NoError(t, b.Set(ctx, "short", []byte("z"), time.Minute))
		v, ok, err = b.Get(ctx, "short")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("z"), v)
	})

	t.Run("shared between instances", func(t *testing.T) {
		other, err := cache.New(ctx, cache.Config{
			Logger:      newTestLogger(),
			Backend:     cache.BackendPostgres,
			PostgresDSN: dsn,
			Clock:       clock,
		})
		require.NoError(t, err)
		t.Cleanup(other.(*cache.Postgres).Close)

		require.NoError(t, b.Set(ctx, cache.Fingerprint("q"), []byte("answer"), time.Hour))
		v, ok, err := other.Get(ctx, cache.Fingerprint("q"))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []byte("answer"), v)
	})
}
