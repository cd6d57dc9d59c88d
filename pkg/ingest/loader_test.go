package ingest_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/malbeclabs/retail-insights/pkg/duck"
	"github.com/malbeclabs/retail-insights/pkg/ingest"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestDB(t *testing.T) duck.DB {
	t.Helper()
	db, err := duck.NewDB(context.Background(), "", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestIngest_Loader_Local(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	db := newTestDB(t)

	writeFile(t, dir, "Amazon Sale Report.csv", "Order ID,Status,Category,Amount,ship-state\n"+
		"1,Shipped,Set,100.5,KARNATAKA\n"+
		"2,Cancelled,kurta,20,DELHI\n"+
		"3,Shipped,Set,30,KARNATAKA\n")
	writeFile(t, dir, "Sale Report.csv", "SKU Code,Stock\nA1,5\nA2,7\n")

	loader, err := ingest.NewLoader(ingest.LoaderConfig{
		Logger: testLogger(),
		DB:     db,
		Source: ingest.LocalSource{Dir: dir},
	})
	require.NoError(t, err)

	stats, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []ingest.TableStats{
		{Table: "amazon_sales", Rows: 3},
		{Table: "international_sales", Skipped: true},
		{Table: "inventory", Rows: 2},
		{Table: "may_2022", Skipped: true},
		{Table: "pl_march_2021", Skipped: true},
	}, stats)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	var total float64
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT SUM("Amount") FROM amazon_sales`).Scan(&total))
	require.InDelta(t, 150.5, total, 1e-9)

	// Reloading replaces the table.
	writeFile(t, dir, "Sale Report.csv", "SKU Code,Stock\nA1,5\n")
	stats, err = loader.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats[2].Rows)
}

func TestIngest_Loader_CustomManifest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	db := newTestDB(t)
	writeFile(t, dir, "stores.csv", "store,city\ns1,Pune\n")

	loader, err := ingest.NewLoader(ingest.LoaderConfig{
		Logger:   testLogger(),
		DB:       db,
		Source:   ingest.LocalSource{Dir: dir},
		Manifest: &ingest.Manifest{Datasets: []ingest.Dataset{{Table: "stores", File: "stores.csv"}}},
	})
	require.NoError(t, err)

	stats, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []ingest.TableStats{{Table: "stores", Rows: 1}}, stats)
}

type failingSource struct{ err error }

func (s failingSource) Fetch(context.Context, ingest.Dataset) (string, error) {
	return "", s.err
}

func TestIngest_Loader_SourceError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	loader, err := ingest.NewLoader(ingest.LoaderConfig{
		Logger: testLogger(),
		DB:     newTestDB(t),
		Source: failingSource{err: boom},
	})
	require.NoError(t, err)

	_, err = loader.Load(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "failed to load amazon_sales")
}

func TestIngest_LoaderConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := ingest.LoaderConfig{}
	require.ErrorContains(t, cfg.Validate(), "logger is required")

	cfg = ingest.LoaderConfig{Logger: testLogger()}
	require.ErrorContains(t, cfg.Validate(), "database is required")

	cfg = ingest.LoaderConfig{Logger: testLogger(), DB: &duck.FailingDB{}}
	require.ErrorContains(t, cfg.Validate(), "source is required")

	cfg = ingest.LoaderConfig{Logger: testLogger(), DB: &duck.FailingDB{}, Source: ingest.LocalSource{}}
	require.NoError(t, cfg.Validate())
	require.Equal(t, ingest.DefaultManifest(), cfg.Manifest)
}

func TestIngest_LocalSource(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "x\n1\n")

	p, err := ingest.LocalSource{Dir: dir}.Fetch(context.Background(), ingest.Dataset{Table: "a", File: "a.csv"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "a.csv"), p)

	_, err = ingest.LocalSource{Dir: dir}.Fetch(context.Background(), ingest.Dataset{Table: "b", File: "b.csv"})
	require.ErrorIs(t, err, ingest.ErrNotFound)
}
