package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/malbeclabs/retail-insights/pkg/assistant"
	"github.com/malbeclabs/retail-insights/pkg/cache"
	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/duck"
	"github.com/malbeclabs/retail-insights/pkg/ingest"
	"github.com/malbeclabs/retail-insights/pkg/llm"
	"github.com/malbeclabs/retail-insights/pkg/logger"
	"github.com/malbeclabs/retail-insights/pkg/orchestrator"
	"github.com/malbeclabs/retail-insights/pkg/stats"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
)

// app is the assembled assistant stack behind every command.
type app struct {
	log       *slog.Logger
	db        duck.DB
	catalog   *catalog.Catalog
	assistant *assistant.Assistant
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, opts *options) (*app, error) {
	log := logger.NewWithWriter(os.Stderr, opts.verbose)
	a := &app{log: log}

	db, err := duck.NewDB(ctx, opts.duckdbPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", "error", err)
		}
	})

	cat, err := catalog.New(catalog.Config{Logger: log, DB: db})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = cat

	if err := a.ensureDatasets(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}

	statsProvider, err := stats.NewProvider(stats.ProviderConfig{Logger: log, DB: db})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create statistics provider: %w", err)
	}
	a.closers = append(a.closers, statsProvider.Close)

	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		Logger: log,
		APIKey: opts.apiKey,
		Model:  opts.model,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	wf, err := workflow.New(workflow.Config{
		Logger:  log,
		LLM:     llm.NewMetered(client),
		Catalog: cat,
		Stats:   statsProvider,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	backend, err := cache.New(ctx, cache.Config{
		Logger:      log,
		Backend:     opts.cacheBackend,
		PostgresDSN: opts.cachePostgresDSN,
		MaxEntries:  opts.cacheMaxEntries,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create cache backend: %w", err)
	}
	if c, ok := backend.(interface{ Close() }); ok {
		a.closers = append(a.closers, c.Close)
	}

	orch, err := orchestrator.New(orchestrator.Config{Logger: log, Cache: backend})
	if err != nil {
		a.Close()
		return nil, err
	}

	asst, err := assistant.New(assistant.Config{
		Logger:       log,
		Workflow:     wf,
		Catalog:      cat,
		Orchestrator: orch,
		Model:        client.Model(),
		CacheTTL:     opts.cacheTTL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.assistant = asst
	return a, nil
}

// ensureDatasets loads the datasets when the store has no tables yet and a
// source is configured. A persistent store filled by `ingest` is used as is.
func (a *app) ensureDatasets(ctx context.Context, opts *options) error {
	tables, err := a.catalog.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) > 0 || (opts.dataPath == "" && opts.s3Bucket == "") {
		if len(tables) == 0 {
			a.log.Warn("no datasets loaded; set --data-path or --s3-bucket")
		}
		return nil
	}
	_, err = loadDatasets(ctx, a.log, a.db, opts)
	return err
}

func loadDatasets(ctx context.Context, log *slog.Logger, db duck.DB, opts *options) ([]ingest.TableStats, error) {
	manifest := ingest.DefaultManifest()
	if opts.manifestPath != "" {
		m, err := ingest.LoadManifest(opts.manifestPath)
		if err != nil {
			return nil, err
		}
		manifest = m
	}

	source, err := newSource(ctx, log, opts)
	if err != nil {
		return nil, err
	}

	loader, err := ingest.NewLoader(ingest.LoaderConfig{
		Logger:   log,
		DB:       db,
		Source:   source,
		Manifest: manifest,
	})
	if err != nil {
		return nil, err
	}
	return loader.Load(ctx)
}

func newSource(ctx context.Context, log *slog.Logger, opts *options) (ingest.Source, error) {
	if opts.s3Bucket == "" {
		return ingest.LocalSource{Dir: opts.dataPath}, nil
	}

	client, err := ingest.NewS3Client(ctx, ingest.S3ClientConfig{
		Region:          opts.awsRegion,
		Endpoint:        opts.s3Endpoint,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
	if err != nil {
		return nil, err
	}

	cacheDir := opts.dataPath
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "retail-insights", "datasets")
	}
	source, err := ingest.NewS3Source(ingest.S3SourceConfig{
		Logger:   log,
		Client:   client,
		Bucket:   opts.s3Bucket,
		Prefix:   opts.s3Prefix,
		CacheDir: cacheDir,
	})
	if err != nil {
		return nil, err
	}
	return source, nil
}
