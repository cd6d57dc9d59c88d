package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/malbeclabs/retail-insights/pkg/duck"
	"github.com/malbeclabs/retail-insights/pkg/logger"
	"github.com/spf13/cobra"
)

func newIngestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Load the datasets from --data-path or --s3-bucket into the DuckDB store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dataPath == "" && opts.s3Bucket == "" {
				return fmt.Errorf("one of --data-path or --s3-bucket is required")
			}
			if opts.duckdbPath == "" {
				fmt.Fprintln(os.Stderr, "warning: --duckdb-path is empty, loaded tables are discarded on exit")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			log := logger.NewWithWriter(os.Stderr, opts.verbose)
			db, err := duck.NewDB(ctx, opts.duckdbPath, log)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			stats, err := loadDatasets(ctx, log, db, opts)
			renderIngest(cmd.OutOrStdout(), stats)
			return err
		},
	}
}

func newSchemaCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "List the dataset tables and columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			tables, err := a.catalog.ListTables(ctx)
			if err != nil {
				return err
			}
			renderSchema(cmd.OutOrStdout(), tables)
			return nil
		},
	}
}

func newQueryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "Run read-only SQL against the datasets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel = context.WithTimeout(ctx, opts.queryTimeout)
			defer cancel()
			res, err := a.assistant.Query(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}
