// Package cli implements the retail-insights command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/malbeclabs/retail-insights/pkg/cache"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ExitCode int

const (
	exitCodeSuccess = 0
	exitCodeError   = 1
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// options holds the persistent flags shared by every command.
type options struct {
	verbose      bool
	dataPath     string
	duckdbPath   string
	manifestPath string
	model        string
	apiKey       string
	queryTimeout time.Duration

	cacheBackend     string
	cachePostgresDSN string
	cacheMaxEntries  int64
	cacheTTL         time.Duration

	s3Bucket   string
	s3Prefix   string
	s3Endpoint string
	awsRegion  string
}

// envOverrides maps persistent flags to the environment variables that set
// them when the flag is not given explicitly.
var envOverrides = map[string]string{
	"data-path":          "DATA_PATH",
	"duckdb-path":        "DUCKDB_PATH",
	"manifest":           "MANIFEST_PATH",
	"model":              "RETAIL_MODEL",
	"anthropic-api-key":  "ANTHROPIC_API_KEY",
	"query-timeout":      "QUERY_TIMEOUT",
	"cache-backend":      "CACHE_BACKEND",
	"cache-postgres-dsn": "CACHE_POSTGRES_DSN",
	"cache-max-entries":  "CACHE_MAX_ENTRIES",
	"cache-ttl":          "CACHE_TTL",
	"s3-bucket":          "S3_BUCKET",
	"s3-prefix":          "S3_PREFIX",
	"s3-endpoint":        "S3_ENDPOINT",
	"aws-region":         "AWS_REGION",
	"verbose":            "VERBOSE",
}

func Run(info BuildInfo) ExitCode {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "retail-insights",
		Short:         "Ask questions about retail sales, inventory and international datasets.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is not an error.
			_ = godotenv.Load()
			return applyEnv(cmd.Root().PersistentFlags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Help(); err != nil {
				return fmt.Errorf("failed to show help: %w", err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "set debug logging level")
	flags.StringVar(&opts.dataPath, "data-path", "", "directory holding the dataset CSV files (or set DATA_PATH env var)")
	flags.StringVar(&opts.duckdbPath, "duckdb-path", "", "DuckDB database file; empty keeps the store in memory (or set DUCKDB_PATH env var)")
	flags.StringVar(&opts.manifestPath, "manifest", "", "YAML dataset manifest; empty uses the built-in datasets (or set MANIFEST_PATH env var)")
	flags.StringVar(&opts.model, "model", "", "Anthropic model name (or set RETAIL_MODEL env var)")
	flags.StringVar(&opts.apiKey, "anthropic-api-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)")
	flags.DurationVar(&opts.queryTimeout, "query-timeout", 5*time.Minute, "timeout for each question, summary or query (or set QUERY_TIMEOUT env var)")
	flags.StringVar(&opts.cacheBackend, "cache-backend", cache.BackendMemory, "result cache backend: memory, ttl, ristretto or postgres (or set CACHE_BACKEND env var)")
	flags.StringVar(&opts.cachePostgresDSN, "cache-postgres-dsn", "", "PostgreSQL DSN for the postgres cache backend (or set CACHE_POSTGRES_DSN env var)")
	flags.Int64Var(&opts.cacheMaxEntries, "cache-max-entries", 0, "entry bound for the ttl and ristretto cache backends (or set CACHE_MAX_ENTRIES env var)")
	flags.DurationVar(&opts.cacheTTL, "cache-ttl", time.Hour, "lifetime of cached results (or set CACHE_TTL env var)")
	flags.StringVar(&opts.s3Bucket, "s3-bucket", "", "load datasets from this S3 bucket instead of --data-path (or set S3_BUCKET env var)")
	flags.StringVar(&opts.s3Prefix, "s3-prefix", "", "key prefix of the dataset objects (or set S3_PREFIX env var)")
	flags.StringVar(&opts.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint such as MinIO (or set S3_ENDPOINT env var)")
	flags.StringVar(&opts.awsRegion, "aws-region", "", "AWS region (or set AWS_REGION env var)")

	rootCmd.AddCommand(
		newAskCmd(opts),
		newChatCmd(opts),
		newSummaryCmd(opts),
		newMetricsCmd(),
		newAlertsCmd(),
		newIngestCmd(opts),
		newSchemaCmd(opts),
		newQueryCmd(opts),
		newServeCmd(opts, info),
		newVersionCmd(info),
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeError
	}
	return exitCodeSuccess
}

// applyEnv sets every flag that was not given on the command line from its
// environment variable.
func applyEnv(flags *pflag.FlagSet) error {
	for name, env := range envOverrides {
		f := flags.Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		v, ok := os.LookupEnv(env)
		if !ok || v == "" {
			continue
		}
		if f.Value.Type() == "bool" {
			if _, err := strconv.ParseBool(v); err != nil {
				return fmt.Errorf("invalid %s: %w", env, err)
			}
		}
		if err := f.Value.Set(v); err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
	}
	return nil
}

func newVersionCmd(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "retail-insights %s (commit %s, built %s)\n", info.Version, info.Commit, info.Date)
		},
	}
}
