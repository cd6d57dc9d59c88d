package cli

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/malbeclabs/retail-insights/pkg/metrics"
	"github.com/malbeclabs/retail-insights/pkg/server"
	"github.com/spf13/cobra"
)

const (
	defaultHTTPListenAddr     = "0.0.0.0:3011"
	defaultPostgresListenAddr = ""
	defaultReadHeaderTimeout  = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
)

func newServeCmd(opts *options, info BuildInfo) *cobra.Command {
	var (
		httpListenAddr     string
		postgresListenAddr string
		readHeaderTimeout  time.Duration
		shutdownTimeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, MCP endpoint, Slack command and optional PostgreSQL wire gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()
			log := a.log

			metrics.BuildInfo.WithLabelValues(info.Version, info.Commit, info.Date).Set(1)

			httpListener, err := net.Listen("tcp", httpListenAddr)
			if err != nil {
				return fmt.Errorf("failed to create HTTP listener: %w", err)
			}
			defer httpListener.Close()

			var postgresListener net.Listener
			if postgresListenAddr != "" {
				postgresListener, err = net.Listen("tcp", postgresListenAddr)
				if err != nil {
					return fmt.Errorf("failed to create PostgreSQL listener: %w", err)
				}
				defer postgresListener.Close()
				log.Info("PostgreSQL wire protocol enabled", "address", postgresListenAddr)
			} else {
				log.Info("PostgreSQL wire protocol disabled")
			}

			srv, err := server.New(ctx, server.Config{
				Logger:            log,
				Assistant:         a.assistant,
				HTTPListener:      httpListener,
				PostgresListener:  postgresListener,
				ReadHeaderTimeout: readHeaderTimeout,
				ShutdownTimeout:   shutdownTimeout,
				QueryTimeout:      opts.queryTimeout,
				Version:           info.Version,
			})
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			if err := srv.Run(ctx); err != nil {
				return err
			}
			log.Info("server: stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&httpListenAddr, "http-listen-addr", defaultHTTPListenAddr, "HTTP server listen address")
	cmd.Flags().StringVar(&postgresListenAddr, "postgres-listen-addr", defaultPostgresListenAddr, "PostgreSQL wire protocol listen address (empty disables)")
	cmd.Flags().DurationVar(&readHeaderTimeout, "read-header-timeout", defaultReadHeaderTimeout, "HTTP read header timeout")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", defaultShutdownTimeout, "server shutdown timeout")
	return cmd
}
