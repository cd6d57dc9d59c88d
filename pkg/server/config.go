package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultQueryTimeout      = 5 * time.Minute
)

type Config struct {
	Logger    *slog.Logger
	Assistant Assistant

	HTTPListener      net.Listener // HTTP API, MCP and Slack listener
	PostgresListener  net.Listener // PostgreSQL wire protocol listener (optional)
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// QueryTimeout bounds each question, summary or query.
	QueryTimeout time.Duration

	// Version is reported by the MCP server.
	Version string

	// PostgresAccounts maps usernames to passwords for the wire gateway.
	// Empty disables authentication.
	PostgresAccounts map[string]string

	// SlackSigningSecret enables the /slack/command endpoint.
	SlackSigningSecret string
}

// LoadFromEnv fills unset fields from the environment.
// POSTGRES_ACCOUNTS format: "user1:pass1,user2:pass2".
func (cfg *Config) LoadFromEnv() error {
	if cfg.SlackSigningSecret == "" {
		cfg.SlackSigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
	}

	if cfg.PostgresAccounts == nil {
		cfg.PostgresAccounts = make(map[string]string)
	}
	accountsEnv := os.Getenv("POSTGRES_ACCOUNTS")
	if accountsEnv == "" {
		return nil
	}
	for _, accountStr := range strings.Split(accountsEnv, ",") {
		accountStr = strings.TrimSpace(accountStr)
		if accountStr == "" {
			continue
		}
		username, password, ok := strings.Cut(accountStr, ":")
		if !ok {
			return fmt.Errorf("invalid account format in POSTGRES_ACCOUNTS: %q (expected username:password)", accountStr)
		}
		username = strings.TrimSpace(username)
		if username == "" {
			return fmt.Errorf("username cannot be empty in POSTGRES_ACCOUNTS: %q", accountStr)
		}
		cfg.PostgresAccounts[username] = strings.TrimSpace(password)
	}
	return nil
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Assistant == nil {
		return errors.New("assistant is required")
	}
	if cfg.HTTPListener == nil {
		return errors.New("http listener is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return nil
}
