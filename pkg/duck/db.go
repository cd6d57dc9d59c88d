// Package duck wraps the embedded DuckDB store that holds the retail datasets.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
)

type DB interface {
	Path() string
	Catalog() string
	Schema() string
	Close() error
	Conn(ctx context.Context) (Connection, error)
}

type Connection interface {
	DB() DB
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

type duckDB struct {
	log     *slog.Logger
	path    string
	db      *sql.DB
	catalog string
	schema  string

	// DuckDB allows a single writer per database file.
	writeMu sync.Mutex
}

type duckConn struct {
	conn *sql.Conn
	db   *duckDB
}

// NewDB opens the database at path. An empty path opens an in-memory
// database. Opening is retried while another process holds the file lock.
func NewDB(ctx context.Context, path string, log *slog.Logger) (*duckDB, error) {
	var db *sql.DB
	err := retryWithBackoff(ctx, log, "open", func() error {
		var err error
		db, err = sql.Open("duckdb", path)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var catalog, schema string
	row := db.QueryRowContext(ctx, "SELECT current_database() AS catalog, current_schema() AS schema")
	if err := row.Scan(&catalog, &schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get current database and schema: %w", err)
	}

	log.Debug("duck: database opened", "path", path, "catalog", catalog, "schema", schema)

	return &duckDB{
		log:     log,
		path:    path,
		db:      db,
		catalog: catalog,
		schema:  schema,
	}, nil
}

func (d *duckDB) Path() string {
	return d.path
}

func (d *duckDB) Catalog() string {
	return d.catalog
}

func (d *duckDB) Schema() string {
	return d.schema
}

func (d *duckDB) Close() error {
	return d.db.Close()
}

func (d *duckDB) Conn(ctx context.Context) (Connection, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "USE "+quoteIdent(d.catalog)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to use database: %w", err)
	}
	return &duckConn{conn: conn, db: d}, nil
}

func (c *duckConn) DB() DB {
	return c.db
}

func (c *duckConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.db.writeMu.Lock()
	defer c.db.writeMu.Unlock()

	var res sql.Result
	err := retryWithBackoff(ctx, c.db.log, "exec", func() error {
		var err error
		res, err = c.conn.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (c *duckConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *duckConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *duckConn) Close() error {
	return c.conn.Close()
}

// QuoteIdent quotes an identifier for use in DuckDB SQL.
func QuoteIdent(name string) string {
	return quoteIdent(name)
}

func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}

// QuoteString quotes a string literal for use in DuckDB SQL.
func QuoteString(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
