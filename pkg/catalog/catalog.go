// Package catalog exposes the tables loaded into the analytical store and
// executes read-only SQL against them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/malbeclabs/retail-insights/pkg/duck"
)

// ErrNotReadOnly is returned for statements that could modify the store.
var ErrNotReadOnly = errors.New("only read-only statements are allowed")

type Config struct {
	Logger *slog.Logger
	DB     duck.DB
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.DB == nil {
		return fmt.Errorf("database is required")
	}
	return nil
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Schema maps a table name to its column names in declaration order.
type Schema map[string][]string

// Tables returns the schema's table names sorted.
func (s Schema) Tables() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Result struct {
	Columns     []string         `json:"columns"`
	ColumnTypes []string         `json:"column_types"`
	Rows        []map[string]any `json:"rows"`
	Count       int              `json:"count"`
}

// QueryError reports SQL the engine rejected.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

type Catalog struct {
	log *slog.Logger
	db  duck.DB
}

func New(cfg Config) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate catalog config: %w", err)
	}
	return &Catalog{
		log: cfg.Logger,
		db:  cfg.DB,
	}, nil
}

// ListTables returns every table in the store's current schema with its columns.
func (c *Catalog) ListTables(ctx context.Context) ([]Table, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, `
		SELECT table_name, column_name, data_type
		FROM duckdb_columns()
		WHERE database_name = ? AND schema_name = ?
		ORDER BY table_name, column_index`, c.db.Catalog(), c.db.Schema())
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != tableName {
			tables = append(tables, Table{Name: tableName})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, Column{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	return tables, nil
}

// Schema returns the table to column-name mapping used in prompts.
func (c *Catalog) Schema(ctx context.Context) (Schema, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	schema := make(Schema, len(tables))
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			cols[i] = col.Name
		}
		schema[t.Name] = cols
	}
	return schema, nil
}

// Execute runs a read-only statement. Statements the engine rejects, or
// that are not read-only, fail with a *QueryError.
func (c *Catalog) Execute(ctx context.Context, sql string) (*Result, error) {
	queries, ok := readOnlyQueries(sql)
	if !ok {
		return nil, &QueryError{SQL: sql, Err: ErrNotReadOnly}
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	for _, q := range queries {
		if err := checkSelect(ctx, conn, q); err != nil {
			return nil, &QueryError{SQL: sql, Err: err}
		}
	}

	rows, err := conn.QueryContext(ctx, sql)
	if err != nil {
		return nil, &QueryError{SQL: sql, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes := make([]string, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			columnTypes[i] = ct.DatabaseTypeName()
		}
	}

	resultRows := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, &QueryError{SQL: sql, Err: fmt.Errorf("failed to scan row: %w", err)}
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{SQL: sql, Err: err}
	}

	c.log.Debug("catalog: query executed", "rows", len(resultRows), "columns", len(columns))

	return &Result{
		Columns:     columns,
		ColumnTypes: columnTypes,
		Rows:        resultRows,
		Count:       len(resultRows),
	}, nil
}
