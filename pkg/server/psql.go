package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	wire "github.com/jeroenrinzema/psql-wire"
	"github.com/jeroenrinzema/psql-wire/codes"
	pgerror "github.com/jeroenrinzema/psql-wire/errors"
	"github.com/jeroenrinzema/psql-wire/pkg/buffer"
	"github.com/jeroenrinzema/psql-wire/pkg/types"
	"github.com/lib/pq/oid"
	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/metrics"
	"github.com/malbeclabs/retail-insights/pkg/workflow"
)

const (
	authOK                = 0
	authClearTextPassword = 3
)

// createAuthStrategy accepts every connection when no accounts are configured
// and otherwise runs a cleartext password exchange against accounts.
func createAuthStrategy(log *slog.Logger, accounts map[string]string) wire.AuthStrategy {
	return func(ctx context.Context, writer *buffer.Writer, reader *buffer.Reader) (context.Context, error) {
		params := wire.ClientParameters(ctx)
		database := params[wire.ParamDatabase]
		username := params[wire.ParamUsername]

		if len(accounts) == 0 {
			writer.Start(types.ServerAuth)
			writer.AddInt32(authOK)
			if err := writer.End(); err != nil {
				return ctx, err
			}
			log.Debug("postgres: authentication disabled, allowing connection", "database", database, "username", username)
			return ctx, nil
		}

		writer.Start(types.ServerAuth)
		writer.AddInt32(authClearTextPassword)
		if err := writer.End(); err != nil {
			return ctx, err
		}

		t, _, err := reader.ReadTypedMsg()
		if err != nil {
			return ctx, err
		}
		if t != types.ClientPassword {
			return ctx, fmt.Errorf("unexpected password message type: %v", t)
		}
		password, err := reader.GetString()
		if err != nil {
			return ctx, err
		}

		expected, exists := accounts[username]
		if !exists || password != expected {
			log.Debug("postgres: authentication failed", "username", username)
			authErr := pgerror.WithCode(errors.New("invalid username/password"), codes.InvalidPassword)
			if err := wire.ErrorCode(writer, authErr); err != nil {
				return ctx, err
			}
			return ctx, authErr
		}

		log.Debug("postgres: authentication successful", "username", username)
		writer.Start(types.ServerAuth)
		writer.AddInt32(authOK)
		return ctx, writer.End()
	}
}

// queryHandler serves the wire gateway. Besides read-only SQL it accepts two
// commands returning a single "response" text column:
//
//	ASK <question>
//	SUMMARY
func (s *Server) queryHandler(ctx context.Context, query string) (wire.PreparedStatements, error) {
	s.log.Debug("postgres: incoming query", "query", query)

	normalized := strings.TrimSpace(query)
	if normalized == "" || normalized == ";" {
		return wire.Prepared(wire.NewStatement(
			func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
				return writer.Complete("")
			},
			wire.WithColumns(wire.Columns{}),
		)), nil
	}

	if strings.ToLower(strings.Join(strings.Fields(query), " ")) == "-- ping" {
		return singleTextStatement("pong", "pong"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	command := strings.TrimSpace(strings.TrimSuffix(normalized, ";"))
	keyword, rest, _ := strings.Cut(command, " ")
	switch strings.ToUpper(keyword) {
	case "ASK":
		question := strings.TrimSpace(rest)
		if question == "" {
			metrics.PostgresQueriesTotal.WithLabelValues("ask", "error").Inc()
			return nil, errors.New("ASK requires a question")
		}
		text, err := s.assistant.ProcessQuery(ctx, question, workflow.ModeQA)
		if err != nil {
			metrics.PostgresQueriesTotal.WithLabelValues("ask", "error").Inc()
			return nil, fmt.Errorf("question failed: %w", err)
		}
		metrics.PostgresQueriesTotal.WithLabelValues("ask", "success").Inc()
		return singleTextStatement("response", text), nil
	case "SUMMARY":
		if strings.TrimSpace(rest) != "" {
			break
		}
		text, err := s.assistant.GetSummary(ctx)
		if err != nil {
			metrics.PostgresQueriesTotal.WithLabelValues("summary", "error").Inc()
			return nil, fmt.Errorf("summary failed: %w", err)
		}
		metrics.PostgresQueriesTotal.WithLabelValues("summary", "success").Inc()
		return singleTextStatement("response", text), nil
	}

	res, err := s.assistant.Query(ctx, query)
	if err != nil {
		metrics.PostgresQueriesTotal.WithLabelValues("sql", "error").Inc()
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	metrics.PostgresQueriesTotal.WithLabelValues("sql", "success").Inc()
	return resultStatement(res), nil
}

func singleTextStatement(column, value string) wire.PreparedStatements {
	return wire.Prepared(wire.NewStatement(
		func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
			if err := writer.Row([]any{value}); err != nil {
				return err
			}
			return writer.Complete("SELECT 1")
		},
		wire.WithColumns(wire.Columns{{Name: column, Oid: pgtype.TextOID}}),
	))
}

func resultStatement(res *catalog.Result) wire.PreparedStatements {
	columns := make(wire.Columns, len(res.Columns))
	for i, name := range res.Columns {
		oidType := oid.Oid(pgtype.TextOID)
		if i < len(res.ColumnTypes) {
			oidType = mapDuckDBTypeToPostgreSQLOID(res.ColumnTypes[i])
		}
		columns[i] = wire.Column{Name: name, Oid: oidType}
	}

	return wire.Prepared(wire.NewStatement(
		func(ctx context.Context, writer wire.DataWriter, parameters []wire.Parameter) error {
			for _, row := range res.Rows {
				values := make([]any, len(columns))
				for i, col := range columns {
					v, err := encodeValueForPostgreSQL(row[col.Name], col.Oid)
					if err != nil {
						return fmt.Errorf("failed to encode value for column %s: %w", col.Name, err)
					}
					values[i] = v
				}
				if err := writer.Row(values); err != nil {
					return err
				}
			}
			return writer.Complete(fmt.Sprintf("SELECT %d", len(res.Rows)))
		},
		wire.WithColumns(columns),
	))
}

// mapDuckDBTypeToPostgreSQLOID maps a DuckDB type name to the closest
// PostgreSQL OID. Longer names are matched before their prefixes.
func mapDuckDBTypeToPostgreSQLOID(dbTypeName string) oid.Oid {
	t := strings.ToUpper(strings.TrimSpace(dbTypeName))

	hasPrefix := func(prefixes ...string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(t, p) {
				return true
			}
		}
		return false
	}

	switch {
	case hasPrefix("BOOL"):
		return pgtype.BoolOID
	case hasPrefix("INTERVAL"):
		return pgtype.TextOID
	case hasPrefix("HUGEINT", "UHUGEINT", "UBIGINT"):
		return pgtype.NumericOID
	case hasPrefix("BIGINT", "INT8", "UINTEGER"):
		return pgtype.Int8OID
	case hasPrefix("TINYINT", "UTINYINT", "SMALLINT", "INT2"):
		return pgtype.Int2OID
	case hasPrefix("USMALLINT", "INTEGER", "INT4", "INT"):
		return pgtype.Int4OID
	case hasPrefix("DOUBLE", "FLOAT8"):
		return pgtype.Float8OID
	case hasPrefix("REAL", "FLOAT"):
		return pgtype.Float4OID
	case hasPrefix("DECIMAL", "NUMERIC"):
		return pgtype.NumericOID
	case hasPrefix("VARCHAR", "CHAR", "STRING", "TEXT"):
		return pgtype.TextOID
	case hasPrefix("TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE"):
		return pgtype.TimestamptzOID
	case hasPrefix("TIMESTAMP", "DATETIME"):
		return pgtype.TimestampOID
	case hasPrefix("DATE"):
		return pgtype.DateOID
	case hasPrefix("TIME"):
		return pgtype.TimeOID
	case hasPrefix("BLOB", "BYTEA", "BINARY"):
		return pgtype.ByteaOID
	case hasPrefix("UUID"):
		return pgtype.UUIDOID
	case hasPrefix("JSON"):
		return pgtype.JSONOID
	default:
		return pgtype.TextOID
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// encodeValueForPostgreSQL converts a result value for the column's OID.
// Cached results come back from JSON, so integers may arrive as float64 and
// timestamps as strings.
func encodeValueForPostgreSQL(val any, oidType oid.Oid) (any, error) {
	if val == nil {
		return nil, nil
	}

	switch oidType {
	case pgtype.BoolOID:
		if s, ok := val.(string); ok {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("failed to parse bool: %w", err)
			}
			return b, nil
		}
		return val, nil
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		if f, ok := val.(float64); ok {
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("non-integral value %v for integer column", f)
			}
			return int64(f), nil
		}
		return val, nil
	case pgtype.Float4OID, pgtype.Float8OID:
		return val, nil
	case pgtype.DateOID, pgtype.TimeOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		if t, ok := val.(time.Time); ok {
			return t, nil
		}
		if s, ok := val.(string); ok {
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t, nil
				}
			}
		}
		return fmt.Sprintf("%v", val), nil
	case pgtype.ByteaOID:
		switch v := val.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		default:
			return []byte(fmt.Sprintf("%v", val)), nil
		}
	case pgtype.NumericOID:
		if f, ok := val.(float64); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return fmt.Sprintf("%v", val), nil
	default:
		return fmt.Sprintf("%v", val), nil
	}
}
