package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/lib/pq/oid"
	"github.com/malbeclabs/retail-insights/pkg/assistant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectPostgres(t *testing.T, ts *testServer, user, password string) (*pgx.Conn, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := pgx.Connect(ctx, fmt.Sprintf("postgres://%s:%s@%s/postgres?sslmode=disable", user, password, ts.postgresAddr))
	if err == nil {
		t.Cleanup(func() { conn.Close(context.Background()) })
	}
	return conn, err
}

func TestServer_PostgreSQL_WireProtocol(t *testing.T) {
	t.Parallel()

	ts := startServer(t, Config{
		Assistant:        testAssistant(t, &echoWorkflow{}, true),
		PostgresListener: getFreeListener(t),
	})
	ctx := context.Background()

	conn, err := connectPostgres(t, ts, "user", "password")
	require.NoError(t, err)

	t.Run("select with native types", func(t *testing.T) {
		rows, err := conn.Query(ctx, "SELECT region, amount, qty, sold_at FROM sales ORDER BY amount")
		require.NoError(t, err)
		defer rows.Close()

		var (
			region string
			amount float64
			qty    int32
			soldAt time.Time
		)
		require.True(t, rows.Next())
		require.NoError(t, rows.Scan(&region, &amount, &qty, &soldAt))
		assert.Equal(t, "north", region)
		assert.InDelta(t, 5.0, amount, 0.001)
		assert.Equal(t, int32(3), qty)
		assert.Equal(t, 2024, soldAt.Year())

		count := 1
		for rows.Next() {
			count++
		}
		require.NoError(t, rows.Err())
		assert.Equal(t, 3, count)
	})

	t.Run("cached aggregate keeps integer types", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			var n int64
			require.NoError(t, conn.QueryRow(ctx, "SELECT COUNT(*) AS n FROM sales").Scan(&n))
			assert.Equal(t, int64(3), n)
		}
	})

	t.Run("ping", func(t *testing.T) {
		var pong string
		require.NoError(t, conn.QueryRow(ctx, "-- ping").Scan(&pong))
		assert.Equal(t, "pong", pong)
	})

	t.Run("ask", func(t *testing.T) {
		var resp string
		require.NoError(t, conn.QueryRow(ctx, "ASK how did the north do?").Scan(&resp))
		assert.Equal(t, "**qa:** how did the north do?", resp)
	})

	t.Run("summary", func(t *testing.T) {
		var resp string
		require.NoError(t, conn.QueryRow(ctx, "summary;").Scan(&resp))
		assert.Equal(t, "**summary:** "+assistant.SummaryPrompt, resp)
	})

	t.Run("write rejected", func(t *testing.T) {
		_, err := conn.Exec(ctx, "DELETE FROM sales")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read-only")
	})
}

func TestServer_PostgreSQL_Authentication(t *testing.T) {
	t.Parallel()

	ts := startServer(t, Config{
		Assistant:        testAssistant(t, &echoWorkflow{}, true),
		PostgresListener: getFreeListener(t),
		PostgresAccounts: map[string]string{"analyst": "s3cret"},
	})

	_, err := connectPostgres(t, ts, "analyst", "wrong")
	require.Error(t, err)

	_, err = connectPostgres(t, ts, "nobody", "s3cret")
	require.Error(t, err)

	conn, err := connectPostgres(t, ts, "analyst", "s3cret")
	require.NoError(t, err)
	var pong string
	require.NoError(t, conn.QueryRow(context.Background(), "-- ping").Scan(&pong))
	assert.Equal(t, "pong", pong)
}

func Test_mapDuckDBTypeToPostgreSQLOID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dbType   string
		expected oid.Oid
	}{
		{"BOOLEAN", pgtype.BoolOID},
		{"  bool  ", pgtype.BoolOID},
		{"TINYINT", pgtype.Int2OID},
		{"SMALLINT", pgtype.Int2OID},
		{"INT2", pgtype.Int2OID},
		{"INTEGER", pgtype.Int4OID},
		{"INT", pgtype.Int4OID},
		{"INT4", pgtype.Int4OID},
		{"BIGINT", pgtype.Int8OID},
		{"INT8", pgtype.Int8OID},
		{"UINTEGER", pgtype.Int8OID},
		{"HUGEINT", pgtype.NumericOID},
		{"UBIGINT", pgtype.NumericOID},
		{"INTERVAL", pgtype.TextOID},
		{"interval day", pgtype.TextOID},
		{"REAL", pgtype.Float4OID},
		{"FLOAT", pgtype.Float4OID},
		{"FLOAT4", pgtype.Float4OID},
		{"DOUBLE", pgtype.Float8OID},
		{"FLOAT8", pgtype.Float8OID},
		{"DECIMAL(18,3)", pgtype.NumericOID},
		{"NUMERIC", pgtype.NumericOID},
		{"VARCHAR", pgtype.TextOID},
		{"TEXT", pgtype.TextOID},
		{"DATE", pgtype.DateOID},
		{"DATETIME", pgtype.TimestampOID},
		{"TIMESTAMP", pgtype.TimestampOID},
		{"TIMESTAMPTZ", pgtype.TimestamptzOID},
		{"TIMESTAMP WITH TIME ZONE", pgtype.TimestamptzOID},
		{"TIME", pgtype.TimeOID},
		{"BLOB", pgtype.ByteaOID},
		{"UUID", pgtype.UUIDOID},
		{"JSON", pgtype.JSONOID},
		{"STRUCT(a INTEGER)", pgtype.TextOID},
		{"", pgtype.TextOID},
	}
	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapDuckDBTypeToPostgreSQLOID(tt.dbType))
		})
	}
}

func Test_encodeValueForPostgreSQL(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 2, 11, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		val     any
		oid     oid.Oid
		want    any
		wantErr bool
	}{
		{"nil", nil, pgtype.Int8OID, nil, false},
		{"bool string", "true", pgtype.BoolOID, true, false},
		{"bad bool string", "maybe", pgtype.BoolOID, nil, true},
		{"int passthrough", int32(7), pgtype.Int4OID, int32(7), false},
		{"whole float as int", float64(42), pgtype.Int8OID, int64(42), false},
		{"fractional float as int", 4.5, pgtype.Int8OID, nil, true},
		{"float passthrough", 1.25, pgtype.Float8OID, 1.25, false},
		{"numeric from float", 648.5, pgtype.NumericOID, "648.5", false},
		{"time passthrough", ts, pgtype.TimestampOID, ts, false},
		{"time from rfc3339", "2024-01-02T11:30:00Z", pgtype.TimestampOID, ts, false},
		{"time from duckdb text", "2024-01-02 11:30:00", pgtype.TimestampOID, ts, false},
		{"unparseable time", "soon", pgtype.DateOID, "soon", false},
		{"bytea from string", "abc", pgtype.ByteaOID, []byte("abc"), false},
		{"text from int", 12, pgtype.TextOID, "12", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeValueForPostgreSQL(tt.val, tt.oid)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
