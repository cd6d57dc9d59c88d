package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectMCP(t *testing.T, ts *testServer) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.url("/mcp")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err.Error(), true
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n"), res.IsError
}

func TestServer_MCP(t *testing.T) {
	t.Parallel()

	wf := &echoWorkflow{}
	ts := startServer(t, Config{Assistant: testAssistant(t, wf, true), Version: "1.2.3"})
	session := connectMCP(t, ts)

	t.Run("lists tools", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
		require.NoError(t, err)
		var names []string
		for _, tool := range res.Tools {
			names = append(names, tool.Name)
		}
		assert.ElementsMatch(t, []string{"ask", "summary", "schema", "query", "metrics"}, names)
	})

	t.Run("ask", func(t *testing.T) {
		text, isErr := callTool(t, session, "ask", map[string]any{"query": "which region leads?"})
		require.False(t, isErr, text)
		var out AskOutput
		require.NoError(t, json.Unmarshal([]byte(text), &out))
		assert.Equal(t, "**qa:** which region leads?", out.Response)
	})

	t.Run("ask rejects empty query", func(t *testing.T) {
		text, isErr := callTool(t, session, "ask", map[string]any{"query": " "})
		assert.True(t, isErr)
		assert.Contains(t, text, "query is required")
	})

	t.Run("ask rejects invalid mode", func(t *testing.T) {
		text, isErr := callTool(t, session, "ask", map[string]any{"query": "x", "mode": "haiku"})
		assert.True(t, isErr)
		assert.Contains(t, text, "invalid mode")
	})

	t.Run("summary", func(t *testing.T) {
		text, isErr := callTool(t, session, "summary", map[string]any{})
		require.False(t, isErr, text)
		assert.Contains(t, text, "**summary:**")
	})

	t.Run("schema", func(t *testing.T) {
		text, isErr := callTool(t, session, "schema", map[string]any{})
		require.False(t, isErr, text)
		var out SchemaResponse
		require.NoError(t, json.Unmarshal([]byte(text), &out))
		require.Len(t, out.Tables, 1)
		assert.Equal(t, "sales", out.Tables[0].Name)
	})

	t.Run("query", func(t *testing.T) {
		text, isErr := callTool(t, session, "query", map[string]any{"sql": "SELECT region FROM sales ORDER BY amount DESC"})
		require.False(t, isErr, text)
		var out QueryOutput
		require.NoError(t, json.Unmarshal([]byte(text), &out))
		assert.Equal(t, []string{"region"}, out.Columns)
		require.Equal(t, 3, out.Count)
		assert.Equal(t, "south", out.Rows[0]["region"])
	})

	t.Run("query rejects writes", func(t *testing.T) {
		text, isErr := callTool(t, session, "query", map[string]any{"sql": "DROP TABLE sales"})
		assert.True(t, isErr)
		assert.Contains(t, text, "read-only")
	})

	t.Run("metrics", func(t *testing.T) {
		text, isErr := callTool(t, session, "metrics", map[string]any{})
		require.False(t, isErr, text)
		var out MetricsOutput
		require.NoError(t, json.Unmarshal([]byte(text), &out))
		assert.GreaterOrEqual(t, out.TotalQueries, 1)
		assert.NotEmpty(t, out.CacheHitRate)
		assert.True(t, strings.HasPrefix(out.TotalCost, "$"))
		assert.NotNil(t, out.Alerts)
	})
}
