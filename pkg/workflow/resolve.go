package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/retail-insights/pkg/catalog"
	"github.com/malbeclabs/retail-insights/pkg/llm"
)

const rephraseMessage = "I need help understanding your query. Could you rephrase it?"

// Resolution is the strict shape of the resolution model's JSON reply.
type Resolution struct {
	Intent     string   `json:"intent"`
	QueryType  string   `json:"query_type"`
	Reasoning  string   `json:"reasoning"`
	SQL        string   `json:"sql_query"`
	TablesUsed []string `json:"tables_used"`
}

var errEmptyResolution = errors.New("no JSON object in response")

// Resolve fetches the schema and asks the model for SQL answering the
// question. Unusable replies leave SQL empty and the workflow continues; the
// caller's mode is never changed.
func (w *Workflow) Resolve(ctx context.Context, st *State) error {
	schema, err := w.cfg.Catalog.Schema(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch schema: %w", err)
	}
	st.Schema = schema
	st.Iteration++

	systemPrompt, err := resolvePrompt(w.cfg.Prompts.Resolve, schema)
	if err != nil {
		return err
	}

	res, err := w.resolve(ctx, systemPrompt, st.UserQuery)
	if err != nil {
		w.log.Warn("workflow: resolution unusable", "error", err)
		st.SQL = ""
		st.appendMessage(RoleAssistant, rephraseMessage)
		return nil
	}

	st.SQL = res.SQL
	st.appendMessage(RoleAssistant, "Query Analysis: "+res.Reasoning)
	w.log.Info("workflow: query resolved", "mode", st.Mode, "intent", res.Intent, "sql", res.SQL)
	return nil
}

func (w *Workflow) resolve(ctx context.Context, systemPrompt, query string) (*Resolution, error) {
	response, err := w.cfg.LLM.Complete(ctx, systemPrompt, query, llm.Long)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}
	return ParseResolution(response)
}

// ParseResolution decodes a resolution reply, tolerating Markdown fences and
// surrounding prose.
func ParseResolution(response string) (*Resolution, error) {
	raw := extractJSON(response)
	if raw == "" {
		return nil, errEmptyResolution
	}
	var res Resolution
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("failed to parse resolution: %w", err)
	}
	res.SQL = strings.TrimSpace(res.SQL)
	return &res, nil
}

type schemaEntry struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

func resolvePrompt(template string, schema catalog.Schema) (string, error) {
	entries := make([]schemaEntry, 0, len(schema))
	for _, name := range schema.Tables() {
		entries = append(entries, schemaEntry{Table: name, Columns: schema[name]})
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode schema: %w", err)
	}
	return strings.Replace(template, "{{SCHEMA}}", string(data), 1), nil
}

// extractJSON returns the JSON object in a model reply, preferring a
// ```json fence, then a bare fence, then the first balanced object.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += len("```")
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}
	return ""
}

// extractJSONObject returns the balanced object starting at start, skipping
// braces inside strings.
func extractJSONObject(s string, start int) string {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
