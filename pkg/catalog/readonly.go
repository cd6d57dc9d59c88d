package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/malbeclabs/retail-insights/pkg/duck"
)

var queryKeywords = map[string]bool{
	"SELECT": true,
	"FROM":   true,
	"VALUES": true,
	"TABLE":  true,
}

var writeKeywords = map[string]bool{
	"INSERT":     true,
	"UPDATE":     true,
	"DELETE":     true,
	"DROP":       true,
	"CREATE":     true,
	"ALTER":      true,
	"TRUNCATE":   true,
	"MERGE":      true,
	"COPY":       true,
	"ATTACH":     true,
	"DETACH":     true,
	"INSTALL":    true,
	"LOAD":       true,
	"SET":        true,
	"RESET":      true,
	"PRAGMA":     true,
	"CALL":       true,
	"EXPORT":     true,
	"IMPORT":     true,
	"VACUUM":     true,
	"CHECKPOINT": true,
	"USE":        true,
}

// IsReadOnly reports whether every statement in sql only reads from the store.
func IsReadOnly(sql string) bool {
	_, ok := readOnlyQueries(sql)
	return ok
}

// readOnlyQueries classifies each statement in sql and returns the query
// bodies that still need the engine check in checkSelect.
func readOnlyQueries(sql string) ([]string, bool) {
	var queries []string
	found := false
	for _, stmt := range splitStatements(stripComments(sql)) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		found = true
		ok, query := classify(stmt)
		if !ok {
			return nil, false
		}
		if query != "" {
			queries = append(queries, query)
		}
	}
	return queries, found
}

// classify reports whether stmt is read-only. When stmt is or wraps a
// query, that query is returned for the engine check.
func classify(stmt string) (bool, string) {
	body := strings.TrimLeft(stmt, "( \t\r\n")
	kw, n := firstWord(body)
	rest := strings.TrimSpace(body[n:])
	switch {
	case queryKeywords[kw]:
		return true, stmt
	case kw == "WITH":
		main, _ := firstWord(strings.TrimLeft(afterCTEs(rest), "( \t\r\n"))
		if !queryKeywords[main] {
			return false, ""
		}
		return true, stmt
	case kw == "EXPLAIN":
		next, _ := firstWord(rest)
		if next == "ANALYZE" || next == "ANALYSE" {
			return false, ""
		}
		return classify(rest)
	case kw == "DESCRIBE" || kw == "SHOW" || kw == "SUMMARIZE":
		next, _ := firstWord(strings.TrimLeft(rest, "( \t\r\n"))
		if queryKeywords[next] || next == "WITH" {
			return classify(rest)
		}
		return !writeKeywords[next], ""
	}
	return false, ""
}

// checkSelect asks the engine's parser whether query is a plain SELECT.
// Syntax errors are left for execution to report.
func checkSelect(ctx context.Context, conn duck.Connection, query string) error {
	var out string
	if err := conn.QueryRowContext(ctx, "SELECT json_serialize_sql(?)", query).Scan(&out); err != nil {
		if strings.Contains(err.Error(), "Parser Error") {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrNotReadOnly, err)
	}
	var res struct {
		Error        bool   `json:"error"`
		ErrorType    string `json:"error_type"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return fmt.Errorf("failed to decode serialized query: %w", err)
	}
	if res.Error && res.ErrorType != "parser" {
		return fmt.Errorf("%w: %s", ErrNotReadOnly, res.ErrorMessage)
	}
	return nil
}

// firstWord returns the leading keyword of s, upper-cased, and its length.
func firstWord(s string) (string, int) {
	lead := len(s) - len(strings.TrimLeft(s, " \t\r\n"))
	i := lead
	for i < len(s) && isWordByte(s[i]) {
		i++
	}
	return strings.ToUpper(s[lead:i]), i
}

// afterCTEs skips the common table expressions that follow WITH and returns
// the main statement, or "" when the list cannot be parsed.
func afterCTEs(s string) string {
	i := skipSpace(s, 0)
	if w, n := firstWord(s[i:]); w == "RECURSIVE" {
		i += n
	}
	for {
		i = skipSpace(s, i)
		j := skipIdent(s, i)
		if j == i {
			return ""
		}
		i = skipSpace(s, j)
		if i < len(s) && s[i] == '(' {
			if i = skipParens(s, i); i < 0 {
				return ""
			}
		}
		w, n := firstWord(s[i:])
		if w != "AS" {
			return ""
		}
		i += n
		if w, n := firstWord(s[i:]); w == "NOT" {
			i += n
		}
		if w, n := firstWord(s[i:]); w == "MATERIALIZED" {
			i += n
		}
		i = skipSpace(s, i)
		if i >= len(s) || s[i] != '(' {
			return ""
		}
		if i = skipParens(s, i); i < 0 {
			return ""
		}
		i = skipSpace(s, i)
		if i < len(s) && s[i] == ',' {
			i++
			continue
		}
		return s[i:]
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func skipSpace(s string, i int) int {
	for i < len(s) && strings.IndexByte(" \t\r\n", s[i]) >= 0 {
		i++
	}
	return i
}

func skipIdent(s string, i int) int {
	if i < len(s) && s[i] == '"' {
		if end := skipQuoted(s, i); end > 0 {
			return end
		}
		return i
	}
	for i < len(s) && isWordByte(s[i]) {
		i++
	}
	return i
}

// skipQuoted returns the index after the literal opening at s[i], or -1.
func skipQuoted(s string, i int) int {
	quote := s[i]
	for j := i + 1; j < len(s); j++ {
		if s[j] == quote {
			if j+1 < len(s) && s[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
	}
	return -1
}

// skipParens returns the index after the paren matching s[i], or -1.
func skipParens(s string, i int) int {
	depth := 0
	for i < len(s) {
		switch s[i] {
		case '\'', '"':
			end := skipQuoted(s, i)
			if end < 0 {
				return -1
			}
			i = end
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
		i++
	}
	return -1
}

// splitStatements splits on semicolons outside quoted strings and identifiers.
func splitStatements(sql string) []string {
	var (
		stmts []string
		quote byte
		start int
	)
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == ';':
			stmts = append(stmts, sql[start:i])
			start = i + 1
		}
	}
	return append(stmts, sql[start:])
}

// stripComments removes line and block comments outside quoted text.
func stripComments(sql string) string {
	var b strings.Builder
	for i := 0; i < len(sql); {
		switch {
		case sql[i] == '\'' || sql[i] == '"':
			end := skipQuoted(sql, i)
			if end < 0 {
				end = len(sql)
			}
			b.WriteString(sql[i:end])
			i = end
		case strings.HasPrefix(sql[i:], "--"):
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return strings.TrimSpace(b.String())
			}
			i += end
		case strings.HasPrefix(sql[i:], "/*"):
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return strings.TrimSpace(b.String())
			}
			b.WriteByte(' ')
			i += end + 4
		default:
			b.WriteByte(sql[i])
			i++
		}
	}
	return strings.TrimSpace(b.String())
}
