// Package ddl inspects migration SQL with the PostgreSQL parser.
package ddl

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ParseResult holds the parsed AST and original SQL.
type ParseResult struct {
	Stmts []*pg_query.RawStmt
	SQL   string
}

// Parse parses a PostgreSQL SQL string and returns the AST.
// Returns an empty result (zero statements) for empty or whitespace-only input.
func Parse(sql string) (*ParseResult, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return &ParseResult{SQL: sql}, nil
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSQL, err)
	}

	return &ParseResult{
		Stmts: tree.Stmts,
		SQL:   sql,
	}, nil
}

// Split returns the individual statements of sql, without trailing
// semicolons. Statements that must run outside a transaction are executed
// one at a time, since a multi-statement string runs as one implicit
// transaction.
func Split(sql string) ([]string, error) {
	trimmed := strings.TrimSpace(sql)

	result, err := Parse(trimmed)
	if err != nil {
		return nil, err
	}

	stmts := make([]string, 0, len(result.Stmts))

	for _, raw := range result.Stmts {
		start := int(raw.GetStmtLocation())
		end := len(trimmed)

		// A zero length means the statement runs to the end of the input.
		if raw.GetStmtLen() > 0 {
			end = start + int(raw.GetStmtLen())
		}

		if start < 0 || start > end || end > len(trimmed) {
			return nil, fmt.Errorf("%w: statement bounds %d..%d outside input", ErrInvalidSQL, start, end)
		}

		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed[start:end]), ";"))
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}

	return stmts, nil
}
