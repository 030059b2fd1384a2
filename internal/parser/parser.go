// Package parser wraps the PostgreSQL parser used for script inspection.
package parser //nolint:revive // does not conflict with go/parser inside internal/

import (
	"errors"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// ParseResult holds the parsed statements and the original SQL.
type ParseResult struct {
	Stmts []*pg_query.RawStmt
	SQL   string
}

// Parse parses PostgreSQL SQL. Empty or whitespace-only input yields zero
// statements and no error.
func Parse(sql string) (*ParseResult, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return &ParseResult{SQL: sql}, nil
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parsing SQL: %w", err)
	}

	return &ParseResult{
		Stmts: tree.Stmts,
		SQL:   sql,
	}, nil
}

// ErrNotAlone is returned for a script that mixes a statement which cannot
// run in a transaction block with other statements. PostgreSQL runs a
// multi-statement query string as one implicit transaction, so such a
// statement has to be the only one in its script.
var ErrNotAlone = errors.New("statement must be the only one in its script")

// RequireAlone returns ErrNotAlone when sql holds a non-transactional
// statement next to any other statement.
func RequireAlone(sql string) error {
	result, err := Parse(sql)
	if err != nil {
		return err
	}

	if len(result.Stmts) < 2 {
		return nil
	}

	for _, raw := range result.Stmts {
		if kind := nonTransactionalKind(raw.GetStmt()); kind != "" {
			return fmt.Errorf("%w: %s shares the script with %d other statement(s)", ErrNotAlone, kind, len(result.Stmts)-1)
		}
	}

	return nil
}

// NonTransactional returns a short description of the first statement in
// sql that PostgreSQL refuses to run inside a transaction block, or ""
// when every statement may run in one.
func NonTransactional(sql string) (string, error) {
	result, err := Parse(sql)
	if err != nil {
		return "", err
	}

	for _, raw := range result.Stmts {
		if kind := nonTransactionalKind(raw.GetStmt()); kind != "" {
			return kind, nil
		}
	}

	return "", nil
}

func nonTransactionalKind(node *pg_query.Node) string {
	switch n := node.GetNode().(type) {
	case *pg_query.Node_IndexStmt:
		if n.IndexStmt.GetConcurrent() {
			return "CREATE INDEX CONCURRENTLY"
		}
	case *pg_query.Node_DropStmt:
		if n.DropStmt.GetConcurrent() {
			return "DROP INDEX CONCURRENTLY"
		}
	case *pg_query.Node_VacuumStmt:
		if n.VacuumStmt.GetIsVacuumcmd() {
			return "VACUUM"
		}
	case *pg_query.Node_CreatedbStmt:
		return "CREATE DATABASE"
	case *pg_query.Node_DropdbStmt:
		return "DROP DATABASE"
	}

	return ""
}
