package analyzer

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/dbrunner/internal/script"
)

// Rule inspects one parsed statement.
type Rule interface {
	// ID returns a unique kebab-case identifier.
	ID() string
	Check(stmt *pg_query.RawStmt, ctx *RuleContext) []Finding
}

// RuleContext is what a rule knows about the statement's surroundings.
type RuleContext struct {
	Script          *script.Script
	TargetPGVersion int
	StmtIndex       int
}

// Registry holds rules in registration order.
type Registry struct {
	rules []Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a rule.
func (r *Registry) Register(rule Rule) {
	r.rules = append(r.rules, rule)
}

// Rules returns the registered rules.
func (r *Registry) Rules() []Rule {
	return r.rules
}

// TableName formats a RangeVar as [schema.]table.
func TableName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "<unknown>"
	}

	if rv.GetSchemaname() != "" {
		return rv.GetSchemaname() + "." + rv.GetRelname()
	}

	return rv.GetRelname()
}

// ExtractStmtSQL returns the text of statement idx within fullSQL.
func ExtractStmtSQL(stmts []*pg_query.RawStmt, idx int, fullSQL string) string {
	if idx < 0 || idx >= len(stmts) {
		return ""
	}

	start := int(stmts[idx].GetStmtLocation())

	end := len(fullSQL)
	if idx+1 < len(stmts) {
		end = int(stmts[idx+1].GetStmtLocation())
	}

	if start > len(fullSQL) || end > len(fullSQL) || start >= end {
		return ""
	}

	return strings.TrimSpace(fullSQL[start:end])
}
