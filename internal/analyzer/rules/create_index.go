package rules

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/dbrunner/internal/analyzer"
)

// CreateIndexRule flags CREATE INDEX without CONCURRENTLY, which blocks
// writes to the table for the whole build.
type CreateIndexRule struct{}

// NewCreateIndexRule creates a CreateIndexRule.
func NewCreateIndexRule() *CreateIndexRule { return &CreateIndexRule{} }

// ID returns the rule identifier.
func (r *CreateIndexRule) ID() string { return "create-index-not-concurrent" }

// Check implements analyzer.Rule.
func (r *CreateIndexRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	idx := stmt.GetStmt().GetIndexStmt()
	if idx == nil || idx.GetConcurrent() {
		return nil
	}

	return []analyzer.Finding{{
		Rule:       r.ID(),
		Severity:   analyzer.High,
		Table:      analyzer.TableName(idx.GetRelation()),
		Message:    "CREATE INDEX without CONCURRENTLY blocks writes until the index is built",
		Suggestion: "Use CREATE INDEX CONCURRENTLY in a script of its own",
		LockType:   "SHARE",
		StmtIndex:  ctx.StmtIndex,
	}}
}
