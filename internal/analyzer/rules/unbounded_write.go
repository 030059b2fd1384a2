package rules

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/dbrunner/internal/analyzer"
)

// UnboundedWriteRule flags UPDATE and DELETE without a WHERE clause, a
// common mistake in data fixes and seed scripts.
type UnboundedWriteRule struct{}

// NewUnboundedWriteRule creates an UnboundedWriteRule.
func NewUnboundedWriteRule() *UnboundedWriteRule { return &UnboundedWriteRule{} }

// ID returns the rule identifier.
func (r *UnboundedWriteRule) ID() string { return "unbounded-write" }

// Check implements analyzer.Rule.
func (r *UnboundedWriteRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	node := stmt.GetStmt()

	if del := node.GetDeleteStmt(); del != nil && del.GetWhereClause() == nil {
		return []analyzer.Finding{{
			Rule:       r.ID(),
			Severity:   analyzer.Critical,
			Table:      analyzer.TableName(del.GetRelation()),
			Message:    "DELETE without WHERE removes every row",
			Suggestion: "Add a WHERE clause, or use TRUNCATE if emptying the table is intended",
			LockType:   "ROW EXCLUSIVE",
			StmtIndex:  ctx.StmtIndex,
		}}
	}

	if upd := node.GetUpdateStmt(); upd != nil && upd.GetWhereClause() == nil {
		return []analyzer.Finding{{
			Rule:       r.ID(),
			Severity:   analyzer.Medium,
			Table:      analyzer.TableName(upd.GetRelation()),
			Message:    "UPDATE without WHERE rewrites every row and holds row locks on all of them",
			Suggestion: "Add a WHERE clause, or backfill in batches",
			LockType:   "ROW EXCLUSIVE",
			StmtIndex:  ctx.StmtIndex,
		}}
	}

	return nil
}
