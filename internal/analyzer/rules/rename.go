package rules

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/dbrunner/internal/analyzer"
)

// RenameRule flags table and column renames, which break any deployed code
// still using the old name.
type RenameRule struct{}

// NewRenameRule creates a RenameRule.
func NewRenameRule() *RenameRule { return &RenameRule{} }

// ID returns the rule identifier.
func (r *RenameRule) ID() string { return "rename" }

// Check implements analyzer.Rule.
func (r *RenameRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	rename := stmt.GetStmt().GetRenameStmt()
	if rename == nil {
		return nil
	}

	f := analyzer.Finding{
		Rule:      r.ID(),
		Severity:  analyzer.Medium,
		Table:     analyzer.TableName(rename.GetRelation()),
		LockType:  "ACCESS EXCLUSIVE",
		StmtIndex: ctx.StmtIndex,
	}

	switch rename.GetRenameType() {
	case pg_query.ObjectType_OBJECT_TABLE:
		f.Message = "RENAME TABLE breaks code that still uses the old table name"
		f.Suggestion = "Rename, then create a view under the old name until every reader has moved"
	case pg_query.ObjectType_OBJECT_COLUMN:
		f.Message = "RENAME COLUMN " + rename.GetSubname() + " breaks code that still uses the old column name"
		f.Suggestion = "Add the new column, backfill it, move readers over, then drop the old one"
	default:
		return nil
	}

	return []analyzer.Finding{f}
}
