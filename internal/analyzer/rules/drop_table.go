package rules

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/dbrunner/internal/analyzer"
)

// DropTableRule flags DROP TABLE and TRUNCATE.
type DropTableRule struct{}

// NewDropTableRule creates a DropTableRule.
func NewDropTableRule() *DropTableRule { return &DropTableRule{} }

// ID returns the rule identifier.
func (r *DropTableRule) ID() string { return "drop-table" }

// Check implements analyzer.Rule.
func (r *DropTableRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	node := stmt.GetStmt()

	if drop := node.GetDropStmt(); drop != nil && drop.GetRemoveType() == pg_query.ObjectType_OBJECT_TABLE {
		return []analyzer.Finding{{
			Rule:       r.ID(),
			Severity:   analyzer.Critical,
			Table:      strings.Join(droppedTables(drop), ", "),
			Message:    "DROP TABLE permanently deletes the table and its data",
			Suggestion: "Take a backup and confirm no deployed code still reads the table",
			LockType:   "ACCESS EXCLUSIVE",
			StmtIndex:  ctx.StmtIndex,
		}}
	}

	if trunc := node.GetTruncateStmt(); trunc != nil {
		var tables []string

		for _, rel := range trunc.GetRelations() {
			if rv := rel.GetRangeVar(); rv != nil {
				tables = append(tables, analyzer.TableName(rv))
			}
		}

		return []analyzer.Finding{{
			Rule:       r.ID(),
			Severity:   analyzer.Critical,
			Table:      strings.Join(tables, ", "),
			Message:    "TRUNCATE deletes every row and cannot be undone once committed",
			Suggestion: "Take a backup first, or delete the specific rows instead",
			LockType:   "ACCESS EXCLUSIVE",
			StmtIndex:  ctx.StmtIndex,
		}}
	}

	return nil
}

// droppedTables returns the dotted names in a DROP's object list.
func droppedTables(drop *pg_query.DropStmt) []string {
	var tables []string

	for _, obj := range drop.GetObjects() {
		var parts []string

		for _, item := range obj.GetList().GetItems() {
			if s := item.GetString_(); s != nil {
				parts = append(parts, s.GetSval())
			}
		}

		if len(parts) > 0 {
			tables = append(tables, strings.Join(parts, "."))
		}
	}

	return tables
}
