package rules

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/dbrunner/internal/analyzer"
)

// LockTableRule flags explicit LOCK TABLE, one finding per table.
type LockTableRule struct{}

// NewLockTableRule creates a LockTableRule.
func NewLockTableRule() *LockTableRule { return &LockTableRule{} }

// ID returns the rule identifier.
func (r *LockTableRule) ID() string { return "lock-table" }

// Check implements analyzer.Rule.
func (r *LockTableRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	lock := stmt.GetStmt().GetLockStmt()
	if lock == nil {
		return nil
	}

	var findings []analyzer.Finding

	for _, rel := range lock.GetRelations() {
		rv := rel.GetRangeVar()
		if rv == nil {
			continue
		}

		findings = append(findings, analyzer.Finding{
			Rule:       r.ID(),
			Severity:   analyzer.High,
			Table:      analyzer.TableName(rv),
			Message:    "LOCK TABLE holds the lock until the script's transaction ends",
			Suggestion: "Drop the explicit lock and rely on the locks taken by the statements themselves",
			LockType:   "EXPLICIT",
			StmtIndex:  ctx.StmtIndex,
		})
	}

	return findings
}
