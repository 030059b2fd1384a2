package rules

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/dbrunner/internal/analyzer"
)

// VacuumFullRule flags VACUUM FULL, which rewrites the table.
type VacuumFullRule struct{}

// NewVacuumFullRule creates a VacuumFullRule.
func NewVacuumFullRule() *VacuumFullRule { return &VacuumFullRule{} }

// ID returns the rule identifier.
func (r *VacuumFullRule) ID() string { return "vacuum-full" }

// Check implements analyzer.Rule.
func (r *VacuumFullRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	vacuum := stmt.GetStmt().GetVacuumStmt()
	if vacuum == nil || !hasOption(vacuum.GetOptions(), "full") {
		return nil
	}

	table := "<all tables>"

	for _, rel := range vacuum.GetRels() {
		if rv := rel.GetVacuumRelation().GetRelation(); rv != nil {
			table = analyzer.TableName(rv)

			break
		}
	}

	return []analyzer.Finding{{
		Rule:       r.ID(),
		Severity:   analyzer.High,
		Table:      table,
		Message:    "VACUUM FULL rewrites the table under an ACCESS EXCLUSIVE lock",
		Suggestion: "Use plain VACUUM, or pg_repack for online compaction",
		LockType:   "ACCESS EXCLUSIVE",
		StmtIndex:  ctx.StmtIndex,
	}}
}

func hasOption(opts []*pg_query.Node, name string) bool {
	for _, opt := range opts {
		if opt.GetDefElem().GetDefname() == name {
			return true
		}
	}

	return false
}
