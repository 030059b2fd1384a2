package rules

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aqasim81/dbrunner/internal/analyzer"
)

// PostgreSQL major versions that made ALTER TABLE forms cheaper.
const (
	pgFastDefault      = 11 // ADD COLUMN with a non-volatile DEFAULT is metadata-only
	pgNotNullFromCheck = 12 // SET NOT NULL skips the scan when a valid CHECK proves it
)

// alterCmds returns the ALTER TABLE subcommands of the given type, along
// with the altered relation. Anything that is not ALTER TABLE yields nil.
func alterCmds(stmt *pg_query.RawStmt, subtype pg_query.AlterTableType) (*pg_query.RangeVar, []*pg_query.AlterTableCmd) {
	alt := stmt.GetStmt().GetAlterTableStmt()
	if alt == nil || alt.GetObjtype() != pg_query.ObjectType_OBJECT_TABLE {
		return nil, nil
	}

	var cmds []*pg_query.AlterTableCmd

	for _, n := range alt.GetCmds() {
		if cmd := n.GetAlterTableCmd(); cmd != nil && cmd.GetSubtype() == subtype {
			cmds = append(cmds, cmd)
		}
	}

	return alt.GetRelation(), cmds
}

// AddColumnRule flags ADD COLUMN with a DEFAULT that forces a table rewrite.
// Before PostgreSQL 11 every DEFAULT rewrites; from 11 only volatile ones do.
type AddColumnRule struct{}

// NewAddColumnRule creates an AddColumnRule.
func NewAddColumnRule() *AddColumnRule { return &AddColumnRule{} }

// ID returns the rule identifier.
func (r *AddColumnRule) ID() string { return "add-column-volatile-default" }

// Check implements analyzer.Rule.
func (r *AddColumnRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	rel, cmds := alterCmds(stmt, pg_query.AlterTableType_AT_AddColumn)

	var findings []analyzer.Finding

	for _, cmd := range cmds {
		def := columnDefault(cmd.GetDef().GetColumnDef())
		if def == nil {
			continue
		}

		msg := "ADD COLUMN with a volatile DEFAULT rewrites the whole table"

		if ctx.TargetPGVersion < pgFastDefault {
			msg = "ADD COLUMN with a DEFAULT rewrites the whole table before PostgreSQL 11"
		} else if !isVolatile(def) {
			continue
		}

		findings = append(findings, analyzer.Finding{
			Rule:       r.ID(),
			Severity:   analyzer.High,
			Table:      analyzer.TableName(rel),
			Message:    msg,
			Suggestion: "Add the column without a DEFAULT, then backfill it in batches",
			LockType:   "ACCESS EXCLUSIVE",
			StmtIndex:  ctx.StmtIndex,
		})
	}

	return findings
}

// columnDefault returns the DEFAULT expression of a column definition.
// pg_query keeps it as a CONSTR_DEFAULT entry in the constraint list.
func columnDefault(col *pg_query.ColumnDef) *pg_query.Node {
	for _, n := range col.GetConstraints() {
		if c := n.GetConstraint(); c != nil && c.GetContype() == pg_query.ConstrType_CONSTR_DEFAULT {
			return c.GetRawExpr()
		}
	}

	return nil
}

// isVolatile treats constants and casts of constants as stable. Function
// calls such as now() or gen_random_uuid() and everything else count as
// volatile.
func isVolatile(expr *pg_query.Node) bool {
	if expr.GetAConst() != nil {
		return false
	}

	if tc := expr.GetTypeCast(); tc != nil {
		return tc.GetArg().GetAConst() == nil
	}

	return true
}

// AddConstraintRule flags CHECK and FOREIGN KEY constraints added without
// NOT VALID, which validate every row under the table lock.
type AddConstraintRule struct{}

// NewAddConstraintRule creates an AddConstraintRule.
func NewAddConstraintRule() *AddConstraintRule { return &AddConstraintRule{} }

// ID returns the rule identifier.
func (r *AddConstraintRule) ID() string { return "add-constraint-without-not-valid" }

// Check implements analyzer.Rule.
func (r *AddConstraintRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	rel, cmds := alterCmds(stmt, pg_query.AlterTableType_AT_AddConstraint)

	var findings []analyzer.Finding

	for _, cmd := range cmds {
		c := cmd.GetDef().GetConstraint()
		if c == nil || c.GetSkipValidation() {
			continue
		}

		var lock string

		switch c.GetContype() {
		case pg_query.ConstrType_CONSTR_CHECK:
			lock = "ACCESS EXCLUSIVE"
		case pg_query.ConstrType_CONSTR_FOREIGN:
			lock = "SHARE ROW EXCLUSIVE"
		default:
			continue
		}

		findings = append(findings, analyzer.Finding{
			Rule:       r.ID(),
			Severity:   analyzer.High,
			Table:      analyzer.TableName(rel),
			Message:    "ADD CONSTRAINT without NOT VALID scans the whole table while holding the lock",
			Suggestion: "Add the constraint NOT VALID, then VALIDATE CONSTRAINT in a later script",
			LockType:   lock,
			StmtIndex:  ctx.StmtIndex,
		})
	}

	return findings
}

// AlterColumnTypeRule flags ALTER COLUMN ... TYPE, which rewrites the table
// and its indexes.
type AlterColumnTypeRule struct{}

// NewAlterColumnTypeRule creates an AlterColumnTypeRule.
func NewAlterColumnTypeRule() *AlterColumnTypeRule { return &AlterColumnTypeRule{} }

// ID returns the rule identifier.
func (r *AlterColumnTypeRule) ID() string { return "alter-column-type" }

// Check implements analyzer.Rule.
func (r *AlterColumnTypeRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	rel, cmds := alterCmds(stmt, pg_query.AlterTableType_AT_AlterColumnType)

	var findings []analyzer.Finding

	for _, cmd := range cmds {
		findings = append(findings, analyzer.Finding{
			Rule:       r.ID(),
			Severity:   analyzer.High,
			Table:      analyzer.TableName(rel),
			Message:    "ALTER COLUMN " + cmd.GetName() + " TYPE rewrites the whole table under an ACCESS EXCLUSIVE lock",
			Suggestion: "Add a new column, backfill it, switch readers over, then drop the old column",
			LockType:   "ACCESS EXCLUSIVE",
			StmtIndex:  ctx.StmtIndex,
		})
	}

	return findings
}

// SetNotNullRule flags SET NOT NULL. From PostgreSQL 12 the scan can be
// avoided with a validated CHECK constraint, so the finding drops to Medium.
type SetNotNullRule struct{}

// NewSetNotNullRule creates a SetNotNullRule.
func NewSetNotNullRule() *SetNotNullRule { return &SetNotNullRule{} }

// ID returns the rule identifier.
func (r *SetNotNullRule) ID() string { return "set-not-null" }

// Check implements analyzer.Rule.
func (r *SetNotNullRule) Check(stmt *pg_query.RawStmt, ctx *analyzer.RuleContext) []analyzer.Finding {
	rel, cmds := alterCmds(stmt, pg_query.AlterTableType_AT_SetNotNull)

	severity, suggestion := analyzer.High, "Enforce the constraint in the application until the table can be scanned offline"
	if ctx.TargetPGVersion >= pgNotNullFromCheck {
		severity = analyzer.Medium
		suggestion = "Add CHECK (col IS NOT NULL) NOT VALID, VALIDATE it, then SET NOT NULL"
	}

	var findings []analyzer.Finding

	for range cmds {
		findings = append(findings, analyzer.Finding{
			Rule:       r.ID(),
			Severity:   severity,
			Table:      analyzer.TableName(rel),
			Message:    "SET NOT NULL scans the whole table to prove there are no NULLs",
			Suggestion: suggestion,
			LockType:   "ACCESS EXCLUSIVE",
			StmtIndex:  ctx.StmtIndex,
		})
	}

	return findings
}
