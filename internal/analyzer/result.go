package analyzer

import "github.com/aqasim81/dbrunner/internal/script"

// Finding is one risky pattern detected in a script.
type Finding struct {
	Rule       string   // rule ID, e.g. "create-index-not-concurrent"
	Severity   Severity
	Table      string
	Statement  string // statement text, truncated for display
	Message    string
	Suggestion string
	LockType   string // PostgreSQL lock taken, e.g. "ACCESS EXCLUSIVE"
	StmtIndex  int    // 0-based position in the script
}

// Result holds the findings for one script.
type Result struct {
	Script      *script.Script
	Findings    []Finding
	MaxSeverity Severity
}

// HasHighOrCritical reports whether any finding is High or Critical.
func (r *Result) HasHighOrCritical() bool {
	return r.MaxSeverity >= High
}

// TruncateSQL shortens sql to at most maxLen bytes, ending in "...".
// A maxLen too small to hold the ellipsis returns sql unchanged.
func TruncateSQL(sql string, maxLen int) string {
	if len(sql) <= maxLen || maxLen < 4 {
		return sql
	}

	return sql[:maxLen-3] + "..."
}
