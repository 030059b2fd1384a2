// Package analyzer flags lock-heavy and destructive statements in SQL
// scripts before they run.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/aqasim81/dbrunner/internal/parser"
	"github.com/aqasim81/dbrunner/internal/script"
)

const (
	defaultPGVersion = 14
	statementDisplay = 120
)

// Option configures the Analyzer.
type Option func(*Analyzer)

// Analyzer runs registered rules against parsed scripts.
type Analyzer struct {
	registry  *Registry
	parseFn   func(string) (*parser.ParseResult, error)
	pgVersion int
}

// New creates an Analyzer with an empty registry unless WithRegistry is given.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		registry:  NewRegistry(),
		parseFn:   parser.Parse,
		pgVersion: defaultPGVersion,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// WithRegistry sets the rule registry.
func WithRegistry(r *Registry) Option {
	return func(a *Analyzer) { a.registry = r }
}

// WithPGVersion sets the target PostgreSQL major version.
func WithPGVersion(v int) Option {
	return func(a *Analyzer) { a.pgVersion = v }
}

// WithParser overrides the SQL parser.
func WithParser(fn func(string) (*parser.ParseResult, error)) Option {
	return func(a *Analyzer) { a.parseFn = fn }
}

// Analyze parses s and runs every rule over every statement.
func (a *Analyzer) Analyze(s *script.Script) (*Result, error) {
	parsed, err := a.parseFn(s.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s script %s: %w", s.Scope(), s.ID, err)
	}

	res := &Result{Script: s, MaxSeverity: Safe}
	text := strings.TrimSpace(parsed.SQL)

	for i, stmt := range parsed.Stmts {
		ctx := &RuleContext{Script: s, TargetPGVersion: a.pgVersion, StmtIndex: i}

		for _, rule := range a.registry.Rules() {
			for _, f := range rule.Check(stmt, ctx) {
				if f.Statement == "" {
					f.Statement = TruncateSQL(oneLine(ExtractStmtSQL(parsed.Stmts, i, text)), statementDisplay)
				}

				res.MaxSeverity = max(res.MaxSeverity, f.Severity)
				res.Findings = append(res.Findings, f)
			}
		}
	}

	return res, nil
}

// AnalyzeAll analyzes scripts in order and stops at the first parse error.
func (a *Analyzer) AnalyzeAll(scripts []script.Script) ([]Result, error) {
	results := make([]Result, 0, len(scripts))

	for i := range scripts {
		r, err := a.Analyze(&scripts[i])
		if err != nil {
			return nil, err
		}

		results = append(results, *r)
	}

	return results, nil
}

func oneLine(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
