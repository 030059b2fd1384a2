// Package rules holds the built-in preflight rules.
package rules

import "github.com/aqasim81/dbrunner/internal/analyzer"

// NewDefaultRegistry returns a Registry with every built-in rule.
func NewDefaultRegistry() *analyzer.Registry {
	r := analyzer.NewRegistry()
	r.Register(NewCreateIndexRule())
	r.Register(NewAddColumnRule())
	r.Register(NewAddConstraintRule())
	r.Register(NewAlterColumnTypeRule())
	r.Register(NewSetNotNullRule())
	r.Register(NewDropTableRule())
	r.Register(NewLockTableRule())
	r.Register(NewRenameRule())
	r.Register(NewVacuumFullRule())
	r.Register(NewUnboundedWriteRule())

	return r
}
