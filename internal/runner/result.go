package runner

import (
	"time"

	"github.com/google/uuid"

	"github.com/aqasim81/dbrunner/internal/script"
)

// State is a step of a single run.
type State int

// Run states, in the order a successful run passes through them.
const (
	StateIdle State = iota
	StateEnsuringStore
	StateAcquiringLock
	StateApplyingMigrations
	StateApplyingSeeds
	StateReleasingLock
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnsuringStore:
		return "ensuring_store"
	case StateAcquiringLock:
		return "acquiring_lock"
	case StateApplyingMigrations:
		return "applying_migrations"
	case StateApplyingSeeds:
		return "applying_seeds"
	case StateReleasingLock:
		return "releasing_lock"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the per-script outcome of a run.
type Status string

// Script outcome statuses.
const (
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back" // applied, then undone by the run-wide transaction
	StatusPlanned    Status = "planned"     // dry run
)

// Outcome is what happened to one pending script.
type Outcome struct {
	ScriptID string
	Scope    script.Scope
	Status   Status
	Duration time.Duration
	Err      error
}

// Result summarises a run. It is returned to the caller and not persisted
// beyond the ledger.
type Result struct {
	RunID    uuid.UUID
	State    State
	Outcomes []Outcome
	// Skipped counts scripts that were already in the ledger.
	Skipped   int
	Succeeded bool
	Err       error
	// ReleaseErr is set when the lock could not be released cleanly. It is
	// logged but does not fail an otherwise successful run.
	ReleaseErr error
	Duration   time.Duration
}

// Count returns the number of outcomes with the given status.
func (r *Result) Count(status Status) int {
	n := 0

	for i := range r.Outcomes {
		if r.Outcomes[i].Status == status {
			n++
		}
	}

	return n
}

// Failure returns the failed outcome, if any.
func (r *Result) Failure() (Outcome, bool) {
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == StatusFailed {
			return r.Outcomes[i], true
		}
	}

	return Outcome{}, false
}

func (r *Result) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

// markRolledBack downgrades applied outcomes after the run-wide
// transaction was rolled back.
func (r *Result) markRolledBack() {
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == StatusApplied {
			r.Outcomes[i].Status = StatusRolledBack
		}
	}
}
