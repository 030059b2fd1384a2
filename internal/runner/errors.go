package runner

import (
	"errors"
	"fmt"

	"github.com/aqasim81/dbrunner/internal/script"
)

// ErrLockTimeout indicates the migration lock was not acquired within the
// configured lock timeout. The ledger has not been touched.
var ErrLockTimeout = errors.New("migration lock timeout")

// ErrScriptExecution indicates a script failed to apply. Match it with
// errors.Is; errors.As with *ScriptError gives the script identifier.
var ErrScriptExecution = errors.New("script execution failed")

// ErrStoreUnavailable indicates the target store could not be created or reached.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrChecksumMismatch indicates an applied script's file content changed.
var ErrChecksumMismatch = errors.New("applied script checksum mismatch")

// ErrNonTransactional indicates a script that cannot run inside a
// transaction was found while the run uses a single run-wide transaction.
var ErrNonTransactional = errors.New("script cannot run inside the run transaction")

// ScriptError reports which script failed and why.
type ScriptError struct {
	ScriptID string
	Scope    script.Scope
	Err      error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s script %s: %v", ErrScriptExecution, e.Scope, e.ScriptID, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Is makes every ScriptError match ErrScriptExecution.
func (e *ScriptError) Is(target error) bool { return target == ErrScriptExecution }
