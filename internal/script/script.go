package script

import (
	"crypto/sha256"
	"encoding/hex"
)

// Phase identifies which ledger scope a script belongs to.
type Phase string

const (
	// PhaseMigration is a schema migration from the migrations directory.
	PhaseMigration Phase = "migration"
	// PhaseSeed is an environment-scoped data script from the seeds directory.
	PhaseSeed Phase = "seed"
)

// Script is a single executable SQL batch discovered on disk.
type Script struct {
	ID          string // "20250212-111700-initial-schema": file name without the .sql suffix
	Phase       Phase
	Environment string // seed scripts only
	Body        string // trimmed file contents
	Checksum    string // SHA-256 hex digest of Body
	FilePath    string
}

// Scope is the ledger key prefix for a phase: migrations use the empty
// environment, seeds use the environment they were discovered under.
type Scope struct {
	Phase       Phase
	Environment string
}

// Scope returns the ledger scope of the script.
func (s *Script) Scope() Scope {
	return Scope{Phase: s.Phase, Environment: s.Environment}
}

func (s Scope) String() string {
	if s.Environment == "" {
		return string(s.Phase)
	}

	return string(s.Phase) + "/" + s.Environment
}

// ComputeChecksum returns the SHA-256 hex digest of the given SQL string.
func ComputeChecksum(sql string) string {
	h := sha256.Sum256([]byte(sql))

	return hex.EncodeToString(h[:])
}
