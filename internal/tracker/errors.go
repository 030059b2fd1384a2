package tracker

import "errors"

// ErrTableCreation indicates the schema_ledger table could not be created.
var ErrTableCreation = errors.New("creating schema_ledger table")
