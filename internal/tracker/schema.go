package tracker

// LedgerTable is the name of the table that records applied scripts.
const LedgerTable = "schema_ledger"

// createSchemaSQL is the DDL for the ledger table. Migrations are stored
// with an empty environment; seeds under the environment they belong to.
const createSchemaSQL = `CREATE TABLE IF NOT EXISTS schema_ledger (
    phase        TEXT NOT NULL,
    environment  TEXT NOT NULL DEFAULT '',
    script_id    TEXT NOT NULL,
    checksum     TEXT NOT NULL,
    applied_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    duration_ms  INTEGER NOT NULL,
    status       TEXT NOT NULL DEFAULT 'applied',
    PRIMARY KEY (phase, environment, script_id)
)`
