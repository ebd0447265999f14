package database

import (
	"fmt"
)

// migrate creates the journal schema for the active driver
func (db *DB) migrate() error {
	migrations := []string{
		createBulkOperationsTable,
		createCredentialOutcomesSQLite,
		createOperationsStartedIndex,
		createOutcomesOperationIndex,
		createOutcomesUIDIndex,
	}
	if db.driver == DriverPostgres {
		migrations[1] = createCredentialOutcomesPostgres
	}

	for i, migration := range migrations {
		if _, err := db.conn.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	return nil
}

const createBulkOperationsTable = `
CREATE TABLE IF NOT EXISTS bulk_operations (
    id TEXT PRIMARY KEY,
    operation TEXT NOT NULL CHECK (operation IN ('assign', 'assign_master', 'unassign')),
    outcome TEXT NOT NULL CHECK (outcome IN ('success', 'partial', 'failure')),
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    device_count INTEGER NOT NULL,
    result_count INTEGER NOT NULL,
    auth_error_detected BOOLEAN NOT NULL DEFAULT FALSE,
    nothing_found BOOLEAN NOT NULL DEFAULT FALSE,
    counts TEXT NOT NULL,
    report TEXT NOT NULL
);`

const createCredentialOutcomesSQLite = `
CREATE TABLE IF NOT EXISTS credential_outcomes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation_id TEXT NOT NULL REFERENCES bulk_operations(id) ON DELETE CASCADE,
    device_id TEXT NOT NULL,
    gateway_id TEXT NOT NULL,
    uid TEXT NOT NULL,
    uid_key TEXT NOT NULL,
    status TEXT NOT NULL,
    slot INTEGER NULL,
    code TEXT,
    message TEXT,
    recorded_at TIMESTAMP NOT NULL
);`

const createCredentialOutcomesPostgres = `
CREATE TABLE IF NOT EXISTS credential_outcomes (
    id BIGSERIAL PRIMARY KEY,
    operation_id TEXT NOT NULL REFERENCES bulk_operations(id) ON DELETE CASCADE,
    device_id TEXT NOT NULL,
    gateway_id TEXT NOT NULL,
    uid TEXT NOT NULL,
    uid_key TEXT NOT NULL,
    status TEXT NOT NULL,
    slot INTEGER NULL,
    code TEXT,
    message TEXT,
    recorded_at TIMESTAMP NOT NULL
);`

const createOperationsStartedIndex = `CREATE INDEX IF NOT EXISTS idx_bulk_operations_started_at ON bulk_operations(started_at);`

const createOutcomesOperationIndex = `CREATE INDEX IF NOT EXISTS idx_credential_outcomes_operation ON credential_outcomes(operation_id);`

const createOutcomesUIDIndex = `CREATE INDEX IF NOT EXISTS idx_credential_outcomes_uid_key ON credential_outcomes(uid_key);`
