package sqlite

import (
	"database/sql"
	"fmt"
)

const tableName = "policy"

// schema is idempotent and safe to run on every open.
const schema = `
CREATE TABLE IF NOT EXISTS policy (
	id      INTEGER PRIMARY KEY,
	stamp   INTEGER NOT NULL DEFAULT 0,
	key     TEXT    NOT NULL,
	version TEXT    NOT NULL,
	policy  TEXT    NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS policy_key_idx ON policy (key);
CREATE INDEX IF NOT EXISTS policy_stamp_idx ON policy (stamp);`

// tableExists reports whether the policy table is present.
func tableExists(conn *sql.DB) (bool, error) {
	var name string
	err := conn.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// bootstrap ensures the policy table and its indexes exist.
func bootstrap(conn *sql.DB) error {
	exists, err := tableExists(conn)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if !exists {
		plog.Infof("table %q does not exist, creating it", tableName)
	}
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
