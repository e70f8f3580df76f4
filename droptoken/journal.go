package droptoken

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Journal durably records drop tokens a ledger has accepted but not yet
// drained into a NextEvent request, so a crashed and restarted node process
// does not silently lose track of payloads it had not yet acknowledged.
// This is an opt-in extension beyond spec.md's literal scope (see
// SPEC_FULL.md §4.3); the default Ledger is purely in-memory and nothing in
// spec.md §8's testable properties depends on persistence.
//
// Modeled on the pumped-go health-monitor example's use of
// database/sql + mattn/go-sqlite3 for its own durable event history.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens (creating if necessary) a SQLite-backed journal at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open drop token journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping drop token journal: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS pending_drop_tokens (
		token TEXT PRIMARY KEY
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init drop token journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record persists token as pending.
func (j *Journal) Record(token string) error {
	_, err := j.db.Exec(`INSERT OR IGNORE INTO pending_drop_tokens (token) VALUES (?)`, token)
	return err
}

// Forget removes token once it has been drained into a NextEvent request.
func (j *Journal) Forget(token string) error {
	_, err := j.db.Exec(`DELETE FROM pending_drop_tokens WHERE token = ?`, token)
	return err
}

// Pending returns every token still recorded as outstanding, for recovery
// after a crash and restart.
func (j *Journal) Pending() ([]string, error) {
	rows, err := j.db.Query(`SELECT token FROM pending_drop_tokens`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
