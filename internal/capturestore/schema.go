// Package capturestore implements the capture store external collaborator
// contract: add_capture, list_captures, get_capture_by_id, backed by SQLite
// rather than the spec-named MongoDB (no Mongo driver exists anywhere in
// the reference corpus this repo was built from). Every store error
// collapses to a single Unknown error for callers, matching the contract.
package capturestore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// OpenDB opens (or creates) a SQLite database at path with WAL journal
// mode, synchronous=NORMAL, a 5s busy timeout and a single-writer
// connection pool.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open capture store db %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	return db, nil
}
