package persistence

import (
	"context"
	"database/sql"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	*sqlStore
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

var sqliteDialect = sqlDialect{
	name:      "sqlite",
	seqColumn: "rowid",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS taskgraph_definitions (
			id TEXT NOT NULL,
			version TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			body BLOB NOT NULL,
			PRIMARY KEY (id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS taskgraph_runs (
			id TEXT PRIMARY KEY,
			definition_id TEXT NOT NULL,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			body BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_taskgraph_runs_status ON taskgraph_runs(status)`,
		`CREATE TABLE IF NOT EXISTS taskgraph_approvals (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			decision TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			body BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_taskgraph_approvals_decision ON taskgraph_approvals(decision)`,
	},
}

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s, err := newSQLStore(context.Background(), db, sqliteDialect)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{sqlStore: s}, nil
}
