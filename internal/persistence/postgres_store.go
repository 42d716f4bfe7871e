package persistence

import (
	"context"
	"database/sql"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	*sqlStore
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

var postgresDialect = sqlDialect{
	name:      "postgres",
	numbered:  true,
	seqColumn: "seq",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS taskgraph_definitions (
			seq BIGSERIAL,
			id TEXT NOT NULL,
			version TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			body BYTEA NOT NULL,
			PRIMARY KEY (id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS taskgraph_runs (
			id TEXT PRIMARY KEY,
			definition_id TEXT NOT NULL,
			status TEXT NOT NULL,
			version BIGINT NOT NULL,
			cancel_requested INTEGER NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			body BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_taskgraph_runs_status ON taskgraph_runs(status)`,
		`CREATE TABLE IF NOT EXISTS taskgraph_approvals (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			decision TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			body BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_taskgraph_approvals_decision ON taskgraph_approvals(decision)`,
	},
}

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s, err := newSQLStore(context.Background(), db, postgresDialect)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}
