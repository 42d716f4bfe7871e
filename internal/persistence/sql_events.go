package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/taskgraph/pkg/api"
)

// SQLEventStore stores run events in SQLite or PostgreSQL.
type SQLEventStore struct {
	store *sqlStore
}

// Ensure SQLEventStore implements EventStore.
var _ EventStore = (*SQLEventStore)(nil)

// NewSQLiteEventStore creates the event table in a SQLite database.
func NewSQLiteEventStore(db *sql.DB) (*SQLEventStore, error) {
	return newSQLEventStore(db, sqlDialect{
		name: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS taskgraph_events (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id TEXT NOT NULL,
				at INTEGER NOT NULL,
				type TEXT NOT NULL,
				definition_id TEXT NOT NULL DEFAULT '',
				task_id TEXT NOT NULL DEFAULT '',
				attempt INTEGER NOT NULL DEFAULT 0,
				detail TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_taskgraph_events_run ON taskgraph_events(run_id, id)`,
		},
	})
}

// NewPostgresEventStore creates the event table in a PostgreSQL database.
func NewPostgresEventStore(db *sql.DB) (*SQLEventStore, error) {
	return newSQLEventStore(db, sqlDialect{
		name:     "postgres",
		numbered: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS taskgraph_events (
				id BIGSERIAL PRIMARY KEY,
				run_id TEXT NOT NULL,
				at BIGINT NOT NULL,
				type TEXT NOT NULL,
				definition_id TEXT NOT NULL DEFAULT '',
				task_id TEXT NOT NULL DEFAULT '',
				attempt INTEGER NOT NULL DEFAULT 0,
				detail TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_taskgraph_events_run ON taskgraph_events(run_id, id)`,
		},
	})
}

func newSQLEventStore(db *sql.DB, d sqlDialect) (*SQLEventStore, error) {
	s, err := newSQLStore(context.Background(), db, d)
	if err != nil {
		return nil, err
	}
	return &SQLEventStore{store: s}, nil
}

func (s *SQLEventStore) AppendEvent(ctx context.Context, ev api.RunEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.store.db.ExecContext(ctx, s.store.q(`
		INSERT INTO taskgraph_events (run_id, at, type, definition_id, task_id, attempt, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		ev.RunID,
		at.UnixNano(),
		string(ev.Type),
		ev.DefinitionID,
		ev.TaskID,
		ev.Attempt,
		ev.Detail,
	)
	return err
}

func (s *SQLEventStore) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	rows, err := s.store.db.QueryContext(ctx, s.store.q(`
		SELECT run_id, at, type, definition_id, task_id, attempt, detail
		FROM taskgraph_events
		WHERE run_id = ?
		ORDER BY id ASC`), runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.RunEvent
	for rows.Next() {
		var (
			id      string
			atN     int64
			typ     string
			defID   string
			taskID  string
			attempt int
			detail  string
		)
		if err := rows.Scan(&id, &atN, &typ, &defID, &taskID, &attempt, &detail); err != nil {
			return nil, err
		}
		out = append(out, api.RunEvent{
			RunID:        id,
			At:           time.Unix(0, atN),
			Type:         api.EventType(typ),
			DefinitionID: defID,
			TaskID:       taskID,
			Attempt:      attempt,
			Detail:       detail,
		})
	}
	return out, rows.Err()
}
