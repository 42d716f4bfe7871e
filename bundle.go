package taskgraph

import (
	"context"
	"database/sql"

	"github.com/petrijr/taskgraph/internal/taskqueue"
	workerpkg "github.com/petrijr/taskgraph/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that consumes tasks from that queue.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Definitions, runs, approvals, history and
// queued tasks all live in db.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:taskgraph.db?_pragma=journal_mode(WAL)")
//	bundle, err := taskgraph.NewSQLiteBundle(db, exec, worker.Config{MaxAttempts: 3})
//	// register definitions on bundle.Engine
//	// enqueue work via bundle.Worker
func NewSQLiteBundle(db *sql.DB, exec TaskExecutor, cfg workerpkg.Config, opts ...Option) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db, exec, opts...)
	if err != nil {
		return nil, err
	}

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	return &WorkerBundle{
		Engine: eng,
		Worker: workerpkg.NewWithConfig(eng, q, cfg),
		queue:  q,
	}, nil
}

// Pending returns the number of queued tasks.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}

// Recover enqueues every run left unfinished by a previous process.
func (b *WorkerBundle) Recover(ctx context.Context) (int, error) {
	return b.Worker.EnqueueRecovered(ctx)
}
