package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// PostgresQueue is a persistent task queue backed by a PostgreSQL table.
// Competing consumers claim rows with FOR UPDATE SKIP LOCKED, so several
// processes can drain the same queue. Open db with the pgx stdlib driver.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPostgresQueue creates the queue table if needed and returns the queue.
func NewPostgresQueue(db *sql.DB) (*PostgresQueue, error) {
	q := &PostgresQueue{db: db, pollInterval: 100 * time.Millisecond}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

var _ Queue = (*PostgresQueue)(nil)

func (q *PostgresQueue) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS taskgraph_queue (
			seq        BIGSERIAL PRIMARY KEY,
			payload    BYTEA NOT NULL,
			not_before TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS taskgraph_queue_due ON taskgraph_queue (not_before, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := q.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	notBefore := t.NotBefore
	if notBefore.IsZero() {
		notBefore = t.EnqueuedAt
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO taskgraph_queue (payload, not_before) VALUES ($1, $2)`, data, notBefore)
	return err
}

// Dequeue polls until a due task is claimed or ctx is done.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := time.NewTimer(q.pollInterval)
	defer tmr.Stop()

	for {
		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		tmr.Reset(q.pollInterval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tmr.C:
		}
	}
}

func (q *PostgresQueue) claim(ctx context.Context) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq     int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, payload
		FROM taskgraph_queue
		WHERE not_before <= now()
		ORDER BY not_before, seq
		FOR UPDATE SKIP LOCKED
		LIMIT 1`).Scan(&seq, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM taskgraph_queue WHERE seq = $1`, seq); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task, err := DecodeTask(payload)
	if err != nil {
		return nil, fmt.Errorf("decode queued task %d: %w", seq, err)
	}
	task.Attempts++
	return task, nil
}

// Len counts queued tasks, including ones not yet due.
func (q *PostgresQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM taskgraph_queue`).Scan(&n); err != nil {
		slog.Warn("postgres queue length failed", "error", err)
		return 0
	}
	return n
}
