package taskqueue

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/taskgraph/internal/testutil"
)

type PostgresQueueTestSuite struct {
	suite.Suite
	db    *sql.DB
	queue *PostgresQueue
}

func TestPostgresQueueSuite(t *testing.T) {
	dsn := testutil.StartPostgres(t)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewPostgresQueue(db)
	if err != nil {
		t.Fatalf("NewPostgresQueue: %v", err)
	}
	q.pollInterval = 10 * time.Millisecond
	suite.Run(t, &PostgresQueueTestSuite{db: db, queue: q})
}

func (s *PostgresQueueTestSuite) SetupTest() {
	_, err := s.db.Exec(`DELETE FROM taskgraph_queue`)
	s.Require().NoError(err)
}

func (s *PostgresQueueTestSuite) TestFIFO() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, id := range []string{"r1", "r2"} {
		s.Require().NoError(s.queue.Enqueue(ctx, Task{ID: "t-" + id, Type: TaskTypeExecuteRun, RunID: id}))
	}
	s.Equal(2, s.queue.Len())

	first, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)
	second, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)

	s.Equal("r1", first.RunID)
	s.Equal("t-r1", first.ID)
	s.Equal("r2", second.RunID)
	s.Equal(1, first.Attempts)
	s.Equal(0, s.queue.Len())
}

func (s *PostgresQueueTestSuite) TestDelayedTaskIsHeldBack() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Require().NoError(s.queue.Enqueue(ctx, Task{Type: TaskTypeResumeRun, RunID: "later", NotBefore: time.Now().Add(300 * time.Millisecond)}))
	s.Require().NoError(s.queue.Enqueue(ctx, Task{Type: TaskTypeExecuteRun, RunID: "now"}))

	got, err := s.queue.Dequeue(ctx)
	s.Require().NoError(err)
	s.Equal("now", got.RunID)

	start := time.Now()
	got, err = s.queue.Dequeue(ctx)
	s.Require().NoError(err)
	s.Equal("later", got.RunID)
	s.Equal(TaskTypeResumeRun, got.Type)
	s.GreaterOrEqual(time.Since(start), 200*time.Millisecond)
}

func (s *PostgresQueueTestSuite) TestConcurrentConsumersDoNotDuplicate() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 20
	for i := range n {
		s.Require().NoError(s.queue.Enqueue(ctx, Task{Type: TaskTypeExecuteRun, RunID: string(rune('a' + i))}))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				done := len(seen) == n
				mu.Unlock()
				if done {
					return
				}
				dctx, dcancel := context.WithTimeout(ctx, 200*time.Millisecond)
				task, err := s.queue.Dequeue(dctx)
				dcancel()
				if err != nil {
					continue
				}
				mu.Lock()
				seen[task.RunID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Len(seen, n)
	for id, count := range seen {
		s.Equalf(1, count, "task %s delivered %d times", id, count)
	}
}

func (s *PostgresQueueTestSuite) TestDequeueHonorsContextCancellation() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.queue.Dequeue(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}
