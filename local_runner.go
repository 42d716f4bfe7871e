package taskgraph

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/taskgraph/internal/taskqueue"
	"github.com/petrijr/taskgraph/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a
// Worker to provide a simple "local runner" for development and tests.
//
// Typical usage:
//
//	runner := taskgraph.NewLocalRunner(taskgraph.BuiltinExecutor())
//	taskgraph.New("my-graph").Task(...).MustRegister(ctx, runner.Engine)
//
//	// Synchronous run (no queue/worker involved):
//	run, err := runner.Engine.Run(ctx, "my-graph", vars)
//
//	// Asynchronous run:
//	_ = runner.StartWorkers(ctx, 2)
//	id, _ := runner.RunAsync(ctx, "my-graph", vars)
//	run, _ = runner.Engine.Await(ctx, id)
//	_ = runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner.
	Engine Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool
}

// NewLocalRunner constructs a LocalRunner whose engine runs tasks with exec.
func NewLocalRunner(exec TaskExecutor, opts ...Option) *LocalRunner {
	eng := NewInMemoryEngine(exec, opts...)
	q := taskqueue.NewInMemoryQueue(1024)
	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: worker.New(eng, q),
	}
}

// StartWorkers starts concurrency worker goroutines that call
// Worker.ProcessOne until Stop. Calling it twice without Stop is an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("taskgraph: LocalRunner already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	r.cancel = cancel
	r.group = g
	r.running = true

	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				_, err := r.Worker.ProcessOne(ctx)
				if ctx.Err() != nil {
					// Cancellation is a clean shutdown.
					return nil
				}
				if err != nil {
					// Keep going so a single bad task doesn't kill the loop.
					slog.Warn("taskgraph: local runner worker error", "error", err)
				}
			}
		})
	}
	return nil
}

// Stop cancels the worker goroutines and waits for them to exit.
func (r *LocalRunner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel, g := r.cancel, r.group
	r.running = false
	r.cancel, r.group = nil, nil
	r.mu.Unlock()

	cancel()
	return g.Wait()
}

// RunAsync creates a run and enqueues it for the workers. The definition
// must already be registered on Engine.
func (r *LocalRunner) RunAsync(ctx context.Context, definitionID string, vars map[string]any) (string, error) {
	return r.Worker.EnqueueRun(ctx, definitionID, vars)
}
