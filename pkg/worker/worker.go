package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/taskgraph/internal/taskqueue"
	"github.com/petrijr/taskgraph/pkg/api"
)

// Config controls how a Worker handles tasks whose processing fails.
type Config struct {
	// MaxAttempts is the number of times a task is picked up before it is
	// dropped. Values below 1 mean a single attempt.
	MaxAttempts int

	// Backoff is the delay before a failed task becomes eligible again,
	// multiplied by the attempt number.
	Backoff time.Duration

	Logger *slog.Logger
}

// Worker pulls tasks from a Queue and drives the referenced runs using an
// Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
}

// New creates a Worker that tries every task once.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a Worker with a requeue policy.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg,
	}
}

// EnqueueRun creates a run of the latest version of definitionID and
// enqueues it for execution. It does NOT execute the run; that is done by
// ProcessOne. The new run id is returned.
func (w *Worker) EnqueueRun(ctx context.Context, definitionID string, vars map[string]any) (string, error) {
	return w.EnqueueRunAt(ctx, definitionID, vars, time.Time{})
}

// EnqueueRunAt is EnqueueRun with execution deferred until at.
func (w *Worker) EnqueueRunAt(ctx context.Context, definitionID string, vars map[string]any, at time.Time) (string, error) {
	run, err := w.engine.CreateRun(ctx, definitionID, "", vars)
	if err != nil {
		return "", err
	}
	if err := w.Submit(ctx, run.ID, at); err != nil {
		return "", err
	}
	return run.ID, nil
}

// Submit enqueues execution of an already created run, due at at.
func (w *Worker) Submit(ctx context.Context, runID string, at time.Time) error {
	return w.queue.Enqueue(ctx, taskqueue.Task{
		ID:         uuid.NewString(),
		Type:       taskqueue.TaskTypeExecuteRun,
		RunID:      runID,
		EnqueuedAt: time.Now(),
		NotBefore:  at,
	})
}

// EnqueueRecovered enqueues a resume task for every run the engine reports
// as abandoned. It returns the number of tasks enqueued.
func (w *Worker) EnqueueRecovered(ctx context.Context) (int, error) {
	ids, err := w.engine.RecoverRuns(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		err := w.queue.Enqueue(ctx, taskqueue.Task{
			ID:         uuid.NewString(),
			Type:       taskqueue.TaskTypeResumeRun,
			RunID:      id,
			EnqueuedAt: time.Now(),
		})
		if err != nil {
			return i, err
		}
	}
	return len(ids), nil
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained, err says why (usually ctx)
//   - processed == true: a task was handled; err reports a processing
//     failure. A failed task is requeued while attempts remain.
//
// A run that ends Failed or Cancelled is a successful task.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	err = w.handle(ctx, task)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, api.ErrRunActive), errors.Is(err, api.ErrRunNotFound), errors.Is(err, api.ErrDeadlocked):
		// Another driver owns the run, or retrying cannot change the outcome.
		w.cfg.Logger.Info("dropping task", "task", task.ID, "run", task.RunID, "reason", err)
		return true, nil
	case ctx.Err() != nil:
		// Shutting down mid-run: the run is resumable, hand the task back.
		w.requeue(task, 0)
		return true, err
	}

	if task.Attempts < w.cfg.MaxAttempts {
		w.requeue(task, time.Duration(task.Attempts)*w.cfg.Backoff)
	} else {
		w.cfg.Logger.Warn("giving up on task", "task", task.ID, "run", task.RunID, "attempts", task.Attempts, "error", err)
	}
	return true, err
}

func (w *Worker) handle(ctx context.Context, task *taskqueue.Task) error {
	switch task.Type {
	case taskqueue.TaskTypeExecuteRun, taskqueue.TaskTypeResumeRun:
		if task.RunID == "" {
			return fmt.Errorf("worker: %s task %q has no run id", task.Type, task.ID)
		}
		_, err := w.engine.Execute(ctx, task.RunID)
		return err
	default:
		return fmt.Errorf("worker: unknown task type %q", task.Type)
	}
}

func (w *Worker) requeue(task *taskqueue.Task, delay time.Duration) {
	next := *task
	next.Type = taskqueue.TaskTypeResumeRun
	next.NotBefore = time.Now().Add(delay)

	// The caller's ctx may already be done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.queue.Enqueue(ctx, next); err != nil {
		w.cfg.Logger.Error("requeue failed", "task", task.ID, "run", task.RunID, "error", err)
	}
}
