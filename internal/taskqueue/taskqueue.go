// Package taskqueue delivers run-execution work to workers.
package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeExecuteRun drives a freshly created run.
	TaskTypeExecuteRun TaskType = "execute-run"
	// TaskTypeResumeRun drives a run left non-terminal by a crashed process.
	TaskTypeResumeRun TaskType = "resume-run"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID    string
	Type  TaskType
	RunID string

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time

	// Attempts counts how many times a worker has picked the task up.
	Attempts int
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
