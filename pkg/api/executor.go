package api

import (
	"context"
	"time"
)

// TaskRequest is handed to the TaskExecutor for one attempt.
type TaskRequest struct {
	RunID      string
	TaskID     string
	Capability string
	// Inputs is the rendered input template.
	Inputs  map[string]any
	Attempt int
	Timeout time.Duration
}

// TaskResult is what a successful attempt produces.
type TaskResult struct {
	Outputs map[string]any
	Cost    float64
}

// TaskExecutor runs task bodies. Errors should be wrapped with Transient or
// Permanent; unclassified errors are retried.
//
// Implementations must honour ctx cancellation: it is how timeouts and run
// cancellation abort in-flight work.
type TaskExecutor interface {
	Execute(ctx context.Context, req TaskRequest) (TaskResult, error)
}

// TaskExecutorFunc adapts a function to TaskExecutor.
type TaskExecutorFunc func(ctx context.Context, req TaskRequest) (TaskResult, error)

func (f TaskExecutorFunc) Execute(ctx context.Context, req TaskRequest) (TaskResult, error) {
	return f(ctx, req)
}
