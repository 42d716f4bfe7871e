package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Callbacks run on the scheduling loop of the run; implementations must be
// fast and must not retain run, which keeps changing after the call.
type Observer interface {
	// OnRunStart is called when a run begins (or resumes) execution.
	OnRunStart(ctx context.Context, run *WorkflowRun)

	OnRunCompleted(ctx context.Context, run *WorkflowRun)
	OnRunFailed(ctx context.Context, run *WorkflowRun, err error)
	OnRunCancelled(ctx context.Context, run *WorkflowRun)

	// OnTaskStart is called right before an attempt is dispatched.
	OnTaskStart(ctx context.Context, run *WorkflowRun, taskID string, attempt int)

	// OnTaskCompleted is called for every finished attempt, successful or
	// not (err != nil).
	OnTaskCompleted(ctx context.Context, run *WorkflowRun, taskID string, attempt int, err error, d time.Duration)

	// OnTaskRetry is called when a failed attempt is scheduled for retry.
	OnTaskRetry(ctx context.Context, run *WorkflowRun, taskID string, attempt int, delay time.Duration)

	OnApprovalRequested(ctx context.Context, run *WorkflowRun, req *ApprovalRequest)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(context.Context, *WorkflowRun)            {}
func (NoopObserver) OnRunCompleted(context.Context, *WorkflowRun)        {}
func (NoopObserver) OnRunFailed(context.Context, *WorkflowRun, error)    {}
func (NoopObserver) OnRunCancelled(context.Context, *WorkflowRun)        {}
func (NoopObserver) OnTaskStart(context.Context, *WorkflowRun, string, int) {}
func (NoopObserver) OnTaskCompleted(context.Context, *WorkflowRun, string, int, error, time.Duration) {
}
func (NoopObserver) OnTaskRetry(context.Context, *WorkflowRun, string, int, time.Duration) {}
func (NoopObserver) OnApprovalRequested(context.Context, *WorkflowRun, *ApprovalRequest) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *WorkflowRun) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunCompleted(ctx context.Context, run *WorkflowRun) {
	for _, o := range c.observers {
		o.OnRunCompleted(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *WorkflowRun, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnRunCancelled(ctx context.Context, run *WorkflowRun) {
	for _, o := range c.observers {
		o.OnRunCancelled(ctx, run)
	}
}

func (c *CompositeObserver) OnTaskStart(ctx context.Context, run *WorkflowRun, taskID string, attempt int) {
	for _, o := range c.observers {
		o.OnTaskStart(ctx, run, taskID, attempt)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, run *WorkflowRun, taskID string, attempt int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, run, taskID, attempt, err, d)
	}
}

func (c *CompositeObserver) OnTaskRetry(ctx context.Context, run *WorkflowRun, taskID string, attempt int, delay time.Duration) {
	for _, o := range c.observers {
		o.OnTaskRetry(ctx, run, taskID, attempt, delay)
	}
}

func (c *CompositeObserver) OnApprovalRequested(ctx context.Context, run *WorkflowRun, req *ApprovalRequest) {
	for _, o := range c.observers {
		o.OnApprovalRequested(ctx, run, req)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run and task lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *WorkflowRun) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("definition", run.DefinitionID),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnRunCompleted(ctx context.Context, run *WorkflowRun) {
	o.Logger.InfoContext(ctx, "run_completed",
		slog.String("definition", run.DefinitionID),
		slog.String("run_id", run.ID),
		slog.Float64("total_cost", run.TotalCost),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *WorkflowRun, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("definition", run.DefinitionID),
		slog.String("run_id", run.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRunCancelled(ctx context.Context, run *WorkflowRun) {
	o.Logger.WarnContext(ctx, "run_cancelled",
		slog.String("definition", run.DefinitionID),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnTaskStart(ctx context.Context, run *WorkflowRun, taskID string, attempt int) {
	o.Logger.DebugContext(ctx, "task_start",
		slog.String("run_id", run.ID),
		slog.String("task", taskID),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, run *WorkflowRun, taskID string, attempt int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "task_completed",
		slog.String("run_id", run.ID),
		slog.String("task", taskID),
		slog.Int("attempt", attempt),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTaskRetry(ctx context.Context, run *WorkflowRun, taskID string, attempt int, delay time.Duration) {
	o.Logger.WarnContext(ctx, "task_retry",
		slog.String("run_id", run.ID),
		slog.String("task", taskID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
}

func (o *LoggingObserver) OnApprovalRequested(ctx context.Context, run *WorkflowRun, req *ApprovalRequest) {
	o.Logger.InfoContext(ctx, "approval_requested",
		slog.String("run_id", run.ID),
		slog.String("task", req.TaskID),
		slog.String("approval_id", req.ID),
		slog.Time("expires_at", req.ExpiresAt),
	)
}

// BasicMetrics collects simple counters and aggregate task durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	runsCancelled     atomic.Int64
	taskAttempts      atomic.Int64
	tasksSucceeded    atomic.Int64
	retries           atomic.Int64
	approvals         atomic.Int64
	totalTaskDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsCancelled int64
	ActiveRuns    int64

	TaskAttempts    int64
	TasksSucceeded  int64
	Retries         int64
	Approvals       int64
	AvgTaskDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *WorkflowRun) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunCompleted(ctx context.Context, run *WorkflowRun) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *WorkflowRun, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnRunCancelled(ctx context.Context, run *WorkflowRun) {
	m.runsCancelled.Add(1)
}

func (m *BasicMetrics) OnTaskStart(ctx context.Context, run *WorkflowRun, taskID string, attempt int) {
	m.taskAttempts.Add(1)
}

func (m *BasicMetrics) OnTaskCompleted(ctx context.Context, run *WorkflowRun, taskID string, attempt int, err error, d time.Duration) {
	// Only successful attempts count towards the average duration.
	if err == nil {
		m.tasksSucceeded.Add(1)
		m.totalTaskDuration.Add(d.Nanoseconds())
	}
}

func (m *BasicMetrics) OnTaskRetry(ctx context.Context, run *WorkflowRun, taskID string, attempt int, delay time.Duration) {
	m.retries.Add(1)
}

func (m *BasicMetrics) OnApprovalRequested(ctx context.Context, run *WorkflowRun, req *ApprovalRequest) {
	m.approvals.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	cancelled := m.runsCancelled.Load()
	succeeded := m.tasksSucceeded.Load()
	totalNs := m.totalTaskDuration.Load()

	var avg time.Duration
	if succeeded > 0 {
		avg = time.Duration(totalNs / succeeded)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		RunsCancelled:   cancelled,
		ActiveRuns:      started - completed - failed - cancelled,
		TaskAttempts:    m.taskAttempts.Load(),
		TasksSucceeded:  succeeded,
		Retries:         m.retries.Load(),
		Approvals:       m.approvals.Load(),
		AvgTaskDuration: avg,
	}
}
