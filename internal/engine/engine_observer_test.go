package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/taskgraph/pkg/api"
)

// fakeObserver records all calls from the engine so we can assert on them.
type fakeObserver struct {
	mu sync.Mutex

	runStarts    int
	runCompletes int
	runFails     []error
	taskStarts   []string
	taskDone     []taskCompletion
	retries      int
}

type taskCompletion struct {
	TaskID  string
	Attempt int
	Err     error
}

func (o *fakeObserver) OnRunStart(ctx context.Context, run *api.WorkflowRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStarts++
}

func (o *fakeObserver) OnRunCompleted(ctx context.Context, run *api.WorkflowRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runCompletes++
}

func (o *fakeObserver) OnRunFailed(ctx context.Context, run *api.WorkflowRun, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runFails = append(o.runFails, err)
}

func (o *fakeObserver) OnRunCancelled(ctx context.Context, run *api.WorkflowRun) {}

func (o *fakeObserver) OnTaskStart(ctx context.Context, run *api.WorkflowRun, taskID string, attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taskStarts = append(o.taskStarts, taskID)
}

func (o *fakeObserver) OnTaskCompleted(ctx context.Context, run *api.WorkflowRun, taskID string, attempt int, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.taskDone = append(o.taskDone, taskCompletion{TaskID: taskID, Attempt: attempt, Err: err})
}

func (o *fakeObserver) OnTaskRetry(ctx context.Context, run *api.WorkflowRun, taskID string, attempt int, delay time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *fakeObserver) OnApprovalRequested(ctx context.Context, run *api.WorkflowRun, req *api.ApprovalRequest) {
}

func TestObserverHooksOnSuccessfulRun(t *testing.T) {
	ctx := testContext(t)
	obs := &fakeObserver{}
	e := newTestEngine(t, byTask(nil), func(c *Config) { c.Observer = obs })
	mustRegister(t, e, api.WorkflowDefinition{
		ID:    "observed",
		Tasks: []api.TaskSpec{{ID: "a", Capability: "x"}, {ID: "b", Capability: "x", DependsOn: []string{"a"}}},
	})

	if _, err := e.Run(ctx, "observed", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if obs.runStarts != 1 || obs.runCompletes != 1 || len(obs.runFails) != 0 {
		t.Fatalf("unexpected run hooks: starts=%d completes=%d fails=%d", obs.runStarts, obs.runCompletes, len(obs.runFails))
	}
	if len(obs.taskStarts) != 2 || obs.taskStarts[0] != "a" || obs.taskStarts[1] != "b" {
		t.Fatalf("unexpected task starts %v", obs.taskStarts)
	}
	for _, d := range obs.taskDone {
		if d.Err != nil || d.Attempt != 1 {
			t.Fatalf("unexpected completion %+v", d)
		}
	}
}

func TestObserverHooksOnFailedRun(t *testing.T) {
	ctx := testContext(t)
	obs := &fakeObserver{}
	e := newTestEngine(t, api.TaskExecutorFunc(func(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
		return api.TaskResult{}, api.Transientf("flaky")
	}), func(c *Config) { c.Observer = obs })
	mustRegister(t, e, api.WorkflowDefinition{ID: "failing", Tasks: []api.TaskSpec{{ID: "a", Capability: "x", MaxRetries: 2}}})

	if _, err := e.Run(ctx, "failing", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(obs.runFails) != 1 || obs.runCompletes != 0 {
		t.Fatalf("expected exactly one failure hook, got fails=%d completes=%d", len(obs.runFails), obs.runCompletes)
	}
	if obs.retries != 2 || len(obs.taskDone) != 3 {
		t.Fatalf("expected 2 retries over 3 attempts, got %d/%d", obs.retries, len(obs.taskDone))
	}
}

func TestBasicMetricsObserver(t *testing.T) {
	ctx := testContext(t)
	metrics := &api.BasicMetrics{}
	e := newTestEngine(t, byTask(nil), func(c *Config) { c.Observer = metrics })
	mustRegister(t, e, api.WorkflowDefinition{ID: "metered", Tasks: []api.TaskSpec{{ID: "a", Capability: "x"}, {ID: "b", Capability: "x"}}})

	if _, err := e.Run(ctx, "metered", nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	snap := metrics.Snapshot()
	if snap.RunsStarted != 1 || snap.RunsCompleted != 1 || snap.TaskAttempts != 2 || snap.ActiveRuns != 0 {
		t.Fatalf("unexpected metrics snapshot %+v", snap)
	}
}
