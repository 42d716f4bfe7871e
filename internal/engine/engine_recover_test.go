package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/petrijr/taskgraph/pkg/api"
)

// crashThenResume drives a run until its only task is executing, abandons
// it the way a dying process would, and resumes it on a second engine that
// shares the stores.
func crashThenResume(t *testing.T, maxRetries int) (*api.WorkflowRun, *engineImpl) {
	t.Helper()
	ctx := testContext(t)

	started := make(chan struct{})
	first := newTestEngine(t, api.TaskExecutorFunc(func(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
		close(started)
		<-ctx.Done()
		return api.TaskResult{}, ctx.Err()
	}))
	def := api.WorkflowDefinition{
		ID:    "resumable",
		Tasks: []api.TaskSpec{{ID: "work", Capability: "x", MaxRetries: maxRetries}},
	}
	mustRegister(t, first, def)

	run, err := first.CreateRun(ctx, "resumable", "", nil)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	crashCtx, crash := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := first.Execute(crashCtx, run.ID)
		done <- err
	}()
	<-started
	crash()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected the abandoned execution to report context.Canceled, got %v", err)
	}

	stored, err := first.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stored.Status != api.RunRunning || stored.Task("work").Status != api.TaskRunning {
		t.Fatalf("expected RUNNING state left behind, got %s/%s", stored.Status, stored.Task("work").Status)
	}

	var attempts atomic.Int32
	second := newTestEngine(t, api.TaskExecutorFunc(func(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
		attempts.Add(1)
		return api.TaskResult{Outputs: map[string]any{"attempt": req.Attempt}}, nil
	}), func(c *Config) { c.Persistence = first.cfg.Persistence })

	ids, err := second.RecoverRuns(ctx)
	if err != nil {
		t.Fatalf("RecoverRuns failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != run.ID {
		t.Fatalf("expected %s to be recoverable, got %v", run.ID, ids)
	}

	resumed, err := second.Execute(ctx, run.ID)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return resumed, second
}

func TestResumeTreatsRunningTaskAsLostAndRetries(t *testing.T) {
	run, e := crashThenResume(t, 1)

	if run.Status != api.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}
	work := expectTask(t, run, "work", api.TaskSucceeded)
	if work.Attempts != 2 || work.Outputs["attempt"] != 2 {
		t.Fatalf("expected the retry to be attempt 2, got %d (%v)", work.Attempts, work.Outputs)
	}

	evs, err := e.ListEvents(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	var types []api.EventType
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	for _, want := range []api.EventType{api.EventRunResumed, api.EventTaskLost, api.EventTaskRetryScheduled, api.EventRunCompleted} {
		if !containsEvent(types, want) {
			t.Fatalf("expected %s in history, got %v", want, types)
		}
	}
}

func TestResumeWithoutRetriesFailsWithLostExecution(t *testing.T) {
	run, _ := crashThenResume(t, 0)

	if run.Status != api.RunFailed {
		t.Fatalf("expected FAILED, got %s", run.Status)
	}
	work := expectTask(t, run, "work", api.TaskFailed)
	if work.Error == nil || work.Error.Kind != api.KindLostExecution {
		t.Fatalf("expected LostExecution, got %v", work.Error)
	}
}
