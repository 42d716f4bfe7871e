package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/taskgraph/internal/persistence"
	"github.com/petrijr/taskgraph/pkg/api"
)

type taskFunc func(ctx context.Context, req api.TaskRequest) (api.TaskResult, error)

// byTask dispatches on task id. Tasks without a function succeed and echo
// their inputs as outputs.
func byTask(fns map[string]taskFunc) api.TaskExecutor {
	return api.TaskExecutorFunc(func(ctx context.Context, req api.TaskRequest) (api.TaskResult, error) {
		if fn, ok := fns[req.TaskID]; ok {
			return fn(ctx, req)
		}
		return api.TaskResult{Outputs: req.Inputs}, nil
	})
}

func testConfig(exec api.TaskExecutor) Config {
	mem := persistence.NewInMemoryStore()
	return Config{
		Persistence:  persistence.FromStore(mem, persistence.NewInMemoryEventStore()),
		Executor:     exec,
		PollInterval: 5 * time.Millisecond,
		Backoff: api.BackoffPolicy{
			Base:       api.Duration(time.Millisecond),
			Max:        api.Duration(100 * time.Millisecond),
			Multiplier: 2,
			Jitter:     0.2,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestEngine(t *testing.T, exec api.TaskExecutor, opts ...func(*Config)) *engineImpl {
	t.Helper()
	cfg := testConfig(exec)
	for _, o := range opts {
		o(&cfg)
	}
	return newEngine(cfg)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustRegister(t *testing.T, e api.Engine, def api.WorkflowDefinition) {
	t.Helper()
	if err := e.RegisterDefinition(context.Background(), def); err != nil {
		t.Fatalf("RegisterDefinition failed: %v", err)
	}
}

func taskOf(t *testing.T, run *api.WorkflowRun, id string) *api.TaskRun {
	t.Helper()
	tr := run.Task(id)
	if tr == nil {
		t.Fatalf("run %s has no task %q", run.ID, id)
	}
	return tr
}

func expectTask(t *testing.T, run *api.WorkflowRun, id string, want api.TaskStatus) *api.TaskRun {
	t.Helper()
	tr := taskOf(t, run, id)
	if tr.Status != want {
		t.Fatalf("task %s: expected %s, got %s (error %v)", id, want, tr.Status, tr.Error)
	}
	return tr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// callLog records executor calls in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(s string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == s {
			n++
		}
	}
	return n
}
