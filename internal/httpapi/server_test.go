package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/petrijr/taskgraph/internal/engine"
	"github.com/petrijr/taskgraph/internal/taskqueue"
	"github.com/petrijr/taskgraph/pkg/api"
	"github.com/petrijr/taskgraph/pkg/executor"
	"github.com/petrijr/taskgraph/pkg/worker"
)

const greetYAML = `
id: greet
tasks:
  - id: hello
    capability: echo
    inputs:
      msg: "hello {{ variables.name }}"
`

const gatedYAML = `
id: gated
tasks:
  - id: deploy
    capability: echo
    requires_approval: true
    approval:
      description: ship it
`

func newServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	s := NewServer(engine.NewInMemoryEngine(executor.Builtins()), nil)
	return s, s.Echo()
}

func do(t *testing.T, h http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	_, h := newServer(t)
	if rec := do(t, h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRegisterAndRunSynchronously(t *testing.T) {
	_, h := newServer(t)

	rec := do(t, h, http.MethodPost, "/definitions", "application/yaml", greetYAML)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body)
	}

	rec = do(t, h, http.MethodPost, "/runs", "application/json",
		`{"definition_id":"greet","variables":{"name":"world"},"wait":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	run := decode[api.WorkflowRun](t, rec)
	if run.Status != api.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}
	if got := run.Task("hello").Outputs["msg"]; got != "hello world" {
		t.Fatalf("unexpected output %v", got)
	}

	rec = do(t, h, http.MethodGet, "/runs/"+run.ID+"/status", "", "")
	report := decode[api.RunStatusReport](t, rec)
	if report.Status != api.RunCompleted || report.Progress != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	rec = do(t, h, http.MethodGet, "/runs?definition_id=greet&status=completed", "", "")
	if runs := decode[[]api.WorkflowRun](t, rec); len(runs) != 1 {
		t.Fatalf("expected one listed run, got %d", len(runs))
	}

	rec = do(t, h, http.MethodGet, "/runs/"+run.ID+"/events", "", "")
	if events := decode[[]api.RunEvent](t, rec); len(events) == 0 {
		t.Fatalf("expected run history")
	}
}

func TestRegisterAcceptsJSON(t *testing.T) {
	_, h := newServer(t)
	body := `{"id":"j","tasks":[{"id":"a","capability":"echo"}]}`
	if rec := do(t, h, http.MethodPost, "/definitions", "application/json", body); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
}

func TestErrorMapping(t *testing.T) {
	_, h := newServer(t)
	do(t, h, http.MethodPost, "/definitions", "application/yaml", greetYAML)

	cycle := `
id: loop
tasks:
  - {id: a, capability: echo, depends_on: [b]}
  - {id: b, capability: echo, depends_on: [a]}
`
	changed := strings.Replace(greetYAML, "hello {{", "bye {{", 1)

	cases := []struct {
		name   string
		method string
		path   string
		ctype  string
		body   string
		want   int
	}{
		{"cycle", http.MethodPost, "/definitions", "application/yaml", cycle, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/definitions", "application/yaml", "id: x\nbogus: 1\n", http.StatusBadRequest},
		{"mismatch", http.MethodPost, "/definitions", "application/yaml", changed, http.StatusConflict},
		{"unknown run", http.MethodGet, "/runs/nope", "", "", http.StatusNotFound},
		{"unknown run events", http.MethodGet, "/runs/nope/events", "", "", http.StatusNotFound},
		{"unknown definition", http.MethodPost, "/runs", "application/json", `{"definition_id":"nope"}`, http.StatusNotFound},
		{"missing definition id", http.MethodPost, "/runs", "application/json", `{}`, http.StatusBadRequest},
		{"unknown approval", http.MethodPost, "/approvals/nope", "application/json", `{"approved":true}`, http.StatusNotFound},
		{"missing decision", http.MethodPost, "/approvals/nope", "application/json", `{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.ctype, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body)
			}
			if body := decode[errorBody](t, rec); body.Error == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestCancelTerminalRunConflicts(t *testing.T) {
	_, h := newServer(t)
	do(t, h, http.MethodPost, "/definitions", "application/yaml", greetYAML)
	rec := do(t, h, http.MethodPost, "/runs", "application/json", `{"definition_id":"greet","wait":true}`)
	run := decode[api.WorkflowRun](t, rec)

	if rec := do(t, h, http.MethodPost, "/runs/"+run.ID+"/cancel", "", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestApprovalFlow(t *testing.T) {
	s, h := newServer(t)
	do(t, h, http.MethodPost, "/definitions", "application/yaml", gatedYAML)

	rec := do(t, h, http.MethodPost, "/runs", "application/json", `{"definition_id":"gated"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	run := decode[api.WorkflowRun](t, rec)

	var pending []api.ApprovalRequest
	deadline := time.Now().Add(5 * time.Second)
	for len(pending) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("approval request never appeared")
		}
		time.Sleep(10 * time.Millisecond)
		pending = decode[[]api.ApprovalRequest](t, do(t, h, http.MethodGet, "/approvals", "", ""))
	}
	if pending[0].RunID != run.ID || pending[0].Description != "ship it" {
		t.Fatalf("unexpected request %+v", pending[0])
	}

	path := "/approvals/" + pending[0].ID
	rec = do(t, h, http.MethodPost, path, "application/json", `{"approved":true,"actor":"alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	// A second, contradicting decision returns the first one.
	rec = do(t, h, http.MethodPost, path, "application/json", `{"approved":false,"actor":"bob"}`)
	again := decode[api.ApprovalRequest](t, rec)
	if again.Decision != api.DecisionApproved || again.DecidedBy != "alice" {
		t.Fatalf("expected first decision to stick, got %+v", again)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := s.Engine.Await(ctx, run.ID)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if final.Status != api.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", final.Status)
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(&api.DefinitionError{Kind: api.KindCyclicDependency}); got != http.StatusBadRequest {
		t.Fatalf("definition error: got %d", got)
	}
	if got := statusFor(api.ErrRunActive); got != http.StatusConflict {
		t.Fatalf("active run: got %d", got)
	}
	if got := statusFor(context.DeadlineExceeded); got != http.StatusInternalServerError {
		t.Fatalf("other: got %d", got)
	}
}

func TestCreateRunSubmitsToQueue(t *testing.T) {
	s, h := newServer(t)
	queue := taskqueue.NewInMemoryQueue(8)
	w := worker.New(s.Engine, queue)
	s.Submit = func(ctx context.Context, runID string) error {
		return w.Submit(ctx, runID, time.Time{})
	}

	do(t, h, http.MethodPost, "/definitions", "application/yaml", greetYAML)
	rec := do(t, h, http.MethodPost, "/runs", "application/json", `{"definition_id":"greet","variables":{"name":"queue"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	run := decode[api.WorkflowRun](t, rec)
	if run.Status != api.RunCreated || queue.Len() != 1 {
		t.Fatalf("expected queued CREATED run, got %s with %d queued", run.Status, queue.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}

	rec = do(t, h, http.MethodGet, "/runs/"+run.ID, "", "")
	if got := decode[api.WorkflowRun](t, rec); got.Status != api.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", got.Status)
	}
}
