package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/petrijr/taskgraph/pkg/api"
)

func TestRegisterDefinitionRejectsInvalidGraphs(t *testing.T) {
	cases := []struct {
		name string
		def  api.WorkflowDefinition
		kind api.ErrorKind
	}{
		{
			name: "duplicate id",
			def:  api.WorkflowDefinition{ID: "d", Tasks: []api.TaskSpec{{ID: "a", Capability: "x"}, {ID: "a", Capability: "x"}}},
			kind: api.KindDuplicateTaskID,
		},
		{
			name: "unknown dependency",
			def:  api.WorkflowDefinition{ID: "d", Tasks: []api.TaskSpec{{ID: "a", Capability: "x", DependsOn: []string{"ghost"}}}},
			kind: api.KindUnknownDependency,
		},
		{
			name: "cycle",
			def: api.WorkflowDefinition{ID: "d", Tasks: []api.TaskSpec{
				{ID: "a", Capability: "x", DependsOn: []string{"b"}},
				{ID: "b", Capability: "x", DependsOn: []string{"a"}},
			}},
			kind: api.KindCyclicDependency,
		},
		{
			name: "malformed condition",
			def:  api.WorkflowDefinition{ID: "d", Tasks: []api.TaskSpec{{ID: "a", Capability: "x", Condition: "variables.x =="}}},
			kind: api.KindInvalidCondition,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, nil)
			err := e.RegisterDefinition(context.Background(), tc.def)
			if !errors.Is(err, api.ErrInvalidDefinition) {
				t.Fatalf("expected ErrInvalidDefinition, got %v", err)
			}
			var de *api.DefinitionError
			if !errors.As(err, &de) || de.Kind != tc.kind {
				t.Fatalf("expected kind %s, got %v", tc.kind, err)
			}
			if _, err := e.CreateRun(context.Background(), "d", "", nil); !errors.Is(err, api.ErrDefinitionNotFound) {
				t.Fatalf("a rejected definition must not be runnable, got %v", err)
			}
		})
	}
}

func TestRegisterDefinitionIsIdempotentPerVersion(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	def := api.WorkflowDefinition{ID: "svc", Tasks: []api.TaskSpec{{ID: "a", Capability: "x"}}}

	mustRegister(t, e, def)
	if err := e.RegisterDefinition(ctx, def); err != nil {
		t.Fatalf("re-registering the same body should be a no-op, got %v", err)
	}

	changed := def
	changed.Tasks = []api.TaskSpec{{ID: "a", Capability: "y"}}
	if err := e.RegisterDefinition(ctx, changed); !errors.Is(err, api.ErrWorkflowDefinitionMismatch) {
		t.Fatalf("expected ErrWorkflowDefinitionMismatch, got %v", err)
	}
}

func TestVersionsAndLatestSelection(t *testing.T) {
	ctx := testContext(t)
	e := newTestEngine(t, byTask(nil))

	mustRegister(t, e, api.WorkflowDefinition{ID: "svc", Version: "v1", Tasks: []api.TaskSpec{{ID: "a", Capability: "x"}}})
	mustRegister(t, e, api.WorkflowDefinition{ID: "svc", Version: "v2", Tasks: []api.TaskSpec{{ID: "a", Capability: "x"}, {ID: "b", Capability: "x"}}})

	latest, err := e.CreateRun(ctx, "svc", "", nil)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if latest.DefinitionVersion != "v2" || len(latest.Tasks) != 2 {
		t.Fatalf("expected latest version v2, got %s with %d tasks", latest.DefinitionVersion, len(latest.Tasks))
	}

	pinned, err := e.CreateRun(ctx, "svc", "v1", nil)
	if err != nil {
		t.Fatalf("CreateRun v1 failed: %v", err)
	}
	if pinned.DefinitionVersion != "v1" || len(pinned.Tasks) != 1 {
		t.Fatalf("expected pinned v1, got %s", pinned.DefinitionVersion)
	}
	if pinned.Status != api.RunCreated {
		t.Fatalf("expected CREATED, got %s", pinned.Status)
	}

	if _, err := e.CreateRun(ctx, "svc", "v9", nil); !errors.Is(err, api.ErrDefinitionNotFound) {
		t.Fatalf("expected ErrDefinitionNotFound, got %v", err)
	}
	if _, err := e.Run(ctx, "unknown", nil); !errors.Is(err, api.ErrDefinitionNotFound) {
		t.Fatalf("expected ErrDefinitionNotFound, got %v", err)
	}
}

func TestDefinitionsSurviveRegistryLoss(t *testing.T) {
	ctx := testContext(t)
	first := newTestEngine(t, byTask(nil))
	mustRegister(t, first, api.WorkflowDefinition{ID: "durable", Tasks: []api.TaskSpec{{ID: "a", Capability: "x"}}})

	// A fresh engine over the same stores compiles the stored definition.
	second := newTestEngine(t, byTask(nil), func(c *Config) { c.Persistence = first.cfg.Persistence })
	run, err := second.Run(ctx, "durable", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != api.RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}
}
