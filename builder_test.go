package taskgraph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petrijr/taskgraph/pkg/api"
)

func TestBuilder_BuildsDefinitionInOrder(t *testing.T) {
	def := New("release").
		Version("v2").
		Describe("Release", "build and ship").
		Variable("env", "prod").
		MaxInFlight(2).
		Task("build", "ci.build", Timeout(time.Minute), EstimatedCost(1.5)).
		Task("test", "ci.test", DependsOn("build"), MaxRetries(2), Description("unit tests")).
		Task("deploy", "cd.deploy",
			DependsOn("test"),
			When("variables.env == 'prod'"),
			Inputs("target", "{{ variables.env }}", "replicas", 3),
			RequiresApproval("ship it?"),
			ApprovalTimeout(time.Hour),
			ApprovalPermission("release-managers")).
		Definition()

	if def.ID != "release" || def.Version != "v2" || def.Name != "Release" || def.MaxInFlight != 2 {
		t.Fatalf("unexpected header %+v", def)
	}
	if def.Variables["env"] != "prod" {
		t.Fatalf("expected env variable, got %v", def.Variables)
	}
	if len(def.Tasks) != 3 || def.Tasks[0].ID != "build" || def.Tasks[1].ID != "test" || def.Tasks[2].ID != "deploy" {
		t.Fatalf("unexpected task order %+v", def.Tasks)
	}

	build := def.Tasks[0]
	if build.Timeout.Std() != time.Minute || build.EstimatedCost != 1.5 {
		t.Fatalf("unexpected build task %+v", build)
	}

	deploy := def.Tasks[2]
	if !deploy.RequiresApproval || deploy.Approval == nil {
		t.Fatalf("expected approval gate on deploy")
	}
	if deploy.Approval.Description != "ship it?" || deploy.Approval.Timeout.Std() != time.Hour || deploy.Approval.Permission != "release-managers" {
		t.Fatalf("unexpected approval policy %+v", deploy.Approval)
	}
	if deploy.Inputs["replicas"] != 3 || deploy.Inputs["target"] != "{{ variables.env }}" {
		t.Fatalf("unexpected inputs %v", deploy.Inputs)
	}

	if err := Validate(def); err != nil {
		t.Fatalf("expected valid definition, got %v", err)
	}
}

func TestBuilder_DefinitionIsACopy(t *testing.T) {
	b := New("copy").Task("a", "echo")
	first := b.Definition()
	b.Task("b", "echo")
	if len(first.Tasks) != 1 {
		t.Fatalf("earlier definition changed: %+v", first.Tasks)
	}
}

func TestBuilder_ValidateReportsCycle(t *testing.T) {
	err := New("loop").
		Task("a", "echo", DependsOn("b")).
		Task("b", "echo", DependsOn("a")).
		Validate()

	var derr *api.DefinitionError
	if !errors.As(err, &derr) || derr.Kind != api.KindCyclicDependency {
		t.Fatalf("expected cyclic dependency error, got %v", err)
	}
}

func TestBuilder_PanicsOnBadInput(t *testing.T) {
	cases := map[string]func(){
		"empty id":         func() { New("x").Task("", "echo") },
		"empty capability": func() { New("x").Task("a", "") },
		"odd inputs":       func() { Inputs("k") },
		"non-string key":   func() { New("x").Task("a", "echo", Inputs(1, 2)) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			fn()
		})
	}
}

func TestBuilder_RegisterAndRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eng := NewInMemoryEngine(BuiltinExecutor())
	New("greet").
		Variable("name", "world").
		Task("hello", "echo", Inputs("msg", "hello {{ variables.name }}")).
		Task("again", "echo", DependsOn("hello"), Inputs("msg", "{{ tasks.hello.outputs.msg }}!")).
		MustRegister(ctx, eng)

	run, err := eng.Run(ctx, "greet", map[string]any{"name": "graph"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("expected COMPLETED, got %s", run.Status)
	}
	if got := run.Task("again").Outputs["msg"]; got != "hello graph!" {
		t.Fatalf("unexpected output %v", got)
	}
}
