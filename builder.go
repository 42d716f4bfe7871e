package taskgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/taskgraph/pkg/api"
)

// DefinitionBuilder provides a fluent API for defining task graphs:
//
//	def := taskgraph.New("release").
//	    Task("build", "ci.build").
//	    Task("test", "ci.test", taskgraph.DependsOn("build"), taskgraph.MaxRetries(2)).
//	    Task("deploy", "cd.deploy",
//	        taskgraph.DependsOn("test"),
//	        taskgraph.When("variables.env == 'prod'"),
//	        taskgraph.RequiresApproval("ship to production?")).
//	    Definition()
//
// Tasks keep the order they are added in; the scheduler dispatches ready
// tasks in that order.
type DefinitionBuilder struct {
	def api.WorkflowDefinition
}

// New creates a builder for a definition with the given id.
func New(id string) *DefinitionBuilder {
	return &DefinitionBuilder{
		def: api.WorkflowDefinition{
			ID:    id,
			Tasks: make([]api.TaskSpec, 0),
		},
	}
}

// ID returns the definition id.
func (b *DefinitionBuilder) ID() string {
	return b.def.ID
}

// Version sets the definition version.
func (b *DefinitionBuilder) Version(v string) *DefinitionBuilder {
	b.def.Version = v
	return b
}

// Describe sets a human-readable name and description.
func (b *DefinitionBuilder) Describe(name, description string) *DefinitionBuilder {
	b.def.Name = name
	b.def.Description = description
	return b
}

// Variable sets a default run variable.
func (b *DefinitionBuilder) Variable(key string, value any) *DefinitionBuilder {
	if b.def.Variables == nil {
		b.def.Variables = make(map[string]any)
	}
	b.def.Variables[key] = value
	return b
}

// MaxInFlight bounds concurrent attempts in each run of this definition.
func (b *DefinitionBuilder) MaxInFlight(n int) *DefinitionBuilder {
	b.def.MaxInFlight = n
	return b
}

// Task appends a task.
func (b *DefinitionBuilder) Task(id, capability string, opts ...TaskOption) *DefinitionBuilder {
	if id == "" {
		panic("taskgraph: task id must not be empty")
	}
	if capability == "" {
		panic(fmt.Sprintf("taskgraph: task %q has no capability", id))
	}

	spec := api.TaskSpec{ID: id, Capability: capability}
	for _, o := range opts {
		o(&spec)
	}
	b.def.Tasks = append(b.def.Tasks, spec)
	return b
}

// Definition returns the built WorkflowDefinition.
func (b *DefinitionBuilder) Definition() WorkflowDefinition {
	def := b.def
	def.Tasks = append([]api.TaskSpec(nil), b.def.Tasks...)
	return def
}

// Validate checks the definition without registering it.
func (b *DefinitionBuilder) Validate() error {
	return Validate(b.Definition())
}

// Register registers the definition on eng.
func (b *DefinitionBuilder) Register(ctx context.Context, eng Engine) error {
	return eng.RegisterDefinition(ctx, b.Definition())
}

// MustRegister is Register that panics on error.
func (b *DefinitionBuilder) MustRegister(ctx context.Context, eng Engine) {
	if err := b.Register(ctx, eng); err != nil {
		panic(err)
	}
}

// TaskOption configures a task added with DefinitionBuilder.Task.
type TaskOption func(*api.TaskSpec)

// DependsOn adds upstream tasks.
func DependsOn(ids ...string) TaskOption {
	return func(t *api.TaskSpec) { t.DependsOn = append(t.DependsOn, ids...) }
}

// When sets the task's condition expression.
func When(condition string) TaskOption {
	return func(t *api.TaskSpec) { t.Condition = condition }
}

// Inputs sets input template entries from key/value pairs:
//
//	taskgraph.Inputs("region", "{{ variables.region }}", "replicas", 3)
func Inputs(kv ...any) TaskOption {
	if len(kv)%2 != 0 {
		panic("taskgraph: Inputs needs key/value pairs")
	}
	return func(t *api.TaskSpec) {
		if t.Inputs == nil {
			t.Inputs = make(map[string]any, len(kv)/2)
		}
		for i := 0; i < len(kv); i += 2 {
			key, ok := kv[i].(string)
			if !ok {
				panic(fmt.Sprintf("taskgraph: input key %v is not a string", kv[i]))
			}
			t.Inputs[key] = kv[i+1]
		}
	}
}

// Description documents the task.
func Description(s string) TaskOption {
	return func(t *api.TaskSpec) { t.Description = s }
}

// Timeout bounds each attempt.
func Timeout(d time.Duration) TaskOption {
	return func(t *api.TaskSpec) { t.Timeout = api.Duration(d) }
}

// MaxRetries sets the number of retries after the first attempt.
func MaxRetries(n int) TaskOption {
	return func(t *api.TaskSpec) { t.MaxRetries = n }
}

// EstimatedCost records the planned cost of the task.
func EstimatedCost(c float64) TaskOption {
	return func(t *api.TaskSpec) { t.EstimatedCost = c }
}

// RequiresApproval gates the task on a human decision. An empty
// description falls back to a generated one.
func RequiresApproval(description string) TaskOption {
	return func(t *api.TaskSpec) {
		t.RequiresApproval = true
		if description != "" {
			if t.Approval == nil {
				t.Approval = &api.ApprovalPolicy{}
			}
			t.Approval.Description = description
		}
	}
}

// ApprovalTimeout overrides how long the task's approval may stay pending.
func ApprovalTimeout(d time.Duration) TaskOption {
	return func(t *api.TaskSpec) {
		if t.Approval == nil {
			t.Approval = &api.ApprovalPolicy{}
		}
		t.Approval.Timeout = api.Duration(d)
	}
}

// ApprovalPermission tags the approval with the permission an approver
// must hold.
func ApprovalPermission(perm string) TaskOption {
	return func(t *api.TaskSpec) {
		if t.Approval == nil {
			t.Approval = &api.ApprovalPolicy{}
		}
		t.Approval.Permission = perm
	}
}
