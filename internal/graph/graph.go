// Package graph validates workflow definitions and compiles them into an
// immutable, index-based dependency graph used by the scheduler.
package graph

import (
	"slices"

	"github.com/petrijr/taskgraph/internal/expr"
	"github.com/petrijr/taskgraph/pkg/api"
)

// Graph is a validated definition. Node indices follow definition order.
// A Graph is never mutated after Compile and may be shared between runs.
type Graph struct {
	def         api.WorkflowDefinition
	fingerprint string

	index      map[string]int
	deps       [][]int
	dependents [][]int
	conditions []*expr.Expr
	inputs     []*expr.Template
}

// Compile validates def and builds its graph. Errors are *api.DefinitionError.
func Compile(def api.WorkflowDefinition) (*Graph, error) {
	if def.Version == "" {
		def.Version = api.DefaultVersion
	}
	index, err := checkTasks(def)
	if err != nil {
		return nil, err
	}

	n := len(def.Tasks)
	ids := make([]string, n)
	deps := make([][]int, n)
	dependents := make([][]int, n)
	for i, t := range def.Tasks {
		ids[i] = t.ID
		for _, d := range t.DependsOn {
			j := index[d]
			deps[i] = append(deps[i], j)
			dependents[j] = append(dependents[j], i)
		}
	}

	if cycle := findCycle(ids, deps); cycle != nil {
		return nil, &api.DefinitionError{Kind: api.KindCyclicDependency, TaskID: cycle[0], Cycle: cycle}
	}

	conds, inputs, err := compileExpressions(def)
	if err != nil {
		return nil, err
	}

	return &Graph{
		def:         def,
		fingerprint: api.DefinitionFingerprint(def),
		index:       index,
		deps:        deps,
		dependents:  dependents,
		conditions:  conds,
		inputs:      inputs,
	}, nil
}

// Definition returns the (version-normalized) definition.
func (g *Graph) Definition() api.WorkflowDefinition { return g.def }

// Fingerprint is the hash of the definition body.
func (g *Graph) Fingerprint() string { return g.fingerprint }

// Len is the number of tasks.
func (g *Graph) Len() int { return len(g.def.Tasks) }

// Index returns the node index of a task id.
func (g *Graph) Index(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

func (g *Graph) ID(i int) string            { return g.def.Tasks[i].ID }
func (g *Graph) Spec(i int) api.TaskSpec    { return g.def.Tasks[i] }
func (g *Graph) Deps(i int) []int           { return g.deps[i] }
func (g *Graph) Dependents(i int) []int     { return g.dependents[i] }
func (g *Graph) Condition(i int) *expr.Expr { return g.conditions[i] }
func (g *Graph) Inputs(i int) *expr.Template {
	return g.inputs[i]
}

// Descendants returns every task reachable from i through dependent edges,
// in definition order. i itself is not included.
func (g *Graph) Descendants(i int) []int {
	seen := make([]bool, g.Len())
	queue := []int{i}
	var out []int
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.dependents[u] {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
				queue = append(queue, v)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Roots returns the tasks without dependencies.
func (g *Graph) Roots() []int {
	var out []int
	for i := range g.deps {
		if len(g.deps[i]) == 0 {
			out = append(out, i)
		}
	}
	return out
}
