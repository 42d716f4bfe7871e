package graph

import (
	"fmt"

	"github.com/petrijr/taskgraph/internal/expr"
	"github.com/petrijr/taskgraph/pkg/api"
)

// Validate checks a definition without keeping the compiled form.
func Validate(def api.WorkflowDefinition) error {
	_, err := Compile(def)
	return err
}

func checkTasks(def api.WorkflowDefinition) (map[string]int, error) {
	if def.ID == "" {
		return nil, &api.DefinitionError{Kind: api.KindInvalidDefinition, Msg: "definition id is required"}
	}
	if def.MaxInFlight < 0 {
		return nil, &api.DefinitionError{Kind: api.KindInvalidDefinition, Msg: "max_in_flight must not be negative"}
	}

	index := make(map[string]int, len(def.Tasks))
	for i, t := range def.Tasks {
		if t.ID == "" {
			return nil, &api.DefinitionError{Kind: api.KindInvalidDefinition, Msg: fmt.Sprintf("task %d has no id", i)}
		}
		if _, dup := index[t.ID]; dup {
			return nil, &api.DefinitionError{Kind: api.KindDuplicateTaskID, TaskID: t.ID}
		}
		index[t.ID] = i

		switch {
		case t.Capability == "":
			return nil, &api.DefinitionError{Kind: api.KindInvalidDefinition, TaskID: t.ID, Msg: "capability is required"}
		case t.MaxRetries < 0:
			return nil, &api.DefinitionError{Kind: api.KindInvalidDefinition, TaskID: t.ID, Msg: "max_retries must not be negative"}
		case t.Timeout < 0:
			return nil, &api.DefinitionError{Kind: api.KindInvalidDefinition, TaskID: t.ID, Msg: "timeout must not be negative"}
		case t.EstimatedCost < 0:
			return nil, &api.DefinitionError{Kind: api.KindInvalidDefinition, TaskID: t.ID, Msg: "estimated_cost must not be negative"}
		case t.Approval != nil && t.Approval.Timeout < 0:
			return nil, &api.DefinitionError{Kind: api.KindInvalidDefinition, TaskID: t.ID, Msg: "approval timeout must not be negative"}
		}
	}

	for _, t := range def.Tasks {
		seen := make(map[string]struct{}, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, &api.DefinitionError{
					Kind:   api.KindUnknownDependency,
					TaskID: t.ID,
					Msg:    fmt.Sprintf("depends on unknown task %q", dep),
				}
			}
			if _, ok := seen[dep]; ok {
				return nil, &api.DefinitionError{
					Kind:   api.KindInvalidDefinition,
					TaskID: t.ID,
					Msg:    fmt.Sprintf("dependency %q listed twice", dep),
				}
			}
			seen[dep] = struct{}{}
		}
	}
	return index, nil
}

// findCycle runs a three-colour depth-first search over the dependency
// edges, visiting roots and edges in definition order. It returns the first
// cycle found as task ids in dependency order, closed on its first member.
func findCycle(ids []string, deps [][]int) []string {
	const (
		white = iota
		grey
		black
	)

	color := make([]int, len(ids))
	var stack []int
	var cycle []string

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = grey
		stack = append(stack, u)
		for _, v := range deps[u] {
			switch color[v] {
			case white:
				if visit(v) {
					return true
				}
			case grey:
				// Back edge u -> v closes the cycle v ... u -> v.
				start := 0
				for i, n := range stack {
					if n == v {
						start = i
						break
					}
				}
				for _, n := range stack[start:] {
					cycle = append(cycle, ids[n])
				}
				cycle = append(cycle, ids[v])
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range ids {
		if color[i] == white && visit(i) {
			return cycle
		}
	}
	return nil
}

func compileExpressions(def api.WorkflowDefinition) ([]*expr.Expr, []*expr.Template, error) {
	conds := make([]*expr.Expr, len(def.Tasks))
	inputs := make([]*expr.Template, len(def.Tasks))
	for i, t := range def.Tasks {
		if t.Condition != "" {
			c, err := expr.Compile(t.Condition)
			if err != nil {
				return nil, nil, &api.DefinitionError{Kind: api.KindInvalidCondition, TaskID: t.ID, Msg: err.Error()}
			}
			conds[i] = c
		}
		if len(t.Inputs) > 0 {
			tpl, err := expr.CompileTemplate(t.Inputs)
			if err != nil {
				return nil, nil, &api.DefinitionError{Kind: api.KindInvalidInput, TaskID: t.ID, Msg: err.Error()}
			}
			inputs[i] = tpl
		}
	}
	return conds, inputs, nil
}
