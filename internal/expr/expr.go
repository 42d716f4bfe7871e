// Package expr implements the small condition and template language used by
// workflow definitions.
//
// An expression is a dotted path lookup, a literal, a negation or a single
// comparison:
//
//	tasks.review.outputs.score >= 0.8
//	variables.env == "prod"
//	!tasks.lint.outputs.clean
//
// Paths that do not resolve evaluate to Undefined. Any comparison with an
// Undefined operand is false and negating Undefined stays Undefined, so a
// condition over a missing value is never satisfied.
package expr

import (
	"strconv"
	"strings"
)

// Scope is the root object paths are resolved against.
type Scope map[string]any

// Expr is a compiled expression. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// Source returns the original text.
func (e *Expr) Source() string { return e.src }

// Eval evaluates the expression. It never fails.
func (e *Expr) Eval(scope Scope) Value {
	return e.root.eval(scope)
}

// Test evaluates the expression as a condition.
func (e *Expr) Test(scope Scope) bool {
	return e.Eval(scope).Truthy()
}

// Paths returns every dotted path referenced by the expression.
func (e *Expr) Paths() [][]string {
	var out [][]string
	walk(e.root, func(n node) {
		if p, ok := n.(*pathNode); ok {
			out = append(out, p.segments)
		}
	})
	return out
}

type node interface {
	eval(scope Scope) Value
}

type literalNode struct{ v Value }

func (n *literalNode) eval(Scope) Value { return n.v }

type pathNode struct{ segments []string }

func (n *pathNode) eval(scope Scope) Value {
	return Lookup(map[string]any(scope), n.segments)
}

type notNode struct{ x node }

func (n *notNode) eval(scope Scope) Value {
	v := n.x.eval(scope)
	if v.IsUndefined() {
		return v
	}
	return boolValue(!v.Truthy())
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) eval(scope Scope) Value {
	l := n.left.eval(scope)
	r := n.right.eval(scope)
	if l.IsUndefined() || r.IsUndefined() {
		return boolValue(false)
	}
	switch n.op {
	case "==":
		return boolValue(equal(l, r))
	case "!=":
		return boolValue(!equal(l, r))
	}
	var cmp int
	switch {
	case l.kind == Number && r.kind == Number:
		cmp = compareFloat(l.n, r.n)
	case l.kind == String && r.kind == String:
		cmp = strings.Compare(l.s, r.s)
	default:
		return boolValue(false)
	}
	switch n.op {
	case "<":
		return boolValue(cmp < 0)
	case "<=":
		return boolValue(cmp <= 0)
	case ">":
		return boolValue(cmp > 0)
	case ">=":
		return boolValue(cmp >= 0)
	}
	return boolValue(false)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func walk(n node, fn func(node)) {
	fn(n)
	switch x := n.(type) {
	case *notNode:
		walk(x.x, fn)
	case *compareNode:
		walk(x.left, fn)
		walk(x.right, fn)
	}
}

// Lookup resolves a dotted path in nested maps and slices.
func Lookup(root any, segments []string) Value {
	cur := root
	for _, seg := range segments {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return UndefinedValue
			}
			cur = v
		case Scope:
			v, ok := c[seg]
			if !ok {
				return UndefinedValue
			}
			cur = v
		case map[string]string:
			v, ok := c[seg]
			if !ok {
				return UndefinedValue
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return UndefinedValue
			}
			cur = c[idx]
		default:
			return UndefinedValue
		}
	}
	return Of(cur)
}
