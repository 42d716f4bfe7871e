package expr

import (
	"fmt"
	"strings"
)

// Template renders task input templates. String leaves may embed
// {{ expression }} placeholders; a string that is exactly one placeholder
// renders to the referenced value with its type preserved.
type Template struct {
	root tnode
}

type tnode interface {
	render(scope Scope) any
}

type constT struct{ v any }

func (n constT) render(Scope) any { return n.v }

type exprT struct{ e *Expr }

func (n exprT) render(scope Scope) any { return n.e.Eval(scope).Raw() }

type mapT map[string]tnode

func (n mapT) render(scope Scope) any {
	out := make(map[string]any, len(n))
	for k, v := range n {
		out[k] = v.render(scope)
	}
	return out
}

type listT []tnode

func (n listT) render(scope Scope) any {
	out := make([]any, len(n))
	for i, v := range n {
		out[i] = v.render(scope)
	}
	return out
}

type part struct {
	lit string
	e   *Expr
}

type interpT []part

func (n interpT) render(scope Scope) any {
	var b strings.Builder
	for _, p := range n {
		if p.e == nil {
			b.WriteString(p.lit)
			continue
		}
		b.WriteString(p.e.Eval(scope).Text())
	}
	return b.String()
}

// CompileTemplate compiles every placeholder found in v.
func CompileTemplate(v any) (*Template, error) {
	root, err := compileNode(v)
	if err != nil {
		return nil, err
	}
	return &Template{root: root}, nil
}

// Render produces the input map for one attempt. A nil template renders an
// empty map.
func (t *Template) Render(scope Scope) map[string]any {
	if t == nil {
		return map[string]any{}
	}
	out, ok := t.root.render(scope).(map[string]any)
	if !ok || out == nil {
		return map[string]any{}
	}
	return out
}

func compileNode(v any) (tnode, error) {
	switch x := v.(type) {
	case map[string]any:
		out := make(mapT, len(x))
		for k, child := range x {
			n, err := compileNode(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make(listT, len(x))
		for i, child := range x {
			n, err := compileNode(child)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case string:
		return compileString(x)
	case nil:
		return mapT{}, nil
	default:
		return constT{v: v}, nil
	}
}

func compileString(s string) (tnode, error) {
	if !strings.Contains(s, "{{") {
		return constT{v: s}, nil
	}
	var parts []part
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				parts = append(parts, part{lit: rest})
			}
			break
		}
		if open > 0 {
			parts = append(parts, part{lit: rest[:open]})
		}
		closeIdx := strings.Index(rest[open:], "}}")
		if closeIdx < 0 {
			return nil, &SyntaxError{Expr: s, Pos: len(s) - len(rest) + open, Msg: "unterminated '{{'"}
		}
		inner := strings.TrimSpace(rest[open+2 : open+closeIdx])
		e, err := Compile(inner)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part{e: e})
		rest = rest[open+closeIdx+2:]
	}
	if len(parts) == 1 && parts[0].e != nil {
		return exprT{e: parts[0].e}, nil
	}
	return interpT(parts), nil
}
