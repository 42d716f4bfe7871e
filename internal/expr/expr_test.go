package expr

import (
	"errors"
	"testing"
)

func testScope() Scope {
	return Scope{
		"variables": map[string]any{
			"env":     "prod",
			"retries": 3,
			"flags":   []any{"a", "b"},
		},
		"tasks": map[string]any{
			"review": map[string]any{
				"status": "SUCCEEDED",
				"outputs": map[string]any{
					"score":    0.92,
					"approved": true,
					"note":     nil,
				},
			},
			"lint-go": map[string]any{
				"outputs": map[string]any{"clean": false},
			},
		},
	}
}

func TestEvalConditions(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{`variables.env == "prod"`, true},
		{`variables.env == 'dev'`, false},
		{`variables.env != "dev"`, true},
		{`variables.retries >= 3`, true},
		{`variables.retries < 3`, false},
		{`tasks.review.outputs.score > 0.9`, true},
		{`tasks.review.outputs.score <= -1`, false},
		{`tasks.review.outputs.approved`, true},
		{`tasks.review.outputs.approved == true`, true},
		{`!tasks.lint-go.outputs.clean`, true},
		{`!!tasks.review.outputs.approved`, true},
		{`tasks.review.outputs.note == null`, true},
		{`tasks.review.status == "SUCCEEDED"`, true},
		{`variables.flags.1 == "b"`, true},
		{`(variables.env == "prod")`, true},
		{`!(variables.env == "prod")`, false},
		{`"b" > "a"`, true},
		// mismatched kinds never order
		{`variables.env > 1`, false},
		{`variables.retries == "3"`, false},
		{`variables.retries != "3"`, true},
	}
	scope := testScope()
	for _, tc := range cases {
		e, err := Compile(tc.src)
		if err != nil {
			t.Fatalf("Compile(%q) failed: %v", tc.src, err)
		}
		if got := e.Test(scope); got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.src, tc.want, got)
		}
	}
}

func TestUndefinedMakesComparisonsFalse(t *testing.T) {
	scope := testScope()
	for _, src := range []string{
		`tasks.missing.outputs.x == 1`,
		`tasks.missing.outputs.x != 1`,
		`variables.nope < 10`,
		`variables.nope >= 10`,
		`tasks.missing.outputs.x == tasks.missing.outputs.y`,
		`!tasks.missing.outputs.x`,
		`variables.env.deeper == "x"`,
		`variables.flags.9 == "a"`,
	} {
		if MustCompile(src).Test(scope) {
			t.Fatalf("%q: expected false for undefined operand", src)
		}
	}

	v := MustCompile(`tasks.missing.outputs.x`).Eval(scope)
	if !v.IsUndefined() {
		t.Fatalf("expected Undefined, got %v", v)
	}
}

func TestCompileSyntaxErrors(t *testing.T) {
	for _, src := range []string{
		``,
		`   `,
		`a ==`,
		`a = 1`,
		`a == b == c`,
		`(a == 1`,
		`a.`,
		`"unterminated`,
		`a == 1 )`,
		`a && b`,
		`#`,
	} {
		_, err := Compile(src)
		if err == nil {
			t.Fatalf("Compile(%q): expected syntax error", src)
		}
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Fatalf("Compile(%q): expected *SyntaxError, got %T", src, err)
		}
	}
}

func TestPaths(t *testing.T) {
	e := MustCompile(`tasks.a.outputs.x == variables.y`)
	paths := e.Paths()
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
	if paths[0][1] != "a" || paths[1][0] != "variables" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestTemplateRender(t *testing.T) {
	tpl, err := CompileTemplate(map[string]any{
		"score":   "{{ tasks.review.outputs.score }}",
		"message": "env={{variables.env}} retries={{ variables.retries }}",
		"nested": map[string]any{
			"list": []any{"{{ variables.env }}", 7},
		},
		"missing": "{{ tasks.nope.outputs.x }}",
		"plain":   "no placeholders",
	})
	if err != nil {
		t.Fatalf("CompileTemplate failed: %v", err)
	}

	out := tpl.Render(testScope())

	if score, ok := out["score"].(float64); !ok || score != 0.92 {
		t.Fatalf("expected typed score 0.92, got %#v", out["score"])
	}
	if out["message"] != "env=prod retries=3" {
		t.Fatalf("unexpected message: %#v", out["message"])
	}
	nested := out["nested"].(map[string]any)
	list := nested["list"].([]any)
	if list[0] != "prod" || list[1] != 7 {
		t.Fatalf("unexpected nested list: %#v", list)
	}
	if out["missing"] != nil {
		t.Fatalf("expected nil for undefined placeholder, got %#v", out["missing"])
	}
	if out["plain"] != "no placeholders" {
		t.Fatalf("unexpected plain: %#v", out["plain"])
	}
}

func TestTemplateSyntaxError(t *testing.T) {
	if _, err := CompileTemplate(map[string]any{"x": "{{ a == }}"}); err == nil {
		t.Fatalf("expected error for malformed placeholder")
	}
	if _, err := CompileTemplate(map[string]any{"x": "{{ a.b"}); err == nil {
		t.Fatalf("expected error for unterminated placeholder")
	}
}

func TestNilTemplateRendersEmptyMap(t *testing.T) {
	var tpl *Template
	if out := tpl.Render(testScope()); out == nil || len(out) != 0 {
		t.Fatalf("expected empty map, got %#v", out)
	}
}
