package compiler

import (
	"strings"
	"testing"

	"github.com/neurodesk/twig/pkg/ast"
)

func lower(t *testing.T, n *ast.Node) string {
	t.Helper()
	e := NewEmitter("index.twig")
	e.SubCompile(n)
	if err := e.Err(); err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return e.Source()
}

func TestCompileExpressions(t *testing.T) {
	name := func() *ast.Node { return ast.NewName("foo", 1) }
	args := func() *ast.Node { return ast.New(ast.KindArguments, 1) }

	tests := []struct {
		name string
		node *ast.Node
		want string
	}{
		{
			name: "integer constant",
			node: ast.NewConstant(int64(42), 1),
			want: "42",
		},
		{
			name: "float constant keeps a decimal point",
			node: ast.NewConstant(float64(2), 1),
			want: "2.0",
		},
		{
			name: "null constant",
			node: ast.NewConstant(nil, 1),
			want: "None",
		},
		{
			name: "string constant is quoted",
			node: ast.NewStringConstant(`say "hi"`, 1),
			want: `"say \"hi\""`,
		},
		{
			name: "name",
			node: name(),
			want: `this.get_context(context, "foo", False, 1)`,
		},
		{
			name: "context name",
			node: ast.NewName("_context", 1),
			want: "context",
		},
		{
			name: "addition",
			node: ast.NewBinary(ast.KindAdd, ast.NewConstant(int64(1), 1), ast.NewConstant(int64(1), 1), 1),
			want: "this.dynamic(1).add(this.dynamic(1))",
		},
		{
			name: "concat",
			node: ast.NewBinary(ast.KindConcat, ast.NewStringConstant("a", 1), name(), 1),
			want: `(this.to_string("a") + this.to_string(this.get_context(context, "foo", False, 1)))`,
		},
		{
			name: "in",
			node: ast.NewBinary(ast.KindIn, ast.NewConstant(int64(1), 1), name(), 1),
			want: `this.contains(this.get_context(context, "foo", False, 1), 1)`,
		},
		{
			name: "not in",
			node: ast.NewBinary(ast.KindNotIn, ast.NewConstant(int64(1), 1), name(), 1),
			want: `(not this.contains(this.get_context(context, "foo", False, 1), 1))`,
		},
		{
			name: "and",
			node: ast.NewBinary(ast.KindAnd, ast.NewConstant(true, 1), ast.NewConstant(false, 1), 1),
			want: "(this.to_bool(True) and this.to_bool(False))",
		},
		{
			name: "negation",
			node: ast.NewUnary(ast.KindNeg, ast.NewConstant(int64(3), 1), 1),
			want: "this.dynamic(3).neg()",
		},
		{
			name: "range",
			node: ast.NewBinary(ast.KindRange, ast.NewConstant(int64(1), 1), ast.NewConstant(int64(3), 1), 1),
			want: "this.range(1, 3)",
		},
		{
			name: "method call",
			node: ast.NewGetAttr(name(), ast.NewStringConstant("bar", 1),
				ast.New(ast.KindArguments, 1, ast.NewStringConstant("baz", 1)), ast.MethodCall, 1),
			want: `this.get_attribute(this.get_context(context, "foo", False, 1), "bar", ["baz"], "method", False, False, 1)`,
		},
		{
			name: "hash",
			node: ast.New(ast.KindHash, 1, ast.NewStringConstant("a", 1), ast.NewConstant(int64(1), 1)),
			want: `dict([("a", 1)])`,
		},
		{
			name: "array",
			node: ast.New(ast.KindArray, 1, ast.NewConstant(int64(1), 1), ast.NewConstant(int64(2), 1)),
			want: "[1, 2]",
		},
		{
			name: "conditional",
			node: ast.New(ast.KindConditional, 1, name(), ast.NewStringConstant("y", 1), ast.NewStringConstant("n", 1)),
			want: `("y" if this.to_bool(this.get_context(context, "foo", False, 1)) else "n")`,
		},
		{
			name: "defined test on a name",
			node: ast.New(ast.KindTest, 1, name(), args()).WithAttr("name", "defined"),
			want: `("foo" in context)`,
		},
		{
			name: "defined test on an attribute",
			node: ast.New(ast.KindTest, 1,
				ast.NewGetAttr(name(), ast.NewStringConstant("bar", 1), args(), ast.AnyCall, 1), args()).
				WithAttr("name", "defined"),
			want: `this.get_attribute(this.get_context(context, "foo", True, 1), "bar", [], "any", True, False, 1)`,
		},
		{
			name: "default filter ignores strict variables",
			node: ast.New(ast.KindFilter, 1, name(), ast.New(ast.KindArguments, 1, ast.NewStringConstant("x", 1))).
				WithAttr("name", "default"),
			want: `this.filter("default", this.get_context(context, "foo", True, 1), ["x"], {}, 1)`,
		},
		{
			name: "function with named argument",
			node: ast.New(ast.KindFunction, 1, ast.New(ast.KindArguments, 1,
				ast.NewConstant(int64(1), 1),
				ast.New(ast.KindNamedArgument, 1, ast.NewConstant(int64(2), 1)).WithAttr("name", "step"))).
				WithAttr("name", "range"),
			want: `this.call("range", [1], {"step": 2}, 1)`,
		},
		{
			name: "parent",
			node: ast.New(ast.KindParent, 1).WithAttr("name", "content"),
			want: `this.render_parent_block("content", context, blocks)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lower(t, tt.node); got != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestCompileSet(t *testing.T) {
	set := ast.New(ast.KindSet, 1,
		ast.NewBody([]*ast.Node{ast.NewAssignName("foo", 1)}, 1),
		ast.NewBody([]*ast.Node{ast.NewStringConstant("foo", 1)}, 1))
	want := "# line 1\ncontext[\"foo\"] = \"foo\"\n"
	if got := lower(t, set); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCompileMultiTargetSet(t *testing.T) {
	set := ast.New(ast.KindSet, 3,
		ast.NewBody([]*ast.Node{ast.NewAssignName("a", 3), ast.NewAssignName("b", 3)}, 3),
		ast.NewBody([]*ast.Node{ast.NewConstant(int64(1), 3), ast.NewConstant(int64(2), 3)}, 3))
	want := "# line 3\ncontext[\"a\"] = 1\ncontext[\"b\"] = 2\n"
	if got := lower(t, set); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCompileEmptySuiteGetsPass(t *testing.T) {
	ifNode := ast.New(ast.KindIf, 1,
		ast.NewBody([]*ast.Node{ast.NewConstant(true, 1), ast.NewBody(nil, 1)}, 1), nil)
	got := lower(t, ifNode)
	if !strings.Contains(got, "if this.to_bool(True):\n    pass\n") {
		t.Fatalf("missing pass in empty suite:\n%s", got)
	}
}

func TestCompileModule(t *testing.T) {
	block := ast.New(ast.KindBlock, 2, ast.NewText("body", 2)).WithAttr("name", "content")
	body := ast.NewBody([]*ast.Node{
		ast.NewText("hi ", 1),
		ast.New(ast.KindBlockReference, 2).WithAttr("name", "content"),
	}, 1)
	module := ast.NewModule(body, nil, []*ast.Node{block}, "index.twig")

	src, err := Compile(module, func(string) string { return "__TwigTemplate_abc" })
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	for _, want := range []string{
		"def __TwigTemplate_abc(this):\n",
		"    def do_display(context, blocks):\n",
		"        _out.append(\"hi \")\n",
		"        _out.append(this.display_block(\"content\", context, blocks, True))\n",
		"        return \"\".join(_out)\n",
		"    def get_parent(context):\n        return None\n",
		"    def block_content(context, blocks):\n",
		"            \"content\": block_content,\n",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("generated source lacks %q:\n%s", want, src)
		}
	}
}

func TestCompileModuleWithParent(t *testing.T) {
	module := ast.NewModule(ast.NewBody(nil, 1), ast.NewStringConstant("base.twig", 1), nil, "child.twig")
	src, err := Compile(module, func(string) string { return "__T" })
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if !strings.Contains(src, "return this.display_parent(context, blocks)") {
		t.Errorf("display does not delegate to the parent:\n%s", src)
	}
	if !strings.Contains(src, "return \"base.twig\"") {
		t.Errorf("get_parent does not return the parent name:\n%s", src)
	}
}

func TestCompileRejectsNestedModule(t *testing.T) {
	e := NewEmitter("index.twig")
	e.SubCompile(ast.NewModule(ast.NewBody(nil, 1), nil, nil, "x"))
	if e.Err() == nil {
		t.Fatal("expected an error for a nested module")
	}
}

func TestCompileDefinedOnExpressionFails(t *testing.T) {
	test := ast.New(ast.KindTest, 4,
		ast.NewBinary(ast.KindAdd, ast.NewName("a", 4), ast.NewName("b", 4), 4),
		ast.New(ast.KindArguments, 4)).WithAttr("name", "defined")
	e := NewEmitter("index.twig")
	e.SubCompile(test)
	if e.Err() == nil || !strings.Contains(e.Err().Error(), "only works with simple variables") {
		t.Fatalf("got %v", e.Err())
	}
}

func TestOutdentBelowZero(t *testing.T) {
	e := NewEmitter("x")
	e.Outdent()
	if e.Err() == nil {
		t.Fatal("expected an error")
	}
}
