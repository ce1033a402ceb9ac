package twig

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/neurodesk/twig/pkg/loader"
	"github.com/neurodesk/twig/pkg/parser"
	"github.com/neurodesk/twig/pkg/runtime"
	"github.com/neurodesk/twig/pkg/twigerr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type testObject struct {
	Name string
}

func (o *testObject) GetSomething() string { return "foo" }
func (o *testObject) IsActive() bool       { return true }
func (o *testObject) Greet(who string) string {
	return "hello " + who
}
func (o *testObject) Fail() (string, error) { return "", errors.New("something went wrong") }

func newEnv(t *testing.T, templates map[string]string, options Options, opts ...Option) *Environment {
	t.Helper()
	env, err := New(options, append([]Option{WithLoader(loader.MemoryLoader(templates))}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return env
}

func render(t *testing.T, env *Environment, name string, ctx map[string]any) string {
	t.Helper()
	out, err := env.Render(name, ctx)
	if err != nil {
		t.Fatalf("render %s: %v", name, err)
	}
	return out
}

func TestRenderExpressions(t *testing.T) {
	tests := []struct {
		name     string
		template string
		ctx      map[string]any
		want     string
	}{
		{name: "float", template: "{{ 1134.12341 }}", want: "1134.12341"},
		{name: "add", template: "{{ 1 + 1 }}", want: "2"},
		{name: "precedence", template: "{{ 1 + 2 * 3 }}", want: "7"},
		{name: "parentheses", template: "{{ (1 + 2) * 3 }}", want: "9"},
		{name: "exact division", template: "{{ 6 / 3 }}", want: "2"},
		{name: "division", template: "{{ 7 / 2 }}", want: "3.5"},
		{name: "floor division", template: "{{ -5 // 2 }}", want: "-3"},
		{name: "modulo", template: "{{ 10 % 3 }}", want: "1"},
		{name: "power is right associative", template: "{{ 2 ** 3 ** 2 }}", want: "512"},
		{name: "concat", template: "{{ 'a' ~ (1 + 2) }}", want: "a3"},
		{name: "interpolation", template: `{{ "Hello #{name}!" }}`, ctx: map[string]any{"name": "world"}, want: "Hello world!"},
		{name: "comparison", template: "{{ 1 < 2 }}", want: "true"},
		{name: "equality across number kinds", template: "{{ 2 == 2.0 ? 'y' : 'n' }}", want: "y"},
		{name: "in", template: "{{ 2 in [1, 2] ? 'y' : 'n' }}", want: "y"},
		{name: "not in", template: "{{ 3 not in [1, 2] ? 'y' : 'n' }}", want: "y"},
		{name: "starts with", template: "{{ 'foobar' starts with 'foo' ? 'y' : 'n' }}", want: "y"},
		{name: "ends with", template: "{{ 'foobar' ends with 'foo' ? 'y' : 'n' }}", want: "n"},
		{name: "and or not", template: "{{ (true and not false) or false ? 'y' : 'n' }}", want: "y"},
		{name: "bitwise", template: "{{ 6 b-and 3 }}", want: "2"},
		{name: "short ternary", template: "{{ '' ?: 'fallback' }}", want: "fallback"},
		{name: "null prints nothing", template: "[{{ null }}]", want: "[]"},
		{name: "list", template: "{{ [1, 'a'] }}", want: "1, a"},
		{name: "hash access", template: "{{ {'a': 1}['a'] }}", want: "1"},
		{name: "range", template: "{{ (1..4)|join(',') }}", want: "1,2,3,4"},
		{name: "range function", template: "{{ range(0, 10, 5)|join(',') }}", want: "0,5,10"},
		{name: "letters", template: "{{ ('a'..'c')|join }}", want: "abc"},
		{name: "string arithmetic", template: "{{ '3' + 4 }}", want: "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, map[string]string{"index.twig": tt.template}, Options{})
			if got := render(t, env, "index.twig", tt.ctx); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderFiltersFunctionsTests(t *testing.T) {
	ctx := map[string]any{
		"name":  "bob SMITH",
		"items": []any{"a", "b", "c"},
		"map":   map[string]any{"x": 1, "y": 2},
		"n":     -3.7,
		"html":  `<a href="x">`,
	}
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{name: "upper", template: "{{ name|upper }}", want: "BOB SMITH"},
		{name: "lower", template: "{{ name|lower }}", want: "bob smith"},
		{name: "capitalize", template: "{{ name|capitalize }}", want: "Bob smith"},
		{name: "title", template: "{{ name|title }}", want: "Bob Smith"},
		{name: "trim", template: "[{{ '  x  '|trim }}]", want: "[x]"},
		{name: "trim side", template: "[{{ '--x--'|trim('-', 'left') }}]", want: "[x--]"},
		{name: "default on missing", template: "{{ missing|default('x') }}", want: "x"},
		{name: "default on missing attribute", template: "{{ map.nope.deeper|default('x') }}", want: "x"},
		{name: "default keeps value", template: "{{ name|default('x') }}", want: "bob SMITH"},
		{name: "join", template: "{{ items|join(', ') }}", want: "a, b, c"},
		{name: "join with and", template: "{{ items|join(', ', ' and ') }}", want: "a, b and c"},
		{name: "length", template: "{{ items|length }}{{ name|length }}", want: "39"},
		{name: "keys", template: "{{ map|keys|join(',') }}", want: "x,y"},
		{name: "first and last", template: "{{ items|first }}{{ items|last }}{{ 'xyz'|first }}", want: "acx"},
		{name: "abs", template: "{{ n|abs }}", want: "3.7"},
		{name: "round", template: "{{ n|round }} {{ 3.14159|round(2) }} {{ 3.1|round(0, 'ceil') }}", want: "-4 3.14 4"},
		{name: "escape", template: "{{ html|e }}", want: "&lt;a href=&#34;x&#34;&gt;"},
		{name: "json_encode", template: "{{ map|json_encode }}", want: `{"x":1,"y":2}`},
		{name: "named argument", template: "{{ items|join(glue: '-') }}", want: "a-b-c"},
		{name: "max and min", template: "{{ max(1, 5, 3) }}{{ min([4, 2, 8]) }}", want: "52"},
		{name: "dump is silent without debug", template: "[{{ dump(items) }}]", want: "[]"},
		{name: "defined", template: "{{ name is defined ? 'y' : 'n' }}{{ nope is defined ? 'y' : 'n' }}", want: "yn"},
		{name: "defined attribute", template: "{{ map.x is defined ? 'y' : 'n' }}{{ map.z is defined ? 'y' : 'n' }}", want: "yn"},
		{name: "null", template: "{{ nope is null ? 'y' : 'n' }}", want: "y"},
		{name: "empty", template: "{{ [] is empty ? 'y' : 'n' }}{{ items is not empty ? 'y' : 'n' }}", want: "yy"},
		{name: "even odd", template: "{{ 2 is even ? 'y' : 'n' }}{{ 2 is odd ? 'y' : 'n' }}", want: "yn"},
		{name: "iterable", template: "{{ items is iterable ? 'y' : 'n' }}{{ name is iterable ? 'y' : 'n' }}", want: "yn"},
		{name: "divisible by", template: "{{ 9 is divisible by(3) ? 'y' : 'n' }}", want: "y"},
		{name: "same as", template: "{{ 1 is same as(1) ? 'y' : 'n' }}{{ 1 is same as('1') ? 'y' : 'n' }}", want: "yn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, map[string]string{"index.twig": tt.template}, Options{})
			if got := render(t, env, "index.twig", ctx); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderStatements(t *testing.T) {
	tests := []struct {
		name     string
		template string
		ctx      map[string]any
		want     string
	}{
		{
			name:     "if elseif else",
			template: "{% if x > 2 %}big{% elseif x > 1 %}medium{% else %}small{% endif %}",
			ctx:      map[string]any{"x": 2},
			want:     "medium",
		},
		{
			name:     "loop metadata",
			template: "{% for x in items %}{{ loop.index }}/{{ loop.length }}:{{ x }}{{ loop.last ? '' : ',' }}{% endfor %}",
			ctx:      map[string]any{"items": []string{"a", "b", "c"}},
			want:     "1/3:a,2/3:b,3/3:c",
		},
		{
			name:     "loop revindex and first",
			template: "{% for x in [1, 2, 3] %}{{ loop.first ? '^' : '' }}{{ loop.revindex0 }}{% endfor %}",
			want:     "^210",
		},
		{
			name:     "for else",
			template: "{% for x in items %}{{ x }}{% else %}none{% endfor %}",
			ctx:      map[string]any{"items": []string{}},
			want:     "none",
		},
		{
			name:     "keys and values",
			template: "{% for k, v in map %}{{ k }}={{ v }};{% endfor %}",
			ctx:      map[string]any{"map": map[string]int{"b": 2, "a": 1}},
			want:     "a=1;b=2;",
		},
		{
			name:     "for with condition",
			template: "{% for x in 1..6 if x is odd %}{{ x }}{{ loop.index }} {% endfor %}",
			want:     "11 32 53 ",
		},
		{
			name:     "nested loops reach the parent loop",
			template: "{% for a in [1, 2] %}{% for b in [1, 2] %}{{ loop.parent.loop.index }}{{ loop.index }} {% endfor %}{% endfor %}",
			want:     "11 12 21 22 ",
		},
		{
			name:     "loop scope",
			template: "{% set x = 'out' %}{% for i in [1] %}{% set x = 'in' %}{% set y = 'new' %}{% endfor %}{{ x }}{{ y }}{{ i }}",
			want:     "in",
		},
		{
			name:     "string does not iterate",
			template: "{% for c in 'abc' %}{{ c }}{% else %}no{% endfor %}",
			want:     "no",
		},
		{
			name:     "set",
			template: "{% set a, b = 1, 2 %}{{ a + b }}",
			want:     "3",
		},
		{
			name:     "set capture",
			template: "{% set greeting %}Hi {{ name }}{% endset %}{{ greeting|upper }}",
			ctx:      map[string]any{"name": "bob"},
			want:     "HI BOB",
		},
		{
			name:     "context variable",
			template: "{{ _context|keys|join(',') }}",
			ctx:      map[string]any{"b": 1, "a": 2},
			want:     "a,b",
		},
		{
			name:     "verbatim",
			template: "{% verbatim %}{{ x }}{% endverbatim %}",
			want:     "{{ x }}",
		},
		{
			name:     "comment and whitespace control",
			template: "a {#- note -#} b {{- 'c' -}} d",
			want:     "abcd",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, map[string]string{"index.twig": tt.template}, Options{})
			if got := render(t, env, "index.twig", tt.ctx); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderMethods(t *testing.T) {
	ctx := map[string]any{
		"foo": &testObject{Name: "obj"},
		"map": map[string]any{"something": "foo"},
	}
	tests := []struct {
		template string
		want     string
	}{
		{template: "{{ foo.getSomething() }}", want: "foo"},
		{template: "{{ foo.something }}", want: "foo"},
		{template: "{{ foo.active ? 'y' : 'n' }}", want: "y"},
		{template: "{{ foo.name }}", want: "obj"},
		{template: "{{ foo.greet('bob') }}", want: "hello bob"},
		{template: "{{ map.something }}{{ map['something'] }}", want: "foofoo"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			env := newEnv(t, map[string]string{"index.twig": tt.template}, Options{StrictVariables: true})
			if got := render(t, env, "index.twig", ctx); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderErrors(t *testing.T) {
	ctx := map[string]any{"foo": &testObject{}, "nothing": nil}
	tests := []struct {
		name     string
		template string
		options  Options
		want     string
	}{
		{
			name:     "undefined variable",
			template: "\n{{ nope }}",
			options:  Options{StrictVariables: true},
			want:     `Variable "nope" does not exist in "index.twig" at line 2.`,
		},
		{
			name:     "method on null",
			template: "{{ nothing.bar() }}",
			options:  Options{StrictVariables: true},
			want:     `Impossible to invoke a method ("bar") on a null variable in "index.twig" at line 1.`,
		},
		{
			name:     "non existing method",
			template: "{{ foo.nonExistingMethod() }}",
			options:  Options{StrictVariables: true},
			want:     `No such method "nonExistingMethod" on object of type "twig.testObject" in "index.twig" at line 1.`,
		},
		{
			name:     "throwing method",
			template: "{{ foo.fail() }}",
			want:     `An exception has been thrown during the rendering of a template ("Fail" on "twig.testObject") in "index.twig" at line 1: something went wrong`,
		},
		{
			name:     "strict types",
			template: "{{ 'foo' == true }}",
			options:  Options{StrictTypes: true},
			want:     `Cannot compare different types (tried to compare "string" with "bool") in "index.twig" at line 1.`,
		},
		{
			name:     "division by zero",
			template: "\n\n{{ 1 / 0 }}",
			want:     `Division by zero in "index.twig" at line 3.`,
		},
		{
			name:     "missing include",
			template: "{% include 'nope.twig' %}",
			want:     `Unable to load template "nope.twig" in "index.twig" at line 1: template not found: nope.twig`,
		},
		{
			name:     "missing block",
			template: "{{ block('nope') }}",
			want:     `Block "nope" on template "index.twig" does not exist in "index.twig" at line 1.`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, map[string]string{"index.twig": tt.template}, tt.options)
			_, err := env.Render("index.twig", ctx)
			var re *twigerr.RuntimeError
			if !errors.As(err, &re) {
				t.Fatalf("want RuntimeError, got %v", err)
			}
			if err.Error() != tt.want {
				t.Errorf("got  %s\nwant %s", err, tt.want)
			}
		})
	}
}

func TestLenientRendering(t *testing.T) {
	env := newEnv(t, map[string]string{
		"index.twig": "[{{ nope }}{{ nope.deeper.still }}{{ foo.nonExistingMethod() }}{{ 'foo' == true ? 'y' : 'n' }}]",
	}, Options{})
	if got := render(t, env, "index.twig", map[string]any{"foo": &testObject{}}); got != "[n]" {
		t.Errorf("got %q", got)
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []struct {
		template string
		want     string
	}{
		{template: "{{ x|nope }}", want: `Unknown "nope" filter in "index.twig" at line 1.`},
		{template: "{{ nope() }}", want: `Unknown "nope" function in "index.twig" at line 1.`},
		{template: "\n{% nope %}", want: `Unknown "nope" tag in "index.twig" at line 2.`},
		{template: "{{ parent() }}", want: `Calling "parent" outside a block is forbidden in "index.twig" at line 1.`},
		{template: "{% extends 'a' %}text", want: `A template that extends another one cannot include content outside Twig blocks. Did you forget to put the content inside a {% block %} tag in "index.twig" at line 1?`},
		{template: "{% block a %}{% endblock %}{% block a %}{% endblock %}", want: `The block "a" has already been defined line 1 in "index.twig" at line 1.`},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			env := newEnv(t, map[string]string{"index.twig": tt.template}, Options{})
			_, err := env.LoadTemplate("index.twig")
			var se *twigerr.SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("want SyntaxError, got %v", err)
			}
			if err.Error() != tt.want {
				t.Errorf("got  %s\nwant %s", err, tt.want)
			}
		})
	}
}

func TestInheritance(t *testing.T) {
	env := newEnv(t, map[string]string{
		"base.twig":  "<title>{% block title %}Base{% endblock %}</title>{% block body %}{% endblock %}",
		"mid.twig":   "{% extends 'base.twig' %}{% block title %}Mid/{{ parent() }}{% endblock %}",
		"child.twig": "{% extends 'mid.twig' %}{% set who = 'child' %}{% block title %}{{ who }}/{{ parent() }}{% endblock %}{% block body %}content{% endblock %}",
		"self.twig":  "{% block a %}A{% endblock %}|{{ block('a') }}",
		"dyn.twig":   "{% extends layout %}{% block body %}dyn{% endblock %}",
		"scope.twig": "{% block a %}{% set x = 'in' %}{{ x }}{% endblock %}[{{ x }}]",
	}, Options{})

	tests := []struct {
		name string
		ctx  map[string]any
		want string
	}{
		{name: "base.twig", want: "<title>Base</title>"},
		{name: "mid.twig", want: "<title>Mid/Base</title>"},
		{name: "child.twig", want: "<title>child/Mid/Base</title>content"},
		{name: "self.twig", want: "A|A"},
		{name: "dyn.twig", ctx: map[string]any{"layout": "base.twig"}, want: "<title>Base</title>dyn"},
		{name: "scope.twig", ctx: map[string]any{"x": "out"}, want: "in[out]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, env, tt.name, tt.ctx); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInclude(t *testing.T) {
	env := newEnv(t, map[string]string{
		"partial.twig": "P{{ x }}{{ y }}",
		"setter.twig":  "{% set z = 1 %}",
		"self.twig":    "{{ n }}{% if n > 0 %}{% include 'self.twig' with {'n': n - 1} %}{% endif %}",
	}, Options{})

	tests := []struct {
		template string
		want     string
	}{
		{template: "{% include 'partial.twig' %}", want: "P1"},
		{template: "{% include 'partial.twig' with {'x': 2} %}", want: "P2"},
		{template: "{% include 'partial.twig' with {'y': 3} only %}", want: "P3"},
		{template: "{% include 'partial.twig' only %}", want: "P"},
		{template: "{% include 'nope.twig' ignore missing %}ok", want: "ok"},
		{template: "{% include ['nope.twig', 'partial.twig'] %}", want: "P1"},
		{template: "{% include 'setter.twig' %}[{{ z }}]", want: "[]"},
		{template: "{% include 'self.twig' with {'n': 3} %}", want: "3210"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			tmpl, err := env.CreateTemplate(tt.template)
			if err != nil {
				t.Fatalf("CreateTemplate: %v", err)
			}
			got, err := tmpl.Render(map[string]any{"x": 1})
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAutoescape(t *testing.T) {
	env := newEnv(t, map[string]string{
		"index.twig": "{{ v }}|{{ v|raw }}|{{ '<i>' }}|{% block b %}{{ v }}{% endblock %}",
	}, Options{Autoescape: "html"})
	got := render(t, env, "index.twig", map[string]any{"v": "<b>"})
	if want := "&lt;b&gt;|<b>|<i>|&lt;b&gt;"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAutoescapeBlockOutput(t *testing.T) {
	env := newEnv(t, map[string]string{
		"base.twig":  "{% block b %}<p>{{ x }}</p>{% endblock %}",
		"index.twig": "{% extends 'base.twig' %}{% block b %}[{{ parent() }}]{{ block('c') }}{% endblock %}{% block c %}{{ x }}{% endblock %}",
	}, Options{Autoescape: "html"})
	got := render(t, env, "index.twig", map[string]any{"x": "<i>"})
	if want := "[<p>&lt;i&gt;</p>]&lt;i&gt;"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDumpInDebug(t *testing.T) {
	env := newEnv(t, map[string]string{"index.twig": "{{ dump(items) }}"}, Options{Debug: true})
	got := render(t, env, "index.twig", map[string]any{"items": []any{"a"}})
	if !strings.Contains(got, `"a"`) {
		t.Errorf("dump output %q does not show the value", got)
	}
}

func TestTemplateClass(t *testing.T) {
	env := newEnv(t, nil, Options{})
	a := env.TemplateClass("a.twig", "x")
	if !strings.HasPrefix(a, "__TwigTemplate_") || len(a) != len("__TwigTemplate_")+32 {
		t.Fatalf("unexpected class %q", a)
	}
	if a != env.TemplateClass("a.twig", "x") {
		t.Error("class is not deterministic")
	}
	if a == env.TemplateClass("a.twig", "y") || a == env.TemplateClass("b.twig", "x") {
		t.Error("class must depend on name and source")
	}
}

func TestCompileSource(t *testing.T) {
	env := newEnv(t, nil, Options{})
	src, err := env.CompileSource("Hello {{ name }}", "hello.twig")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"def " + env.TemplateClass("hello.twig", "Hello {{ name }}") + "(this):",
		`_out.append("Hello ")`,
		`this.get_context(context, "name", False, 1)`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("generated source lacks %q:\n%s", want, src)
		}
	}
}

func TestConcurrentRenders(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newEnv(t, map[string]string{
		"index.twig": "{% for i in 1..3 %}{{ name }}{{ i }}{% endfor %}",
	}, Options{}, WithRegisterer(reg))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := env.Render("index.twig", map[string]any{"name": i})
			if err != nil {
				t.Errorf("render: %v", err)
				return
			}
			want := fmt.Sprintf("%[1]d1%[1]d2%[1]d3", i)
			if out != want {
				t.Errorf("got %q, want %q", out, want)
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(env.Metrics().Misses); got != 1 {
		t.Errorf("compiled %v times, want 1", got)
	}
}

type shoutExtension struct{}

func (shoutExtension) Name() string                               { return "shout" }
func (shoutExtension) TagParsers() []parser.TagParser             { return nil }
func (shoutExtension) UnaryOperators() map[string]parser.Operator { return nil }
func (shoutExtension) BinaryOperators() map[string]parser.Operator {
	return nil
}
func (shoutExtension) Functions() map[string]runtime.Func { return nil }
func (shoutExtension) Tests() map[string]runtime.Func     { return nil }
func (shoutExtension) Filters() map[string]runtime.Func {
	return map[string]runtime.Func{
		"shout": stringFilter("shout", func(s string) string { return strings.ToUpper(s) + "!" }),
	}
}

func TestExtensions(t *testing.T) {
	env := newEnv(t, map[string]string{"index.twig": "{{ 'hi'|shout }}"}, Options{}, WithExtension(shoutExtension{}))
	if got := render(t, env, "index.twig", nil); got != "HI!" {
		t.Errorf("got %q", got)
	}

	_, err := New(Options{}, WithExtension(CoreExtension{}))
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("want a multierror, got %v", err)
	}
	if len(merr.Errors) < 2 {
		t.Errorf("want every conflict reported, got %v", merr.Errors)
	}
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	if _, err := New(Options{Autoescape: "rot13"}); err == nil {
		t.Error("want an error for an unknown escaping strategy")
	}
}
