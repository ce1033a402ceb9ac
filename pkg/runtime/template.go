package runtime

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/neurodesk/twig/pkg/loader"
	"github.com/neurodesk/twig/pkg/twigerr"
	"go.starlark.net/starlark"
)

// Template is an instantiated template unit. It is the value generated code
// sees as "this"; its builtins implement the runtime operations. A Template
// is immutable once loaded and may render concurrently.
type Template struct {
	env   Environment
	name  string
	class string

	display starlark.Callable
	parent  starlark.Callable
	blocks  *starlark.Dict

	// lines maps a generated source line to the template line it came from.
	lines    []int
	builtins map[string]*starlark.Builtin
}

var _ starlark.HasAttrs = (*Template)(nil)

func newTemplate(env Environment, class, source string) *Template {
	t := &Template{env: env, class: class, lines: lineTable(source)}
	t.builtins = make(map[string]*starlark.Builtin, len(templateMethods))
	for name, m := range templateMethods {
		t.builtins[name] = starlark.NewBuiltin(name, t.bind(m))
	}
	return t
}

// lineTable follows the "# line N" markers of generated source.
func lineTable(source string) []int {
	lines := strings.Split(source, "\n")
	table := make([]int, len(lines)+1)
	current := 0
	for i, l := range lines {
		l = strings.TrimSpace(l)
		if rest, ok := strings.CutPrefix(l, "# line "); ok {
			if n, err := strconv.Atoi(rest); err == nil {
				current = n
			}
		}
		table[i+1] = current
	}
	return table
}

func (t *Template) lineAt(generated int32) int {
	if generated <= 0 || int(generated) >= len(t.lines) {
		return 0
	}
	return t.lines[generated]
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Class returns the name of the generated unit.
func (t *Template) Class() string { return t.class }

// Env returns the environment the template was loaded by.
func (t *Template) Env() Environment { return t.env }

func (t *Template) String() string       { return fmt.Sprintf("<template %q>", t.name) }
func (t *Template) Type() string         { return "template" }
func (t *Template) Freeze()              {}
func (t *Template) Truth() starlark.Bool { return true }
func (t *Template) Hash() (uint32, error) {
	h := fnv.New32a()
	h.Write([]byte(t.class))
	return h.Sum32(), nil
}

func (t *Template) Attr(name string) (starlark.Value, error) {
	if b, ok := t.builtins[name]; ok {
		return b, nil
	}
	return nil, nil
}

func (t *Template) AttrNames() []string {
	names := make([]string, 0, len(t.builtins))
	for n := range t.builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render renders the template against ctx. ctx is copied; the template
// never writes to it.
func (t *Template) Render(ctx map[string]any) (string, error) {
	thread := &starlark.Thread{Name: t.name}
	out, err := t.Display(thread, ContextFromGo(ctx), starlark.NewDict(0))
	if err != nil {
		return "", t.unwrap(err)
	}
	return out, nil
}

// Display runs the template body on thread. blocks override the
// template's own blocks.
func (t *Template) Display(thread *starlark.Thread, ctx, blocks *starlark.Dict) (string, error) {
	v, err := starlark.Call(thread, t.display, starlark.Tuple{ctx, mergeBlocks(t.blocks, blocks)}, nil)
	if err != nil {
		return "", err
	}
	return ToString(v), nil
}

// mergeBlocks returns a new dict holding a's entries overridden by b's.
func mergeBlocks(a, b *starlark.Dict) *starlark.Dict {
	out := starlark.NewDict(a.Len() + b.Len())
	for _, d := range []*starlark.Dict{a, b} {
		for _, item := range d.Items() {
			_ = out.SetKey(item[0], item[1])
		}
	}
	return out
}

// Parent resolves the template this one extends, or nil.
func (t *Template) Parent(thread *starlark.Thread, ctx *starlark.Dict) (*Template, error) {
	v, err := starlark.Call(thread, t.parent, starlark.Tuple{ctx}, nil)
	if err != nil {
		return nil, err
	}
	switch p := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case *Template:
		return p, nil
	case starlark.String:
		parent, err := t.env.LoadTemplate(string(p))
		if err != nil {
			return nil, t.errorf(0, err, "Unable to load the parent template %q", string(p))
		}
		return parent, nil
	}
	return nil, t.errorf(0, nil, "A template can only extend a template name, got %s.", typeName(v))
}

// DisplayBlock renders the named block. With useBlocks the passed table
// wins over the template's own blocks; a missing block is looked up in the
// parent chain.
func (t *Template) DisplayBlock(thread *starlark.Thread, name string, ctx, blocks *starlark.Dict, useBlocks bool) (string, error) {
	key := starlark.String(name)
	var fn starlark.Value
	found := false
	if useBlocks {
		fn, found, _ = blocks.Get(key)
	}
	if !found {
		fn, found, _ = t.blocks.Get(key)
	}
	if found {
		// blocks get the context by value
		v, err := starlark.Call(thread, fn, starlark.Tuple{mergeBlocks(ctx, starlark.NewDict(0)), blocks}, nil)
		if err != nil {
			return "", err
		}
		return ToString(v), nil
	}

	parent, err := t.Parent(thread, ctx)
	if err != nil {
		return "", err
	}
	if parent != nil {
		return parent.DisplayBlock(thread, name, ctx, mergeBlocks(t.blocks, blocks), false)
	}
	if _, ok, _ := blocks.Get(key); ok {
		return "", t.errorf(0, nil, "Block %q should not call parent() as the block does not exist in the parent template.", name)
	}
	return "", t.errorf(0, nil, "Block %q on template %q does not exist.", name, t.name)
}

// DisplayParentBlock renders the parent's version of a block.
func (t *Template) DisplayParentBlock(thread *starlark.Thread, name string, ctx, blocks *starlark.Dict) (string, error) {
	parent, err := t.Parent(thread, ctx)
	if err != nil {
		return "", err
	}
	if parent == nil {
		return "", t.errorf(0, nil, "The template has no parent and no traits defining the %q block.", name)
	}
	return parent.DisplayBlock(thread, name, ctx, blocks, false)
}

// DisplayParent renders the parent template with this template's blocks
// layered over it.
func (t *Template) DisplayParent(thread *starlark.Thread, ctx, blocks *starlark.Dict) (string, error) {
	parent, err := t.Parent(thread, ctx)
	if err != nil {
		return "", err
	}
	if parent == nil {
		return "", t.errorf(0, nil, "Template %q has no parent.", t.name)
	}
	return parent.Display(thread, ctx, mergeBlocks(t.blocks, blocks))
}

// LoadTemplate resolves name, a template name, a Template or a list of
// candidates of which the first that exists wins.
func (t *Template) LoadTemplate(name starlark.Value, ignoreMissing bool, line int) (*Template, error) {
	switch n := name.(type) {
	case *Template:
		return n, nil
	case *starlark.List, starlark.Tuple:
		candidates := n.(starlark.Indexable)
		var tried []string
		for i := 0; i < candidates.Len(); i++ {
			tmpl, err := t.LoadTemplate(candidates.Index(i), true, line)
			if err != nil {
				return nil, err
			}
			if tmpl != nil {
				return tmpl, nil
			}
			tried = append(tried, ToString(candidates.Index(i)))
		}
		if ignoreMissing {
			return nil, nil
		}
		return nil, t.errorf(line, loader.ErrNotFound, "Unable to find one of the following templates: %q", strings.Join(tried, ", "))
	}
	tmpl, err := t.env.LoadTemplate(ToString(name))
	if err != nil {
		if ignoreMissing && errors.Is(err, loader.ErrNotFound) {
			return nil, nil
		}
		return nil, t.locate(err, line, "Unable to load template %q", ToString(name))
	}
	return tmpl, nil
}

// Include renders another template with the current context, extended by
// vars, or with vars alone when only is set.
func (t *Template) Include(thread *starlark.Thread, ctx *starlark.Dict, name, vars starlark.Value, only, ignoreMissing bool, line int) (string, error) {
	var extra *starlark.Dict
	switch v := vars.(type) {
	case starlark.NoneType:
	case *starlark.Dict:
		extra = v
	default:
		return "", t.errorf(line, nil, "Variables passed to the \"include\" tag must be a mapping, got %s.", typeName(vars))
	}

	included := starlark.NewDict(0)
	if !only {
		included = mergeBlocks(ctx, included)
	}
	if extra != nil {
		included = mergeBlocks(included, extra)
	}

	tmpl, err := t.LoadTemplate(name, ignoreMissing, line)
	if err != nil || tmpl == nil {
		return "", err
	}
	return tmpl.Display(thread, included, starlark.NewDict(0))
}

// LeaveScope restores the context saved before a for loop. Loop variables
// disappear; variables that existed before get their value from inside the
// loop; variables introduced inside the loop are dropped.
func (t *Template) LeaveScope(ctx *starlark.Dict, targets []string) error {
	pv, ok, _ := ctx.Get(starlark.String("_parent"))
	parent, isDict := pv.(*starlark.Dict)
	if !ok || !isDict {
		return t.errorf(0, nil, "Loop scope has no saved parent context.")
	}
	for _, k := range append([]string{"_seq", "_iterated", "_parent", "loop"}, targets...) {
		_, _, _ = ctx.Delete(starlark.String(k))
	}
	keep := make(map[string]starlark.Value, ctx.Len())
	for _, item := range ctx.Items() {
		if _, ok, _ := parent.Get(item[0]); ok {
			keep[ToString(item[0])] = item[1]
		}
	}
	if err := ctx.Clear(); err != nil {
		return err
	}
	for _, item := range parent.Items() {
		v := item[1]
		if inner, ok := keep[ToString(item[0])]; ok {
			v = inner
		}
		if err := ctx.SetKey(item[0], v); err != nil {
			return err
		}
	}
	return nil
}

func (t *Template) errorf(line int, cause error, format string, args ...any) *twigerr.RuntimeError {
	return twigerr.NewRuntimeError(t.name, line, cause, format, args...)
}

// locate stamps twig errors that lack a position and wraps any other
// failure into a RuntimeError described by format.
func (t *Template) locate(err error, line int, format string, args ...any) error {
	var re *twigerr.RuntimeError
	if errors.As(err, &re) {
		re.Locate(t.name, line)
		return err
	}
	var se *twigerr.SyntaxError
	if errors.As(err, &se) {
		return err
	}
	return t.errorf(line, err, format, args...)
}

// unwrap turns a Starlark evaluation error back into the twig error that
// caused it.
func (t *Template) unwrap(err error) error {
	var se *twigerr.SyntaxError
	if errors.As(err, &se) {
		return se
	}
	var re *twigerr.RuntimeError
	if errors.As(err, &re) {
		return re
	}
	var ce *twigerr.CompileError
	if errors.As(err, &ce) {
		return ce
	}
	var ee *starlark.EvalError
	if errors.As(err, &ee) {
		line := 0
		for i := len(ee.CallStack) - 1; i >= 0 && line == 0; i-- {
			if ee.CallStack[i].Pos.Filename() == t.class {
				line = t.lineAt(ee.CallStack[i].Pos.Line)
			}
		}
		return t.errorf(line, nil, "%s", ee.Msg)
	}
	return t.errorf(0, err, "An exception has been thrown during the rendering of a template")
}
