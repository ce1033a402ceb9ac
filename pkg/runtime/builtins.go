package runtime

import (
	"errors"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/neurodesk/twig/pkg/twigerr"
	"go.starlark.net/starlark"
)

type method func(t *Template, thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// templateMethods are the operations generated code calls on "this".
var templateMethods = map[string]method{
	"get_context": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			ctx          *starlark.Dict
			name         string
			ignoreStrict bool
			line         int
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 4, &ctx, &name, &ignoreStrict, &line); err != nil {
			return nil, err
		}
		return t.GetContext(ctx, name, ignoreStrict, line)
	},

	"get_attribute": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			obj, item     starlark.Value
			callArgs      *starlark.List
			accessType    string
			isDefinedTest bool
			ignoreStrict  bool
			line          int
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 7,
			&obj, &item, &callArgs, &accessType, &isDefinedTest, &ignoreStrict, &line); err != nil {
			return nil, err
		}
		return t.GetAttribute(obj, item, listTuple(callArgs), AccessType(accessType), isDefinedTest, ignoreStrict, line)
	},

	"dynamic": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		return &DynamicType{Value: v, t: t}, nil
	},

	"to_string": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		return starlark.String(ToString(v)), nil
	},

	"to_bool": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
			return nil, err
		}
		return starlark.Bool(ToBool(v)), nil
	},

	"contains": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var haystack, needle starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &haystack, &needle); err != nil {
			return nil, err
		}
		ok, err := t.Contains(haystack, needle)
		return starlark.Bool(ok), err
	},

	"range": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var low, high starlark.Value
		step := starlark.Value(starlark.MakeInt(1))
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &low, &high, &step); err != nil {
			return nil, err
		}
		return t.Range(low, high, step)
	},

	"iterate": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var seq starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seq); err != nil {
			return nil, err
		}
		return Iterate(seq), nil
	},

	"leave_scope": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			ctx     *starlark.Dict
			targets *starlark.List
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &ctx, &targets); err != nil {
			return nil, err
		}
		names := make([]string, targets.Len())
		for i := range names {
			names[i] = ToString(targets.Index(i))
		}
		return starlark.None, t.LeaveScope(ctx, names)
	},

	"filter": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name       string
			value      starlark.Value
			callArgs   *starlark.List
			callKwargs *starlark.Dict
			line       int
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 5, &name, &value, &callArgs, &callKwargs, &line); err != nil {
			return nil, err
		}
		fn, ok := t.env.Filter(name)
		if !ok {
			return nil, t.errorf(line, nil, "Unknown %q filter.", name)
		}
		return t.invoke(fn, "filter", name, append(starlark.Tuple{value}, listTuple(callArgs)...), callKwargs, line)
	},

	"call": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name       string
			callArgs   *starlark.List
			callKwargs *starlark.Dict
			line       int
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 4, &name, &callArgs, &callKwargs, &line); err != nil {
			return nil, err
		}
		fn, ok := t.env.Function(name)
		if !ok {
			return nil, t.errorf(line, nil, "Unknown %q function.", name)
		}
		return t.invoke(fn, "function", name, listTuple(callArgs), callKwargs, line)
	},

	"test": func(t *Template, _ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name       string
			value      starlark.Value
			callArgs   *starlark.List
			callKwargs *starlark.Dict
			line       int
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 5, &name, &value, &callArgs, &callKwargs, &line); err != nil {
			return nil, err
		}
		fn, ok := t.env.Test(name)
		if !ok {
			return nil, t.errorf(line, nil, "Unknown %q test.", name)
		}
		v, err := t.invoke(fn, "test", name, append(starlark.Tuple{value}, listTuple(callArgs)...), callKwargs, line)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(ToBool(v)), nil
	},

	"include": func(t *Template, thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			ctx                 *starlark.Dict
			name, vars          starlark.Value
			only, ignoreMissing bool
			line                int
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 6, &ctx, &name, &vars, &only, &ignoreMissing, &line); err != nil {
			return nil, err
		}
		out, err := t.Include(thread, ctx, name, vars, only, ignoreMissing, line)
		return starlark.String(out), err
	},

	"display_block": func(t *Template, thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name        string
			ctx, blocks *starlark.Dict
			useBlocks   bool
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 4, &name, &ctx, &blocks, &useBlocks); err != nil {
			return nil, err
		}
		out, err := t.DisplayBlock(thread, name, ctx, blocks, useBlocks)
		return starlark.String(out), err
	},

	"render_block": func(t *Template, thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name        starlark.Value
			ctx, blocks *starlark.Dict
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &name, &ctx, &blocks); err != nil {
			return nil, err
		}
		out, err := t.DisplayBlock(thread, ToString(name), ctx, blocks, true)
		return starlark.String(out), err
	},

	"render_parent_block": func(t *Template, thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name        string
			ctx, blocks *starlark.Dict
		)
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &name, &ctx, &blocks); err != nil {
			return nil, err
		}
		out, err := t.DisplayParentBlock(thread, name, ctx, blocks)
		return starlark.String(out), err
	},

	"display_parent": func(t *Template, thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var ctx, blocks *starlark.Dict
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &ctx, &blocks); err != nil {
			return nil, err
		}
		out, err := t.DisplayParent(thread, ctx, blocks)
		return starlark.String(out), err
	},
}

// bind adapts a method to a builtin. Runtime errors raised without a line
// get the template line of the calling statement.
func (t *Template) bind(m method) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		v, err := m(t, thread, b, args, kwargs)
		if err != nil {
			t.stampLine(thread, err)
			return nil, err
		}
		return v, nil
	}
}

func (t *Template) stampLine(thread *starlark.Thread, err error) {
	var re *twigerr.RuntimeError
	if !errors.As(err, &re) || re.Line > 0 || re.Template != t.name {
		return
	}
	if thread.CallStackDepth() > 1 {
		re.Line = t.lineAt(thread.CallFrame(1).Pos.Line)
	}
}

// invoke calls a registered filter, function or test and attributes its
// failures to the template.
func (t *Template) invoke(fn Func, kind, name string, args starlark.Tuple, kwargs *starlark.Dict, line int) (starlark.Value, error) {
	v, err := fn(t, args, dictKwargs(kwargs))
	if err != nil {
		return nil, t.locate(err, line, "An exception has been thrown during the rendering of a template (%q %s)", name, kind)
	}
	if v == nil {
		v = starlark.None
	}
	return v, nil
}

func listTuple(l *starlark.List) starlark.Tuple {
	if l == nil {
		return nil
	}
	out := make(starlark.Tuple, l.Len())
	for i := range out {
		out[i] = l.Index(i)
	}
	return out
}

func dictKwargs(d *starlark.Dict) []starlark.Tuple {
	if d == nil {
		return nil
	}
	out := make([]starlark.Tuple, 0, d.Len())
	for _, item := range d.Items() {
		out = append(out, starlark.Tuple{item[0], item[1]})
	}
	return out
}

// Iterate turns a value into a list of (key, value) pairs. Lists and tuples
// are keyed by position, dicts by key; strings and other scalars do not
// iterate.
func Iterate(seq starlark.Value) *starlark.List {
	var pairs []starlark.Value
	switch s := seq.(type) {
	case *starlark.Dict:
		for _, item := range s.Items() {
			pairs = append(pairs, starlark.Tuple{item[0], item[1]})
		}
	case starlark.Indexable:
		if _, isString := s.(starlark.String); isString {
			break
		}
		for i := 0; i < s.Len(); i++ {
			pairs = append(pairs, starlark.Tuple{starlark.MakeInt(i), s.Index(i)})
		}
	case starlark.Iterable:
		it := s.Iterate()
		defer it.Done()
		var x starlark.Value
		for i := 0; it.Next(&x); i++ {
			pairs = append(pairs, starlark.Tuple{starlark.MakeInt(i), x})
		}
	}
	return starlark.NewList(pairs)
}

// Contains implements the "in" operator: membership for lists and dict
// values, substring search for strings.
func (t *Template) Contains(haystack, needle starlark.Value) (bool, error) {
	switch h := haystack.(type) {
	case starlark.String:
		return strings.Contains(string(h), ToString(needle)), nil
	case *starlark.Dict:
		for _, item := range h.Items() {
			if looseEqual(item[1], needle) {
				return true, nil
			}
		}
	case starlark.Indexable:
		for i := 0; i < h.Len(); i++ {
			if looseEqual(h.Index(i), needle) {
				return true, nil
			}
		}
	}
	return false, nil
}

// looseEqual compares without raising type errors.
func looseEqual(a, b starlark.Value) bool {
	if kind(a) != kind(b) {
		return false
	}
	eq, err := starlark.Equal(a, b)
	return err == nil && eq
}

// Range builds the inclusive sequence from low to high. Single characters
// produce a character range; step is made to point towards high.
func (t *Template) Range(low, high, step starlark.Value) (*starlark.List, error) {
	ls, lok := low.(starlark.String)
	hs, hok := high.(starlark.String)
	if lok && hok && utf8.RuneCountInString(string(ls)) == 1 && utf8.RuneCountInString(string(hs)) == 1 {
		lr, _ := utf8.DecodeRuneInString(string(ls))
		hr, _ := utf8.DecodeRuneInString(string(hs))
		n, ok := ToNumber(step)
		s := 1
		if ok {
			s = int(math.Abs(asFloat(n)))
		}
		if s == 0 {
			return nil, t.errorf(0, nil, "The step of a range cannot be zero.")
		}
		if hr < lr {
			s = -s
		}
		var out []starlark.Value
		for r := int(lr); (s > 0 && r <= int(hr)) || (s < 0 && r >= int(hr)); r += s {
			out = append(out, starlark.String(string(rune(r))))
		}
		return starlark.NewList(out), nil
	}

	lo, err := t.number(low, high, "..")
	if err != nil {
		return nil, err
	}
	hi, err := t.number(high, low, "..")
	if err != nil {
		return nil, err
	}
	st, err := t.number(step, low, "..")
	if err != nil {
		return nil, err
	}
	_, lf := lo.(starlark.Float)
	_, hf := hi.(starlark.Float)
	_, sf := st.(starlark.Float)
	if lf || hf || sf {
		a, z, s := asFloat(lo), asFloat(hi), math.Abs(asFloat(st))
		if s == 0 {
			return nil, t.errorf(0, nil, "The step of a range cannot be zero.")
		}
		if z < a {
			s = -s
		}
		var out []starlark.Value
		for x := a; (s > 0 && x <= z) || (s < 0 && x >= z); x += s {
			out = append(out, starlark.Float(x))
		}
		return starlark.NewList(out), nil
	}

	a, _ := lo.(starlark.Int).Int64()
	z, _ := hi.(starlark.Int).Int64()
	s, _ := st.(starlark.Int).Int64()
	if s < 0 {
		s = -s
	}
	if s == 0 {
		return nil, t.errorf(0, nil, "The step of a range cannot be zero.")
	}
	if z < a {
		s = -s
	}
	var out []starlark.Value
	for x := a; (s > 0 && x <= z) || (s < 0 && x >= z); x += s {
		out = append(out, starlark.MakeInt64(x))
	}
	return starlark.NewList(out), nil
}
