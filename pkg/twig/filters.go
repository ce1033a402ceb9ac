package twig

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/neurodesk/twig/pkg/runtime"
	"github.com/sanity-io/litter"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// phpTrimChars are the characters trim removes by default.
const phpTrimChars = " \t\n\r\x00\x0B"

var dumper = litter.Options{StripPackageNames: true, HidePrivateFields: true}

func upper(s string) string { return strings.ToUpper(s) }
func lower(s string) string { return strings.ToLower(s) }

// casers are stateful, so each call gets its own
func title(s string) string { return cases.Title(language.Und).String(s) }

func capitalize(s string) string {
	s = cases.Lower(language.Und).String(s)
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToTitle(r)) + s[n:]
}

func stringFilter(name string, fn func(string) string) runtime.Func {
	return func(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackArgs(name, args, kwargs, "value", &v); err != nil {
			return nil, err
		}
		return starlark.String(fn(runtime.ToString(v))), nil
	}
}

func filterTrim(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	var mask starlark.Value = starlark.None
	side := "both"
	if err := starlark.UnpackArgs("trim", args, kwargs, "value", &v, "character_mask?", &mask, "side?", &side); err != nil {
		return nil, err
	}
	chars := phpTrimChars
	if mask != starlark.None {
		chars = runtime.ToString(mask)
	}
	s := runtime.ToString(v)
	switch side {
	case "left":
		return starlark.String(strings.TrimLeft(s, chars)), nil
	case "right":
		return starlark.String(strings.TrimRight(s, chars)), nil
	case "both":
		return starlark.String(strings.Trim(s, chars)), nil
	}
	return nil, errors.New(`Trimming side must be "left", "right" or "both".`)
}

// isEmpty is the "empty" test: None, false, "" and empty containers.
func isEmpty(v starlark.Value) bool {
	switch t := v.(type) {
	case nil, starlark.NoneType:
		return true
	case starlark.Bool:
		return !bool(t)
	case starlark.String:
		return t == ""
	case starlark.Sequence:
		return t.Len() == 0
	}
	return false
}

func filterDefault(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	var def starlark.Value = starlark.String("")
	if err := starlark.UnpackArgs("default", args, kwargs, "value", &v, "default?", &def); err != nil {
		return nil, err
	}
	if isEmpty(v) {
		return def, nil
	}
	return v, nil
}

// values lists the items of a container; dicts give their values.
func values(v starlark.Value) []starlark.Value {
	pairs := runtime.Iterate(v)
	out := make([]starlark.Value, pairs.Len())
	for i := range out {
		out[i] = pairs.Index(i).(starlark.Tuple)[1]
	}
	return out
}

func isContainer(v starlark.Value) bool {
	switch v.(type) {
	case *starlark.List, starlark.Tuple, *starlark.Dict:
		return true
	}
	return false
}

func filterJoin(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		v    starlark.Value
		glue string
	)
	var and starlark.Value = starlark.None
	if err := starlark.UnpackArgs("join", args, kwargs, "value", &v, "glue?", &glue, "and?", &and); err != nil {
		return nil, err
	}
	if !isContainer(v) {
		return starlark.String(runtime.ToString(v)), nil
	}
	items := values(v)
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = runtime.ToString(item)
	}
	if and == starlark.None || len(parts) < 2 {
		return starlark.String(strings.Join(parts, glue)), nil
	}
	last := len(parts) - 1
	return starlark.String(strings.Join(parts[:last], glue) + runtime.ToString(and) + parts[last]), nil
}

func filterLength(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs("length", args, kwargs, "value", &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case starlark.NoneType:
		return starlark.MakeInt(0), nil
	case starlark.String:
		return starlark.MakeInt(utf8.RuneCountInString(string(t))), nil
	case *starlark.List, starlark.Tuple, *starlark.Dict:
		return starlark.MakeInt(t.(starlark.Sequence).Len()), nil
	}
	return starlark.MakeInt(utf8.RuneCountInString(runtime.ToString(v))), nil
}

func filterKeys(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs("keys", args, kwargs, "value", &v); err != nil {
		return nil, err
	}
	pairs := runtime.Iterate(v)
	keys := make([]starlark.Value, pairs.Len())
	for i := range keys {
		keys[i] = pairs.Index(i).(starlark.Tuple)[0]
	}
	return starlark.NewList(keys), nil
}

// edgeFilter returns the first or last item of a container or character of
// a string.
func edgeFilter(name string, first bool) runtime.Func {
	return func(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var v starlark.Value
		if err := starlark.UnpackArgs(name, args, kwargs, "value", &v); err != nil {
			return nil, err
		}
		if s, ok := v.(starlark.String); ok {
			runes := []rune(string(s))
			switch {
			case len(runes) == 0:
				return starlark.String(""), nil
			case first:
				return starlark.String(string(runes[0])), nil
			}
			return starlark.String(string(runes[len(runes)-1])), nil
		}
		items := values(v)
		switch {
		case len(items) == 0:
			return starlark.None, nil
		case first:
			return items[0], nil
		}
		return items[len(items)-1], nil
	}
}

func number(name string, v starlark.Value) (starlark.Value, error) {
	n, ok := runtime.ToNumber(v)
	if !ok {
		return nil, fmt.Errorf("The %q filter expects a number, got %s.", name, v.Type())
	}
	return n, nil
}

func asFloat(n starlark.Value) float64 {
	f, _ := starlark.AsFloat(n)
	return f
}

func filterAbs(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs("abs", args, kwargs, "value", &v); err != nil {
		return nil, err
	}
	n, err := number("abs", v)
	if err != nil {
		return nil, err
	}
	if i, ok := n.(starlark.Int); ok {
		if i.Sign() < 0 {
			return starlark.Unary(syntax.MINUS, i)
		}
		return i, nil
	}
	return starlark.Float(math.Abs(asFloat(n))), nil
}

func filterRound(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		v         starlark.Value
		precision = 0
		method    = "common"
	)
	if err := starlark.UnpackArgs("round", args, kwargs, "value", &v, "precision?", &precision, "method?", &method); err != nil {
		return nil, err
	}
	n, err := number("round", v)
	if err != nil {
		return nil, err
	}
	f, p := asFloat(n), math.Pow(10, float64(precision))
	switch method {
	case "common":
		return starlark.Float(math.Round(f*p) / p), nil
	case "ceil":
		return starlark.Float(math.Ceil(f*p) / p), nil
	case "floor":
		return starlark.Float(math.Floor(f*p) / p), nil
	}
	return nil, errors.New(`The round filter only supports the "common", "ceil", and "floor" methods.`)
}

func filterEscape(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		v        starlark.Value
		strategy = "html"
	)
	if err := starlark.UnpackArgs("escape", args, kwargs, "value", &v, "strategy?", &strategy); err != nil {
		return nil, err
	}
	s := runtime.ToString(v)
	switch strategy {
	case "html":
		return starlark.String(html.EscapeString(s)), nil
	case "url":
		return starlark.String(url.PathEscape(s)), nil
	}
	return nil, fmt.Errorf("Invalid escaping strategy %q (valid ones: html, url).", strategy)
}

func filterRaw(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs("raw", args, kwargs, "value", &v); err != nil {
		return nil, err
	}
	return v, nil
}

func filterJSONEncode(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs("json_encode", args, kwargs, "value", &v); err != nil {
		return nil, err
	}
	b, err := json.Marshal(runtime.ToGo(v))
	if err != nil {
		return nil, fmt.Errorf("json_encode: %w", err)
	}
	return starlark.String(b), nil
}

func filterDump(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs("dump", args, kwargs, "value", &v); err != nil {
		return nil, err
	}
	return starlark.String(dumper.Sdump(runtime.ToGo(v))), nil
}

func functionRange(t *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var low, high starlark.Value
	var step starlark.Value = starlark.MakeInt(1)
	if err := starlark.UnpackArgs("range", args, kwargs, "low", &low, "high", &high, "step?", &step); err != nil {
		return nil, err
	}
	return t.Range(low, high, step)
}

// functionDump prints its arguments in debug mode and nothing otherwise.
func functionDump(t *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, errors.New("dump: unexpected named arguments")
	}
	if env, ok := t.Env().(*Environment); !ok || !env.Debug() {
		return starlark.String(""), nil
	}
	var b strings.Builder
	for _, a := range args {
		b.WriteString(dumper.Sdump(runtime.ToGo(a)))
		b.WriteByte('\n')
	}
	return starlark.String(b.String()), nil
}

// extremum implements max and min over its arguments, or over the items of
// a single container argument.
func extremum(name string, largest bool) runtime.Func {
	op := syntax.LT
	if largest {
		op = syntax.GT
	}
	return func(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected named arguments", name)
		}
		items := []starlark.Value(args)
		if len(args) == 1 && isContainer(args[0]) {
			items = values(args[0])
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%s() expects at least one value.", name)
		}
		best := items[0]
		for _, v := range items[1:] {
			better, err := starlark.Compare(op, v, best)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if better {
				best = v
			}
		}
		return best, nil
	}
}

func unary(name string, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs(name, args, kwargs, "value", &v); err != nil {
		return nil, err
	}
	return v, nil
}

func testDefined(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	v, err := unary("defined", args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(v != starlark.None), nil
}

func testNull(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	v, err := unary("null", args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(v == starlark.None), nil
}

func testEmpty(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	v, err := unary("empty", args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(isEmpty(v)), nil
}

func testIterable(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	v, err := unary("iterable", args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.Bool(isContainer(v)), nil
}

func integer(name string, v starlark.Value) (int64, error) {
	n, ok := runtime.ToNumber(v)
	if !ok {
		return 0, fmt.Errorf("The %q test expects a number, got %s.", name, v.Type())
	}
	if i, ok := n.(starlark.Int); ok {
		i64, _ := i.Int64()
		return i64, nil
	}
	return int64(asFloat(n)), nil
}

func parity(name string, rem int64) runtime.Func {
	return func(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		v, err := unary(name, args, kwargs)
		if err != nil {
			return nil, err
		}
		i, err := integer(name, v)
		if err != nil {
			return nil, err
		}
		r := i % 2
		if r < 0 {
			r = -r
		}
		return starlark.Bool(r == rem), nil
	}
}

func testDivisibleBy(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v, by starlark.Value
	if err := starlark.UnpackArgs("divisible by", args, kwargs, "value", &v, "num", &by); err != nil {
		return nil, err
	}
	a, err := integer("divisible by", v)
	if err != nil {
		return nil, err
	}
	b, err := integer("divisible by", by)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, errors.New("Division by zero.")
	}
	return starlark.Bool(a%b == 0), nil
}

// testSameAs is identity: equal scalars of the same type, or the very same
// container.
func testSameAs(_ *runtime.Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v, other starlark.Value
	if err := starlark.UnpackArgs("same as", args, kwargs, "value", &v, "other", &other); err != nil {
		return nil, err
	}
	if v.Type() != other.Type() {
		return starlark.False, nil
	}
	switch v.(type) {
	case starlark.NoneType, starlark.Bool, starlark.Int, starlark.Float, starlark.String:
		eq, err := starlark.Equal(v, other)
		return starlark.Bool(eq && err == nil), nil
	}
	return starlark.Bool(v == other), nil
}
