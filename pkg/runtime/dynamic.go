package runtime

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DynamicType wraps one operand of a binary or unary operator. Its methods
// apply a single coercion policy whatever the operand types turn out to be
// at render time.
type DynamicType struct {
	Value starlark.Value
	t     *Template
}

var _ starlark.HasAttrs = (*DynamicType)(nil)

func (d *DynamicType) String() string        { return "dynamic(" + d.Value.String() + ")" }
func (d *DynamicType) Type() string          { return "dynamic" }
func (d *DynamicType) Freeze()               {}
func (d *DynamicType) Truth() starlark.Bool  { return starlark.Bool(ToBool(d.Value)) }
func (d *DynamicType) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: dynamic") }

type dynamicMethod func(d *DynamicType, other starlark.Value) (starlark.Value, error)

var dynamicMethods = map[string]dynamicMethod{
	"equals": func(d *DynamicType, o starlark.Value) (starlark.Value, error) {
		eq, err := d.t.Compare(d.Value, o)
		return starlark.Bool(eq), err
	},
	"not_equals": func(d *DynamicType, o starlark.Value) (starlark.Value, error) {
		eq, err := d.t.Compare(d.Value, o)
		return starlark.Bool(!eq), err
	},
	"lt": ordering(syntax.LT),
	"le": ordering(syntax.LE),
	"gt": ordering(syntax.GT),
	"ge": ordering(syntax.GE),

	"add":      arithmetic("+"),
	"sub":      arithmetic("-"),
	"mul":      arithmetic("*"),
	"div":      arithmetic("/"),
	"floordiv": arithmetic("//"),
	"mod":      arithmetic("%"),
	"pow":      arithmetic("**"),
	"bitand":   arithmetic("b-and"),
	"bitor":    arithmetic("b-or"),
	"bitxor":   arithmetic("b-xor"),
}

var unaryMethods = map[string]func(d *DynamicType) (starlark.Value, error){
	"neg": func(d *DynamicType) (starlark.Value, error) {
		n, err := d.t.number(d.Value, starlark.MakeInt(0), "-")
		if err != nil {
			return nil, err
		}
		return starlark.Unary(syntax.MINUS, n)
	},
	"pos": func(d *DynamicType) (starlark.Value, error) {
		return d.t.number(d.Value, starlark.MakeInt(0), "+")
	},
}

func (d *DynamicType) Attr(name string) (starlark.Value, error) {
	if m, ok := dynamicMethods[name]; ok {
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var other starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &other); err != nil {
				return nil, err
			}
			if o, ok := other.(*DynamicType); ok {
				other = o.Value
			}
			v, err := m(d, other)
			if err != nil {
				d.t.stampLine(thread, err)
			}
			return v, err
		}), nil
	}
	if m, ok := unaryMethods[name]; ok {
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
				return nil, err
			}
			v, err := m(d)
			if err != nil {
				d.t.stampLine(thread, err)
			}
			return v, err
		}), nil
	}
	return nil, nil
}

func (d *DynamicType) AttrNames() []string {
	names := make([]string, 0, len(dynamicMethods)+len(unaryMethods))
	for n := range dynamicMethods {
		names = append(names, n)
	}
	for n := range unaryMethods {
		names = append(names, n)
	}
	return names
}

// kind groups values whose types compare with each other. Integers and
// floats share one kind.
func kind(v starlark.Value) string {
	switch v.(type) {
	case starlark.Int, starlark.Float:
		return "number"
	}
	return typeName(v)
}

// Compare reports whether a and b are equal. Values of different types are
// never equal; with strict types the mismatch is an error. None may be
// compared with anything.
func (t *Template) Compare(a, b starlark.Value) (bool, error) {
	if a == nil {
		a = starlark.None
	}
	if b == nil {
		b = starlark.None
	}
	if a == starlark.None || b == starlark.None {
		return a == b, nil
	}
	if kind(a) != kind(b) {
		if t.env.StrictTypes() {
			return false, t.errorf(0, nil, "Cannot compare different types (tried to compare %q with %q).", typeName(a), typeName(b))
		}
		return false, nil
	}
	if ha, ok := a.(*HostValue); ok {
		hb := b.(*HostValue)
		if ha.v.Type().Comparable() {
			return ha.v.Interface() == hb.v.Interface(), nil
		}
		return false, nil
	}
	eq, err := starlark.Equal(a, b)
	if err != nil {
		return false, t.errorf(0, err, "Cannot compare %q values", typeName(a))
	}
	return eq, nil
}

func ordering(op syntax.Token) dynamicMethod {
	return func(d *DynamicType, o starlark.Value) (starlark.Value, error) {
		a, b := d.Value, o
		if kind(a) != kind(b) {
			if d.t.env.StrictTypes() {
				return nil, d.t.errorf(0, nil, "Cannot compare different types (tried to compare %q with %q).", typeName(a), typeName(b))
			}
			na, ok1 := ToNumber(a)
			nb, ok2 := ToNumber(b)
			if !ok1 || !ok2 {
				a, b = starlark.String(ToString(a)), starlark.String(ToString(b))
			} else {
				a, b = na, nb
			}
		}
		switch a.(type) {
		case starlark.Int, starlark.Float, starlark.String, starlark.Bool, *starlark.List, starlark.Tuple:
		default:
			return nil, d.t.errorf(0, nil, "Values of type %q cannot be ordered.", typeName(a))
		}
		ok, err := starlark.Compare(op, a, b)
		if err != nil {
			return nil, d.t.errorf(0, err, "Cannot order %q values", typeName(a))
		}
		return starlark.Bool(ok), nil
	}
}

// ToNumber coerces a scalar to an Int or Float. Booleans count as 0 and 1,
// None as 0, and strings only when they hold a number.
func ToNumber(v starlark.Value) (starlark.Value, bool) {
	switch t := v.(type) {
	case starlark.Int, starlark.Float:
		return t, true
	case starlark.Bool:
		if t {
			return starlark.MakeInt(1), true
		}
		return starlark.MakeInt(0), true
	case starlark.NoneType:
		return starlark.MakeInt(0), true
	case starlark.String:
		s := strings.TrimSpace(string(t))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return starlark.MakeInt64(i), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return starlark.Float(f), true
		}
	}
	return nil, false
}

// number coerces v for the arithmetic operator op. Non numeric operands are
// zero in lenient mode.
func (t *Template) number(v, other starlark.Value, op string) (starlark.Value, error) {
	if n, ok := ToNumber(v); ok {
		return n, nil
	}
	if t.env.StrictTypes() {
		return nil, t.errorf(0, nil, "Unsupported operand types %q and %q for %q.", typeName(v), typeName(other), op)
	}
	return starlark.MakeInt(0), nil
}

func isZero(v starlark.Value) bool {
	switch n := v.(type) {
	case starlark.Int:
		return n.Sign() == 0
	case starlark.Float:
		return n == 0
	}
	return false
}

func toInt(v starlark.Value) starlark.Int {
	if f, ok := v.(starlark.Float); ok {
		return starlark.MakeInt64(int64(f))
	}
	return v.(starlark.Int)
}

func arithmetic(op string) dynamicMethod {
	return func(d *DynamicType, o starlark.Value) (starlark.Value, error) {
		a, err := d.t.number(d.Value, o, op)
		if err != nil {
			return nil, err
		}
		b, err := d.t.number(o, d.Value, op)
		if err != nil {
			return nil, err
		}
		switch op {
		case "/", "//", "%":
			if isZero(b) {
				return nil, d.t.errorf(0, nil, "Division by zero.")
			}
		}

		switch op {
		case "+":
			return starlark.Binary(syntax.PLUS, a, b)
		case "-":
			return starlark.Binary(syntax.MINUS, a, b)
		case "*":
			return starlark.Binary(syntax.STAR, a, b)
		case "//":
			return starlark.Binary(syntax.SLASHSLASH, a, b)
		case "%":
			return starlark.Binary(syntax.PERCENT, a, b)
		case "/":
			ai, aok := a.(starlark.Int)
			bi, bok := b.(starlark.Int)
			if aok && bok {
				rem, err := starlark.Binary(syntax.PERCENT, ai, bi)
				if err != nil {
					return nil, err
				}
				if rem.(starlark.Int).Sign() == 0 {
					return starlark.Binary(syntax.SLASHSLASH, ai, bi)
				}
			}
			return starlark.Binary(syntax.SLASH, a, b)
		case "**":
			return power(a, b)
		case "b-and":
			return starlark.Binary(syntax.AMP, toInt(a), toInt(b))
		case "b-or":
			return starlark.Binary(syntax.PIPE, toInt(a), toInt(b))
		case "b-xor":
			return starlark.Binary(syntax.CIRCUMFLEX, toInt(a), toInt(b))
		}
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

// power keeps integer results for non-negative integer exponents.
func power(a, b starlark.Value) (starlark.Value, error) {
	ai, aok := a.(starlark.Int)
	bi, bok := b.(starlark.Int)
	if aok && bok && bi.Sign() >= 0 {
		return starlark.MakeBigInt(new(big.Int).Exp(ai.BigInt(), bi.BigInt(), nil)), nil
	}
	return starlark.Float(math.Pow(asFloat(a), asFloat(b))), nil
}

func asFloat(v starlark.Value) float64 {
	switch n := v.(type) {
	case starlark.Float:
		return float64(n)
	case starlark.Int:
		f, _ := starlark.AsFloat(n)
		return f
	}
	return 0
}
