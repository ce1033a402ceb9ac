package runtime

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"
	"go.starlark.net/starlark"
)

// AccessType is how an attribute was written in the template.
type AccessType string

const (
	// AnyAccess is "obj.item".
	AnyAccess AccessType = "any"
	// ArrayAccess is "obj[item]".
	ArrayAccess AccessType = "array"
	// MethodAccess is "obj.item(args)".
	MethodAccess AccessType = "method"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func (t *Template) lenient(ignoreStrict bool) bool {
	return ignoreStrict || !t.env.StrictVariables()
}

// GetContext looks name up in the render context. A missing variable is
// None unless strict variables are on.
func (t *Template) GetContext(ctx *starlark.Dict, name string, ignoreStrict bool, line int) (starlark.Value, error) {
	v, found, err := ctx.Get(starlark.String(name))
	if err != nil {
		return nil, err
	}
	if found {
		return v, nil
	}
	if t.lenient(ignoreStrict) {
		return starlark.None, nil
	}
	return nil, t.errorf(line, nil, "Variable %q does not exist.", name)
}

// GetAttribute resolves obj.item, obj[item] and obj.item(args). The checks
// run in a fixed order:
//
//  1. position or key lookup on lists, tuples and dicts
//  2. failure of a missed array access
//  3. failure on a null object
//  4. failure on a scalar object
//  5. exported field of a host value
//  6. methods named item, Get<Item>, Is<Item> and Has<Item>
//  7. failure when nothing matched
//
// With isDefinedTest the result is a Bool telling whether the lookup would
// succeed.
func (t *Template) GetAttribute(obj, item starlark.Value, args starlark.Tuple, accessType AccessType, isDefinedTest, ignoreStrict bool, line int) (starlark.Value, error) {
	if obj == nil {
		obj = starlark.None
	}
	key := ToString(item)

	if accessType != MethodAccess {
		if v, ok := arrayItem(obj, item); ok {
			if isDefinedTest {
				return starlark.True, nil
			}
			return v, nil
		}

		if accessType == ArrayAccess {
			if isDefinedTest {
				return starlark.False, nil
			}
			if t.lenient(ignoreStrict) {
				return starlark.None, nil
			}
			switch {
			case isArray(obj) && containerLen(obj) == 0:
				return nil, t.errorf(line, nil, "Key %q does not exist as the array is empty.", key)
			case isArray(obj):
				return nil, t.errorf(line, nil, "Key %q for array with keys %q does not exist.", key, strings.Join(containerKeys(obj), ", "))
			case obj == starlark.None:
				return nil, t.errorf(line, nil, "Impossible to access a key (%q) on a null variable.", key)
			default:
				return nil, t.errorf(line, nil, "Impossible to access a key (%q) on a %s variable.", key, typeName(obj))
			}
		}
	}

	if obj == starlark.None || isScalar(obj) {
		if isDefinedTest {
			return starlark.False, nil
		}
		if t.lenient(ignoreStrict) {
			return starlark.None, nil
		}
		what := "null"
		if obj != starlark.None {
			what = typeName(obj)
		}
		if accessType == MethodAccess {
			return nil, t.errorf(line, nil, "Impossible to invoke a method (%q) on a %s variable.", key, what)
		}
		return nil, t.errorf(line, nil, "Impossible to access an attribute (%q) on a %s variable.", key, what)
	}

	var (
		v     starlark.Value
		found bool
		err   error
	)
	switch o := obj.(type) {
	case *HostValue:
		if accessType != MethodAccess {
			v, found = o.member(key)
		}
		if !found {
			v, found, err = o.call(key, args)
		}
	case *Template:
		// templates expose no members to template code
	case starlark.HasAttrs:
		// container builtins are reachable only as calls
		if !isArray(obj) || accessType == MethodAccess {
			v, found, err = starlarkAttr(o, key, args, accessType)
		}
	}
	if err != nil {
		if isDefinedTest {
			return starlark.False, nil
		}
		var ce *callError
		if errors.As(err, &ce) {
			return nil, t.errorf(line, ce.cause, "An exception has been thrown during the rendering of a template (%q on %q)", ce.method, typeName(obj))
		}
		return nil, t.errorf(line, err, "An exception has been thrown during the rendering of a template (%q on %q)", key, typeName(obj))
	}
	if found {
		if isDefinedTest {
			return starlark.True, nil
		}
		return v, nil
	}

	if isDefinedTest {
		return starlark.False, nil
	}
	if t.lenient(ignoreStrict) {
		return starlark.None, nil
	}
	return nil, t.errorf(line, nil, "No such method %q on object of type %q.", key, typeName(obj))
}

// arrayItem looks item up by position in a list or tuple, or by key in a
// dict. Booleans and floats index as integers; an absent entry is not an
// error here.
func arrayItem(obj, item starlark.Value) (starlark.Value, bool) {
	switch o := obj.(type) {
	case *starlark.Dict:
		if v, found, err := o.Get(item); err == nil && found {
			return v, true
		}
		// "1" and 1 name the same entry
		var alt starlark.Value
		switch k := item.(type) {
		case starlark.String:
			if i, err := strconv.ParseInt(string(k), 10, 64); err == nil {
				alt = starlark.MakeInt64(i)
			}
		case starlark.Int, starlark.Bool, starlark.Float:
			if i, ok := index(k); ok {
				alt = starlark.String(strconv.Itoa(i))
			}
		}
		if alt != nil {
			if v, found, err := o.Get(alt); err == nil && found {
				return v, true
			}
		}
	case starlark.Indexable:
		if !isSequence(obj) {
			return nil, false
		}
		i, ok := index(item)
		if !ok || i < 0 || i >= o.Len() {
			return nil, false
		}
		return o.Index(i), true
	}
	return nil, false
}

func index(item starlark.Value) (int, bool) {
	switch k := item.(type) {
	case starlark.Bool:
		if k {
			return 1, true
		}
		return 0, true
	case starlark.Int:
		i, ok := k.Int64()
		return int(i), ok
	case starlark.Float:
		return int(k), true
	case starlark.String:
		i, err := strconv.Atoi(string(k))
		return i, err == nil
	}
	return 0, false
}

// starlarkAttr resolves an attribute of a native Starlark value.
func starlarkAttr(o starlark.HasAttrs, key string, args starlark.Tuple, accessType AccessType) (starlark.Value, bool, error) {
	v, err := o.Attr(key)
	if err != nil || v == nil {
		return nil, false, nil
	}
	if c, ok := v.(starlark.Callable); ok && (accessType == MethodAccess || len(args) > 0) {
		res, err := starlark.Call(&starlark.Thread{Name: key}, c, args, nil)
		if err != nil {
			return nil, false, &callError{method: key, cause: err}
		}
		return res, true, nil
	}
	return v, true, nil
}

// memberNames are the Go spellings tried for a template attribute name.
func memberNames(key string) []string {
	camel := strcase.ToCamel(key)
	if camel == key {
		return []string{key}
	}
	return []string{key, camel}
}

// member looks key up as an exported struct field.
func (h *HostValue) member(key string) (starlark.Value, bool) {
	rv := reflect.Indirect(h.v)
	switch rv.Kind() {
	case reflect.Struct:
		for _, name := range memberNames(key) {
			f, ok := rv.Type().FieldByName(name)
			if !ok || !f.IsExported() {
				continue
			}
			return FromGo(rv.FieldByIndex(f.Index).Interface()), true
		}
	}
	return nil, false
}

// callError is a failure inside a probed method.
type callError struct {
	method string
	cause  error
}

func (e *callError) Error() string { return fmt.Sprintf("%s: %v", e.method, e.cause) }
func (e *callError) Unwrap() error { return e.cause }

// call probes the method forms of key in order: the name itself, then the
// Get, Is and Has prefixed forms. A method whose signature cannot take args
// is skipped.
func (h *HostValue) call(key string, args starlark.Tuple) (starlark.Value, bool, error) {
	camel := strcase.ToCamel(key)
	candidates := append(memberNames(key), "Get"+camel, "Is"+camel, "Has"+camel)
	for _, name := range candidates {
		m := h.v.MethodByName(name)
		if !m.IsValid() || !accepts(m.Type(), args) {
			continue
		}
		v, err := invoke(m, args)
		if err != nil {
			return nil, false, &callError{method: name, cause: err}
		}
		return v, true, nil
	}
	return nil, false, nil
}

// accepts reports whether a method of type mt can be called with args.
func accepts(mt reflect.Type, args starlark.Tuple) bool {
	fixed := mt.NumIn()
	if mt.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return false
		}
	} else if len(args) != fixed {
		return false
	}
	for i, a := range args {
		pt := mt.In(min(i, mt.NumIn()-1))
		if i >= fixed {
			pt = pt.Elem()
		}
		if _, err := convertArg(ToGo(a), pt); err != nil {
			return false
		}
	}
	return true
}

// invoke calls a Go method with template arguments. Panics and returned
// errors become errors.
func invoke(m reflect.Value, args starlark.Tuple) (result starlark.Value, err error) {
	mt := m.Type()
	if mt.IsVariadic() {
		if len(args) < mt.NumIn()-1 {
			return nil, fmt.Errorf("expected at least %d arguments, got %d", mt.NumIn()-1, len(args))
		}
	} else if len(args) != mt.NumIn() {
		return nil, fmt.Errorf("expected %d arguments, got %d", mt.NumIn(), len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if mt.IsVariadic() && i >= mt.NumIn()-1 {
			pt = mt.In(mt.NumIn() - 1).Elem()
		} else {
			pt = mt.In(i)
		}
		v, err := convertArg(ToGo(a), pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		in[i] = v
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	out := m.Call(in)

	if n := len(out); n > 0 && mt.Out(n-1) == errorType {
		if e := out[n-1].Interface(); e != nil {
			return nil, e.(error)
		}
		out = out[:n-1]
	}
	switch len(out) {
	case 0:
		return starlark.None, nil
	case 1:
		return FromGo(out[0].Interface()), nil
	}
	items := make([]starlark.Value, len(out))
	for i, o := range out {
		items[i] = FromGo(o.Interface())
	}
	return starlark.Tuple(items), nil
}

func convertArg(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	// int to string conversion would yield a rune, not digits
	if rv.Type().ConvertibleTo(t) && (rv.Kind() == reflect.String) == (t.Kind() == reflect.String) {
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", v, t)
}
