package runtime

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
)

// HostValue is an opaque handle around a Go value that has no Starlark
// counterpart: structs, pointers, funcs and channels. Struct values are
// copied behind a pointer so pointer-receiver methods are reachable.
type HostValue struct {
	v reflect.Value
}

var _ starlark.Value = (*HostValue)(nil)

// NewHostValue wraps v.
func NewHostValue(v any) *HostValue {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Struct {
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)
		rv = ptr
	}
	return &HostValue{v: rv}
}

// Interface returns the wrapped Go value.
func (h *HostValue) Interface() any { return h.v.Interface() }

// TypeName is the Go type of the wrapped value without the pointer added
// for struct copies.
func (h *HostValue) TypeName() string {
	t := h.v.Type()
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

func (h *HostValue) String() string {
	if s, ok := h.v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	if h.v.Kind() == reflect.Pointer && !h.v.IsNil() {
		return fmt.Sprint(h.v.Elem().Interface())
	}
	return fmt.Sprint(h.v.Interface())
}

func (h *HostValue) Type() string         { return h.TypeName() }
func (h *HostValue) Freeze()              {}
func (h *HostValue) Truth() starlark.Bool { return true }
func (h *HostValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: %s", h.TypeName())
}

// FromGo converts a Go value into the Starlark value universe. Slices and
// arrays become lists, maps become dicts with sorted keys, nil pointers
// become None and anything without a Starlark form is wrapped in a
// HostValue.
func FromGo(v any) starlark.Value {
	if v == nil {
		return starlark.None
	}
	switch t := v.(type) {
	case starlark.Value:
		return t
	case string:
		return starlark.String(t)
	case bool:
		return starlark.Bool(t)
	case int:
		return starlark.MakeInt(t)
	case int8:
		return starlark.MakeInt64(int64(t))
	case int16:
		return starlark.MakeInt64(int64(t))
	case int32:
		return starlark.MakeInt64(int64(t))
	case int64:
		return starlark.MakeInt64(t)
	case uint:
		return starlark.MakeUint(t)
	case uint8:
		return starlark.MakeUint64(uint64(t))
	case uint16:
		return starlark.MakeUint64(uint64(t))
	case uint32:
		return starlark.MakeUint64(uint64(t))
	case uint64:
		return starlark.MakeUint64(t)
	case float32:
		return starlark.Float(float64(t))
	case float64:
		return starlark.Float(t)
	case []byte:
		return starlark.String(string(t))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return starlark.NewList(nil)
		}
		items := make([]starlark.Value, rv.Len())
		for i := range items {
			items[i] = FromGo(rv.Index(i).Interface())
		}
		return starlark.NewList(items)
	case reflect.Map:
		return mapFromGo(rv)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return starlark.None
		}
		if rv.Kind() == reflect.Pointer && rv.Elem().Kind() == reflect.Struct {
			return &HostValue{v: rv}
		}
		return FromGo(rv.Elem().Interface())
	case reflect.String:
		return starlark.String(rv.String())
	case reflect.Bool:
		return starlark.Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if hasMethods(rv) {
			return NewHostValue(v)
		}
		return starlark.MakeInt64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return starlark.MakeUint64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return starlark.Float(rv.Float())
	}
	return NewHostValue(v)
}

// hasMethods keeps named integers like time.Duration behind a HostValue so
// their String method is used when printed.
func hasMethods(rv reflect.Value) bool {
	_, ok := rv.Interface().(fmt.Stringer)
	return ok
}

func mapFromGo(rv reflect.Value) *starlark.Dict {
	type entry struct {
		key, value starlark.Value
		sortKey    string
	}
	entries := make([]entry, 0, rv.Len())
	it := rv.MapRange()
	for it.Next() {
		k := FromGo(it.Key().Interface())
		entries = append(entries, entry{k, FromGo(it.Value().Interface()), ToString(k)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].sortKey < entries[j].sortKey })
	d := starlark.NewDict(len(entries))
	for _, e := range entries {
		// unhashable keys are dropped
		_ = d.SetKey(e.key, e.value)
	}
	return d
}

// ContextFromGo builds a fresh render context. The caller's map is not
// retained.
func ContextFromGo(ctx map[string]any) *starlark.Dict {
	d := starlark.NewDict(len(ctx))
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_ = d.SetKey(starlark.String(k), FromGo(ctx[k]))
	}
	return d
}

// ToGo converts a Starlark value back into plain Go values: nil, bool,
// int64, float64, string, []any and map[string]any. Host values are
// unwrapped.
func ToGo(v starlark.Value) any {
	switch t := v.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(t)
	case starlark.Int:
		if i, ok := t.Int64(); ok {
			return i
		}
		return t.String()
	case starlark.Float:
		return float64(t)
	case starlark.String:
		return string(t)
	case *starlark.List:
		out := make([]any, t.Len())
		for i := range out {
			out[i] = ToGo(t.Index(i))
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToGo(item)
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, item := range t.Items() {
			out[ToString(item[0])] = ToGo(item[1])
		}
		return out
	case *HostValue:
		return t.Interface()
	}
	return v.String()
}

// ToString renders a value the way a print statement does.
func ToString(v starlark.Value) string {
	switch t := v.(type) {
	case nil, starlark.NoneType:
		return ""
	case starlark.String:
		return string(t)
	case starlark.Bool:
		if t {
			return "true"
		}
		return "false"
	case starlark.Int:
		return t.String()
	case starlark.Float:
		return formatFloat(float64(t))
	case *starlark.List:
		parts := make([]string, t.Len())
		for i := range parts {
			parts[i] = ToString(t.Index(i))
		}
		return strings.Join(parts, ", ")
	case starlark.Tuple:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = ToString(item)
		}
		return strings.Join(parts, ", ")
	case *Template:
		return t.Name()
	}
	return v.String()
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	case math.Abs(f) >= 1e15:
		return strconv.FormatFloat(f, 'G', 15, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ToBool is the truth test of if, and, or and not. Empty strings and "0"
// are false, as are zero numbers, None and empty containers.
func ToBool(v starlark.Value) bool {
	switch t := v.(type) {
	case nil, starlark.NoneType:
		return false
	case starlark.String:
		return t != "" && t != "0"
	case starlark.Float:
		return t != 0
	case *HostValue:
		return true
	}
	return bool(v.Truth())
}

// typeName names a value's type in error messages.
func typeName(v starlark.Value) string {
	switch t := v.(type) {
	case nil, starlark.NoneType:
		return "null"
	case *HostValue:
		return t.TypeName()
	case *Template:
		return "Template"
	}
	return v.Type()
}

// isSequence reports whether v is indexed by position.
func isSequence(v starlark.Value) bool {
	switch v.(type) {
	case *starlark.List, starlark.Tuple:
		return true
	}
	return false
}

// isArray reports whether v is a plain container rather than an object.
func isArray(v starlark.Value) bool {
	_, ok := v.(*starlark.Dict)
	return ok || isSequence(v)
}

// isScalar reports whether v is a number, string or boolean.
func isScalar(v starlark.Value) bool {
	switch v.(type) {
	case starlark.Int, starlark.Float, starlark.String, starlark.Bool:
		return true
	}
	return false
}

// containerKeys lists the keys of an array for error messages.
func containerKeys(v starlark.Value) []string {
	var keys []string
	switch t := v.(type) {
	case *starlark.Dict:
		for _, k := range t.Keys() {
			keys = append(keys, ToString(k))
		}
	case starlark.Indexable:
		for i := 0; i < t.Len(); i++ {
			keys = append(keys, strconv.Itoa(i))
		}
	}
	return keys
}

func containerLen(v starlark.Value) int {
	if s, ok := v.(starlark.Sequence); ok {
		return s.Len()
	}
	return 0
}
