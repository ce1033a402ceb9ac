// Package runtime loads generated template units and implements the
// operations they call back into while rendering: context and attribute
// lookup, dynamic typing, loops, includes and block dispatch.
package runtime

import (
	"go.starlark.net/starlark"
)

// Func implements a filter, function or test. A filter receives the
// filtered value as its first argument and a test the tested value.
type Func func(t *Template, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// Environment is what a rendering template needs from its owner.
type Environment interface {
	StrictVariables() bool
	StrictTypes() bool
	Filter(name string) (Func, bool)
	Function(name string) (Func, bool)
	Test(name string) (Func, bool)
	// LoadTemplate resolves, compiles and returns another template.
	LoadTemplate(name string) (*Template, error)
}
