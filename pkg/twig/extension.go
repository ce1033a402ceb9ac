package twig

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/go-multierror"
	"github.com/neurodesk/twig/pkg/parser"
	"github.com/neurodesk/twig/pkg/runtime"
)

// Extension contributes syntax and callables to an Environment.
type Extension interface {
	Name() string
	TagParsers() []parser.TagParser
	UnaryOperators() map[string]parser.Operator
	BinaryOperators() map[string]parser.Operator
	Filters() map[string]runtime.Func
	Functions() map[string]runtime.Func
	Tests() map[string]runtime.Func
}

// registry is the merged view of every extension of an Environment. It is
// built once by New and only read afterwards.
type registry struct {
	tags      map[string]parser.TagParser
	unary     map[string]parser.Operator
	binary    map[string]parser.Operator
	filters   map[string]runtime.Func
	functions map[string]runtime.Func
	tests     map[string]runtime.Func

	owner map[string]string
}

func newRegistry() *registry {
	return &registry{
		tags:      map[string]parser.TagParser{},
		unary:     map[string]parser.Operator{},
		binary:    map[string]parser.Operator{},
		filters:   map[string]runtime.Func{},
		functions: map[string]runtime.Func{},
		tests:     map[string]runtime.Func{},
		owner:     map[string]string{},
	}
}

// add merges ext into r. Every name already taken by another extension is
// reported; the first registration wins.
func (r *registry) add(ext Extension) error {
	var errs *multierror.Error
	claim := func(kind, name string) bool {
		key := kind + " " + name
		if prev, ok := r.owner[key]; ok {
			errs = multierror.Append(errs, fmt.Errorf("%s %q of extension %q is already registered by %q", kind, name, ext.Name(), prev))
			return false
		}
		r.owner[key] = ext.Name()
		return true
	}

	for _, tp := range ext.TagParsers() {
		if claim("tag", tp.Tag()) {
			r.tags[tp.Tag()] = tp
		}
	}
	mergeInto(r.unary, ext.UnaryOperators(), "unary operator", claim)
	mergeInto(r.binary, ext.BinaryOperators(), "binary operator", claim)
	mergeInto(r.filters, ext.Filters(), "filter", claim)
	mergeInto(r.functions, ext.Functions(), "function", claim)
	mergeInto(r.tests, ext.Tests(), "test", claim)
	return errs.ErrorOrNil()
}

func mergeInto[V any](dst, src map[string]V, kind string, claim func(kind, name string) bool) {
	// sorted so conflicts are reported in a stable order
	for _, name := range slices.Sorted(maps.Keys(src)) {
		if claim(kind, name) {
			dst[name] = src[name]
		}
	}
}

// grammar builds the parser configuration.
func (r *registry) grammar() *parser.Grammar {
	names := func(m map[string]runtime.Func) map[string]bool {
		out := make(map[string]bool, len(m))
		for n := range m {
			out[n] = true
		}
		return out
	}
	return &parser.Grammar{
		Operators: parser.NewOperatorTable(r.unary, r.binary),
		Tags:      r.tags,
		Filters:   names(r.filters),
		Functions: names(r.functions),
		Tests:     names(r.tests),
	}
}
