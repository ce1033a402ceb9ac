package parser

import (
	"maps"
	"slices"

	"github.com/neurodesk/twig/pkg/ast"
	"github.com/neurodesk/twig/pkg/syntax"
)

// Associativity decides how operators of equal precedence group.
type Associativity int

const (
	Left Associativity = iota
	Right
)

// Arity is the operand count of an operator.
type Arity int

const (
	Unary Arity = iota + 1
	Binary
)

// Operator describes one operator of the expression grammar.
type Operator struct {
	Precedence int
	Assoc      Associativity
	Arity      Arity
	Kind       ast.Kind
	// Parse replaces the default right-hand side parsing, as the "is" and
	// "is not" test operators do.
	Parse func(e *ExpressionParser, left *ast.Node, tok syntax.Token) (*ast.Node, error)
}

// OperatorTable holds the unary and binary operators keyed by their text.
// It is built once and only read afterwards, so a single table is shared by
// every parser of an environment.
type OperatorTable struct {
	unary  map[string]Operator
	binary map[string]Operator
}

// NewOperatorTable copies the given operator maps into a table, stamping
// each entry with its arity.
func NewOperatorTable(unary, binary map[string]Operator) *OperatorTable {
	t := &OperatorTable{
		unary:  make(map[string]Operator, len(unary)),
		binary: make(map[string]Operator, len(binary)),
	}
	for name, op := range unary {
		op.Arity = Unary
		t.unary[name] = op
	}
	for name, op := range binary {
		op.Arity = Binary
		t.binary[name] = op
	}
	return t
}

// Unary returns the unary operator registered under name.
func (t *OperatorTable) Unary(name string) (Operator, bool) {
	op, ok := t.unary[name]
	return op, ok
}

// Binary returns the binary operator registered under name.
func (t *OperatorTable) Binary(name string) (Operator, bool) {
	op, ok := t.binary[name]
	return op, ok
}

// Names returns every operator text, sorted, for the lexer.
func (t *OperatorTable) Names() []string {
	names := slices.Collect(maps.Keys(t.unary))
	for name := range t.binary {
		if _, dup := t.unary[name]; !dup {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (t *OperatorTable) known(name string) bool {
	_, u := t.unary[name]
	_, b := t.binary[name]
	return u || b
}
