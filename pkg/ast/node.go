// Package ast defines the template syntax tree. A Node is a tagged variant:
// Kind selects the meaning of its children and attributes.
package ast

import "fmt"

// Kind discriminates node variants.
type Kind int

const (
	KindInvalid Kind = iota

	// statements
	KindModule
	KindBody
	KindText
	KindPrint
	KindFor
	KindForLoop
	KindIf
	KindBlock
	KindBlockReference
	KindSet
	KindInclude

	// expressions
	KindConstant
	KindStringConstant
	KindName
	KindAssignName
	KindGetAttr
	KindArray
	KindHash
	KindArguments
	KindNamedArgument
	KindFilter
	KindFunction
	KindTest
	KindConditional
	KindParent
	KindBlockCall

	// binary operators
	KindAdd
	KindSub
	KindMul
	KindDiv
	KindFloorDiv
	KindMod
	KindPower
	KindConcat
	KindEqual
	KindNotEqual
	KindLess
	KindLessEqual
	KindGreater
	KindGreaterEqual
	KindRange
	KindIn
	KindNotIn
	KindStartsWith
	KindEndsWith
	KindAnd
	KindOr
	KindBitAnd
	KindBitOr
	KindBitXor

	// unary operators
	KindNot
	KindNeg
	KindPos

	kindCount
)

var kindNames = [...]string{
	KindInvalid:        "Invalid",
	KindModule:         "Module",
	KindBody:           "Body",
	KindText:           "Text",
	KindPrint:          "Print",
	KindFor:            "For",
	KindForLoop:        "ForLoop",
	KindIf:             "If",
	KindBlock:          "Block",
	KindBlockReference: "BlockReference",
	KindSet:            "Set",
	KindInclude:        "Include",
	KindConstant:       "Constant",
	KindStringConstant: "StringConstant",
	KindName:           "Name",
	KindAssignName:     "AssignName",
	KindGetAttr:        "GetAttr",
	KindArray:          "Array",
	KindHash:           "Hash",
	KindArguments:      "Arguments",
	KindNamedArgument:  "NamedArgument",
	KindFilter:         "Filter",
	KindFunction:       "Function",
	KindTest:           "Test",
	KindConditional:    "Conditional",
	KindParent:         "Parent",
	KindBlockCall:      "BlockCall",
	KindAdd:            "Add",
	KindSub:            "Sub",
	KindMul:            "Mul",
	KindDiv:            "Div",
	KindFloorDiv:       "FloorDiv",
	KindMod:            "Mod",
	KindPower:          "Power",
	KindConcat:         "Concat",
	KindEqual:          "Equal",
	KindNotEqual:       "NotEqual",
	KindLess:           "Less",
	KindLessEqual:      "LessEqual",
	KindGreater:        "Greater",
	KindGreaterEqual:   "GreaterEqual",
	KindRange:          "Range",
	KindIn:             "In",
	KindNotIn:          "NotIn",
	KindStartsWith:     "StartsWith",
	KindEndsWith:       "EndsWith",
	KindAnd:            "And",
	KindOr:             "Or",
	KindBitAnd:         "BitAnd",
	KindBitOr:          "BitOr",
	KindBitXor:         "BitXor",
	KindNot:            "Not",
	KindNeg:            "Neg",
	KindPos:            "Pos",
}

func (k Kind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsBinary reports whether k is a binary operator kind.
func (k Kind) IsBinary() bool { return k >= KindAdd && k <= KindBitXor }

// IsUnary reports whether k is a unary operator kind.
func (k Kind) IsUnary() bool { return k >= KindNot && k <= KindPos }

// Node is one element of the tree. Children are owned exclusively; a nil
// entry marks an absent optional child.
type Node struct {
	Kind  Kind
	Nodes []*Node
	Attrs map[string]any
	Line  int
	Tag   string
}

// New creates a node with the given children.
func New(kind Kind, line int, nodes ...*Node) *Node {
	return &Node{Kind: kind, Nodes: nodes, Attrs: map[string]any{}, Line: line}
}

// WithAttr sets an attribute and returns n.
func (n *Node) WithAttr(key string, value any) *Node {
	if n.Attrs == nil {
		n.Attrs = map[string]any{}
	}
	n.Attrs[key] = value
	return n
}

// Attr returns a named attribute.
func (n *Node) Attr(key string) (any, bool) {
	v, ok := n.Attrs[key]
	return v, ok
}

// Str returns a string attribute, or "" when unset.
func (n *Node) Str(key string) string {
	s, _ := n.Attrs[key].(string)
	return s
}

// Bool returns a boolean attribute, or false when unset.
func (n *Node) Bool(key string) bool {
	b, _ := n.Attrs[key].(bool)
	return b
}

// Child returns child i, or nil when out of range.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.Nodes) {
		return nil
	}
	return n.Nodes[i]
}

// Constructors for the common leaves.

func NewText(data string, line int) *Node {
	return New(KindText, line).WithAttr("data", data)
}

func NewPrint(expr *Node, line int) *Node {
	return New(KindPrint, line, expr)
}

func NewBody(nodes []*Node, line int) *Node {
	return New(KindBody, line, nodes...)
}

// NewConstant holds nil, bool, int64 or float64.
func NewConstant(value any, line int) *Node {
	return New(KindConstant, line).WithAttr("value", value)
}

func NewStringConstant(value string, line int) *Node {
	return New(KindStringConstant, line).WithAttr("value", value)
}

func NewName(name string, line int) *Node {
	return New(KindName, line).WithAttr("name", name)
}

func NewAssignName(name string, line int) *Node {
	return New(KindAssignName, line).WithAttr("name", name)
}

// Access types for GetAttr.
const (
	AnyCall    = "any"
	ArrayCall  = "array"
	MethodCall = "method"
)

// NewGetAttr builds obj.item(args) with the given access type.
func NewGetAttr(obj, item, args *Node, accessType string, line int) *Node {
	return New(KindGetAttr, line, obj, item, args).WithAttr("type", accessType)
}

func NewBinary(kind Kind, left, right *Node, line int) *Node {
	return New(kind, line, left, right)
}

func NewUnary(kind Kind, operand *Node, line int) *Node {
	return New(kind, line, operand)
}

// NewModule builds the root node. Children are the body, the parent
// template expression (nil without extends) and a Body holding the Block
// definitions in source order.
func NewModule(body, parent *Node, blocks []*Node, filename string) *Node {
	return New(KindModule, 1, body, parent, NewBody(blocks, 1)).WithAttr("filename", filename)
}
