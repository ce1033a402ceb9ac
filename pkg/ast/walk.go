package ast

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
)

// Visitor is called for every node in depth-first order. Returning false
// skips the node's children.
type Visitor interface {
	Visit(n *Node) (bool, error)
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(n *Node) (bool, error)

func (f VisitorFunc) Visit(n *Node) (bool, error) { return f(n) }

// Walk traverses n depth-first, skipping nil children.
func Walk(v Visitor, n *Node) error {
	if n == nil {
		return nil
	}
	descend, err := v.Visit(n)
	if err != nil || !descend {
		return err
	}
	for _, c := range n.Nodes {
		if err := Walk(v, c); err != nil {
			return err
		}
	}
	return nil
}

// Uses reports whether any Name node below n refers to name.
func Uses(n *Node, name string) bool {
	found := false
	_ = Walk(VisitorFunc(func(c *Node) (bool, error) {
		if c.Kind == KindName && c.Str("name") == name {
			found = true
		}
		return !found, nil
	}), n)
	return found
}

// Pretty returns a line-oriented dump of the tree, attributes sorted by key.
func Pretty(n *Node) string {
	var buf bytes.Buffer
	ppNode(&buf, 0, n)
	return buf.String()
}

func ppNode(buf *bytes.Buffer, indent int, n *Node) {
	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}
	if n == nil {
		buf.WriteString("<nil>\n")
		return
	}
	buf.WriteString(n.Kind.String())
	for _, k := range slices.Sorted(maps.Keys(n.Attrs)) {
		fmt.Fprintf(buf, " %s=%#v", k, n.Attrs[k])
	}
	fmt.Fprintf(buf, " @%d\n", n.Line)
	for _, c := range n.Nodes {
		ppNode(buf, indent+2, c)
	}
}
