package twig

import "github.com/neurodesk/twig/pkg/ast"

// safeFilters mark their output as already escaped.
var safeFilters = map[string]bool{"raw": true, "escape": true, "e": true}

// autoescape wraps the expression of every print statement in an escape
// filter for strategy. Literals, parent() and block() calls, and
// expressions ending in a safe filter are left alone.
func autoescape(module *ast.Node, strategy string) error {
	return ast.Walk(ast.VisitorFunc(func(n *ast.Node) (bool, error) {
		if n.Kind != ast.KindPrint {
			return true, nil
		}
		expr := n.Child(0)
		switch {
		case expr == nil:
		case expr.Kind == ast.KindConstant, expr.Kind == ast.KindStringConstant:
		case expr.Kind == ast.KindParent, expr.Kind == ast.KindBlockCall:
			// block output is escaped where the block prints
		case expr.Kind == ast.KindFilter && safeFilters[expr.Str("name")]:
		default:
			args := ast.New(ast.KindArguments, expr.Line, ast.NewStringConstant(strategy, expr.Line))
			n.Nodes[0] = ast.New(ast.KindFilter, expr.Line, expr, args).WithAttr("name", "escape")
		}
		return false, nil
	}), module)
}
