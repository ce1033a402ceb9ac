package parser

import (
	"strconv"
	"strings"

	"github.com/neurodesk/twig/pkg/ast"
	"github.com/neurodesk/twig/pkg/syntax"
)

// ExpressionParser is a precedence climbing parser over an OperatorTable.
type ExpressionParser struct {
	p   *Parser
	ops *OperatorTable
}

func (e *ExpressionParser) stream() *syntax.TokenStream { return e.p.stream }

// ParseExpression parses an expression whose binary operators all bind at
// least as tightly as precedence.
func (e *ExpressionParser) ParseExpression(precedence int) (*ast.Node, error) {
	expr, err := e.primary()
	if err != nil {
		return nil, err
	}
	tok := e.stream().Current()
	for tok.Kind == syntax.Operator {
		op, ok := e.ops.Binary(tok.Value)
		if !ok || op.Precedence < precedence {
			break
		}
		e.stream().Next()
		if op.Parse != nil {
			expr, err = op.Parse(e, expr, tok)
		} else {
			next := op.Precedence
			if op.Assoc == Left {
				next++
			}
			var right *ast.Node
			if right, err = e.ParseExpression(next); err == nil {
				expr = ast.NewBinary(op.Kind, expr, right, tok.Line)
			}
		}
		if err != nil {
			return nil, err
		}
		tok = e.stream().Current()
	}
	if tok.Kind == syntax.Operator && tok.Value != "=" && !e.ops.known(tok.Value) {
		return nil, e.p.errorf(tok.Line, "Operator %q not supported.", tok.Value)
	}
	if precedence == 0 {
		return e.conditional(expr)
	}
	return expr, nil
}

func (e *ExpressionParser) primary() (*ast.Node, error) {
	tok := e.stream().Current()
	if tok.Kind == syntax.Operator {
		if op, ok := e.ops.Unary(tok.Value); ok {
			e.stream().Next()
			operand, err := e.ParseExpression(op.Precedence)
			if err != nil {
				return nil, err
			}
			return e.ParsePostfix(ast.NewUnary(op.Kind, operand, tok.Line))
		}
	}
	if tok.Test(syntax.Punctuation, "(") {
		e.stream().Next()
		expr, err := e.ParseExpression(0)
		if err != nil {
			return nil, err
		}
		if _, err := e.stream().ExpectWith("An opened parenthesis is not properly closed", syntax.Punctuation, ")"); err != nil {
			return nil, err
		}
		return e.ParsePostfix(expr)
	}
	return e.ParsePrimaryExpression()
}

func (e *ExpressionParser) conditional(expr *ast.Node) (*ast.Node, error) {
	for {
		tok, ok := e.stream().NextIf(syntax.Punctuation, "?")
		if !ok {
			return expr, nil
		}
		var then, otherwise *ast.Node
		var err error
		if _, short := e.stream().NextIf(syntax.Punctuation, ":"); short {
			// a ?: b
			then = expr
			if otherwise, err = e.ParseExpression(0); err != nil {
				return nil, err
			}
		} else {
			if then, err = e.ParseExpression(0); err != nil {
				return nil, err
			}
			if _, ok := e.stream().NextIf(syntax.Punctuation, ":"); ok {
				if otherwise, err = e.ParseExpression(0); err != nil {
					return nil, err
				}
			} else {
				otherwise = ast.NewStringConstant("", tok.Line)
			}
		}
		expr = ast.New(ast.KindConditional, tok.Line, expr, then, otherwise)
	}
}

// ParsePrimaryExpression parses a literal, name, call, array or hash and
// any postfix chain after it.
func (e *ExpressionParser) ParsePrimaryExpression() (*ast.Node, error) {
	tok := e.stream().Current()
	var node *ast.Node
	var err error
	switch tok.Kind {
	case syntax.Name:
		e.stream().Next()
		switch strings.ToLower(tok.Value) {
		case "true":
			node = ast.NewConstant(true, tok.Line)
		case "false":
			node = ast.NewConstant(false, tok.Line)
		case "none", "null":
			node = ast.NewConstant(nil, tok.Line)
		default:
			if e.stream().Test(syntax.Punctuation, "(") {
				node, err = e.function(tok.Value, tok.Line)
			} else {
				node = ast.NewName(tok.Value, tok.Line)
			}
		}
	case syntax.Number:
		e.stream().Next()
		node, err = numberConstant(tok)
		if err != nil {
			err = e.p.errorf(tok.Line, "Invalid number %q.", tok.Value)
		}
	case syntax.String, syntax.InterpolationStart:
		node, err = e.parseString()
	case syntax.Punctuation:
		switch tok.Value {
		case "[":
			node, err = e.parseArray()
		case "{":
			node, err = e.parseHash()
		default:
			err = e.unexpected(tok)
		}
	case syntax.Operator:
		if !e.ops.known(tok.Value) {
			return nil, e.p.errorf(tok.Line, "Operator %q not supported.", tok.Value)
		}
		err = e.unexpected(tok)
	default:
		err = e.unexpected(tok)
	}
	if err != nil {
		return nil, err
	}
	return e.ParsePostfix(node)
}

func (e *ExpressionParser) unexpected(tok syntax.Token) error {
	return e.p.errorf(tok.Line, "Unexpected token %q of value %q.", tok.Kind.String(), tok.Value)
}

func numberConstant(tok syntax.Token) (*ast.Node, error) {
	if strings.Contains(tok.Value, ".") {
		f, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, err
		}
		return ast.NewConstant(f, tok.Line), nil
	}
	i, err := strconv.ParseInt(tok.Value, 10, 64)
	if err != nil {
		return nil, err
	}
	return ast.NewConstant(i, tok.Line), nil
}

// parseString lowers string segments and interpolations into a left
// associative chain of Concat nodes.
func (e *ExpressionParser) parseString() (*ast.Node, error) {
	var nodes []*ast.Node
	for {
		if tok, ok := e.stream().NextIf(syntax.String); ok {
			nodes = append(nodes, ast.NewStringConstant(tok.Value, tok.Line))
			continue
		}
		if _, ok := e.stream().NextIf(syntax.InterpolationStart); ok {
			expr, err := e.ParseExpression(0)
			if err != nil {
				return nil, err
			}
			if _, err := e.stream().Expect(syntax.InterpolationEnd); err != nil {
				return nil, err
			}
			nodes = append(nodes, expr)
			continue
		}
		break
	}
	expr := nodes[0]
	for _, n := range nodes[1:] {
		expr = ast.NewBinary(ast.KindConcat, expr, n, n.Line)
	}
	return expr, nil
}

func (e *ExpressionParser) parseArray() (*ast.Node, error) {
	tok, err := e.stream().ExpectWith("An array element was expected", syntax.Punctuation, "[")
	if err != nil {
		return nil, err
	}
	var items []*ast.Node
	for first := true; !e.stream().Test(syntax.Punctuation, "]"); first = false {
		if !first {
			if _, err := e.stream().ExpectWith("An array element must be followed by a comma", syntax.Punctuation, ","); err != nil {
				return nil, err
			}
			if e.stream().Test(syntax.Punctuation, "]") {
				break
			}
		}
		if e.stream().IsEOF() {
			break
		}
		item, err := e.ParseExpression(0)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if _, err := e.stream().ExpectWith("An opened array is not properly closed", syntax.Punctuation, "]"); err != nil {
		return nil, err
	}
	return ast.New(ast.KindArray, tok.Line, items...), nil
}

// parseHash returns a Hash node whose children alternate key and value.
func (e *ExpressionParser) parseHash() (*ast.Node, error) {
	tok, err := e.stream().ExpectWith("A hash element was expected", syntax.Punctuation, "{")
	if err != nil {
		return nil, err
	}
	var items []*ast.Node
	for first := true; !e.stream().Test(syntax.Punctuation, "}"); first = false {
		if !first {
			if _, err := e.stream().ExpectWith("A hash value must be followed by a comma", syntax.Punctuation, ","); err != nil {
				return nil, err
			}
			if e.stream().Test(syntax.Punctuation, "}") {
				break
			}
		}
		cur := e.stream().Current()
		var key *ast.Node
		switch {
		case cur.Kind == syntax.EOF:
			return nil, e.p.errorf(cur.Line, "An opened hash is not properly closed.")
		case cur.Kind == syntax.String, cur.Kind == syntax.Name:
			e.stream().Next()
			key = ast.NewStringConstant(cur.Value, cur.Line)
		case cur.Kind == syntax.Number:
			e.stream().Next()
			if key, err = numberConstant(cur); err != nil {
				return nil, e.p.errorf(cur.Line, "Invalid number %q.", cur.Value)
			}
		case cur.Test(syntax.Punctuation, "("):
			if key, err = e.ParseExpression(0); err != nil {
				return nil, err
			}
		default:
			return nil, e.p.errorf(cur.Line, "A hash key must be a quoted string, a number, a name, or an expression enclosed in parentheses (unexpected token %q of value %q.", cur.Kind.String(), cur.Value)
		}
		if _, err := e.stream().ExpectWith("A hash key must be followed by a colon (:)", syntax.Punctuation, ":"); err != nil {
			return nil, err
		}
		value, err := e.ParseExpression(0)
		if err != nil {
			return nil, err
		}
		items = append(items, key, value)
	}
	if _, err := e.stream().ExpectWith("An opened hash is not properly closed", syntax.Punctuation, "}"); err != nil {
		return nil, err
	}
	return ast.New(ast.KindHash, tok.Line, items...), nil
}

// ParsePostfix applies .name, [expr] and |filter suffixes left to right.
func (e *ExpressionParser) ParsePostfix(node *ast.Node) (*ast.Node, error) {
	for {
		tok := e.stream().Current()
		if tok.Kind != syntax.Punctuation {
			return node, nil
		}
		var err error
		switch tok.Value {
		case ".", "[":
			node, err = e.parseSubscript(node)
		case "|":
			node, err = e.parseFilter(node)
		default:
			return node, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (e *ExpressionParser) parseSubscript(node *ast.Node) (*ast.Node, error) {
	tok := e.stream().Next()
	line := tok.Line
	if tok.Value == "." {
		name := e.stream().Next()
		var item *ast.Node
		switch {
		case name.Kind == syntax.Name, name.Kind == syntax.Operator && isName(name.Value):
			item = ast.NewStringConstant(name.Value, line)
		case name.Kind == syntax.Number:
			n, err := numberConstant(name)
			if err != nil {
				return nil, e.p.errorf(line, "Invalid number %q.", name.Value)
			}
			item = n
		default:
			return nil, e.p.errorf(line, "Expected name or number.")
		}
		if e.stream().Test(syntax.Punctuation, "(") {
			args, err := e.ParseArguments()
			if err != nil {
				return nil, err
			}
			for _, a := range args.Nodes {
				if a.Kind == ast.KindNamedArgument {
					return nil, e.p.errorf(line, "Named arguments are not supported when calling method %q.", name.Value)
				}
			}
			return ast.NewGetAttr(node, item, args, ast.MethodCall, line), nil
		}
		return ast.NewGetAttr(node, item, ast.New(ast.KindArguments, line), ast.AnyCall, line), nil
	}

	item, err := e.ParseExpression(0)
	if err != nil {
		return nil, err
	}
	if _, err := e.stream().ExpectWith("An opened bracket is not properly closed", syntax.Punctuation, "]"); err != nil {
		return nil, err
	}
	return ast.NewGetAttr(node, item, ast.New(ast.KindArguments, line), ast.ArrayCall, line), nil
}

func (e *ExpressionParser) parseFilter(node *ast.Node) (*ast.Node, error) {
	e.stream().Next()
	tok, err := e.stream().Expect(syntax.Name)
	if err != nil {
		return nil, err
	}
	if !e.p.grammar.Filters[tok.Value] {
		return nil, e.p.errorf(tok.Line, "Unknown %q filter.", tok.Value)
	}
	args := ast.New(ast.KindArguments, tok.Line)
	if e.stream().Test(syntax.Punctuation, "(") {
		if args, err = e.ParseArguments(); err != nil {
			return nil, err
		}
	}
	return ast.New(ast.KindFilter, tok.Line, node, args).WithAttr("name", tok.Value), nil
}

func (e *ExpressionParser) function(name string, line int) (*ast.Node, error) {
	args, err := e.ParseArguments()
	if err != nil {
		return nil, err
	}
	switch name {
	case "parent":
		block, ok := e.p.PeekBlock()
		if !ok {
			return nil, e.p.errorf(line, `Calling "parent" outside a block is forbidden.`)
		}
		if e.p.Parent() == nil {
			return nil, e.p.errorf(line, `Calling "parent" on a template that does not extend another template is forbidden.`)
		}
		return ast.New(ast.KindParent, line).WithAttr("name", block), nil
	case "block":
		if len(args.Nodes) != 1 || args.Nodes[0].Kind == ast.KindNamedArgument {
			return nil, e.p.errorf(line, `The "block" function takes one argument (the block name).`)
		}
		return ast.New(ast.KindBlockCall, line, args.Nodes[0]), nil
	}
	if !e.p.grammar.Functions[name] {
		return nil, e.p.errorf(line, "Unknown %q function.", name)
	}
	return ast.New(ast.KindFunction, line, args).WithAttr("name", name), nil
}

// ParseArguments parses "(a, b, name: c)" into an Arguments node. Named
// arguments become NamedArgument children.
func (e *ExpressionParser) ParseArguments() (*ast.Node, error) {
	open, err := e.stream().ExpectWith("A list of arguments must begin with an opening parenthesis", syntax.Punctuation, "(")
	if err != nil {
		return nil, err
	}
	args := ast.New(ast.KindArguments, open.Line)
	for first := true; !e.stream().Test(syntax.Punctuation, ")"); first = false {
		if !first {
			if _, err := e.stream().ExpectWith("Arguments must be separated by a comma", syntax.Punctuation, ","); err != nil {
				return nil, err
			}
		}
		if e.stream().IsEOF() {
			break
		}
		value, err := e.ParseExpression(0)
		if err != nil {
			return nil, err
		}
		if value.Kind == ast.KindName {
			_, eq := e.stream().NextIf(syntax.Operator, "=")
			_, colon := e.stream().NextIf(syntax.Punctuation, ":")
			if eq || colon {
				named, err := e.ParseExpression(0)
				if err != nil {
					return nil, err
				}
				value = ast.New(ast.KindNamedArgument, value.Line, named).WithAttr("name", value.Str("name"))
			}
		}
		args.Nodes = append(args.Nodes, value)
	}
	if _, err := e.stream().ExpectWith("A list of arguments must be closed by a parenthesis", syntax.Punctuation, ")"); err != nil {
		return nil, err
	}
	return args, nil
}

// ParseAssignmentExpression parses the comma separated targets of set and
// for.
func (e *ExpressionParser) ParseAssignmentExpression() ([]*ast.Node, error) {
	var targets []*ast.Node
	for {
		tok := e.stream().Current()
		if tok.Kind == syntax.Operator && isName(tok.Value) {
			e.stream().Next()
		} else if _, err := e.stream().ExpectWith("Only variables can be assigned to", syntax.Name); err != nil {
			return nil, err
		}
		switch strings.ToLower(tok.Value) {
		case "true", "false", "none", "null":
			return nil, e.p.errorf(tok.Line, "You cannot assign a value to %q.", tok.Value)
		}
		targets = append(targets, ast.NewAssignName(tok.Value, tok.Line))
		if _, ok := e.stream().NextIf(syntax.Punctuation, ","); !ok {
			return targets, nil
		}
	}
}

// ParseMultitargetExpression parses a comma separated list of expressions.
func (e *ExpressionParser) ParseMultitargetExpression() ([]*ast.Node, error) {
	var targets []*ast.Node
	for {
		expr, err := e.ParseExpression(0)
		if err != nil {
			return nil, err
		}
		targets = append(targets, expr)
		if _, ok := e.stream().NextIf(syntax.Punctuation, ","); !ok {
			return targets, nil
		}
	}
}

// ParseTest parses the right side of "is" and "is not".
func (e *ExpressionParser) ParseTest(left *ast.Node, tok syntax.Token) (*ast.Node, error) {
	name, err := e.stream().Expect(syntax.Name)
	if err != nil {
		return nil, err
	}
	test := name.Value
	if next := e.stream().Current(); next.Kind == syntax.Name && e.p.grammar.Tests[test+" "+next.Value] {
		e.stream().Next()
		test += " " + next.Value
	}
	if !e.p.grammar.Tests[test] {
		return nil, e.p.errorf(name.Line, "Unknown %q test.", test)
	}
	args := ast.New(ast.KindArguments, name.Line)
	if e.stream().Test(syntax.Punctuation, "(") {
		if args, err = e.ParseArguments(); err != nil {
			return nil, err
		}
	}
	node := ast.New(ast.KindTest, tok.Line, left, args).WithAttr("name", test)
	if tok.Value == "is not" {
		return ast.NewUnary(ast.KindNot, node, tok.Line), nil
	}
	return node, nil
}

func isName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameStart(s[i]) && (s[i] < '0' || s[i] > '9') {
			return false
		}
	}
	return true
}

func isNameStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c >= 0x7f
}
