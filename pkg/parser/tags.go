package parser

import (
	"github.com/neurodesk/twig/pkg/ast"
	"github.com/neurodesk/twig/pkg/syntax"
)

func endTag(names ...string) func(syntax.Token) bool {
	return func(tok syntax.Token) bool { return tok.Test(syntax.Name, names...) }
}

// ForTag parses {% for [key,] value in seq [if cond] %}...{% else %}...{% endfor %}.
type ForTag struct{}

func (ForTag) Tag() string { return "for" }

func (ForTag) Parse(p *Parser, tok syntax.Token) (*ast.Node, error) {
	stream := p.Stream()
	targets, err := p.Expression().ParseAssignmentExpression()
	if err != nil {
		return nil, err
	}
	if len(targets) > 2 {
		return nil, p.Errorf(tok.Line, "A for loop takes at most two targets (key and value).")
	}
	if _, err := stream.Expect(syntax.Operator, "in"); err != nil {
		return nil, err
	}
	seq, err := p.Expression().ParseExpression(0)
	if err != nil {
		return nil, err
	}
	var cond *ast.Node
	if _, ok := stream.NextIf(syntax.Name, "if"); ok {
		if cond, err = p.Expression().ParseExpression(0); err != nil {
			return nil, err
		}
	}
	if _, err := stream.Expect(syntax.BlockEnd); err != nil {
		return nil, err
	}
	body, err := p.Subparse(endTag("else", "endfor"), false)
	if err != nil {
		return nil, err
	}
	var elseBody *ast.Node
	if stream.Next().Value == "else" {
		if _, err := stream.Expect(syntax.BlockEnd); err != nil {
			return nil, err
		}
		if elseBody, err = p.Subparse(endTag("endfor"), true); err != nil {
			return nil, err
		}
	}
	if _, err := stream.Expect(syntax.BlockEnd); err != nil {
		return nil, err
	}

	key, value := ast.NewAssignName("_key", tok.Line), targets[0]
	if len(targets) == 2 {
		key, value = targets[0], targets[1]
	}
	withLoop := ast.Uses(body, "loop")
	loop := ast.New(ast.KindForLoop, tok.Line).
		WithAttr("with_loop", withLoop).
		WithAttr("ifexpr", cond != nil).
		WithAttr("else", elseBody != nil)
	body = ast.NewBody([]*ast.Node{body, loop}, body.Line)
	if cond != nil {
		body = ast.New(ast.KindIf, tok.Line, ast.NewBody([]*ast.Node{cond, body}, tok.Line), nil)
	}

	return ast.New(ast.KindFor, tok.Line, key, value, seq, body, elseBody).
		WithAttr("key_target", key.Str("name")).
		WithAttr("value_target", value.Str("name")).
		WithAttr("with_loop", withLoop).
		WithAttr("ifexpr", cond != nil).
		WithAttr("else", elseBody != nil), nil
}

// IfTag parses {% if %}...{% elseif %}...{% else %}...{% endif %}. The node's
// first child is a Body of alternating conditions and bodies, the second the
// optional else body.
type IfTag struct{}

func (IfTag) Tag() string { return "if" }

func (IfTag) Parse(p *Parser, tok syntax.Token) (*ast.Node, error) {
	stream := p.Stream()
	var tests []*ast.Node
	var elseBody *ast.Node
	cond, err := p.Expression().ParseExpression(0)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := stream.Expect(syntax.BlockEnd); err != nil {
			return nil, err
		}
		body, err := p.Subparse(endTag("elseif", "else", "endif"), false)
		if err != nil {
			return nil, err
		}
		tests = append(tests, cond, body)

		next := stream.Next()
		switch next.Value {
		case "elseif":
			if cond, err = p.Expression().ParseExpression(0); err != nil {
				return nil, err
			}
			continue
		case "else":
			if _, err := stream.Expect(syntax.BlockEnd); err != nil {
				return nil, err
			}
			if elseBody, err = p.Subparse(endTag("endif"), true); err != nil {
				return nil, err
			}
		case "endif":
		default:
			return nil, p.Errorf(next.Line, `Unexpected end of template. Twig was looking for the following tags "else", "elseif", or "endif" to close the "if" block started at line %d.`, tok.Line)
		}
		break
	}
	if _, err := stream.Expect(syntax.BlockEnd); err != nil {
		return nil, err
	}
	return ast.New(ast.KindIf, tok.Line, ast.NewBody(tests, tok.Line), elseBody), nil
}

// BlockTag parses {% block name %}...{% endblock [name] %} and the short
// form {% block name expr %}. The definition is stored on the parser; the
// tag itself leaves a BlockReference in place.
type BlockTag struct{}

func (BlockTag) Tag() string { return "block" }

func (BlockTag) Parse(p *Parser, tok syntax.Token) (*ast.Node, error) {
	stream := p.Stream()
	name, err := stream.Expect(syntax.Name)
	if err != nil {
		return nil, err
	}
	if prev, ok := p.Block(name.Value); ok {
		return nil, p.Errorf(name.Line, "The block %q has already been defined line %d.", name.Value, prev.Line)
	}
	block := ast.New(ast.KindBlock, tok.Line).WithAttr("name", name.Value)
	p.SetBlock(name.Value, block)
	p.PushBlock(name.Value)

	var body *ast.Node
	if _, ok := stream.NextIf(syntax.BlockEnd); ok {
		if body, err = p.Subparse(endTag("endblock"), true); err != nil {
			return nil, err
		}
		if end, ok := stream.NextIf(syntax.Name); ok && end.Value != name.Value {
			return nil, p.Errorf(end.Line, "Expected endblock for block %q (but %q given).", name.Value, end.Value)
		}
	} else {
		expr, err := p.Expression().ParseExpression(0)
		if err != nil {
			return nil, err
		}
		body = ast.NewPrint(expr, tok.Line)
	}
	if _, err := stream.Expect(syntax.BlockEnd); err != nil {
		return nil, err
	}
	block.Nodes = []*ast.Node{body}
	p.PopBlock()

	return ast.New(ast.KindBlockReference, tok.Line).WithAttr("name", name.Value), nil
}

// SetTag parses {% set a, b = x, y %} and the capturing {% set a %}...{% endset %}.
// Children are a Body of AssignName targets and a Body of values.
type SetTag struct{}

func (SetTag) Tag() string { return "set" }

func (SetTag) Parse(p *Parser, tok syntax.Token) (*ast.Node, error) {
	stream := p.Stream()
	names, err := p.Expression().ParseAssignmentExpression()
	if err != nil {
		return nil, err
	}
	var values []*ast.Node
	capture := false
	if _, ok := stream.NextIf(syntax.Operator, "="); ok {
		if values, err = p.Expression().ParseMultitargetExpression(); err != nil {
			return nil, err
		}
		if _, err := stream.Expect(syntax.BlockEnd); err != nil {
			return nil, err
		}
		if len(names) != len(values) {
			return nil, p.Errorf(tok.Line, "When using set, you must have the same number of variables and assignments.")
		}
	} else {
		capture = true
		if len(names) > 1 {
			return nil, p.Errorf(tok.Line, "When using set with a block, you cannot have a multi-target.")
		}
		if _, err := stream.Expect(syntax.BlockEnd); err != nil {
			return nil, err
		}
		body, err := p.Subparse(endTag("endset"), true)
		if err != nil {
			return nil, err
		}
		if _, err := stream.Expect(syntax.BlockEnd); err != nil {
			return nil, err
		}
		values = []*ast.Node{body}
	}
	return ast.New(ast.KindSet, tok.Line, ast.NewBody(names, tok.Line), ast.NewBody(values, tok.Line)).
		WithAttr("capture", capture), nil
}

// IncludeTag parses {% include expr [ignore missing] [with vars] [only] %}.
type IncludeTag struct{}

func (IncludeTag) Tag() string { return "include" }

func (IncludeTag) Parse(p *Parser, tok syntax.Token) (*ast.Node, error) {
	stream := p.Stream()
	expr, err := p.Expression().ParseExpression(0)
	if err != nil {
		return nil, err
	}
	ignoreMissing := false
	if _, ok := stream.NextIf(syntax.Name, "ignore"); ok {
		if _, err := stream.Expect(syntax.Name, "missing"); err != nil {
			return nil, err
		}
		ignoreMissing = true
	}
	var vars *ast.Node
	if _, ok := stream.NextIf(syntax.Name, "with"); ok {
		if vars, err = p.Expression().ParseExpression(0); err != nil {
			return nil, err
		}
	}
	_, only := stream.NextIf(syntax.Name, "only")
	if _, err := stream.Expect(syntax.BlockEnd); err != nil {
		return nil, err
	}
	return ast.New(ast.KindInclude, tok.Line, expr, vars).
		WithAttr("only", only).
		WithAttr("ignore_missing", ignoreMissing), nil
}

// ExtendsTag parses {% extends expr %}. It records the parent on the parser
// and produces no node.
type ExtendsTag struct{}

func (ExtendsTag) Tag() string { return "extends" }

func (ExtendsTag) Parse(p *Parser, tok syntax.Token) (*ast.Node, error) {
	if !p.IsMainScope() {
		return nil, p.Errorf(tok.Line, `Cannot use "extends" in a block.`)
	}
	if p.Parent() != nil {
		return nil, p.Errorf(tok.Line, "Multiple extends tags are forbidden.")
	}
	parent, err := p.Expression().ParseExpression(0)
	if err != nil {
		return nil, err
	}
	if _, err := p.Stream().Expect(syntax.BlockEnd); err != nil {
		return nil, err
	}
	p.SetParent(parent)
	return nil, nil
}
