// Package parser builds template syntax trees from token streams. The
// statement parser dispatches tags to registered TagParsers and hands every
// embedded expression to the ExpressionParser.
package parser

import (
	"errors"
	"strings"

	"github.com/neurodesk/twig/pkg/ast"
	"github.com/neurodesk/twig/pkg/syntax"
	"github.com/neurodesk/twig/pkg/twigerr"
)

// TagParser parses one tag. It is called with the stream positioned just
// after the tag name and must leave it just past its own closing delimiter.
// A nil node with a nil error means the tag produced no output node.
type TagParser interface {
	Tag() string
	Parse(p *Parser, tok syntax.Token) (*ast.Node, error)
}

// Grammar is the syntax configuration assembled from extensions. It is not
// modified once parsing starts.
type Grammar struct {
	Operators *OperatorTable
	Tags      map[string]TagParser
	Filters   map[string]bool
	Functions map[string]bool
	Tests     map[string]bool
}

// Parser holds the state of one parse. Use one Parser per goroutine.
type Parser struct {
	grammar *Grammar
	stream  *syntax.TokenStream
	expr    *ExpressionParser

	blocks     map[string]*ast.Node
	blockOrder []*ast.Node
	blockStack []string
	parent     *ast.Node
}

// New returns a parser for the given grammar.
func New(g *Grammar) *Parser {
	p := &Parser{grammar: g}
	p.expr = &ExpressionParser{p: p, ops: g.Operators}
	return p
}

// Parse consumes stream and returns a Module node.
func (p *Parser) Parse(stream *syntax.TokenStream) (*ast.Node, error) {
	p.stream = stream
	p.blocks = map[string]*ast.Node{}
	p.blockOrder = nil
	p.blockStack = nil
	p.parent = nil

	body, err := p.Subparse(nil, false)
	if err != nil {
		return nil, p.locate(err)
	}
	if p.parent != nil {
		if body, err = p.filterChildBody(body); err != nil {
			return nil, p.locate(err)
		}
		if body == nil {
			body = ast.NewBody(nil, 1)
		}
	}
	return ast.NewModule(body, p.parent, p.blockOrder, stream.Filename()), nil
}

func (p *Parser) locate(err error) error {
	var se *twigerr.SyntaxError
	if errors.As(err, &se) {
		se.Locate(p.stream.Filename(), p.stream.Current().Line)
	}
	return err
}

// Subparse collects nodes until EOF or until stop accepts the name of a
// tag. With dropNeedle the matching tag name is consumed. A single node is
// returned as is, anything else inside a Body.
func (p *Parser) Subparse(stop func(syntax.Token) bool, dropNeedle bool) (*ast.Node, error) {
	line := p.stream.Current().Line
	var nodes []*ast.Node
	for !p.stream.IsEOF() {
		tok := p.stream.Current()
		switch tok.Kind {
		case syntax.Text:
			p.stream.Next()
			nodes = append(nodes, ast.NewText(tok.Value, tok.Line))

		case syntax.VarStart:
			p.stream.Next()
			expr, err := p.expr.ParseExpression(0)
			if err != nil {
				return nil, err
			}
			if _, err := p.stream.Expect(syntax.VarEnd); err != nil {
				return nil, err
			}
			nodes = append(nodes, ast.NewPrint(expr, tok.Line))

		case syntax.BlockStart:
			p.stream.Next()
			name := p.stream.Current()
			if name.Kind != syntax.Name {
				return nil, p.errorf(name.Line, "A block must start with a tag name.")
			}
			if stop != nil && stop(name) {
				if dropNeedle {
					p.stream.Next()
				}
				return wrap(nodes, line), nil
			}
			tag, ok := p.grammar.Tags[name.Value]
			if !ok {
				if stop != nil {
					return nil, p.errorf(name.Line, "Unexpected %q tag.", name.Value)
				}
				return nil, p.errorf(name.Line, "Unknown %q tag.", name.Value)
			}
			p.stream.Next()
			node, err := tag.Parse(p, name)
			if err != nil {
				return nil, err
			}
			if node != nil {
				if node.Tag == "" {
					node.Tag = tag.Tag()
				}
				nodes = append(nodes, node)
			}

		default:
			return nil, p.errorf(tok.Line, "Lexer or parser ended up in unsupported state.")
		}
	}
	if stop != nil {
		return nil, p.errorf(p.stream.Current().Line, "Unexpected end of template.")
	}
	return wrap(nodes, line), nil
}

func wrap(nodes []*ast.Node, line int) *ast.Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return ast.NewBody(nodes, line)
}

// filterChildBody drops output from a template that extends another one;
// only its blocks and assignments matter.
func (p *Parser) filterChildBody(n *ast.Node) (*ast.Node, error) {
	switch n.Kind {
	case ast.KindText:
		if strings.TrimSpace(n.Str("data")) != "" {
			return nil, p.errorf(n.Line, "A template that extends another one cannot include content outside Twig blocks. Did you forget to put the content inside a {%% block %%} tag?")
		}
		return nil, nil
	case ast.KindPrint, ast.KindBlockReference:
		return nil, nil
	case ast.KindBody:
		kept := make([]*ast.Node, 0, len(n.Nodes))
		for _, c := range n.Nodes {
			c, err := p.filterChildBody(c)
			if err != nil {
				return nil, err
			}
			if c != nil {
				kept = append(kept, c)
			}
		}
		return ast.NewBody(kept, n.Line), nil
	}
	return n, nil
}

// Stream returns the token stream being parsed.
func (p *Parser) Stream() *syntax.TokenStream { return p.stream }

// Expression returns the expression parser bound to this parser.
func (p *Parser) Expression() *ExpressionParser { return p.expr }

// Grammar returns the grammar the parser was built with.
func (p *Parser) Grammar() *Grammar { return p.grammar }

// Block returns the block already defined under name.
func (p *Parser) Block(name string) (*ast.Node, bool) {
	b, ok := p.blocks[name]
	return b, ok
}

// SetBlock records a block definition.
func (p *Parser) SetBlock(name string, block *ast.Node) {
	p.blocks[name] = block
	p.blockOrder = append(p.blockOrder, block)
}

func (p *Parser) PushBlock(name string) { p.blockStack = append(p.blockStack, name) }

func (p *Parser) PopBlock() { p.blockStack = p.blockStack[:len(p.blockStack)-1] }

// PeekBlock returns the innermost open block name.
func (p *Parser) PeekBlock() (string, bool) {
	if len(p.blockStack) == 0 {
		return "", false
	}
	return p.blockStack[len(p.blockStack)-1], true
}

// IsMainScope reports whether no block is open.
func (p *Parser) IsMainScope() bool { return len(p.blockStack) == 0 }

// Parent returns the expression given to extends, if any.
func (p *Parser) Parent() *ast.Node { return p.parent }

func (p *Parser) SetParent(n *ast.Node) { p.parent = n }

func (p *Parser) errorf(line int, format string, args ...any) error {
	return twigerr.NewSyntaxError(p.stream.Filename(), line, format, args...)
}

// Errorf builds a syntax error located in the current template.
func (p *Parser) Errorf(line int, format string, args ...any) error {
	return p.errorf(line, format, args...)
}
