// Package syntax turns template source into a stream of typed tokens.
package syntax

import (
	"fmt"
	"slices"

	"github.com/neurodesk/twig/pkg/twigerr"
)

// Kind is the lexical class of a token.
type Kind int

const (
	EOF Kind = iota
	Text
	BlockStart // {% or {%-
	BlockEnd   // %} or -%}
	VarStart   // {{ or {{-
	VarEnd     // }} or -}}
	Name
	Number
	String
	Operator
	Punctuation
	InterpolationStart // #{ inside a double quoted string
	InterpolationEnd
)

// String returns the English description used in parse errors.
func (k Kind) String() string {
	switch k {
	case EOF:
		return "end of template"
	case Text:
		return "text"
	case BlockStart:
		return "begin of statement block"
	case BlockEnd:
		return "end of statement block"
	case VarStart:
		return "begin of print statement"
	case VarEnd:
		return "end of print statement"
	case Name:
		return "name"
	case Number:
		return "number"
	case String:
		return "string"
	case Operator:
		return "operator"
	case Punctuation:
		return "punctuation"
	case InterpolationStart:
		return "begin of string interpolation"
	case InterpolationEnd:
		return "end of string interpolation"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Token is an immutable lexical token.
type Token struct {
	Kind  Kind
	Value string
	Line  int
}

// Test reports whether the token has the given kind and, when values are
// given, one of those values.
func (t Token) Test(kind Kind, values ...string) bool {
	if t.Kind != kind {
		return false
	}
	return len(values) == 0 || slices.Contains(values, t.Value)
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%s)", t.Kind, t.Value)
}

// TokenStream is a cursor over a token slice that always ends with EOF.
// It is not safe for concurrent use.
type TokenStream struct {
	tokens   []Token
	current  int
	filename string
}

// NewTokenStream wraps tokens, appending an EOF token when missing.
func NewTokenStream(tokens []Token, filename string) *TokenStream {
	if n := len(tokens); n == 0 || tokens[n-1].Kind != EOF {
		line := 1
		if n > 0 {
			line = tokens[n-1].Line
		}
		tokens = append(tokens, Token{Kind: EOF, Line: line})
	}
	return &TokenStream{tokens: tokens, filename: filename}
}

// Filename is the name of the template the tokens came from.
func (s *TokenStream) Filename() string { return s.filename }

// Tokens returns the underlying tokens, EOF included.
func (s *TokenStream) Tokens() []Token { return s.tokens }

// Current returns the token under the cursor.
func (s *TokenStream) Current() Token { return s.tokens[s.current] }

// Next returns the current token and moves the cursor forward. The cursor
// stays on EOF once reached.
func (s *TokenStream) Next() Token {
	tok := s.tokens[s.current]
	if tok.Kind != EOF {
		s.current++
	}
	return tok
}

// Look returns the token n positions ahead of the cursor, or EOF.
func (s *TokenStream) Look(n int) Token {
	i := s.current + n
	if i < 0 {
		i = 0
	}
	if i >= len(s.tokens) {
		i = len(s.tokens) - 1
	}
	return s.tokens[i]
}

// Test reports whether the current token matches.
func (s *TokenStream) Test(kind Kind, values ...string) bool {
	return s.Current().Test(kind, values...)
}

// NextIf consumes the current token when it matches.
func (s *TokenStream) NextIf(kind Kind, values ...string) (Token, bool) {
	if !s.Test(kind, values...) {
		return Token{}, false
	}
	return s.Next(), true
}

// IsEOF reports whether the cursor sits on the final token.
func (s *TokenStream) IsEOF() bool { return s.Current().Kind == EOF }

// Expect consumes the current token or fails with a syntax error.
func (s *TokenStream) Expect(kind Kind, values ...string) (Token, error) {
	return s.ExpectWith("", kind, values...)
}

// ExpectWith is Expect with a leading explanation in the error message.
func (s *TokenStream) ExpectWith(message string, kind Kind, values ...string) (Token, error) {
	tok := s.Current()
	if tok.Test(kind, values...) {
		return s.Next(), nil
	}
	prefix := ""
	if message != "" {
		prefix = message + ". "
	}
	got := ""
	if tok.Value != "" {
		got = fmt.Sprintf(" of value %q", tok.Value)
	}
	want := ""
	if len(values) > 0 {
		want = fmt.Sprintf(" with value %q", values[0])
	}
	return tok, twigerr.NewSyntaxError(s.filename, tok.Line,
		"%sUnexpected token %q%s (%q expected%s).", prefix, tok.Kind.String(), got, kind.String(), want)
}
