package syntax

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neurodesk/twig/pkg/twigerr"
)

var testOperators = []string{"+", "-", "*", "**", "/", "//", "..", "~", "==", "<", "not", "in", "not in", "is", "is not", "starts with", "b-and"}

func tok(kind Kind, value string, line int) Token {
	return Token{Kind: kind, Value: value, Line: line}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []Token
	}{
		{
			name:   "text only",
			source: "Hello",
			want:   []Token{tok(Text, "Hello", 1), tok(EOF, "", 1)},
		},
		{
			name:   "print",
			source: "a{{ x + 1.5 }}b",
			want: []Token{
				tok(Text, "a", 1), tok(VarStart, "", 1), tok(Name, "x", 1), tok(Operator, "+", 1),
				tok(Number, "1.5", 1), tok(VarEnd, "", 1), tok(Text, "b", 1), tok(EOF, "", 1),
			},
		},
		{
			name:   "range is not a float",
			source: "{{ 1..3 }}",
			want: []Token{
				tok(VarStart, "", 1), tok(Number, "1", 1), tok(Operator, "..", 1), tok(Number, "3", 1),
				tok(VarEnd, "", 1), tok(EOF, "", 1),
			},
		},
		{
			name:   "longest operator wins",
			source: "{{ a ** b // c }}",
			want: []Token{
				tok(VarStart, "", 1), tok(Name, "a", 1), tok(Operator, "**", 1), tok(Name, "b", 1),
				tok(Operator, "//", 1), tok(Name, "c", 1), tok(VarEnd, "", 1), tok(EOF, "", 1),
			},
		},
		{
			name:   "word operators need boundaries",
			source: "{{ items not  in index is not isset }}",
			want: []Token{
				tok(VarStart, "", 1), tok(Name, "items", 1), tok(Operator, "not in", 1), tok(Name, "index", 1),
				tok(Operator, "is not", 1), tok(Name, "isset", 1), tok(VarEnd, "", 1), tok(EOF, "", 1),
			},
		},
		{
			name:   "operator names after a dot are names",
			source: "{{ a.in }}",
			want: []Token{
				tok(VarStart, "", 1), tok(Name, "a", 1), tok(Punctuation, ".", 1), tok(Name, "in", 1),
				tok(VarEnd, "", 1), tok(EOF, "", 1),
			},
		},
		{
			name:   "block with line tracking",
			source: "{% if\n  x %}\nyes{% endif %}",
			want: []Token{
				tok(BlockStart, "", 1), tok(Name, "if", 1), tok(Name, "x", 2), tok(BlockEnd, "", 2),
				tok(Text, "yes", 3), tok(BlockStart, "", 3), tok(Name, "endif", 3), tok(BlockEnd, "", 3),
				tok(EOF, "", 3),
			},
		},
		{
			name:   "whitespace control and comments",
			source: "a  {#- c -#}  b {%- x -%}\n c",
			want: []Token{
				tok(Text, "a", 1), tok(Text, "b", 1), tok(BlockStart, "", 1), tok(Name, "x", 1),
				tok(BlockEnd, "", 1), tok(Text, "c", 2), tok(EOF, "", 2),
			},
		},
		{
			name:   "comment end eats one newline",
			source: "a{# c #}\n\nb",
			want:   []Token{tok(Text, "a", 1), tok(Text, "\nb", 2), tok(EOF, "", 3)},
		},
		{
			name:   "strings",
			source: `{{ 'it\'s' ~ "a\tb" }}`,
			want: []Token{
				tok(VarStart, "", 1), tok(String, "it's", 1), tok(Operator, "~", 1), tok(String, "a\tb", 1),
				tok(VarEnd, "", 1), tok(EOF, "", 1),
			},
		},
		{
			name:   "interpolation",
			source: `{{ "x#{ y }z" }}`,
			want: []Token{
				tok(VarStart, "", 1), tok(String, "x", 1), tok(InterpolationStart, "", 1), tok(Name, "y", 1),
				tok(InterpolationEnd, "", 1), tok(String, "z", 1), tok(VarEnd, "", 1), tok(EOF, "", 1),
			},
		},
		{
			name:   "hash in a print",
			source: "{{ {'a': 1} }}",
			want: []Token{
				tok(VarStart, "", 1), tok(Punctuation, "{", 1), tok(String, "a", 1), tok(Punctuation, ":", 1),
				tok(Number, "1", 1), tok(Punctuation, "}", 1), tok(VarEnd, "", 1), tok(EOF, "", 1),
			},
		},
		{
			name:   "verbatim",
			source: "{% verbatim %}{{ x }}{% endverbatim %}!",
			want:   []Token{tok(Text, "{{ x }}", 1), tok(Text, "!", 1), tok(EOF, "", 1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := Lex(tt.source, "test.twig", testOperators)
			if err != nil {
				t.Fatalf("Lex: %v", err)
			}
			if diff := cmp.Diff(tt.want, stream.Tokens()); diff != "" {
				t.Errorf("tokens mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenizeErrors(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{source: "{{ x", want: `Unclosed "variable" in "test.twig" at line 1.`},
		{source: "\n{% if", want: `Unclosed "block" in "test.twig" at line 2.`},
		{source: "{# x", want: `Unclosed comment in "test.twig" at line 1.`},
		{source: "{{ (x }}", want: `Unclosed "(" in "test.twig" at line 1.`},
		{source: "{{ x) }}", want: `Unexpected ")" in "test.twig" at line 1.`},
		{source: "{{ 'x }}", want: `Unclosed "'" in "test.twig" at line 1.`},
		{source: "{{ x $ }}", want: `Unexpected character "$" in "test.twig" at line 1.`},
		{source: "{% verbatim %}x", want: `Unexpected end of file: Unclosed "verbatim" block in "test.twig" at line 1.`},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			_, err := Lex(tt.source, "test.twig", testOperators)
			var se *twigerr.SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("want SyntaxError, got %v", err)
			}
			if err.Error() != tt.want {
				t.Errorf("got  %s\nwant %s", err, tt.want)
			}
		})
	}
}

func TestTokenStream(t *testing.T) {
	s := NewTokenStream([]Token{tok(Name, "a", 1), tok(Punctuation, ",", 1)}, "test.twig")
	if got := s.Look(1); !got.Test(Punctuation, ",") {
		t.Errorf("Look(1) = %v", got)
	}
	if _, ok := s.NextIf(Name, "b"); ok {
		t.Error("NextIf matched the wrong value")
	}
	if _, err := s.Expect(Name, "a"); err != nil {
		t.Fatal(err)
	}
	_, err := s.ExpectWith("Arguments must be separated by a comma", Name)
	want := `Arguments must be separated by a comma. Unexpected token "punctuation" of value "," ("name" expected) in "test.twig" at line 1.`
	if err == nil || err.Error() != want {
		t.Errorf("got  %v\nwant %s", err, want)
	}
	s.Next()
	s.Next()
	if !s.IsEOF() || s.Next().Kind != EOF {
		t.Error("the stream must stay on EOF")
	}
}
