package syntax

import (
	"slices"
	"strings"

	"github.com/neurodesk/twig/pkg/twigerr"
)

// The lexer scans template source and yields tokens for text, the three
// delimiter forms ({{ }}, {% %}, {# #}) and the expressions inside them.

const punctuation = "()[]{}?:.,|"

type state int

const (
	stateData state = iota
	stateBlock
	stateVar
	stateString
	stateInterpolation
)

type bracket struct {
	open string
	line int
}

// Lexer tokenizes template source. The operator list comes from the
// registered extensions; it is read only after construction.
type Lexer struct {
	operators []string
}

// NewLexer returns a Lexer recognizing the given operators.
func NewLexer(operators []string) *Lexer {
	ops := slices.Clone(operators)
	// "=" is assignment punctuation for set, lexed as an operator.
	if !slices.Contains(ops, "=") {
		ops = append(ops, "=")
	}
	slices.SortStableFunc(ops, func(a, b string) int { return len(b) - len(a) })
	return &Lexer{operators: ops}
}

// Tokenize lexes source into a TokenStream.
func (l *Lexer) Tokenize(source, filename string) (*TokenStream, error) {
	s := &scanner{
		lexer:    l,
		src:      strings.ReplaceAll(source, "\r\n", "\n"),
		line:     1,
		filename: filename,
		states:   []state{stateData},
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	s.tokens = append(s.tokens, Token{Kind: EOF, Line: s.line})
	return NewTokenStream(s.tokens, filename), nil
}

// Lex is a convenience wrapper around NewLexer(operators).Tokenize.
func Lex(source, filename string, operators []string) (*TokenStream, error) {
	return NewLexer(operators).Tokenize(source, filename)
}

type scanner struct {
	lexer    *Lexer
	src      string
	i        int
	line     int
	filename string
	tokens   []Token
	states   []state
	brackets []bracket
	// line of the delimiter that opened the current block or var
	openLine int
}

func (s *scanner) state() state { return s.states[len(s.states)-1] }

func (s *scanner) push(st state) { s.states = append(s.states, st) }

func (s *scanner) pop() { s.states = s.states[:len(s.states)-1] }

func (s *scanner) emit(kind Kind, value string, line int) {
	s.tokens = append(s.tokens, Token{Kind: kind, Value: value, Line: line})
}

func (s *scanner) errorf(line int, format string, args ...any) error {
	return twigerr.NewSyntaxError(s.filename, line, format, args...)
}

// advance moves the cursor n bytes forward, counting newlines.
func (s *scanner) advance(n int) {
	s.line += strings.Count(s.src[s.i:s.i+n], "\n")
	s.i += n
}

func (s *scanner) rest() string { return s.src[s.i:] }

func (s *scanner) skipSpace() {
	n := len(s.rest()) - len(strings.TrimLeft(s.rest(), " \t\n\r\v\x00"))
	s.advance(n)
}

func (s *scanner) run() error {
	for s.i < len(s.src) || s.state() != stateData {
		if s.i >= len(s.src) {
			return s.unclosed()
		}
		var err error
		switch s.state() {
		case stateData:
			err = s.lexData()
		case stateBlock:
			err = s.lexBlock()
		case stateVar:
			err = s.lexVar()
		case stateString:
			err = s.lexString()
		case stateInterpolation:
			err = s.lexInterpolation()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) unclosed() error {
	switch s.state() {
	case stateBlock:
		return s.errorf(s.openLine, `Unclosed "block".`)
	case stateVar:
		return s.errorf(s.openLine, `Unclosed "variable".`)
	}
	if n := len(s.brackets); n > 0 {
		b := s.brackets[n-1]
		return s.errorf(b.line, "Unclosed %q.", b.open)
	}
	return s.errorf(s.line, "Unexpected end of template.")
}

// nextDelimiter finds the next opening delimiter at or after the cursor.
func (s *scanner) nextDelimiter() (int, string) {
	best, which := -1, ""
	for _, d := range []string{"{{", "{%", "{#"} {
		if p := strings.Index(s.rest(), d); p >= 0 && (best < 0 || p < best) {
			best, which = p, d
		}
	}
	return best, which
}

func (s *scanner) lexData() error {
	pos, delim := s.nextDelimiter()
	if pos < 0 {
		s.emit(Text, s.rest(), s.line)
		s.advance(len(s.rest()))
		return nil
	}
	text := s.rest()[:pos]
	trim := strings.HasPrefix(s.rest()[pos+2:], "-")
	if trim {
		text = strings.TrimRight(text, " \t\n\r\v\x00")
	}
	if text != "" {
		s.emit(Text, text, s.line)
	}
	s.advance(pos)

	start := s.line
	switch delim {
	case "{#":
		end := strings.Index(s.rest(), "#}")
		if end < 0 {
			return s.errorf(start, "Unclosed comment.")
		}
		trimAfter := end > 0 && s.rest()[end-1] == '-'
		s.advance(end + 2)
		if trimAfter {
			s.skipSpace()
		} else if strings.HasPrefix(s.rest(), "\n") {
			s.advance(1)
		}
	case "{%":
		if ok, err := s.lexVerbatim(); ok || err != nil {
			return err
		}
		s.advance(2)
		if trim {
			s.advance(1)
		}
		s.openLine = start
		s.emit(BlockStart, "", start)
		s.push(stateBlock)
	case "{{":
		s.advance(2)
		if trim {
			s.advance(1)
		}
		s.openLine = start
		s.emit(VarStart, "", start)
		s.push(stateVar)
	}
	return nil
}

// lexVerbatim handles {% verbatim %}...{% endverbatim %} (or raw/endraw),
// emitting the enclosed source as a single text token.
func (s *scanner) lexVerbatim() (bool, error) {
	tag, after, ok := matchTag(s.rest(), "verbatim", "raw")
	if !ok {
		return false, nil
	}
	start := s.line
	s.advance(after)
	body := s.rest()
	for off := 0; ; {
		p := strings.Index(body[off:], "{%")
		if p < 0 {
			return true, s.errorf(start, "Unexpected end of file: Unclosed %q block.", tag)
		}
		p += off
		if _, n, ok := matchTag(body[p:], "end"+tag); ok {
			text := body[:p]
			if strings.HasPrefix(body[p+2:], "-") {
				text = strings.TrimRight(text, " \t\n\r\v\x00")
			}
			if text != "" {
				s.emit(Text, text, s.line)
			}
			s.advance(p + n)
			return true, nil
		}
		off = p + 2
	}
}

// matchTag matches "{%-? name -?%}" at the start of src and returns the tag
// name and the number of bytes consumed.
func matchTag(src string, names ...string) (string, int, bool) {
	if !strings.HasPrefix(src, "{%") {
		return "", 0, false
	}
	i := 2
	if strings.HasPrefix(src[i:], "-") {
		i++
	}
	i += len(src[i:]) - len(strings.TrimLeft(src[i:], " \t\n\r"))
	for _, name := range names {
		if !strings.HasPrefix(src[i:], name) {
			continue
		}
		j := i + len(name)
		j += len(src[j:]) - len(strings.TrimLeft(src[j:], " \t\n\r"))
		switch {
		case strings.HasPrefix(src[j:], "-%}"):
			j += 3
			j += len(src[j:]) - len(strings.TrimLeft(src[j:], " \t\n\r\v\x00"))
			return name, j, true
		case strings.HasPrefix(src[j:], "%}"):
			j += 2
			if strings.HasPrefix(src[j:], "\n") {
				j++
			}
			return name, j, true
		}
	}
	return "", 0, false
}

func (s *scanner) lexBlock() error {
	s.skipSpace()
	if len(s.brackets) == 0 {
		rest := s.rest()
		switch {
		case strings.HasPrefix(rest, "-%}"):
			s.emit(BlockEnd, "", s.line)
			s.advance(3)
			s.skipSpace()
			s.pop()
			return nil
		case strings.HasPrefix(rest, "%}"):
			s.emit(BlockEnd, "", s.line)
			s.advance(2)
			if strings.HasPrefix(s.rest(), "\n") {
				s.advance(1)
			}
			s.pop()
			return nil
		}
	}
	return s.lexExpression()
}

func (s *scanner) lexVar() error {
	s.skipSpace()
	if len(s.brackets) == 0 {
		rest := s.rest()
		switch {
		case strings.HasPrefix(rest, "-}}"):
			s.emit(VarEnd, "", s.line)
			s.advance(3)
			s.skipSpace()
			s.pop()
			return nil
		case strings.HasPrefix(rest, "}}"):
			s.emit(VarEnd, "", s.line)
			s.advance(2)
			s.pop()
			return nil
		}
	}
	return s.lexExpression()
}

func (s *scanner) lexExpression() error {
	s.skipSpace()
	rest := s.rest()
	if rest == "" {
		return nil
	}
	line := s.line

	if op, n := s.matchOperator(); n > 0 {
		s.emit(Operator, op, line)
		s.advance(n)
		return nil
	}
	c := rest[0]
	switch {
	case isNameStart(c):
		n := 1
		for n < len(rest) && isNameChar(rest[n]) {
			n++
		}
		s.emit(Name, rest[:n], line)
		s.advance(n)
	case isDigit(c):
		n := 1
		for n < len(rest) && isDigit(rest[n]) {
			n++
		}
		if n+1 < len(rest) && rest[n] == '.' && isDigit(rest[n+1]) {
			n++
			for n < len(rest) && isDigit(rest[n]) {
				n++
			}
		}
		s.emit(Number, rest[:n], line)
		s.advance(n)
	case strings.IndexByte(punctuation, c) >= 0:
		switch c {
		case '(', '[', '{':
			s.brackets = append(s.brackets, bracket{open: string(c), line: line})
		case ')', ']', '}':
			if len(s.brackets) == 0 {
				return s.errorf(line, "Unexpected %q.", string(c))
			}
			top := s.brackets[len(s.brackets)-1]
			if closing(top.open) != c {
				return s.errorf(top.line, "Unclosed %q.", top.open)
			}
			s.brackets = s.brackets[:len(s.brackets)-1]
		}
		s.emit(Punctuation, string(c), line)
		s.advance(1)
	case c == '\'':
		body, n, ok := scanQuoted(rest, '\'', false)
		if !ok {
			return s.errorf(line, "Unclosed %q.", "'")
		}
		s.emit(String, unescape(body), line)
		s.advance(n)
	case c == '"':
		body, n, ok := scanQuoted(rest, '"', true)
		if ok {
			s.emit(String, unescape(body), line)
			s.advance(n)
			return nil
		}
		if !strings.Contains(rest, "#{") {
			return s.errorf(line, "Unclosed %q.", `"`)
		}
		s.brackets = append(s.brackets, bracket{open: `"`, line: line})
		s.advance(1)
		s.push(stateString)
	default:
		return s.errorf(line, "Unexpected character %q.", string(c))
	}
	return nil
}

// lexString scans the inside of a double quoted string that contains at
// least one interpolation.
func (s *scanner) lexString() error {
	rest := s.rest()
	line := s.line
	switch {
	case strings.HasPrefix(rest, "#{"):
		s.brackets = append(s.brackets, bracket{open: "#{", line: line})
		s.emit(InterpolationStart, "", line)
		s.advance(2)
		s.push(stateInterpolation)
		return nil
	case strings.HasPrefix(rest, `"`):
		s.brackets = s.brackets[:len(s.brackets)-1]
		s.advance(1)
		s.pop()
		return nil
	}
	n := 0
	for n < len(rest) {
		if rest[n] == '\\' && n+1 < len(rest) {
			n += 2
			continue
		}
		if rest[n] == '"' || strings.HasPrefix(rest[n:], "#{") {
			break
		}
		n++
	}
	s.emit(String, unescape(rest[:n]), line)
	s.advance(n)
	return nil
}

func (s *scanner) lexInterpolation() error {
	s.skipSpace()
	top := s.brackets[len(s.brackets)-1]
	if top.open == "#{" && strings.HasPrefix(s.rest(), "}") {
		s.brackets = s.brackets[:len(s.brackets)-1]
		s.emit(InterpolationEnd, "", s.line)
		s.advance(1)
		s.pop()
		return nil
	}
	return s.lexExpression()
}

// matchOperator returns the longest registered operator at the cursor. Word
// operators need a boundary on both sides; inner spaces match any run of
// whitespace.
func (s *scanner) matchOperator() (string, int) {
	rest := s.rest()
	var prev byte
	if s.i > 0 {
		prev = s.src[s.i-1]
	}
	for _, op := range s.lexer.operators {
		if isAlpha(op[0]) && (prev == '.' || prev == '|') {
			continue
		}
		n, ok := matchWords(rest, op)
		if !ok {
			continue
		}
		if isAlpha(op[len(op)-1]) {
			if n < len(rest) && !strings.ContainsRune(" \t\n\r\v()[{", rune(rest[n])) {
				continue
			}
		}
		return op, n
	}
	return "", 0
}

func matchWords(src, op string) (int, bool) {
	words := strings.Fields(op)
	n := 0
	for i, w := range words {
		if i > 0 {
			ws := len(src[n:]) - len(strings.TrimLeft(src[n:], " \t\n\r\v"))
			if ws == 0 {
				return 0, false
			}
			n += ws
		}
		if !strings.HasPrefix(src[n:], w) {
			return 0, false
		}
		n += len(w)
	}
	return n, true
}

// scanQuoted scans a quoted string starting at src[0]. With stopOnInterp
// set, a "#{" inside the string aborts the scan.
func scanQuoted(src string, quote byte, stopOnInterp bool) (string, int, bool) {
	for n := 1; n < len(src); n++ {
		switch {
		case src[n] == '\\':
			n++
		case src[n] == quote:
			return src[1:n], n + 1, true
		case stopOnInterp && strings.HasPrefix(src[n:], "#{"):
			return "", 0, false
		}
	}
	return "", 0, false
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'v':
			b.WriteByte('\v')
		case 'f':
			b.WriteByte('\f')
		case '0':
			b.WriteByte(0)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func closing(open string) byte {
	switch open {
	case "(":
		return ')'
	case "[":
		return ']'
	case "{":
		return '}'
	}
	return 0
}

func isAlpha(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isNameStart(c byte) bool { return isAlpha(c) || c == '_' || c >= 0x7f }

func isNameChar(c byte) bool { return isNameStart(c) || isDigit(c) }
