// Package compiler lowers a template syntax tree into Starlark source. The
// generated unit is loaded by the runtime package.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/neurodesk/twig/pkg/ast"
	"github.com/neurodesk/twig/pkg/twigerr"
	"go.starlark.net/syntax"
)

const indentUnit = "    "

// Emitter is an indentation aware source buffer. One Emitter serves one
// compilation; it is not safe for concurrent use. The first error raised
// while compiling sticks and stops further output.
type Emitter struct {
	buf      strings.Builder
	indent   int
	stmts    int
	vars     int
	lastLine int
	filename string
	err      error
}

// NewEmitter returns an empty Emitter for the named template.
func NewEmitter(filename string) *Emitter {
	return &Emitter{filename: filename}
}

// Write starts a new statement: it writes the indentation, then each
// string verbatim.
func (e *Emitter) Write(strs ...string) *Emitter {
	if e.err != nil {
		return e
	}
	e.stmts++
	e.buf.WriteString(strings.Repeat(indentUnit, e.indent))
	for _, s := range strs {
		e.buf.WriteString(s)
	}
	return e
}

// WriteLine writes one indented line.
func (e *Emitter) WriteLine(s string) *Emitter {
	return e.Write(s, "\n")
}

// WriteRaw appends s without indentation or line break.
func (e *Emitter) WriteRaw(s string) *Emitter {
	if e.err == nil {
		e.buf.WriteString(s)
	}
	return e
}

// Indent increases the depth of the following Write calls.
func (e *Emitter) Indent() *Emitter {
	e.indent++
	return e
}

// Outdent decreases the depth of the following Write calls.
func (e *Emitter) Outdent() *Emitter {
	if e.indent == 0 {
		e.fail(fmt.Errorf("unable to outdent: the indentation would become negative"))
		return e
	}
	e.indent--
	return e
}

// Depth returns the current indentation depth.
func (e *Emitter) Depth() int { return e.indent }

// SubCompile compiles a child node into the buffer.
func (e *Emitter) SubCompile(n *ast.Node) *Emitter {
	if e.err == nil {
		compile(e, n)
	}
	return e
}

// String appends s as a quoted Starlark string literal.
func (e *Emitter) String(s string) *Emitter {
	return e.WriteRaw(syntax.Quote(s, false))
}

// Repr appends a Starlark literal for a constant value.
func (e *Emitter) Repr(v any) *Emitter {
	switch v := v.(type) {
	case nil:
		return e.WriteRaw("None")
	case bool:
		if v {
			return e.WriteRaw("True")
		}
		return e.WriteRaw("False")
	case int:
		return e.WriteRaw(strconv.Itoa(v))
	case int64:
		return e.WriteRaw(strconv.FormatInt(v, 10))
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return e.WriteRaw(s)
	case string:
		return e.String(v)
	}
	e.fail(fmt.Errorf("cannot represent constant of type %T", v))
	return e
}

// AddDebugInfo writes a "# line N" marker when n starts a new source line.
func (e *Emitter) AddDebugInfo(n *ast.Node) *Emitter {
	if e.err != nil || n.Line == e.lastLine {
		return e
	}
	e.lastLine = n.Line
	e.buf.WriteString(strings.Repeat(indentUnit, e.indent))
	fmt.Fprintf(&e.buf, "# line %d\n", n.Line)
	return e
}

// VarName returns a fresh local variable name.
func (e *Emitter) VarName(prefix string) string {
	e.vars++
	return fmt.Sprintf("_%s_%d", prefix, e.vars)
}

// Suite runs body one level deeper and writes "pass" when it produced no
// statement.
func (e *Emitter) Suite(body func()) *Emitter {
	e.Indent()
	mark := e.stmts
	body()
	if e.stmts == mark {
		e.WriteLine("pass")
	}
	return e.Outdent()
}

// Source returns the generated text.
func (e *Emitter) Source() string { return e.buf.String() }

// Err returns the first error raised during compilation.
func (e *Emitter) Err() error { return e.err }

func (e *Emitter) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Emitter) syntaxError(n *ast.Node, format string, args ...any) {
	e.fail(twigerr.NewSyntaxError(e.filename, n.Line, format, args...))
}
